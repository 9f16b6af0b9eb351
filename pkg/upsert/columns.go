package upsert

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"slices"
	"strings"

	"github.com/jackc/pgx/v5"
)

var utf8BOM = []byte("\xef\xbb\xbf")

// parseHeader splits a header line into column names using delim. Quoted
// names are honoured; surrounding whitespace and trailing empty fields are
// dropped.
func parseHeader(line []byte, delim byte) ([]string, error) {
	line = bytes.TrimPrefix(line, utf8BOM)
	if len(bytes.TrimSpace(line)) == 0 {
		return nil, nil
	}

	r := csv.NewReader(bytes.NewReader(line))
	r.Comma = rune(delim)
	r.FieldsPerRecord = -1
	r.LazyQuotes = true
	fields, err := r.Read()
	if err != nil {
		return nil, fmt.Errorf("parse header: %w", err)
	}
	for i, f := range fields {
		fields[i] = strings.TrimSpace(f)
	}
	// A trailing delimiter does not name a column.
	for len(fields) > 0 && fields[len(fields)-1] == "" {
		fields = fields[:len(fields)-1]
	}
	return fields, nil
}

// applyMap renames cols through m. Names without an entry pass through.
func applyMap(cols []string, m map[string]string) []string {
	out := make([]string, len(cols))
	for i, c := range cols {
		if to, ok := m[c]; ok && to != "" {
			out[i] = to
			continue
		}
		out[i] = c
	}
	return out
}

// plan is everything the engine derives before touching the database.
type plan struct {
	dest  pgx.Identifier
	stage string

	// columns is the resolved Column Set in COPY order.
	columns []string
	// key is the uniqueness key; always a subset of columns.
	key []string

	// createdAt / updatedAt are the timestamp columns to inject, or "".
	createdAt string
	updatedAt string

	framing    framing
	updateOnly bool
}

// framing is the COPY encoding of staged records.
type framing struct {
	format    Format
	delimiter byte
}

// projection is the staging table shape: columns, then any key columns not
// already listed, then the injected timestamp columns.
func (p plan) projection() []string {
	out := slices.Clone(p.columns)
	for _, k := range p.key {
		if !slices.Contains(out, k) {
			out = append(out, k)
		}
	}
	for _, ts := range []string{p.createdAt, p.updatedAt} {
		if ts != "" && !slices.Contains(out, ts) {
			out = append(out, ts)
		}
	}
	return out
}

// injected reports whether any timestamp column is injected.
func (p plan) injected() bool { return p.createdAt != "" || p.updatedAt != "" }

// checkColumns validates the Column Set against itself and the destination.
func checkColumns(cols, destCols []string) error {
	if len(cols) == 0 {
		return ErrNoColumns
	}
	seen := make(map[string]struct{}, len(cols))
	for _, c := range cols {
		if c == "" {
			return fmt.Errorf("%w: empty column name in %v", ErrInvalidOptions, cols)
		}
		if _, dup := seen[c]; dup {
			return fmt.Errorf("%w: column %q listed more than once", ErrInvalidOptions, c)
		}
		seen[c] = struct{}{}
		if !slices.Contains(destCols, c) {
			return fmt.Errorf("%w: %q", ErrUnknownColumn, c)
		}
	}
	return nil
}

// checkKey requires every key column to be part of the Column Set.
func checkKey(key, cols []string) error {
	if len(key) == 0 {
		return ErrNoUniqueKey
	}
	for _, k := range key {
		if !slices.Contains(cols, k) {
			return fmt.Errorf("%w: %q (columns: %s)", ErrMissingKeyColumn, k, strings.Join(cols, ", "))
		}
	}
	return nil
}

// injectedColumn returns name if the destination has it and the source does
// not supply it.
func injectedColumn(name string, cols, destCols []string) string {
	if name == "" || slices.Contains(cols, name) || !slices.Contains(destCols, name) {
		return ""
	}
	return name
}
