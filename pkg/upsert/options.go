package upsert

import (
	"fmt"
	"strings"
)

// Format selects the COPY framing of a stream source.
type Format int

const (
	// FormatCSV is delimited text (COPY ... WITH (FORMAT csv)).
	FormatCSV Format = iota
	// FormatBinary is Postgres' binary COPY framing. It never has a header.
	FormatBinary
)

func (f Format) String() string {
	switch f {
	case FormatCSV:
		return "csv"
	case FormatBinary:
		return "binary"
	default:
		return fmt.Sprintf("Format(%d)", int(f))
	}
}

// ParseFormat maps "csv" (or "") and "binary" to a Format.
func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "csv":
		return FormatCSV, nil
	case "binary":
		return FormatBinary, nil
	default:
		return 0, fmt.Errorf("%w: unknown format %q", ErrInvalidOptions, s)
	}
}

// Default option values.
const (
	DefaultDelimiter       = ","
	DefaultCreatedAtColumn = "created_at"
	DefaultUpdatedAtColumn = "updated_at"
)

// Options control a single Write. The zero value is usable: comma-delimited
// CSV with a header row, keyed on the destination primary key, inserting
// unmatched rows.
type Options struct {
	// Delimiter is the single-byte field separator for CSV sources.
	Delimiter string

	// Format is the framing of stream sources. Table sources always
	// export CSV.
	Format Format

	// NoHeader disables header handling for stream sources. When false, the
	// first line is consumed and, if Columns is empty, supplies the column
	// list.
	NoHeader bool

	// Columns is an explicit, ordered column list. For stream sources it
	// overrides the header; for table sources it selects which source
	// columns are exported.
	Columns []string

	// Map renames source field names to destination column names. Names
	// without an entry pass through unchanged.
	Map map[string]string

	// UniqueKey lists the destination columns identifying a matching row.
	// Defaults to the destination primary key.
	UniqueKey []string

	// UpdateOnly skips the insert pass; unmatched rows are dropped.
	UpdateOnly bool

	// CreatedAtColumn and UpdatedAtColumn name the timestamp columns that
	// are filled with the call time when the destination has them and the
	// source does not supply them. Set to "-" to disable injection.
	CreatedAtColumn string
	UpdatedAtColumn string
}

func (o Options) withDefaults() Options {
	if o.Delimiter == "" {
		o.Delimiter = DefaultDelimiter
	}
	if o.CreatedAtColumn == "" {
		o.CreatedAtColumn = DefaultCreatedAtColumn
	}
	if o.UpdatedAtColumn == "" {
		o.UpdatedAtColumn = DefaultUpdatedAtColumn
	}
	return o
}

func (o Options) validate() error {
	if len(o.Delimiter) != 1 {
		return fmt.Errorf("%w: delimiter must be a single one-byte character, got %q", ErrInvalidOptions, o.Delimiter)
	}
	switch o.Delimiter[0] {
	case '\r', '\n', '"':
		return fmt.Errorf("%w: delimiter %q cannot be used with CSV", ErrInvalidOptions, o.Delimiter)
	}
	if o.Format != FormatCSV && o.Format != FormatBinary {
		return fmt.Errorf("%w: unknown format %v", ErrInvalidOptions, o.Format)
	}
	for i, k := range o.UniqueKey {
		if strings.TrimSpace(k) == "" {
			return fmt.Errorf("%w: unique key column %d is empty", ErrInvalidOptions, i)
		}
	}
	return nil
}

// timestampColumn returns name unless injection was disabled with "-".
func timestampColumn(name string) string {
	if name == "-" {
		return ""
	}
	return name
}
