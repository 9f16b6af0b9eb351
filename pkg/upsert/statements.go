package upsert

import (
	"fmt"
	"strings"
)

// All identifiers below are quoted with QuoteIdent or pgx.Identifier; the
// call timestamp is always bound as $1.

const lockSQL = "SELECT pg_advisory_xact_lock($1)"

// utcSQL makes timestamptz to timestamp assignments in the transaction keep
// the UTC wall time of the injected value.
const utcSQL = "SET LOCAL TimeZone = 'UTC'"

func dropStageSQL(stage string) string {
	return "DROP TABLE IF EXISTS " + QuoteIdent(stage)
}

func createStageSQL(p plan) string {
	return fmt.Sprintf(
		"CREATE TEMP TABLE %s AS SELECT %s FROM %s WHERE false",
		QuoteIdent(p.stage), strings.Join(quoteIdents(p.projection()), ", "), p.dest.Sanitize(),
	)
}

func copyInSQL(p plan) string {
	with := "FORMAT binary"
	if p.framing.format == FormatCSV {
		with = "FORMAT csv, DELIMITER " + quoteLiteral(string(p.framing.delimiter))
	}
	return fmt.Sprintf(
		"COPY %s (%s) FROM STDIN WITH (%s)",
		QuoteIdent(p.stage), strings.Join(quoteIdents(p.columns), ", "), with,
	)
}

func nullKeyCountSQL(p plan) string {
	conds := make([]string, len(p.key))
	for i, k := range p.key {
		conds[i] = "t." + QuoteIdent(k) + " IS NULL"
	}
	return fmt.Sprintf(
		"SELECT count(*) FROM %s AS t WHERE %s",
		QuoteIdent(p.stage), strings.Join(conds, " OR "),
	)
}

// keyJoin renders "t.k1 = d.k1 AND t.k2 = d.k2".
func keyJoin(key []string) string {
	conds := make([]string, len(key))
	for i, k := range key {
		q := QuoteIdent(k)
		conds[i] = "t." + q + " = d." + q
	}
	return strings.Join(conds, " AND ")
}

// keyNotNull renders "<alias>.k1 IS NOT NULL AND ...".
func keyNotNull(alias string, key []string) string {
	conds := make([]string, len(key))
	for i, k := range key {
		conds[i] = alias + "." + QuoteIdent(k) + " IS NOT NULL"
	}
	return strings.Join(conds, " AND ")
}

// updateSQL sets every source column on matching destination rows. It
// reports whether the statement references the timestamp parameter.
func updateSQL(p plan) (string, bool) {
	sets := make([]string, 0, len(p.columns)+1)
	for _, c := range p.columns {
		q := QuoteIdent(c)
		sets = append(sets, q+" = t."+q)
	}
	if p.updatedAt != "" {
		sets = append(sets, QuoteIdent(p.updatedAt)+" = $1::timestamptz")
	}
	return fmt.Sprintf(
		"UPDATE %s AS d SET %s FROM %s AS t WHERE %s AND %s",
		p.dest.Sanitize(), strings.Join(sets, ", "), QuoteIdent(p.stage),
		keyJoin(p.key), keyNotNull("d", p.key),
	), p.updatedAt != ""
}

// insertSQL inserts every staged row whose key has no destination match.
func insertSQL(p plan) (string, bool) {
	cols := quoteIdents(p.columns)
	vals := make([]string, len(p.columns), len(p.columns)+2)
	for i, c := range cols {
		vals[i] = "t." + c
	}
	for _, ts := range []string{p.createdAt, p.updatedAt} {
		if ts != "" {
			cols = append(cols, QuoteIdent(ts))
			vals = append(vals, "$1::timestamptz")
		}
	}
	return fmt.Sprintf(
		"INSERT INTO %s (%s) SELECT %s FROM %s AS t WHERE NOT EXISTS (SELECT 1 FROM %s AS d WHERE %s) AND %s",
		p.dest.Sanitize(), strings.Join(cols, ", "), strings.Join(vals, ", "), QuoteIdent(p.stage),
		p.dest.Sanitize(), keyJoin(p.key), keyNotNull("t", p.key),
	), p.injected()
}
