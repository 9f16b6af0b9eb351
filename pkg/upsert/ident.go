package upsert

import (
	"strings"

	"github.com/jackc/pgx/v5"
)

// maxIdentLen is Postgres' NAMEDATALEN-1.
const maxIdentLen = 63

// QuoteIdent quotes a single identifier segment, e.g. `select` => `"select"`
// and `weird"name` => `"weird""name"`.
func QuoteIdent(name string) string {
	return pgx.Identifier{name}.Sanitize()
}

// ParseIdentifier splits a possibly schema-qualified name into its segments.
// Unquoted segments are taken verbatim; double-quoted segments may contain
// dots and escaped quotes:
//
//	ParseIdentifier(`public.users`)      => {"public", "users"}
//	ParseIdentifier(`"my.schema"."t"`)   => {"my.schema", "t"}
//	ParseIdentifier(`users`)             => {"users"}
//
// Empty segments are dropped.
func ParseIdentifier(name string) pgx.Identifier {
	var (
		out     pgx.Identifier
		cur     strings.Builder
		inQuote bool
	)
	flush := func() {
		if cur.Len() > 0 {
			out = append(out, cur.String())
		}
		cur.Reset()
	}

	for i := 0; i < len(name); i++ {
		c := name[i]
		switch {
		case inQuote && c == '"':
			if i+1 < len(name) && name[i+1] == '"' {
				cur.WriteByte('"')
				i++
				continue
			}
			inQuote = false
		case inQuote:
			cur.WriteByte(c)
		case c == '"':
			inQuote = true
		case c == '.':
			flush()
		default:
			cur.WriteByte(c)
		}
	}
	flush()
	return out
}

// quoteIdents quotes every name in cols.
func quoteIdents(cols []string) []string {
	out := make([]string, len(cols))
	for i, c := range cols {
		out[i] = QuoteIdent(c)
	}
	return out
}

// quoteLiteral renders s as a standard SQL string literal.
func quoteLiteral(s string) string {
	return "'" + strings.ReplaceAll(s, "'", "''") + "'"
}

// truncateIdent trims s to at most n bytes without splitting a UTF-8 sequence.
func truncateIdent(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !isRuneStart(s[n]) {
		n--
	}
	return s[:n]
}

func isRuneStart(b byte) bool { return b&0xC0 != 0x80 }
