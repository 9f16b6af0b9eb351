package upsert

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
)

const (
	catalogColumnsSQL = `SELECT a.attname::text
FROM pg_attribute a
WHERE a.attrelid = $1::regclass
  AND a.attnum > 0
  AND NOT a.attisdropped
ORDER BY a.attnum`

	catalogPrimaryKeySQL = `SELECT a.attname::text
FROM pg_index i
JOIN pg_attribute a ON a.attrelid = i.indrelid AND a.attnum = ANY(i.indkey)
WHERE i.indrelid = $1::regclass
  AND i.indisprimary
ORDER BY array_position(i.indkey::int2[], a.attnum)`
)

// catalogTable resolves a bare table name through pg_catalog. Lookups are
// cached for the adapter's lifetime.
type catalogTable struct {
	conn  Conn
	ident pgx.Identifier

	cols  []string
	pk    []string
	pkSet bool
}

func newCatalogTable(conn Conn, name string) *catalogTable {
	return &catalogTable{conn: conn, ident: ParseIdentifier(name)}
}

func (t *catalogTable) table() pgx.Identifier { return t.ident }

func (t *catalogTable) columnNames(ctx context.Context) ([]string, error) {
	if t.cols != nil {
		return t.cols, nil
	}
	cols, err := queryStrings(ctx, t.conn, catalogColumnsSQL, t.ident.Sanitize())
	if err != nil {
		return nil, fmt.Errorf("columns of %s: %w", t.ident.Sanitize(), err)
	}
	t.cols = cols
	return cols, nil
}

func (t *catalogTable) primaryKey(ctx context.Context) ([]string, error) {
	if t.pkSet {
		return t.pk, nil
	}
	pk, err := queryStrings(ctx, t.conn, catalogPrimaryKeySQL, t.ident.Sanitize())
	if err != nil {
		return nil, fmt.Errorf("primary key of %s: %w", t.ident.Sanitize(), err)
	}
	t.pk, t.pkSet = pk, true
	return pk, nil
}
