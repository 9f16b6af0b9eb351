package upsert

import (
	"context"
	"io"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// Conn is the subset of a Postgres session the engine needs: statement
// execution, catalog queries, and the COPY streaming protocol in both
// directions. All calls on one Conn must reach the same backend session,
// since the staging table is session-scoped.
//
// NewConn adapts a *pgx.Conn; tests substitute fakes.
type Conn interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	// CopyFrom runs a COPY ... FROM STDIN statement fed by r.
	CopyFrom(ctx context.Context, r io.Reader, sql string) (pgconn.CommandTag, error)
	// CopyTo runs a COPY ... TO STDOUT statement written to w.
	CopyTo(ctx context.Context, w io.Writer, sql string) (pgconn.CommandTag, error)
}

// pgxConn adapts *pgx.Conn to Conn. The raw COPY calls go through the
// underlying pgconn so arbitrary framing (CSV, binary) can be streamed as-is.
type pgxConn struct {
	conn *pgx.Conn
}

// NewConn wraps c. For pooled connections pass (*pgxpool.Conn).Conn() and
// keep the pool connection acquired for as long as the Conn is in use.
func NewConn(c *pgx.Conn) Conn { return &pgxConn{conn: c} }

func (p *pgxConn) Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	return p.conn.Exec(ctx, sql, args...)
}

func (p *pgxConn) Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error) {
	return p.conn.Query(ctx, sql, args...)
}

func (p *pgxConn) CopyFrom(ctx context.Context, r io.Reader, sql string) (pgconn.CommandTag, error) {
	return p.conn.PgConn().CopyFrom(ctx, r, sql)
}

func (p *pgxConn) CopyTo(ctx context.Context, w io.Writer, sql string) (pgconn.CommandTag, error) {
	return p.conn.PgConn().CopyTo(ctx, w, sql)
}

// queryStrings runs a single-column query and collects the results.
func queryStrings(ctx context.Context, c Conn, sql string, args ...any) ([]string, error) {
	rows, err := c.Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var s string
		if err := rows.Scan(&s); err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// queryInt64 runs a query returning a single integer.
func queryInt64(ctx context.Context, c Conn, sql string, args ...any) (int64, error) {
	rows, err := c.Query(ctx, sql, args...)
	if err != nil {
		return 0, err
	}
	defer rows.Close()

	var n int64
	if rows.Next() {
		if err := rows.Scan(&n); err != nil {
			return 0, err
		}
	}
	return n, rows.Err()
}
