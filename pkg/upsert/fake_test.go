package upsert

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"reflect"
	"strings"
	"sync"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

type execCall struct {
	sql  string
	args []any
}

// fakeConn records every statement and answers from canned handlers.
type fakeConn struct {
	mu sync.Mutex

	execs   []execCall
	queries []execCall

	// onExec answers Exec; nil means "OK".
	onExec func(sql string, args []any) (pgconn.CommandTag, error)
	// onQuery answers Query with single-column rows.
	onQuery func(sql string, args []any) ([]any, error)

	copySQL  string
	copied   bytes.Buffer
	copyErr  error
	copyRows int64 // when < 0, count lines

	exportSQL  string
	exportData string
}

func newFakeConn() *fakeConn { return &fakeConn{copyRows: -1} }

func (f *fakeConn) Exec(_ context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	f.mu.Lock()
	f.execs = append(f.execs, execCall{sql: sql, args: args})
	f.mu.Unlock()
	if f.onExec != nil {
		return f.onExec(sql, args)
	}
	return pgconn.NewCommandTag("OK"), nil
}

func (f *fakeConn) Query(_ context.Context, sql string, args ...any) (pgx.Rows, error) {
	f.mu.Lock()
	f.queries = append(f.queries, execCall{sql: sql, args: args})
	f.mu.Unlock()
	var vals []any
	if f.onQuery != nil {
		var err error
		if vals, err = f.onQuery(sql, args); err != nil {
			return nil, err
		}
	}
	return &fakeRows{vals: vals, idx: -1}, nil
}

func (f *fakeConn) CopyFrom(_ context.Context, r io.Reader, sql string) (pgconn.CommandTag, error) {
	f.copySQL = sql
	if _, err := io.Copy(&f.copied, r); err != nil {
		return pgconn.CommandTag{}, err
	}
	if f.copyErr != nil {
		return pgconn.CommandTag{}, f.copyErr
	}
	n := f.copyRows
	if n < 0 {
		n = int64(strings.Count(f.copied.String(), "\n"))
	}
	return pgconn.NewCommandTag(fmt.Sprintf("COPY %d", n)), nil
}

func (f *fakeConn) CopyTo(_ context.Context, w io.Writer, sql string) (pgconn.CommandTag, error) {
	f.exportSQL = sql
	if _, err := io.WriteString(w, f.exportData); err != nil {
		return pgconn.CommandTag{}, err
	}
	return pgconn.NewCommandTag(fmt.Sprintf("COPY %d", strings.Count(f.exportData, "\n"))), nil
}

// statements returns the executed SQL, prefixes only, for order checks.
func (f *fakeConn) statements() []string {
	out := make([]string, len(f.execs))
	for i, e := range f.execs {
		out[i] = strings.SplitN(e.sql, " ", 2)[0]
	}
	return out
}

func (f *fakeConn) execFor(t *testing.T, prefix string) execCall {
	t.Helper()
	for _, e := range f.execs {
		if strings.HasPrefix(e.sql, prefix) {
			return e
		}
	}
	t.Fatalf("no statement starting with %q in %v", prefix, f.statements())
	return execCall{}
}

func wantStatements(t *testing.T, f *fakeConn, want ...string) {
	t.Helper()
	if got := f.statements(); !reflect.DeepEqual(got, want) {
		t.Fatalf("statements = %v, want %v", got, want)
	}
}

// fakeRows yields one single-column row per value.
type fakeRows struct {
	vals []any
	idx  int
}

func (r *fakeRows) Close()                                       {}
func (r *fakeRows) Err() error                                   { return nil }
func (r *fakeRows) CommandTag() pgconn.CommandTag                { return pgconn.NewCommandTag("SELECT") }
func (r *fakeRows) FieldDescriptions() []pgconn.FieldDescription { return nil }
func (r *fakeRows) RawValues() [][]byte                          { return nil }
func (r *fakeRows) Conn() *pgx.Conn                              { return nil }

func (r *fakeRows) Next() bool {
	r.idx++
	return r.idx < len(r.vals)
}

func (r *fakeRows) Values() ([]any, error) { return []any{r.vals[r.idx]}, nil }

func (r *fakeRows) Scan(dest ...any) error {
	v := r.vals[r.idx]
	switch d := dest[0].(type) {
	case *string:
		s, ok := v.(string)
		if !ok {
			return fmt.Errorf("scan %T into *string", v)
		}
		*d = s
	case *int64:
		n, ok := v.(int64)
		if !ok {
			return fmt.Errorf("scan %T into *int64", v)
		}
		*d = n
	default:
		return fmt.Errorf("unsupported scan target %T", dest[0])
	}
	return nil
}

// stableStageNames pins the random staging suffix for the test.
func stableStageNames(t *testing.T) {
	t.Helper()
	orig := stageSuffix
	stageSuffix = func() string { return "0123456789ab" }
	t.Cleanup(func() { stageSuffix = orig })
}
