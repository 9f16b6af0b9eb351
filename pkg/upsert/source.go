package upsert

import (
	"context"
	"fmt"
	"io"
)

type sourceKind int

const (
	sourceReader sourceKind = iota + 1
	sourceTable
	sourceModel
)

// Source describes where rows come from. Build one with ReaderSource,
// TableSource or ModelSource; the zero value is invalid.
type Source struct {
	kind  sourceKind
	r     io.Reader
	conn  Conn
	table string
	model Model
}

// ReaderSource streams delimited text or binary COPY data from r. Records
// are pulled one at a time, so memory use is bounded by the longest record.
func ReaderSource(r io.Reader) Source {
	return Source{kind: sourceReader, r: r}
}

// TableSource exports rows from another table reachable through conn. The
// whole table is drained in a single COPY ... TO STDOUT; Options.Columns, if
// set, selects which source columns are exported.
//
// conn must be a different session from the Writer's own connection, since
// both sides of the COPY run concurrently.
func TableSource(conn Conn, table string) Source {
	return Source{kind: sourceTable, conn: conn, table: table}
}

// ModelSource is like TableSource but takes the table name and column list
// from m instead of the catalog.
func ModelSource(conn Conn, m Model) Source {
	return Source{kind: sourceModel, conn: conn, model: m}
}

func (s Source) String() string {
	switch s.kind {
	case sourceReader:
		return "reader"
	case sourceTable:
		return "table " + s.table
	case sourceModel:
		if s.model != nil {
			return "model " + s.model.TableName()
		}
		return "model"
	default:
		return "invalid source"
	}
}

// readAdapter normalizes a Source into a Column Set and a record feed.
type readAdapter interface {
	// columns returns the resolved Column Set with the field mapping applied.
	columns(ctx context.Context) ([]string, error)
	// continuousWrite is true when records are pulled one at a time with
	// next, and false when the adapter drains everything itself with drain.
	continuousWrite() bool
	// next returns the next record, or io.EOF.
	next() ([]byte, error)
	// drain writes every record to w in one blocking call.
	drain(ctx context.Context, w io.Writer) error
	// framing is the COPY encoding of the produced records.
	framing() framing
}

func (s Source) adapter(opts Options) (readAdapter, error) {
	switch s.kind {
	case sourceReader:
		if s.r == nil {
			return nil, fmt.Errorf("%w: reader source has a nil reader", ErrInvalidOptions)
		}
		return newStreamSource(s.r, opts), nil
	case sourceTable:
		if s.conn == nil || s.table == "" {
			return nil, fmt.Errorf("%w: table source needs a connection and a table name", ErrInvalidOptions)
		}
		return newTableSource(s.conn, newCatalogTable(s.conn, s.table), opts), nil
	case sourceModel:
		if s.conn == nil || s.model == nil {
			return nil, fmt.Errorf("%w: model source needs a connection and a model", ErrInvalidOptions)
		}
		return newTableSource(s.conn, modelTable{m: s.model}, opts), nil
	default:
		return nil, fmt.Errorf("%w: no source given", ErrInvalidOptions)
	}
}
