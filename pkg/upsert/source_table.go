package upsert

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
)

// tableSource drains another table with COPY ... TO STDOUT. It cannot be
// pulled record by record.
type tableSource struct {
	conn   Conn
	schema writeAdapter
	opts   Options

	selected []string
}

func newTableSource(conn Conn, schema writeAdapter, opts Options) *tableSource {
	return &tableSource{conn: conn, schema: schema, opts: opts}
}

func (s *tableSource) continuousWrite() bool { return false }

func (s *tableSource) framing() framing {
	return framing{format: FormatCSV, delimiter: ','}
}

func (s *tableSource) columns(ctx context.Context) ([]string, error) {
	if s.selected == nil {
		cols := s.opts.Columns
		if len(cols) == 0 {
			var err error
			if cols, err = s.schema.columnNames(ctx); err != nil {
				return nil, fmt.Errorf("source columns: %w", err)
			}
		}
		if len(cols) == 0 {
			return nil, ErrNoColumns
		}
		s.selected = cols
	}
	return applyMap(s.selected, s.opts.Map), nil
}

func (s *tableSource) next() ([]byte, error) {
	return nil, errors.New("upsert: table sources are drained, not pulled")
}

func (s *tableSource) exportSQL() string {
	return fmt.Sprintf(
		"COPY (SELECT %s FROM %s) TO STDOUT WITH (FORMAT csv)",
		strings.Join(quoteIdents(s.selected), ", "), s.schema.table().Sanitize(),
	)
}

func (s *tableSource) drain(ctx context.Context, w io.Writer) error {
	if _, err := s.columns(ctx); err != nil {
		return err
	}
	if _, err := s.conn.CopyTo(ctx, w, s.exportSQL()); err != nil {
		return fmt.Errorf("export %s: %w", s.schema.table().Sanitize(), pgErrDetail(err))
	}
	return nil
}
