package upsert

import (
	"context"
	"errors"
	"fmt"
	"io"

	"golang.org/x/sync/errgroup"
)

// recordReader presents a continuous adapter as an io.Reader so pgconn can
// stream it into COPY FROM STDIN one record at a time.
type recordReader struct {
	ctx     context.Context
	src     readAdapter
	pending []byte
	err     error
	records int64
}

func (r *recordReader) Read(p []byte) (int, error) {
	for len(r.pending) == 0 {
		if r.err != nil {
			return 0, r.err
		}
		if err := r.ctx.Err(); err != nil {
			r.err = err
			continue
		}
		rec, err := r.src.next()
		if err != nil {
			r.err = err
			continue
		}
		r.pending = rec
		r.records++
	}
	n := copy(p, r.pending)
	r.pending = r.pending[n:]
	return n, nil
}

// copyIntoStage loads every source record into the staging table and
// returns the row count reported by the server.
func copyIntoStage(ctx context.Context, conn Conn, src readAdapter, p plan) (int64, error) {
	sql := copyInSQL(p)

	if src.continuousWrite() {
		tag, err := conn.CopyFrom(ctx, &recordReader{ctx: ctx, src: src}, sql)
		if err != nil {
			return 0, pgErrDetail(err)
		}
		return tag.RowsAffected(), nil
	}

	// The source connection writes the export into the pipe while this
	// connection reads it into staging.
	pr, pw := io.Pipe()
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		err := src.drain(gctx, pw)
		_ = pw.CloseWithError(err)
		return err
	})

	var copied int64
	g.Go(func() error {
		tag, err := conn.CopyFrom(gctx, pr, sql)
		_ = pr.CloseWithError(errOrClosed(err))
		if err != nil {
			return pgErrDetail(err)
		}
		copied = tag.RowsAffected()
		return nil
	})

	if err := g.Wait(); err != nil {
		return 0, err
	}
	return copied, nil
}

var errCopyClosed = errors.New("copy into staging finished")

// errOrClosed keeps a drain that outlives the COPY from blocking forever.
func errOrClosed(err error) error {
	if err != nil {
		return fmt.Errorf("copy into staging: %w", err)
	}
	return errCopyClosed
}
