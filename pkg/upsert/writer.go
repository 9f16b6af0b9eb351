package upsert

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/theSteveMitchell/postgres-upsert/internal/metrics"
)

// Writer upserts rows into Postgres tables through a single connection.
//
// A Writer is not safe for concurrent use: the staging table and the
// reconciliation transaction live on its one session. Run concurrent loads
// with one Writer per connection.
type Writer struct {
	conn Conn
	log  zerolog.Logger
	now  func() time.Time
	lock bool
	job  string
}

// WriterOption configures a Writer.
type WriterOption func(*Writer)

// WithLogger sets the logger used for phase and cleanup messages.
func WithLogger(l zerolog.Logger) WriterOption {
	return func(w *Writer) { w.log = l }
}

// WithClock overrides the source of the timestamp injected into
// created/updated columns.
func WithClock(now func() time.Time) WriterOption {
	return func(w *Writer) {
		if now != nil {
			w.now = now
		}
	}
}

// WithDestinationLock controls whether reconciliation takes a transaction
// scoped advisory lock keyed on the destination table. Enabled by default.
func WithDestinationLock(enabled bool) WriterOption {
	return func(w *Writer) { w.lock = enabled }
}

// WithJobName sets the job label used for metrics.
func WithJobName(job string) WriterOption {
	return func(w *Writer) { w.job = job }
}

// NewWriter returns a Writer bound to conn.
func NewWriter(conn Conn, opts ...WriterOption) *Writer {
	w := &Writer{
		conn: conn,
		log:  log.Logger,
		now:  time.Now,
		lock: true,
		job:  "upsert",
	}
	for _, o := range opts {
		o(w)
	}
	return w
}

// Write loads src into a staging table and reconciles it against dst:
// matching rows are updated, then unmatched rows are inserted unless
// opts.UpdateOnly is set. Rows whose key has a NULL component are counted
// as skipped and left out of both passes.
//
// Configuration errors are reported before any statement runs. If the
// reconciled row count does not account for every staged row the
// transaction is rolled back and the error wraps ErrKeyNotUnique. The
// staging table is dropped on every path once it has been created.
func (w *Writer) Write(ctx context.Context, dst Destination, src Source, opts Options) (res Result, err error) {
	started := time.Now()
	defer func() { metrics.RecordStep(w.job, "write", err, time.Since(started)) }()

	var (
		p  plan
		rd readAdapter
	)
	err = w.step("validate", func() error {
		var perr error
		p, rd, perr = w.prepare(ctx, dst, src, opts)
		return perr
	})
	if err != nil {
		return Result{}, err
	}

	l := w.log.With().
		Str("destination", p.dest.Sanitize()).
		Str("stage", p.stage).
		Logger()
	l.Debug().Strs("columns", p.columns).Strs("key", p.key).Msg("upsert planned")

	if err = w.step("stage", func() error { return w.createStage(ctx, p) }); err != nil {
		return Result{}, err
	}
	defer w.dropStage(ctx, l, p.stage)

	err = w.step("copy", func() error {
		n, cerr := copyIntoStage(ctx, w.conn, rd, p)
		res.Copied = n
		return cerr
	})
	if err != nil {
		return Result{}, fmt.Errorf("copy into staging: %w", err)
	}
	l.Debug().Int64("copied", res.Copied).Msg("staging loaded")

	res, err = w.reconcile(ctx, l, p, res)
	if err != nil {
		return res, err
	}

	metrics.RecordRow(w.job, "copied", res.Copied)
	metrics.RecordRow(w.job, "updated", res.Updated)
	metrics.RecordRow(w.job, "inserted", res.Inserted)
	metrics.RecordRow(w.job, "skipped", res.Skipped)

	l.Info().
		Int64("copied", res.Copied).
		Int64("updated", res.Updated).
		Int64("inserted", res.Inserted).
		Int64("skipped", res.Skipped).
		Msg("upsert complete")
	return res, nil
}

// prepare resolves adapters and the Column Set and validates everything
// that can be checked without DDL.
func (w *Writer) prepare(ctx context.Context, dst Destination, src Source, opts Options) (plan, readAdapter, error) {
	opts = opts.withDefaults()
	if err := opts.validate(); err != nil {
		return plan{}, nil, err
	}

	wa, err := dst.adapter(w.conn)
	if err != nil {
		return plan{}, nil, err
	}
	rd, err := src.adapter(opts)
	if err != nil {
		return plan{}, nil, err
	}

	cols, err := rd.columns(ctx)
	if err != nil {
		return plan{}, nil, err
	}
	if len(cols) == 0 {
		return plan{}, nil, ErrNoColumns
	}

	key := opts.UniqueKey
	if len(key) == 0 {
		if key, err = wa.primaryKey(ctx); err != nil {
			return plan{}, nil, err
		}
	}
	if err := checkKey(key, cols); err != nil {
		return plan{}, nil, err
	}

	destCols, err := wa.columnNames(ctx)
	if err != nil {
		return plan{}, nil, err
	}
	if err := checkColumns(cols, destCols); err != nil {
		return plan{}, nil, err
	}

	dest := wa.table()
	return plan{
		dest:       dest,
		stage:      stageName(dest),
		columns:    cols,
		key:        key,
		createdAt:  injectedColumn(timestampColumn(opts.CreatedAtColumn), cols, destCols),
		updatedAt:  injectedColumn(timestampColumn(opts.UpdatedAtColumn), cols, destCols),
		framing:    rd.framing(),
		updateOnly: opts.UpdateOnly,
	}, rd, nil
}

func (w *Writer) createStage(ctx context.Context, p plan) error {
	if _, err := w.conn.Exec(ctx, dropStageSQL(p.stage)); err != nil {
		return fmt.Errorf("drop stale staging: %w", pgErrDetail(err))
	}
	if _, err := w.conn.Exec(ctx, createStageSQL(p)); err != nil {
		return fmt.Errorf("create staging: %w", pgErrDetail(err))
	}
	return nil
}

// dropStage runs even when ctx is already cancelled. A failed drop is
// logged, never returned.
func (w *Writer) dropStage(ctx context.Context, l zerolog.Logger, stage string) {
	err := w.step("drop", func() error {
		_, err := w.conn.Exec(context.WithoutCancel(ctx), dropStageSQL(stage))
		return err
	})
	if err != nil {
		l.Warn().Err(err).Msg("drop staging table failed")
	}
}

// reconcile runs the update and insert passes in one transaction.
func (w *Writer) reconcile(ctx context.Context, l zerolog.Logger, p plan, res Result) (Result, error) {
	if _, err := w.conn.Exec(ctx, "BEGIN"); err != nil {
		return res, fmt.Errorf("begin: %w", err)
	}
	done := false
	defer func() {
		if done {
			return
		}
		if _, err := w.conn.Exec(context.WithoutCancel(ctx), "ROLLBACK"); err != nil {
			l.Warn().Err(err).Msg("rollback failed")
		}
	}()

	if w.lock {
		if _, err := w.conn.Exec(ctx, lockSQL, lockKey(p.dest)); err != nil {
			return res, fmt.Errorf("lock destination: %w", err)
		}
	}

	if p.injected() {
		if _, err := w.conn.Exec(ctx, utcSQL); err != nil {
			return res, fmt.Errorf("set time zone: %w", err)
		}
	}

	skipped, err := queryInt64(ctx, w.conn, nullKeyCountSQL(p))
	if err != nil {
		return res, fmt.Errorf("count null keys: %w", err)
	}
	res.Skipped = skipped

	ts := w.now().UTC()

	err = w.step("update", func() error {
		sql, usesTS := updateSQL(p)
		tag, err := w.conn.Exec(ctx, sql, tsArgs(usesTS, ts)...)
		if err != nil {
			return fmt.Errorf("update from staging: %w", pgErrDetail(err))
		}
		res.Updated = tag.RowsAffected()
		return nil
	})
	if err != nil {
		return res, err
	}

	if !p.updateOnly {
		err = w.step("insert", func() error {
			sql, usesTS := insertSQL(p)
			tag, err := w.conn.Exec(ctx, sql, tsArgs(usesTS, ts)...)
			if err != nil {
				return fmt.Errorf("insert from staging: %w", pgErrDetail(err))
			}
			res.Inserted = tag.RowsAffected()
			return nil
		})
		if err != nil {
			return res, err
		}
	}

	if err := res.verify(p.updateOnly); err != nil {
		metrics.RecordIntegrityFailure(w.job)
		return res, err
	}

	if _, err := w.conn.Exec(ctx, "COMMIT"); err != nil {
		return res, fmt.Errorf("commit: %w", err)
	}
	done = true
	return res, nil
}

func tsArgs(used bool, ts time.Time) []any {
	if !used {
		return nil
	}
	return []any{ts}
}

// step times fn and records it as one phase of the job.
func (w *Writer) step(name string, fn func() error) error {
	start := time.Now()
	err := fn()
	metrics.RecordStep(w.job, name, err, time.Since(start))
	return err
}
