// Package resultlog records the outcome of each upsert run in Redis.
//
// The latest Record for a job is stored as JSON under <prefix><job> with a
// TTL, and every Record is published on a Pub/Sub channel so dashboards can
// follow runs without polling.
package resultlog

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/theSteveMitchell/postgres-upsert/pkg/upsert"
)

// Status of a finished run.
type Status string

const (
	StatusOK     Status = "ok"
	StatusFailed Status = "failed"
)

// Record is what gets stored and published.
type Record struct {
	RunID       string    `json:"run_id"`
	Job         string    `json:"job"`
	Source      string    `json:"source"`
	Destination string    `json:"destination"`
	Status      Status    `json:"status"`
	Error       string    `json:"error,omitempty"`
	Copied      int64     `json:"copied"`
	Updated     int64     `json:"updated"`
	Inserted    int64     `json:"inserted"`
	Skipped     int64     `json:"skipped"`
	StartedAt   time.Time `json:"started_at"`
	FinishedAt  time.Time `json:"finished_at"`
}

// NewRecord builds a Record from a Write outcome.
func NewRecord(job, src, dst string, res upsert.Result, err error, started, finished time.Time) Record {
	r := Record{
		RunID:       uuid.NewString(),
		Job:         job,
		Source:      src,
		Destination: dst,
		Status:      StatusOK,
		Copied:      res.Copied,
		Updated:     res.Updated,
		Inserted:    res.Inserted,
		Skipped:     res.Skipped,
		StartedAt:   started.UTC(),
		FinishedAt:  finished.UTC(),
	}
	if err != nil {
		r.Status = StatusFailed
		r.Error = err.Error()
	}
	return r
}

// Changed returns Inserted + Updated.
func (r Record) Changed() int64 { return r.Inserted + r.Updated }

// Duration is the wall time of the run.
func (r Record) Duration() time.Duration { return r.FinishedAt.Sub(r.StartedAt) }

// Config selects where records go. An empty Prefix disables storing and an
// empty Channel disables publishing.
type Config struct {
	Prefix  string
	Channel string
	TTL     time.Duration
}

// Log writes Records to Redis.
type Log struct {
	rdb redis.UniversalClient
	cfg Config
	log zerolog.Logger
}

// New wraps an existing client.
func New(rdb redis.UniversalClient, cfg Config, l zerolog.Logger) *Log {
	return &Log{rdb: rdb, cfg: cfg, log: l}
}

// Dial connects to addr/db and pings it.
func Dial(ctx context.Context, addr string, db int, cfg Config, l zerolog.Logger) (*Log, error) {
	rdb := redis.NewClient(&redis.Options{Addr: addr, DB: db})
	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("resultlog: ping %s: %w", addr, err)
	}
	return New(rdb, cfg, l), nil
}

// Key returns the key the latest record of job is stored under.
func (l *Log) Key(job string) string { return l.cfg.Prefix + job }

// Publish stores rec and announces it. A failed store is returned; a failed
// announcement is only logged since the stored copy is authoritative.
func (l *Log) Publish(ctx context.Context, rec Record) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("resultlog: marshal: %w", err)
	}
	if l.cfg.Prefix != "" {
		if err := l.rdb.Set(ctx, l.Key(rec.Job), data, l.cfg.TTL).Err(); err != nil {
			return fmt.Errorf("resultlog: set %s: %w", l.Key(rec.Job), err)
		}
	}
	if l.cfg.Channel != "" {
		if err := l.rdb.Publish(ctx, l.cfg.Channel, data).Err(); err != nil {
			l.log.Warn().Err(err).Str("channel", l.cfg.Channel).Msg("publish result failed")
		}
	}
	return nil
}

// Last returns the latest stored record for job.
func (l *Log) Last(ctx context.Context, job string) (Record, error) {
	data, err := l.rdb.Get(ctx, l.Key(job)).Bytes()
	if errors.Is(err, redis.Nil) {
		return Record{}, fmt.Errorf("resultlog: no record for %q", job)
	}
	if err != nil {
		return Record{}, fmt.Errorf("resultlog: get %s: %w", l.Key(job), err)
	}
	var rec Record
	if err := json.Unmarshal(data, &rec); err != nil {
		return Record{}, fmt.Errorf("resultlog: unmarshal: %w", err)
	}
	return rec, nil
}

// Close closes the underlying client.
func (l *Log) Close() error { return l.rdb.Close() }
