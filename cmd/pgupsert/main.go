// Command pgupsert loads a CSV/binary file (or another table) into a Postgres
// table, updating rows whose key already exists and inserting the rest.
//
//	pgupsert -dsn postgres://localhost/app -table public.users -file users.csv.gz
//	pgupsert -config jobs/users.yaml -validate
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/rs/zerolog"

	"github.com/theSteveMitchell/postgres-upsert/internal/config"
	"github.com/theSteveMitchell/postgres-upsert/internal/database"
	"github.com/theSteveMitchell/postgres-upsert/internal/input"
	"github.com/theSteveMitchell/postgres-upsert/internal/metrics"
	"github.com/theSteveMitchell/postgres-upsert/internal/metrics/datadog"
	"github.com/theSteveMitchell/postgres-upsert/internal/metrics/prompush"
	"github.com/theSteveMitchell/postgres-upsert/internal/resultlog"
	"github.com/theSteveMitchell/postgres-upsert/pkg/upsert"
)

// Exit codes.
const (
	exitOK      = 0
	exitFailure = 1
	exitUsage   = 2
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := run(ctx, os.Args[1:], os.Stdout, os.Stderr, os.Getenv)
	stop()
	os.Exit(code)
}

// run is main without the process globals.
func run(ctx context.Context, args []string, stdout, stderr io.Writer, getenv func(string) string) int {
	fs := flag.NewFlagSet("pgupsert", flag.ContinueOnError)
	fs.SetOutput(stderr)

	job, fl, err := config.LoadFromArgs(fs, getenv, args)
	if errors.Is(err, flag.ErrHelp) {
		return exitOK
	}
	if err != nil {
		fmt.Fprintf(stderr, "pgupsert: %v\n", err)
		return exitUsage
	}
	if strings.TrimSpace(job.Name) == "" {
		job.Name = config.DefaultJobName
	}

	logger := newLogger(stderr, fl.Verbose).With().Str("job", job.Name).Logger()

	issues := config.Validate(job)
	for _, iss := range issues {
		fmt.Fprintf(stderr, "%s: %s: %s\n", iss.Severity, iss.Path, iss.Message)
	}
	if config.HasErrors(issues) {
		logger.Error().Str("config", fl.ConfigPath).Msg("configuration is invalid")
		return exitFailure
	}
	opts, err := job.Options()
	if err != nil {
		logger.Error().Err(err).Msg("configuration is invalid")
		return exitFailure
	}
	if fl.ValidateOnly {
		logger.Info().Str("config", fl.ConfigPath).Msg("configuration is valid")
		return exitOK
	}

	flush := setupMetrics(job, logger)
	defer flush()

	if job.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, job.Timeout)
		defer cancel()
	}

	started := time.Now()
	res, err := execute(ctx, job, opts, logger)
	finished := time.Now()

	publishResult(ctx, job, resultlog.NewRecord(job.Name, sourceName(job), job.Destination.Table, res, err, started, finished), logger)

	if err != nil {
		logger.Error().Err(err).Msg("upsert failed")
		return exitFailure
	}
	fmt.Fprintln(stdout, summary(job.Destination.Table, res, finished.Sub(started)))
	return exitOK
}

func newLogger(w io.Writer, verbose bool) zerolog.Logger {
	level := zerolog.InfoLevel
	if verbose {
		level = zerolog.DebugLevel
	}
	return zerolog.New(zerolog.ConsoleWriter{Out: w, TimeFormat: time.RFC3339}).
		Level(level).
		With().Timestamp().Logger()
}

// execute opens the pool and runs one Write. Table sources read on a second
// pooled connection while the first one writes.
func execute(ctx context.Context, job config.Job, opts upsert.Options, l zerolog.Logger) (upsert.Result, error) {
	pool, closePool, err := database.Open(ctx, job.Database)
	if err != nil {
		return upsert.Result{}, err
	}
	defer closePool()

	conn, release, err := pool.Acquire(ctx)
	if err != nil {
		return upsert.Result{}, err
	}
	defer release()

	var src upsert.Source
	if job.Source.Table != "" {
		srcConn, releaseSrc, err := pool.Acquire(ctx)
		if err != nil {
			return upsert.Result{}, err
		}
		defer releaseSrc()
		src = upsert.TableSource(srcConn, job.Source.Table)
	} else {
		in, err := input.Open(job.Source.Path, inputOptions(job.Source, opts.Format))
		if err != nil {
			return upsert.Result{}, err
		}
		defer in.Close()
		src = upsert.ReaderSource(in)
	}

	total, idle := pool.Stat()
	l.Debug().Int32("conns", total).Int32("idle", idle).Str("source", sourceName(job)).Msg("connected")

	w := upsert.NewWriter(conn,
		upsert.WithLogger(l),
		upsert.WithJobName(job.Name),
		upsert.WithDestinationLock(!job.Load.NoLock),
	)
	return w.Write(ctx, upsert.TableDestination(job.Destination.Table), src, opts)
}

// inputOptions drops the charset for binary COPY data.
func inputOptions(s config.Source, format upsert.Format) input.Options {
	o := input.Options{Compression: s.Compression, Encoding: s.Encoding}
	if format == upsert.FormatBinary {
		o.Encoding = ""
	}
	return o
}

func sourceName(job config.Job) string {
	if job.Source.Table != "" {
		return "table:" + job.Source.Table
	}
	if job.Source.Path == input.Stdin {
		return "stdin"
	}
	return job.Source.Path
}

// setupMetrics installs the configured backend and returns its flush.
func setupMetrics(job config.Job, l zerolog.Logger) func() {
	switch strings.ToLower(job.Metrics.Backend) {
	case "prometheus":
		b, err := prompush.NewBackend(job.Name, job.Metrics.PushgatewayURL)
		if err != nil {
			l.Warn().Err(err).Msg("metrics: prometheus backend unavailable; metrics disabled")
			return func() {}
		}
		metrics.SetBackend(b)
		l.Debug().Str("url", job.Metrics.PushgatewayURL).Msg("metrics: pushing to gateway")
		return func() {
			if err := metrics.Flush(); err != nil {
				l.Warn().Err(err).Msg("metrics: flush failed")
			}
		}

	case "datadog":
		b, err := datadog.NewBackend(datadog.Config{
			Addr:       job.Metrics.DatadogAddr,
			Namespace:  job.Metrics.Namespace,
			GlobalTags: append([]string{"job:" + job.Name}, job.Metrics.Tags...),
		})
		if err != nil {
			l.Warn().Err(err).Msg("metrics: datadog backend unavailable; metrics disabled")
			return func() {}
		}
		metrics.SetBackend(b)
		l.Debug().Str("addr", job.Metrics.DatadogAddr).Msg("metrics: sending to dogstatsd")
		return func() {
			if err := metrics.Flush(); err != nil {
				l.Warn().Err(err).Msg("metrics: flush failed")
			}
			if err := b.Close(); err != nil {
				l.Warn().Err(err).Msg("metrics: close failed")
			}
		}
	}
	return func() {}
}

// publishResult is best effort: the load already happened.
func publishResult(ctx context.Context, job config.Job, rec resultlog.Record, l zerolog.Logger) {
	if job.ResultLog.Addr == "" {
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()

	rl, err := resultlog.Dial(ctx, job.ResultLog.Addr, job.ResultLog.DB, resultlog.Config{
		Prefix:  job.ResultLog.Prefix,
		Channel: job.ResultLog.Channel,
		TTL:     job.ResultLog.TTL,
	}, l)
	if err != nil {
		l.Warn().Err(err).Msg("result log unavailable")
		return
	}
	defer rl.Close()

	if err := rl.Publish(ctx, rec); err != nil {
		l.Warn().Err(err).Msg("publish result failed")
		return
	}
	l.Debug().Str("key", rl.Key(rec.Job)).Str("run_id", rec.RunID).Msg("result published")
}

func summary(table string, res upsert.Result, d time.Duration) string {
	return fmt.Sprintf("%s: %s copied, %s updated, %s inserted, %s skipped in %s",
		table,
		humanize.Comma(res.Copied),
		humanize.Comma(res.Updated),
		humanize.Comma(res.Inserted),
		humanize.Comma(res.Skipped),
		d.Round(time.Millisecond),
	)
}
