// Package config describes a pgupsert job: where rows come from, which table
// they are upserted into, and the ambient settings (database pool, metrics,
// result log) around the run.
//
// A job can be written as a YAML (or JSON) file and then overridden from
// command-line flags, whose defaults are seeded from environment variables:
//
//	flags (and their env fallbacks)  >  job file  >  built-in defaults
//
// For tests, prefer LoadFromArgs to keep them hermetic:
//
//	fs := flag.NewFlagSet("test", flag.ContinueOnError)
//	getenv := func(k string) string { return testEnv[k] }
//	job, flags, err := config.LoadFromArgs(fs, getenv, []string{"-table=users", "-file=u.csv"})
package config

import (
	"bytes"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/theSteveMitchell/postgres-upsert/pkg/upsert"
)

// Job is one upsert run.
type Job struct {
	// Name labels metrics and the published result.
	Name string `yaml:"name" json:"name"`

	Database    Database    `yaml:"database" json:"database"`
	Source      Source      `yaml:"source" json:"source"`
	Destination Destination `yaml:"destination" json:"destination"`
	Load        Load        `yaml:"load" json:"load"`
	Metrics     Metrics     `yaml:"metrics" json:"metrics"`
	ResultLog   ResultLog   `yaml:"result_log" json:"result_log"`

	// Timeout bounds the whole run; zero means no limit.
	Timeout time.Duration `yaml:"timeout" json:"timeout"`
}

// Database configures the destination connection pool.
type Database struct {
	DSN            string        `yaml:"dsn" json:"dsn"`
	MaxConns       int32         `yaml:"max_conns" json:"max_conns"`
	ConnectTimeout time.Duration `yaml:"connect_timeout" json:"connect_timeout"`
}

// Source selects exactly one of a file (or "-" for stdin) or a table.
type Source struct {
	Path  string `yaml:"path" json:"path"`
	Table string `yaml:"table" json:"table"`

	// Format is "csv" (default) or "binary".
	Format    string `yaml:"format" json:"format"`
	Delimiter string `yaml:"delimiter" json:"delimiter"`
	NoHeader  bool   `yaml:"no_header" json:"no_header"`

	// Encoding is an IANA/WHATWG charset name; input is transcoded to UTF-8.
	Encoding string `yaml:"encoding" json:"encoding"`
	// Compression is "auto" (default), "none", "gzip" or "zstd".
	Compression string `yaml:"compression" json:"compression"`
}

// Destination is the table rows are upserted into.
type Destination struct {
	Table string `yaml:"table" json:"table"`
}

// Load mirrors upsert.Options.
type Load struct {
	Columns         []string          `yaml:"columns" json:"columns"`
	Map             map[string]string `yaml:"map" json:"map"`
	UniqueKey       []string          `yaml:"unique_key" json:"unique_key"`
	UpdateOnly      bool              `yaml:"update_only" json:"update_only"`
	CreatedAtColumn string            `yaml:"created_at_column" json:"created_at_column"`
	UpdatedAtColumn string            `yaml:"updated_at_column" json:"updated_at_column"`
	// NoLock disables the per-destination advisory lock.
	NoLock bool `yaml:"no_lock" json:"no_lock"`
}

// Metrics selects a metrics backend: "none" (default), "prometheus" or "datadog".
type Metrics struct {
	Backend        string   `yaml:"backend" json:"backend"`
	PushgatewayURL string   `yaml:"pushgateway_url" json:"pushgateway_url"`
	DatadogAddr    string   `yaml:"datadog_addr" json:"datadog_addr"`
	Namespace      string   `yaml:"namespace" json:"namespace"`
	Tags           []string `yaml:"tags" json:"tags"`
}

// ResultLog publishes the finished Result to Redis when Addr is set.
type ResultLog struct {
	Addr    string        `yaml:"addr" json:"addr"`
	DB      int           `yaml:"db" json:"db"`
	Prefix  string        `yaml:"prefix" json:"prefix"`
	Channel string        `yaml:"channel" json:"channel"`
	TTL     time.Duration `yaml:"ttl" json:"ttl"`
}

// Defaults.
const (
	DefaultJobName       = "pgupsert"
	DefaultMaxConns      = 4
	DefaultConnTimeout   = 10 * time.Second
	DefaultResultPrefix  = "pgupsert:result:"
	DefaultResultChannel = "pgupsert:results"
	DefaultResultTTL     = 7 * 24 * time.Hour
)

// Default returns a Job with every default filled in.
func Default() Job {
	return Job{
		Name: DefaultJobName,
		Database: Database{
			MaxConns:       DefaultMaxConns,
			ConnectTimeout: DefaultConnTimeout,
		},
		Source: Source{
			Format:      "csv",
			Delimiter:   upsert.DefaultDelimiter,
			Compression: "auto",
		},
		Metrics: Metrics{Backend: "none"},
		ResultLog: ResultLog{
			Prefix:  DefaultResultPrefix,
			Channel: DefaultResultChannel,
			TTL:     DefaultResultTTL,
		},
	}
}

// Decode reads a YAML or JSON job from r on top of the defaults. Unknown
// keys are rejected.
func Decode(r io.Reader) (Job, error) {
	job := Default()
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&job); err != nil && !errors.Is(err, io.EOF) {
		return Job{}, fmt.Errorf("decode job: %w", err)
	}
	return job, nil
}

// LoadFile reads a job file.
func LoadFile(path string) (Job, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Job{}, fmt.Errorf("read job file: %w", err)
	}
	return Decode(bytes.NewReader(data))
}

// Flags holds the CLI-only switches that are not part of a Job.
type Flags struct {
	ConfigPath   string
	ValidateOnly bool
	Verbose      bool
}

// LoadFromArgs defines flags on fs with defaults seeded from getenv, parses
// args, loads the job file named by -config (if any) and overlays every flag
// or environment value that was actually provided.
func LoadFromArgs(fs *flag.FlagSet, getenv func(string) string, args []string) (Job, Flags, error) {
	var (
		fl Flags
		v  flagValues
	)

	boolEnv := func(k string) bool {
		switch strings.ToLower(getenv(k)) {
		case "1", "true", "yes", "on":
			return true
		}
		return false
	}
	dsnEnv := getenv("PGUPSERT_DSN")
	if dsnEnv == "" {
		dsnEnv = getenv("DATABASE_URL")
	}

	fs.StringVar(&fl.ConfigPath, "config", getenv("PGUPSERT_CONFIG"), "Path to a YAML or JSON job file")
	fs.BoolVar(&fl.ValidateOnly, "validate", false, "Validate the job and exit without touching the database")
	fs.BoolVar(&fl.Verbose, "v", boolEnv("PGUPSERT_VERBOSE"), "Debug logging")

	fs.StringVar(&v.name, "job", getenv("PGUPSERT_JOB"), "Job name for metrics and the result log")
	fs.StringVar(&v.dsn, "dsn", dsnEnv, "Postgres connection string (env PGUPSERT_DSN or DATABASE_URL)")
	fs.StringVar(&v.maxConns, "max-conns", getenv("PGUPSERT_MAX_CONNS"), "Connection pool size")
	fs.StringVar(&v.timeout, "timeout", getenv("PGUPSERT_TIMEOUT"), "Abort the run after this duration, e.g. 10m")

	fs.StringVar(&v.table, "table", getenv("PGUPSERT_TABLE"), "Destination table, optionally schema-qualified")
	fs.StringVar(&v.file, "file", getenv("PGUPSERT_FILE"), "Source file path, or - for stdin")
	fs.StringVar(&v.sourceTable, "source-table", getenv("PGUPSERT_SOURCE_TABLE"), "Copy rows from this table instead of a file")
	fs.StringVar(&v.format, "format", getenv("PGUPSERT_FORMAT"), "Source format: csv or binary")
	fs.StringVar(&v.delimiter, "delimiter", getenv("PGUPSERT_DELIMITER"), "Single-byte CSV delimiter")
	fs.BoolVar(&v.noHeader, "no-header", boolEnv("PGUPSERT_NO_HEADER"), "The source has no header row")
	fs.StringVar(&v.encoding, "encoding", getenv("PGUPSERT_ENCODING"), "Source charset, e.g. windows-1250")
	fs.StringVar(&v.compression, "compression", getenv("PGUPSERT_COMPRESSION"), "auto, none, gzip or zstd")

	fs.StringVar(&v.columns, "columns", getenv("PGUPSERT_COLUMNS"), "Comma-separated column list overriding the header")
	fs.StringVar(&v.mapping, "map", getenv("PGUPSERT_MAP"), "Comma-separated source=destination column renames")
	fs.StringVar(&v.key, "key", getenv("PGUPSERT_KEY"), "Comma-separated uniqueness key (default: primary key)")
	fs.BoolVar(&v.updateOnly, "update-only", boolEnv("PGUPSERT_UPDATE_ONLY"), "Never insert unmatched rows")
	fs.StringVar(&v.createdAt, "created-at", getenv("PGUPSERT_CREATED_AT"), "Creation timestamp column, or - to disable")
	fs.StringVar(&v.updatedAt, "updated-at", getenv("PGUPSERT_UPDATED_AT"), "Update timestamp column, or - to disable")
	fs.BoolVar(&v.noLock, "no-lock", boolEnv("PGUPSERT_NO_LOCK"), "Do not take the per-destination advisory lock")

	fs.StringVar(&v.metrics, "metrics", getenv("PGUPSERT_METRICS"), "Metrics backend: none, prometheus or datadog")
	fs.StringVar(&v.pushgateway, "pushgateway", getenv("PGUPSERT_PUSHGATEWAY"), "Prometheus Pushgateway URL")
	fs.StringVar(&v.statsd, "statsd", getenv("PGUPSERT_STATSD"), "DogStatsD address")
	fs.StringVar(&v.redis, "redis", getenv("PGUPSERT_REDIS"), "Redis address for the result log")

	if args == nil {
		args = []string{}
	}
	if err := fs.Parse(args); err != nil {
		return Job{}, fl, err
	}

	job := Default()
	if fl.ConfigPath != "" {
		var err error
		if job, err = LoadFile(fl.ConfigPath); err != nil {
			return Job{}, fl, err
		}
	}
	if err := v.apply(&job); err != nil {
		return Job{}, fl, err
	}
	return job, fl, nil
}

// flagValues are raw flag strings; empty means "not provided".
type flagValues struct {
	name, dsn, maxConns, timeout                string
	table, file, sourceTable                    string
	format, delimiter, encoding, compression    string
	columns, mapping, key, createdAt, updatedAt string
	metrics, pushgateway, statsd, redis         string
	noHeader, updateOnly, noLock                bool
}

func (v flagValues) apply(job *Job) error {
	setString := func(dst *string, s string) {
		if s != "" {
			*dst = s
		}
	}

	setString(&job.Name, v.name)
	setString(&job.Database.DSN, v.dsn)
	if v.maxConns != "" {
		n, err := strconv.ParseInt(v.maxConns, 10, 32)
		if err != nil {
			return fmt.Errorf("max-conns: %w", err)
		}
		job.Database.MaxConns = int32(n)
	}
	if v.timeout != "" {
		d, err := time.ParseDuration(v.timeout)
		if err != nil {
			return fmt.Errorf("timeout: %w", err)
		}
		job.Timeout = d
	}

	setString(&job.Destination.Table, v.table)
	if v.file != "" {
		job.Source.Path, job.Source.Table = v.file, ""
	}
	if v.sourceTable != "" {
		job.Source.Table, job.Source.Path = v.sourceTable, ""
	}
	setString(&job.Source.Format, v.format)
	setString(&job.Source.Delimiter, unescapeDelimiter(v.delimiter))
	setString(&job.Source.Encoding, v.encoding)
	setString(&job.Source.Compression, v.compression)
	if v.noHeader {
		job.Source.NoHeader = true
	}

	if v.columns != "" {
		job.Load.Columns = splitList(v.columns)
	}
	if v.mapping != "" {
		m, err := parseMap(v.mapping)
		if err != nil {
			return err
		}
		job.Load.Map = m
	}
	if v.key != "" {
		job.Load.UniqueKey = splitList(v.key)
	}
	if v.updateOnly {
		job.Load.UpdateOnly = true
	}
	if v.noLock {
		job.Load.NoLock = true
	}
	setString(&job.Load.CreatedAtColumn, v.createdAt)
	setString(&job.Load.UpdatedAtColumn, v.updatedAt)

	setString(&job.Metrics.Backend, v.metrics)
	setString(&job.Metrics.PushgatewayURL, v.pushgateway)
	setString(&job.Metrics.DatadogAddr, v.statsd)
	setString(&job.ResultLog.Addr, v.redis)
	return nil
}

// Options converts the load section into engine options.
func (j Job) Options() (upsert.Options, error) {
	format, err := upsert.ParseFormat(j.Source.Format)
	if err != nil {
		return upsert.Options{}, err
	}
	return upsert.Options{
		Delimiter:       j.Source.Delimiter,
		Format:          format,
		NoHeader:        j.Source.NoHeader,
		Columns:         j.Load.Columns,
		Map:             j.Load.Map,
		UniqueKey:       j.Load.UniqueKey,
		UpdateOnly:      j.Load.UpdateOnly,
		CreatedAtColumn: j.Load.CreatedAtColumn,
		UpdatedAtColumn: j.Load.UpdatedAtColumn,
	}, nil
}

func splitList(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// parseMap parses "a=b,c=d".
func parseMap(s string) (map[string]string, error) {
	m := make(map[string]string)
	for _, pair := range splitList(s) {
		from, to, ok := strings.Cut(pair, "=")
		from, to = strings.TrimSpace(from), strings.TrimSpace(to)
		if !ok || from == "" || to == "" {
			return nil, fmt.Errorf("map: %q is not source=destination", pair)
		}
		m[from] = to
	}
	return m, nil
}

// unescapeDelimiter lets shells pass a tab as `\t`.
func unescapeDelimiter(s string) string {
	if s == `\t` {
		return "\t"
	}
	return s
}
