package config

import (
	"fmt"
	"strings"

	"github.com/theSteveMitchell/postgres-upsert/pkg/upsert"
)

// IssueSeverity represents the severity of a configuration issue.
type IssueSeverity string

const (
	// SeverityError blocks execution.
	SeverityError IssueSeverity = "error"
	// SeverityWarning is surfaced to the user but does not block execution.
	SeverityWarning IssueSeverity = "warning"
)

// Issue describes a single validation finding. Path is a dotted path into
// the job, e.g. "source.delimiter".
type Issue struct {
	Severity IssueSeverity
	Path     string
	Message  string
}

func (i Issue) Error() string {
	return fmt.Sprintf("%s at %s: %s", i.Severity, i.Path, i.Message)
}

// HasErrors reports whether any issue is an error.
func HasErrors(issues []Issue) bool {
	for _, iss := range issues {
		if iss.Severity == SeverityError {
			return true
		}
	}
	return false
}

// Validate performs the static checks that need no database. Catalog checks
// (unknown columns, missing primary key) happen in the engine before any DDL.
func Validate(j Job) []Issue {
	var issues []Issue
	add := func(sev IssueSeverity, path, format string, args ...any) {
		issues = append(issues, Issue{Severity: sev, Path: path, Message: fmt.Sprintf(format, args...)})
	}

	if strings.TrimSpace(j.Name) == "" {
		add(SeverityWarning, "name", "job name is empty; metrics and the result log will use %q", DefaultJobName)
	}

	if strings.TrimSpace(j.Database.DSN) == "" {
		add(SeverityError, "database.dsn", "a connection string is required")
	}
	if j.Database.MaxConns < 1 {
		add(SeverityError, "database.max_conns", "must be at least 1, got %d", j.Database.MaxConns)
	} else if j.Source.Table != "" && j.Database.MaxConns < 2 {
		add(SeverityError, "database.max_conns", "table sources need two connections, got %d", j.Database.MaxConns)
	}
	if j.Timeout < 0 {
		add(SeverityError, "timeout", "must not be negative")
	}

	if strings.TrimSpace(j.Destination.Table) == "" {
		add(SeverityError, "destination.table", "destination table is required")
	}

	issues = append(issues, validateSource(j.Source, j.Load)...)
	issues = append(issues, validateLoad(j.Load)...)
	issues = append(issues, validateMetrics(j.Metrics)...)

	if j.ResultLog.Addr != "" {
		if j.ResultLog.TTL < 0 {
			add(SeverityError, "result_log.ttl", "must not be negative")
		}
		if j.ResultLog.Prefix == "" && j.ResultLog.Channel == "" {
			add(SeverityWarning, "result_log", "neither prefix nor channel is set; nothing will be published")
		}
	}
	return issues
}

func validateSource(s Source, l Load) []Issue {
	var issues []Issue

	switch {
	case s.Path == "" && s.Table == "":
		issues = append(issues, Issue{SeverityError, "source", "one of source.path or source.table is required"})
	case s.Path != "" && s.Table != "":
		issues = append(issues, Issue{SeverityError, "source", "source.path and source.table are mutually exclusive"})
	}

	format, err := upsert.ParseFormat(s.Format)
	if err != nil {
		issues = append(issues, Issue{SeverityError, "source.format", fmt.Sprintf("unknown format %q; use csv or binary", s.Format)})
	}

	if len(s.Delimiter) != 1 {
		issues = append(issues, Issue{SeverityError, "source.delimiter", fmt.Sprintf("must be exactly one byte, got %q", s.Delimiter)})
	}

	switch strings.ToLower(s.Compression) {
	case "", "auto", "none", "gzip", "zstd":
	default:
		issues = append(issues, Issue{SeverityError, "source.compression", fmt.Sprintf("unknown compression %q", s.Compression)})
	}

	if s.Table != "" {
		if s.Format != "" && format != upsert.FormatCSV {
			issues = append(issues, Issue{SeverityWarning, "source.format", "ignored for table sources"})
		}
		if s.Encoding != "" || (s.Compression != "" && !strings.EqualFold(s.Compression, "auto")) {
			issues = append(issues, Issue{SeverityWarning, "source", "encoding and compression are ignored for table sources"})
		}
	}

	if err == nil && format == upsert.FormatBinary {
		if len(l.Columns) == 0 {
			issues = append(issues, Issue{SeverityError, "load.columns", "binary sources have no header; columns are required"})
		}
		if s.Encoding != "" {
			issues = append(issues, Issue{SeverityWarning, "source.encoding", "ignored for binary sources"})
		}
	}
	return issues
}

func validateLoad(l Load) []Issue {
	var issues []Issue

	seen := make(map[string]bool, len(l.Columns))
	for i, c := range l.Columns {
		path := fmt.Sprintf("load.columns[%d]", i)
		switch {
		case strings.TrimSpace(c) == "":
			issues = append(issues, Issue{SeverityError, path, "empty column name"})
		case seen[c]:
			issues = append(issues, Issue{SeverityError, path, fmt.Sprintf("column %q listed twice", c)})
		}
		seen[c] = true
	}
	for i, k := range l.UniqueKey {
		if strings.TrimSpace(k) == "" {
			issues = append(issues, Issue{SeverityError, fmt.Sprintf("load.unique_key[%d]", i), "empty key column"})
		}
	}
	for from, to := range l.Map {
		if strings.TrimSpace(from) == "" || strings.TrimSpace(to) == "" {
			issues = append(issues, Issue{SeverityError, "load.map", fmt.Sprintf("mapping %q -> %q has an empty side", from, to)})
		}
	}
	if len(l.Columns) > 0 && len(l.UniqueKey) > 0 {
		mapped := make(map[string]bool, len(l.Columns))
		for _, c := range l.Columns {
			if to, ok := l.Map[c]; ok && to != "" {
				c = to
			}
			mapped[c] = true
		}
		for _, k := range l.UniqueKey {
			if k != "" && !mapped[k] {
				issues = append(issues, Issue{SeverityError, "load.unique_key", fmt.Sprintf("key column %q is not among the loaded columns", k)})
			}
		}
	}
	return issues
}

func validateMetrics(m Metrics) []Issue {
	var issues []Issue
	switch strings.ToLower(m.Backend) {
	case "", "none":
	case "prometheus":
		if m.PushgatewayURL == "" {
			issues = append(issues, Issue{SeverityError, "metrics.pushgateway_url", "required for the prometheus backend"})
		}
	case "datadog":
		if m.DatadogAddr == "" {
			issues = append(issues, Issue{SeverityError, "metrics.datadog_addr", "required for the datadog backend"})
		}
	default:
		issues = append(issues, Issue{SeverityError, "metrics.backend", fmt.Sprintf("unknown backend %q; use none, prometheus or datadog", m.Backend)})
	}
	return issues
}
