package config

import (
	"errors"
	"flag"
	"io"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/theSteveMitchell/postgres-upsert/pkg/upsert"
)

func newFlagSet() *flag.FlagSet {
	fs := flag.NewFlagSet("test", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	return fs
}

func noEnv(string) string { return "" }

func TestLoadFromArgs_Defaults(t *testing.T) {
	job, fl, err := LoadFromArgs(newFlagSet(), noEnv, nil)
	if err != nil {
		t.Fatalf("LoadFromArgs: %v", err)
	}
	if !reflect.DeepEqual(job, Default()) {
		t.Fatalf("job = %+v, want defaults %+v", job, Default())
	}
	if !reflect.DeepEqual(fl, Flags{}) {
		t.Fatalf("flags = %+v, want zero", fl)
	}
}

// Environment seeds flag defaults; explicit flags win.
func TestLoadFromArgs_EnvAndFlags(t *testing.T) {
	env := map[string]string{
		"DATABASE_URL":         "postgres://env@localhost/db",
		"PGUPSERT_TABLE":       "public.users",
		"PGUPSERT_KEY":         "email",
		"PGUPSERT_UPDATE_ONLY": "yes",
		"PGUPSERT_DELIMITER":   `\t`,
	}
	getenv := func(k string) string { return env[k] }

	job, fl, err := LoadFromArgs(newFlagSet(), getenv, []string{
		"-file=users.csv.gz",
		"-key=tenant_id, email",
		"-map=cod=id,info=data",
		"-columns=cod,info",
		"-max-conns=8",
		"-timeout=5m",
		"-v",
	})
	if err != nil {
		t.Fatalf("LoadFromArgs: %v", err)
	}
	if !fl.Verbose {
		t.Errorf("Verbose = false")
	}

	if job.Database.DSN != "postgres://env@localhost/db" {
		t.Errorf("DSN = %q", job.Database.DSN)
	}
	if job.Database.MaxConns != 8 {
		t.Errorf("MaxConns = %d, want 8", job.Database.MaxConns)
	}
	if job.Timeout != 5*time.Minute {
		t.Errorf("Timeout = %v, want 5m", job.Timeout)
	}
	if job.Destination.Table != "public.users" {
		t.Errorf("Table = %q", job.Destination.Table)
	}
	if job.Source.Path != "users.csv.gz" {
		t.Errorf("Path = %q", job.Source.Path)
	}
	if job.Source.Delimiter != "\t" {
		t.Errorf("Delimiter = %q, want tab", job.Source.Delimiter)
	}
	if want := []string{"tenant_id", "email"}; !reflect.DeepEqual(job.Load.UniqueKey, want) {
		t.Errorf("UniqueKey = %q, want %q", job.Load.UniqueKey, want)
	}
	if want := map[string]string{"cod": "id", "info": "data"}; !reflect.DeepEqual(job.Load.Map, want) {
		t.Errorf("Map = %v, want %v", job.Load.Map, want)
	}
	if want := []string{"cod", "info"}; !reflect.DeepEqual(job.Load.Columns, want) {
		t.Errorf("Columns = %q, want %q", job.Load.Columns, want)
	}
	if !job.Load.UpdateOnly {
		t.Errorf("UpdateOnly = false")
	}
}

func TestLoadFromArgs_PGUpsertDSNWinsOverDatabaseURL(t *testing.T) {
	env := map[string]string{"DATABASE_URL": "a", "PGUPSERT_DSN": "b"}
	job, _, err := LoadFromArgs(newFlagSet(), func(k string) string { return env[k] }, nil)
	if err != nil {
		t.Fatalf("LoadFromArgs: %v", err)
	}
	if job.Database.DSN != "b" {
		t.Fatalf("DSN = %q, want b", job.Database.DSN)
	}
}

func TestLoadFromArgs_FileThenFlags(t *testing.T) {
	path := filepath.Join(t.TempDir(), "job.yaml")
	if err := os.WriteFile(path, []byte(`
name: nightly-users
database:
  dsn: postgres://file@localhost/db
  connect_timeout: 3s
source:
  path: users.csv
  delimiter: ";"
  encoding: windows-1250
destination:
  table: public.users
load:
  unique_key: [id]
  map:
    cod: id
metrics:
  backend: prometheus
  pushgateway_url: http://pushgateway:9091
result_log:
  addr: localhost:6379
  ttl: 1h
`), 0o600); err != nil {
		t.Fatal(err)
	}

	job, fl, err := LoadFromArgs(newFlagSet(), noEnv, []string{"-config", path, "-source-table=legacy.users"})
	if err != nil {
		t.Fatalf("LoadFromArgs: %v", err)
	}
	if fl.ConfigPath != path {
		t.Errorf("ConfigPath = %q, want %q", fl.ConfigPath, path)
	}

	if job.Name != "nightly-users" {
		t.Errorf("Name = %q", job.Name)
	}
	if job.Database.ConnectTimeout != 3*time.Second {
		t.Errorf("ConnectTimeout = %v, want 3s", job.Database.ConnectTimeout)
	}
	if job.Database.MaxConns != DefaultMaxConns {
		t.Errorf("MaxConns = %d, want the default to survive a partial file", job.Database.MaxConns)
	}
	if job.Source.Delimiter != ";" {
		t.Errorf("Delimiter = %q", job.Source.Delimiter)
	}
	if job.Source.Table != "legacy.users" || job.Source.Path != "" {
		t.Errorf("source = %+v, want the flag table to replace the file path", job.Source)
	}
	if job.ResultLog.TTL != time.Hour {
		t.Errorf("TTL = %v, want 1h", job.ResultLog.TTL)
	}
	if job.ResultLog.Channel != DefaultResultChannel {
		t.Errorf("Channel = %q, want default", job.ResultLog.Channel)
	}
}

func TestDecode_JSON(t *testing.T) {
	job, err := Decode(strings.NewReader(`{"destination": {"table": "t"}, "source": {"path": "-"}, "load": {"update_only": true}}`))
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if job.Destination.Table != "t" || job.Source.Path != "-" || !job.Load.UpdateOnly {
		t.Fatalf("job = %+v", job)
	}
}

func TestDecode_Empty(t *testing.T) {
	job, err := Decode(strings.NewReader(""))
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if !reflect.DeepEqual(job, Default()) {
		t.Fatalf("job = %+v, want defaults", job)
	}
}

func TestDecode_UnknownKey(t *testing.T) {
	if _, err := Decode(strings.NewReader("destination:\n  tabel: users\n")); err == nil {
		t.Fatal("Decode accepted an unknown key")
	}
}

func TestLoadFromArgs_BadValues(t *testing.T) {
	for _, args := range [][]string{
		{"-max-conns=lots"},
		{"-timeout=soon"},
		{"-map=broken"},
		{"-config=/does/not/exist.yaml"},
		{"-no-such-flag"},
	} {
		if _, _, err := LoadFromArgs(newFlagSet(), noEnv, args); err == nil {
			t.Errorf("LoadFromArgs(%v) accepted bad input", args)
		}
	}
}

func TestJobOptions(t *testing.T) {
	job := Default()
	job.Source.Format = "binary"
	job.Source.NoHeader = true
	job.Load = Load{
		Columns:         []string{"a"},
		Map:             map[string]string{"a": "b"},
		UniqueKey:       []string{"b"},
		UpdateOnly:      true,
		CreatedAtColumn: "-",
		UpdatedAtColumn: "modified",
	}

	opts, err := job.Options()
	if err != nil {
		t.Fatalf("Options: %v", err)
	}
	want := upsert.Options{
		Delimiter:       ",",
		Format:          upsert.FormatBinary,
		NoHeader:        true,
		Columns:         []string{"a"},
		Map:             map[string]string{"a": "b"},
		UniqueKey:       []string{"b"},
		UpdateOnly:      true,
		CreatedAtColumn: "-",
		UpdatedAtColumn: "modified",
	}
	if !reflect.DeepEqual(opts, want) {
		t.Fatalf("Options = %+v, want %+v", opts, want)
	}

	job.Source.Format = "xml"
	if _, err := job.Options(); !errors.Is(err, upsert.ErrInvalidOptions) {
		t.Fatalf("Options = %v, want ErrInvalidOptions", err)
	}
}
