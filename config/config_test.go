package config

import (
	"bytes"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/goliatone/go-repository-core/cache"
)

func TestDefault(t *testing.T) {
	cfg := Default()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}
	if cfg.Store.Driver != DriverMemory {
		t.Errorf("expected memory driver, got %q", cfg.Store.Driver)
	}
	if cfg.Cache.Enabled {
		t.Error("cache should be disabled by default")
	}
	if cfg.Cache.TTL != cache.DefaultConfig().TTL {
		t.Errorf("cache defaults not applied: %+v", cfg.Cache.Config)
	}
}

func TestParse(t *testing.T) {
	data := []byte(`
store:
  driver: sqlite
  dsn: "file:library.db"
  max_open_conns: 4
cache:
  enabled: true
  ttl: 2m
  capacity: 500
log:
  level: debug
  format: json
metrics:
  enabled: true
`)
	cfg, err := Parse(data)
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}

	if cfg.Store.Driver != "sqlite" || cfg.Store.DSN != "file:library.db" || cfg.Store.MaxOpenConns != 4 {
		t.Errorf("unexpected store config %+v", cfg.Store)
	}
	if !cfg.Cache.Enabled || cfg.Cache.TTL != 2*time.Minute || cfg.Cache.Capacity != 500 {
		t.Errorf("unexpected cache config %+v", cfg.Cache)
	}
	if cfg.Cache.NumShards != cache.DefaultConfig().NumShards {
		t.Errorf("unset cache fields should keep defaults, got %d shards", cfg.Cache.NumShards)
	}
	if cfg.Log.Level != LevelDebug || cfg.Log.Format != FormatJSON {
		t.Errorf("unexpected log config %+v", cfg.Log)
	}
	if !cfg.Metrics.Enabled {
		t.Error("expected metrics to be enabled")
	}
}

func TestParse_Empty(t *testing.T) {
	cfg, err := Parse(nil)
	if err != nil {
		t.Fatalf("Parse(nil) failed: %v", err)
	}
	if cfg.Store.Driver != DriverMemory {
		t.Errorf("expected defaults, got %+v", cfg)
	}
}

func TestParse_Errors(t *testing.T) {
	tests := []struct {
		name string
		yaml string
		want string
	}{
		{"unknown key", "store:\n  engine: oracle\n", "engine"},
		{"bad yaml", "store: [", "yaml"},
		{"unknown driver", "store:\n  driver: oracle\n  dsn: x\n", "Driver"},
		{"missing dsn", "store:\n  driver: postgres\n", "DSN"},
		{"negative connections", "store:\n  max_open_conns: -1\n", "MaxOpenConns"},
		{"bad level", "log:\n  level: loud\n", "Level"},
		{"bad format", "log:\n  format: xml\n", "Format"},
		{"bad cache", "cache:\n  enabled: true\n  capacity: 0\n", "Capacity"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.yaml))
			if err == nil {
				t.Fatal("expected error")
			}
			if msg := chain(err); !strings.Contains(msg, tt.want) {
				t.Errorf("expected %q in %s", tt.want, msg)
			}
		})
	}
}

// chain joins the messages of err and everything it wraps.
func chain(err error) string {
	var parts []string
	for ; err != nil; err = errors.Unwrap(err) {
		parts = append(parts, err.Error())
	}
	return strings.Join(parts, " | ")
}

func TestParse_DisabledCacheIsNotValidated(t *testing.T) {
	if _, err := Parse([]byte("cache:\n  capacity: 0\n")); err != nil {
		t.Errorf("disabled cache should not be validated: %v", err)
	}
}

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "repository.yaml")
	if err := os.WriteFile(path, []byte("store:\n  driver: sqlite3\n  dsn: \":memory:\"\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Store.Driver != "sqlite3" || cfg.Store.DSN != ":memory:" {
		t.Errorf("unexpected store config %+v", cfg.Store)
	}

	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("expected error for missing file")
	}
}

func TestDrivers(t *testing.T) {
	got := strings.Join(Drivers(), ",")
	if got != "memory,sqlite3,sqlite,postgres,pgx" {
		t.Errorf("unexpected drivers %q", got)
	}
}

func TestNewLogger(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(LogConfig{Level: LevelWarn, Format: FormatJSON}, &buf)
	logger.Info("hidden")
	logger.Warn("shown", "key", 1)

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 1 {
		t.Fatalf("expected one line, got %q", buf.String())
	}
	var entry map[string]any
	if err := json.Unmarshal([]byte(lines[0]), &entry); err != nil {
		t.Fatalf("expected JSON output: %v", err)
	}
	if entry["msg"] != "shown" || entry["level"] != "WARN" {
		t.Errorf("unexpected entry %v", entry)
	}

	buf.Reset()
	NewLogger(LogConfig{}, &buf).Debug("dropped")
	NewLogger(LogConfig{}, &buf).Info("kept")
	if out := buf.String(); strings.Contains(out, "dropped") || !strings.Contains(out, "msg=kept") {
		t.Errorf("unexpected text output %q", out)
	}
}
