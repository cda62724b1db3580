package config

import (
	"io"
	"os"
	"path/filepath"
	"reflect"
	"testing"
	"time"

	"github.com/Tyrowin/hearth/internal/logging"
)

//nolint:gochecknoinits // keep test output quiet
func init() {
	logging.Init(logging.Config{Level: "error", Output: io.Discard})
}

// isolate points the config file lookup at an empty directory.
func isolate(t *testing.T) {
	t.Helper()
	t.Setenv(ConfigPathEnvVar, filepath.Join(t.TempDir(), "missing.yaml"))
	old := DefaultConfigPaths
	DefaultConfigPaths = nil
	t.Cleanup(func() { DefaultConfigPaths = old })
}

func TestDefaultConfigIsValid(t *testing.T) {
	cfg := NewConfig()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config should validate: %v", err)
	}
	if cfg.Security.MaxConnectionsPerAddress != 5 {
		t.Errorf("expected per-address cap 5, got %d", cfg.Security.MaxConnectionsPerAddress)
	}
	if cfg.Limits.Message != (RatePolicy{Max: 5, Window: 10 * time.Second}) {
		t.Errorf("unexpected message policy %+v", cfg.Limits.Message)
	}
	if cfg.Persistence.HistorySize != 50 {
		t.Errorf("expected history size 50, got %d", cfg.Persistence.HistorySize)
	}
}

func TestLoadDefaults(t *testing.T) {
	isolate(t)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if cfg.Server.Port != ":3000" {
		t.Errorf("expected default port :3000, got %q", cfg.Server.Port)
	}
	if cfg.Persistence.Interval != 30*time.Second {
		t.Errorf("expected 30s persistence interval, got %v", cfg.Persistence.Interval)
	}
}

func TestLoadFromEnvironment(t *testing.T) {
	isolate(t)
	t.Setenv("PORT", "4000")
	t.Setenv("ALLOWED_ORIGINS", "https://a.example, *, not a url, http://b.example")
	t.Setenv("ADMIN_DISCORD_IDS", "111,222")
	t.Setenv("MAX_CONNECTIONS_PER_IP", "3")
	t.Setenv("STATE_FILE", "/var/lib/hearth/state.json")
	t.Setenv("MESSAGE_RATE_WINDOW", "20s")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if cfg.Server.Port != ":4000" {
		t.Errorf("expected :4000, got %q", cfg.Server.Port)
	}
	wantOrigins := []string{"https://a.example", "http://b.example"}
	if !reflect.DeepEqual(cfg.Security.AllowedOrigins, wantOrigins) {
		t.Errorf("origins = %v, want %v", cfg.Security.AllowedOrigins, wantOrigins)
	}
	if !reflect.DeepEqual(cfg.Security.AdminIDs, []string{"111", "222"}) {
		t.Errorf("admin ids = %v", cfg.Security.AdminIDs)
	}
	if cfg.Security.MaxConnectionsPerAddress != 3 {
		t.Errorf("cap = %d, want 3", cfg.Security.MaxConnectionsPerAddress)
	}
	if cfg.Persistence.Path != "/var/lib/hearth/state.json" {
		t.Errorf("path = %q", cfg.Persistence.Path)
	}
	if cfg.Limits.Message.Window != 20*time.Second {
		t.Errorf("message window = %v", cfg.Limits.Message.Window)
	}
}

func TestLoadFromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := []byte("persistence:\n  backend: badger\n  badger_dir: " + dir + "\nlogging:\n  format: console\n")
	if err := os.WriteFile(path, content, 0o600); err != nil {
		t.Fatal(err)
	}
	t.Setenv(ConfigPathEnvVar, path)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if cfg.Persistence.Backend != "badger" || cfg.Persistence.BadgerDir != dir {
		t.Errorf("persistence = %+v", cfg.Persistence)
	}
	if cfg.Logging.Format != "console" {
		t.Errorf("format = %q", cfg.Logging.Format)
	}
}

func TestLoadRejectsInvalidValues(t *testing.T) {
	isolate(t)
	t.Setenv("STATE_BACKEND", "postgres")

	if _, err := Load(); err == nil {
		t.Fatal("expected validation error for unknown backend")
	}
}

func TestSanitizeOrigins(t *testing.T) {
	tests := []struct {
		name string
		in   []string
		want []string
	}{
		{"keeps valid", []string{"https://x.dev"}, []string{"https://x.dev"}},
		{"drops wildcard and junk", []string{"*", "", "ftp://x.dev", "https://y.dev"}, []string{"https://y.dev"}},
		{"falls back when empty", []string{"*"}, DefaultAllowedOrigins},
		{"falls back on nil", nil, DefaultAllowedOrigins},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := SanitizeOrigins(tt.in); !reflect.DeepEqual(got, tt.want) {
				t.Errorf("SanitizeOrigins(%v) = %v, want %v", tt.in, got, tt.want)
			}
		})
	}
}
