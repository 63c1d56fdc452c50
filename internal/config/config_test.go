package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/cwygoda/haul/internal/domain"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.toml")
	if err := os.WriteFile(path, []byte(body), 0644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestDefaultDBPath(t *testing.T) {
	t.Run("with XDG_DATA_HOME", func(t *testing.T) {
		t.Setenv("XDG_DATA_HOME", "/custom/data")
		if got, want := DefaultDBPath(), "/custom/data/haul/jobs.db"; got != want {
			t.Errorf("DefaultDBPath() = %q, want %q", got, want)
		}
	})

	t.Run("without XDG_DATA_HOME", func(t *testing.T) {
		t.Setenv("XDG_DATA_HOME", "")
		path := DefaultDBPath()
		if !strings.HasSuffix(path, filepath.Join(".local", "share", "haul", "jobs.db")) {
			t.Errorf("DefaultDBPath() = %q, want suffix .local/share/haul/jobs.db", path)
		}
	})
}

func TestDefaultConfigPath(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", "/custom/config")
	if got, want := DefaultConfigPath(), "/custom/config/haul/config.toml"; got != want {
		t.Errorf("DefaultConfigPath() = %q, want %q", got, want)
	}
}

func TestExpandPath(t *testing.T) {
	home, _ := os.UserHomeDir()
	tests := []struct {
		in, want string
	}{
		{"~/Videos", filepath.Join(home, "Videos")},
		{"~", home},
		{"/abs/path", "/abs/path"},
		{"~user/x", "~user/x"},
	}
	for _, tt := range tests {
		if got := ExpandPath(tt.in); got != tt.want {
			t.Errorf("ExpandPath(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestLoad_MissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.toml"), Flags{})
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Server.Port != 8080 {
		t.Errorf("Port = %d, want 8080", cfg.Server.Port)
	}
	if cfg.Queue.MaxConcurrentDownloads != 3 || !cfg.Queue.QueueEnabled {
		t.Errorf("Queue defaults = %+v", cfg.Queue)
	}
}

func TestLoad_File(t *testing.T) {
	path := writeConfig(t, `
[server]
port = 9000
secret = "s3cret"

[storage]
download_dir = "/srv/downloads"
db_path = "/srv/haul.db"

[queue]
max_concurrent_downloads = 5
torrent_max_concurrent = 1
queue_enabled = false
retry_attempts = 2
retry_delay_ms = 1500

[torrent]
connections = 80
segments = 10
segment_size = 1048576

[media]
cookie_file_path = "/srv/cookies.txt"

[log]
level = "debug"
format = "json"
`)
	cfg, err := Load(path, Flags{})
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Server.Port != 9000 || cfg.Server.Secret != "s3cret" {
		t.Errorf("Server = %+v", cfg.Server)
	}

	s := cfg.Settings()
	want := domain.Settings{
		MaxConcurrentDownloads: 5,
		TorrentMaxConcurrent:   1,
		QueueEnabled:           false,
		RetryAttempts:          2,
		RetryDelay:             1500 * time.Millisecond,
		Transfer:               domain.TransferTuning{Connections: 80, Segments: 10, SegmentSize: 1 << 20},
		CookieFilePath:         "/srv/cookies.txt",
	}
	if s != want {
		t.Errorf("Settings() = %+v, want %+v", s, want)
	}
}

func TestLoad_Overrides(t *testing.T) {
	path := writeConfig(t, "[server]\nport = 9000\n")
	t.Setenv("HAUL_PORT", "9100")
	t.Setenv("HAUL_DB", "/env/jobs.db")
	t.Setenv("HAUL_LOG_LEVEL", "warn")

	cfg, err := Load(path, Flags{})
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Server.Port != 9100 || cfg.Storage.DBPath != "/env/jobs.db" || cfg.Log.Level != "warn" {
		t.Errorf("env overrides not applied: %+v %+v", cfg.Server, cfg.Storage)
	}

	cfg, _ = Load(path, Flags{Port: 9200, DBPath: "/flag/jobs.db"})
	if cfg.Server.Port != 9200 || cfg.Storage.DBPath != "/flag/jobs.db" {
		t.Errorf("flags did not win over env: port=%d db=%s", cfg.Server.Port, cfg.Storage.DBPath)
	}
}

func TestLoad_Invalid(t *testing.T) {
	tests := []struct {
		name string
		body string
		want string
	}{
		{"zero cap", "[queue]\nmax_concurrent_downloads = 0\n", "max_concurrent_downloads"},
		{"negative retries", "[queue]\nretry_attempts = -1\n", "retry_attempts"},
		{"negative delay", "[queue]\nretry_delay_ms = -5\n", "retry_delay_ms"},
		{"unknown key", "[queue]\nmax_parallel = 2\n", "unknown keys"},
		{"bad format", "[log]\nformat = \"xml\"\n", "log.format"},
		{"syntax", "[queue\n", "read config"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tt.body), Flags{})
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Errorf("Load() error = %v, want mention of %q", err, tt.want)
			}
		})
	}
}

func TestParseFlags(t *testing.T) {
	f, err := ParseFlags([]string{"-port", "7000", "-tui", "-config", "/etc/haul.toml"})
	if err != nil {
		t.Fatalf("ParseFlags() error = %v", err)
	}
	if f.Port != 7000 || !f.TUI || f.ConfigPath != "/etc/haul.toml" {
		t.Errorf("ParseFlags() = %+v", f)
	}
	if _, err := ParseFlags([]string{"-bogus"}); err == nil {
		t.Error("ParseFlags() accepted an unknown flag")
	}
}

func TestProvider_Reload(t *testing.T) {
	path := writeConfig(t, "[queue]\nmax_concurrent_downloads = 2\n")
	p, err := NewProvider(path, Flags{})
	if err != nil {
		t.Fatalf("NewProvider() error = %v", err)
	}
	if got := p.Current().MaxConcurrentDownloads; got != 2 {
		t.Fatalf("MaxConcurrentDownloads = %d, want 2", got)
	}

	var notified domain.Settings
	p.OnChange(func(s domain.Settings) { notified = s })

	os.WriteFile(path, []byte("[queue]\nmax_concurrent_downloads = 4\n"), 0644)
	if err := p.Reload(); err != nil {
		t.Fatalf("Reload() error = %v", err)
	}
	if p.Current().MaxConcurrentDownloads != 4 || notified.MaxConcurrentDownloads != 4 {
		t.Errorf("after Reload() current=%d notified=%d, want 4", p.Current().MaxConcurrentDownloads, notified.MaxConcurrentDownloads)
	}

	os.WriteFile(path, []byte("[queue]\nmax_concurrent_downloads = 0\n"), 0644)
	if err := p.Reload(); err == nil {
		t.Error("Reload() accepted an invalid config")
	}
	if p.Current().MaxConcurrentDownloads != 4 {
		t.Error("invalid Reload() replaced the config")
	}
}
