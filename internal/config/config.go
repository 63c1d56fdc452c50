package config

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/cwygoda/haul/internal/domain"
)

// Config holds application configuration.
type Config struct {
	Server  ServerConfig  `toml:"server"`
	Storage StorageConfig `toml:"storage"`
	Queue   QueueConfig   `toml:"queue"`
	Torrent TorrentConfig `toml:"torrent"`
	Media   MediaConfig   `toml:"media"`
	Log     LogConfig     `toml:"log"`
}

type ServerConfig struct {
	Port int `toml:"port"`
	// Secret enables request signing on mutating endpoints when set.
	Secret string `toml:"secret"`
}

type StorageConfig struct {
	DBPath       string `toml:"db_path"`
	DownloadDir  string `toml:"download_dir"`
	MinFreeBytes uint64 `toml:"min_free_bytes"`
}

type QueueConfig struct {
	MaxConcurrentDownloads int   `toml:"max_concurrent_downloads"`
	TorrentMaxConcurrent   int   `toml:"torrent_max_concurrent"`
	QueueEnabled           bool  `toml:"queue_enabled"`
	RetryAttempts          int   `toml:"retry_attempts"`
	RetryDelayMs           int64 `toml:"retry_delay_ms"`
	RetryResolutionErrors  bool  `toml:"retry_resolution_errors"`
}

type TorrentConfig struct {
	Connections int   `toml:"connections"`
	Segments    int   `toml:"segments"`
	SegmentSize int64 `toml:"segment_size"`
	Seed        bool  `toml:"seed"`
	ListenPort  int   `toml:"listen_port"`
}

type MediaConfig struct {
	CookieFilePath string `toml:"cookie_file_path"`
}

type LogConfig struct {
	Level  string `toml:"level"`
	Format string `toml:"format"`
}

// Flags are the command line options.
type Flags struct {
	ConfigPath string
	Port       int
	DBPath     string
	TUI        bool
}

// DefaultConfigPath returns the default config file path using XDG_CONFIG_HOME.
func DefaultConfigPath() string {
	dir := os.Getenv("XDG_CONFIG_HOME")
	if dir == "" {
		home, _ := os.UserHomeDir()
		dir = filepath.Join(home, ".config")
	}
	return filepath.Join(dir, "haul", "config.toml")
}

// DefaultDBPath returns the default database path using XDG_DATA_HOME.
func DefaultDBPath() string {
	dir := os.Getenv("XDG_DATA_HOME")
	if dir == "" {
		home, _ := os.UserHomeDir()
		dir = filepath.Join(home, ".local", "share")
	}
	return filepath.Join(dir, "haul", "jobs.db")
}

// DefaultDownloadDir returns the default download directory.
func DefaultDownloadDir() string {
	home, _ := os.UserHomeDir()
	return filepath.Join(home, "Downloads")
}

// ExpandPath expands a leading ~ to the user's home directory.
func ExpandPath(p string) string {
	if p == "~" || strings.HasPrefix(p, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return p
		}
		return filepath.Join(home, strings.TrimPrefix(p, "~"))
	}
	return p
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Server: ServerConfig{Port: 8080},
		Storage: StorageConfig{
			DBPath:       DefaultDBPath(),
			DownloadDir:  DefaultDownloadDir(),
			MinFreeBytes: 512 << 20,
		},
		Queue: QueueConfig{
			MaxConcurrentDownloads: 3,
			TorrentMaxConcurrent:   2,
			QueueEnabled:           true,
			RetryAttempts:          3,
			RetryDelayMs:           5000,
		},
		Torrent: TorrentConfig{
			Connections: 50,
			Segments:    25,
			SegmentSize: 64 << 20,
		},
		Log: LogConfig{Level: "info", Format: "console"},
	}
}

// ParseFlags parses command line arguments.
func ParseFlags(args []string) (Flags, error) {
	var f Flags
	fs := flag.NewFlagSet("haul", flag.ContinueOnError)
	fs.StringVar(&f.ConfigPath, "config", DefaultConfigPath(), "Config file path")
	fs.IntVar(&f.Port, "port", 0, "HTTP server port (overrides config)")
	fs.StringVar(&f.DBPath, "db", "", "SQLite database path (overrides config)")
	fs.BoolVar(&f.TUI, "tui", false, "Run the terminal dashboard")
	if err := fs.Parse(args); err != nil {
		return Flags{}, err
	}
	return f, nil
}

// Load reads the config file at path, then applies environment and flag
// overrides. A missing file yields the defaults.
func Load(path string, flags Flags) (*Config, error) {
	cfg := Default()

	md, err := toml.DecodeFile(path, cfg)
	switch {
	case errors.Is(err, os.ErrNotExist):
	case err != nil:
		return nil, fmt.Errorf("read config %s: %w", path, err)
	default:
		if undecoded := md.Undecoded(); len(undecoded) > 0 {
			keys := make([]string, len(undecoded))
			for i, k := range undecoded {
				keys[i] = k.String()
			}
			return nil, fmt.Errorf("read config %s: unknown keys %s", path, strings.Join(keys, ", "))
		}
	}

	cfg.applyEnv()
	cfg.applyFlags(flags)
	cfg.Storage.DBPath = ExpandPath(cfg.Storage.DBPath)
	cfg.Storage.DownloadDir = ExpandPath(cfg.Storage.DownloadDir)
	cfg.Media.CookieFilePath = ExpandPath(cfg.Media.CookieFilePath)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() {
	if port := os.Getenv("HAUL_PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			c.Server.Port = p
		}
	}
	if db := os.Getenv("HAUL_DB"); db != "" {
		c.Storage.DBPath = db
	}
	if dir := os.Getenv("HAUL_DOWNLOAD_DIR"); dir != "" {
		c.Storage.DownloadDir = dir
	}
	if level := os.Getenv("HAUL_LOG_LEVEL"); level != "" {
		c.Log.Level = level
	}
}

func (c *Config) applyFlags(f Flags) {
	if f.Port != 0 {
		c.Server.Port = f.Port
	}
	if f.DBPath != "" {
		c.Storage.DBPath = f.DBPath
	}
}

// Validate checks option ranges.
func (c *Config) Validate() error {
	var errs []error
	if c.Server.Port < 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("server.port %d out of range", c.Server.Port))
	}
	if c.Queue.MaxConcurrentDownloads < 1 {
		errs = append(errs, fmt.Errorf("queue.max_concurrent_downloads must be >= 1, got %d", c.Queue.MaxConcurrentDownloads))
	}
	if c.Queue.TorrentMaxConcurrent < 1 {
		errs = append(errs, fmt.Errorf("queue.torrent_max_concurrent must be >= 1, got %d", c.Queue.TorrentMaxConcurrent))
	}
	if c.Queue.RetryAttempts < 0 {
		errs = append(errs, fmt.Errorf("queue.retry_attempts must be >= 0, got %d", c.Queue.RetryAttempts))
	}
	if c.Queue.RetryDelayMs < 0 {
		errs = append(errs, fmt.Errorf("queue.retry_delay_ms must be >= 0, got %d", c.Queue.RetryDelayMs))
	}
	if c.Torrent.Connections < 0 || c.Torrent.Segments < 0 || c.Torrent.SegmentSize < 0 {
		errs = append(errs, errors.New("torrent tuning values must be >= 0"))
	}
	if c.Storage.DBPath == "" {
		errs = append(errs, errors.New("storage.db_path is empty"))
	}
	switch c.Log.Format {
	case "json", "console":
	default:
		errs = append(errs, fmt.Errorf("log.format must be json or console, got %q", c.Log.Format))
	}
	return errors.Join(errs...)
}

// Settings returns the queue settings derived from the config.
func (c *Config) Settings() domain.Settings {
	return domain.Settings{
		MaxConcurrentDownloads: c.Queue.MaxConcurrentDownloads,
		TorrentMaxConcurrent:   c.Queue.TorrentMaxConcurrent,
		QueueEnabled:           c.Queue.QueueEnabled,
		RetryAttempts:          c.Queue.RetryAttempts,
		RetryDelay:             time.Duration(c.Queue.RetryDelayMs) * time.Millisecond,
		RetryResolutionErrors:  c.Queue.RetryResolutionErrors,
		Transfer: domain.TransferTuning{
			Connections: c.Torrent.Connections,
			Segments:    c.Torrent.Segments,
			SegmentSize: c.Torrent.SegmentSize,
		},
		CookieFilePath: c.Media.CookieFilePath,
	}
}
