// Package config handles TOML-based configuration loading and validation.
// Values are layered: defaults, then the config file, then environment
// variables. Command-line flags are applied on top by the caller.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"

	"mediarelay/internal/httputil"
)

const appName = "mediarelay"

// Duration is a time.Duration written as a string ("90s", "4m") in TOML.
type Duration struct {
	time.Duration
}

// UnmarshalText parses a duration string.
func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	d.Duration = v
	return nil
}

// MarshalText formats the duration.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// Config holds all application configuration.
type Config struct {
	Token          string   `toml:"token"`
	ChannelID      int64    `toml:"channel_id"`
	MaxFileSize    int64    `toml:"max_file_size"`
	DBPath         string   `toml:"db_path"`
	WorkDir        string   `toml:"work_dir"`
	APIBase        string   `toml:"api_base"`
	YtDlp          string   `toml:"ytdlp"`
	FFmpegLocation string   `toml:"ffmpeg_location"`
	Workers        int      `toml:"workers"`
	FetchTimeout   Duration `toml:"fetch_timeout"`
	AttemptTimeout Duration `toml:"attempt_timeout"`
	FetchAttempts  int      `toml:"fetch_attempts"`
	YtDlpRetries   int      `toml:"ytdlp_retries"`
	SocketTimeout  Duration `toml:"socket_timeout"`
	PollTimeout    Duration `toml:"poll_timeout"`
	RequestTimeout Duration `toml:"request_timeout"`
	Debug          bool     `toml:"debug"`
}

// Default returns the default configuration. There is no default token or channel.
func Default() *Config {
	dbPath, err := DataPath("cache.db")
	if err != nil {
		dbPath = "cache.db"
	}
	return &Config{
		MaxFileSize:    50 * 1024 * 1024,
		DBPath:         dbPath,
		WorkDir:        filepath.Join(os.TempDir(), appName),
		APIBase:        "https://api.telegram.org",
		YtDlp:          "yt-dlp",
		Workers:        4,
		FetchTimeout:   Duration{10 * time.Minute},
		AttemptTimeout: Duration{4 * time.Minute},
		FetchAttempts:  2,
		YtDlpRetries:   5,
		SocketTimeout:  Duration{30 * time.Second},
		PollTimeout:    Duration{50 * time.Second},
		RequestTimeout: Duration{15 * time.Minute},
	}
}

// configDir returns the XDG-compliant config directory.
func configDir() (string, error) {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, appName), nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("getting home directory: %w", err)
	}
	return filepath.Join(home, ".config", appName), nil
}

// ConfigPath returns the path to the config file.
func ConfigPath() (string, error) {
	dir, err := configDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.toml"), nil
}

// DataPath returns name inside the XDG data directory.
func DataPath(name string) (string, error) {
	dataDir := os.Getenv("XDG_DATA_HOME")
	if dataDir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("getting home directory: %w", err)
		}
		dataDir = filepath.Join(home, ".local", "share")
	}
	return filepath.Join(dataDir, appName, name), nil
}

// Load reads the config file, merges it over the defaults and applies
// environment overrides. A missing config file is not an error.
func Load() (*Config, error) {
	cfg := Default()

	if path, err := ConfigPath(); err == nil {
		data, err := os.ReadFile(path)
		switch {
		case err == nil:
			if err := toml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("parsing config %s: %w", path, err)
			}
		case !os.IsNotExist(err):
			return nil, fmt.Errorf("reading config: %w", err)
		}
	}

	if err := cfg.ApplyEnv(os.Getenv); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return cfg, nil
}

// ApplyEnv overrides fields from BOT_TOKEN, CHANNEL_ID, MAX_FILE_SIZE and CACHE_DB.
func (c *Config) ApplyEnv(getenv func(string) string) error {
	if v := getenv("BOT_TOKEN"); v != "" {
		c.Token = v
	}
	if v := getenv("CHANNEL_ID"); v != "" {
		id, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64)
		if err != nil {
			return fmt.Errorf("CHANNEL_ID %q: %w", v, err)
		}
		c.ChannelID = id
	}
	if v := getenv("MAX_FILE_SIZE"); v != "" {
		n, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64)
		if err != nil {
			return fmt.Errorf("MAX_FILE_SIZE %q: %w", v, err)
		}
		c.MaxFileSize = n
	}
	if v := getenv("CACHE_DB"); v != "" {
		c.DBPath = v
	}
	return nil
}

// Validate checks config values are within acceptable bounds.
func (c *Config) Validate() error {
	if c.MaxFileSize <= 0 {
		return fmt.Errorf("max_file_size must be positive, got %d", c.MaxFileSize)
	}
	if c.Workers < 1 || c.Workers > 64 {
		return fmt.Errorf("workers must be between 1 and 64, got %d", c.Workers)
	}
	if c.FetchAttempts < 1 || c.FetchAttempts > 10 {
		return fmt.Errorf("fetch_attempts must be between 1 and 10, got %d", c.FetchAttempts)
	}
	if c.YtDlpRetries < 0 {
		return fmt.Errorf("ytdlp_retries cannot be negative")
	}
	if c.DBPath == "" {
		return fmt.Errorf("db_path cannot be empty")
	}
	if c.WorkDir == "" {
		return fmt.Errorf("work_dir cannot be empty")
	}
	if c.YtDlp == "" {
		return fmt.Errorf("ytdlp cannot be empty")
	}
	if err := httputil.ValidateURL(c.APIBase); err != nil {
		return fmt.Errorf("api_base: %w", err)
	}

	for name, d := range map[string]time.Duration{
		"fetch_timeout":   c.FetchTimeout.Duration,
		"attempt_timeout": c.AttemptTimeout.Duration,
		"socket_timeout":  c.SocketTimeout.Duration,
		"poll_timeout":    c.PollTimeout.Duration,
	} {
		if d <= 0 {
			return fmt.Errorf("%s must be positive", name)
		}
	}
	if c.RequestTimeout.Duration < 0 {
		return fmt.Errorf("request_timeout cannot be negative")
	}

	return nil
}

// ValidateBot checks the settings required to talk to Telegram.
func (c *Config) ValidateBot() error {
	if c.Token == "" {
		return fmt.Errorf("bot token is required (set BOT_TOKEN or token in %s)", configHint())
	}
	if c.ChannelID == 0 {
		return fmt.Errorf("storage channel is required (set CHANNEL_ID or channel_id in %s)", configHint())
	}
	return nil
}

func configHint() string {
	if p, err := ConfigPath(); err == nil {
		return p
	}
	return "config.toml"
}

// ExpandPath resolves ~ at the start of a path and makes it absolute.
func ExpandPath(p string) (string, error) {
	if strings.HasPrefix(p, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("expanding home dir: %w", err)
		}
		p = filepath.Join(home, p[2:])
	}
	return filepath.Abs(p)
}
