package config

import (
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/loykin/livesync/internal/logger"
)

// FileConfig represents the top-level TOML structure.

type FileConfig struct {
	Stream  StreamConfig  `toml:"stream" mapstructure:"stream"`
	API     APIConfig     `toml:"api" mapstructure:"api"`
	History HistoryConfig `toml:"history" mapstructure:"history"`
	Notify  NotifyConfig  `toml:"notify" mapstructure:"notify"`
	Server  ServerConfig  `toml:"server" mapstructure:"server"`
	Log     LogConfig     `toml:"log" mapstructure:"log"`
}

type StreamConfig struct {
	URL             string        `toml:"url" mapstructure:"url"`
	BaseDelay       time.Duration `toml:"base_delay" mapstructure:"base_delay"`
	MaxDelay        time.Duration `toml:"max_delay" mapstructure:"max_delay"`
	Jitter          float64       `toml:"jitter" mapstructure:"jitter"`
	StabilityWindow time.Duration `toml:"stability_window" mapstructure:"stability_window"`
}

type APIConfig struct {
	BaseURL string        `toml:"base_url" mapstructure:"base_url"`
	Timeout time.Duration `toml:"timeout" mapstructure:"timeout"`
}

type HistoryConfig struct {
	Capacity  int    `toml:"capacity" mapstructure:"capacity"`
	SQLiteDSN string `toml:"sqlite_dsn" mapstructure:"sqlite_dsn"`
}

type NotifyConfig struct {
	DedupeWindow time.Duration `toml:"dedupe_window" mapstructure:"dedupe_window"`
}

type ServerConfig struct {
	Addr     string `toml:"addr" mapstructure:"addr"`
	BasePath string `toml:"base_path" mapstructure:"base_path"`
}

type LogConfig struct {
	Dir        string `toml:"dir" mapstructure:"dir"`
	File       string `toml:"file" mapstructure:"file"`
	Level      string `toml:"level" mapstructure:"level"`
	MaxSizeMB  int    `toml:"max_size_mb" mapstructure:"max_size_mb"`
	MaxBackups int    `toml:"max_backups" mapstructure:"max_backups"`
	MaxAgeDays int    `toml:"max_age_days" mapstructure:"max_age_days"`
	Compress   bool   `toml:"compress" mapstructure:"compress"`
}

// Default returns the configuration used when no file is given.
func Default() FileConfig {
	return FileConfig{
		Stream: StreamConfig{
			URL:             "ws://localhost:8000/ws",
			BaseDelay:       500 * time.Millisecond,
			MaxDelay:        30 * time.Second,
			Jitter:          0.2,
			StabilityWindow: 10 * time.Second,
		},
		API: APIConfig{
			BaseURL: "http://localhost:8000/api",
			Timeout: 10 * time.Second,
		},
		History: HistoryConfig{Capacity: 100},
		Notify:  NotifyConfig{DedupeWindow: 2500 * time.Millisecond},
		Server:  ServerConfig{Addr: ":8089"},
		Log:     LogConfig{Level: "info"},
	}
}

// Load reads TOML configuration from path and applies environment
// overrides. An empty path yields defaults. LIVESYNC_STREAM_URL and
// LIVESYNC_API_BASE_URL override the endpoints so deployments can
// retarget the backend without editing the file.
func Load(path string) (FileConfig, error) {
	fc := Default()
	if path != "" {
		v := viper.New()
		v.SetConfigFile(path)
		v.SetConfigType("toml")
		if err := v.ReadInConfig(); err != nil {
			return FileConfig{}, fmt.Errorf("read config %s: %w", path, err)
		}
		if err := v.Unmarshal(&fc); err != nil {
			return FileConfig{}, fmt.Errorf("parse config %s: %w", path, err)
		}
	}
	if u := os.Getenv("LIVESYNC_STREAM_URL"); u != "" {
		fc.Stream.URL = u
	}
	if u := os.Getenv("LIVESYNC_API_BASE_URL"); u != "" {
		fc.API.BaseURL = u
	}
	if err := fc.Validate(); err != nil {
		return FileConfig{}, err
	}
	return fc, nil
}

// Validate checks endpoint syntax and value ranges.
func (fc FileConfig) Validate() error {
	u, err := url.Parse(fc.Stream.URL)
	if err != nil {
		return fmt.Errorf("stream.url: %w", err)
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		return fmt.Errorf("stream.url: scheme must be ws or wss, got %q", u.Scheme)
	}
	a, err := url.Parse(fc.API.BaseURL)
	if err != nil {
		return fmt.Errorf("api.base_url: %w", err)
	}
	if a.Scheme != "http" && a.Scheme != "https" {
		return fmt.Errorf("api.base_url: scheme must be http or https, got %q", a.Scheme)
	}
	if fc.Stream.BaseDelay <= 0 {
		return fmt.Errorf("stream.base_delay must be positive")
	}
	if fc.Stream.MaxDelay < fc.Stream.BaseDelay {
		return fmt.Errorf("stream.max_delay must be >= stream.base_delay")
	}
	if fc.Stream.Jitter < 0 || fc.Stream.Jitter > 1 {
		return fmt.Errorf("stream.jitter must be within [0, 1]")
	}
	if fc.History.Capacity <= 0 {
		return fmt.Errorf("history.capacity must be positive")
	}
	if fc.Notify.DedupeWindow <= 0 {
		return fmt.Errorf("notify.dedupe_window must be positive")
	}
	switch strings.ToLower(fc.Log.Level) {
	case "", "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("log.level must be one of debug, info, warn, error")
	}
	return nil
}

// LoggerConfig converts the log section into the logger package's config.
func (fc FileConfig) LoggerConfig() logger.Config {
	return logger.Config{
		Dir:        fc.Log.Dir,
		File:       fc.Log.File,
		Level:      fc.Log.Level,
		MaxSizeMB:  fc.Log.MaxSizeMB,
		MaxBackups: fc.Log.MaxBackups,
		MaxAgeDays: fc.Log.MaxAgeDays,
		Compress:   fc.Log.Compress,
	}
}
