package chatsync

import (
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"os"
	"strconv"
	"time"

	"github.com/goccy/go-yaml"
	"github.com/joho/godotenv"
)

// Config controls how the SDK connects.
type Config struct {
	URL               string // websocket endpoint
	APIBaseURL        string // REST base, e.g. "http://localhost:8080/api"
	Token             string // bearer credential for both transports
	UserID            string // viewer id; derived from Token when empty
	HandshakeTimeout  time.Duration
	ReadTimeout       time.Duration
	WriteTimeout      time.Duration
	RequestTimeout    time.Duration
	AutoReconnect     bool
	ReconnectInterval time.Duration
	MaxReconnectDelay time.Duration
	MaxReconnectTries int // 0 means unlimited
	LogLevel          string
}

// DefaultConfig returns sensible defaults.
// ReadTimeout is disabled because an idle room produces no frames.
func DefaultConfig() Config {
	return Config{
		HandshakeTimeout:  10 * time.Second,
		WriteTimeout:      10 * time.Second,
		RequestTimeout:    30 * time.Second,
		AutoReconnect:     true,
		ReconnectInterval: time.Second,
		MaxReconnectDelay: 30 * time.Second,
		LogLevel:          "info",
	}
}

// Validate reports the first invalid field.
func (c Config) Validate() error {
	if c.URL == "" {
		return NewError(ErrorInvalidConfig, "empty URL")
	}
	if _, err := url.Parse(c.URL); err != nil {
		return WrapError(ErrorInvalidConfig, "invalid URL", err)
	}
	if c.APIBaseURL != "" {
		if _, err := url.Parse(c.APIBaseURL); err != nil {
			return WrapError(ErrorInvalidConfig, "invalid API base URL", err)
		}
	}
	if c.AutoReconnect && c.ReconnectInterval <= 0 {
		return NewError(ErrorInvalidConfig, "reconnect interval must be positive")
	}
	if c.MaxReconnectDelay > 0 && c.MaxReconnectDelay < c.ReconnectInterval {
		return NewError(ErrorInvalidConfig, "max reconnect delay is shorter than reconnect interval")
	}
	if c.MaxReconnectTries < 0 {
		return NewError(ErrorInvalidConfig, "max reconnect tries must not be negative")
	}
	return nil
}

// fileConfig is the on-disk YAML shape. Durations are strings such as "10s".
type fileConfig struct {
	URL               string `yaml:"url"`
	APIBaseURL        string `yaml:"api_base_url"`
	Token             string `yaml:"token"`
	UserID            string `yaml:"user_id"`
	HandshakeTimeout  string `yaml:"handshake_timeout"`
	ReadTimeout       string `yaml:"read_timeout"`
	WriteTimeout      string `yaml:"write_timeout"`
	RequestTimeout    string `yaml:"request_timeout"`
	AutoReconnect     *bool  `yaml:"auto_reconnect"`
	ReconnectInterval string `yaml:"reconnect_interval"`
	MaxReconnectDelay string `yaml:"max_reconnect_delay"`
	MaxReconnectTries *int   `yaml:"max_reconnect_tries"`
	LogLevel          string `yaml:"log_level"`
}

// LoadConfig builds a Config from defaults, an optional YAML file and
// CHATSYNC_* environment variables, in that order of precedence. A .env file
// in the working directory is loaded first when present.
func LoadConfig(path string) (Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return Config{}, WrapError(ErrorInvalidConfig, "failed to load .env", err)
	}
	cfg := DefaultConfig()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, WrapError(ErrorInvalidConfig, "failed to read config file", err)
		}
		var fc fileConfig
		if err := yaml.Unmarshal(data, &fc); err != nil {
			return Config{}, WrapError(ErrorInvalidConfig, "failed to parse config file", err)
		}
		if err := fc.apply(&cfg); err != nil {
			return Config{}, err
		}
	}
	if err := applyEnv(&cfg); err != nil {
		return Config{}, err
	}
	return cfg, cfg.Validate()
}

func (fc fileConfig) apply(cfg *Config) error {
	setString(&cfg.URL, fc.URL)
	setString(&cfg.APIBaseURL, fc.APIBaseURL)
	setString(&cfg.Token, fc.Token)
	setString(&cfg.UserID, fc.UserID)
	setString(&cfg.LogLevel, fc.LogLevel)
	if fc.AutoReconnect != nil {
		cfg.AutoReconnect = *fc.AutoReconnect
	}
	if fc.MaxReconnectTries != nil {
		cfg.MaxReconnectTries = *fc.MaxReconnectTries
	}
	durations := []struct {
		name string
		raw  string
		dst  *time.Duration
	}{
		{"handshake_timeout", fc.HandshakeTimeout, &cfg.HandshakeTimeout},
		{"read_timeout", fc.ReadTimeout, &cfg.ReadTimeout},
		{"write_timeout", fc.WriteTimeout, &cfg.WriteTimeout},
		{"request_timeout", fc.RequestTimeout, &cfg.RequestTimeout},
		{"reconnect_interval", fc.ReconnectInterval, &cfg.ReconnectInterval},
		{"max_reconnect_delay", fc.MaxReconnectDelay, &cfg.MaxReconnectDelay},
	}
	for _, d := range durations {
		if err := setDuration(d.dst, d.raw); err != nil {
			return WrapError(ErrorInvalidConfig, "invalid "+d.name, err)
		}
	}
	return nil
}

func applyEnv(cfg *Config) error {
	setString(&cfg.URL, os.Getenv("CHATSYNC_URL"))
	setString(&cfg.APIBaseURL, os.Getenv("CHATSYNC_API_URL"))
	setString(&cfg.Token, os.Getenv("CHATSYNC_TOKEN"))
	setString(&cfg.UserID, os.Getenv("CHATSYNC_USER_ID"))
	setString(&cfg.LogLevel, os.Getenv("CHATSYNC_LOG_LEVEL"))
	if raw := os.Getenv("CHATSYNC_AUTO_RECONNECT"); raw != "" {
		v, err := strconv.ParseBool(raw)
		if err != nil {
			return WrapError(ErrorInvalidConfig, "invalid CHATSYNC_AUTO_RECONNECT", err)
		}
		cfg.AutoReconnect = v
	}
	if err := setDuration(&cfg.RequestTimeout, os.Getenv("CHATSYNC_REQUEST_TIMEOUT")); err != nil {
		return WrapError(ErrorInvalidConfig, "invalid CHATSYNC_REQUEST_TIMEOUT", err)
	}
	return nil
}

func setString(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}

func setDuration(dst *time.Duration, raw string) error {
	if raw == "" {
		return nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return err
	}
	if d < 0 {
		return fmt.Errorf("negative duration %s", raw)
	}
	*dst = d
	return nil
}
