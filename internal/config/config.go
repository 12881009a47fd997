package config

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all feedline configuration.
type Config struct {
	// State directory for session files, sqlite database and logs
	StateDir string `yaml:"state_dir"`

	// Backend REST API
	API APIConfig `yaml:"api"`

	// Durable session storage
	Session SessionConfig `yaml:"session"`

	// Feed and list pagination
	Feed FeedConfig `yaml:"feed"`

	// People search
	Search SearchConfig `yaml:"search"`

	// Live notification push channel
	Push PushConfig `yaml:"push"`

	// Logging
	Logging LoggingConfig `yaml:"logging"`
}

// APIConfig configures the HTTP client wrapper.
type APIConfig struct {
	BaseURL      string `yaml:"base_url"`
	MediaBaseURL string `yaml:"media_base_url"` // avatar/media references; defaults to BaseURL
	AuthPath     string `yaml:"auth_path"`      // password grant endpoint
	SignInURL    string `yaml:"sign_in_url"`    // where users are sent after a forced logout
	Timeout      string `yaml:"timeout"`
}

// SessionConfig configures where the bearer token is persisted.
type SessionConfig struct {
	Backend      string      `yaml:"backend"`       // file, sqlite, redis, memory
	Path         string      `yaml:"path"`          // file/sqlite location, relative to StateDir
	SQLiteDriver string      `yaml:"sqlite_driver"` // sqlite3 (cgo) or sqlite (pure Go)
	TTL          string      `yaml:"ttl"`           // lifetime of session-scoped entries
	Follow       bool        `yaml:"follow"`        // react to changes made by other processes
	Redis        RedisConfig `yaml:"redis"`
}

// RedisConfig configures the redis session backend.
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	TLS      bool   `yaml:"tls"`
	Prefix   string `yaml:"prefix"`
}

// FeedConfig configures paginated lists.
type FeedConfig struct {
	PageSize int `yaml:"page_size"`
}

// SearchConfig configures debounced search.
type SearchConfig struct {
	Debounce      string  `yaml:"debounce"`
	RatePerSecond float64 `yaml:"rate_per_second"`
	Burst         int     `yaml:"burst"`
}

// PushConfig configures the live notification source.
type PushConfig struct {
	Transport  string `yaml:"transport"` // websocket, nats, amqp, none
	URL        string `yaml:"url"`
	Subject    string `yaml:"subject"` // nats subject
	Queue      string `yaml:"queue"`   // amqp queue
	MaxBackoff string `yaml:"max_backoff"`
}

// DefaultStateDir returns ~/.feedline, or ./.feedline when no home is available.
func DefaultStateDir() string {
	home, err := os.UserHomeDir()
	if err != nil || home == "" {
		return ".feedline"
	}
	return filepath.Join(home, ".feedline")
}

// DefaultConfigPath returns the default config file location.
func DefaultConfigPath() string {
	return filepath.Join(DefaultStateDir(), "config.yaml")
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		StateDir: DefaultStateDir(),

		API: APIConfig{
			BaseURL:   "http://localhost:8080/api",
			AuthPath:  "/auth/token",
			SignInURL: "http://localhost:8080/sign-in",
			Timeout:   "30s",
		},

		Session: SessionConfig{
			Backend:      "file",
			Path:         "session.json",
			SQLiteDriver: "sqlite3",
			TTL:          "12h",
			Follow:       true,
			Redis: RedisConfig{
				Addr:   "localhost:6379",
				Prefix: "feedline",
			},
		},

		Feed: FeedConfig{PageSize: 10},

		Search: SearchConfig{
			Debounce:      "300ms",
			RatePerSecond: 2,
			Burst:         1,
		},

		Push: PushConfig{
			Transport:  "websocket",
			Subject:    "notifications",
			Queue:      "notifications",
			MaxBackoff: "30s",
		},

		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// Load loads configuration from a YAML file.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	} else if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	cfg.applyEnvOverrides()
	return cfg, nil
}

// Save saves configuration to a YAML file.
func (c *Config) Save(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	return nil
}

// applyEnvOverrides applies environment variable overrides.
func (c *Config) applyEnvOverrides() {
	if v := os.Getenv("FEEDLINE_STATE_DIR"); v != "" {
		c.StateDir = v
	}
	if v := os.Getenv("FEEDLINE_API_URL"); v != "" {
		c.API.BaseURL = v
	}
	if v := os.Getenv("FEEDLINE_MEDIA_URL"); v != "" {
		c.API.MediaBaseURL = v
	}
	if v := os.Getenv("FEEDLINE_SIGN_IN_URL"); v != "" {
		c.API.SignInURL = v
	}

	if v := os.Getenv("FEEDLINE_SESSION_BACKEND"); v != "" {
		c.Session.Backend = v
	}
	if v := os.Getenv("FEEDLINE_SESSION_PATH"); v != "" {
		c.Session.Path = v
	}
	if v := os.Getenv("FEEDLINE_REDIS_ADDR"); v != "" {
		c.Session.Redis.Addr = v
	}
	if v := os.Getenv("FEEDLINE_REDIS_PASSWORD"); v != "" {
		c.Session.Redis.Password = v
	}
	if v := os.Getenv("FEEDLINE_REDIS_DB"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Session.Redis.DB = n
		}
	}

	if v := os.Getenv("FEEDLINE_PUSH_TRANSPORT"); v != "" {
		c.Push.Transport = v
	}
	if v := os.Getenv("FEEDLINE_PUSH_URL"); v != "" {
		c.Push.URL = v
	}

	if v := os.Getenv("FEEDLINE_DEBUG"); v != "" {
		switch strings.ToLower(v) {
		case "1", "true", "yes", "on":
			c.Logging.DebugMode = true
		case "0", "false", "no", "off":
			c.Logging.DebugMode = false
		}
	}
}

// GetAPITimeout returns the HTTP client timeout as a duration.
func (c *Config) GetAPITimeout() time.Duration {
	return parseDuration(c.API.Timeout, 30*time.Second)
}

// GetSessionTTL returns the lifetime of session-scoped entries.
func (c *Config) GetSessionTTL() time.Duration {
	return parseDuration(c.Session.TTL, 12*time.Hour)
}

// GetSearchDebounce returns the search quiet period.
func (c *Config) GetSearchDebounce() time.Duration {
	return parseDuration(c.Search.Debounce, 300*time.Millisecond)
}

// GetPushMaxBackoff returns the reconnect backoff ceiling for push sources.
func (c *Config) GetPushMaxBackoff() time.Duration {
	return parseDuration(c.Push.MaxBackoff, 30*time.Second)
}

// MediaBaseURL returns the base used to resolve relative media references.
func (c *Config) MediaBaseURL() string {
	if c.API.MediaBaseURL != "" {
		return c.API.MediaBaseURL
	}
	return c.API.BaseURL
}

// PushURL returns the push endpoint. For the websocket transport it
// defaults to <base_url>/ws/notifications with the scheme switched to
// ws or wss.
func (c *Config) PushURL() string {
	if c.Push.URL != "" || c.Push.Transport != "websocket" {
		return c.Push.URL
	}
	u, err := url.Parse(c.API.BaseURL)
	if err != nil || u.Host == "" {
		return ""
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	default:
		u.Scheme = "ws"
	}
	u.Path = strings.TrimSuffix(u.Path, "/") + "/ws/notifications"
	u.RawQuery = ""
	return u.String()
}

// SessionPath returns the absolute file/sqlite location for the session backend.
func (c *Config) SessionPath() string {
	if filepath.IsAbs(c.Session.Path) {
		return c.Session.Path
	}
	return filepath.Join(c.StateDir, c.Session.Path)
}

// PageSize returns the configured page size, never below 1.
func (c *Config) PageSize() int {
	if c.Feed.PageSize < 1 {
		return 10
	}
	return c.Feed.PageSize
}

func parseDuration(s string, def time.Duration) time.Duration {
	d, err := time.ParseDuration(s)
	if err != nil || d <= 0 {
		return def
	}
	return d
}

// ValidBackends lists all supported session backends.
var ValidBackends = []string{"file", "sqlite", "redis", "memory"}

// ValidTransports lists all supported push transports.
var ValidTransports = []string{"websocket", "nats", "amqp", "none"}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if c.API.BaseURL == "" {
		return fmt.Errorf("api.base_url not configured (set FEEDLINE_API_URL)")
	}
	if !contains(ValidBackends, c.Session.Backend) {
		return fmt.Errorf("invalid session backend: %s (valid: %v)", c.Session.Backend, ValidBackends)
	}
	if c.Session.Backend == "sqlite" && c.Session.SQLiteDriver != "sqlite3" && c.Session.SQLiteDriver != "sqlite" {
		return fmt.Errorf("invalid sqlite driver: %s (valid: sqlite3, sqlite)", c.Session.SQLiteDriver)
	}
	if !contains(ValidTransports, c.Push.Transport) {
		return fmt.Errorf("invalid push transport: %s (valid: %v)", c.Push.Transport, ValidTransports)
	}
	return nil
}

func contains(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}
