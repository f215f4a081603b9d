// Package config loads the command-line tool's YAML configuration.
//
// The file is read from the --config flag, else TICKETIZER_CONFIG, else
// $XDG_CONFIG_HOME/ticketizer/config.yaml. Only the default location may be
// absent; an explicitly named file must exist. Flags override file values.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/jmcleod/ticketizer/backend"
)

// EnvConfig names the environment variable holding the config file path.
const EnvConfig = "TICKETIZER_CONFIG"

// Config is the tool configuration.
type Config struct {
	Backend  BackendConfig  `yaml:"backend"`
	Paths    PathsConfig    `yaml:"paths"`
	Account  AccountConfig  `yaml:"account"`
	Search   SearchConfig   `yaml:"search"`
	Purchase PurchaseConfig `yaml:"purchase"`
	Log      LogConfig      `yaml:"log"`
}

// BackendConfig configures the HTTP client.
type BackendConfig struct {
	// BaseURL is the root the endpoint paths are resolved against.
	BaseURL string `yaml:"base_url"`
	// Timeout bounds each request.
	Timeout   time.Duration `yaml:"timeout"`
	UserAgent string        `yaml:"user_agent"`
}

// PathsConfig configures local files.
type PathsConfig struct {
	// DataDir holds the bbolt database with the station cache and order ledger.
	// An empty value keeps everything in memory.
	DataDir string `yaml:"data_dir"`
}

type AccountConfig struct {
	Username string `yaml:"username"`
}

// SearchConfig holds search defaults.
type SearchConfig struct {
	From      string   `yaml:"from"`
	To        string   `yaml:"to"`
	Student   bool     `yaml:"student"`
	Sort      []string `yaml:"sort"`
	Favorites []string `yaml:"favorites"`
	// StationTTL is how long the cached station table is trusted.
	StationTTL time.Duration `yaml:"station_ttl"`
}

// PurchaseConfig holds purchase defaults.
type PurchaseConfig struct {
	// CaptchaRetries is the number of extra captcha attempts after the first.
	CaptchaRetries int           `yaml:"captcha_retries"`
	PollInterval   time.Duration `yaml:"poll_interval"`
	// CaptchaDir is where captcha images are written for the user to view.
	CaptchaDir string `yaml:"captcha_dir"`
}

// LogConfig configures slog output.
type LogConfig struct {
	// Level is one of debug, info, warn, error.
	Level string `yaml:"level"`
	// Format is json or text.
	Format string `yaml:"format"`
}

// Default returns the configuration used when no file is present.
func Default() *Config {
	dataDir := ""
	if dir, err := os.UserConfigDir(); err == nil {
		dataDir = filepath.Join(dir, "ticketizer")
	}
	return &Config{
		Backend: BackendConfig{
			BaseURL:   backend.DefaultBaseURL,
			Timeout:   30 * time.Second,
			UserAgent: backend.DefaultUserAgent,
		},
		Paths: PathsConfig{DataDir: dataDir},
		Search: SearchConfig{
			Sort:       []string{"departure"},
			StationTTL: 7 * 24 * time.Hour,
		},
		Purchase: PurchaseConfig{
			CaptchaRetries: 3,
			PollInterval:   2 * time.Second,
			CaptchaDir:     os.TempDir(),
		},
		Log: LogConfig{Level: "warn", Format: "json"},
	}
}

// DefaultPath returns the config location used when neither the flag nor
// TICKETIZER_CONFIG names one.
func DefaultPath() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return ""
	}
	return filepath.Join(dir, "ticketizer", "config.yaml")
}

// Load resolves the config path and loads it. path is the --config flag value.
func Load(path string) (*Config, error) {
	if path == "" {
		path = os.Getenv(EnvConfig)
	}
	if path != "" {
		return LoadFile(path)
	}
	cfg, err := LoadFile(DefaultPath())
	if errors.Is(err, fs.ErrNotExist) {
		return Default(), nil
	}
	return cfg, err
}

// LoadFile merges the file at path over Default and validates the result.
func LoadFile(path string) (*Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}
	cfg.expandVariables()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

func (c *Config) expandVariables() {
	c.Paths.DataDir = os.ExpandEnv(c.Paths.DataDir)
	c.Purchase.CaptchaDir = os.ExpandEnv(c.Purchase.CaptchaDir)
}

// Validate reports the first invalid setting.
func (c *Config) Validate() error {
	u, err := url.Parse(c.Backend.BaseURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("backend.base_url %q is not an absolute URL", c.Backend.BaseURL)
	}
	if c.Backend.Timeout < 0 {
		return fmt.Errorf("backend.timeout must not be negative")
	}
	if c.Purchase.CaptchaRetries < 0 {
		return fmt.Errorf("purchase.captcha_retries must not be negative")
	}
	if c.Purchase.PollInterval < 0 {
		return fmt.Errorf("purchase.poll_interval must not be negative")
	}
	if _, err := c.Log.SlogLevel(); err != nil {
		return err
	}
	switch c.Log.Format {
	case "json", "text":
	default:
		return fmt.Errorf("log.format %q is not json or text", c.Log.Format)
	}
	return nil
}

// SlogLevel parses Level.
func (l LogConfig) SlogLevel() (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(strings.ToUpper(l.Level))); err != nil {
		return 0, fmt.Errorf("log.level %q: %w", l.Level, err)
	}
	return level, nil
}

// DatabasePath is the bbolt file inside DataDir, or "" for in-memory storage.
func (c *Config) DatabasePath() string {
	if c.Paths.DataDir == "" {
		return ""
	}
	return filepath.Join(c.Paths.DataDir, "ticketizer.db")
}
