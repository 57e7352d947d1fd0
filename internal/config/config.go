// Package config loads pagekeeper settings from a YAML file and PAGEKEEPER_*
// environment variables. Environment values override the file.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/mitchellh/go-homedir"
	"gopkg.in/yaml.v3"

	"github.com/agentworkforce/pagekeeper/internal/pagedoc"
)

const (
	DefaultPath           = "~/.config/pagekeeper.yaml"
	DefaultCacheDSN       = "~/.pagekeeper/cache"
	DefaultDownloadDir    = "~/.pagekeeper/downloads"
	DefaultAddr           = "127.0.0.1:8090"
	DefaultRefreshTimeout = time.Second
	DefaultListTimeout    = 3 * time.Second
	DefaultSaveTimeout    = 5 * time.Second
	DefaultPollInterval   = 500 * time.Millisecond
	DefaultMemoryPages    = 64
)

type Config struct {
	Remote    Remote                 `yaml:"remote"`
	Cache     Cache                  `yaml:"cache"`
	Downloads Downloads              `yaml:"downloads"`
	Assets    Assets                 `yaml:"assets"`
	Structure pagedoc.StructureRules `yaml:"structure"`
	Dedupe    Dedupe                 `yaml:"dedupe"`
	Registry  Registry               `yaml:"registry"`
	Server    Server                 `yaml:"server"`
	Log       Log                    `yaml:"log"`
	Event     pagedoc.EventContext   `yaml:"event"`
}

// Remote configures the remote page store. An empty BaseURL disables it.
type Remote struct {
	BaseURL        string        `yaml:"base_url"`
	Token          string        `yaml:"token"`
	RefreshTimeout time.Duration `yaml:"refresh_timeout"`
	ListTimeout    time.Duration `yaml:"list_timeout"`
	SaveTimeout    time.Duration `yaml:"save_timeout"`
}

type Cache struct {
	DSN         string `yaml:"dsn"`
	MemoryPages int    `yaml:"memory_pages"`
}

type Downloads struct {
	Dir string `yaml:"dir"`
}

// Assets points at the shared event file (banner, event name, date) that
// seeds templates.
type Assets struct {
	EventFile    string        `yaml:"event_file"`
	PollInterval time.Duration `yaml:"poll_interval"`
	ForcePolling bool          `yaml:"force_polling"`
}

type Dedupe struct {
	SingletonTypes []string `yaml:"singleton_types"`
}

type Registry struct {
	Locale string `yaml:"locale"`
}

// Server configures the editor API. Empty secrets disable the matching
// check.
type Server struct {
	Addr            string        `yaml:"addr"`
	JWTSecret       string        `yaml:"jwt_secret"`
	HookSecret      string        `yaml:"hook_secret"`
	RateLimitMax    int           `yaml:"rate_limit_max"`
	RateLimitWindow time.Duration `yaml:"rate_limit_window"`
	OriginPatterns  []string      `yaml:"origin_patterns"`
}

type Log struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

func Default() Config {
	return Config{
		Remote: Remote{
			RefreshTimeout: DefaultRefreshTimeout,
			ListTimeout:    DefaultListTimeout,
			SaveTimeout:    DefaultSaveTimeout,
		},
		Cache:     Cache{DSN: DefaultCacheDSN, MemoryPages: DefaultMemoryPages},
		Downloads: Downloads{Dir: DefaultDownloadDir},
		Assets:    Assets{PollInterval: DefaultPollInterval},
		Structure: pagedoc.DefaultStructureRules(),
		Dedupe:    Dedupe{SingletonTypes: pagedoc.DefaultDeduper().SingletonTypes},
		Registry:  Registry{Locale: "en"},
		Server:    Server{Addr: DefaultAddr, RateLimitWindow: time.Minute},
		Log:       Log{Level: "info", Format: "console"},
	}
}

// Load reads the file at path over the defaults, applies the environment and
// validates the result. An empty path means DefaultPath, which may be
// missing; an explicit path must exist.
func Load(path string) (Config, error) {
	cfg := Default()
	explicit := strings.TrimSpace(path) != ""
	if !explicit {
		path = DefaultPath
	}
	expanded, err := homedir.Expand(path)
	if err != nil {
		return cfg, fmt.Errorf("config: expand %s: %w", path, err)
	}
	data, err := os.ReadFile(expanded)
	switch {
	case errors.Is(err, os.ErrNotExist) && !explicit:
	case err != nil:
		return cfg, fmt.Errorf("config: read %s: %w", expanded, err)
	default:
		if err := decode(bytes.NewReader(data), &cfg); err != nil {
			return cfg, fmt.Errorf("config: parse %s: %w", expanded, err)
		}
	}
	if err := cfg.ApplyEnv(); err != nil {
		return cfg, err
	}
	if err := cfg.expandPaths(); err != nil {
		return cfg, err
	}
	return cfg, cfg.Validate()
}

func decode(r io.Reader, cfg *Config) error {
	decoder := yaml.NewDecoder(r)
	decoder.KnownFields(true)
	if err := decoder.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

// ApplyEnv overrides fields from PAGEKEEPER_* variables.
func (c *Config) ApplyEnv() error {
	c.Remote.BaseURL = envOrDefault("PAGEKEEPER_REMOTE_URL", c.Remote.BaseURL)
	c.Remote.Token = envOrDefault("PAGEKEEPER_REMOTE_TOKEN", c.Remote.Token)
	c.Cache.DSN = envOrDefault("PAGEKEEPER_CACHE_DSN", c.Cache.DSN)
	c.Downloads.Dir = envOrDefault("PAGEKEEPER_DOWNLOAD_DIR", c.Downloads.Dir)
	c.Assets.EventFile = envOrDefault("PAGEKEEPER_EVENT_FILE", c.Assets.EventFile)
	c.Server.Addr = envOrDefault("PAGEKEEPER_ADDR", c.Server.Addr)
	c.Server.JWTSecret = envOrDefault("PAGEKEEPER_JWT_SECRET", c.Server.JWTSecret)
	c.Server.HookSecret = envOrDefault("PAGEKEEPER_HOOK_SECRET", c.Server.HookSecret)
	c.Log.Level = envOrDefault("PAGEKEEPER_LOG_LEVEL", c.Log.Level)
	c.Log.Format = envOrDefault("PAGEKEEPER_LOG_FORMAT", c.Log.Format)
	c.Registry.Locale = envOrDefault("PAGEKEEPER_LOCALE", c.Registry.Locale)

	var err error
	if c.Remote.RefreshTimeout, err = durationEnv("PAGEKEEPER_REFRESH_TIMEOUT", c.Remote.RefreshTimeout); err != nil {
		return err
	}
	if c.Remote.ListTimeout, err = durationEnv("PAGEKEEPER_LIST_TIMEOUT", c.Remote.ListTimeout); err != nil {
		return err
	}
	if c.Remote.SaveTimeout, err = durationEnv("PAGEKEEPER_SAVE_TIMEOUT", c.Remote.SaveTimeout); err != nil {
		return err
	}
	if c.Assets.PollInterval, err = durationEnv("PAGEKEEPER_POLL_INTERVAL", c.Assets.PollInterval); err != nil {
		return err
	}
	if c.Cache.MemoryPages, err = intEnv("PAGEKEEPER_MEMORY_PAGES", c.Cache.MemoryPages); err != nil {
		return err
	}
	if c.Server.RateLimitMax, err = intEnv("PAGEKEEPER_RATE_LIMIT_MAX", c.Server.RateLimitMax); err != nil {
		return err
	}
	return nil
}

func (c *Config) expandPaths() error {
	for _, field := range []*string{&c.Downloads.Dir, &c.Assets.EventFile} {
		expanded, err := homedir.Expand(*field)
		if err != nil {
			return fmt.Errorf("config: expand %s: %w", *field, err)
		}
		*field = expanded
	}
	// only path-like DSNs carry a home directory
	if strings.HasPrefix(c.Cache.DSN, "~") {
		expanded, err := homedir.Expand(c.Cache.DSN)
		if err != nil {
			return fmt.Errorf("config: expand %s: %w", c.Cache.DSN, err)
		}
		c.Cache.DSN = expanded
	}
	return nil
}

func (c Config) Validate() error {
	var problems []string
	if c.Remote.RefreshTimeout <= 0 {
		problems = append(problems, "remote.refresh_timeout must be positive")
	}
	if c.Remote.ListTimeout <= 0 {
		problems = append(problems, "remote.list_timeout must be positive")
	}
	if c.Remote.SaveTimeout <= 0 {
		problems = append(problems, "remote.save_timeout must be positive")
	}
	if c.Assets.PollInterval <= 0 {
		problems = append(problems, "assets.poll_interval must be positive")
	}
	if c.Cache.MemoryPages <= 0 {
		problems = append(problems, "cache.memory_pages must be positive")
	}
	if strings.TrimSpace(c.Cache.DSN) == "" {
		problems = append(problems, "cache.dsn is required")
	}
	if c.Server.RateLimitMax < 0 {
		problems = append(problems, "server.rate_limit_max must not be negative")
	}
	if strings.TrimSpace(c.Downloads.Dir) == "" {
		problems = append(problems, "downloads.dir is required")
	}
	if len(problems) > 0 {
		return fmt.Errorf("config: %s", strings.Join(problems, "; "))
	}
	return nil
}

// RemoteEnabled reports whether a remote store is configured at all.
func (c Config) RemoteEnabled() bool {
	return strings.TrimSpace(c.Remote.BaseURL) != ""
}

func envOrDefault(name, fallback string) string {
	value := strings.TrimSpace(os.Getenv(name))
	if value == "" {
		return fallback
	}
	return value
}

func durationEnv(name string, fallback time.Duration) (time.Duration, error) {
	raw := strings.TrimSpace(os.Getenv(name))
	if raw == "" {
		return fallback, nil
	}
	value, err := time.ParseDuration(raw)
	if err != nil {
		return fallback, fmt.Errorf("config: invalid %s=%q: %w", name, raw, err)
	}
	return value, nil
}

func intEnv(name string, fallback int) (int, error) {
	raw := strings.TrimSpace(os.Getenv(name))
	if raw == "" {
		return fallback, nil
	}
	value, err := strconv.Atoi(raw)
	if err != nil {
		return fallback, fmt.Errorf("config: invalid %s=%q: %w", name, raw, err)
	}
	return value, nil
}
