// Package portal wires the account store, cache, token resolution and
// background refresh into one embeddable unit. A chat frontend constructs
// a Portal, starts it, and talks to the Manager.
package portal

import (
	"fmt"
	"os"
	"regexp"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds the complete portal configuration.
type Config struct {
	Database  DatabaseConfig  `yaml:"database"`
	Redis     RedisConfig     `yaml:"redis"`
	Secrets   SecretsConfig   `yaml:"secrets"`
	Refresher RefresherConfig `yaml:"refresher"`
	Cache     CacheConfig     `yaml:"cache"`
}

// DatabaseConfig configures the PostgreSQL connection.
type DatabaseConfig struct {
	DSN          string `yaml:"dsn"`
	MaxOpenConns int    `yaml:"max_open_conns"`
}

// RedisConfig configures the cache backend. An empty Addr selects the
// in-process memory cache instead.
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

// SecretsConfig configures credential encryption at rest.
type SecretsConfig struct {
	// Key is a 64-char hex key (32 bytes). Empty disables encryption.
	Key string `yaml:"key"`
}

// RefresherConfig configures the periodic cache sweep.
type RefresherConfig struct {
	Interval time.Duration `yaml:"interval"`
}

// CacheConfig configures caching behavior.
type CacheConfig struct {
	// DefaultTTL applies to entry kinds without an explicit TTL.
	DefaultTTL time.Duration `yaml:"default_ttl"`

	// TTLs overrides the TTL per entry kind, e.g. "schedule: 30m".
	TTLs map[string]time.Duration `yaml:"ttls"`
}

// TTLFor returns the configured TTL for an entry kind.
func (c CacheConfig) TTLFor(kind string) time.Duration {
	if ttl, ok := c.TTLs[kind]; ok {
		return ttl
	}
	return c.DefaultTTL
}

// LoadConfig loads configuration from a file.
// The path is expected to come from command line arguments, controlled by the administrator.
func LoadConfig(path string) (*Config, error) {
	// #nosec G304 -- path is from CLI args, controlled by admin
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	// Expand environment variables
	data = []byte(expandEnvVars(string(data)))

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}

	applyDefaults(&cfg)

	return &cfg, nil
}

// expandEnvVars expands ${VAR} patterns in the string.
func expandEnvVars(s string) string {
	re := regexp.MustCompile(`\$\{([^}]+)\}`)
	return re.ReplaceAllStringFunc(s, func(match string) string {
		varName := match[2 : len(match)-1]
		return os.Getenv(varName)
	})
}

// applyDefaults applies default values to the config.
func applyDefaults(cfg *Config) {
	if cfg.Database.MaxOpenConns == 0 {
		cfg.Database.MaxOpenConns = 20
	}
	if cfg.Refresher.Interval == 0 {
		cfg.Refresher.Interval = 10 * time.Minute
	}
	if cfg.Cache.DefaultTTL == 0 {
		cfg.Cache.DefaultTTL = 5 * time.Minute
	}
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	var errs []string

	if c.Refresher.Interval < 0 {
		errs = append(errs, "refresher.interval must not be negative")
	}
	if c.Cache.DefaultTTL < 0 {
		errs = append(errs, "cache.default_ttl must not be negative")
	}
	for kind, ttl := range c.Cache.TTLs {
		if ttl <= 0 {
			errs = append(errs, fmt.Sprintf("cache.ttls.%s must be positive", kind))
		}
	}
	if c.Redis.DB < 0 {
		errs = append(errs, "redis.db must not be negative")
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation errors: %s", strings.Join(errs, "; "))
	}

	return nil
}
