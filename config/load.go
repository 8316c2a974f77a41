package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"net/url"
	"os"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/jonwraymond/quotelink/secret"
)

// LoadOption configures Load.
type LoadOption func(*loadOptions)

type loadOptions struct {
	dotenv   []string
	required bool
}

// WithDotenv loads the given .env files before parsing. Missing files are
// skipped unless required is set. Variables already in the environment
// win.
// Default: ".env", not required
func WithDotenv(required bool, paths ...string) LoadOption {
	return func(o *loadOptions) {
		o.dotenv = paths
		o.required = required
	}
}

// Load reads the YAML file at path. See the package doc for the order of
// operations.
func Load(path string, opts ...LoadOption) (*Config, error) {
	o := loadOptions{dotenv: []string{".env"}}
	for _, opt := range opts {
		opt(&o)
	}

	for _, p := range o.dotenv {
		if err := godotenv.Load(p); err != nil {
			if !o.required && errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return nil, fmt.Errorf("config: load %s: %w", p, err)
		}
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	cfg, err := Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("config: %s: %w", path, err)
	}
	return cfg, nil
}

// Parse decodes YAML after strict ${VAR} expansion, applies defaults and
// validates the result.
func Parse(data []byte) (*Config, error) {
	expanded, err := secret.ExpandEnvStrict(string(data))
	if err != nil {
		return nil, err
	}

	var cfg Config
	dec := yaml.NewDecoder(bytes.NewReader([]byte(expanded)))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("decode yaml: %w", err)
	}

	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks required settings and ranges.
func (c *Config) Validate() error {
	if c.Client.BaseURL == "" {
		return ErrMissingBaseURL
	}
	u, err := url.Parse(c.Client.BaseURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("%w: client.base_url %q must be an absolute http(s) URL", ErrInvalidConfig, c.Client.BaseURL)
	}
	if c.Client.RateLimit < 0 {
		return fmt.Errorf("%w: client.rate_limit must not be negative", ErrInvalidConfig)
	}

	switch c.Cache.Backend {
	case "memory":
	case "redis":
		if c.Redis.Addr == "" {
			return fmt.Errorf("%w: redis.addr is required for the redis cache backend", ErrInvalidConfig)
		}
	default:
		return fmt.Errorf("%w: cache.backend %q (want memory or redis)", ErrInvalidConfig, c.Cache.Backend)
	}
	if c.Cache.StaleThreshold <= 0 || c.Cache.StaleThreshold > 1 {
		return fmt.Errorf("%w: cache.stale_threshold %v must be in (0, 1]", ErrInvalidConfig, c.Cache.StaleThreshold)
	}
	if c.Cache.MaxTTL > 0 && c.Cache.DefaultTTL > c.Cache.MaxTTL {
		return fmt.Errorf("%w: cache.default_ttl exceeds cache.max_ttl", ErrInvalidConfig)
	}

	if c.Push.URL != "" {
		u, err := url.Parse(c.Push.URL)
		if err != nil || (u.Scheme != "ws" && u.Scheme != "wss") || u.Host == "" {
			return fmt.Errorf("%w: push.url %q must be an absolute ws(s) URL", ErrInvalidConfig, c.Push.URL)
		}
	}

	for name := range c.Secrets.Providers {
		switch name {
		case "env", "file", "dotenv":
		default:
			return fmt.Errorf("%w: secrets.providers.%s is not a built-in provider", ErrInvalidConfig, name)
		}
	}

	if err := c.Observe.Validate(); err != nil {
		return fmt.Errorf("%w: observe: %w", ErrInvalidConfig, err)
	}
	return nil
}
