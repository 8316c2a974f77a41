package config

import (
	"time"

	"github.com/jonwraymond/quotelink/observe"
)

// Config is the top-level configuration.
type Config struct {
	Client  ClientConfig   `yaml:"client"`
	Cache   CacheConfig    `yaml:"cache"`
	Retry   RetryConfig    `yaml:"retry"`
	Circuit CircuitConfig  `yaml:"circuit"`
	Push    PushConfig     `yaml:"push"`
	Redis   RedisConfig    `yaml:"redis"`
	Secrets SecretsConfig  `yaml:"secrets"`
	Observe observe.Config `yaml:"observe"`
}

// ClientConfig configures the REST side.
type ClientConfig struct {
	BaseURL   string `yaml:"base_url"`
	Token     string `yaml:"token"`
	UserAgent string `yaml:"user_agent"`

	// TokenLeeway treats tokens this close to expiry as expired.
	TokenLeeway time.Duration `yaml:"token_leeway"`

	// MaxResponseBytes caps a response body. Default: 8 MiB
	MaxResponseBytes int64 `yaml:"max_response_bytes"`

	// RateLimit is requests per second; zero disables the limiter.
	RateLimit float64 `yaml:"rate_limit"`
	RateBurst int     `yaml:"rate_burst"`

	// MaxConcurrent bounds in-flight transport calls. Default: 8
	MaxConcurrent int `yaml:"max_concurrent"`

	// HealthPath is probed by the upstream health check, e.g. /health.
	HealthPath string `yaml:"health_path"`
}

// CacheConfig configures response caching.
type CacheConfig struct {
	Disabled bool `yaml:"disabled"`

	// Backend is "memory" or "redis". Default: memory
	Backend string `yaml:"backend"`

	DefaultTTL     time.Duration `yaml:"default_ttl"`
	MaxTTL         time.Duration `yaml:"max_ttl"`
	MaxEntries     int           `yaml:"max_entries"`
	StaleThreshold float64       `yaml:"stale_threshold"`
	StaleRetention time.Duration `yaml:"stale_retention"`
	SweepInterval  time.Duration `yaml:"sweep_interval"`
}

// RetryConfig configures the retry controller.
type RetryConfig struct {
	// MaxAttempts is retries after the first attempt; -1 disables.
	MaxAttempts    int           `yaml:"max_attempts"`
	BaseDelay      time.Duration `yaml:"base_delay"`
	MaxDelay       time.Duration `yaml:"max_delay"`
	Jitter         bool          `yaml:"jitter"`
	AttemptTimeout time.Duration `yaml:"attempt_timeout"`
}

// CircuitConfig configures the circuit breaker.
type CircuitConfig struct {
	MaxFailures  int           `yaml:"max_failures"`
	ResetTimeout time.Duration `yaml:"reset_timeout"`
}

// PushConfig configures the push channel. An empty URL disables it.
type PushConfig struct {
	URL string `yaml:"url"`

	// AutoReconnect defaults to true.
	AutoReconnect        *bool         `yaml:"auto_reconnect"`
	BaseDelay            time.Duration `yaml:"base_delay"`
	MaxDelay             time.Duration `yaml:"max_delay"`
	MaxReconnectAttempts int           `yaml:"max_reconnect_attempts"`
	DialTimeout          time.Duration `yaml:"dial_timeout"`
	PingInterval         time.Duration `yaml:"ping_interval"`
}

// RedisConfig configures the shared cache backend.
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	Prefix   string `yaml:"prefix"`
}

// SecretsConfig lists the secret providers available to secretrefs.
type SecretsConfig struct {
	// Strict rejects providers that resolve to an empty value.
	Strict bool `yaml:"strict"`

	// Providers maps a built-in provider name (env, file, dotenv) to its
	// options. The env provider is always registered.
	Providers map[string]map[string]any `yaml:"providers"`
}

// Default returns a Config with every default applied and no base URL.
func Default() *Config {
	c := &Config{}
	c.applyDefaults()
	return c
}

func (c *Config) applyDefaults() {
	if c.Cache.Backend == "" {
		c.Cache.Backend = "memory"
	}
	if c.Cache.DefaultTTL == 0 {
		c.Cache.DefaultTTL = 5 * time.Minute
	}
	if c.Cache.MaxTTL == 0 {
		c.Cache.MaxTTL = time.Hour
	}
	if c.Cache.MaxEntries == 0 {
		c.Cache.MaxEntries = 500
	}
	if c.Cache.StaleThreshold == 0 {
		c.Cache.StaleThreshold = 0.8
	}
	if c.Cache.StaleRetention == 0 {
		c.Cache.StaleRetention = 10 * time.Minute
	}
	if c.Redis.Prefix == "" {
		c.Redis.Prefix = "quotelink:cache:"
	}
	if c.Push.AutoReconnect == nil {
		on := true
		c.Push.AutoReconnect = &on
	}
	if c.Observe.ServiceName == "" {
		c.Observe.ServiceName = "quotelink"
	}
	if c.Observe.Logging.Level == "" {
		c.Observe.Logging.Level = "info"
	}
}
