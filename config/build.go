package config

import (
	"github.com/redis/go-redis/v9"

	"github.com/jonwraymond/quotelink/cache"
	"github.com/jonwraymond/quotelink/client"
	"github.com/jonwraymond/quotelink/credential"
	"github.com/jonwraymond/quotelink/push"
	"github.com/jonwraymond/quotelink/resilience"
	"github.com/jonwraymond/quotelink/secret"
)

// Resolver builds the secret resolver from the secrets section. The env
// provider is always present.
func (c *Config) Resolver() (*secret.Resolver, error) {
	reg := secret.NewBuiltinRegistry()
	r := secret.NewResolver(c.Secrets.Strict, secret.EnvProvider{})
	for name, opts := range c.Secrets.Providers {
		p, err := reg.Create(name, opts)
		if err != nil {
			return nil, err
		}
		r.Register(p)
	}
	return r, nil
}

// CachePolicy returns the cache section as a cache.Policy.
func (c *Config) CachePolicy() cache.Policy {
	return cache.Policy{
		DefaultTTL:     c.Cache.DefaultTTL,
		MaxTTL:         c.Cache.MaxTTL,
		MaxEntries:     c.Cache.MaxEntries,
		StaleThreshold: c.Cache.StaleThreshold,
		StaleRetention: c.Cache.StaleRetention,
	}
}

// ClientConfig translates the file settings into a client.Config. r
// resolves the token; a nil r only expands the environment.
func (c *Config) ClientConfig(r *secret.Resolver) client.Config {
	cfg := client.Config{
		BaseURL:          c.Client.BaseURL,
		UserAgent:        c.Client.UserAgent,
		TokenLeeway:      c.Client.TokenLeeway,
		Cache:            c.CachePolicy(),
		DisableCache:     c.Cache.Disabled,
		SweepInterval:    c.Cache.SweepInterval,
		MaxResponseBytes: c.Client.MaxResponseBytes,
		HealthPath:       c.Client.HealthPath,
		Retry: resilience.RetryConfig{
			MaxAttempts:    c.Retry.MaxAttempts,
			BaseDelay:      c.Retry.BaseDelay,
			MaxDelay:       c.Retry.MaxDelay,
			Jitter:         c.Retry.Jitter,
			AttemptTimeout: c.Retry.AttemptTimeout,
		},
		Circuit: resilience.CircuitBreakerConfig{
			MaxFailures:  c.Circuit.MaxFailures,
			ResetTimeout: c.Circuit.ResetTimeout,
		},
		Bulkhead: resilience.BulkheadConfig{MaxConcurrent: c.Client.MaxConcurrent},
		PushURL:  c.Push.URL,
	}
	if c.Client.Token != "" {
		cfg.Credentials = credential.FromSecret(r, c.Client.Token)
	}
	if c.Client.RateLimit > 0 {
		cfg.RateLimit = &resilience.RateLimiterConfig{
			Rate:  c.Client.RateLimit,
			Burst: c.Client.RateBurst,
		}
	}
	if c.Push.URL != "" {
		pc := push.DefaultConfig()
		pc.AutoReconnect = c.Push.AutoReconnect == nil || *c.Push.AutoReconnect
		if c.Push.BaseDelay > 0 {
			pc.BaseDelay = c.Push.BaseDelay
		}
		if c.Push.MaxDelay > 0 {
			pc.MaxDelay = c.Push.MaxDelay
		}
		if c.Push.MaxReconnectAttempts > 0 {
			pc.MaxReconnectAttempts = c.Push.MaxReconnectAttempts
		}
		if c.Push.DialTimeout > 0 {
			pc.DialTimeout = c.Push.DialTimeout
		}
		cfg.Push = &pc
	}
	return cfg
}

// RedisCache returns a Redis-backed cache and its client when the cache
// backend is redis, or nils otherwise. The caller closes the client.
func (c *Config) RedisCache() (*cache.RedisCache, *redis.Client) {
	if c.Cache.Backend != "redis" || c.Cache.Disabled {
		return nil, nil
	}
	rdb := redis.NewClient(&redis.Options{
		Addr:     c.Redis.Addr,
		Password: c.Redis.Password,
		DB:       c.Redis.DB,
	})
	return cache.NewRedisCache(rdb, cache.RedisConfig{
		Prefix: c.Redis.Prefix,
		Policy: c.CachePolicy(),
	}), rdb
}

// PushTransport returns the WebSocket transport for push.url with the
// configured keepalive, or nil when push is disabled.
func (c *Config) PushTransport(creds credential.Source) push.Transport {
	if c.Push.URL == "" {
		return nil
	}
	return push.NewWebSocketTransport(push.WebSocketConfig{
		URL:          c.Push.URL,
		Credentials:  creds,
		PingInterval: c.Push.PingInterval,
	})
}
