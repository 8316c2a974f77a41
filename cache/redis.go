package cache

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisConfig configures a RedisCache.
type RedisConfig struct {
	// Prefix namespaces every key.
	// Default: "quotelink:cache:"
	Prefix string

	// Policy supplies TTL defaults, revalidation threshold and stale
	// retention. MaxEntries is ignored; configure maxmemory-policy
	// allkeys-lru on the server instead.
	Policy Policy

	// ScanCount is the COUNT hint for SCAN during Clear and ClearByTag.
	// Default: 200
	ScanCount int64
}

// RedisCache is a Cache shared between processes through Redis.
//
// Entries are stored as JSON envelopes whose Redis expiry is TTL plus
// Policy.StaleRetention, so stale reads through Peek keep working until the
// retention window closes.
type RedisCache struct {
	rdb    redis.UniversalClient
	config RedisConfig
	now    func() time.Time
}

type redisEnvelope struct {
	Data         []byte        `json:"d"`
	WrittenAt    time.Time     `json:"w"`
	TTL          time.Duration `json:"t"`
	ETag         string        `json:"e,omitempty"`
	LastModified string        `json:"m,omitempty"`
}

// NewRedisCache wraps an existing go-redis client.
func NewRedisCache(rdb redis.UniversalClient, config RedisConfig) *RedisCache {
	if config.Prefix == "" {
		config.Prefix = "quotelink:cache:"
	}
	if config.ScanCount <= 0 {
		config.ScanCount = 200
	}
	return &RedisCache{rdb: rdb, config: config, now: time.Now}
}

func (c *RedisCache) load(ctx context.Context, key string) (*Entry, bool) {
	raw, err := c.rdb.Get(ctx, c.config.Prefix+key).Bytes()
	if err != nil {
		return nil, false
	}
	var env redisEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, false
	}
	return &Entry{
		Data:         env.Data,
		WrittenAt:    env.WrittenAt,
		TTL:          env.TTL,
		ETag:         env.ETag,
		LastModified: env.LastModified,
	}, true
}

// Get returns a fresh entry; a stale one is deleted and reported absent.
func (c *RedisCache) Get(ctx context.Context, key string) (*Entry, bool) {
	e, ok := c.load(ctx, key)
	if !ok {
		return nil, false
	}
	if e.Stale(c.now()) {
		_ = c.Delete(ctx, key)
		return nil, false
	}
	return e, true
}

// Peek returns the entry whether or not it is stale.
func (c *RedisCache) Peek(ctx context.Context, key string) (*Entry, bool) {
	return c.load(ctx, key)
}

// Set stores data with the given TTL.
func (c *RedisCache) Set(ctx context.Context, key string, data []byte, ttl time.Duration) error {
	return c.SetEntry(ctx, key, Entry{Data: data, TTL: ttl})
}

// SetEntry stores entry with a Redis expiry of TTL + StaleRetention.
func (c *RedisCache) SetEntry(ctx context.Context, key string, entry Entry) error {
	if err := ValidateKey(key); err != nil {
		return err
	}
	entry.TTL = c.config.Policy.EffectiveTTL(entry.TTL)
	if entry.TTL <= 0 {
		return nil
	}
	if entry.WrittenAt.IsZero() {
		entry.WrittenAt = c.now()
	}

	raw, err := json.Marshal(redisEnvelope{
		Data:         entry.Data,
		WrittenAt:    entry.WrittenAt,
		TTL:          entry.TTL,
		ETag:         entry.ETag,
		LastModified: entry.LastModified,
	})
	if err != nil {
		return err
	}
	return c.rdb.Set(ctx, c.config.Prefix+key, raw, entry.TTL+c.config.Policy.StaleRetention).Err()
}

// Has reports whether a fresh entry exists.
func (c *RedisCache) Has(ctx context.Context, key string) bool {
	e, ok := c.load(ctx, key)
	return ok && !e.Stale(c.now())
}

// Delete removes key. Idempotent.
func (c *RedisCache) Delete(ctx context.Context, key string) error {
	return c.rdb.Del(ctx, c.config.Prefix+key).Err()
}

// Clear removes every key under the prefix.
func (c *RedisCache) Clear(ctx context.Context) error {
	_, err := c.deleteMatching(ctx, escapeGlob(c.config.Prefix)+"*")
	return err
}

// ClearByTag removes every key containing tag.
func (c *RedisCache) ClearByTag(ctx context.Context, tag string) (int, error) {
	if tag == "" {
		return 0, nil
	}
	return c.deleteMatching(ctx, escapeGlob(c.config.Prefix)+"*"+escapeGlob(tag)+"*")
}

func (c *RedisCache) deleteMatching(ctx context.Context, pattern string) (int, error) {
	iter := c.rdb.Scan(ctx, 0, pattern, c.config.ScanCount).Iterator()

	var batch []string
	removed := 0
	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		n, err := c.rdb.Del(ctx, batch...).Result()
		removed += int(n)
		batch = batch[:0]
		return err
	}

	for iter.Next(ctx) {
		batch = append(batch, iter.Val())
		if int64(len(batch)) >= c.config.ScanCount {
			if err := flush(); err != nil {
				return removed, err
			}
		}
	}
	if err := iter.Err(); err != nil {
		return removed, err
	}
	return removed, flush()
}

// ShouldRevalidate reports whether key has aged past ttl*threshold.
func (c *RedisCache) ShouldRevalidate(ctx context.Context, key string, threshold float64) bool {
	e, ok := c.load(ctx, key)
	if !ok {
		return false
	}
	return e.NeedsRevalidation(c.now(), c.config.Policy.Threshold(threshold))
}

// ConditionalHeaders returns the stored validators for key.
func (c *RedisCache) ConditionalHeaders(ctx context.Context, key string) Validators {
	e, ok := c.load(ctx, key)
	if !ok {
		return Validators{}
	}
	return e.Validators()
}

var globReplacer = strings.NewReplacer(`\`, `\\`, `*`, `\*`, `?`, `\?`, `[`, `\[`, `]`, `\]`)

// escapeGlob quotes Redis MATCH metacharacters so s matches literally.
func escapeGlob(s string) string {
	return globReplacer.Replace(s)
}

// Ensure RedisCache implements Cache
var _ Cache = (*RedisCache)(nil)
