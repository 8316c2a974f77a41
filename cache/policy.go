package cache

import "time"

// Policy configures caching behavior.
type Policy struct {
	// DefaultTTL is used when a write does not specify a TTL.
	// If zero, caching is disabled by default.
	DefaultTTL time.Duration

	// MaxTTL clamps requested TTLs. Zero means no maximum.
	MaxTTL time.Duration

	// MaxEntries bounds the store; the least-recently-accessed entry is
	// evicted on overflow. Zero means unbounded.
	MaxEntries int

	// StaleThreshold is the fraction of TTL after which an entry should be
	// refreshed in the background.
	StaleThreshold float64

	// StaleRetention is how long past its TTL an entry is kept for
	// stale reads before a sweep removes it.
	StaleRetention time.Duration
}

// DefaultPolicy returns the default caching policy: 5 minute TTL capped at
// 1 hour, 500 entries, revalidation at 80% of TTL, 10 minutes of stale
// retention.
func DefaultPolicy() Policy {
	return Policy{
		DefaultTTL:     5 * time.Minute,
		MaxTTL:         1 * time.Hour,
		MaxEntries:     500,
		StaleThreshold: 0.8,
		StaleRetention: 10 * time.Minute,
	}
}

// NoCachePolicy returns a policy that disables caching entirely.
func NoCachePolicy() Policy {
	return Policy{}
}

// ShouldCache returns true if caching is enabled by this policy.
func (p Policy) ShouldCache() bool {
	return p.DefaultTTL > 0
}

// EffectiveTTL returns the TTL to use, applying defaults and clamping.
func (p Policy) EffectiveTTL(override time.Duration) time.Duration {
	ttl := override
	if ttl <= 0 {
		ttl = p.DefaultTTL
	}
	if p.MaxTTL > 0 && ttl > p.MaxTTL {
		ttl = p.MaxTTL
	}
	return ttl
}

// Threshold returns override if positive, else the policy's StaleThreshold,
// else 1 (revalidate only once stale).
func (p Policy) Threshold(override float64) float64 {
	if override > 0 {
		return override
	}
	if p.StaleThreshold > 0 {
		return p.StaleThreshold
	}
	return 1
}
