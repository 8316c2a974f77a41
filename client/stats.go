package client

import (
	"sync/atomic"
	"time"

	"github.com/jonwraymond/quotelink/cache"
	"github.com/jonwraymond/quotelink/push"
	"github.com/jonwraymond/quotelink/resilience"
)

type counters struct {
	requests      atomic.Int64
	cacheHits     atomic.Int64
	cacheMisses   atomic.Int64
	deduplicated  atomic.Int64
	retries       atomic.Int64
	softFailures  atomic.Int64
	revalidations atomic.Int64
	notModified   atomic.Int64
	errors        atomic.Int64
	latencyNanos  atomic.Int64
}

func (s *counters) observe(d time.Duration) {
	s.latencyNanos.Add(int64(d))
}

// PerformanceStats is a point-in-time view of client activity.
type PerformanceStats struct {
	Requests     int64
	CacheHits    int64
	CacheMisses  int64
	CacheHitRate float64

	// Deduplicated counts callers that joined another caller's fetch.
	Deduplicated int64
	Retries      int64

	// SoftFailures counts stale responses served in place of an error.
	SoftFailures int64

	// Revalidations counts completed background refreshes; NotModified
	// counts 304 answers that renewed an entry.
	Revalidations int64
	NotModified   int64

	Errors         int64
	AverageLatency time.Duration

	// InFlight is the number of outstanding shared fetches.
	InFlight int

	Circuit  resilience.State
	Bulkhead resilience.BulkheadMetrics

	// Throttled counts requests refused by the client-side rate limiter.
	Throttled int64

	// Cache is set when the store reports its own counters.
	Cache *cache.Stats

	// Push is set when the push channel is configured.
	Push          *push.ConnectionStatus
	Subscriptions int
}

type statsReporter interface {
	Stats() cache.Stats
}

// PerformanceStats returns current counters.
func (c *Client) PerformanceStats() PerformanceStats {
	s := PerformanceStats{
		Requests:      c.stats.requests.Load(),
		CacheHits:     c.stats.cacheHits.Load(),
		CacheMisses:   c.stats.cacheMisses.Load(),
		Deduplicated:  c.stats.deduplicated.Load(),
		Retries:       c.stats.retries.Load(),
		SoftFailures:  c.stats.softFailures.Load(),
		Revalidations: c.stats.revalidations.Load(),
		NotModified:   c.stats.notModified.Load(),
		Errors:        c.stats.errors.Load(),
		InFlight:      c.inflight.Stats().Pending,
		Circuit:       c.breaker.State(),
		Bulkhead:      c.bulkhead.Metrics(),
	}
	if lookups := s.CacheHits + s.CacheMisses; lookups > 0 {
		s.CacheHitRate = float64(s.CacheHits) / float64(lookups)
	}
	if s.Requests > 0 {
		s.AverageLatency = time.Duration(c.stats.latencyNanos.Load() / s.Requests)
	}
	if c.limiter != nil {
		s.Throttled = c.limiter.Throttled()
	}
	if r, ok := c.cache.(statsReporter); ok {
		cs := r.Stats()
		s.Cache = &cs
	}
	if c.push != nil {
		st := c.push.Status()
		s.Push = &st
		s.Subscriptions = len(c.push.Subscriptions())
	}
	return s
}
