package client

import (
	"github.com/jonwraymond/quotelink/health"
)

// HealthCheckers returns checks for the client's circuit breaker, its cache
// when the store reports counters, and its push channel and upstream probe
// when configured. Register them on a health.Aggregator.
func (c *Client) HealthCheckers() map[string]health.Checker {
	checks := map[string]health.Checker{
		"circuit": health.CircuitChecker(c.breaker),
	}
	if r, ok := c.cache.(statsReporter); ok {
		checks["cache"] = health.CacheChecker(r.Stats, 0)
	}
	if c.push != nil {
		checks["push"] = health.ConnectionChecker(c.push.Status)
	}
	if c.config.HealthPath != "" {
		checks["upstream"] = health.HTTPChecker(c.http, c.resolve(c.config.HealthPath, nil))
	}
	return checks
}
