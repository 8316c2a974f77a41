// Package health reports whether the data-access layer can serve requests.
//
// A Checker reports one component's Status: Healthy, Degraded, or
// Unhealthy. An Aggregator runs a set of checkers concurrently under a
// shared timeout and folds their results into one overall status, worst
// result wins.
//
// The package ships checkers for the components a quotelink client owns:
//
//	agg := health.NewAggregator()
//	agg.Register("push", health.ConnectionChecker(manager.Status))
//	agg.Register("circuit", health.CircuitChecker(breaker))
//	agg.Register("cache", health.CacheChecker(memCache.Stats, 0.9))
//	agg.Register("api", health.HTTPChecker(httpClient, baseURL+"/health"))
//
// # HTTP Endpoints
//
//	mux := http.NewServeMux()
//	health.RegisterHandlers(mux, agg) // /healthz, /readyz, /health
package health
