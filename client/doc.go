// Package client is the caller-facing entry point of quotelink.
//
// A Client sends REST requests through a fixed pipeline:
//
//	cache -> dedup -> retry -> rate limit -> circuit -> bulkhead -> HTTP
//
// Fresh cached responses are returned without a network call and refreshed
// in the background once they pass the revalidation threshold. Concurrent
// identical requests share one fetch. Failures are classified (see package
// resilience) and retried with server-aware backoff. When a refresh fails
// and the caller opted into ServeStaleOnError, the last good response is
// returned with Response.Stale set instead of an error.
//
// When a push URL or transport is configured, the Client also owns a
// push.Manager and exposes its subscription and connection-status API.
//
// There is no package-level instance; build one with New and release it
// with Close.
package client
