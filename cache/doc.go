// Package cache stores backend responses with TTL expiry, LRU eviction and
// substring tag invalidation.
//
// Keys are request signatures (see Signature) that keep the request path
// readable, so ClearByTag("stocks") drops every stock endpoint. Entries keep
// their ETag and Last-Modified validators so a stale entry can be
// revalidated with a conditional request.
//
// MemoryCache is the in-process store. RedisCache shares entries between
// processes using go-redis.
package cache
