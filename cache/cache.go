package cache

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"
)

// MaxKeyLength is the maximum allowed length for a cache key.
const MaxKeyLength = 2048

// Sentinel errors for cache operations.
var (
	ErrNilCache   = errors.New("cache: cache is nil")
	ErrInvalidKey = errors.New("cache: key is invalid")
	ErrKeyTooLong = errors.New("cache: key exceeds max length")
)

// Entry is a cached response body with the metadata needed to judge its
// freshness and revalidate it.
type Entry struct {
	Data         []byte
	WrittenAt    time.Time
	TTL          time.Duration
	ETag         string
	LastModified string
}

// Age returns how long ago the entry was written.
func (e *Entry) Age(now time.Time) time.Duration {
	return now.Sub(e.WrittenAt)
}

// Stale reports whether now - WrittenAt > TTL.
func (e *Entry) Stale(now time.Time) bool {
	return e.Age(now) > e.TTL
}

// NeedsRevalidation reports whether the entry has used up more than
// threshold of its TTL.
func (e *Entry) NeedsRevalidation(now time.Time, threshold float64) bool {
	return float64(e.Age(now)) > float64(e.TTL)*threshold
}

// Validators returns the conditional request headers for this entry.
func (e *Entry) Validators() Validators {
	return Validators{IfNoneMatch: e.ETag, IfModifiedSince: e.LastModified}
}

// Validators holds conditional request header values.
type Validators struct {
	IfNoneMatch     string
	IfModifiedSince string
}

// Empty reports whether neither validator is set.
func (v Validators) Empty() bool {
	return v.IfNoneMatch == "" && v.IfModifiedSince == ""
}

// Apply sets the non-empty validators on h.
func (v Validators) Apply(h http.Header) {
	if v.IfNoneMatch != "" {
		h.Set("If-None-Match", v.IfNoneMatch)
	}
	if v.IfModifiedSince != "" {
		h.Set("If-Modified-Since", v.IfModifiedSince)
	}
}

// Cache is the response store used by the request executor.
//
// Contract:
//   - Concurrency: implementations must be safe for concurrent use.
//   - Errors: lookups never error; a backend failure reads as a miss.
//     Mutations return errors but callers treat them as best-effort.
//   - Ownership: returned entries must not be modified.
type Cache interface {
	// Get returns a fresh entry. A stale entry is evicted and reported absent.
	Get(ctx context.Context, key string) (*Entry, bool)

	// Peek returns the entry even if stale, without evicting it or
	// touching recency.
	Peek(ctx context.Context, key string) (*Entry, bool)

	// Set stores data under key with the given TTL.
	Set(ctx context.Context, key string, data []byte, ttl time.Duration) error

	// SetEntry stores an entry including its validators. A zero
	// WrittenAt is replaced with the current time.
	SetEntry(ctx context.Context, key string, entry Entry) error

	// Has reports whether a fresh entry exists.
	Has(ctx context.Context, key string) bool

	// Delete removes key. Idempotent.
	Delete(ctx context.Context, key string) error

	// Clear removes every entry.
	Clear(ctx context.Context) error

	// ClearByTag removes every key containing tag as a substring and
	// returns how many were removed. An empty tag removes nothing.
	ClearByTag(ctx context.Context, tag string) (int, error)

	// ShouldRevalidate reports whether key's age exceeds ttl*threshold.
	// A non-positive threshold selects the store's policy default.
	ShouldRevalidate(ctx context.Context, key string, threshold float64) bool

	// ConditionalHeaders returns the validators stored for key, stale or not.
	ConditionalHeaders(ctx context.Context, key string) Validators
}

// ValidateKey checks if a key is valid for caching.
func ValidateKey(key string) error {
	if strings.TrimSpace(key) == "" {
		return ErrInvalidKey
	}
	if len(key) > MaxKeyLength {
		return ErrKeyTooLong
	}
	if strings.ContainsAny(key, "\n\r") {
		return ErrInvalidKey
	}
	return nil
}
