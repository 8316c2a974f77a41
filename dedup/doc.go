// Package dedup coalesces concurrent identical calls into one execution.
//
// Callers that ask for the same signature while a call is outstanding join
// it and receive the identical value or error. Unlike x/sync/singleflight,
// joiners are reference counted: a caller whose context ends leaves the
// call without affecting the others, and when the last caller leaves the
// underlying call's context is cancelled and the signature is freed.
//
// A Registry holds nothing once a call settles; it is not a cache.
package dedup
