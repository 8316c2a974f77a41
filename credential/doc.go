// Package credential supplies the bearer token attached to backend calls.
//
// A Source yields the current token; it is consulted on every request and
// on every push channel dial, so rotating the underlying secret takes effect
// without rebuilding the client. Token issuance and refresh are the caller's
// concern.
//
// ExpiryChecked inspects a JWT's exp claim locally and fails fast with an
// AUTH classified error instead of sending a request the server will reject.
package credential
