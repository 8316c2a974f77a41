// Package observe provides the logging, tracing and metrics used across the
// data-access layer.
//
// It is a pure instrumentation library: nothing here performs requests.
// The client wires a Middleware around each backend fetch, and the push
// manager records reconnects and dispatches through Metrics.
package observe
