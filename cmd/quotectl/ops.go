package main

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/jonwraymond/quotelink/health"
	"github.com/jonwraymond/quotelink/observe"
)

// opsHandler serves the client's health checks and, with an observer,
// /metrics.
func (a *app) opsHandler() http.Handler {
	mux := http.NewServeMux()
	health.RegisterHandlers(mux, a.aggregator())
	if a.observer != nil {
		mux.Handle("/metrics", a.observer.MetricsHandler())
	}
	return mux
}

// serveOps listens on addr until ctx is done. It returns once the listener
// is bound so callers see address errors synchronously.
func (a *app) serveOps(ctx context.Context, addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	srv := &http.Server{Handler: a.opsHandler(), ReadHeaderTimeout: 5 * time.Second}
	a.logger.Info(ctx, "serving health", observe.F("addr", ln.Addr().String()))

	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.logger.Error(ctx, "health server stopped", observe.F("error", err))
		}
	}()
	a.closers = append(a.closers, srv.Shutdown)
	return nil
}
