package health

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/jonwraymond/quotelink/cache"
	"github.com/jonwraymond/quotelink/push"
	"github.com/jonwraymond/quotelink/resilience"
)

// ConnectionChecker reports the push channel. Connected is healthy,
// connecting or reconnecting is degraded, and a disconnect caused by an
// error is unhealthy. A manager that was never connected is degraded.
func ConnectionChecker(status func() push.ConnectionStatus) Checker {
	return CheckerFunc(func(context.Context) Result {
		st := status()
		details := map[string]any{
			"state":              st.State.String(),
			"connection_id":      st.ConnectionID,
			"reconnect_attempts": st.ReconnectAttempts,
		}
		if !st.LastConnectedAt.IsZero() {
			details["last_connected_at"] = st.LastConnectedAt.UTC().Format(time.RFC3339)
		}

		var r Result
		switch st.State {
		case push.StateConnected:
			r = Healthy("push channel connected")
		case push.StateConnecting, push.StateReconnecting:
			r = Degraded("push channel " + st.State.String())
			r.Error = st.Err
		default:
			if st.Err != nil {
				r = Unhealthy("push channel down", fmt.Errorf("%w: %w", ErrPushDown, st.Err))
			} else {
				r = Degraded("push channel " + st.State.String())
			}
		}
		return r.WithDetails(details)
	})
}

// CircuitState is satisfied by *resilience.CircuitBreaker.
type CircuitState interface {
	State() resilience.State
}

// CircuitChecker reports an open breaker as unhealthy and a half-open one
// as degraded.
func CircuitChecker(cb CircuitState) Checker {
	return CheckerFunc(func(context.Context) Result {
		state := cb.State()
		var r Result
		switch state {
		case resilience.StateClosed:
			r = Healthy("circuit closed")
		case resilience.StateHalfOpen:
			r = Degraded("circuit half-open")
		default:
			r = Unhealthy("circuit open", resilience.ErrCircuitOpen)
		}
		return r.WithDetails(map[string]any{"state": state.String()})
	})
}

// CacheChecker reports the cache as degraded once occupancy reaches
// warnOccupancy of capacity. A cache without a capacity is always healthy.
func CacheChecker(stats func() cache.Stats, warnOccupancy float64) Checker {
	if warnOccupancy <= 0 || warnOccupancy > 1 {
		warnOccupancy = 0.9
	}
	return CheckerFunc(func(context.Context) Result {
		s := stats()
		details := map[string]any{
			"entries":   s.Entries,
			"capacity":  s.Capacity,
			"hits":      s.Hits,
			"misses":    s.Misses,
			"evictions": s.Evictions,
			"hit_rate":  s.HitRate(),
		}
		if s.Capacity > 0 {
			occupancy := float64(s.Entries) / float64(s.Capacity)
			details["occupancy"] = occupancy
			if occupancy >= warnOccupancy {
				return Degraded(fmt.Sprintf("cache %.0f%% full", occupancy*100)).WithDetails(details)
			}
		}
		return Healthy("cache ok").WithDetails(details)
	})
}

// HTTPChecker issues GET url with client. 2xx and 3xx are healthy, 429
// is degraded, anything else or a transport failure is unhealthy.
func HTTPChecker(client *http.Client, url string) Checker {
	if client == nil {
		client = http.DefaultClient
	}
	return CheckerFunc(func(ctx context.Context) Result {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return Unhealthy("invalid health url", err)
		}
		resp, err := client.Do(req)
		if err != nil {
			return Unhealthy("upstream unreachable", resilience.ClassifyError(err))
		}
		defer resp.Body.Close()
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))

		details := map[string]any{"status_code": resp.StatusCode}
		ce := resilience.ClassifyStatus(resp.StatusCode, resp.Header, body)
		switch {
		case ce == nil:
			return Healthy("upstream reachable").WithDetails(details)
		case ce.Kind == resilience.KindRateLimit:
			r := Degraded("upstream rate limited").WithDetails(details)
			r.Error = ce
			return r
		default:
			return Unhealthy("upstream "+ce.Kind.String(), fmt.Errorf("%w: %w", ErrCheckFailed, ce)).WithDetails(details)
		}
	})
}
