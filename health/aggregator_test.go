package health

import (
	"context"
	"errors"
	"slices"
	"sync/atomic"
	"testing"
	"time"
)

func fixed(r Result) Checker {
	return CheckerFunc(func(context.Context) Result { return r })
}

func TestNewAggregator_Defaults(t *testing.T) {
	if agg := NewAggregator(); agg.config.Timeout != 10*time.Second {
		t.Errorf("Timeout = %v, want 10s", agg.config.Timeout)
	}
	if agg := NewAggregator(AggregatorConfig{Timeout: time.Second}); agg.config.Timeout != time.Second {
		t.Errorf("Timeout = %v, want 1s", agg.config.Timeout)
	}
}

func TestAggregator_RegisterOrder(t *testing.T) {
	agg := NewAggregator()
	agg.Register("push", fixed(Healthy("ok")))
	agg.Register("cache", fixed(Healthy("ok")))
	agg.Register("push", fixed(Degraded("replaced")))

	if got, want := agg.CheckerNames(), []string{"push", "cache"}; !slices.Equal(got, want) {
		t.Errorf("CheckerNames = %v, want %v", got, want)
	}

	r, err := agg.Check(context.Background(), "push")
	if err != nil || r.Status != StatusDegraded {
		t.Errorf("Check(push) = (%v, %v), want replaced checker", r.Status, err)
	}

	agg.Unregister("push")
	if got := agg.CheckerNames(); !slices.Equal(got, []string{"cache"}) {
		t.Errorf("CheckerNames after Unregister = %v", got)
	}
	if _, err := agg.Check(context.Background(), "push"); !errors.Is(err, ErrCheckerNotFound) {
		t.Errorf("Check(unregistered) error = %v, want ErrCheckerNotFound", err)
	}
}

func TestAggregator_CheckAll(t *testing.T) {
	agg := NewAggregator()
	agg.Register("healthy", fixed(Healthy("ok")))
	agg.Register("degraded", fixed(Degraded("slow")))

	results := agg.CheckAll(context.Background())
	if len(results) != 2 {
		t.Fatalf("len(results) = %d, want 2", len(results))
	}
	if results["degraded"].Status != StatusDegraded {
		t.Errorf("degraded = %v", results["degraded"].Status)
	}
	if results["healthy"].Timestamp.IsZero() {
		t.Error("Timestamp should be set")
	}
	if got := OverallStatus(results); got != StatusDegraded {
		t.Errorf("OverallStatus = %v, want degraded", got)
	}
	if len(NewAggregator().CheckAll(context.Background())) != 0 {
		t.Error("empty aggregator should return no results")
	}
}

func TestAggregator_CheckAllTimeout(t *testing.T) {
	agg := NewAggregator(AggregatorConfig{Timeout: 30 * time.Millisecond})
	agg.Register("slow", CheckerFunc(func(ctx context.Context) Result {
		<-ctx.Done()
		time.Sleep(20 * time.Millisecond)
		return Healthy("late")
	}))

	r := agg.CheckAll(context.Background())["slow"]
	if r.Status != StatusUnhealthy || !errors.Is(r.Error, ErrCheckTimeout) {
		t.Errorf("slow = (%v, %v), want unhealthy timeout", r.Status, r.Error)
	}
}

func TestAggregator_Concurrency(t *testing.T) {
	agg := NewAggregator(AggregatorConfig{Concurrency: 2})
	var running, peak atomic.Int32
	slow := CheckerFunc(func(context.Context) Result {
		n := running.Add(1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		time.Sleep(10 * time.Millisecond)
		running.Add(-1)
		return Healthy("ok")
	})
	for _, name := range []string{"a", "b", "c", "d", "e"} {
		agg.Register(name, slow)
	}

	if n := len(agg.CheckAll(context.Background())); n != 5 {
		t.Fatalf("len(results) = %d, want 5", n)
	}
	if p := peak.Load(); p > 2 {
		t.Errorf("peak concurrency = %d, want <= 2", p)
	}
}

func TestOverallStatus(t *testing.T) {
	tests := []struct {
		name    string
		results map[string]Result
		want    Status
	}{
		{"empty", map[string]Result{}, StatusHealthy},
		{"all healthy", map[string]Result{"a": Healthy("ok"), "b": Healthy("ok")}, StatusHealthy},
		{"one degraded", map[string]Result{"a": Healthy("ok"), "b": Degraded("slow")}, StatusDegraded},
		{"unhealthy wins", map[string]Result{"a": Degraded("slow"), "b": Unhealthy("down", nil)}, StatusUnhealthy},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := OverallStatus(tt.results); got != tt.want {
				t.Errorf("OverallStatus() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestAggregator_Checker(t *testing.T) {
	agg := NewAggregator()
	agg.Register("push", fixed(Healthy("ok")))
	agg.Register("circuit", fixed(Unhealthy("open", nil)))

	r := agg.Checker().Check(context.Background())
	if r.Status != StatusUnhealthy || r.Message != "some checks failed" {
		t.Errorf("aggregate = (%v, %q)", r.Status, r.Message)
	}
	if r.Details["circuit"] != "unhealthy" || r.Details["push"] != "healthy" {
		t.Errorf("Details = %v", r.Details)
	}
}
