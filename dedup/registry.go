package dedup

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
)

// Registry tracks outstanding calls keyed by request signature.
// The zero value is ready to use.
type Registry[T any] struct {
	mu    sync.Mutex
	calls map[string]*call[T]

	started   atomic.Int64
	joined    atomic.Int64
	abandoned atomic.Int64
}

type call[T any] struct {
	done   chan struct{}
	val    T
	err    error
	refs   int
	cancel context.CancelFunc
}

// New creates an empty registry.
func New[T any]() *Registry[T] {
	return &Registry[T]{calls: make(map[string]*call[T])}
}

// Do returns the result of fn for key, running it at most once among all
// concurrent callers. shared reports whether this caller joined a call
// another caller started.
//
// fn runs in its own goroutine under a context that keeps ctx's values and
// deadline but not its cancellation; it is cancelled only once every caller
// has left or the starting caller's deadline passes. Joiners share that
// deadline. If ctx ends first, Do returns ctx.Err() and drops this caller's
// reference.
func (r *Registry[T]) Do(ctx context.Context, key string, fn func(context.Context) (T, error)) (v T, shared bool, err error) {
	if fn == nil {
		return v, false, ErrNilFunc
	}

	r.mu.Lock()
	if r.calls == nil {
		r.calls = make(map[string]*call[T])
	}
	c, ok := r.calls[key]
	if ok {
		c.refs++
		r.joined.Add(1)
	} else {
		callCtx, cancel := detach(ctx)
		c = &call[T]{done: make(chan struct{}), refs: 1, cancel: cancel}
		r.calls[key] = c
		r.started.Add(1)
		go r.run(callCtx, key, c, fn)
	}
	r.mu.Unlock()

	select {
	case <-c.done:
		return c.val, ok, c.err
	case <-ctx.Done():
		// A settled result wins over a simultaneous cancellation.
		select {
		case <-c.done:
			return c.val, ok, c.err
		default:
		}
		r.leave(key, c)
		return v, ok, ctx.Err()
	}
}

// detach strips ctx's cancellation and puts its deadline back, so the call
// outlives an early-leaving caller but still sees the time budget.
func detach(ctx context.Context) (context.Context, context.CancelFunc) {
	base := context.WithoutCancel(ctx)
	if d, ok := ctx.Deadline(); ok {
		return context.WithDeadline(base, d)
	}
	return context.WithCancel(base)
}

func (r *Registry[T]) run(ctx context.Context, key string, c *call[T], fn func(context.Context) (T, error)) {
	defer func() {
		if p := recover(); p != nil {
			c.err = fmt.Errorf("%w: %v", ErrPanicked, p)
		}
		r.mu.Lock()
		if r.calls[key] == c {
			delete(r.calls, key)
		}
		r.mu.Unlock()
		c.cancel()
		close(c.done)
	}()
	c.val, c.err = fn(ctx)
}

func (r *Registry[T]) leave(key string, c *call[T]) {
	r.mu.Lock()
	defer r.mu.Unlock()

	c.refs--
	if c.refs > 0 {
		return
	}
	if r.calls[key] == c {
		delete(r.calls, key)
		r.abandoned.Add(1)
	}
	c.cancel()
}

// InFlight reports whether a call for key is outstanding.
func (r *Registry[T]) InFlight(key string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.calls[key]
	return ok
}

// Stats returns a snapshot of registry activity.
func (r *Registry[T]) Stats() Stats {
	r.mu.Lock()
	pending := len(r.calls)
	r.mu.Unlock()

	return Stats{
		Pending:   pending,
		Started:   r.started.Load(),
		Joined:    r.joined.Load(),
		Abandoned: r.abandoned.Load(),
	}
}

// Stats is a snapshot of registry activity.
type Stats struct {
	// Pending is the number of outstanding calls.
	Pending int
	// Started counts calls that ran fn.
	Started int64
	// Joined counts callers that attached to an outstanding call.
	Joined int64
	// Abandoned counts calls cancelled because every caller left.
	Abandoned int64
}
