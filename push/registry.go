package push

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/jonwraymond/quotelink/observe"
)

// Handler receives events for a subscription. A returned error is logged
// and does not affect other subscriptions.
type Handler func(ctx context.Context, ev Event) error

// Predicate filters events by payload. A nil Predicate accepts everything.
type Predicate func(payload json.RawMessage) bool

// Subscription is a snapshot of one registered interest.
type Subscription struct {
	ID        string
	Event     string
	Active    bool
	CreatedAt time.Time
}

type subscription struct {
	id        string
	event     string
	predicate Predicate
	handler   Handler
	active    bool
	createdAt time.Time
}

func (s *subscription) snapshot() Subscription {
	return Subscription{ID: s.id, Event: s.event, Active: s.active, CreatedAt: s.createdAt}
}

// Registry holds subscriptions independently of any connection.
//
// Subscriptions are kept in creation order. Removing one deactivates it
// immediately; the record itself is dropped by Sweep.
type Registry struct {
	mu    sync.RWMutex
	byID  map[string]*subscription
	order []*subscription

	logger observe.Logger
	now    func() time.Time
}

// NewRegistry creates an empty registry. A nil logger discards output.
func NewRegistry(logger observe.Logger) *Registry {
	if logger == nil {
		logger = observe.NopLogger()
	}
	return &Registry{
		byID:   make(map[string]*subscription),
		logger: logger,
		now:    time.Now,
	}
}

// Add registers handler for event. firstForEvent reports whether no other
// active subscription for event existed.
func (r *Registry) Add(event string, predicate Predicate, handler Handler) (Subscription, bool, error) {
	if event == "" || handler == nil {
		return Subscription{}, false, ErrInvalidSubscription
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	first := r.activeCountLocked(event) == 0
	s := &subscription{
		id:        uuid.NewString(),
		event:     event,
		predicate: predicate,
		handler:   handler,
		active:    true,
		createdAt: r.now(),
	}
	r.byID[s.id] = s
	r.order = append(r.order, s)
	return s.snapshot(), first, nil
}

// Remove deactivates the subscription with id. lastForEvent reports whether
// no active subscription for the event remains. ok is false when id is
// unknown or already removed.
func (r *Registry) Remove(id string) (event string, lastForEvent, ok bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, found := r.byID[id]
	if !found || !s.active {
		return "", false, false
	}
	s.active = false
	return s.event, r.activeCountLocked(s.event) == 0, true
}

// Get returns a snapshot of the subscription with id.
func (r *Registry) Get(id string) (Subscription, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	s, ok := r.byID[id]
	if !ok {
		return Subscription{}, false
	}
	return s.snapshot(), true
}

// Dispatch delivers ev to every active subscription for ev.Name whose
// predicate accepts the payload, in subscription order. Handlers run outside
// the registry lock. A handler that fails or panics is logged and skipped.
// Dispatch returns the number of handlers that completed without error.
func (r *Registry) Dispatch(ctx context.Context, ev Event) int {
	r.mu.RLock()
	var targets []*subscription
	for _, s := range r.order {
		if s.active && s.event == ev.Name {
			targets = append(targets, s)
		}
	}
	r.mu.RUnlock()

	delivered := 0
	for _, s := range targets {
		if s.predicate != nil && !s.predicate(ev.Payload) {
			continue
		}
		if err := r.invoke(ctx, s, ev); err != nil {
			r.logger.Warn(ctx, "subscription handler failed",
				observe.F("subscription_id", s.id),
				observe.F("event", ev.Name),
				observe.F("error", err),
			)
			continue
		}
		delivered++
	}
	return delivered
}

func (r *Registry) invoke(ctx context.Context, s *subscription, ev Event) (err error) {
	defer func() {
		if v := recover(); v != nil {
			err = fmt.Errorf("push: handler panicked: %v", v)
		}
	}()
	return s.handler(ctx, ev)
}

// ActiveEvents returns the distinct event names with at least one active
// subscription, ordered by each name's earliest active subscription.
func (r *Registry) ActiveEvents() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	seen := make(map[string]struct{})
	var events []string
	for _, s := range r.order {
		if !s.active {
			continue
		}
		if _, dup := seen[s.event]; dup {
			continue
		}
		seen[s.event] = struct{}{}
		events = append(events, s.event)
	}
	return events
}

// Active returns snapshots of the active subscriptions in creation order.
func (r *Registry) Active() []Subscription {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []Subscription
	for _, s := range r.order {
		if s.active {
			out = append(out, s.snapshot())
		}
	}
	return out
}

// Len returns the number of active subscriptions.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	n := 0
	for _, s := range r.order {
		if s.active {
			n++
		}
	}
	return n
}

// Sweep drops deactivated records and returns how many were dropped.
func (r *Registry) Sweep() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	kept := r.order[:0]
	removed := 0
	for _, s := range r.order {
		if s.active {
			kept = append(kept, s)
			continue
		}
		delete(r.byID, s.id)
		removed++
	}
	clear(r.order[len(kept):])
	r.order = kept
	return removed
}

func (r *Registry) activeCountLocked(event string) int {
	n := 0
	for _, s := range r.order {
		if s.active && s.event == event {
			n++
		}
	}
	return n
}
