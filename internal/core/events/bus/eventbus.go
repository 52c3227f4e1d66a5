package bus

import (
	"errors"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"go.uber.org/multierr"
)

var (
	ErrNoEventType = errors.New("bus: event type missing")
	ErrNilHandler  = errors.New("bus: nil handler")
)

// subscription implements Subscription.
type subscription struct {
	id        string
	eventType string
	handler   Handler
	active    atomic.Bool
	cancel    func()
}

func (s *subscription) ID() string     { return s.id }
func (s *subscription) Type() string   { return s.eventType }
func (s *subscription) IsActive() bool { return s.active.Load() }
func (s *subscription) Cancel()        { s.cancel() }

// memBus is the in-memory Bus used by a single process. Scopes map to
// session ids, with "" as the match-all scope.
type memBus struct {
	mu sync.RWMutex
	// scope -> event type -> sub id -> subscription
	subs map[string]map[string]map[string]*subscription

	published atomic.Uint64
	delivered atomic.Uint64
	failed    atomic.Uint64
}

// New creates an empty in-memory bus.
func New() Bus {
	return &memBus{subs: make(map[string]map[string]map[string]*subscription)}
}

func (b *memBus) Subscribe(sessionID, eventType string, h Handler) (Subscription, error) {
	if h == nil {
		return nil, ErrNilHandler
	}
	if eventType == "" {
		return nil, ErrNoEventType
	}

	s := &subscription{id: uuid.NewString(), eventType: eventType, handler: h}
	s.active.Store(true)
	s.cancel = func() {
		if !s.active.CompareAndSwap(true, false) {
			return
		}
		b.mu.Lock()
		defer b.mu.Unlock()
		if m := b.subs[sessionID][eventType]; m != nil {
			delete(m, s.id)
			// drop empty scopes so closed sessions leave nothing behind
			if len(m) == 0 {
				delete(b.subs[sessionID], eventType)
				if len(b.subs[sessionID]) == 0 {
					delete(b.subs, sessionID)
				}
			}
		}
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.subs[sessionID] == nil {
		b.subs[sessionID] = make(map[string]map[string]*subscription)
	}
	if b.subs[sessionID][eventType] == nil {
		b.subs[sessionID][eventType] = make(map[string]*subscription)
	}
	b.subs[sessionID][eventType][s.id] = s
	return s, nil
}

func (b *memBus) Unsubscribe(sub Subscription) {
	if sub != nil {
		sub.Cancel()
	}
}

func (b *memBus) Publish(e Event) error {
	if e.Type == "" {
		return ErrNoEventType
	}

	scopes := []string{e.SessionID}
	if e.SessionID != "" {
		scopes = append(scopes, "")
	}

	b.mu.RLock()
	var targets []*subscription
	for _, scope := range scopes {
		for _, s := range b.subs[scope][e.Type] {
			targets = append(targets, s)
		}
	}
	b.mu.RUnlock()

	b.published.Add(1)

	var errs error
	for _, s := range targets {
		// cancelled between snapshot and delivery
		if !s.active.Load() {
			continue
		}
		if err := s.handler(e); err != nil {
			errs = multierr.Append(errs, err)
			continue
		}
		b.delivered.Add(1)
	}
	if errs != nil {
		b.failed.Add(1)
	}
	return errs
}

func (b *memBus) Metrics() Metrics {
	b.mu.RLock()
	var active uint64
	for _, types := range b.subs {
		for _, m := range types {
			active += uint64(len(m))
		}
	}
	b.mu.RUnlock()

	return Metrics{
		Published:   b.published.Load(),
		Delivered:   b.delivered.Load(),
		Errors:      b.failed.Load(),
		Subscribers: active,
	}
}
