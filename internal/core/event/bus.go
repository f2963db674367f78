package event

import (
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

// Observer receives every event published on a bus.
type Observer interface {
	OnEvent(e Event)
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(e Event)

// OnEvent implements Observer.
func (f ObserverFunc) OnEvent(e Event) { f(e) }

// Hooks receives dispatch outcomes, typically wired to metrics.
type Hooks interface {
	EventPublished(t Type)
	ObserverFailed(name string, reason string)
}

// DefaultDispatchTimeout bounds how long one observer may hold up a publisher.
const DefaultDispatchTimeout = 2 * time.Second

type subscription struct {
	id       uint64
	name     string
	observer Observer
}

// Bus is a synchronous publish/subscribe hub.
type Bus struct {
	logger  *slog.Logger
	timeout time.Duration
	hooks   Hooks

	mu     sync.Mutex
	subs   atomic.Pointer[[]subscription]
	nextID uint64
}

// Option configures a Bus.
type Option func(*Bus)

// WithDispatchTimeout sets the per-observer timeout. Zero or less dispatches
// inline without a watchdog, relying only on panic isolation.
func WithDispatchTimeout(d time.Duration) Option {
	return func(b *Bus) { b.timeout = d }
}

// WithHooks sets the dispatch outcome hooks.
func WithHooks(h Hooks) Option {
	return func(b *Bus) { b.hooks = h }
}

// NewBus creates an empty bus.
func NewBus(logger *slog.Logger, opts ...Option) *Bus {
	if logger == nil {
		logger = slog.Default()
	}
	b := &Bus{
		logger:  logger.With("component", "event-bus"),
		timeout: DefaultDispatchTimeout,
	}
	for _, opt := range opts {
		opt(b)
	}
	empty := []subscription{}
	b.subs.Store(&empty)
	return b
}

// Subscribe registers an observer and returns a function that removes it.
// name identifies the observer in logs and metrics.
func (b *Bus) Subscribe(name string, o Observer) (unsubscribe func()) {
	b.mu.Lock()
	b.nextID++
	id := b.nextID
	cur := *b.subs.Load()
	next := make([]subscription, len(cur), len(cur)+1)
	copy(next, cur)
	next = append(next, subscription{id: id, name: name, observer: o})
	b.subs.Store(&next)
	b.mu.Unlock()

	return func() { b.unsubscribe(id) }
}

func (b *Bus) unsubscribe(id uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	cur := *b.subs.Load()
	next := make([]subscription, 0, len(cur))
	for _, s := range cur {
		if s.id != id {
			next = append(next, s)
		}
	}
	b.subs.Store(&next)
}

// Len returns the number of subscribers.
func (b *Bus) Len() int {
	return len(*b.subs.Load())
}

// Publish delivers e to every current subscriber in subscription order and
// returns after the last one has been called or abandoned.
func (b *Bus) Publish(e Event) {
	if b.hooks != nil {
		b.hooks.EventPublished(e.Type)
	}
	for _, s := range *b.subs.Load() {
		b.dispatch(s, e)
	}
}

func (b *Bus) dispatch(s subscription, e Event) {
	if b.timeout <= 0 {
		if err := safeCall(s.observer, e); err != nil {
			b.fail(s, e, "panic", err)
		}
		return
	}

	done := make(chan error, 1)
	go func() { done <- safeCall(s.observer, e) }()

	timer := time.NewTimer(b.timeout)
	defer timer.Stop()
	select {
	case err := <-done:
		if err != nil {
			b.fail(s, e, "panic", err)
		}
	case <-timer.C:
		b.fail(s, e, "timeout", nil)
	}
}

func (b *Bus) fail(s subscription, e Event, reason string, err error) {
	b.logger.Warn("observer failed",
		"observer", s.name,
		"event", e.Type.String(),
		"event_id", e.ID,
		"reason", reason,
		"error", err)
	if b.hooks != nil {
		b.hooks.ObserverFailed(s.name, reason)
	}
}

func safeCall(o Observer, e Event) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	o.OnEvent(e)
	return nil
}
