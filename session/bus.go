package session

import (
	"sync"

	"github.com/hupe1980/agentbridge/agui"
	"github.com/hupe1980/agentbridge/logging"
)

// ObserverFunc receives every event emitted for a session after the observer
// subscribed. It is invoked on the emitter's goroutine; slow observers should
// hand off to their own buffering.
type ObserverFunc func(ev agui.Event)

// Bus is a process-wide publish/subscribe registry keyed by session id.
// Entries are created lazily on first subscribe and removed when the last
// observer unsubscribes, so idle sessions hold no resources.
type Bus struct {
	mu       sync.RWMutex
	sessions map[string]map[string]ObserverFunc
	logger   logging.Logger
}

// BusOptions configures a Bus.
type BusOptions struct {
	// Logger used for observer panic reports. Defaults to NoOp.
	Logger logging.Logger
}

// NewBus constructs an empty event bus.
func NewBus(optFns ...func(o *BusOptions)) *Bus {
	opts := BusOptions{Logger: logging.NoOpLogger{}}
	for _, fn := range optFns {
		fn(&opts)
	}

	return &Bus{
		sessions: make(map[string]map[string]ObserverFunc),
		logger:   opts.Logger,
	}
}

// Subscribe registers an observer callback for a session and returns an
// unsubscribe function. Subscribing twice with the same observer id replaces
// the previous callback. The unsubscribe function is idempotent.
func (b *Bus) Subscribe(sessionID, observerID string, fn ObserverFunc) func() {
	b.mu.Lock()
	defer b.mu.Unlock()

	observers, ok := b.sessions[sessionID]
	if !ok {
		observers = make(map[string]ObserverFunc)
		b.sessions[sessionID] = observers
	}
	observers[observerID] = fn

	var once sync.Once

	return func() {
		once.Do(func() { b.unsubscribe(sessionID, observerID) })
	}
}

func (b *Bus) unsubscribe(sessionID, observerID string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	observers, ok := b.sessions[sessionID]
	if !ok {
		return
	}

	delete(observers, observerID)
	if len(observers) == 0 {
		delete(b.sessions, sessionID)
	}
}

// Emit delivers an event to every observer currently subscribed to the
// session, in a consistent order relative to other Emit calls from the same
// producer. A panicking observer is isolated and logged; the remaining
// observers still receive the event and the emitter never sees the failure.
func (b *Bus) Emit(sessionID string, ev agui.Event) {
	b.mu.RLock()
	observers := make([]ObserverFunc, 0, len(b.sessions[sessionID]))
	for _, fn := range b.sessions[sessionID] {
		observers = append(observers, fn)
	}
	b.mu.RUnlock()

	for _, fn := range observers {
		b.deliver(sessionID, fn, ev)
	}
}

func (b *Bus) deliver(sessionID string, fn ObserverFunc, ev agui.Event) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("observer callback panicked", "session_id", sessionID, "panic", r)
		}
	}()

	fn(ev)
}

// HasObservers reports whether any observer is subscribed to the session.
// Producers use it to skip serialization work when no one is listening.
func (b *Bus) HasObservers(sessionID string) bool {
	b.mu.RLock()
	defer b.mu.RUnlock()

	return len(b.sessions[sessionID]) > 0
}

// ObserverCount returns the number of observers subscribed to the session.
func (b *Bus) ObserverCount(sessionID string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()

	return len(b.sessions[sessionID])
}
