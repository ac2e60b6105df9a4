// Package status keeps per-request generation progress and fans it out to
// stream subscribers.
package status

import (
	"io"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"dashboard/internal/domain"
)

// Listener receives status events. It runs synchronously inside Publish and
// Subscribe, so it must not block.
type Listener func(domain.StatusEvent)

// Publisher is the write side of the bus handed to invokers.
type Publisher interface {
	Publish(evt domain.StatusEvent) bool
}

// Scheduler receives terminal request ids for delayed purging.
type Scheduler interface {
	Schedule(requestID string)
}

// Observer records bus activity, typically as metrics.
type Observer interface {
	ObserveStatusEvent(eventType string)
}

type registration struct {
	id       uint64
	listener Listener
}

type topic struct {
	mu        sync.Mutex
	history   []domain.StatusEvent
	listeners []registration
	terminal  bool
	// removed is set once the topic is no longer in Bus.topics; it is only
	// written while holding both Bus.mu and topic.mu.
	removed bool
}

// Bus is the process-wide status pub/sub keyed by request id. Events for one
// id are delivered in publish order; no order holds across ids.
type Bus struct {
	mu     sync.Mutex
	topics map[string]*topic
	nextID uint64

	cleanup  Scheduler
	observer Observer
	now      func() time.Time
	logger   zerolog.Logger
}

// BusOption configures a Bus.
type BusOption func(*Bus)

func WithLogger(logger zerolog.Logger) BusOption {
	return func(b *Bus) { b.logger = logger }
}

// WithCleanup schedules a purge whenever a terminal event is published.
func WithCleanup(s Scheduler) BusOption {
	return func(b *Bus) { b.cleanup = s }
}

func WithObserver(o Observer) BusOption {
	return func(b *Bus) { b.observer = o }
}

func WithClock(c Clock) BusOption {
	return func(b *Bus) {
		if c != nil {
			b.now = c.Now
		}
	}
}

// NewBus constructs an empty bus.
func NewBus(opts ...BusOption) *Bus {
	b := &Bus{
		topics: make(map[string]*topic),
		now:    time.Now,
		logger: zerolog.New(io.Discard),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(b)
		}
	}
	return b
}

func (b *Bus) topicFor(requestID string) *topic {
	b.mu.Lock()
	defer b.mu.Unlock()
	t, ok := b.topics[requestID]
	if !ok {
		t = &topic{}
		b.topics[requestID] = t
	}
	return t
}

// lockTopic returns the live topic for the id with its mutex held. A topic
// detached between lookup and lock is skipped and looked up again.
func (b *Bus) lockTopic(requestID string) *topic {
	for {
		t := b.topicFor(requestID)
		t.mu.Lock()
		if !t.removed {
			return t
		}
		t.mu.Unlock()
	}
}

// Publish appends the event to its request history and delivers it to every
// current listener in registration order. A second terminal event for the
// same history is dropped and reported as false.
func (b *Bus) Publish(evt domain.StatusEvent) bool {
	if evt.RequestID == "" {
		b.logger.Warn().Str("event_type", string(evt.Type)).Msg("status: dropping event without request id")
		return false
	}
	if evt.Timestamp.IsZero() {
		evt.Timestamp = b.now()
	}

	t := b.lockTopic(evt.RequestID)
	if t.terminal {
		t.mu.Unlock()
		b.logger.Warn().
			Str("request_id", evt.RequestID).
			Str("event_type", string(evt.Type)).
			Msg("status: event after terminal dropped")
		return false
	}
	t.history = append(t.history, evt)
	if evt.Type.IsTerminal() {
		t.terminal = true
	}
	for _, reg := range t.listeners {
		reg.listener(evt)
	}
	t.mu.Unlock()

	if b.observer != nil {
		b.observer.ObserveStatusEvent(string(evt.Type))
	}
	if evt.Type.IsTerminal() && b.cleanup != nil {
		b.cleanup.Schedule(evt.RequestID)
	}
	return true
}

// Subscribe replays the stored history to listener, then registers it for
// live events. The returned func removes exactly this registration and is
// safe to call more than once.
func (b *Bus) Subscribe(requestID string, listener Listener) func() {
	if listener == nil {
		return func() {}
	}
	b.mu.Lock()
	b.nextID++
	id := b.nextID
	b.mu.Unlock()

	t := b.lockTopic(requestID)
	for _, evt := range t.history {
		listener(evt)
	}
	t.listeners = append(t.listeners, registration{id: id, listener: listener})
	t.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() { b.unsubscribe(requestID, t, id) })
	}
}

func (b *Bus) unsubscribe(requestID string, t *topic, id uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	t.mu.Lock()
	defer t.mu.Unlock()

	for i, reg := range t.listeners {
		if reg.id == id {
			t.listeners = append(t.listeners[:i:i], t.listeners[i+1:]...)
			break
		}
	}
	if t.removed || len(t.listeners) > 0 || len(t.history) > 0 {
		return
	}
	if current, ok := b.topics[requestID]; ok && current == t {
		delete(b.topics, requestID)
	}
	t.removed = true
}

// ClearStatusHistory drops the stored history and every listener for the id.
// Clearing an unknown id is a no-op.
func (b *Bus) ClearStatusHistory(requestID string) {
	b.mu.Lock()
	t, ok := b.topics[requestID]
	if !ok {
		b.mu.Unlock()
		return
	}
	t.mu.Lock()
	delete(b.topics, requestID)
	t.removed = true
	t.history = nil
	t.listeners = nil
	t.mu.Unlock()
	b.mu.Unlock()
	b.logger.Debug().Str("request_id", requestID).Msg("status: history cleared")
}

// History returns a copy of the events stored for the id.
func (b *Bus) History(requestID string) []domain.StatusEvent {
	b.mu.Lock()
	t, ok := b.topics[requestID]
	b.mu.Unlock()
	if !ok {
		return nil
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]domain.StatusEvent, len(t.history))
	copy(out, t.history)
	return out
}

// ListenerCount reports how many listeners are registered for the id.
func (b *Bus) ListenerCount(requestID string) int {
	b.mu.Lock()
	t, ok := b.topics[requestID]
	b.mu.Unlock()
	if !ok {
		return 0
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.listeners)
}

var _ Publisher = (*Bus)(nil)
