// Package eventbus implements the Core Runtime's Event Bus: compiled,
// type-tagged in-process dispatch from producers to many handlers, plus an
// external Subscribe surface for firehose/per-session/per-type topics.
package eventbus

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/osa-systems/osa/pkg/osa"
)

// Handler receives one event. Handlers that panic are recovered at the
// dispatch boundary and do not affect other handlers or the emitter.
type Handler func(ctx context.Context, e osa.Event)

// HandlerHandle identifies a registered handler for Unregister.
type HandlerHandle struct {
	eventType osa.EventType
	id        string
}

// Bus is the process-wide Event Bus. Registration is serialized under a
// mutex; Emit reads a snapshot and never blocks on handler execution, the
// same map+RWMutex shape used elsewhere in this module, generalized from
// tool names to event types.
type Bus struct {
	mu       sync.RWMutex
	handlers map[osa.EventType]map[string]Handler
	sequence uint64
	logger   *slog.Logger

	subMu sync.Mutex
	subs  map[string]*subscriber
}

// New creates an empty Event Bus.
func New(logger *slog.Logger) *Bus {
	if logger == nil {
		logger = slog.Default()
	}
	return &Bus{
		handlers: make(map[osa.EventType]map[string]Handler),
		subs:     make(map[string]*subscriber),
		logger:   logger,
	}
}

// RegisterHandler adds fn to the fan-out list for eventType. Handlers are
// held in a map, so Emit starts them in no particular order; registration
// order is not preserved.
func (b *Bus) RegisterHandler(eventType osa.EventType, fn Handler) HandlerHandle {
	id := uuid.NewString()
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.handlers[eventType] == nil {
		b.handlers[eventType] = make(map[string]Handler)
	}
	b.handlers[eventType][id] = fn
	return HandlerHandle{eventType: eventType, id: id}
}

// Unregister removes a previously registered handler. Safe to call twice.
func (b *Bus) Unregister(h HandlerHandle) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.handlers[h.eventType], h.id)
}

// Emit dispatches an event to every handler registered for its type and to
// every external subscriber. Emit never blocks on a handler: each handler
// runs in its own goroutine with an isolated failure domain. Within a
// single event type, per-session delivery to subscribers preserves FIFO
// order because fan-out to subscribers happens synchronously here before
// Emit returns, in emission order.
func (b *Bus) Emit(ctx context.Context, eventType osa.EventType, sessionID string, payload map[string]any) osa.Event {
	seq := atomic.AddUint64(&b.sequence, 1)
	event := osa.Event{
		Type:      eventType,
		SessionID: sessionID,
		Sequence:  seq,
		Payload:   payload,
	}
	event.Timestamp = time.Now()

	b.mu.RLock()
	handlers := make([]Handler, 0, len(b.handlers[eventType]))
	for _, fn := range b.handlers[eventType] {
		handlers = append(handlers, fn)
	}
	b.mu.RUnlock()

	for _, fn := range handlers {
		go b.dispatch(ctx, fn, event)
	}

	b.fanOutToSubscribers(event)
	return event
}

func (b *Bus) dispatch(ctx context.Context, fn Handler, e osa.Event) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("event handler panicked", "event_type", e.Type, "recover", r)
		}
	}()
	fn(ctx, e)
}
