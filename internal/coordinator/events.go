package coordinator

import (
	"log/slog"
	"sync"
	"time"

	"ezville-go-home/internal/protocol"
)

// Event types
const (
	EventDeviceDiscovered = "device_discovered"
	EventStateUpdate      = "state_update"
	EventCommandEcho      = "command_echo"
	EventUnknownFrame     = "unknown_frame"
	EventDeviceRemoved    = "device_removed"
)

// Event is one change notification leaving the ingestion pipeline.
type Event struct {
	Type      string          `json:"type"`
	Family    protocol.Family `json:"family"`
	Key       string          `json:"key"`
	New       bool            `json:"new,omitempty"`
	Transient bool            `json:"transient,omitempty"`
	State     protocol.Event  `json:"state"`
	At        time.Time       `json:"at"`
}

// EventHandler is a callback for events.
type EventHandler func(Event)

// EventBus provides pub/sub for coordinator events. Handlers register per
// family or for everything; the registration table is meant to be filled at
// startup and left alone afterwards.
type EventBus struct {
	mu          sync.RWMutex
	handlers    map[protocol.Family]map[uint64]EventHandler
	allHandlers map[uint64]EventHandler
	nextID      uint64
	logger      *slog.Logger
}

// NewEventBus creates a new event bus.
func NewEventBus(logger *slog.Logger) *EventBus {
	return &EventBus{
		handlers:    make(map[protocol.Family]map[uint64]EventHandler),
		allHandlers: make(map[uint64]EventHandler),
		logger:      logger,
	}
}

// On registers a handler for one family (protocol.FamilyUnknown subscribes
// to unrecognized-device traffic). Returns an unsubscribe function.
func (eb *EventBus) On(family protocol.Family, handler EventHandler) func() {
	eb.mu.Lock()
	defer eb.mu.Unlock()
	id := eb.nextID
	eb.nextID++
	if eb.handlers[family] == nil {
		eb.handlers[family] = make(map[uint64]EventHandler)
	}
	eb.handlers[family][id] = handler
	return func() {
		eb.mu.Lock()
		defer eb.mu.Unlock()
		delete(eb.handlers[family], id)
	}
}

// OnAll registers a handler that receives all events.
// Returns an unsubscribe function.
func (eb *EventBus) OnAll(handler EventHandler) func() {
	eb.mu.Lock()
	defer eb.mu.Unlock()
	id := eb.nextID
	eb.nextID++
	eb.allHandlers[id] = handler
	return func() {
		eb.mu.Lock()
		defer eb.mu.Unlock()
		delete(eb.allHandlers, id)
	}
}

// Emit sends an event to all matching handlers.
// Handlers are called synchronously; a panicking handler is recovered.
func (eb *EventBus) Emit(event Event) {
	eb.mu.RLock()
	handlers := make([]EventHandler, 0, len(eb.handlers[event.Family])+len(eb.allHandlers))
	for _, h := range eb.handlers[event.Family] {
		handlers = append(handlers, h)
	}
	for _, h := range eb.allHandlers {
		handlers = append(handlers, h)
	}
	eb.mu.RUnlock()

	for _, h := range handlers {
		func() {
			defer func() {
				if r := recover(); r != nil {
					eb.logger.Error("event handler panic", "family", event.Family, "key", event.Key, "panic", r)
				}
			}()
			h(event)
		}()
	}
}
