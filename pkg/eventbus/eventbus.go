// Package eventbus publishes execution state changes to in-process
// subscribers. Delivery is best-effort and at-most-once: a subscriber with a
// full buffer misses the event, and subscribers connected after publication
// never see earlier events. Publication never blocks the caller.
package eventbus

import (
	"sync"
	"time"

	"go.uber.org/zap"
)

// EventType identifies the kind of execution event.
type EventType string

const (
	EventExecutionStarted  EventType = "execution-started"
	EventNodeStatusChanged EventType = "node-status-changed"
	EventExecutionFinished EventType = "execution-finished"
)

// Event is the JSON-serializable shape pushed to subscribers.
type Event struct {
	Type        EventType `json:"type"`
	ExecutionID string    `json:"executionId"`
	NodeID      string    `json:"nodeId,omitempty"`
	Status      string    `json:"status,omitempty"`
	Timestamp   time.Time `json:"timestamp"`
}

// Bus fans events out to zero or more subscribers.
type Bus struct {
	mu          sync.RWMutex
	subscribers map[int]chan Event
	nextID      int
	bufferSize  int
	logger      *zap.Logger
	dropped     int
}

// NewBus creates an event bus. bufferSize controls each subscriber's channel
// buffer; events beyond a full buffer are dropped for that subscriber.
func NewBus(bufferSize int, logger *zap.Logger) *Bus {
	if bufferSize <= 0 {
		bufferSize = 64
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Bus{
		subscribers: make(map[int]chan Event),
		bufferSize:  bufferSize,
		logger:      logger,
	}
}

// Subscribe registers a new subscriber and returns its event channel together
// with an unsubscribe function. The channel is closed on unsubscribe.
func (b *Bus) Subscribe() (<-chan Event, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	id := b.nextID
	b.nextID++
	ch := make(chan Event, b.bufferSize)
	b.subscribers[id] = ch

	unsubscribe := func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		if sub, ok := b.subscribers[id]; ok {
			delete(b.subscribers, id)
			close(sub)
		}
	}
	return ch, unsubscribe
}

// Publish delivers the event to every current subscriber without blocking.
// Subscribers whose buffer is full miss the event.
func (b *Bus) Publish(event Event) {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	for id, ch := range b.subscribers {
		select {
		case ch <- event:
		default:
			b.dropped++
			b.logger.Debug("Dropping event for slow subscriber",
				zap.Int("subscriberID", id),
				zap.String("type", string(event.Type)),
				zap.String("executionID", event.ExecutionID))
		}
	}
}

// Dropped returns the number of events dropped across all subscribers.
func (b *Bus) Dropped() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.dropped
}

// SubscriberCount returns the number of active subscribers.
func (b *Bus) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers)
}
