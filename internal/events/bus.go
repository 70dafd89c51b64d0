// internal/events/bus.go
package events

import (
	"context"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"serial-service/internal/model"
)

const (
	DefaultQueueSize      = 1000
	DefaultSubscriberSize = 100
)

// Subscription receives events of the types it subscribed to
type Subscription struct {
	C     <-chan model.Event
	ch    chan model.Event
	types map[model.EventType]bool
	bus   *Bus
}

// Close detaches the subscription from the bus and closes its channel
func (s *Subscription) Close() {
	s.bus.unsubscribe(s)
}

func (s *Subscription) wants(t model.EventType) bool {
	return len(s.types) == 0 || s.types[t]
}

// Stats counts bus traffic
type Stats struct {
	Published   int64 `json:"published"`
	Delivered   int64 `json:"delivered"`
	Dropped     int64 `json:"dropped"`
	Subscribers int   `json:"subscribers"`
}

// Bus distributes events to subscribers without ever blocking the publisher
type Bus struct {
	events chan model.Event
	logger *zap.Logger

	mutex       sync.RWMutex
	subscribers map[*Subscription]struct{}
	closed      bool

	published atomic.Int64
	delivered atomic.Int64
	dropped   atomic.Int64
}

// NewBus creates a bus with a queue of queueSize events
func NewBus(queueSize int, logger *zap.Logger) *Bus {
	if queueSize <= 0 {
		queueSize = DefaultQueueSize
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Bus{
		events:      make(chan model.Event, queueSize),
		logger:      logger.With(zap.String("component", "event_bus")),
		subscribers: make(map[*Subscription]struct{}),
	}
}

// Run distributes queued events until ctx is done
func (b *Bus) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case event := <-b.events:
			b.distribute(event)
		}
	}
}

// Publish queues an event. A full queue drops it with a warning.
func (b *Bus) Publish(event model.Event) {
	b.published.Add(1)
	select {
	case b.events <- event:
	default:
		b.dropped.Add(1)
		b.logger.Warn("Event bus full, dropping event",
			zap.String("event_type", string(event.Type)),
		)
	}
}

// Emit builds and publishes an event
func (b *Bus) Emit(eventType model.EventType, source string, data map[string]any) {
	b.Publish(model.NewEvent(eventType, source, data))
}

// Subscribe returns a subscription for the given types, or for every type
// when none are given
func (b *Bus) Subscribe(types ...model.EventType) *Subscription {
	ch := make(chan model.Event, DefaultSubscriberSize)
	sub := &Subscription{C: ch, ch: ch, types: make(map[model.EventType]bool, len(types)), bus: b}
	for _, t := range types {
		sub.types[t] = true
	}

	b.mutex.Lock()
	defer b.mutex.Unlock()
	if b.closed {
		close(ch)
		return sub
	}
	b.subscribers[sub] = struct{}{}
	return sub
}

func (b *Bus) unsubscribe(sub *Subscription) {
	b.mutex.Lock()
	defer b.mutex.Unlock()

	if _, ok := b.subscribers[sub]; ok {
		delete(b.subscribers, sub)
		close(sub.ch)
	}
}

func (b *Bus) distribute(event model.Event) {
	b.mutex.RLock()
	defer b.mutex.RUnlock()

	for sub := range b.subscribers {
		if !sub.wants(event.Type) {
			continue
		}
		select {
		case sub.ch <- event:
			b.delivered.Add(1)
		default:
			b.dropped.Add(1)
			b.logger.Debug("Subscriber is slow, skipping event", zap.String("event_type", string(event.Type)))
		}
	}
}

// Close detaches every subscriber
func (b *Bus) Close() {
	b.mutex.Lock()
	defer b.mutex.Unlock()

	if b.closed {
		return
	}
	b.closed = true
	for sub := range b.subscribers {
		close(sub.ch)
		delete(b.subscribers, sub)
	}
}

// Stats returns traffic counters
func (b *Bus) Stats() Stats {
	b.mutex.RLock()
	n := len(b.subscribers)
	b.mutex.RUnlock()

	return Stats{
		Published:   b.published.Load(),
		Delivered:   b.delivered.Load(),
		Dropped:     b.dropped.Load(),
		Subscribers: n,
	}
}
