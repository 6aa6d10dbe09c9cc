// Package eventbus implements the in-process publish/subscribe channel used
// for validation lifecycle notifications.
//
// Delivery is synchronous by default: Publish invokes every matching
// subscriber in registration order before returning. Buses built with
// WithWorkers dispatch events through a bounded queue and a fixed worker
// pool instead; each event is still delivered whole, so registration order
// is preserved within an event.
package eventbus

import (
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Wildcard subscribes to every event type.
const Wildcard = "*"

// Event is the unit of delivery.
type Event struct {
	ID           string
	Type         string
	ValidationID string
	Payload      interface{}
}

// Handler consumes one event. A panicking handler is isolated: the fault is
// counted and logged, and delivery continues with the remaining subscribers.
type Handler func(event Event)

type subscription struct {
	id      string
	filter  string
	handler Handler
}

// Option configures a Bus.
type Option func(*Bus)

// WithFaultHook installs a callback invoked once per subscriber fault, on
// top of the bus's own fault counter.
func WithFaultHook(fn func()) Option {
	return func(b *Bus) {
		b.faultHook = fn
	}
}

// WithWorkers switches the bus to asynchronous dispatch with the given
// worker count and queue capacity. Publish drops the event and counts it
// when the queue is full.
func WithWorkers(workers, queueSize int) Option {
	return func(b *Bus) {
		if workers < 1 {
			workers = 1
		}
		if queueSize < 1 {
			queueSize = 1
		}
		b.workers = workers
		b.queue = make(chan Event, queueSize)
	}
}

// Bus is a thread-safe in-process event bus.
type Bus struct {
	mu   sync.RWMutex
	subs []*subscription
	log  *zap.Logger

	faults    atomic.Uint64
	dropped   atomic.Uint64
	faultHook func()

	workers int
	queue   chan Event
	wg      sync.WaitGroup
	closed  atomic.Bool
}

// New creates a bus. A nil logger disables fault logging.
func New(log *zap.Logger, opts ...Option) *Bus {
	if log == nil {
		log = zap.NewNop()
	}
	b := &Bus{log: log}
	for _, opt := range opts {
		opt(b)
	}
	if b.queue != nil {
		for i := 0; i < b.workers; i++ {
			b.wg.Add(1)
			go b.worker()
		}
	}
	return b
}

// Subscribe registers a handler for one event type, or for every type when
// filter is the Wildcard. It returns the subscription id.
func (b *Bus) Subscribe(filter string, handler Handler) string {
	sub := &subscription{
		id:      uuid.NewString(),
		filter:  filter,
		handler: handler,
	}
	b.mu.Lock()
	b.subs = append(b.subs, sub)
	b.mu.Unlock()
	return sub.id
}

// Unsubscribe removes a subscription. It returns false when the id is
// unknown; remaining subscriptions keep their relative order.
func (b *Bus) Unsubscribe(id string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	for i, sub := range b.subs {
		if sub.id == id {
			b.subs = append(b.subs[:i], b.subs[i+1:]...)
			return true
		}
	}
	return false
}

// SubscriptionCount returns the number of live subscriptions.
func (b *Bus) SubscriptionCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}

// Publish delivers an event to every subscriber whose filter is the wildcard
// or matches the event type. The event id is generated here.
func (b *Bus) Publish(validationID, eventType string, payload interface{}) string {
	event := Event{
		ID:           uuid.NewString(),
		Type:         eventType,
		ValidationID: validationID,
		Payload:      payload,
	}
	if b.queue != nil {
		if b.closed.Load() {
			b.dropped.Add(1)
			return event.ID
		}
		select {
		case b.queue <- event:
		default:
			b.dropped.Add(1)
			b.log.Warn("event queue full, dropping event",
				zap.String("event_type", eventType),
				zap.String("validation_id", validationID))
		}
		return event.ID
	}
	b.deliver(event)
	return event.ID
}

// FaultCount returns the number of subscriber faults since the bus was built.
func (b *Bus) FaultCount() uint64 { return b.faults.Load() }

// DroppedCount returns the number of events dropped by a full async queue.
func (b *Bus) DroppedCount() uint64 { return b.dropped.Load() }

// Close stops the async workers after draining the queue. It is a no-op for
// synchronous buses.
func (b *Bus) Close() {
	if b.queue == nil || !b.closed.CompareAndSwap(false, true) {
		return
	}
	close(b.queue)
	b.wg.Wait()
}

func (b *Bus) worker() {
	defer b.wg.Done()
	for event := range b.queue {
		b.deliver(event)
	}
}

func (b *Bus) deliver(event Event) {
	b.mu.RLock()
	subs := make([]*subscription, len(b.subs))
	copy(subs, b.subs)
	b.mu.RUnlock()

	for _, sub := range subs {
		if sub.filter != Wildcard && sub.filter != event.Type {
			continue
		}
		b.invoke(sub, event)
	}
}

func (b *Bus) invoke(sub *subscription, event Event) {
	defer func() {
		if r := recover(); r != nil {
			b.faults.Add(1)
			if b.faultHook != nil {
				b.faultHook()
			}
			b.log.Warn("subscriber panicked during delivery",
				zap.String("subscription_id", sub.id),
				zap.String("event_type", event.Type),
				zap.String("validation_id", event.ValidationID),
				zap.Any("panic", r))
		}
	}()
	sub.handler(event)
}
