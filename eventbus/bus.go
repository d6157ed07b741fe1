// Package eventbus implements the Event Bus (C9): fan-out of structured
// progress events to subscribed consumers — a TUI, an HTTP/SSE server, test
// harnesses. The bus never blocks the producer for longer than a bounded
// buffer allows: a Broadcast subscription drops events when its buffer is
// full rather than stall the publisher; a Reliable subscription instead
// applies backpressure to the publisher so no event is lost for that
// consumer.
package eventbus

import (
	"sync"
)

// Mode selects the delivery semantics a Subscription offers.
type Mode int

const (
	// Broadcast drops the event for this subscriber if its buffer is
	// full, so one slow consumer cannot stall the others or the
	// publisher. This is the default mode for UI fan-out.
	Broadcast Mode = iota
	// Reliable delivers every event in FIFO order, applying backpressure
	// to Publish if the buffer fills. Use for consumers that must not
	// miss an event (e.g. durable persistence).
	Reliable
)

const defaultBufferSize = 64

// Publisher is the narrow interface producers depend on, so a Worker or
// Session can be constructed against an event sink without importing the
// concrete Bus type.
type Publisher interface {
	Publish(ev Event)
}

// Bus is a thread-safe, in-process Publisher that fans events out to every
// live Subscription. The zero value is not usable; construct with New.
type Bus struct {
	mu   sync.RWMutex
	subs map[*Subscription]struct{}
}

// New constructs an empty, ready-to-use Bus.
func New() *Bus {
	return &Bus{subs: make(map[*Subscription]struct{})}
}

// Publish delivers ev to every currently subscribed consumer. The set of
// subscribers is snapshotted before delivery, so Subscribe/Close calls that
// happen concurrently with Publish do not affect the current delivery.
func (b *Bus) Publish(ev Event) {
	b.mu.RLock()
	subs := make([]*Subscription, 0, len(b.subs))
	for s := range b.subs {
		subs = append(subs, s)
	}
	b.mu.RUnlock()

	for _, s := range subs {
		switch s.mode {
		case Reliable:
			select {
			case s.ch <- ev:
			case <-s.closed:
			}
		default:
			select {
			case s.ch <- ev:
			default:
			}
		}
	}
}

// Subscribe registers a new consumer and returns a Subscription whose
// Events channel receives every event published from this point on. A
// bufferSize <= 0 uses defaultBufferSize.
func (b *Bus) Subscribe(mode Mode, bufferSize int) *Subscription {
	if bufferSize <= 0 {
		bufferSize = defaultBufferSize
	}
	s := &Subscription{
		bus:    b,
		mode:   mode,
		ch:     make(chan Event, bufferSize),
		closed: make(chan struct{}),
	}
	b.mu.Lock()
	b.subs[s] = struct{}{}
	b.mu.Unlock()
	return s
}

// Subscribers reports the number of live subscriptions, for telemetry.
func (b *Bus) Subscribers() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}

// Subscription is a single consumer's registration on a Bus.
type Subscription struct {
	bus    *Bus
	mode   Mode
	ch     chan Event
	closed chan struct{}
	once   sync.Once
}

// Events returns the channel this subscription receives events on. The
// channel is never closed by the bus (closing it concurrently with an
// in-flight send would panic a publisher goroutine); a consumer should stop
// reading once it has called Close.
func (s *Subscription) Events() <-chan Event {
	return s.ch
}

// Close unregisters the subscription. It is idempotent and safe to call
// concurrently with Publish: a Publish call that already snapshotted this
// subscription and is blocked sending in Reliable mode unblocks via the
// closed signal instead of delivering.
func (s *Subscription) Close() {
	s.once.Do(func() {
		s.bus.mu.Lock()
		delete(s.bus.subs, s)
		s.bus.mu.Unlock()
		close(s.closed)
	})
}
