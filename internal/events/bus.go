package events

import (
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/ajitpratap0/futuresfunk/internal/metrics"
)

// DefaultQueueSize is the per-subscriber buffer. When a subscriber falls
// behind, the oldest queued event is dropped to make room — dropping, not
// queuing, is the backpressure policy.
const DefaultQueueSize = 256

// Bus is a one-writer/N-reader fan-out of typed events. Publish never
// blocks; slow subscribers lose their oldest events first.
type Bus struct {
	mu        sync.RWMutex
	subs      map[Kind][]*Subscription
	queueSize int
	closed    bool
}

// Subscription delivers matched events on C until Unsubscribe or bus close.
type Subscription struct {
	C <-chan Event

	ch     chan Event
	kinds  []Kind
	bus    *Bus
	closed bool
}

// BusOption customizes bus construction.
type BusOption func(*Bus)

// WithQueueSize overrides the per-subscriber buffer size.
func WithQueueSize(n int) BusOption {
	return func(b *Bus) {
		if n > 0 {
			b.queueSize = n
		}
	}
}

// NewBus creates an event bus.
func NewBus(opts ...BusOption) *Bus {
	b := &Bus{
		subs:      make(map[Kind][]*Subscription),
		queueSize: DefaultQueueSize,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// allKinds is the registration key for wildcard subscriptions.
const allKinds Kind = "*"

// Subscribe registers interest in the given kinds. With no kinds, the
// subscription receives every event.
func (b *Bus) Subscribe(kinds ...Kind) *Subscription {
	sub := &Subscription{
		ch:    make(chan Event, b.queueSize),
		kinds: kinds,
		bus:   b,
	}
	sub.C = sub.ch

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		sub.closed = true
		close(sub.ch)
		return sub
	}

	if len(kinds) == 0 {
		b.subs[allKinds] = append(b.subs[allKinds], sub)
		return sub
	}
	for _, k := range kinds {
		b.subs[k] = append(b.subs[k], sub)
	}
	return sub
}

// Publish fans the event out to all matching subscribers without blocking.
// Delivery happens under the read lock so a concurrent Unsubscribe/Close
// (write lock) can never close a channel mid-send.
func (b *Bus) Publish(ev Event) {
	kind := ev.EventKind()

	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return
	}

	metrics.RecordEventPublished(string(kind))

	for _, sub := range b.subs[kind] {
		sub.deliver(ev, kind)
	}
	for _, sub := range b.subs[allKinds] {
		sub.deliver(ev, kind)
	}
}

// deliver enqueues the event, evicting the subscriber's oldest entry when
// the buffer is full.
func (s *Subscription) deliver(ev Event, kind Kind) {
	select {
	case s.ch <- ev:
		return
	default:
	}

	// Queue full: drop the oldest, then retry once. A concurrent reader may
	// have drained in between, so both selects stay non-blocking.
	select {
	case <-s.ch:
		metrics.RecordEventDropped(string(kind))
		log.Warn().Str("kind", string(kind)).Msg("Subscriber queue full, dropped oldest event")
	default:
	}
	select {
	case s.ch <- ev:
	default:
		metrics.RecordEventDropped(string(kind))
	}
}

// Unsubscribe detaches the subscription and closes its channel.
func (s *Subscription) Unsubscribe() {
	s.bus.remove(s)
}

func (b *Bus) remove(sub *Subscription) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed || sub.closed {
		return
	}

	keys := sub.kinds
	if len(keys) == 0 {
		keys = []Kind{allKinds}
	}
	for _, k := range keys {
		list := b.subs[k]
		for i, s := range list {
			if s == sub {
				b.subs[k] = append(list[:i], list[i+1:]...)
				break
			}
		}
	}
	sub.closed = true
	close(sub.ch)
}

// Close shuts the bus down and closes every subscriber channel. Publish
// after Close is a no-op.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return
	}
	b.closed = true

	for _, list := range b.subs {
		for _, sub := range list {
			if !sub.closed {
				sub.closed = true
				close(sub.ch)
			}
		}
	}
	b.subs = make(map[Kind][]*Subscription)
}
