// Package eventbus is the engine's in-process, synchronous publish/subscribe
// mechanism (C9). It guarantees delivery order per accountId, never blocks a
// publisher on a slow subscriber, and detaches subscribers whose buffer
// fills instead of applying backpressure — per spec.md sections 4.9 and 5.
package eventbus

import (
	"sync"

	"github.com/jbelanger/exitbook/internal/obslog"
)

// Topic names the typed event envelopes the engine emits.
type Topic string

const (
	ImportStarted    Topic = "import.started"
	ImportCompleted  Topic = "import.completed"
	ImportFailed     Topic = "import.failed"
	BatchStarted     Topic = "process.batch.started"
	BatchCompleted   Topic = "process.batch.completed"
	CircuitOpen      Topic = "provider.circuit_open"
	ProviderTransition Topic = "provider.transition"
)

// Event is one envelope published on the bus.
type Event struct {
	Topic     Topic
	AccountID string
	Payload   any
}

const subscriberBuffer = 64

// subscriber is one detachable delivery channel.
type subscriber struct {
	ch       chan Event
	detached bool
}

// Bus is the root event emitter. The zero value is not usable; use New.
type Bus struct {
	mu          sync.Mutex
	subs        []*subscriber
	// orderLocks serializes publishes per accountId so that two goroutines
	// racing to publish for the same account can never interleave their
	// events out of the order they called Publish in.
	orderLocks  map[string]*sync.Mutex
}

// New constructs an empty Bus.
func New() *Bus {
	return &Bus{orderLocks: make(map[string]*sync.Mutex)}
}

// Subscribe returns a channel of events. The caller must keep draining it;
// a subscriber that falls behind subscriberBuffer events is detached and its
// channel closed — publishers are never blocked by a slow consumer.
func (b *Bus) Subscribe() <-chan Event {
	b.mu.Lock()
	defer b.mu.Unlock()
	s := &subscriber{ch: make(chan Event, subscriberBuffer)}
	b.subs = append(b.subs, s)
	return s.ch
}

// Publish delivers ev to every live subscriber, preserving per-accountId
// order across concurrent publishers.
func (b *Bus) Publish(ev Event) {
	lock := b.lockFor(ev.AccountID)
	lock.Lock()
	defer lock.Unlock()

	b.mu.Lock()
	subs := make([]*subscriber, len(b.subs))
	copy(subs, b.subs)
	b.mu.Unlock()

	log := obslog.For("eventbus")
	for _, s := range subs {
		if s.detached {
			continue
		}
		select {
		case s.ch <- ev:
		default:
			log.Warn().Str("topic", string(ev.Topic)).Msg("subscriber buffer full, detaching")
			b.detach(s)
		}
	}
}

func (b *Bus) lockFor(accountID string) *sync.Mutex {
	b.mu.Lock()
	defer b.mu.Unlock()
	l, ok := b.orderLocks[accountID]
	if !ok {
		l = &sync.Mutex{}
		b.orderLocks[accountID] = l
	}
	return l
}

func (b *Bus) detach(s *subscriber) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if s.detached {
		return
	}
	s.detached = true
	close(s.ch)
}
