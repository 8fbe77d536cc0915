package assembly

import (
	"sync"
	"sync/atomic"

	"github.com/google/uuid"

	"layerforge.ai/internal/sim/diagnostics"
	"layerforge.ai/internal/sim/diff"
)

type EventKind string

const (
	EventCreated        EventKind = "created"
	EventDeleted        EventKind = "deleted"
	EventImportsChanged EventKind = "imports_changed"
	EventRefreshed      EventKind = "refreshed"
	EventSaved          EventKind = "saved"
)

type Event struct {
	Kind       EventKind
	AssemblyID uuid.UUID
	Seq        uint64
	// Diagnostics is set on EventRefreshed.
	Diagnostics diagnostics.Collection
	// Stats is set on EventSaved.
	Stats diff.Stats
}

// EventBus fans events out to subscribers. Publish never blocks: a
// subscriber whose buffer is full misses the event.
type EventBus struct {
	mu      sync.Mutex
	subs    map[uint64]chan Event
	next    uint64
	dropped atomic.Uint64
}

func NewEventBus() *EventBus {
	return &EventBus{subs: map[uint64]chan Event{}}
}

// Subscribe returns a channel of future events and a cancel func that
// closes it.
func (b *EventBus) Subscribe(buffer int) (<-chan Event, func()) {
	if buffer <= 0 {
		buffer = 16
	}
	ch := make(chan Event, buffer)
	b.mu.Lock()
	id := b.next
	b.next++
	b.subs[id] = ch
	b.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs, id)
			b.mu.Unlock()
			close(ch)
		})
	}
}

func (b *EventBus) Publish(ev Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, ch := range b.subs {
		select {
		case ch <- ev:
		default:
			b.dropped.Add(1)
		}
	}
}

func (b *EventBus) Dropped() uint64 { return b.dropped.Load() }

func (b *EventBus) Subscribers() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}
