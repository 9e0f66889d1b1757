// Package events carries change notifications between inkwell components.
//
// Publishers never block: a subscriber whose buffer is full misses the event
// and the drop is counted. Subscribers that need every change should treat an
// event as a hint and re-read state.
package events

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/poiesic/inkwell/core"
)

// Kind identifies what changed.
type Kind int

const (
	// DocumentReembedded is published after a document's embedding set was replaced.
	DocumentReembedded Kind = iota + 1
	// DocumentEmbeddingsRemoved is published after a document's embeddings were deleted.
	DocumentEmbeddingsRemoved
	// DocumentChanged is published after a document was created, updated or deleted.
	DocumentChanged
)

func (k Kind) String() string {
	switch k {
	case DocumentReembedded:
		return "document_reembedded"
	case DocumentEmbeddingsRemoved:
		return "document_embeddings_removed"
	case DocumentChanged:
		return "document_changed"
	default:
		return "unknown"
	}
}

// Event describes a single change.
type Event struct {
	Kind       Kind
	DocumentID core.ID
	Model      string
	Chunks     int
	At         time.Time
}

// Bus fans events out to subscribers.
// The zero value is not usable; use NewBus.
type Bus struct {
	mu      sync.RWMutex
	subs    map[uint64]chan Event
	nextID  uint64
	closed  bool
	dropped atomic.Uint64
}

// NewBus creates an empty bus.
func NewBus() *Bus {
	return &Bus{subs: make(map[uint64]chan Event)}
}

// Subscribe registers a subscriber with the given channel buffer.
// The returned function unsubscribes and closes the channel; it is safe to
// call more than once. Subscribing to a closed bus returns a closed channel.
func (b *Bus) Subscribe(buffer int) (<-chan Event, func()) {
	ch := make(chan Event, max(buffer, 0))

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		close(ch)
		return ch, func() {}
	}

	id := b.nextID
	b.nextID++
	b.subs[id] = ch

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			if c, ok := b.subs[id]; ok {
				delete(b.subs, id)
				close(c)
			}
		})
	}
}

// Publish delivers ev to every subscriber without blocking.
// A zero At is set to the current time.
func (b *Bus) Publish(ev Event) {
	if ev.At.IsZero() {
		ev.At = time.Now().UTC()
	}

	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return
	}
	for _, ch := range b.subs {
		select {
		case ch <- ev:
		default:
			b.dropped.Add(1)
		}
	}
}

// Dropped returns how many deliveries were skipped because a subscriber was full.
func (b *Bus) Dropped() uint64 {
	return b.dropped.Load()
}

// Close closes every subscriber channel. Later publishes are ignored.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for id, ch := range b.subs {
		delete(b.subs, id)
		close(ch)
	}
}
