package events

import (
	"context"
	"fmt"
	"sync"

	"github.com/dvloznov/multibank/internal/logger"
)

// DefaultBuffer is the per-subscriber queue length used when none is given.
const DefaultBuffer = 16

// Bus is an in-process Publisher with any number of subscribers. A
// subscriber that falls behind misses events instead of blocking publishers.
// It is safe for concurrent use.
type Bus struct {
	mu     sync.RWMutex
	subs   map[int]chan AccountsChanged
	nextID int
	closed bool
}

// NewBus creates an empty bus.
func NewBus() *Bus {
	return &Bus{subs: make(map[int]chan AccountsChanged)}
}

// Subscribe registers a subscriber. The returned cancel func unregisters it
// and closes the channel.
func (b *Bus) Subscribe(buffer int) (<-chan AccountsChanged, func()) {
	if buffer <= 0 {
		buffer = DefaultBuffer
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	ch := make(chan AccountsChanged, buffer)
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

// Publish implements Publisher.
func (b *Bus) Publish(ctx context.Context, e AccountsChanged) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return fmt.Errorf("bus is closed")
	}

	for id, ch := range b.subs {
		select {
		case ch <- e:
		default:
			log := logger.FromContext(ctx)
			log.Warn().Int("subscriber", id).Msg("Subscriber queue full, dropping event")
		}
	}
	return nil
}

// Subscribers returns the number of active subscribers.
func (b *Bus) Subscribers() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}

// Close closes every subscriber channel. Publishing afterwards fails.
func (b *Bus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil
	}
	b.closed = true
	for id, ch := range b.subs {
		delete(b.subs, id)
		close(ch)
	}
	return nil
}

var _ Publisher = (*Bus)(nil)
