package events

import (
	"context"
	"sync"

	"github.com/rs/zerolog"
)

// MemoryBus is an in-process event bus used when KurrentDB is not
// configured (development) and in tests. Delivery is synchronous with
// Publish, which gives tests deterministic ordering.
type MemoryBus struct {
	mu   sync.RWMutex
	subs []memorySubscription
	log  zerolog.Logger
}

type memorySubscription struct {
	pattern string
	handler Handler
}

// NewMemoryBus creates an in-process event bus
func NewMemoryBus(log zerolog.Logger) *MemoryBus {
	return &MemoryBus{
		log: log.With().Str("component", "memory-bus").Logger(),
	}
}

// Publish delivers the event to every matching subscriber. Handler
// errors are logged, not returned: the bus is at-least-once and the
// dispatcher owns its own retry policy.
func (b *MemoryBus) Publish(ctx context.Context, event Event) error {
	b.mu.RLock()
	subs := make([]memorySubscription, len(b.subs))
	copy(subs, b.subs)
	b.mu.RUnlock()

	for _, sub := range subs {
		if !matchesPattern(event.Kind, sub.pattern) {
			continue
		}
		if err := sub.handler(ctx, event); err != nil {
			b.log.Error().Err(err).Str("event_id", event.ID).Str("kind", event.Kind).Msg("handler error")
		}
	}
	return nil
}

// Subscribe registers a handler for events matching the pattern
func (b *MemoryBus) Subscribe(ctx context.Context, pattern string, consumerName string, handler Handler) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subs = append(b.subs, memorySubscription{pattern: pattern, handler: handler})
	return nil
}

// Close is a no-op for the in-process bus
func (b *MemoryBus) Close() {}

// Health always succeeds for the in-process bus
func (b *MemoryBus) Health() error { return nil }
