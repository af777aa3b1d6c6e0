// Package bus decouples the transport from the dispatcher: transports
// publish inbound events, a consumer fans them out to bounded workers.
package bus

import (
	"context"
	"log/slog"
	"time"
)

const (
	defaultBuffer    = 256
	defaultDedupeTTL = 20 * time.Minute
	defaultDedupeMax = 5000
)

// MessageBus is a buffered inbound queue with duplicate suppression.
// Redelivered events (stream resubscribe, bridge reconnect) are dropped.
type MessageBus struct {
	inbound chan InboundEvent
	dedupe  *DedupeCache
	done    chan struct{}
}

// NewMessageBus returns a bus holding up to buffer pending events.
func NewMessageBus(buffer int) *MessageBus {
	if buffer <= 0 {
		buffer = defaultBuffer
	}
	return &MessageBus{
		inbound: make(chan InboundEvent, buffer),
		dedupe:  NewDedupeCache(defaultDedupeTTL, defaultDedupeMax),
		done:    make(chan struct{}),
	}
}

// PublishInbound queues ev. It blocks while the buffer is full and
// returns false when ev was a duplicate or the bus is closed.
func (b *MessageBus) PublishInbound(ev InboundEvent) bool {
	if key := ev.Key(); key != "" && b.dedupe.Seen(key) {
		slog.Debug("bus: duplicate inbound event dropped", "key", key)
		return false
	}
	select {
	case <-b.done:
		return false
	default:
	}
	select {
	case b.inbound <- ev:
		return true
	case <-b.done:
		return false
	}
}

// ConsumeInbound waits for the next event. It returns false once ctx is
// done or the bus is closed.
func (b *MessageBus) ConsumeInbound(ctx context.Context) (InboundEvent, bool) {
	select {
	case ev := <-b.inbound:
		return ev, true
	case <-ctx.Done():
		return InboundEvent{}, false
	case <-b.done:
		return InboundEvent{}, false
	}
}

// Close stops the bus; pending events are discarded. Safe to call once.
func (b *MessageBus) Close() { close(b.done) }

// Pending returns the number of queued events.
func (b *MessageBus) Pending() int { return len(b.inbound) }
