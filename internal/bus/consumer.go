package bus

import (
	"context"
	"log/slog"
	"runtime/debug"
	"sync"
)

// DefaultMaxConcurrent bounds in-flight handlers when Consume is given 0.
const DefaultMaxConcurrent = 32

// Consume reads events from r and runs each on its own goroutine, at most
// maxConcurrent at a time. It returns when ctx is done, after in-flight
// handlers finish. Events are not ordered per conversation.
func Consume(ctx context.Context, r MessageRouter, h Handler, maxConcurrent int) {
	if maxConcurrent <= 0 {
		maxConcurrent = DefaultMaxConcurrent
	}
	sem := make(chan struct{}, maxConcurrent)
	var wg sync.WaitGroup
	defer wg.Wait()

	slog.Info("inbound event consumer started", "max_concurrent", maxConcurrent)
	for {
		ev, ok := r.ConsumeInbound(ctx)
		if !ok {
			slog.Info("inbound event consumer stopped")
			return
		}
		select {
		case sem <- struct{}{}:
		case <-ctx.Done():
			return
		}
		wg.Add(1)
		go func(ev InboundEvent) {
			defer wg.Done()
			defer func() { <-sem }()
			defer func() {
				if rec := recover(); rec != nil {
					slog.Error("panic in inbound handler", "kind", ev.Kind, "panic", rec, "stack", string(debug.Stack()))
				}
			}()
			switch ev.Kind {
			case KindMessage:
				h.HandleMessage(ctx, ev.Message)
			case KindConversation:
				h.HandleConversation(ctx, ev.Conversation)
			default:
				slog.Warn("unknown inbound event kind", "kind", ev.Kind)
			}
		}(ev)
	}
}
