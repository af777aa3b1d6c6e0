package bus

import (
	"context"

	"github.com/xbtify/xbtclaw/internal/transport"
)

// Kind identifies what an inbound event carries.
type Kind string

const (
	KindMessage      Kind = "message"      // a new message in any conversation
	KindConversation Kind = "conversation" // the agent joined a conversation
)

// InboundEvent is one transport event waiting to be dispatched.
type InboundEvent struct {
	Kind         Kind
	Message      *transport.Message
	Conversation transport.Conversation
}

// Key returns the deduplication key, "" when the event has none.
func (e InboundEvent) Key() string {
	switch e.Kind {
	case KindMessage:
		if e.Message != nil {
			return "msg:" + e.Message.ID
		}
	case KindConversation:
		if e.Conversation != nil {
			return "conv:" + e.Conversation.ID()
		}
	}
	return ""
}

// Handler processes inbound events. *dispatch.Dispatcher satisfies it.
type Handler interface {
	HandleMessage(ctx context.Context, msg *transport.Message)
	HandleConversation(ctx context.Context, conv transport.Conversation)
}

// MessageRouter abstracts the inbound side of the bus so transports do
// not depend on the concrete MessageBus.
type MessageRouter interface {
	PublishInbound(ev InboundEvent) bool
	ConsumeInbound(ctx context.Context) (InboundEvent, bool)
}
