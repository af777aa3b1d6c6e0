// Package transport defines the agent's view of the XMTP network: a client
// bound to one inbox, its conversations, and the messages flowing through
// them. Concrete implementations live in subpackages.
package transport

import (
	"context"
	"errors"
	"time"

	"github.com/xbtify/xbtclaw/internal/content"
)

// ErrNotFound is returned when a conversation or message does not exist.
var ErrNotFound = errors.New("not found")

// Kind distinguishes direct messages from groups.
type Kind string

const (
	KindDirect Kind = "direct"
	KindGroup  Kind = "group"
)

// Message is one message observed on the transport.
// Encoded is what arrived on the wire; Content is filled once decoded.
type Message struct {
	ID             string                  `json:"id"`
	ConversationID string                  `json:"conversationId"`
	SenderInboxID  string                  `json:"senderInboxId"`
	SentAt         time.Time               `json:"sentAt"`
	Encoded        *content.EncodedContent `json:"encodedContent"`
	Content        content.Content         `json:"-"`
}

// Fallback returns the wire fallback text, if any.
func (m *Message) Fallback() string {
	if m == nil || m.Encoded == nil {
		return ""
	}
	return m.Encoded.Fallback
}

// Param returns one envelope parameter.
func (m *Message) Param(key string) string {
	if m == nil || m.Encoded == nil {
		return ""
	}
	return m.Encoded.Parameters[key]
}

// Member is one participant of a conversation.
type Member struct {
	InboxID         string   `json:"inboxId"`
	Addresses       []string `json:"addresses,omitempty"`
	PermissionLevel string   `json:"permissionLevel,omitempty"`
}

// GroupInfo is the transport-side metadata of a group.
type GroupInfo struct {
	Name        string `json:"name,omitempty"`
	Description string `json:"description,omitempty"`
	ImageURL    string `json:"imageUrl,omitempty"`
}

// Conversation is a DM or group the agent participates in.
type Conversation interface {
	ID() string
	Kind() Kind
	// PeerInboxID is the other participant of a DM; empty for groups.
	PeerInboxID() string
	Info() GroupInfo
	// Send encodes c and returns the id of the sent message.
	Send(ctx context.Context, c content.Content) (string, error)
	Members(ctx context.Context) ([]Member, error)
}

// Client is the agent's authenticated transport session.
type Client interface {
	InboxID() string
	Address() string
	Conversation(ctx context.Context, id string) (Conversation, error)
	// Message looks up one message by id, across conversations.
	Message(ctx context.Context, id string) (*Message, error)
	// InboxAddress resolves an inbox to its first Ethereum identifier.
	InboxAddress(ctx context.Context, inboxID string) (string, error)
	// NewDM opens (or finds) the direct conversation with inboxID.
	NewDM(ctx context.Context, inboxID string) (Conversation, error)
}

// SendText is shorthand for sending plain text.
func SendText(ctx context.Context, conv Conversation, text string) (string, error) {
	return conv.Send(ctx, content.Text{Text: text})
}
