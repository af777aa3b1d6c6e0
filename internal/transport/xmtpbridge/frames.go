package xmtpbridge

import (
	"encoding/json"

	"github.com/xbtify/xbtclaw/internal/transport"
)

// Frame types on the bridge socket.
const (
	frameReady        = "ready"
	frameMessage      = "message"
	frameConversation = "conversation"
	frameError        = "error"
	frameResponse     = "response"
	frameRequest      = "request"
)

// Request methods understood by the bridge.
const (
	methodSend         = "send"
	methodMembers      = "members"
	methodMessages     = "messages"
	methodConversation = "conversation"
	methodDM           = "dm"
	methodInboxAddress = "inboxAddress"
)

// errNotFoundCode is the error string the bridge uses for missing objects.
const errNotFoundCode = "not_found"

// frame is the envelope of every server -> agent message. Only the fields
// of the given type are set.
type frame struct {
	Type         string             `json:"type"`
	ID           string             `json:"id,omitempty"`
	InboxID      string             `json:"inboxId,omitempty"`
	Address      string             `json:"address,omitempty"`
	Message      *transport.Message `json:"message,omitempty"`
	Conversation *wireConversation  `json:"conversation,omitempty"`
	Result       json.RawMessage    `json:"result,omitempty"`
	Error        string             `json:"error,omitempty"`
}

type request struct {
	Type   string `json:"type"`
	ID     string `json:"id"`
	Method string `json:"method"`
	Params any    `json:"params,omitempty"`
}

type response struct {
	result json.RawMessage
	err    string
}

// wireConversation is a conversation as the bridge describes it.
type wireConversation struct {
	ID          string         `json:"id"`
	Kind        transport.Kind `json:"kind"`
	PeerInboxID string         `json:"peerInboxId,omitempty"`
	Name        string         `json:"name,omitempty"`
	Description string         `json:"description,omitempty"`
	ImageURL    string         `json:"imageUrl,omitempty"`
}

type sendParams struct {
	ConversationID string `json:"conversationId"`
	Content        any    `json:"content"`
}

type sendResult struct {
	ID string `json:"id"`
}

type conversationParams struct {
	ConversationID string `json:"conversationId"`
}

type messageParams struct {
	MessageID string `json:"messageId"`
}

type inboxParams struct {
	InboxID string `json:"inboxId"`
}

type addressResult struct {
	Address string `json:"address"`
}
