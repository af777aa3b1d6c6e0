package actions

import (
	"context"
	"regexp"
	"strings"

	"github.com/xbtify/xbtclaw/internal/content"
	"github.com/xbtify/xbtclaw/internal/transport"
)

// CancelledMessage is the default reply to a cancelled confirmation.
const CancelledMessage = "❌ Cancelled"

// TransferLabel is the label of the single-shot pay button.
const TransferLabel = "🤖 Pay for my XBT"

// SendConfirmation registers a one-shot confirm/cancel pair and sends it.
// Tapping either button releases both. onCancel may be nil, in which case
// cancelling replies CancelledMessage.
func SendConfirmation(ctx context.Context, reg *Registry, conv transport.Conversation, sess *Session, message string, onConfirm, onCancel Handler) error {
	yesID := NewID("confirm")
	noID := NewID("cancel")

	if onCancel == nil {
		onCancel = func(ctx context.Context, call *Call) error {
			return call.SendText(ctx, CancelledMessage)
		}
	}
	reg.RegisterOnce(map[string]Handler{yesID: onConfirm, noID: onCancel})

	return NewBuilder(yesID, message).
		Add(content.Action{ID: yesID, Label: "✅ Confirm"}).
		Add(content.Action{ID: noID, Label: "❌ Cancel", Style: content.StyleDanger}).
		Send(ctx, conv, sess)
}

// Option is one entry of a selection menu.
type Option struct {
	ID       string
	Label    string
	Style    content.ActionStyle
	Metadata map[string]any
	Handler  Handler
}

// SendSelection registers the options' handlers as one one-shot group and
// sends the menu: picking any option releases all of them.
func SendSelection(ctx context.Context, reg *Registry, conv transport.Conversation, sess *Session, message string, options []Option) error {
	b := NewBuilder(NewID("selection"), message)
	handlers := make(map[string]Handler, len(options))
	for _, opt := range options {
		if opt.Handler != nil {
			handlers[opt.ID] = opt.Handler
		}
		b.Add(content.Action{ID: opt.ID, Label: opt.Label, Style: opt.Style, Metadata: opt.Metadata})
	}
	reg.RegisterOnce(handlers)
	return b.Send(ctx, conv, sess)
}

// BuildTransferAction registers onTransfer as a one-shot handler under a
// fresh id and returns a one-button menu offering it.
func BuildTransferAction(reg *Registry, message string, onTransfer Handler) (content.Actions, error) {
	id := NewID("transfer")
	reg.RegisterOnce(map[string]Handler{id: onTransfer})
	return NewBuilder(id, message).
		Add(content.Action{ID: id, Label: TransferLabel}).
		Build()
}

var (
	inboxIDPattern = regexp.MustCompile(`^[a-fA-F0-9]{64}$`)
	addressPattern = regexp.MustCompile(`^0x[a-fA-F0-9]{40}$`)
)

// ValidationResult reports whether user input is acceptable.
type ValidationResult struct {
	Valid bool
	Error string
}

// ValidateInboxID accepts 64 hex characters.
func ValidateInboxID(input string) ValidationResult {
	if inboxIDPattern.MatchString(strings.TrimSpace(input)) {
		return ValidationResult{Valid: true}
	}
	return ValidationResult{Error: "Invalid Inbox ID format (64 hex chars)"}
}

// ValidateEthereumAddress accepts 0x followed by 40 hex characters.
func ValidateEthereumAddress(input string) ValidationResult {
	if addressPattern.MatchString(strings.TrimSpace(input)) {
		return ValidationResult{Valid: true}
	}
	return ValidationResult{Error: "Invalid Ethereum address format (0x + 40 hex chars)"}
}
