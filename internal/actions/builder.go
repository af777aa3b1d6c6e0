package actions

import (
	"context"
	"fmt"

	"github.com/xbtify/xbtclaw/internal/content"
	"github.com/xbtify/xbtclaw/internal/transport"
)

// Builder assembles an Actions menu.
type Builder struct {
	actions content.Actions
}

// NewBuilder starts a menu with the given id and description.
func NewBuilder(id, description string) *Builder {
	return &Builder{actions: content.Actions{ID: id, Description: description}}
}

// Add appends one button.
func (b *Builder) Add(a content.Action) *Builder {
	b.actions.Actions = append(b.actions.Actions, a)
	return b
}

// Build returns the menu after validating it.
func (b *Builder) Build() (content.Actions, error) {
	out := b.actions
	out.Actions = append([]content.Action(nil), b.actions.Actions...)
	if err := content.ValidateActions(out); err != nil {
		return content.Actions{}, err
	}
	return out, nil
}

// Send builds the menu, sends it to conv and records it in sess.
// sess may be nil.
func (b *Builder) Send(ctx context.Context, conv transport.Conversation, sess *Session) error {
	a, err := b.Build()
	if err != nil {
		return err
	}
	return SendActions(ctx, conv, sess, a)
}

// SendActions sends a prebuilt menu and records it in sess (if non-nil).
func SendActions(ctx context.Context, conv transport.Conversation, sess *Session, a content.Actions) error {
	msgID, err := conv.Send(ctx, a)
	if err != nil {
		return fmt.Errorf("send actions %s: %w", a.ID, err)
	}
	if sess != nil {
		sess.RecordSent(msgID, a.ID)
	}
	return nil
}
