// Package actions implements the inline-button protocol on top of the
// Intent/Actions content types: a registry mapping action ids to handlers,
// a builder for menus, per-conversation menu sessions and a few canned
// interactions (confirmation, selection, pay button).
package actions

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sort"
	"sync"

	"github.com/google/uuid"

	"github.com/xbtify/xbtclaw/internal/content"
	"github.com/xbtify/xbtclaw/internal/transport"
)

var (
	// ErrUnknownAction is returned when an Intent names no registered action.
	ErrUnknownAction = errors.New("unknown action")

	// ErrHandlerFailure marks an error (or panic) raised by an action handler.
	ErrHandlerFailure = errors.New("action handler failed")
)

// Handler runs when a user taps the action it is registered for.
type Handler func(ctx context.Context, call *Call) error

// Call is everything a handler may use. Capabilities are explicit fields
// so handlers never reach into transport internals.
type Call struct {
	Conversation  transport.Conversation
	Message       *transport.Message
	SenderInboxID string
	Intent        content.Intent
	Session       *Session
	Registry      *Registry

	// React adds (or removes) the thinking reaction on Message. May be nil.
	React func(ctx context.Context, added bool) error
	// ResolveSender returns the sender's Ethereum address. May be nil.
	ResolveSender func(ctx context.Context) (string, error)
}

// Metadata returns the intent metadata, never nil.
func (c *Call) Metadata() map[string]any {
	if c.Intent.Metadata == nil {
		return map[string]any{}
	}
	return c.Intent.Metadata
}

// SendText sends plain text to the call's conversation.
func (c *Call) SendText(ctx context.Context, text string) error {
	_, err := transport.SendText(ctx, c.Conversation, text)
	return err
}

// SenderAddress resolves the sender address through ResolveSender.
func (c *Call) SenderAddress(ctx context.Context) (string, error) {
	if c.ResolveSender == nil {
		return "", errors.New("sender address resolver not available")
	}
	return c.ResolveSender(ctx)
}

// HandlerError carries the failing action id. Its message is the handler's
// own message so it can be shown to the user unchanged.
type HandlerError struct {
	ActionID string
	Err      error
}

func (e *HandlerError) Error() string { return e.Err.Error() }

func (e *HandlerError) Unwrap() []error { return []error{ErrHandlerFailure, e.Err} }

// Registry maps action ids to handlers. Safe for concurrent use.
type Registry struct {
	mu       sync.RWMutex
	handlers map[string]entry
}

// entry is one registration. group is nil for permanent handlers; for
// one-shot handlers it lists every id released by the first tap.
type entry struct {
	h     Handler
	group []string
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{handlers: make(map[string]entry)}
}

// Register binds actionID to h. Re-registering overwrites (last wins).
func (r *Registry) Register(actionID string, h Handler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.put(actionID, entry{h: h})
}

// RegisterOnce binds a set of sibling handlers that are consumed together:
// the first dispatch of any of them unregisters all of them.
func (r *Registry) RegisterOnce(handlers map[string]Handler) {
	group := make([]string, 0, len(handlers))
	for id := range handlers {
		group = append(group, id)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	for id, h := range handlers {
		r.put(id, entry{h: h, group: group})
	}
}

func (r *Registry) put(actionID string, e entry) {
	if _, exists := r.handlers[actionID]; exists {
		slog.Warn("action already registered, overwriting", "action", actionID)
	}
	r.handlers[actionID] = e
}

// Get returns the handler for actionID.
func (r *Registry) Get(actionID string) (Handler, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.handlers[actionID]
	return e.h, ok
}

// take looks up actionID and, for one-shot handlers, removes it and its
// siblings under the same lock so concurrent taps run it at most once.
func (r *Registry) take(actionID string) (Handler, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.handlers[actionID]
	if !ok {
		return nil, false
	}
	for _, id := range e.group {
		delete(r.handlers, id)
	}
	return e.h, true
}

// Unregister removes actionID. Missing ids are ignored.
func (r *Registry) Unregister(actionID string) {
	r.mu.Lock()
	delete(r.handlers, actionID)
	r.mu.Unlock()
}

// Len returns the number of registered ids.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.handlers)
}

// Clear drops every registration.
func (r *Registry) Clear() {
	r.mu.Lock()
	r.handlers = make(map[string]entry)
	r.mu.Unlock()
	slog.Info("cleared all registered actions")
}

// IDs lists registered action ids in sorted order.
func (r *Registry) IDs() []string {
	r.mu.RLock()
	ids := make([]string, 0, len(r.handlers))
	for id := range r.handlers {
		ids = append(ids, id)
	}
	r.mu.RUnlock()
	sort.Strings(ids)
	return ids
}

// Dispatch runs the handler registered for call.Intent.ActionID.
// One-shot handlers are unregistered before they run. Handler errors and
// panics come back as *HandlerError.
func (r *Registry) Dispatch(ctx context.Context, call *Call) (err error) {
	actionID := call.Intent.ActionID
	h, ok := r.take(actionID)
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownAction, actionID)
	}
	if call.Registry == nil {
		call.Registry = r
	}

	defer func() {
		if rec := recover(); rec != nil {
			slog.Error("panic in action handler", "action", actionID, "panic", rec, "stack", string(debug.Stack()))
			err = &HandlerError{ActionID: actionID, Err: fmt.Errorf("%v", rec)}
		}
	}()

	if herr := h(ctx, call); herr != nil {
		return &HandlerError{ActionID: actionID, Err: herr}
	}
	return nil
}

// NewID returns a collision-free action id with the given prefix.
func NewID(prefix string) string {
	return prefix + "-" + uuid.NewString()
}
