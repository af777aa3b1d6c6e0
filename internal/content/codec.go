package content

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Codec converts one content type to and from its transport envelope.
type Codec interface {
	ContentType() TypeID
	Encode(c Content) (*EncodedContent, error)
	Decode(ec *EncodedContent) (Content, error)
	// Fallback returns a one-line description for clients that cannot
	// render the type natively. It must not fail.
	Fallback(c Content) string
	ShouldPush() bool
}

// checkEncoding rejects envelopes that declare anything but UTF-8.
func checkEncoding(ec *EncodedContent) error {
	if enc := ec.Parameters["encoding"]; enc != "" && enc != EncodingUTF8 {
		return fmt.Errorf("%w: %s", ErrUnsupportedEncoding, enc)
	}
	return nil
}

func utf8Params() map[string]string {
	return map[string]string{"encoding": EncodingUTF8}
}

// jsonCodec serves every type whose wire form is a JSON object of T.
type jsonCodec[T Content] struct {
	typ      TypeID
	push     bool
	validate func(T) error
	fallback func(T) string
}

func (c jsonCodec[T]) ContentType() TypeID { return c.typ }
func (c jsonCodec[T]) ShouldPush() bool    { return c.push }

func (c jsonCodec[T]) Encode(v Content) (*EncodedContent, error) {
	typed, ok := asValue[T](v)
	if !ok {
		return nil, fmt.Errorf("%s codec: unexpected content %T", c.typ.TypeID, v)
	}
	if c.validate != nil {
		if err := c.validate(typed); err != nil {
			return nil, err
		}
	}
	data, err := json.Marshal(typed)
	if err != nil {
		return nil, fmt.Errorf("%s codec: marshal: %w", c.typ.TypeID, err)
	}
	return &EncodedContent{
		Type:       c.typ,
		Parameters: utf8Params(),
		Fallback:   c.Fallback(typed),
		Content:    data,
	}, nil
}

func (c jsonCodec[T]) Decode(ec *EncodedContent) (Content, error) {
	if err := checkEncoding(ec); err != nil {
		return nil, err
	}
	var out T
	if err := json.Unmarshal(ec.Content, &out); err != nil {
		if c.validate != nil {
			return nil, fmt.Errorf("%w: decode %s content: %v", ErrProtocolViolation, c.typ.TypeID, err)
		}
		return nil, fmt.Errorf("decode %s content: %w", c.typ.TypeID, err)
	}
	if c.validate != nil {
		if err := c.validate(out); err != nil {
			return nil, err
		}
	}
	return out, nil
}

func (c jsonCodec[T]) Fallback(v Content) string {
	typed, ok := asValue[T](v)
	if !ok || c.fallback == nil {
		return ""
	}
	return c.fallback(typed)
}

func asValue[T Content](v Content) (T, bool) {
	if typed, ok := v.(T); ok {
		return typed, true
	}
	var zero T
	return zero, false
}

// NewIntentCodec returns the codec for coinbase.com/intent:1.0.
func NewIntentCodec() Codec {
	return jsonCodec[Intent]{
		typ:      TypeIntent,
		push:     true,
		validate: ValidateIntent,
		fallback: func(i Intent) string {
			return fmt.Sprintf("Action: %s for %s", i.ActionID, i.ID)
		},
	}
}

// NewActionsCodec returns the codec for coinbase.com/actions:1.0.
func NewActionsCodec() Codec {
	return jsonCodec[Actions]{
		typ:      TypeActions,
		push:     true,
		validate: ValidateActions,
		fallback: actionsFallback,
	}
}

// ValidateIntent enforces non-empty id and actionId.
func ValidateIntent(i Intent) error {
	if strings.TrimSpace(i.ID) == "" {
		return fmt.Errorf("%w: Intent.id is required and must be a string", ErrProtocolViolation)
	}
	if strings.TrimSpace(i.ActionID) == "" {
		return fmt.Errorf("%w: Intent.actionId is required and must be a string", ErrProtocolViolation)
	}
	return nil
}

// ValidateActions enforces a well-formed menu: ids, labels, known styles
// and no duplicate action ids.
func ValidateActions(a Actions) error {
	if strings.TrimSpace(a.ID) == "" {
		return fmt.Errorf("%w: Actions.id is required", ErrProtocolViolation)
	}
	if strings.TrimSpace(a.Description) == "" {
		return fmt.Errorf("%w: Actions.description is required", ErrProtocolViolation)
	}
	if len(a.Actions) == 0 {
		return fmt.Errorf("%w: Actions.actions must contain at least one action", ErrProtocolViolation)
	}
	seen := make(map[string]bool, len(a.Actions))
	for i, act := range a.Actions {
		if strings.TrimSpace(act.ID) == "" {
			return fmt.Errorf("%w: Actions.actions[%d].id is required", ErrProtocolViolation, i)
		}
		if strings.TrimSpace(act.Label) == "" {
			return fmt.Errorf("%w: Actions.actions[%d].label is required", ErrProtocolViolation, i)
		}
		switch act.Style {
		case "", StylePrimary, StyleSecondary, StyleDanger:
		default:
			return fmt.Errorf("%w: Actions.actions[%d].style %q is invalid", ErrProtocolViolation, i, act.Style)
		}
		if seen[act.ID] {
			return fmt.Errorf("%w: duplicate action id %q", ErrProtocolViolation, act.ID)
		}
		seen[act.ID] = true
	}
	return nil
}

func actionsFallback(a Actions) string {
	var b strings.Builder
	b.WriteString(a.Description)
	for i, act := range a.Actions {
		fmt.Fprintf(&b, "\n[%d] %s", i+1, act.Label)
	}
	b.WriteString("\n\nReply with the number to select")
	return b.String()
}

// textCodec carries raw UTF-8 bytes, not JSON.
type textCodec struct{}

// NewTextCodec returns the codec for xmtp.org/text:1.0.
func NewTextCodec() Codec { return textCodec{} }

func (textCodec) ContentType() TypeID { return TypeText }
func (textCodec) ShouldPush() bool    { return true }

func (textCodec) Encode(v Content) (*EncodedContent, error) {
	t, ok := v.(Text)
	if !ok {
		return nil, fmt.Errorf("text codec: unexpected content %T", v)
	}
	return &EncodedContent{Type: TypeText, Parameters: utf8Params(), Content: []byte(t.Text)}, nil
}

func (textCodec) Decode(ec *EncodedContent) (Content, error) {
	if err := checkEncoding(ec); err != nil {
		return nil, err
	}
	return Text{Text: string(ec.Content)}, nil
}

func (textCodec) Fallback(Content) string { return "" }

// NewGroupUpdatedCodec returns the codec for xmtp.org/group_updated:1.0.
func NewGroupUpdatedCodec() Codec {
	return jsonCodec[GroupUpdated]{typ: TypeGroupUpdated}
}

// NewReactionCodec returns the codec for xmtp.org/reaction:1.0.
func NewReactionCodec() Codec {
	return jsonCodec[Reaction]{
		typ: TypeReaction,
		fallback: func(r Reaction) string {
			switch r.Action {
			case "added":
				return fmt.Sprintf("Reacted “%s” to an earlier message", r.Content)
			case "removed":
				return fmt.Sprintf("Removed “%s” from an earlier message", r.Content)
			}
			return ""
		},
	}
}

// NewRemoteAttachmentCodec returns the codec for remote static attachments.
func NewRemoteAttachmentCodec() Codec {
	return jsonCodec[RemoteAttachment]{
		typ:  TypeRemoteAttachment,
		push: true,
		fallback: func(a RemoteAttachment) string {
			return fmt.Sprintf("Can’t display %q. This app doesn’t support attachments.", a.Filename)
		},
	}
}

// NewWalletSendCallsCodec returns the codec for wallet send calls.
func NewWalletSendCallsCodec() Codec {
	return jsonCodec[WalletSendCalls]{
		typ:  TypeWalletSendCalls,
		push: true,
		fallback: func(w WalletSendCalls) string {
			data, _ := json.Marshal(w)
			return "[Transaction request generated]: " + string(data)
		},
	}
}

// NewTransactionReferenceCodec returns the codec for transaction references.
func NewTransactionReferenceCodec() Codec {
	return jsonCodec[TransactionReference]{
		typ:  TypeTransactionReference,
		push: true,
		fallback: func(t TransactionReference) string {
			if t.Reference == "" {
				return "Crypto transaction"
			}
			return "[Crypto transaction] " + t.Reference
		},
	}
}
