package content

import (
	"encoding/json"
	"fmt"
	"sync"
)

// Registry resolves codecs by content type. Safe for concurrent use.
type Registry struct {
	mu     sync.RWMutex
	codecs map[string]Codec
}

// NewRegistry returns a registry preloaded with every codec the agent
// needs: text, reply, group updates, reactions, attachments, wallet calls,
// transaction references and the inline Intent/Actions pair.
func NewRegistry() *Registry {
	r := &Registry{codecs: make(map[string]Codec)}
	r.Register(NewTextCodec())
	r.Register(NewGroupUpdatedCodec())
	r.Register(NewReactionCodec())
	r.Register(NewRemoteAttachmentCodec())
	r.Register(NewWalletSendCallsCodec())
	r.Register(NewTransactionReferenceCodec())
	r.Register(NewIntentCodec())
	r.Register(NewActionsCodec())
	r.Register(&replyCodec{registry: r})
	return r
}

// Register adds or replaces the codec for its content type.
func (r *Registry) Register(c Codec) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.codecs[c.ContentType().Key()] = c
}

// Codec returns the codec registered for t.
func (r *Registry) Codec(t TypeID) (Codec, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.codecs[t.Key()]
	return c, ok
}

// Decode decodes ec with its registered codec. Types without a codec
// decode to Unknown rather than failing.
func (r *Registry) Decode(ec *EncodedContent) (Content, error) {
	if ec == nil {
		return nil, fmt.Errorf("%w: nil envelope", ErrProtocolViolation)
	}
	c, ok := r.Codec(ec.Type)
	if !ok {
		return Unknown{Type: ec.Type, Fallback: ec.Fallback, Raw: ec.Content}, nil
	}
	return c.Decode(ec)
}

// Encode encodes v with the codec matching its variant.
func (r *Registry) Encode(v Content) (*EncodedContent, error) {
	t, ok := TypeOf(v)
	if !ok {
		return nil, fmt.Errorf("no content type for %T", v)
	}
	c, ok := r.Codec(t)
	if !ok {
		return nil, fmt.Errorf("no codec registered for %s", t)
	}
	return c.Encode(v)
}

// Fallback returns the fallback text for v, or "" when none applies.
func (r *Registry) Fallback(v Content) string {
	t, ok := TypeOf(v)
	if !ok {
		return ""
	}
	c, ok := r.Codec(t)
	if !ok {
		return ""
	}
	return c.Fallback(v)
}

// TypeOf maps a union variant to its content type id.
func TypeOf(v Content) (TypeID, bool) {
	switch x := v.(type) {
	case Text:
		return TypeText, true
	case Reply:
		return TypeReply, true
	case Intent:
		return TypeIntent, true
	case Actions:
		return TypeActions, true
	case GroupUpdated:
		return TypeGroupUpdated, true
	case Reaction:
		return TypeReaction, true
	case RemoteAttachment:
		return TypeRemoteAttachment, true
	case WalletSendCalls:
		return TypeWalletSendCalls, true
	case TransactionReference:
		return TypeTransactionReference, true
	case Unknown:
		return x.Type, x.Type.TypeID != ""
	}
	return TypeID{}, false
}

// replyWire is the JSON form of a reply as delivered by the bridge.
// The inner payload is itself an encoded envelope, or a bare JSON string
// for text replies.
type replyWire struct {
	Reference        string          `json:"reference"`
	ReferenceInboxID string          `json:"referenceInboxId,omitempty"`
	ContentType      *TypeID         `json:"contentType,omitempty"`
	Content          json.RawMessage `json:"content"`
}

type replyCodec struct {
	registry *Registry
}

func (c *replyCodec) ContentType() TypeID { return TypeReply }
func (c *replyCodec) ShouldPush() bool    { return true }

func (c *replyCodec) Encode(v Content) (*EncodedContent, error) {
	rep, ok := v.(Reply)
	if !ok {
		return nil, fmt.Errorf("reply codec: unexpected content %T", v)
	}
	wire := replyWire{Reference: rep.Reference, ReferenceInboxID: rep.ReferenceInboxID}
	if t, isText := rep.Content.(Text); isText || rep.Content == nil {
		raw, err := json.Marshal(t.Text)
		if err != nil {
			return nil, fmt.Errorf("reply codec: marshal text: %w", err)
		}
		wire.ContentType = &TypeText
		wire.Content = raw
	} else {
		inner, err := c.registry.Encode(rep.Content)
		if err != nil {
			return nil, fmt.Errorf("reply codec: encode inner: %w", err)
		}
		wire.ContentType = &inner.Type
		wire.Content, err = json.Marshal(inner)
		if err != nil {
			return nil, fmt.Errorf("reply codec: marshal inner: %w", err)
		}
	}
	data, err := json.Marshal(wire)
	if err != nil {
		return nil, fmt.Errorf("reply codec: marshal: %w", err)
	}
	return &EncodedContent{
		Type:       TypeReply,
		Parameters: map[string]string{"encoding": EncodingUTF8, "reference": rep.Reference},
		Fallback:   c.Fallback(rep),
		Content:    data,
	}, nil
}

func (c *replyCodec) Decode(ec *EncodedContent) (Content, error) {
	if err := checkEncoding(ec); err != nil {
		return nil, err
	}
	var wire replyWire
	if err := json.Unmarshal(ec.Content, &wire); err != nil {
		return nil, fmt.Errorf("decode reply content: %w", err)
	}
	rep := Reply{Reference: wire.Reference, ReferenceInboxID: wire.ReferenceInboxID}
	if rep.Reference == "" {
		rep.Reference = ec.Parameters["reference"]
	}
	if len(wire.Content) == 0 || string(wire.Content) == "null" {
		return rep, nil
	}

	var text string
	if err := json.Unmarshal(wire.Content, &text); err == nil {
		rep.Content = Text{Text: text}
		return rep, nil
	}
	var inner EncodedContent
	if err := json.Unmarshal(wire.Content, &inner); err != nil {
		return nil, fmt.Errorf("decode reply inner content: %w", err)
	}
	if inner.Type.TypeID == "" && wire.ContentType != nil {
		inner.Type = *wire.ContentType
	}
	decoded, err := c.registry.Decode(&inner)
	if err != nil {
		return nil, fmt.Errorf("decode reply inner content: %w", err)
	}
	rep.Content = decoded
	return rep, nil
}

func (c *replyCodec) Fallback(v Content) string {
	rep, ok := v.(Reply)
	if !ok {
		return ""
	}
	if t, isText := rep.Content.(Text); isText {
		return fmt.Sprintf("Replied with %q to an earlier message", t.Text)
	}
	return "Replied to an earlier message"
}
