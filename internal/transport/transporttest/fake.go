// Package transporttest provides in-memory transport fakes for tests.
package transporttest

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/xbtify/xbtclaw/internal/content"
	"github.com/xbtify/xbtclaw/internal/transport"
)

// Conversation records everything sent to it.
type Conversation struct {
	ConvID   string
	ConvKind transport.Kind
	Peer     string
	Group    transport.GroupInfo

	mu      sync.Mutex
	sent    []content.Content
	members []transport.Member
	// SendErr, when set, fails every Send.
	SendErr    error
	MembersErr error
}

// NewDM returns a direct conversation with peer.
func NewDM(id, peer string) *Conversation {
	return &Conversation{ConvID: id, ConvKind: transport.KindDirect, Peer: peer}
}

// NewGroup returns a group conversation with the given members.
func NewGroup(id string, members ...transport.Member) *Conversation {
	return &Conversation{ConvID: id, ConvKind: transport.KindGroup, members: members}
}

func (c *Conversation) ID() string                { return c.ConvID }
func (c *Conversation) Kind() transport.Kind      { return c.ConvKind }
func (c *Conversation) PeerInboxID() string       { return c.Peer }
func (c *Conversation) Info() transport.GroupInfo { return c.Group }

func (c *Conversation) Send(_ context.Context, v content.Content) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.SendErr != nil {
		return "", c.SendErr
	}
	c.sent = append(c.sent, v)
	return fmt.Sprintf("%s-msg-%d", c.ConvID, len(c.sent)), nil
}

func (c *Conversation) Members(context.Context) ([]transport.Member, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.MembersErr != nil {
		return nil, c.MembersErr
	}
	return append([]transport.Member(nil), c.members...), nil
}

// SetMembers replaces the member list.
func (c *Conversation) SetMembers(members ...transport.Member) {
	c.mu.Lock()
	c.members = members
	c.mu.Unlock()
}

// Sent returns a copy of everything sent so far.
func (c *Conversation) Sent() []content.Content {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]content.Content(nil), c.sent...)
}

// Texts returns the text of every sent Text, in order.
func (c *Conversation) Texts() []string {
	var out []string
	for _, v := range c.Sent() {
		if t, ok := v.(content.Text); ok {
			out = append(out, t.Text)
		}
	}
	return out
}

// Of returns every sent payload of type T.
func Of[T content.Content](c *Conversation) []T {
	var out []T
	for _, v := range c.Sent() {
		if t, ok := v.(T); ok {
			out = append(out, t)
		}
	}
	return out
}

// Client is a fake transport client.
type Client struct {
	Inbox string
	Addr  string

	mu            sync.Mutex
	conversations map[string]transport.Conversation
	messages      map[string]*transport.Message
	addresses     map[string]string
	// MessageErr, when set, fails every Message lookup.
	MessageErr error
}

// NewClient creates a fake client for the agent inbox.
func NewClient(inboxID, address string) *Client {
	return &Client{
		Inbox:         inboxID,
		Addr:          address,
		conversations: make(map[string]transport.Conversation),
		messages:      make(map[string]*transport.Message),
		addresses:     make(map[string]string),
	}
}

func (c *Client) InboxID() string { return c.Inbox }
func (c *Client) Address() string { return c.Addr }

// AddConversation makes conv resolvable by id.
func (c *Client) AddConversation(conv transport.Conversation) {
	c.mu.Lock()
	c.conversations[conv.ID()] = conv
	c.mu.Unlock()
}

// AddMessage makes msg resolvable by id.
func (c *Client) AddMessage(msg *transport.Message) {
	c.mu.Lock()
	c.messages[msg.ID] = msg
	c.mu.Unlock()
}

// SetAddress maps an inbox to an address.
func (c *Client) SetAddress(inboxID, address string) {
	c.mu.Lock()
	c.addresses[strings.ToLower(inboxID)] = address
	c.mu.Unlock()
}

func (c *Client) Conversation(_ context.Context, id string) (transport.Conversation, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	conv, ok := c.conversations[id]
	if !ok {
		return nil, transport.ErrNotFound
	}
	return conv, nil
}

func (c *Client) Message(_ context.Context, id string) (*transport.Message, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.MessageErr != nil {
		return nil, c.MessageErr
	}
	msg, ok := c.messages[id]
	if !ok {
		return nil, transport.ErrNotFound
	}
	return msg, nil
}

func (c *Client) InboxAddress(_ context.Context, inboxID string) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	addr, ok := c.addresses[strings.ToLower(inboxID)]
	if !ok {
		return "", transport.ErrNotFound
	}
	return addr, nil
}

func (c *Client) NewDM(_ context.Context, inboxID string) (transport.Conversation, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, conv := range c.conversations {
		if conv.Kind() == transport.KindDirect && conv.PeerInboxID() == inboxID {
			return conv, nil
		}
	}
	conv := NewDM("dm-"+inboxID, inboxID)
	c.conversations[conv.ID()] = conv
	return conv, nil
}
