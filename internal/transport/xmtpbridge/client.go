// Package xmtpbridge implements the transport against a bridge process
// that holds the XMTP identity and speaks JSON over a WebSocket. The bridge
// pushes messages and new conversations; the agent issues requests.
package xmtpbridge

import (
	"context"
	"crypto/ecdsa"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/xbtify/xbtclaw/internal/bus"
	"github.com/xbtify/xbtclaw/internal/content"
	"github.com/xbtify/xbtclaw/internal/transport"
)

// ErrDisconnected fails requests while the bridge is unreachable.
var ErrDisconnected = errors.New("xmtp bridge not connected")

// Config configures the bridge client.
type Config struct {
	URL string
	// Env is forwarded to the bridge ("dev", "production" or "local").
	Env string
	// WalletKey, when set, is the hex private key of the agent identity.
	// The derived address is checked against what the bridge reports.
	WalletKey      string
	APIKey         string
	RequestTimeout time.Duration // default 15s
	MinBackoff     time.Duration // default 1s
	MaxBackoff     time.Duration // default 30s
}

// Client is a transport.Client backed by the bridge.
type Client struct {
	cfg      Config
	codecs   *content.Registry
	router   bus.MessageRouter
	expected string // address derived from WalletKey

	ctx    context.Context
	cancel context.CancelFunc

	mu        sync.Mutex
	conn      *websocket.Conn
	connected bool
	inboxID   string
	address   string
	ready     chan struct{}
	readyOnce sync.Once

	writeMu sync.Mutex

	pmu     sync.Mutex
	pending map[string]chan response
}

var _ transport.Client = (*Client)(nil)

// New creates a bridge client that publishes inbound events to router.
func New(cfg Config, codecs *content.Registry, router bus.MessageRouter) (*Client, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("xmtp bridge url is required")
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 15 * time.Second
	}
	if cfg.MinBackoff <= 0 {
		cfg.MinBackoff = time.Second
	}
	if cfg.MaxBackoff <= 0 {
		cfg.MaxBackoff = 30 * time.Second
	}
	if codecs == nil {
		codecs = content.NewRegistry()
	}
	c := &Client{
		cfg:     cfg,
		codecs:  codecs,
		router:  router,
		ready:   make(chan struct{}),
		pending: make(map[string]chan response),
	}
	if cfg.WalletKey != "" {
		addr, err := AddressFromKey(cfg.WalletKey)
		if err != nil {
			return nil, err
		}
		c.expected = addr
	}
	return c, nil
}

// AddressFromKey returns the checksummed address of a hex private key.
func AddressFromKey(hexKey string) (string, error) {
	key, err := crypto.HexToECDSA(strings.TrimPrefix(strings.TrimSpace(hexKey), "0x"))
	if err != nil {
		return "", fmt.Errorf("parse wallet key: %w", err)
	}
	return crypto.PubkeyToAddress(*key.Public().(*ecdsa.PublicKey)).Hex(), nil
}

// Start connects to the bridge and begins listening. A failed first dial
// is retried by the listen loop.
func (c *Client) Start(ctx context.Context) error {
	slog.Info("starting xmtp bridge client", "url", c.cfg.URL, "env", c.cfg.Env)
	c.ctx, c.cancel = context.WithCancel(ctx)

	if err := c.connect(); err != nil {
		slog.Warn("initial xmtp bridge connection failed, will retry", "error", err)
	}
	go c.listenLoop()
	return nil
}

// Stop closes the connection and stops reconnecting.
func (c *Client) Stop() {
	slog.Info("stopping xmtp bridge client")
	if c.cancel != nil {
		c.cancel()
	}
	c.dropConn()
}

// WaitReady blocks until the bridge reported the agent identity.
func (c *Client) WaitReady(ctx context.Context) error {
	select {
	case <-c.ready:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("wait for xmtp bridge: %w", ctx.Err())
	}
}

// Connected reports whether the socket is currently up.
func (c *Client) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected
}

func (c *Client) InboxID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.inboxID
}

// Address returns the agent address, falling back to the one derived
// from the wallet key before the bridge is ready.
func (c *Client) Address() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.address == "" {
		return c.expected
	}
	return c.address
}

func (c *Client) connect() error {
	dialer := *websocket.DefaultDialer
	dialer.HandshakeTimeout = 10 * time.Second

	header := http.Header{}
	if c.cfg.Env != "" {
		header.Set("X-XMTP-Env", c.cfg.Env)
	}
	if c.cfg.APIKey != "" {
		header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	}
	conn, _, err := dialer.DialContext(c.ctx, c.cfg.URL, header)
	if err != nil {
		return fmt.Errorf("dial xmtp bridge %s: %w", c.cfg.URL, err)
	}

	c.mu.Lock()
	c.conn = conn
	c.connected = true
	c.mu.Unlock()

	slog.Info("xmtp bridge connected", "url", c.cfg.URL)
	return nil
}

func (c *Client) dropConn() {
	c.mu.Lock()
	if c.conn != nil {
		_ = c.conn.Close()
		c.conn = nil
	}
	c.connected = false
	c.mu.Unlock()
	c.failPending()
}

// listenLoop reads frames with automatic reconnection.
func (c *Client) listenLoop() {
	backoff := c.cfg.MinBackoff

	for {
		select {
		case <-c.ctx.Done():
			return
		default:
		}

		c.mu.Lock()
		conn := c.conn
		c.mu.Unlock()

		if conn == nil {
			slog.Info("attempting xmtp bridge reconnect", "backoff", backoff)
			select {
			case <-c.ctx.Done():
				return
			case <-time.After(backoff):
			}
			if err := c.connect(); err != nil {
				slog.Warn("xmtp bridge reconnect failed", "error", err)
				backoff = min(backoff*2, c.cfg.MaxBackoff)
				continue
			}
			backoff = c.cfg.MinBackoff
			continue
		}

		_, data, err := conn.ReadMessage()
		if err != nil {
			if c.ctx.Err() == nil {
				slog.Warn("xmtp bridge read error, will reconnect", "error", err)
			}
			c.dropConn()
			continue
		}

		var f frame
		if err := json.Unmarshal(data, &f); err != nil {
			slog.Warn("invalid xmtp bridge frame", "error", err)
			continue
		}
		c.handleFrame(f)
	}
}

func (c *Client) handleFrame(f frame) {
	switch f.Type {
	case frameReady:
		c.mu.Lock()
		c.inboxID, c.address = f.InboxID, f.Address
		c.mu.Unlock()
		if c.expected != "" && !strings.EqualFold(c.expected, f.Address) {
			slog.Warn("xmtp bridge identity differs from wallet key", "bridge", f.Address, "wallet", c.expected)
		}
		c.readyOnce.Do(func() { close(c.ready) })
		slog.Info("xmtp bridge ready", "inbox", f.InboxID, "address", f.Address)
	case frameMessage:
		if f.Message == nil || c.router == nil {
			return
		}
		c.router.PublishInbound(bus.InboundEvent{Kind: bus.KindMessage, Message: f.Message})
	case frameConversation:
		if f.Conversation == nil || c.router == nil {
			return
		}
		c.router.PublishInbound(bus.InboundEvent{Kind: bus.KindConversation, Conversation: c.wrap(*f.Conversation)})
	case frameResponse:
		c.pmu.Lock()
		ch, ok := c.pending[f.ID]
		delete(c.pending, f.ID)
		c.pmu.Unlock()
		if ok {
			ch <- response{result: f.Result, err: f.Error}
		}
	case frameError:
		slog.Error("xmtp bridge error", "error", f.Error)
	default:
		slog.Debug("ignoring xmtp bridge frame", "type", f.Type)
	}
}

func (c *Client) failPending() {
	c.pmu.Lock()
	pending := c.pending
	c.pending = make(map[string]chan response)
	c.pmu.Unlock()
	for _, ch := range pending {
		ch <- response{err: ErrDisconnected.Error()}
	}
}

// call sends one request and decodes its result into out (when non-nil).
func (c *Client) call(ctx context.Context, method string, params, out any) error {
	id := uuid.NewString()
	ch := make(chan response, 1)

	c.pmu.Lock()
	c.pending[id] = ch
	c.pmu.Unlock()
	defer func() {
		c.pmu.Lock()
		delete(c.pending, id)
		c.pmu.Unlock()
	}()

	data, err := json.Marshal(request{Type: frameRequest, ID: id, Method: method, Params: params})
	if err != nil {
		return fmt.Errorf("marshal %s request: %w", method, err)
	}

	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return ErrDisconnected
	}
	c.writeMu.Lock()
	err = conn.WriteMessage(websocket.TextMessage, data)
	c.writeMu.Unlock()
	if err != nil {
		return fmt.Errorf("send %s request: %w", method, err)
	}

	timer := time.NewTimer(c.cfg.RequestTimeout)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return fmt.Errorf("xmtp bridge %s: timed out after %s", method, c.cfg.RequestTimeout)
	case resp := <-ch:
		switch {
		case resp.err == errNotFoundCode:
			return fmt.Errorf("xmtp bridge %s: %w", method, transport.ErrNotFound)
		case resp.err == ErrDisconnected.Error():
			return ErrDisconnected
		case resp.err != "":
			return fmt.Errorf("xmtp bridge %s: %s", method, resp.err)
		}
		if out == nil || len(resp.result) == 0 || string(resp.result) == "null" {
			if out != nil {
				return fmt.Errorf("xmtp bridge %s: %w", method, transport.ErrNotFound)
			}
			return nil
		}
		if err := json.Unmarshal(resp.result, out); err != nil {
			return fmt.Errorf("decode %s result: %w", method, err)
		}
		return nil
	}
}

func (c *Client) Conversation(ctx context.Context, id string) (transport.Conversation, error) {
	var wc wireConversation
	if err := c.call(ctx, methodConversation, conversationParams{ConversationID: id}, &wc); err != nil {
		return nil, err
	}
	return c.wrap(wc), nil
}

func (c *Client) Message(ctx context.Context, id string) (*transport.Message, error) {
	var msg transport.Message
	if err := c.call(ctx, methodMessages, messageParams{MessageID: id}, &msg); err != nil {
		return nil, err
	}
	return &msg, nil
}

func (c *Client) InboxAddress(ctx context.Context, inboxID string) (string, error) {
	var res addressResult
	if err := c.call(ctx, methodInboxAddress, inboxParams{InboxID: inboxID}, &res); err != nil {
		return "", err
	}
	if res.Address == "" {
		return "", fmt.Errorf("inbox %s: %w", inboxID, transport.ErrNotFound)
	}
	return res.Address, nil
}

func (c *Client) NewDM(ctx context.Context, inboxID string) (transport.Conversation, error) {
	var wc wireConversation
	if err := c.call(ctx, methodDM, inboxParams{InboxID: inboxID}, &wc); err != nil {
		return nil, err
	}
	return c.wrap(wc), nil
}

func (c *Client) wrap(wc wireConversation) *conversation {
	if wc.Kind == "" {
		wc.Kind = transport.KindGroup
		if wc.PeerInboxID != "" {
			wc.Kind = transport.KindDirect
		}
	}
	return &conversation{client: c, wire: wc}
}

// conversation is a bridge-backed transport.Conversation.
type conversation struct {
	client *Client
	wire   wireConversation
}

func (v *conversation) ID() string          { return v.wire.ID }
func (v *conversation) Kind() transport.Kind { return v.wire.Kind }
func (v *conversation) PeerInboxID() string { return v.wire.PeerInboxID }

func (v *conversation) Info() transport.GroupInfo {
	return transport.GroupInfo{Name: v.wire.Name, Description: v.wire.Description, ImageURL: v.wire.ImageURL}
}

func (v *conversation) Send(ctx context.Context, c content.Content) (string, error) {
	ec, err := v.client.codecs.Encode(c)
	if err != nil {
		return "", fmt.Errorf("encode %T: %w", c, err)
	}
	var res sendResult
	if err := v.client.call(ctx, methodSend, sendParams{ConversationID: v.wire.ID, Content: ec}, &res); err != nil {
		return "", err
	}
	return res.ID, nil
}

func (v *conversation) Members(ctx context.Context) ([]transport.Member, error) {
	var members []transport.Member
	if err := v.client.call(ctx, methodMembers, conversationParams{ConversationID: v.wire.ID}, &members); err != nil {
		return nil, err
	}
	return members, nil
}
