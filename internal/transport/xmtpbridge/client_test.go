package xmtpbridge

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/gorilla/websocket"

	"github.com/xbtify/xbtclaw/internal/bus"
	"github.com/xbtify/xbtclaw/internal/content"
	"github.com/xbtify/xbtclaw/internal/transport"
)

// fakeBridge answers requests from a canned table and lets tests push
// frames to the connected agent.
type fakeBridge struct {
	t        *testing.T
	srv      *httptest.Server
	upgrader websocket.Upgrader

	mu       sync.Mutex
	conn     *websocket.Conn
	conns    int
	requests []request
	sent     []sendParams
	headers  http.Header
	answer   func(method string, params json.RawMessage) (any, string)
}

func newFakeBridge(t *testing.T) *fakeBridge {
	b := &fakeBridge{t: t}
	b.answer = func(string, json.RawMessage) (any, string) { return nil, errNotFoundCode }
	b.srv = httptest.NewServer(http.HandlerFunc(b.serve))
	t.Cleanup(b.srv.Close)
	return b
}

func (b *fakeBridge) url() string { return "ws" + strings.TrimPrefix(b.srv.URL, "http") }

func (b *fakeBridge) serve(w http.ResponseWriter, r *http.Request) {
	conn, err := b.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	b.mu.Lock()
	b.conn = conn
	b.conns++
	b.headers = r.Header.Clone()
	b.mu.Unlock()

	b.push(map[string]any{"type": frameReady, "inboxId": "agent-inbox", "address": "0x00000000000000000000000000000000000000A1"})

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		var req struct {
			ID     string          `json:"id"`
			Method string          `json:"method"`
			Params json.RawMessage `json:"params"`
		}
		if err := json.Unmarshal(data, &req); err != nil {
			continue
		}
		b.mu.Lock()
		b.requests = append(b.requests, request{ID: req.ID, Method: req.Method})
		if req.Method == methodSend {
			var sp struct {
				ConversationID string                  `json:"conversationId"`
				Content        *content.EncodedContent `json:"content"`
			}
			_ = json.Unmarshal(req.Params, &sp)
			b.sent = append(b.sent, sendParams{ConversationID: sp.ConversationID, Content: sp.Content})
		}
		answer := b.answer
		b.mu.Unlock()

		result, errStr := answer(req.Method, req.Params)
		b.push(map[string]any{"type": frameResponse, "id": req.ID, "result": result, "error": errStr})
	}
}

func (b *fakeBridge) push(v any) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.conn == nil {
		return
	}
	if err := b.conn.WriteJSON(v); err != nil {
		b.t.Logf("push: %v", err)
	}
}

func (b *fakeBridge) dropConnection() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.conn != nil {
		b.conn.Close()
		b.conn = nil
	}
}

func (b *fakeBridge) connections() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.conns
}

func startClient(t *testing.T, b *fakeBridge, router bus.MessageRouter) *Client {
	t.Helper()
	c, err := New(Config{
		URL:            b.url(),
		Env:            "dev",
		APIKey:         "secret",
		RequestTimeout: 2 * time.Second,
		MinBackoff:     10 * time.Millisecond,
		MaxBackoff:     50 * time.Millisecond,
	}, nil, router)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := c.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	t.Cleanup(c.Stop)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := c.WaitReady(ctx); err != nil {
		t.Fatalf("WaitReady: %v", err)
	}
	return c
}

func TestClient_ReadyAndHeaders(t *testing.T) {
	b := newFakeBridge(t)
	c := startClient(t, b, nil)

	if c.InboxID() != "agent-inbox" {
		t.Errorf("inbox = %q", c.InboxID())
	}
	if !strings.EqualFold(c.Address(), "0x00000000000000000000000000000000000000a1") {
		t.Errorf("address = %q", c.Address())
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if got := b.headers.Get("X-XMTP-Env"); got != "dev" {
		t.Errorf("env header = %q", got)
	}
	if got := b.headers.Get("Authorization"); got != "Bearer secret" {
		t.Errorf("auth header = %q", got)
	}
}

func TestClient_RequestsRoundTrip(t *testing.T) {
	b := newFakeBridge(t)
	b.answer = func(method string, params json.RawMessage) (any, string) {
		switch method {
		case methodConversation:
			return wireConversation{ID: "g1", Kind: transport.KindGroup, Name: "chads"}, ""
		case methodMembers:
			return []transport.Member{{InboxID: "u1", Addresses: []string{"0x1111111111111111111111111111111111111111"}}}, ""
		case methodSend:
			return sendResult{ID: "sent-1"}, ""
		case methodInboxAddress:
			if strings.Contains(string(params), "ghost") {
				return nil, errNotFoundCode
			}
			return addressResult{Address: "0x1111111111111111111111111111111111111111"}, ""
		case methodDM:
			return wireConversation{ID: "dm-1", PeerInboxID: "u1"}, ""
		}
		return nil, "unsupported"
	}
	c := startClient(t, b, nil)
	ctx := context.Background()

	conv, err := c.Conversation(ctx, "g1")
	if err != nil {
		t.Fatalf("Conversation: %v", err)
	}
	if conv.Kind() != transport.KindGroup || conv.Info().Name != "chads" {
		t.Errorf("conversation = %+v", conv)
	}

	members, err := conv.Members(ctx)
	if err != nil {
		t.Fatalf("Members: %v", err)
	}
	if diff := cmp.Diff([]transport.Member{{InboxID: "u1", Addresses: []string{"0x1111111111111111111111111111111111111111"}}}, members); diff != "" {
		t.Errorf("members (-want +got):\n%s", diff)
	}

	id, err := conv.Send(ctx, content.Intent{ID: "menu", ActionID: "start"})
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	if id != "sent-1" {
		t.Errorf("sent id = %q", id)
	}
	b.mu.Lock()
	sent := b.sent[0]
	b.mu.Unlock()
	ec, _ := sent.Content.(*content.EncodedContent)
	if sent.ConversationID != "g1" || ec == nil || ec.Type != content.TypeIntent {
		t.Errorf("send params = %+v", sent)
	}

	addr, err := c.InboxAddress(ctx, "u1")
	if err != nil || addr != "0x1111111111111111111111111111111111111111" {
		t.Errorf("InboxAddress = %q, %v", addr, err)
	}
	if _, err := c.InboxAddress(ctx, "ghost"); !errors.Is(err, transport.ErrNotFound) {
		t.Errorf("InboxAddress(ghost) error = %v, want ErrNotFound", err)
	}

	dm, err := c.NewDM(ctx, "u1")
	if err != nil {
		t.Fatalf("NewDM: %v", err)
	}
	if dm.Kind() != transport.KindDirect || dm.PeerInboxID() != "u1" {
		t.Errorf("dm = %+v", dm)
	}

	if _, err := c.Message(ctx, "m1"); err == nil || !strings.Contains(err.Error(), "unsupported") {
		t.Errorf("Message error = %v", err)
	}
}

func TestClient_PublishesInboundFrames(t *testing.T) {
	b := newFakeBridge(t)
	mb := bus.NewMessageBus(8)
	startClient(t, b, mb)

	ec, err := content.NewRegistry().Encode(content.Text{Text: "gm"})
	if err != nil {
		t.Fatal(err)
	}
	b.push(map[string]any{"type": frameMessage, "message": transport.Message{ID: "m1", ConversationID: "g1", SenderInboxID: "u1", Encoded: ec}})
	b.push(map[string]any{"type": frameConversation, "conversation": wireConversation{ID: "g2"}})

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	ev, ok := mb.ConsumeInbound(ctx)
	if !ok || ev.Kind != bus.KindMessage {
		t.Fatalf("first event = %+v, %v", ev, ok)
	}
	got, err := content.NewRegistry().Decode(ev.Message.Encoded)
	if err != nil {
		t.Fatalf("decode pushed message: %v", err)
	}
	if diff := cmp.Diff(content.Text{Text: "gm"}, got); diff != "" {
		t.Errorf("content (-want +got):\n%s", diff)
	}

	ev, ok = mb.ConsumeInbound(ctx)
	if !ok || ev.Kind != bus.KindConversation || ev.Conversation.ID() != "g2" || ev.Conversation.Kind() != transport.KindGroup {
		t.Fatalf("second event = %+v, %v", ev, ok)
	}
}

func TestClient_Reconnects(t *testing.T) {
	b := newFakeBridge(t)
	b.answer = func(string, json.RawMessage) (any, string) { return sendResult{ID: "ok"}, "" }
	c := startClient(t, b, nil)

	b.dropConnection()
	deadline := time.Now().Add(3 * time.Second)
	for b.connections() < 2 || !c.Connected() {
		if time.Now().After(deadline) {
			t.Fatalf("no reconnect: %d connections", b.connections())
		}
		time.Sleep(5 * time.Millisecond)
	}

	conv := c.wrap(wireConversation{ID: "g1"})
	if _, err := conv.Send(context.Background(), content.Text{Text: "back"}); err != nil {
		t.Fatalf("Send after reconnect: %v", err)
	}
}

func TestAddressFromKey(t *testing.T) {
	// Well-known hardhat account #0.
	addr, err := AddressFromKey("0xac0974bec39a17e36ba4a6b4d238ff944bacb478cbed5efcae784d7bf4f2ff80")
	if err != nil {
		t.Fatalf("AddressFromKey: %v", err)
	}
	if addr != "0xf39Fd6e51aad88F6F4ce6aB8827279cffFb92266" {
		t.Errorf("address = %s", addr)
	}
	if _, err := AddressFromKey("nope"); err == nil {
		t.Error("expected error for malformed key")
	}
}

func TestNew_RequiresURL(t *testing.T) {
	if _, err := New(Config{}, nil, nil); err == nil {
		t.Fatal("expected error without url")
	}
}
