package bus

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/xbtify/xbtclaw/internal/transport"
	"github.com/xbtify/xbtclaw/internal/transport/transporttest"
)

func TestDedupeCache(t *testing.T) {
	now := time.Unix(1000, 0)
	c := NewDedupeCache(time.Minute, 2)
	c.now = func() time.Time { return now }

	if c.Seen("a") {
		t.Fatal("first sighting reported as seen")
	}
	if !c.Seen("a") {
		t.Fatal("second sighting not reported")
	}

	now = now.Add(2 * time.Minute)
	if c.Seen("a") {
		t.Fatal("expired key still seen")
	}

	c.Seen("b")
	now = now.Add(time.Second)
	c.Seen("c")
	if n := c.Len(); n != 2 {
		t.Errorf("len = %d, want 2", n)
	}
	if c.Seen("c") != true {
		t.Error("newest key evicted")
	}
}

func TestMessageBus_DropsDuplicates(t *testing.T) {
	b := NewMessageBus(4)
	msg := &transport.Message{ID: "m1"}

	if !b.PublishInbound(InboundEvent{Kind: KindMessage, Message: msg}) {
		t.Fatal("first publish rejected")
	}
	if b.PublishInbound(InboundEvent{Kind: KindMessage, Message: msg}) {
		t.Fatal("duplicate accepted")
	}
	if b.Pending() != 1 {
		t.Errorf("pending = %d", b.Pending())
	}

	ev, ok := b.ConsumeInbound(context.Background())
	if !ok || ev.Message.ID != "m1" {
		t.Fatalf("consumed %+v, %v", ev, ok)
	}

	b.Close()
	if b.PublishInbound(InboundEvent{Kind: KindMessage, Message: &transport.Message{ID: "m2"}}) {
		t.Error("publish after close accepted")
	}
	if _, ok := b.ConsumeInbound(context.Background()); ok {
		t.Error("consume after close returned an event")
	}
}

type countingHandler struct {
	messages      atomic.Int32
	conversations atomic.Int32
	inFlight      atomic.Int32
	peak          atomic.Int32
	release       chan struct{}
}

func (h *countingHandler) HandleMessage(context.Context, *transport.Message) {
	n := h.inFlight.Add(1)
	for {
		p := h.peak.Load()
		if n <= p || h.peak.CompareAndSwap(p, n) {
			break
		}
	}
	<-h.release
	h.inFlight.Add(-1)
	h.messages.Add(1)
}

func (h *countingHandler) HandleConversation(context.Context, transport.Conversation) {
	h.conversations.Add(1)
}

func TestConsume_BoundsConcurrency(t *testing.T) {
	b := NewMessageBus(16)
	h := &countingHandler{release: make(chan struct{})}

	for i := 0; i < 6; i++ {
		b.PublishInbound(InboundEvent{Kind: KindMessage, Message: &transport.Message{ID: string(rune('a' + i))}})
	}
	b.PublishInbound(InboundEvent{Kind: KindConversation, Conversation: transporttest.NewGroup("g1")})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		Consume(ctx, b, h, 2)
		close(done)
	}()

	deadline := time.Now().Add(2 * time.Second)
	for h.inFlight.Load() < 2 {
		if time.Now().After(deadline) {
			t.Fatal("workers never started")
		}
		time.Sleep(time.Millisecond)
	}
	time.Sleep(20 * time.Millisecond)
	if p := h.peak.Load(); p > 2 {
		t.Fatalf("peak concurrency = %d, want <= 2", p)
	}

	close(h.release)
	for h.messages.Load() < 6 || h.conversations.Load() < 1 {
		if time.Now().After(deadline) {
			t.Fatalf("handled %d messages, %d conversations", h.messages.Load(), h.conversations.Load())
		}
		time.Sleep(time.Millisecond)
	}

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Consume did not return after cancel")
	}
}
