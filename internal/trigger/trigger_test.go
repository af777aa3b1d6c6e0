package trigger

import (
	"context"
	"errors"
	"testing"

	"github.com/xbtify/xbtclaw/internal/content"
	"github.com/xbtify/xbtclaw/internal/transport"
)

const agentInbox = "agent-inbox"

type fakeHistory struct {
	msgs map[string]*transport.Message
	err  error
}

func (h fakeHistory) Message(_ context.Context, id string) (*transport.Message, error) {
	if h.err != nil {
		return nil, h.err
	}
	m, ok := h.msgs[id]
	if !ok {
		return nil, transport.ErrNotFound
	}
	return m, nil
}

func textMsg(s string) *transport.Message {
	return &transport.Message{ID: "m1", ConversationID: "g1", SenderInboxID: "user", Content: content.Text{Text: s}}
}

func TestContainsMention(t *testing.T) {
	d := New(Config{})
	tests := []struct {
		text string
		want bool
	}{
		{"hey @xbtify.base.eth clone myself", true},
		{"HEY @XBTIFY.BASE.ETH!", true},
		{"@xbtify, do it", true},
		{"xbtify?", true},
		{"gm xbtify.base.eth.", true},
		{"(@xbtify)", true},
		{"(@xbtify.base.eth)", true},
		{"hey,@xbtify", true},
		{"cc:xbtify", true},
		{"mail me@xbtify.base.eth", false},
		{"notxbtify here", false},
		{"xbtifyer is a word", false},
		{"nothing to see", false},
	}
	for _, tt := range tests {
		t.Run(tt.text, func(t *testing.T) {
			if got := d.ContainsMention(tt.text); got != tt.want {
				t.Errorf("ContainsMention(%q) = %v, want %v", tt.text, got, tt.want)
			}
		})
	}
}

func TestDecide(t *testing.T) {
	d := New(Config{})
	ctx := context.Background()
	tests := []struct {
		name string
		text string
		want Action
	}{
		{"mention with ens", "yo @xbtify.base.eth make my clone", Respond},
		{"mention upper case punctuation", "@XBTIFY.BASE.ETH???", Respond},
		{"trigger phrase", "ping @xbt now", Respond},
		{"bot keyword only", "can the /bot help me", HelpHint},
		{"help keyword only", "/help", HelpHint},
		{"bot keyword with mention", "/help @xbtify", Respond},
		{"plain chatter", "gm everyone", Ignore},
		{"blank", "   ", Ignore},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := d.Decide(ctx, textMsg(tt.text), agentInbox, fakeHistory{})
			if got.Action != tt.want {
				t.Errorf("Decide(%q) = %s, want %s", tt.text, got.Action, tt.want)
			}
		})
	}
}

func TestDecide_ReplyToAgent(t *testing.T) {
	d := New(Config{})
	hist := fakeHistory{msgs: map[string]*transport.Message{
		"agent-msg": {ID: "agent-msg", SenderInboxID: "AGENT-INBOX"},
		"user-msg":  {ID: "user-msg", SenderInboxID: "someone"},
	}}
	reply := func(ref string) *transport.Message {
		return &transport.Message{
			ID:      "r1",
			Content: content.Reply{Reference: ref, Content: content.Text{Text: "sounds good"}},
		}
	}

	if got := d.Decide(context.Background(), reply("agent-msg"), agentInbox, hist); got.Action != Respond || !got.ReplyToAgent {
		t.Errorf("reply to agent: %+v", got)
	}
	if got := d.Decide(context.Background(), reply("user-msg"), agentInbox, hist); got.Action != Ignore {
		t.Errorf("reply to user: %+v", got)
	}
	if got := d.Decide(context.Background(), reply("missing"), agentInbox, hist); got.Action != Ignore {
		t.Errorf("reply to missing: %+v", got)
	}
	if IsReplyToAgent(context.Background(), reply("agent-msg"), agentInbox, fakeHistory{err: errors.New("down")}) {
		t.Error("lookup error must yield false")
	}
	if IsReplyToAgent(context.Background(), reply(""), agentInbox, hist) {
		t.Error("missing reference must yield false")
	}
}

func TestExtractText(t *testing.T) {
	tests := []struct {
		name string
		msg  *transport.Message
		want string
	}{
		{"nil", nil, ""},
		{"text", textMsg("hello"), "hello"},
		{"structured reply", &transport.Message{Content: content.Reply{Content: content.Text{Text: "inner"}}}, "inner"},
		{"reply fallback pattern", &transport.Message{
			Content: content.Reply{},
			Encoded: &content.EncodedContent{Fallback: `Replied with "clone me" to an earlier message`},
		}, "clone me"},
		{"reply raw fallback", &transport.Message{
			Content: content.Reply{},
			Encoded: &content.EncodedContent{Fallback: "something else"},
		}, "something else"},
		{"reply params", &transport.Message{
			Content: content.Reply{},
			Encoded: &content.EncodedContent{Parameters: map[string]string{"text": "from params"}},
		}, "from params"},
		{"empty reply", &transport.Message{Content: content.Reply{}}, ""},
		{"intent uses fallback", &transport.Message{
			Content: content.Intent{ID: "a", ActionID: "b"},
			Encoded: &content.EncodedContent{Fallback: "Action: b for a"},
		}, "Action: b for a"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ExtractText(tt.msg); got != tt.want {
				t.Errorf("ExtractText = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestNew_CustomConfig(t *testing.T) {
	d := New(Config{Triggers: []string{"Hey Clone"}, Handle: "clonebot", ENSSuffix: "eth"})
	if !d.HasTrigger("hey clone, wake up") {
		t.Error("custom trigger not matched case-insensitively")
	}
	if !d.ContainsMention("@clonebot.eth gm") {
		t.Error("custom handle not matched")
	}
	if !d.HasTrigger("thanks,@clonebot") {
		t.Error("mention after punctuation not matched")
	}
	if d.ContainsMention("@xbtify gm") {
		t.Error("default handle should not match a custom detector")
	}
}
