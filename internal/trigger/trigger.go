// Package trigger decides whether the agent should answer a message.
// Everything here is pure except the reply-to-agent lookup, which goes
// through a History provider and degrades to "no" on any failure.
package trigger

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"regexp"
	"strings"

	"github.com/xbtify/xbtclaw/internal/content"
	"github.com/xbtify/xbtclaw/internal/transport"
)

// Defaults used when a Config leaves a field empty.
var (
	DefaultTriggers    = []string{"@xbt", "@xbt.base.eth"}
	DefaultBotMentions = []string{"/bot", "/agent", "/xbt", "/help"}
)

const (
	DefaultHandle    = "xbtify"
	DefaultENSSuffix = "base.eth"
)

// Action is the outcome of Decide.
type Action int

const (
	Ignore Action = iota
	HelpHint
	Respond
)

func (a Action) String() string {
	switch a {
	case HelpHint:
		return "help_hint"
	case Respond:
		return "respond"
	default:
		return "ignore"
	}
}

// Decision carries the outcome and the signals behind it.
type Decision struct {
	Action       Action
	Text         string
	ReplyToAgent bool
	HasTrigger   bool
	BotMention   bool
}

// History looks up earlier messages. transport.Client satisfies it.
type History interface {
	Message(ctx context.Context, id string) (*transport.Message, error)
}

// Config configures a Detector.
type Config struct {
	Triggers    []string
	BotMentions []string
	Handle      string
	ENSSuffix   string
}

// Detector is immutable once built; rebuild it to change phrases.
type Detector struct {
	triggers    []string
	botMentions []string
	mention     *regexp.Regexp
}

var replyFallbackRe = regexp.MustCompile(`Replied with "(.+)" to an earlier message`)

// New builds a Detector, filling empty fields with the defaults.
func New(cfg Config) *Detector {
	if len(cfg.Triggers) == 0 {
		cfg.Triggers = DefaultTriggers
	}
	if len(cfg.BotMentions) == 0 {
		cfg.BotMentions = DefaultBotMentions
	}
	if cfg.Handle == "" {
		cfg.Handle = DefaultHandle
	}
	if cfg.ENSSuffix == "" {
		cfg.ENSSuffix = DefaultENSSuffix
	}

	d := &Detector{
		triggers:    lowerAll(cfg.Triggers),
		botMentions: lowerAll(cfg.BotMentions),
	}
	pattern := fmt.Sprintf(`(?i)(^|[^a-z0-9_@])@?%s(\.%s)?(\b|[^a-z0-9_])`,
		regexp.QuoteMeta(cfg.Handle), regexp.QuoteMeta(cfg.ENSSuffix))
	d.mention = regexp.MustCompile(pattern)
	return d
}

func lowerAll(in []string) []string {
	out := make([]string, 0, len(in))
	for _, s := range in {
		if s = strings.ToLower(strings.TrimSpace(s)); s != "" {
			out = append(out, s)
		}
	}
	return out
}

// ExtractText returns the user-visible text of msg, "" when there is none.
func ExtractText(msg *transport.Message) string {
	if msg == nil {
		return ""
	}
	switch c := msg.Content.(type) {
	case nil:
		return msg.Fallback()
	case content.Text:
		return c.Text
	case content.Reply:
		return replyText(msg, c)
	case content.Unknown:
		return c.Fallback
	default:
		return msg.Fallback()
	}
}

func replyText(msg *transport.Message, rep content.Reply) string {
	if t, ok := rep.Content.(content.Text); ok && t.Text != "" {
		return t.Text
	}
	if fb := msg.Fallback(); fb != "" {
		if m := replyFallbackRe.FindStringSubmatch(fb); m != nil {
			return m[1]
		}
		return fb
	}
	if v := msg.Param("content"); v != "" {
		return v
	}
	if v := msg.Param("text"); v != "" {
		return v
	}
	if rep.Content == nil {
		return ""
	}
	data, err := json.Marshal(rep.Content)
	if err != nil {
		return ""
	}
	return string(data)
}

// ContainsMention reports whether text mentions the agent handle, with or
// without '@' and the ENS suffix.
func (d *Detector) ContainsMention(text string) bool {
	return d.mention.MatchString(text)
}

// HasTrigger reports whether text contains a trigger phrase or a mention.
func (d *Detector) HasTrigger(text string) bool {
	lower := strings.ToLower(strings.TrimSpace(text))
	for _, t := range d.triggers {
		if strings.Contains(lower, t) {
			return true
		}
	}
	return d.ContainsMention(text)
}

// HasBotMention reports whether text contains a generic bot keyword.
func (d *Detector) HasBotMention(text string) bool {
	lower := strings.ToLower(strings.TrimSpace(text))
	for _, m := range d.botMentions {
		if strings.Contains(lower, m) {
			return true
		}
	}
	return false
}

// ShouldSendHelpHint is true for a bot keyword without any way of
// actually addressing the agent.
func (d *Detector) ShouldSendHelpHint(text string) bool {
	return d.HasBotMention(text) && !d.HasTrigger(text)
}

// IsReplyToAgent reports whether msg replies to a message the agent sent.
// Lookup failures are logged and count as false.
func IsReplyToAgent(ctx context.Context, msg *transport.Message, agentInboxID string, history History) bool {
	if msg == nil || history == nil {
		return false
	}
	rep, ok := msg.Content.(content.Reply)
	if !ok {
		return false
	}
	ref := rep.Reference
	if ref == "" {
		ref = msg.Param("reference")
	}
	if ref == "" {
		return false
	}
	referenced, err := history.Message(ctx, ref)
	if err != nil {
		slog.Debug("reply reference lookup failed", "conversation", msg.ConversationID, "reference", ref, "error", err)
		return false
	}
	if referenced == nil {
		return false
	}
	return strings.EqualFold(referenced.SenderInboxID, agentInboxID)
}

// Decide runs the full trigger policy for a group message.
func (d *Detector) Decide(ctx context.Context, msg *transport.Message, agentInboxID string, history History) Decision {
	text := ExtractText(msg)
	dec := Decision{Text: text}
	if strings.TrimSpace(text) == "" {
		return dec
	}

	dec.HasTrigger = d.HasTrigger(text)
	dec.BotMention = d.HasBotMention(text)
	if dec.BotMention && !dec.HasTrigger {
		dec.Action = HelpHint
		return dec
	}

	dec.ReplyToAgent = IsReplyToAgent(ctx, msg, agentInboxID, history)
	if dec.ReplyToAgent || dec.HasTrigger {
		dec.Action = Respond
	}
	return dec
}
