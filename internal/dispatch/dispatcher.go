// Package dispatch routes every inbound transport message: intents go to
// the action registry, direct messages and addressed group messages get
// an answer, group updates go to the membership reconciler.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/xbtify/xbtclaw/internal/actions"
	"github.com/xbtify/xbtclaw/internal/agent"
	"github.com/xbtify/xbtclaw/internal/content"
	"github.com/xbtify/xbtclaw/internal/membership"
	"github.com/xbtify/xbtclaw/internal/metrics"
	"github.com/xbtify/xbtclaw/internal/payment"
	"github.com/xbtify/xbtclaw/internal/transport"
	"github.com/xbtify/xbtclaw/internal/trigger"
)

// ErrResolution is returned when a sender inbox has no Ethereum address.
var ErrResolution = errors.New("sender address resolution failed")

var tracer = otel.Tracer("github.com/xbtify/xbtclaw/internal/dispatch")

// Outcome labels for metrics.MessagesHandled.
const (
	outcomeIgnored    = "ignored"
	outcomeIntent     = "intent"
	outcomeWelcome    = "welcome"
	outcomeHelpHint   = "help_hint"
	outcomeAnswered   = "answered"
	outcomeReconciled = "reconciled"
	outcomePayment    = "payment"
	outcomeError      = "error"
)

// Config holds the dispatcher's tunables.
type Config struct {
	AppURL       string
	Price        string // token amount asked for, as a decimal string
	ChainID      int64
	Paymaster    payment.PaymasterKeys
	WatchTimeout time.Duration
}

// Deps are the collaborators of a Dispatcher. Codecs, Registry, Sessions
// and Detector default to fresh instances when nil.
type Deps struct {
	Client   transport.Client
	Codecs   *content.Registry
	Registry *actions.Registry
	Sessions *actions.Sessions
	Detector *trigger.Detector
	Members  *membership.Reconciler
	Verifier *payment.Verifier
	Answerer agent.Answerer
}

// Dispatcher handles inbound messages. Safe for concurrent use; messages
// are not ordered per conversation.
type Dispatcher struct {
	client   transport.Client
	codecs   *content.Registry
	registry *actions.Registry
	sessions *actions.Sessions
	members  *membership.Reconciler
	verifier *payment.Verifier
	answerer agent.Answerer
	cfg      Config
	menus    *actions.AppConfig

	detector atomic.Pointer[trigger.Detector]

	mu      sync.Mutex
	watches map[string]*payment.Watch // by checksummed sender address
}

// New builds a Dispatcher and registers the built-in actions.
func New(deps Deps, cfg Config) *Dispatcher {
	if deps.Codecs == nil {
		deps.Codecs = content.NewRegistry()
	}
	if deps.Registry == nil {
		deps.Registry = actions.NewRegistry()
	}
	if deps.Sessions == nil {
		deps.Sessions = actions.NewSessions()
	}
	if deps.Detector == nil {
		deps.Detector = trigger.New(trigger.Config{})
	}
	if cfg.Price == "" {
		cfg.Price = payment.DefaultMinAmount
	}
	if cfg.ChainID == 0 {
		cfg.ChainID = payment.BaseChainID
	}

	d := &Dispatcher{
		client:   deps.Client,
		codecs:   deps.Codecs,
		registry: deps.Registry,
		sessions: deps.Sessions,
		members:  deps.Members,
		verifier: deps.Verifier,
		answerer: deps.Answerer,
		cfg:      cfg,
		watches:  make(map[string]*payment.Watch),
	}
	d.detector.Store(deps.Detector)
	d.registerBuiltins()
	return d
}

// Registry returns the action registry handlers are registered in.
func (d *Dispatcher) Registry() *actions.Registry { return d.registry }

// SetDetector swaps the trigger detector, e.g. after a config reload.
func (d *Dispatcher) SetDetector(det *trigger.Detector) {
	if det != nil {
		d.detector.Store(det)
	}
}

// HandleMessage processes one inbound message. Errors and panics are
// logged, never returned.
func (d *Dispatcher) HandleMessage(ctx context.Context, msg *transport.Message) {
	if msg == nil {
		return
	}
	ctx, span := tracer.Start(ctx, "dispatch.message", trace.WithAttributes(
		attribute.String("xmtp.conversation_id", msg.ConversationID),
		attribute.String("xmtp.message_id", msg.ID),
	))
	defer span.End()

	outcome := outcomeError
	defer func() {
		if rec := recover(); rec != nil {
			slog.Error("panic while handling message",
				"message", msg.ID, "conversation", msg.ConversationID,
				"panic", rec, "stack", string(debug.Stack()))
			span.SetStatus(codes.Error, fmt.Sprint(rec))
		}
		span.SetAttributes(attribute.String("dispatch.outcome", outcome))
		metrics.MessagesHandled.WithLabelValues(outcome).Inc()
	}()

	res, err := d.handleMessage(ctx, msg)
	if err != nil {
		slog.Error("error processing message", "message", msg.ID, "conversation", msg.ConversationID, "error", err)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return
	}
	outcome = res
}

func (d *Dispatcher) handleMessage(ctx context.Context, msg *transport.Message) (string, error) {
	if msg.Content == nil && msg.Encoded != nil {
		c, err := d.codecs.Decode(msg.Encoded)
		if err != nil {
			slog.Warn("dropping undecodable message", "message", msg.ID, "type", msg.Encoded.Type.String(), "error", err)
			return outcomeIgnored, nil
		}
		msg.Content = c
	}

	if content.IsEmpty(msg.Content) || strings.EqualFold(msg.SenderInboxID, d.client.InboxID()) {
		return outcomeIgnored, nil
	}
	if _, ok := msg.Content.(content.Reaction); ok {
		return outcomeIgnored, nil
	}

	conv, err := d.client.Conversation(ctx, msg.ConversationID)
	if err != nil {
		return "", fmt.Errorf("load conversation %s: %w", msg.ConversationID, err)
	}
	typeID, _ := content.TypeOf(msg.Content)
	metrics.MessagesReceived.WithLabelValues(string(conv.Kind()), typeID.TypeID).Inc()

	if in, ok := msg.Content.(content.Intent); ok {
		return d.handleIntent(ctx, conv, msg, in)
	}

	switch conv.Kind() {
	case transport.KindDirect:
		return d.handleDirect(ctx, conv, msg)
	case transport.KindGroup:
		return d.handleGroup(ctx, conv, msg)
	}
	return outcomeIgnored, nil
}

func (d *Dispatcher) handleIntent(ctx context.Context, conv transport.Conversation, msg *transport.Message, in content.Intent) (string, error) {
	slog.Info("processing intent", "action", in.ActionID, "conversation", conv.ID())
	call := &actions.Call{
		Conversation:  conv,
		Message:       msg,
		SenderInboxID: msg.SenderInboxID,
		Intent:        in,
		Session:       d.sessions.Get(conv.ID()),
		Registry:      d.registry,
		React: func(ctx context.Context, added bool) error {
			return d.react(ctx, conv, msg, added)
		},
		ResolveSender: func(ctx context.Context) (string, error) {
			return d.senderAddress(ctx, msg)
		},
	}

	err := d.registry.Dispatch(ctx, call)
	switch {
	case err == nil:
		metrics.ActionsInvoked.WithLabelValues("ok").Inc()
		return outcomeIntent, nil
	case errors.Is(err, actions.ErrUnknownAction):
		metrics.ActionsInvoked.WithLabelValues("unknown").Inc()
		_, serr := transport.SendText(ctx, conv, fmt.Sprintf(unknownActionTemplate, in.ActionID))
		return outcomeIntent, serr
	default:
		metrics.ActionsInvoked.WithLabelValues("error").Inc()
		slog.Error("action handler failed", "action", in.ActionID, "conversation", conv.ID(), "error", err)
		_, serr := transport.SendText(ctx, conv, fmt.Sprintf(actionErrorTemplate, err.Error()))
		return outcomeIntent, serr
	}
}

func (d *Dispatcher) handleDirect(ctx context.Context, conv transport.Conversation, msg *transport.Message) (string, error) {
	sender, err := d.senderAddress(ctx, msg)
	if err != nil {
		slog.Warn("dm sender has no wallet address", "conversation", conv.ID(), "error", err)
		return outcomeIgnored, nil
	}
	d.addThinking(ctx, conv, msg)

	g, created, err := d.members.GetOrCreateDM(ctx, conv.ID(), msg.SenderInboxID, sender)
	if err != nil {
		return "", err
	}
	if created {
		slog.Info("sending welcome message to new dm", "group", g.ID)
		return outcomeWelcome, d.welcome(ctx, conv)
	}

	if ref, ok := msg.Content.(content.TransactionReference); ok {
		return d.handleTransactionReference(ctx, conv, msg, sender, ref, true)
	}
	return d.answer(ctx, conv, msg, sender, trigger.ExtractText(msg))
}

func (d *Dispatcher) handleGroup(ctx context.Context, conv transport.Conversation, msg *transport.Message) (string, error) {
	// New groups are welcomed by HandleConversation.
	g, _, err := d.members.GetOrCreateGroup(ctx, conv)
	if err != nil {
		return "", err
	}

	switch c := msg.Content.(type) {
	case content.GroupUpdated:
		members, err := conv.Members(ctx)
		if err != nil {
			return "", fmt.Errorf("list members of %s: %w", conv.ID(), err)
		}
		out, err := d.members.Reconcile(ctx, g, c, members)
		if err != nil {
			return "", err
		}
		slog.Info("group updated",
			"group", g.ID, "added", out.Added, "removed", out.Removed,
			"metadata", out.MetadataUpdated, "deleted", out.Deleted)
		if out.Deleted {
			d.sessions.Delete(conv.ID())
		}
		return outcomeReconciled, nil
	case content.TransactionReference:
		sender, err := d.senderAddress(ctx, msg)
		if err != nil {
			slog.Warn("transaction reference sender has no wallet address", "conversation", conv.ID(), "error", err)
			return outcomeIgnored, nil
		}
		return d.handleTransactionReference(ctx, conv, msg, sender, c, false)
	}

	dec := d.detector.Load().Decide(ctx, msg, d.client.InboxID(), d.client)
	switch dec.Action {
	case trigger.HelpHint:
		d.addThinking(ctx, conv, msg)
		if err := d.reply(ctx, conv, msg, HelpHintMessage); err != nil {
			return "", err
		}
		return outcomeHelpHint, d.sendMenu(ctx, conv, ActionsMessage)
	case trigger.Respond:
		d.addThinking(ctx, conv, msg)
		sender, err := d.senderAddress(ctx, msg)
		if err != nil {
			slog.Warn("group sender has no wallet address", "conversation", conv.ID(), "error", err)
			return outcomeIgnored, nil
		}
		return d.answer(ctx, conv, msg, sender, dec.Text)
	}
	return outcomeIgnored, nil
}

// HandleConversation runs when the agent is added to a conversation.
// A group seen for the first time is mirrored and welcomed.
func (d *Dispatcher) HandleConversation(ctx context.Context, conv transport.Conversation) {
	ctx, span := tracer.Start(ctx, "dispatch.conversation", trace.WithAttributes(
		attribute.String("xmtp.conversation_id", conv.ID()),
	))
	defer span.End()
	defer func() {
		if rec := recover(); rec != nil {
			slog.Error("panic while handling conversation", "conversation", conv.ID(), "panic", rec, "stack", string(debug.Stack()))
		}
	}()

	if conv.Kind() != transport.KindGroup {
		return
	}
	g, created, err := d.members.GetOrCreateGroup(ctx, conv)
	if err != nil {
		slog.Error("mirror group failed", "conversation", conv.ID(), "error", err)
		span.RecordError(err)
		return
	}
	if !created {
		return
	}
	slog.Info("sending welcome message to new group", "group", g.ID)
	if err := d.welcome(ctx, conv); err != nil {
		slog.Error("welcome failed", "conversation", conv.ID(), "error", err)
	}
	metrics.MessagesHandled.WithLabelValues(outcomeWelcome).Inc()
}

func (d *Dispatcher) answer(ctx context.Context, conv transport.Conversation, msg *transport.Message, sender, text string) (string, error) {
	ans, err := d.answerer.Answer(ctx, agent.Request{Message: text, SenderAddress: sender})
	if err != nil {
		return "", err
	}

	switch {
	case ans.Clone != nil:
		if err := d.offerPayment(ctx, conv, msg.SenderInboxID, sender, ans.Clone.Message); err != nil {
			return "", err
		}
	case ans.ShowActions:
		if err := d.sendMenu(ctx, conv, DefaultActionsMessage); err != nil {
			return "", err
		}
	}
	if ans.Text != "" {
		if err := d.reply(ctx, conv, msg, ans.Text); err != nil {
			return "", err
		}
	}
	return outcomeAnswered, nil
}

func (d *Dispatcher) welcome(ctx context.Context, conv transport.Conversation) error {
	if _, err := transport.SendText(ctx, conv, WelcomeMessage); err != nil {
		return fmt.Errorf("send welcome: %w", err)
	}
	return d.sendMenu(ctx, conv, DefaultActionsMessage2)
}

// senderAddress resolves the sender inbox to its checksummed address.
func (d *Dispatcher) senderAddress(ctx context.Context, msg *transport.Message) (string, error) {
	addr, err := d.client.InboxAddress(ctx, msg.SenderInboxID)
	if err != nil {
		return "", fmt.Errorf("%w: inbox %s: %w", ErrResolution, msg.SenderInboxID, err)
	}
	if !common.IsHexAddress(addr) {
		return "", fmt.Errorf("%w: inbox %s has no ethereum identifier", ErrResolution, msg.SenderInboxID)
	}
	return common.HexToAddress(addr).Hex(), nil
}

func (d *Dispatcher) react(ctx context.Context, conv transport.Conversation, msg *transport.Message, added bool) error {
	action := "added"
	if !added {
		action = "removed"
	}
	_, err := conv.Send(ctx, content.Reaction{
		Reference: msg.ID,
		Action:    action,
		Content:   ThinkingEmoji,
		Schema:    "shortcode",
	})
	return err
}

// addThinking marks msg as being worked on. Failures only cost the emoji.
func (d *Dispatcher) addThinking(ctx context.Context, conv transport.Conversation, msg *transport.Message) {
	if err := d.react(ctx, conv, msg, true); err != nil {
		slog.Warn("thinking reaction failed", "message", msg.ID, "error", err)
	}
}

// reply sends text as a reply to msg.
func (d *Dispatcher) reply(ctx context.Context, conv transport.Conversation, msg *transport.Message, text string) error {
	_, err := conv.Send(ctx, content.Reply{
		Reference:        msg.ID,
		ReferenceInboxID: msg.SenderInboxID,
		Content:          content.Text{Text: text},
	})
	if err != nil {
		return fmt.Errorf("send reply: %w", err)
	}
	return nil
}
