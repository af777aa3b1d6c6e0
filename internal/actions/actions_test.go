package actions

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/xbtify/xbtclaw/internal/content"
	"github.com/xbtify/xbtclaw/internal/transport/transporttest"
)

func TestRegistry_RegisterOverwriteLastWins(t *testing.T) {
	reg := NewRegistry()
	var got string
	reg.Register("start", func(context.Context, *Call) error { got = "first"; return nil })
	reg.Register("start", func(context.Context, *Call) error { got = "second"; return nil })

	if err := reg.Dispatch(context.Background(), &Call{Intent: content.Intent{ID: "m", ActionID: "start"}}); err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	if got != "second" {
		t.Errorf("handler = %q, want second", got)
	}
	if diff := cmp.Diff([]string{"start"}, reg.IDs()); diff != "" {
		t.Errorf("IDs mismatch (-want +got):\n%s", diff)
	}

	reg.Clear()
	if len(reg.IDs()) != 0 {
		t.Errorf("IDs after Clear = %v", reg.IDs())
	}
}

func TestRegistry_DispatchErrors(t *testing.T) {
	reg := NewRegistry()
	reg.Register("boom", func(context.Context, *Call) error { return errors.New("kaput") })
	reg.Register("panic", func(context.Context, *Call) error { panic("oh no") })

	tests := []struct {
		action  string
		want    error
		wantMsg string
	}{
		{"missing", ErrUnknownAction, ""},
		{"boom", ErrHandlerFailure, "kaput"},
		{"panic", ErrHandlerFailure, "oh no"},
	}
	for _, tt := range tests {
		t.Run(tt.action, func(t *testing.T) {
			err := reg.Dispatch(context.Background(), &Call{Intent: content.Intent{ID: "m", ActionID: tt.action}})
			if !errors.Is(err, tt.want) {
				t.Fatalf("err = %v, want %v", err, tt.want)
			}
			if tt.wantMsg != "" && err.Error() != tt.wantMsg {
				t.Errorf("message = %q, want %q", err.Error(), tt.wantMsg)
			}
		})
	}
}

func TestNewID_Unique(t *testing.T) {
	seen := make(map[string]bool)
	for range 100 {
		id := NewID("transfer")
		if !strings.HasPrefix(id, "transfer-") {
			t.Fatalf("id %q lacks prefix", id)
		}
		if seen[id] {
			t.Fatalf("duplicate id %q", id)
		}
		seen[id] = true
	}
}

func TestBuilder_SendRecordsSession(t *testing.T) {
	conv := transporttest.NewDM("c1", "peer")
	sess := NewSessions().Get("c1")

	err := NewBuilder("help", "Choose").
		Add(content.Action{ID: "a", Label: "A"}).
		Send(context.Background(), conv, sess)
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	msgID, actionsID := sess.LastSent()
	if msgID != "c1-msg-1" || actionsID != "help" {
		t.Errorf("LastSent = %q, %q", msgID, actionsID)
	}

	if err := NewBuilder("", "x").Send(context.Background(), conv, sess); !errors.Is(err, content.ErrProtocolViolation) {
		t.Errorf("invalid menu err = %v", err)
	}
}

func TestSessions_PerConversation(t *testing.T) {
	s := NewSessions()
	a, b := s.Get("a"), s.Get("b")
	a.setLastMenu("main-menu")
	if b.LastMenu() != "" {
		t.Errorf("session b leaked menu %q", b.LastMenu())
	}
	if s.Get("a") != a {
		t.Error("Get returned a different session for the same id")
	}
}

func TestSendConfirmation_DefaultCancel(t *testing.T) {
	ctx := context.Background()
	reg := NewRegistry()
	conv := transporttest.NewDM("c1", "peer")
	confirmed := false

	err := SendConfirmation(ctx, reg, conv, nil, "Sure?", func(context.Context, *Call) error {
		confirmed = true
		return nil
	}, nil)
	if err != nil {
		t.Fatalf("SendConfirmation: %v", err)
	}
	menus := transporttest.Of[content.Actions](conv)
	if len(menus) != 1 || len(menus[0].Actions) != 2 {
		t.Fatalf("menus = %#v", menus)
	}
	yes, no := menus[0].Actions[0], menus[0].Actions[1]
	if no.Style != content.StyleDanger {
		t.Errorf("cancel style = %q", no.Style)
	}

	if err := reg.Dispatch(ctx, &Call{Conversation: conv, Intent: content.Intent{ID: menus[0].ID, ActionID: no.ID}}); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if texts := conv.Texts(); len(texts) != 1 || texts[0] != CancelledMessage {
		t.Errorf("texts = %v", texts)
	}
	err = reg.Dispatch(ctx, &Call{Conversation: conv, Intent: content.Intent{ID: menus[0].ID, ActionID: yes.ID}})
	if !errors.Is(err, ErrUnknownAction) {
		t.Fatalf("confirm after cancel: err = %v, want ErrUnknownAction", err)
	}
	if confirmed {
		t.Error("confirm handler ran after cancel")
	}
	if n := reg.Len(); n != 0 {
		t.Errorf("registry holds %d ids after the pair was used", n)
	}
}

func TestSendConfirmation_ConfirmOnce(t *testing.T) {
	ctx := context.Background()
	reg := NewRegistry()
	conv := transporttest.NewDM("c1", "peer")
	calls := 0

	err := SendConfirmation(ctx, reg, conv, nil, "Sure?", func(context.Context, *Call) error {
		calls++
		return nil
	}, nil)
	if err != nil {
		t.Fatalf("SendConfirmation: %v", err)
	}
	menu := transporttest.Of[content.Actions](conv)[0]
	yes := content.Intent{ID: menu.ID, ActionID: menu.Actions[0].ID}

	if err := reg.Dispatch(ctx, &Call{Conversation: conv, Intent: yes}); err != nil {
		t.Fatalf("confirm: %v", err)
	}
	if err := reg.Dispatch(ctx, &Call{Conversation: conv, Intent: yes}); !errors.Is(err, ErrUnknownAction) {
		t.Errorf("second confirm: err = %v, want ErrUnknownAction", err)
	}
	if calls != 1 {
		t.Errorf("confirm ran %d times, want 1", calls)
	}
}

func TestSendSelection_RegistersOptions(t *testing.T) {
	reg := NewRegistry()
	conv := transporttest.NewDM("c1", "peer")
	noop := func(context.Context, *Call) error { return nil }
	err := SendSelection(context.Background(), reg, conv, nil, "Pick", []Option{
		{ID: "red", Label: "Red", Handler: noop},
		{ID: "blue", Label: "Blue", Handler: noop},
	})
	if err != nil {
		t.Fatalf("SendSelection: %v", err)
	}
	if diff := cmp.Diff([]string{"blue", "red"}, reg.IDs()); diff != "" {
		t.Errorf("IDs mismatch (-want +got):\n%s", diff)
	}
}

func TestBuildTransferAction(t *testing.T) {
	reg := NewRegistry()
	a, err := BuildTransferAction(reg, "Pay 0.01 USDC", func(context.Context, *Call) error { return nil })
	if err != nil {
		t.Fatalf("BuildTransferAction: %v", err)
	}
	if len(a.Actions) != 1 || a.Actions[0].Label != TransferLabel || a.Actions[0].ID != a.ID {
		t.Errorf("actions = %#v", a)
	}
	if _, ok := reg.Get(a.ID); !ok {
		t.Error("transfer handler not registered")
	}
}

func TestBuildTransferAction_SingleUse(t *testing.T) {
	ctx := context.Background()
	reg := NewRegistry()
	conv := transporttest.NewDM("c1", "peer")
	runs := 0
	pay := func(context.Context, *Call) error { runs++; return nil }

	var last content.Actions
	for i := 0; i < 1000; i++ {
		a, err := BuildTransferAction(reg, "Pay 0.01 USDC", pay)
		if err != nil {
			t.Fatalf("BuildTransferAction: %v", err)
		}
		last = a
	}
	if n := reg.Len(); n != 1000 {
		t.Fatalf("registered = %d, want 1000", n)
	}

	intent := content.Intent{ID: last.ID, ActionID: last.Actions[0].ID}
	if err := reg.Dispatch(ctx, &Call{Conversation: conv, Intent: intent}); err != nil {
		t.Fatalf("first tap: %v", err)
	}
	for i := 0; i < 2; i++ {
		if err := reg.Dispatch(ctx, &Call{Conversation: conv, Intent: intent}); !errors.Is(err, ErrUnknownAction) {
			t.Errorf("repeat tap %d: err = %v, want ErrUnknownAction", i+1, err)
		}
	}
	if runs != 1 {
		t.Errorf("pay handler ran %d times, want 1", runs)
	}
	if n := reg.Len(); n != 999 {
		t.Errorf("registered = %d after one tap, want 999", n)
	}
}

func TestInstall_NavigationAndLastMenu(t *testing.T) {
	ctx := context.Background()
	reg := NewRegistry()
	conv := transporttest.NewDM("c1", "peer")
	sess := NewSessions().Get("c1")
	ran := false

	cfg := &AppConfig{
		Name: "test",
		Menus: map[string]Menu{
			MainMenuID: {ID: MainMenuID, Title: "Main", Actions: []MenuAction{
				{ID: "settings", Label: "Settings"},
				{ID: "ping", Label: "Ping", ShowNavigationOptions: true, Handler: func(ctx context.Context, call *Call) error {
					ran = true
					return call.SendText(ctx, "pong")
				}},
			}},
			"settings": {ID: "settings", Title: "Settings", Actions: []MenuAction{
				{ID: "back-to-main", Label: "Back"},
			}},
		},
	}
	Install(reg, cfg, nil)

	for _, id := range []string{MainMenuID, "back-to-main", "settings", "ping"} {
		if _, ok := reg.Get(id); !ok {
			t.Errorf("action %q not registered", id)
		}
	}

	call := func(id string) {
		t.Helper()
		if err := reg.Dispatch(ctx, &Call{Conversation: conv, Session: sess, Intent: content.Intent{ID: "m", ActionID: id}}); err != nil {
			t.Fatalf("dispatch %s: %v", id, err)
		}
	}

	call("settings")
	if sess.LastMenu() != "settings" {
		t.Errorf("last menu = %q", sess.LastMenu())
	}
	call("ping")
	if !ran {
		t.Fatal("ping handler not run")
	}
	menus := transporttest.Of[content.Actions](conv)
	if last := menus[len(menus)-1]; last.ID != "settings" {
		t.Errorf("re-shown menu = %q, want settings", last.ID)
	}
}

func TestShowMenu_Unknown(t *testing.T) {
	conv := transporttest.NewDM("c1", "peer")
	if err := ShowMenu(context.Background(), conv, nil, &AppConfig{}, "nope"); err != nil {
		t.Fatalf("ShowMenu: %v", err)
	}
	if texts := conv.Texts(); len(texts) != 1 || texts[0] != "❌ Menu not found: nope" {
		t.Errorf("texts = %v", texts)
	}
}

func TestValidators(t *testing.T) {
	if !ValidateInboxID(strings.Repeat("ab", 32)).Valid {
		t.Error("valid inbox id rejected")
	}
	if ValidateInboxID("0x1234").Valid {
		t.Error("short inbox id accepted")
	}
	if !ValidateEthereumAddress(" 0x833589fCD6eDb6E08f4c7C32D4f71b54bdA02913 ").Valid {
		t.Error("valid address rejected")
	}
	if r := ValidateEthereumAddress("0xzz"); r.Valid || r.Error == "" {
		t.Errorf("invalid address result = %#v", r)
	}
}
