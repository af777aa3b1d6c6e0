package agent

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/xbtify/xbtclaw/internal/neynar"
	"github.com/xbtify/xbtclaw/internal/providers"
	"github.com/xbtify/xbtclaw/internal/store"
	"github.com/xbtify/xbtclaw/internal/store/sqlite"
)

type fakeProvider struct {
	resp *providers.ChatResponse
	err  error
	reqs []providers.ChatRequest
}

func (p *fakeProvider) Chat(_ context.Context, req providers.ChatRequest) (*providers.ChatResponse, error) {
	p.reqs = append(p.reqs, req)
	return p.resp, p.err
}
func (p *fakeProvider) DefaultModel() string { return "gpt-5-mini" }
func (p *fakeProvider) Name() string         { return "fake" }

type fakeProfiles map[string]*neynar.User

func (f fakeProfiles) UserByAddress(_ context.Context, address string) (*neynar.User, error) {
	if address == "0xdead000000000000000000000000000000000000" {
		return nil, errors.New("neynar down")
	}
	return f[strings.ToLower(address)], nil
}

const wallet = "0x1111111111111111111111111111111111111111"

func newUsers(t *testing.T) store.UserStore {
	t.Helper()
	stores, err := sqlite.NewStores(filepath.Join(t.TempDir(), "agent.db"))
	if err != nil {
		t.Fatalf("NewStores: %v", err)
	}
	t.Cleanup(func() { stores.Close() })
	return stores.Users
}

func createCall(addr string) *providers.ChatResponse {
	return &providers.ChatResponse{
		FinishReason: "tool_calls",
		ToolCalls:    []providers.ToolCall{{ID: "c1", Name: CreateToolName, Arguments: map[string]any{"walletAddress": addr}}},
	}
}

func TestGenerator_RequestShape(t *testing.T) {
	p := &fakeProvider{resp: &providers.ChatResponse{Content: "gm chad"}}
	g := NewGenerator(p, "gpt-5-mini", nil, nil)

	ans, err := g.Answer(context.Background(), Request{Message: "yo", SenderAddress: wallet})
	if err != nil {
		t.Fatalf("Answer: %v", err)
	}
	if diff := cmp.Diff(Answer{Text: "gm chad"}, ans); diff != "" {
		t.Errorf("answer mismatch (-want +got):\n%s", diff)
	}

	req := p.reqs[0]
	if req.Model != "gpt-5-mini" || len(req.Messages) != 3 {
		t.Fatalf("request = %+v", req)
	}
	if req.Messages[0].Role != "system" || req.Messages[0].Content != SystemPrompt {
		t.Errorf("system message = %+v", req.Messages[0])
	}
	if !strings.Contains(req.Messages[1].Content, wallet) || req.Messages[1].Role != "assistant" {
		t.Errorf("wallet hint = %+v", req.Messages[1])
	}
	if len(req.Tools) != 1 || req.Tools[0].Function.Name != CreateToolName {
		t.Errorf("tools = %+v", req.Tools)
	}
}

func TestGenerator_TextAnswers(t *testing.T) {
	tests := []struct {
		name    string
		content string
		want    string
	}{
		{"plain", "Locked in.", "Locked in."},
		{"reasoning stripped", "<think>hmm</think>Let's go.", "Let's go."},
		{"empty falls back", "", DefaultResponseMessage},
		{"tool handled falls back", " TOOL_HANDLED\n", DefaultResponseMessage},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g := NewGenerator(&fakeProvider{resp: &providers.ChatResponse{Content: tt.content}}, "m", nil, nil)
			ans, err := g.Answer(context.Background(), Request{Message: "x"})
			if err != nil {
				t.Fatalf("Answer: %v", err)
			}
			if ans.Text != tt.want || ans.Clone != nil || ans.ShowActions {
				t.Errorf("answer = %+v, want text %q", ans, tt.want)
			}
		})
	}
}

func TestGenerator_CreateToolWithoutProfile(t *testing.T) {
	g := NewGenerator(&fakeProvider{resp: createCall(wallet)}, "m", fakeProfiles{}, newUsers(t))
	ans, err := g.Answer(context.Background(), Request{Message: "clone me", SenderAddress: wallet})
	if err != nil {
		t.Fatalf("Answer: %v", err)
	}
	want := &CloneRequest{
		WalletAddress: wallet,
		Message:       "Confirm that you want to create a new xbt ai clone for this wallet address " + wallet,
	}
	if diff := cmp.Diff(want, ans.Clone); diff != "" {
		t.Errorf("clone mismatch (-want +got):\n%s", diff)
	}
}

func TestGenerator_CreateToolStoresProfile(t *testing.T) {
	users := newUsers(t)
	profiles := fakeProfiles{wallet: {
		FID:      42,
		Username: "chad",
		PfpURL:   "https://imagedelivery.net/abc/original",
		VerifiedAddresses: neynar.VerifiedAddresses{
			EthAddresses: []string{wallet, "not-an-address"},
		},
	}}
	g := NewGenerator(&fakeProvider{resp: createCall(wallet)}, "m", profiles, users)

	for i := 0; i < 2; i++ {
		ans, err := g.Answer(context.Background(), Request{Message: "clone me", SenderAddress: wallet})
		if err != nil {
			t.Fatalf("Answer: %v", err)
		}
		wantMsg := "Confirm that you want to create a new xbt ai clone for your wallet address " + wallet + " (username: chad fid: 42)"
		if ans.Clone == nil || ans.Clone.Message != wantMsg || ans.Clone.FID != 42 {
			t.Fatalf("clone = %+v", ans.Clone)
		}
	}

	u, err := users.GetUserByFID(context.Background(), 42)
	if err != nil {
		t.Fatalf("GetUserByFID: %v", err)
	}
	if u.Username != "chad" || len(u.Wallets) != 1 {
		t.Errorf("stored user = %+v", u)
	}
	if !strings.HasSuffix(u.AvatarURL, "/anim=false,fit=contain,f=auto,w=512") {
		t.Errorf("avatar = %q", u.AvatarURL)
	}
}

func TestGenerator_CreateToolProfileLookupFails(t *testing.T) {
	dead := "0xdead000000000000000000000000000000000000"
	g := NewGenerator(&fakeProvider{resp: createCall(dead)}, "m", fakeProfiles{}, newUsers(t))
	ans, err := g.Answer(context.Background(), Request{Message: "clone", SenderAddress: dead})
	if err != nil {
		t.Fatalf("Answer: %v", err)
	}
	if ans.Clone == nil || ans.Clone.FID != 0 {
		t.Errorf("clone = %+v", ans.Clone)
	}
}

func TestGenerator_OtherToolShowsActions(t *testing.T) {
	p := &fakeProvider{resp: &providers.ChatResponse{ToolCalls: []providers.ToolCall{{Name: "web_search"}}}}
	ans, err := NewGenerator(p, "m", nil, nil).Answer(context.Background(), Request{Message: "x"})
	if err != nil {
		t.Fatalf("Answer: %v", err)
	}
	if !ans.ShowActions || ans.Clone != nil {
		t.Errorf("answer = %+v", ans)
	}
}

func TestGenerator_CreateToolWithoutWallet(t *testing.T) {
	ans, err := NewGenerator(&fakeProvider{resp: createCall("")}, "m", nil, nil).Answer(context.Background(), Request{})
	if err != nil {
		t.Fatalf("Answer: %v", err)
	}
	if ans.Clone != nil || ans.Text != DefaultResponseMessage {
		t.Errorf("answer = %+v", ans)
	}
}

func TestGenerator_ProviderError(t *testing.T) {
	boom := errors.New("boom")
	_, err := NewGenerator(&fakeProvider{err: boom}, "m", nil, nil).Answer(context.Background(), Request{})
	if !errors.Is(err, boom) {
		t.Errorf("error = %v, want wrapped boom", err)
	}
}
