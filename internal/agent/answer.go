// Package agent turns a user's message into the agent's answer: plain
// text, or a request to start the paid clone flow.
package agent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/xbtify/xbtclaw/internal/metrics"
	"github.com/xbtify/xbtclaw/internal/neynar"
	"github.com/xbtify/xbtclaw/internal/providers"
	"github.com/xbtify/xbtclaw/internal/store"
)

// CreateToolName is the one tool offered to the model.
const CreateToolName = "xbtify_create"

// Request is one message to answer.
type Request struct {
	Message       string
	SenderAddress string
}

// CloneRequest asks the dispatcher to offer the pay button and watch for
// the transfer.
type CloneRequest struct {
	WalletAddress string
	FID           int64
	Username      string
	Message       string
}

// Answer is the generator's verdict. At most one of Clone and ShowActions
// is set; Text may accompany neither.
type Answer struct {
	Text        string
	Clone       *CloneRequest
	ShowActions bool
}

// Answerer produces answers. The dispatcher depends on this, not on
// Generator, so tests can script answers.
type Answerer interface {
	Answer(ctx context.Context, req Request) (Answer, error)
}

// ProfileLookup finds a Farcaster profile by address.
type ProfileLookup interface {
	UserByAddress(ctx context.Context, address string) (*neynar.User, error)
}

// Generator answers through an OpenAI-compatible chat model.
type Generator struct {
	provider providers.Provider
	model    string
	profiles ProfileLookup
	users    store.UserStore
	options  map[string]any
}

// NewGenerator returns a Generator. profiles and users may be nil, in
// which case the create tool skips the profile lookup.
func NewGenerator(provider providers.Provider, model string, profiles ProfileLookup, users store.UserStore) *Generator {
	return &Generator{provider: provider, model: model, profiles: profiles, users: users}
}

// WithOptions sets per-request model options (providers.OptMaxTokens,
// providers.OptTemperature). Zero values are left out.
func (g *Generator) WithOptions(maxTokens int, temperature float64) *Generator {
	g.options = map[string]any{}
	if maxTokens > 0 {
		g.options[providers.OptMaxTokens] = maxTokens
	}
	if temperature > 0 {
		g.options[providers.OptTemperature] = temperature
	}
	return g
}

var createTool = providers.ToolDefinition{
	Type: "function",
	Function: providers.ToolFunctionSchema{
		Name:        CreateToolName,
		Description: "If the user specify to create a new xbt ai clone, create a new xbt ai clone of the user",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"walletAddress": map[string]any{
					"type":        "string",
					"description": "The ethereum wallet address of the person to create the xbt ai clone for",
				},
			},
			"required": []string{"walletAddress"},
		},
	},
}

func (g *Generator) Answer(ctx context.Context, req Request) (Answer, error) {
	start := time.Now()
	defer func() { metrics.AnswerLatency.Observe(time.Since(start).Seconds()) }()

	resp, err := g.provider.Chat(ctx, providers.ChatRequest{
		Model: g.model,
		Messages: []providers.Message{
			{Role: "system", Content: SystemPrompt},
			{Role: "assistant", Content: fmt.Sprintf("If the user wants to create a new xbt ai clone, user's eth wallet address is %s.", req.SenderAddress)},
			{Role: "user", Content: req.Message},
		},
		Tools:   []providers.ToolDefinition{createTool},
		Options: g.options,
	})
	if err != nil {
		return Answer{}, fmt.Errorf("generate answer: %w", err)
	}

	if len(resp.ToolCalls) > 0 {
		call := resp.ToolCalls[0]
		slog.Info("answer tool call", "tool", call.Name)
		if call.Name != CreateToolName {
			return Answer{ShowActions: true}, nil
		}
		wallet, _ := call.Arguments["walletAddress"].(string)
		return g.runCreateTool(ctx, strings.TrimSpace(wallet)), nil
	}

	text := Sanitize(resp.Content)
	if text == "" || IsToolHandled(text) {
		text = DefaultResponseMessage
	}
	return Answer{Text: text}, nil
}

// runCreateTool resolves the wallet's Farcaster profile, stores it, and
// phrases the confirmation shown above the pay button.
func (g *Generator) runCreateTool(ctx context.Context, wallet string) Answer {
	if wallet == "" {
		return Answer{Text: DefaultResponseMessage}
	}
	clone := &CloneRequest{
		WalletAddress: wallet,
		Message:       fmt.Sprintf("Confirm that you want to create a new xbt ai clone for this wallet address %s", wallet),
	}
	if g.profiles == nil || !common.IsHexAddress(wallet) {
		return Answer{Clone: clone}
	}

	profile, err := g.profiles.UserByAddress(ctx, wallet)
	if err != nil {
		slog.Warn("farcaster profile lookup failed", "address", wallet, "error", err)
		return Answer{Clone: clone}
	}
	if profile == nil {
		return Answer{Clone: clone}
	}
	if g.users != nil {
		if err := g.saveProfile(ctx, profile); err != nil {
			slog.Warn("saving farcaster user failed", "fid", profile.FID, "error", err)
		}
	}
	clone.FID = profile.FID
	clone.Username = profile.Username
	clone.Message = fmt.Sprintf("Confirm that you want to create a new xbt ai clone for your wallet address %s (username: %s fid: %d)",
		wallet, profile.Username, profile.FID)
	return Answer{Clone: clone}
}

func (g *Generator) saveProfile(ctx context.Context, profile *neynar.User) error {
	if _, err := g.users.GetUserByFID(ctx, profile.FID); err == nil {
		return nil
	} else if !errors.Is(err, store.ErrNotFound) {
		return err
	}

	params := store.CreateUserParams{
		Username:             profile.Username,
		AvatarURL:            neynar.FormatAvatar(profile.PfpURL),
		FarcasterFID:         profile.FID,
		FarcasterUsername:    profile.Username,
		FarcasterDisplayName: profile.DisplayName,
	}
	primary := profile.VerifiedAddresses.Primary.EthAddress
	if common.IsHexAddress(primary) {
		params.PrimaryAddress = common.HexToAddress(primary).Hex()
	}
	for _, a := range profile.VerifiedAddresses.EthAddresses {
		if common.IsHexAddress(a) {
			params.Addresses = append(params.Addresses, common.HexToAddress(a).Hex())
		}
	}
	u, err := g.users.CreateUser(ctx, params)
	if err != nil {
		return err
	}
	slog.Info("farcaster user saved", "user", u.ID, "fid", profile.FID)
	return nil
}
