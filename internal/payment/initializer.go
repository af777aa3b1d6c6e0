package payment

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/xbtify/xbtclaw/internal/store"
)

// Initializer starts the paid feature for a user. It runs after the
// payment claim commits; an error is logged and the claim stands.
type Initializer interface {
	Initialize(ctx context.Context, user *store.UserData, p *store.PaymentData) error
}

// Unlock adapts an Initializer to the store claim hook.
func Unlock(init Initializer) store.UnlockFunc {
	if init == nil {
		return nil
	}
	return init.Initialize
}

// NoopInitializer only logs.
type NoopInitializer struct{}

func (NoopInitializer) Initialize(_ context.Context, user *store.UserData, p *store.PaymentData) error {
	slog.Info("clone creation requested", "user", user.ID, "tx", p.TxHash)
	return nil
}

// WebhookInitializer POSTs the paid user to an external clone builder.
type WebhookInitializer struct {
	URL    string
	APIKey string
	Client *http.Client
}

// NewWebhookInitializer returns an initializer posting to url.
func NewWebhookInitializer(url, apiKey string) *WebhookInitializer {
	return &WebhookInitializer{
		URL:    url,
		APIKey: apiKey,
		Client: &http.Client{Timeout: 15 * time.Second},
	}
}

type webhookPayload struct {
	UserID            string `json:"userId"`
	InboxID           string `json:"inboxId,omitempty"`
	FarcasterFID      int64  `json:"farcasterFid,omitempty"`
	FarcasterUsername string `json:"farcasterUsername,omitempty"`
	TxHash            string `json:"txHash"`
	FromAddress       string `json:"fromAddress"`
	Amount            string `json:"amount"`
}

func (w *WebhookInitializer) Initialize(ctx context.Context, user *store.UserData, p *store.PaymentData) error {
	body, err := json.Marshal(webhookPayload{
		UserID:            user.ID.String(),
		InboxID:           user.InboxID,
		FarcasterFID:      user.FarcasterFID,
		FarcasterUsername: user.FarcasterUsername,
		TxHash:            p.TxHash,
		FromAddress:       p.FromAddress,
		Amount:            p.Amount,
	})
	if err != nil {
		return fmt.Errorf("marshal clone webhook: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.URL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build clone webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if w.APIKey != "" {
		req.Header.Set("x-api-key", w.APIKey)
	}
	client := w.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("clone webhook: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("clone webhook: status %d: %s", resp.StatusCode, bytes.TrimSpace(msg))
	}
	return nil
}
