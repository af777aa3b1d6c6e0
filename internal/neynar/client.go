// Package neynar looks up Farcaster profiles through the Neynar HTTP API.
package neynar

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"golang.org/x/time/rate"
)

const defaultAPIBase = "https://api.neynar.com/v2/farcaster"

// User is the subset of a Neynar profile the agent stores.
type User struct {
	FID               int64             `json:"fid"`
	Username          string            `json:"username"`
	DisplayName       string            `json:"display_name"`
	PfpURL            string            `json:"pfp_url"`
	VerifiedAddresses VerifiedAddresses `json:"verified_addresses"`
}

// VerifiedAddresses lists the wallets verified on the profile.
type VerifiedAddresses struct {
	EthAddresses []string `json:"eth_addresses"`
	Primary      struct {
		EthAddress string `json:"eth_address"`
	} `json:"primary"`
}

// Client is a throttled Neynar API client.
type Client struct {
	apiKey  string
	apiBase string
	client  *http.Client
	limiter *rate.Limiter
}

// NewClient returns a client allowing rps requests per second.
func NewClient(apiKey, apiBase string, rps float64) *Client {
	if apiBase == "" {
		apiBase = defaultAPIBase
	}
	if rps <= 0 {
		rps = 5
	}
	return &Client{
		apiKey:  apiKey,
		apiBase: strings.TrimRight(apiBase, "/"),
		client:  &http.Client{Timeout: 15 * time.Second},
		limiter: rate.NewLimiter(rate.Limit(rps), int(rps)+1),
	}
}

// UserByAddress returns the first profile verified for address, or nil
// when none is.
func (c *Client) UserByAddress(ctx context.Context, address string) (*User, error) {
	q := url.Values{"addresses": {address}}
	var out map[string][]User
	if err := c.get(ctx, "/user/bulk-by-address", q, &out); err != nil {
		return nil, err
	}
	users := out[strings.ToLower(address)]
	if len(users) == 0 {
		return nil, nil
	}
	return &users[0], nil
}

// UserByFID returns the profile for fid, or nil when unknown.
func (c *Client) UserByFID(ctx context.Context, fid int64) (*User, error) {
	q := url.Values{"fids": {strconv.FormatInt(fid, 10)}}
	var out struct {
		Users []User `json:"users"`
	}
	if err := c.get(ctx, "/user/bulk", q, &out); err != nil {
		return nil, err
	}
	if len(out.Users) == 0 {
		return nil, nil
	}
	return &out.Users[0], nil
}

func (c *Client) get(ctx context.Context, path string, q url.Values, out any) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("neynar: rate limit wait: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.apiBase+path+"?"+q.Encode(), nil)
	if err != nil {
		return fmt.Errorf("neynar: create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("x-api-key", c.apiKey)

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("neynar: request failed: %w", err)
	}
	defer resp.Body.Close()

	// Neynar answers 404 for addresses without a profile.
	if resp.StatusCode == http.StatusNotFound {
		return nil
	}
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return fmt.Errorf("neynar: %s: status %d: %s", path, resp.StatusCode, strings.TrimSpace(string(body)))
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("neynar: decode %s: %w", path, err)
	}
	return nil
}

// FormatAvatar swaps the imagedelivery.net variant suffix for a fixed
// 512px rendition. Other URLs pass through.
func FormatAvatar(src string) string {
	if !strings.HasPrefix(src, "https://imagedelivery.net") {
		return src
	}
	for _, suffix := range []string{"/rectcrop3", "/original", "/public"} {
		if strings.HasSuffix(src, suffix) {
			return strings.TrimSuffix(src, suffix) + avatarVariant
		}
	}
	return src
}

const avatarVariant = "/anim=false,fit=contain,f=auto,w=512"
