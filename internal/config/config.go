package config

import (
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"
)

// Config is the root configuration of the agent.
// Secrets are never read from the config file, only from the environment.
type Config struct {
	App        AppConfig        `json:"app"`
	HTTP       HTTPConfig       `json:"http"`
	XMTP       XMTPConfig       `json:"xmtp"`
	Database   DatabaseConfig   `json:"database"`
	LLM        LLMConfig        `json:"llm"`
	Neynar     NeynarConfig     `json:"neynar"`
	Chain      ChainConfig      `json:"chain"`
	Trigger    TriggerConfig    `json:"trigger"`
	Membership MembershipConfig `json:"membership"`
	Dispatch   DispatchConfig   `json:"dispatch"`
	Log        LogConfig        `json:"log"`
	Telemetry  TelemetryConfig  `json:"telemetry"`
	mu         sync.RWMutex
}

// AppConfig holds values shared by every component.
type AppConfig struct {
	URL string `json:"url"`          // mini-app URL shown in menus and wallet calls
	Env string `json:"env,omitempty"` // NODE_ENV: "development" | "production"
}

// HTTPConfig configures the control-plane listener.
type HTTPConfig struct {
	Host           string  `json:"host"`
	Port           int     `json:"port"`
	APIKey         string  `json:"-"` // from env API_KEY only
	RateLimitRPS   float64 `json:"rate_limit_rps,omitempty"`
	RateLimitBurst int     `json:"rate_limit_burst,omitempty"`
}

// XMTPConfig configures the bridge connection.
type XMTPConfig struct {
	BridgeURL    string `json:"bridge_url"`
	Env          string `json:"env"`
	WalletKey    string `json:"-"` // from env XMTP_WALLET_KEY only
	BridgeAPIKey string `json:"-"` // from env XBT_XMTP_BRIDGE_API_KEY only
}

// DatabaseConfig selects the store backend. PostgresDSN comes from env
// DATABASE_URL only; without it the SQLite file is used.
type DatabaseConfig struct {
	PostgresDSN string `json:"-"`
	SQLitePath  string `json:"sqlite_path,omitempty"`
	AutoMigrate bool   `json:"auto_migrate"`
}

// LLMConfig configures the OpenAI-compatible answer model.
type LLMConfig struct {
	Provider    string  `json:"provider"`
	APIBase     string  `json:"api_base,omitempty"`
	APIKey      string  `json:"-"` // from env OPENAI_API_KEY only
	Model       string  `json:"model"`
	MaxTokens   int     `json:"max_tokens,omitempty"`
	Temperature float64 `json:"temperature,omitempty"`
}

// NeynarConfig configures the Farcaster profile lookup.
type NeynarConfig struct {
	APIKey  string  `json:"-"` // from env NEYNAR_API_KEY only
	APIBase string  `json:"api_base,omitempty"`
	RPS     float64 `json:"rps,omitempty"`
}

// ChainConfig configures payment verification.
type ChainConfig struct {
	RPCURL              string `json:"rpc_url,omitempty"` // must support subscriptions (ws/wss)
	InfuraAPIKey        string `json:"-"`
	ChainID             int64  `json:"chain_id"`
	Token               string `json:"token,omitempty"`
	Price               string `json:"price"`
	MinAmount           string `json:"min_amount"`
	WatchTimeoutMinutes int    `json:"watch_timeout_minutes"`
	UnlockURL           string `json:"unlock_url,omitempty"`
	CoinbaseCDPKey      string `json:"-"`
	PimlicoKey          string `json:"-"`
}

// TriggerConfig lists the phrases that address the agent in groups.
// Hot-reloadable.
type TriggerConfig struct {
	Triggers    []string `json:"triggers,omitempty"`
	BotMentions []string `json:"bot_mentions,omitempty"`
	Handle      string   `json:"handle,omitempty"`
	ENSSuffix   string   `json:"ens_suffix,omitempty"`
}

// MembershipConfig configures the group mirror.
type MembershipConfig struct {
	KnownAgents    []string `json:"known_agents,omitempty"` // hot-reloadable
	ResyncSchedule string   `json:"resync_schedule,omitempty"`
}

// DispatchConfig bounds inbound processing.
type DispatchConfig struct {
	MaxConcurrent int `json:"max_concurrent"`
	BusBuffer     int `json:"bus_buffer"`
}

// LogConfig configures slog.
type LogConfig struct {
	Level  string `json:"level"`
	Format string `json:"format"` // "text" | "json"
}

// TelemetryConfig configures OpenTelemetry export.
type TelemetryConfig struct {
	Enabled     bool   `json:"enabled"`
	Endpoint    string `json:"endpoint,omitempty"`
	Protocol    string `json:"protocol,omitempty"` // "grpc" | "http"
	Insecure    bool   `json:"insecure,omitempty"`
	ServiceName string `json:"service_name,omitempty"`
}

// IsDevelopment reports whether NODE_ENV is "development".
func (c *Config) IsDevelopment() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return strings.EqualFold(c.App.Env, "development")
}

// ListenAddr returns host:port for the HTTP server.
func (c *Config) ListenAddr() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return fmt.Sprintf("%s:%d", c.HTTP.Host, c.HTTP.Port)
}

// RPCEndpoint returns the chain endpoint, building the Infura websocket
// URL from the API key when no explicit URL is set.
func (c *Config) RPCEndpoint() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.Chain.RPCURL != "" {
		return c.Chain.RPCURL
	}
	if c.Chain.InfuraAPIKey != "" {
		return "wss://base-mainnet.infura.io/ws/v3/" + c.Chain.InfuraAPIKey
	}
	return ""
}

// WatchTimeout returns the payment watch timeout.
func (c *Config) WatchTimeout() time.Duration {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return time.Duration(c.Chain.WatchTimeoutMinutes) * time.Minute
}

// Hash returns a short SHA-256 of the config, secrets excluded.
func (c *Config) Hash() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	data, _ := json.Marshal(c)
	h := sha256.Sum256(data)
	return fmt.Sprintf("%x", h[:8])
}
