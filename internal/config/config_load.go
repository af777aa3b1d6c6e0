package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"github.com/titanous/json5"
)

// Default returns a Config with sensible defaults.
func Default() *Config {
	return &Config{
		App: AppConfig{Env: "production"},
		HTTP: HTTPConfig{
			Host:           "0.0.0.0",
			Port:           3000,
			RateLimitRPS:   5,
			RateLimitBurst: 10,
		},
		XMTP: XMTPConfig{
			BridgeURL: "ws://127.0.0.1:5556/ws",
			Env:       "dev",
		},
		Database: DatabaseConfig{
			SQLitePath:  "xbtclaw.db",
			AutoMigrate: true,
		},
		LLM: LLMConfig{
			Provider:    "openai",
			Model:       "gpt-4.1-mini",
			MaxTokens:   1024,
			Temperature: 0.7,
		},
		Neynar: NeynarConfig{RPS: 5},
		Chain: ChainConfig{
			ChainID:             8453,
			Price:               "0.01",
			MinAmount:           "0.01",
			WatchTimeoutMinutes: 30,
		},
		Membership: MembershipConfig{ResyncSchedule: "*/30 * * * *"},
		Dispatch:   DispatchConfig{MaxConcurrent: 32, BusBuffer: 256},
		Log:        LogConfig{Level: "info", Format: "text"},
		Telemetry:  TelemetryConfig{Protocol: "grpc", ServiceName: "xbtclaw"},
	}
}

// Load reads defaults, then the json5 file at path (a missing file is
// fine), then env files (default ".env"; never overriding the real
// environment), then env vars.
func Load(path string, envFiles ...string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case err == nil:
			if err := json5.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("parse config: %w", err)
			}
		case !os.IsNotExist(err):
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	if len(envFiles) == 0 {
		envFiles = []string{".env"}
	}
	for _, f := range envFiles {
		if err := godotenv.Load(f); err != nil && !os.IsNotExist(err) {
			return nil, fmt.Errorf("load %s: %w", f, err)
		}
	}

	cfg.applyEnvOverrides()
	return cfg, nil
}

// applyEnvOverrides overlays env vars onto the config.
// Env vars take precedence over file values.
func (c *Config) applyEnvOverrides() {
	envStr := func(dst *string, keys ...string) {
		for _, key := range keys {
			if v := os.Getenv(key); v != "" {
				*dst = v
				return
			}
		}
	}
	envInt := func(dst *int, keys ...string) {
		for _, key := range keys {
			if v := os.Getenv(key); v != "" {
				if n, err := strconv.Atoi(v); err == nil {
					*dst = n
				}
				return
			}
		}
	}
	envList := func(dst *[]string, key string) {
		if v := os.Getenv(key); v != "" {
			*dst = splitList(v)
		}
	}

	envStr(&c.App.URL, "XBT_APP_URL", "APP_URL")
	envStr(&c.App.Env, "XBT_ENV", "NODE_ENV")

	envStr(&c.HTTP.Host, "XBT_HOST")
	envInt(&c.HTTP.Port, "XBT_PORT", "PORT")
	envStr(&c.HTTP.APIKey, "XBT_API_KEY", "API_KEY")

	envStr(&c.XMTP.BridgeURL, "XBT_XMTP_BRIDGE_URL")
	envStr(&c.XMTP.Env, "XBT_XMTP_ENV", "XMTP_ENV")
	envStr(&c.XMTP.WalletKey, "XBT_XMTP_WALLET_KEY", "XMTP_WALLET_KEY")
	envStr(&c.XMTP.BridgeAPIKey, "XBT_XMTP_BRIDGE_API_KEY")

	envStr(&c.Database.PostgresDSN, "XBT_DATABASE_URL", "DATABASE_URL")
	envStr(&c.Database.SQLitePath, "XBT_SQLITE_PATH")

	envStr(&c.LLM.APIKey, "XBT_OPENAI_API_KEY", "OPENAI_API_KEY")
	envStr(&c.LLM.APIBase, "XBT_OPENAI_API_BASE")
	envStr(&c.LLM.Model, "XBT_MODEL")

	envStr(&c.Neynar.APIKey, "XBT_NEYNAR_API_KEY", "NEYNAR_API_KEY")

	envStr(&c.Chain.RPCURL, "XBT_RPC_URL")
	envStr(&c.Chain.InfuraAPIKey, "XBT_INFURA_API_KEY", "INFURA_API_KEY")
	envStr(&c.Chain.CoinbaseCDPKey, "XBT_COINBASE_CDP_CLIENT_API_KEY", "COINBASE_CDP_CLIENT_API_KEY")
	envStr(&c.Chain.PimlicoKey, "XBT_PIMLICO_API_KEY", "PIMLICO_API_KEY")
	envStr(&c.Chain.UnlockURL, "XBT_UNLOCK_URL")

	envList(&c.Membership.KnownAgents, "XBT_KNOWN_AGENTS")
	envStr(&c.Log.Level, "XBT_LOG_LEVEL")

	if v := os.Getenv("XBT_OTEL_ENDPOINT"); v != "" {
		c.Telemetry.Endpoint = v
		c.Telemetry.Enabled = true
	}
}

func splitList(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// Validate reports every missing required value at once.
func (c *Config) Validate() error {
	c.mu.RLock()
	defer c.mu.RUnlock()

	var errs []error
	if c.XMTP.BridgeURL == "" {
		errs = append(errs, errors.New("xmtp.bridge_url is required"))
	}
	if c.LLM.APIKey == "" {
		errs = append(errs, errors.New("OPENAI_API_KEY is required"))
	}
	if c.Chain.RPCURL == "" && c.Chain.InfuraAPIKey == "" {
		errs = append(errs, errors.New("chain.rpc_url or INFURA_API_KEY is required"))
	}
	if c.Database.PostgresDSN == "" && c.Database.SQLitePath == "" {
		errs = append(errs, errors.New("DATABASE_URL or database.sqlite_path is required"))
	}
	if c.HTTP.APIKey == "" && !strings.EqualFold(c.App.Env, "development") {
		errs = append(errs, errors.New("API_KEY is required outside development"))
	}
	if c.HTTP.Port <= 0 || c.HTTP.Port > 65535 {
		errs = append(errs, fmt.Errorf("http.port %d is out of range", c.HTTP.Port))
	}
	if c.Dispatch.MaxConcurrent < 0 {
		errs = append(errs, errors.New("dispatch.max_concurrent must not be negative"))
	}
	if len(errs) > 0 {
		return fmt.Errorf("invalid config: %w", errors.Join(errs...))
	}
	return nil
}
