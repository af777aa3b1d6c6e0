package config

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
)

func writeFile(t *testing.T, path, data string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(data), 0o600); err != nil {
		t.Fatal(err)
	}
}

func TestLoad_FileEnvFileAndEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.json5")
	writeFile(t, path, `{
		// comments and trailing commas are fine
		app: { url: "https://xbtify.example" },
		http: { port: 8080 },
		trigger: { triggers: ["@xbt", "hey xbt",] },
		chain: { watch_timeout_minutes: 5 },
	}`)
	envFile := filepath.Join(dir, "test.env")
	writeFile(t, envFile, "NEYNAR_API_KEY=from-dotenv\nOPENAI_API_KEY=from-dotenv\n")

	t.Setenv("OPENAI_API_KEY", "from-env")
	t.Setenv("PORT", "9090")
	t.Setenv("XBT_KNOWN_AGENTS", "0xabc, 0xdef ,")
	t.Setenv("INFURA_API_KEY", "infura")

	cfg, err := Load(path, envFile)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	t.Cleanup(func() { os.Unsetenv("NEYNAR_API_KEY") })

	if cfg.App.URL != "https://xbtify.example" {
		t.Errorf("app url = %q", cfg.App.URL)
	}
	if cfg.HTTP.Port != 9090 {
		t.Errorf("port = %d, want env override", cfg.HTTP.Port)
	}
	if cfg.LLM.APIKey != "from-env" {
		t.Errorf("openai key = %q, real env must win over .env", cfg.LLM.APIKey)
	}
	if cfg.Neynar.APIKey != "from-dotenv" {
		t.Errorf("neynar key = %q", cfg.Neynar.APIKey)
	}
	if diff := cmp.Diff([]string{"@xbt", "hey xbt"}, cfg.Trigger.Triggers); diff != "" {
		t.Errorf("triggers (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]string{"0xabc", "0xdef"}, cfg.Membership.KnownAgents); diff != "" {
		t.Errorf("known agents (-want +got):\n%s", diff)
	}
	if cfg.WatchTimeout() != 5*time.Minute {
		t.Errorf("watch timeout = %s", cfg.WatchTimeout())
	}
	if got := cfg.RPCEndpoint(); got != "wss://base-mainnet.infura.io/ws/v3/infura" {
		t.Errorf("rpc endpoint = %q", got)
	}
	if cfg.Dispatch.MaxConcurrent != 32 {
		t.Errorf("max concurrent default = %d", cfg.Dispatch.MaxConcurrent)
	}
}

func TestLoad_MissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.json5"), filepath.Join(t.TempDir(), "absent.env"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Chain.ChainID != 8453 || cfg.Chain.Price != "0.01" {
		t.Errorf("chain defaults = %+v", cfg.Chain)
	}
}

func TestLoad_InvalidFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json5")
	writeFile(t, path, `{ app: `)
	if _, err := Load(path, filepath.Join(t.TempDir(), "absent.env")); err == nil {
		t.Fatal("expected parse error")
	}
}

func TestSecretsNotReadFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json5")
	writeFile(t, path, `{ http: { APIKey: "leaked" }, llm: { APIKey: "leaked" } }`)
	cfg, err := Load(path, filepath.Join(t.TempDir(), "absent.env"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.HTTP.APIKey == "leaked" || cfg.LLM.APIKey == "leaked" {
		t.Error("secret read from config file")
	}
}

func TestValidate(t *testing.T) {
	cfg := Default()
	err := cfg.Validate()
	if err == nil {
		t.Fatal("expected errors for empty secrets")
	}
	for _, want := range []string{"OPENAI_API_KEY", "INFURA_API_KEY", "API_KEY is required"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("error %q does not mention %s", err, want)
		}
	}

	cfg.LLM.APIKey = "k"
	cfg.Chain.RPCURL = "ws://localhost:8546"
	cfg.App.Env = "development"
	if err := cfg.Validate(); err != nil {
		t.Errorf("Validate: %v", err)
	}
}

func TestWatch_ReloadsOnWrite(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.json5")
	writeFile(t, path, `{ trigger: { handle: "xbtify" } }`)
	cfg, err := Load(path, filepath.Join(dir, "absent.env"))
	if err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	got := make(chan *Config, 4)
	go Watch(ctx, path, cfg, func(c *Config) { got <- c })

	// Give the watcher time to register before writing.
	time.Sleep(100 * time.Millisecond)
	writeFile(t, path, `{ trigger: { handle: "clonebot" } }`)

	select {
	case c := <-got:
		if c.Trigger.Handle != "clonebot" {
			t.Errorf("reloaded handle = %q", c.Trigger.Handle)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("no reload observed")
	}
}
