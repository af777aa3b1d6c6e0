package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/xbtify/xbtclaw/internal/agent"
	"github.com/xbtify/xbtclaw/internal/bus"
	"github.com/xbtify/xbtclaw/internal/config"
	"github.com/xbtify/xbtclaw/internal/content"
	"github.com/xbtify/xbtclaw/internal/dispatch"
	httpapi "github.com/xbtify/xbtclaw/internal/http"
	"github.com/xbtify/xbtclaw/internal/membership"
	"github.com/xbtify/xbtclaw/internal/metrics"
	"github.com/xbtify/xbtclaw/internal/neynar"
	"github.com/xbtify/xbtclaw/internal/payment"
	"github.com/xbtify/xbtclaw/internal/providers"
	"github.com/xbtify/xbtclaw/internal/store"
	"github.com/xbtify/xbtclaw/internal/store/pg"
	"github.com/xbtify/xbtclaw/internal/store/sqlite"
	"github.com/xbtify/xbtclaw/internal/tracing"
	"github.com/xbtify/xbtclaw/internal/transport/xmtpbridge"
	"github.com/xbtify/xbtclaw/internal/trigger"
	"github.com/xbtify/xbtclaw/internal/upgrade"
)

const (
	bridgeReadyTimeout = 60 * time.Second
	shutdownTimeout    = 10 * time.Second
)

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the agent (default command)",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context())
		},
	}
}

func runServe(parent context.Context) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	setupLogging(cfg.Log)
	if err := cfg.Validate(); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := tracing.Setup(ctx, tracing.Config{
		Enabled:     cfg.Telemetry.Enabled,
		Endpoint:    cfg.Telemetry.Endpoint,
		Protocol:    cfg.Telemetry.Protocol,
		Insecure:    cfg.Telemetry.Insecure,
		ServiceName: cfg.Telemetry.ServiceName,
		Version:     Version,
	})
	if err != nil {
		return err
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := shutdownTracing(sctx); err != nil {
			slog.Warn("tracing shutdown", "error", err)
		}
	}()

	stores, err := openStores(ctx, cfg)
	if err != nil {
		return err
	}
	defer stores.Close()

	chain, err := ethclient.DialContext(ctx, cfg.RPCEndpoint())
	if err != nil {
		return fmt.Errorf("dial chain rpc: %w", err)
	}
	defer chain.Close()

	var unlock store.UnlockFunc
	if cfg.Chain.UnlockURL != "" {
		unlock = payment.Unlock(payment.NewWebhookInitializer(cfg.Chain.UnlockURL, cfg.HTTP.APIKey))
	}
	payCfg := payment.Config{
		MinAmount:    cfg.Chain.MinAmount,
		WatchTimeout: cfg.WatchTimeout(),
	}
	if cfg.Chain.Token != "" {
		payCfg.Token = common.HexToAddress(cfg.Chain.Token)
	}
	verifier, err := payment.NewVerifier(chain, stores.Users, stores.Payments, unlock, payCfg)
	if err != nil {
		return err
	}
	defer verifier.CancelAll()

	// Keep the interfaces nil, not typed-nil, when Neynar is not configured.
	var (
		memberProfiles membership.ProfileLookup
		agentProfiles  agent.ProfileLookup
	)
	if cfg.Neynar.APIKey != "" {
		nc := neynar.NewClient(cfg.Neynar.APIKey, cfg.Neynar.APIBase, cfg.Neynar.RPS)
		memberProfiles, agentProfiles = nc, nc
	} else {
		slog.Warn("NEYNAR_API_KEY not set, Farcaster profiles disabled")
	}

	members := membership.New(stores.Users, stores.Groups, memberProfiles, membership.Config{
		KnownAgents: cfg.Membership.KnownAgents,
	})

	provider := providers.NewOpenAIProvider(cfg.LLM.Provider, cfg.LLM.APIKey, cfg.LLM.APIBase, cfg.LLM.Model)
	answerer := agent.NewGenerator(provider, cfg.LLM.Model, agentProfiles, stores.Users).
		WithOptions(cfg.LLM.MaxTokens, cfg.LLM.Temperature)

	msgBus := bus.NewMessageBus(cfg.Dispatch.BusBuffer)
	defer msgBus.Close()

	codecs := content.NewRegistry()
	client, err := xmtpbridge.New(xmtpbridge.Config{
		URL:       cfg.XMTP.BridgeURL,
		Env:       cfg.XMTP.Env,
		WalletKey: cfg.XMTP.WalletKey,
		APIKey:    cfg.XMTP.BridgeAPIKey,
	}, codecs, msgBus)
	if err != nil {
		return err
	}
	if err := client.Start(ctx); err != nil {
		return fmt.Errorf("start xmtp bridge: %w", err)
	}
	defer client.Stop()

	readyCtx, cancelReady := context.WithTimeout(ctx, bridgeReadyTimeout)
	err = client.WaitReady(readyCtx)
	cancelReady()
	if err != nil {
		return fmt.Errorf("wait for xmtp bridge: %w", err)
	}
	members.SetAgent(client.InboxID(), client.Address())
	slog.Info("agent identity", "inbox_id", client.InboxID(), "address", client.Address(), "env", cfg.XMTP.Env)

	disp := dispatch.New(dispatch.Deps{
		Client:   client,
		Codecs:   codecs,
		Detector: newDetector(cfg.Trigger),
		Members:  members,
		Verifier: verifier,
		Answerer: answerer,
	}, dispatch.Config{
		AppURL:  cfg.App.URL,
		Price:   cfg.Chain.Price,
		ChainID: cfg.Chain.ChainID,
		Paymaster: payment.PaymasterKeys{
			CoinbaseCDP: cfg.Chain.CoinbaseCDPKey,
			Pimlico:     cfg.Chain.PimlicoKey,
		},
		WatchTimeout: cfg.WatchTimeout(),
	})

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	metrics.Register(reg)

	server := httpapi.NewServer(cfg.ListenAddr(),
		httpapi.NewRateLimiter(cfg.HTTP.RateLimitRPS, cfg.HTTP.RateLimitBurst), reg)
	httpapi.NewSendHandler(stores.Users, client, cfg.HTTP.APIKey, cfg.IsDevelopment()).RegisterRoutes(server.Mux())

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		bus.Consume(gctx, msgBus, disp, cfg.Dispatch.MaxConcurrent)
		return nil
	})
	g.Go(func() error {
		return server.ListenAndServe(gctx)
	})
	g.Go(func() error {
		return members.RunResync(gctx, client, cfg.Membership.ResyncSchedule)
	})
	g.Go(func() error {
		err := config.Watch(gctx, resolveConfigPath(), cfg, func(next *config.Config) {
			disp.SetDetector(newDetector(next.Trigger))
			members.SetKnownAgents(next.Membership.KnownAgents)
			slog.Info("config reloaded", "hash", next.Hash())
		})
		if err != nil {
			// Hot reload is optional; the agent keeps running without it.
			slog.Warn("config watcher disabled", "error", err)
		}
		return nil
	})

	slog.Info("xbtclaw started", "version", Version, "listen", cfg.ListenAddr(), "chain_id", cfg.Chain.ChainID)
	err = g.Wait()
	slog.Info("xbtclaw stopping", "pending_payments", disp.PendingPayments())
	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

func newDetector(cfg config.TriggerConfig) *trigger.Detector {
	return trigger.New(trigger.Config{
		Triggers:    cfg.Triggers,
		BotMentions: cfg.BotMentions,
		Handle:      cfg.Handle,
		ENSSuffix:   cfg.ENSSuffix,
	})
}

// openStores picks Postgres when DATABASE_URL is set, SQLite otherwise.
// Postgres schemas are migrated (when auto_migrate is on) and checked.
func openStores(ctx context.Context, cfg *config.Config) (*store.Stores, error) {
	if cfg.Database.PostgresDSN == "" {
		slog.Info("using sqlite store", "path", cfg.Database.SQLitePath)
		return sqlite.NewStores(cfg.Database.SQLitePath)
	}

	if cfg.Database.AutoMigrate {
		if err := migrateUp(ctx, cfg.Database.PostgresDSN); err != nil {
			return nil, err
		}
	}
	db, err := pg.OpenDB(cfg.Database.PostgresDSN, 0)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	status, err := upgrade.CheckSchema(db)
	if err != nil {
		db.Close()
		return nil, err
	}
	if err := status.Err(); err != nil {
		db.Close()
		fmt.Fprint(os.Stderr, upgrade.FormatError(status))
		return nil, err
	}
	slog.Info("using postgres store", "schema_version", status.CurrentVersion)
	return pg.NewStores(db), nil
}
