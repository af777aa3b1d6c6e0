package cmd

import (
	"context"
	"fmt"
	"os"
	"runtime"
	"time"

	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/spf13/cobra"

	"github.com/xbtify/xbtclaw/internal/payment"
	"github.com/xbtify/xbtclaw/internal/store/pg"
	"github.com/xbtify/xbtclaw/internal/transport/xmtpbridge"
	"github.com/xbtify/xbtclaw/internal/upgrade"
)

func doctorCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "doctor",
		Short: "Check configuration, database and chain connectivity",
		Run: func(cmd *cobra.Command, args []string) {
			runDoctor(cmd.Context())
		},
	}
}

func runDoctor(ctx context.Context) {
	fmt.Println("xbtclaw doctor")
	fmt.Printf("  Version:  %s\n", Version)
	fmt.Printf("  OS:       %s/%s\n", runtime.GOOS, runtime.GOARCH)
	fmt.Printf("  Go:       %s\n", runtime.Version())
	fmt.Println()

	cfgPath := resolveConfigPath()
	fmt.Printf("  Config:   %s", cfgPath)
	if _, err := os.Stat(cfgPath); err != nil {
		fmt.Println(" (not found, using defaults and env)")
	} else {
		fmt.Println(" (OK)")
	}
	cfg, err := loadConfig()
	if err != nil {
		fmt.Printf("  Config load error: %s\n", err)
		return
	}
	if err := cfg.Validate(); err != nil {
		fmt.Printf("  Config invalid: %s\n", err)
	}

	fmt.Println()
	fmt.Println("  Secrets:")
	checkSecret("OPENAI_API_KEY", cfg.LLM.APIKey)
	checkSecret("API_KEY", cfg.HTTP.APIKey)
	checkSecret("XMTP_WALLET_KEY", cfg.XMTP.WalletKey)
	checkSecret("NEYNAR_API_KEY", cfg.Neynar.APIKey)
	checkSecret("COINBASE_CDP_CLIENT_API_KEY", cfg.Chain.CoinbaseCDPKey)
	checkSecret("PIMLICO_API_KEY", cfg.Chain.PimlicoKey)
	if cfg.XMTP.WalletKey != "" {
		if addr, err := xmtpbridge.AddressFromKey(cfg.XMTP.WalletKey); err != nil {
			fmt.Printf("    %-28s INVALID (%s)\n", "Agent address:", err)
		} else {
			fmt.Printf("    %-28s %s\n", "Agent address:", addr)
		}
	}

	fmt.Println()
	fmt.Println("  Database:")
	if cfg.Database.PostgresDSN == "" {
		fmt.Printf("    %-12s sqlite (%s)\n", "Backend:", cfg.Database.SQLitePath)
	} else {
		fmt.Printf("    %-12s postgres\n", "Backend:")
		checkPostgres(ctx, cfg.Database.PostgresDSN)
	}

	fmt.Println()
	fmt.Println("  Chain:")
	checkChain(ctx, cfg.RPCEndpoint(), cfg.Chain.ChainID)
	fmt.Println()
}

func checkSecret(name, value string) {
	status := "set"
	if value == "" {
		status = "NOT SET"
	}
	fmt.Printf("    %-28s %s\n", name+":", status)
}

func checkPostgres(ctx context.Context, dsn string) {
	db, err := pg.OpenDB(dsn, 1)
	if err != nil {
		fmt.Printf("    %-12s CONNECT FAILED (%s)\n", "Status:", err)
		return
	}
	defer db.Close()

	s, err := upgrade.CheckSchema(db)
	switch {
	case err != nil:
		fmt.Printf("    %-12s CHECK FAILED (%s)\n", "Schema:", err)
	case s.Compatible:
		fmt.Printf("    %-12s v%d (up to date)\n", "Schema:", s.CurrentVersion)
	default:
		fmt.Printf("    %-12s v%d (%s)\n", "Schema:", s.CurrentVersion, s.Err())
	}

	pending, err := upgrade.PendingHooks(ctx, db)
	if err == nil {
		fmt.Printf("    %-12s %d pending\n", "Data hooks:", len(pending))
	}
}

func checkChain(ctx context.Context, endpoint string, want int64) {
	if endpoint == "" {
		fmt.Printf("    %-12s NOT CONFIGURED\n", "RPC:")
		return
	}
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	client, err := ethclient.DialContext(ctx, endpoint)
	if err != nil {
		fmt.Printf("    %-12s DIAL FAILED (%s)\n", "RPC:", err)
		return
	}
	defer client.Close()

	id, err := client.ChainID(ctx)
	if err != nil {
		fmt.Printf("    %-12s CHAIN ID FAILED (%s)\n", "RPC:", err)
		return
	}
	mark := "OK"
	if id.Int64() != want {
		mark = fmt.Sprintf("MISMATCH, config says %d", want)
	}
	fmt.Printf("    %-12s chain %d (%s)\n", "RPC:", id.Int64(), mark)
	if want == payment.BaseChainID {
		fmt.Printf("    %-12s USDC %s\n", "Token:", payment.BaseUSDCAddress)
	}
}
