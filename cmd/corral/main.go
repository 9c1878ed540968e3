package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/corralproject/corral/pkg/api"
	"github.com/corralproject/corral/pkg/cluster"
	"github.com/corralproject/corral/pkg/config"
	"github.com/corralproject/corral/pkg/gateway"
	"github.com/corralproject/corral/pkg/log"
	"github.com/corralproject/corral/pkg/quota"
	"github.com/corralproject/corral/pkg/scheduler"
)

var (
	// Version information (set via ldflags during build)
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "corral",
	Short: "Corral - GPU allocation with monthly time quotas",
	Long: `Corral allocates scarce GPU devices across a small cluster of hosts,
enforcing a monthly time-quota per user and reclaiming devices from
users whose quota is exhausted.

A single binary acts as the tracking daemon (corral serve) and as the
command-line client (corral quota, corral alloc, corral runtime).`,
	Version: Version,
}

func init() {
	rootCmd.SetVersionTemplate(fmt.Sprintf(
		"Corral version %s\nCommit: %s\nBuilt: %s\n",
		Version, Commit, BuildTime,
	))

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(quotaCmd)
	rootCmd.AddCommand(runtimeCmd)
	rootCmd.AddCommand(allocCmd)
	rootCmd.AddCommand(syncCmd)
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the Corral daemon",
	Long: `Run the Corral daemon: track cluster occupancy over SSH, debit user
quotas, and serve the HTTP allocation API.`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().StringP("config", "c", "/etc/corral/config.yaml", "Path to config file")
}

func runServe(cmd *cobra.Command, args []string) error {
	configPath, _ := cmd.Flags().GetString("config")

	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	log.Init(log.Config{
		Level:      log.Level(cfg.Log.Level),
		JSONOutput: cfg.Log.JSON,
	})
	logger := log.WithComponent("main")

	pool, err := gateway.NewPool(gateway.Config{
		User:           cfg.SSH.User,
		KeyPath:        cfg.SSH.KeyPath,
		ConnectTimeout: cfg.SSH.ConnectTimeout(),
		ExecTimeout:    cfg.SSH.ExecTimeout(),
	})
	if err != nil {
		return fmt.Errorf("failed to initialize gateway: %w", err)
	}
	defer pool.Close()

	tracker := cluster.NewTracker(pool, cfg.Hosts)
	ledger := quota.NewLedger(cfg.Quota.DataDir, cfg.Quota.SeedPath)

	sched := scheduler.New(scheduler.Config{
		SyncInterval:      cfg.SyncInterval(),
		DumpInterval:      cfg.DumpInterval(),
		ForceSyncDeadtime: cfg.ForceSyncDeadtime(),
	}, tracker, ledger, pool)

	if err := sched.Start(); err != nil {
		return fmt.Errorf("failed to start scheduler: %w", err)
	}

	server := api.NewServer(sched, cfg.ListenAddr)
	errCh := make(chan error, 1)
	go func() {
		errCh <- server.Start()
	}()

	logger.Info().Str("version", Version).Int("hosts", len(cfg.Hosts)).Msg("corral daemon started")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		logger.Info().Str("signal", sig.String()).Msg("shutting down")
	case err := <-errCh:
		if err != nil {
			logger.Error().Err(err).Msg("api server exited")
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Stop(ctx); err != nil {
		logger.Error().Err(err).Msg("api shutdown failed")
	}
	sched.Stop()

	logger.Info().Msg("corral daemon stopped")
	return nil
}
