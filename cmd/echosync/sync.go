package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	echosync "github.com/echoes-app/echosync/internal/sync"
)

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Run a single reconciliation pass",
	Long: `Drain due pending ops against the remote backend once, then exit.

Useful for cron-style setups and for forcing a pass without the daemon.
Ops that fail transiently stay queued with their backoff window pushed
out; a nonzero exit means at least one op did not drain.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		st, err := openStore(cfg)
		if err != nil {
			return err
		}
		defer st.Close()

		docs, blobs, closeRemote, err := connectRemote(ctx, cfg)
		if err != nil {
			return err
		}
		defer closeRemote()

		reconciler := echosync.New(st, st.Queue(), docs, blobs, echosync.Config{
			OpTimeout:   cfg.Sync.OpTimeout,
			BaseBackoff: cfg.Sync.BaseBackoff,
			MaxBackoff:  cfg.Sync.MaxBackoff,
		}, newLogger(cfg, "[sync] "))

		if err := reconciler.ProcessPendingOps(ctx); err != nil {
			return fmt.Errorf("reconciliation pass incomplete: %w", err)
		}

		status, err := st.SyncStatus(ctx, "")
		if err != nil {
			return err
		}
		fmt.Printf("Pass complete: %d pending, %d dead-lettered\n", status.PendingOps, status.DeadOps)
		return nil
	},
}
