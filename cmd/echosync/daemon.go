package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/echoes-app/echosync/internal/config"
	"github.com/echoes-app/echosync/internal/daemon"
	"github.com/echoes-app/echosync/internal/remote"
	echosync "github.com/echoes-app/echosync/internal/sync"
)

var daemonCmd = &cobra.Command{
	Use:   "daemon",
	Short: "Run the background sync daemon",
	Long: `Run the reconciliation daemon for the active namespace.

The daemon drains pending ops against the remote backend whenever the
local store mutates, when media files land in the spool directory, and
on a periodic sweep. It shuts down cleanly on SIGINT/SIGTERM, leaving
unfinished ops queued for the next run.`,
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

		d, err := daemon.New(reconciler, st, &daemon.Config{
			SyncInterval:     cfg.Sync.Interval,
			DebounceInterval: cfg.Sync.Debounce,
			SpoolDir:         cfg.SpoolDir,
			Logger:           newLogger(cfg, "[daemon] "),
		})
		if err != nil {
			return err
		}

		return d.Start(ctx)
	},
}

// connectRemote builds the production remote clients.
func connectRemote(ctx context.Context, cfg *config.Config) (*remote.FirestoreStore, *remote.CloudStorage, func(), error) {
	if cfg.Remote.ProjectID == "" {
		return nil, nil, nil, fmt.Errorf("remote.project_id is not configured")
	}
	if cfg.Remote.Bucket == "" {
		return nil, nil, nil, fmt.Errorf("remote.bucket is not configured")
	}

	docs, err := remote.NewFirestore(ctx, cfg.Remote.ProjectID, cfg.Remote.CredentialsFile)
	if err != nil {
		return nil, nil, nil, err
	}
	blobs, err := remote.NewCloudStorage(ctx, cfg.Remote.Bucket, cfg.Remote.CredentialsFile)
	if err != nil {
		_ = docs.Close()
		return nil, nil, nil, err
	}

	closeAll := func() {
		_ = blobs.Close()
		_ = docs.Close()
	}
	return docs, blobs, closeAll, nil
}
