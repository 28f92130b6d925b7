package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

var statusEchoID string

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show local store and sync queue state",
	Long: `Report what the namespace holds locally and what still needs to
reach the remote: echo counts by lifecycle state, media awaiting upload,
pending ops, and any dead-lettered ops that need attention.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}

		st, err := openStore(cfg)
		if err != nil {
			return err
		}
		defer st.Close()

		ctx := context.Background()

		if statusEchoID != "" {
			e := st.GetByID(statusEchoID)
			if e == nil {
				return fmt.Errorf("echo %s not found", statusEchoID)
			}
			sync, err := st.SyncStatus(ctx, statusEchoID)
			if err != nil {
				return err
			}
			fmt.Printf("Echo:       %s (%q)\n", e.ID, e.Title)
			fmt.Printf("Status:     %s\n", e.Status)
			fmt.Printf("Media:      %d\n", len(e.Media))
			fmt.Printf("Pending:    %d op(s)\n", sync.PendingOps)
			fmt.Printf("Dead:       %d op(s)\n", sync.DeadOps)
			if sync.Synced() {
				fmt.Println("Fully synced.")
			}
			return nil
		}

		echoes := st.GetAll()
		byStatus := map[string]int{}
		for _, e := range echoes {
			byStatus[string(e.Status)]++
		}
		pendingMedia := st.PendingMedia()
		sync, err := st.SyncStatus(ctx, "")
		if err != nil {
			return err
		}

		fmt.Printf("Namespace:  %s\n", cfg.Namespace)
		fmt.Printf("Database:   %s\n", cfg.DatabasePath())
		fmt.Printf("Echoes:     %d", len(echoes))
		if len(echoes) > 0 {
			fmt.Printf(" (ongoing %d, locked %d, unlocked %d)",
				byStatus["ongoing"], byStatus["locked"], byStatus["unlocked"])
		}
		fmt.Println()
		fmt.Printf("Uploads:    %d media file(s) pending\n", len(pendingMedia))
		fmt.Printf("Queue:      %d pending op(s)\n", sync.PendingOps)
		fmt.Printf("Dead:       %d op(s)\n", sync.DeadOps)

		if sync.DeadOps > 0 {
			dead, err := st.Queue().DeadOps(ctx)
			if err != nil {
				return err
			}
			fmt.Println("\nDead-lettered ops (use 'echosync requeue <id>' after fixing):")
			for _, d := range dead {
				fmt.Printf("  [%d] %s/%s %s: %s (failed %s after %d attempts)\n",
					d.ID, d.EntityType, d.Action, d.EntityID, d.Reason,
					d.FailedAt.Local().Format("2006-01-02 15:04:05"), d.Attempts)
			}
		}
		return nil
	},
}

func init() {
	statusCmd.Flags().StringVar(&statusEchoID, "echo", "", "scope status to one echo")
}
