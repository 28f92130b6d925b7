package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/cobra"
)

var clearForce bool

var clearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Wipe all local data for the namespace",
	Long: `Delete every echo, media record, collaborator, activity, and queued
op in the active namespace. Run on sign-out so data never leaks into
another identity's namespace. Remote data is untouched.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}

		if !clearForce {
			fmt.Printf("This wipes all local data for namespace %q. Continue? [y/N] ", cfg.Namespace)
			reader := bufio.NewReader(os.Stdin)
			answer, _ := reader.ReadString('\n')
			if strings.TrimSpace(strings.ToLower(answer)) != "y" {
				fmt.Println("Aborted.")
				return nil
			}
		}

		st, err := openStore(cfg)
		if err != nil {
			return err
		}
		defer st.Close()

		if err := st.Clear(context.Background()); err != nil {
			return fmt.Errorf("failed to clear namespace: %w", err)
		}
		fmt.Printf("Namespace %q cleared.\n", cfg.Namespace)
		return nil
	},
}

var requeueCmd = &cobra.Command{
	Use:   "requeue <dead-op-id>",
	Short: "Move a dead-lettered op back into the pending queue",
	Long: `Reset a dead-lettered op to attempt zero and return it to the
pending queue. Use after resolving the underlying problem, e.g. after
restoring a media file the OS evicted from the cache.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		deadID, err := strconv.ParseInt(args[0], 10, 64)
		if err != nil {
			return fmt.Errorf("invalid dead op id %q", args[0])
		}

		cfg, err := loadConfig()
		if err != nil {
			return err
		}

		st, err := openStore(cfg)
		if err != nil {
			return err
		}
		defer st.Close()

		if err := st.Queue().Requeue(context.Background(), deadID); err != nil {
			return err
		}
		fmt.Printf("Dead op %d requeued.\n", deadID)
		return nil
	},
}

func init() {
	clearCmd.Flags().BoolVar(&clearForce, "force", false, "skip confirmation prompt")
}
