package main

import (
	"fmt"
	"io"
	"log"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/echoes-app/echosync/internal/config"
	"github.com/echoes-app/echosync/internal/store"
)

var (
	cfgFile   string
	namespace string
)

var rootCmd = &cobra.Command{
	Use:   "echosync",
	Short: "Local-first echo store with background remote sync",
	Long: `echosync maintains the local SQLite store of echoes (time-boxed
shared albums), their media, collaborators, and activity feed, and
reconciles pending local mutations against the remote backend.

Reads are always served locally; mutations enqueue durable pending ops
that the sync daemon drains in the background.`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (YAML)")
	rootCmd.PersistentFlags().StringVar(&namespace, "namespace", "", "storage namespace (overrides config)")

	rootCmd.AddCommand(daemonCmd)
	rootCmd.AddCommand(syncCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(clearCmd)
	rootCmd.AddCommand(requeueCmd)
}

// loadConfig loads configuration and applies flag overrides.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, err
	}
	if namespace != "" {
		cfg.Namespace = namespace
	}
	return cfg, nil
}

// newLogger builds the shared logger, with rotating file output when
// configured.
func newLogger(cfg *config.Config, prefix string) *log.Logger {
	var w io.Writer = os.Stderr
	if cfg.LogFile != "" {
		w = io.MultiWriter(os.Stderr, &lumberjack.Logger{
			Filename:   cfg.LogFile,
			MaxSize:    10, // megabytes
			MaxBackups: 3,
			MaxAge:     14, // days
		})
	}
	return log.New(w, prefix, log.LstdFlags)
}

// openStore opens the namespace's local database.
func openStore(cfg *config.Config) (*store.Store, error) {
	st, err := store.Open(cfg.DatabasePath(), newLogger(cfg, "[store] "))
	if err != nil {
		return nil, fmt.Errorf("failed to open local store: %w", err)
	}
	return st, nil
}
