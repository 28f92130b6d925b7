// Package config loads echosync configuration from an optional YAML
// file and ECHOSYNC_* environment variables.
package config

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds the full runtime configuration.
type Config struct {
	// Namespace partitions local storage per identity. Swapped on
	// sign-in/out/guest-mode changes; each namespace gets its own
	// database file.
	Namespace string `mapstructure:"namespace"`

	// DataDir holds the per-namespace SQLite databases.
	DataDir string `mapstructure:"data_dir"`

	// SpoolDir is where the app stages media files awaiting upload.
	// Empty disables the spool watcher.
	SpoolDir string `mapstructure:"spool_dir"`

	// LogFile enables rotating file logging when set.
	LogFile string `mapstructure:"log_file"`

	Remote RemoteConfig `mapstructure:"remote"`
	Sync   SyncConfig   `mapstructure:"sync"`
}

// RemoteConfig identifies the remote backend.
type RemoteConfig struct {
	ProjectID       string `mapstructure:"project_id"`
	CredentialsFile string `mapstructure:"credentials_file"`
	Bucket          string `mapstructure:"bucket"`
}

// SyncConfig tunes the reconciler and daemon.
type SyncConfig struct {
	Interval    time.Duration `mapstructure:"interval"`
	Debounce    time.Duration `mapstructure:"debounce"`
	OpTimeout   time.Duration `mapstructure:"op_timeout"`
	BaseBackoff time.Duration `mapstructure:"base_backoff"`
	MaxBackoff  time.Duration `mapstructure:"max_backoff"`
}

// Load reads configuration. cfgFile may be empty; environment
// variables override file values.
func Load(cfgFile string) (*Config, error) {
	v := viper.New()

	v.SetDefault("namespace", "default")
	v.SetDefault("data_dir", ".echosync")
	v.SetDefault("spool_dir", "")
	v.SetDefault("log_file", "")
	v.SetDefault("remote.project_id", "")
	v.SetDefault("remote.credentials_file", "")
	v.SetDefault("remote.bucket", "")
	v.SetDefault("sync.interval", 30*time.Second)
	v.SetDefault("sync.debounce", 250*time.Millisecond)
	v.SetDefault("sync.op_timeout", 30*time.Second)
	v.SetDefault("sync.base_backoff", 2*time.Second)
	v.SetDefault("sync.max_backoff", 5*time.Minute)

	v.SetEnvPrefix("ECHOSYNC")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config %s: %w", cfgFile, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if cfg.Namespace == "" {
		return nil, fmt.Errorf("namespace cannot be empty")
	}
	return &cfg, nil
}

// DatabasePath returns the SQLite path for the active namespace.
func (c *Config) DatabasePath() string {
	return filepath.Join(c.DataDir, fmt.Sprintf("echoes-%s.db", c.Namespace))
}
