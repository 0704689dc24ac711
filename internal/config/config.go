// Package config loads the client configuration from file and environment.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

// Config holds every tunable of the synchronization client.
type Config struct {
	// DBPath is the SQLite database file.
	DBPath string `mapstructure:"db_path"`

	// InboxDir is watched for desktop export files.
	InboxDir string `mapstructure:"inbox_dir"`

	// ProcessedDir receives exports after a successful restore.
	ProcessedDir string `mapstructure:"processed_dir"`

	// FailedDir receives exports whose restore failed.
	FailedDir string `mapstructure:"failed_dir"`

	// DashboardPort is the WebSocket dashboard listen port.
	DashboardPort int `mapstructure:"dashboard_port"`

	// LogFile is the daemon log path. Empty means stderr only.
	LogFile string `mapstructure:"log_file"`

	// LogMaxSizeMB rotates the daemon log after this many megabytes.
	LogMaxSizeMB int `mapstructure:"log_max_size_mb"`

	// LogMaxBackups is the number of rotated log files to keep.
	LogMaxBackups int `mapstructure:"log_max_backups"`
}

// DefaultConfig returns the configuration used when nothing is set.
func DefaultConfig() *Config {
	base := dataDir()
	return &Config{
		DBPath:        filepath.Join(base, "taskpouch.db"),
		InboxDir:      filepath.Join(base, "inbox"),
		ProcessedDir:  filepath.Join(base, "processed"),
		FailedDir:     filepath.Join(base, "failed"),
		DashboardPort: 8711,
		LogFile:       filepath.Join(base, "taskpouch.log"),
		LogMaxSizeMB:  10,
		LogMaxBackups: 3,
	}
}

// Load reads configuration from the given file, falling back to
// ~/.taskpouch/config.yaml, then overlays TASKPOUCH_* environment
// variables. A missing config file is not an error; defaults apply.
func Load(path string) (*Config, error) {
	v := viper.New()

	cfg := DefaultConfig()
	v.SetDefault("db_path", cfg.DBPath)
	v.SetDefault("inbox_dir", cfg.InboxDir)
	v.SetDefault("processed_dir", cfg.ProcessedDir)
	v.SetDefault("failed_dir", cfg.FailedDir)
	v.SetDefault("dashboard_port", cfg.DashboardPort)
	v.SetDefault("log_file", cfg.LogFile)
	v.SetDefault("log_max_size_mb", cfg.LogMaxSizeMB)
	v.SetDefault("log_max_backups", cfg.LogMaxBackups)

	v.SetEnvPrefix("TASKPOUCH")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config %s: %w", path, err)
		}
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(dataDir())
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) && !os.IsNotExist(err) {
				return nil, fmt.Errorf("failed to read config: %w", err)
			}
		}
	}

	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	return cfg, nil
}

// dataDir returns the per-user data directory.
func dataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".taskpouch"
	}
	return filepath.Join(home, ".taskpouch")
}
