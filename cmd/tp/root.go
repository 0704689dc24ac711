package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/taskpouch/taskpouch/internal/config"
	"github.com/taskpouch/taskpouch/internal/store"
)

var (
	cfgFile string
	cfg     *config.Config
)

var rootCmd = &cobra.Command{
	Use:   "tp",
	Short: "Desktop synchronization client for taskpouch",
	Long: `taskpouch keeps a local copy of the desktop task tree.

The desktop application exports its full state as an XML document. tp
restores such exports into a local SQLite database, either one file at a
time (tp restore) or continuously from an inbox directory (tp watch).

A restore is all-or-nothing per entity: every category, task and effort
commits in its own transaction, and re-delivered entities update in
place instead of duplicating.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		cfg, err = config.Load(cfgFile)
		if err != nil {
			return err
		}
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default ~/.taskpouch/config.yaml)")
	rootCmd.PersistentFlags().String("db", "", "database file (overrides config)")

	rootCmd.AddCommand(restoreCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(watchCmd)
}

// openStore opens the configured database and ensures the schema exists.
func openStore() (*store.Store, error) {
	path := cfg.DBPath
	if flag, _ := rootCmd.PersistentFlags().GetString("db"); flag != "" {
		path = flag
	}

	st, err := store.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database %s: %w", path, err)
	}
	if err := st.InitSchema(); err != nil {
		st.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return st, nil
}
