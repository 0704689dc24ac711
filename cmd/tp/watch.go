package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/taskpouch/taskpouch/internal/daemon"
	"github.com/taskpouch/taskpouch/internal/dashboard"
)

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Watch the inbox and restore exports as they arrive",
	Long: `Run the synchronization daemon.

The daemon watches the inbox directory for desktop export files
(inbox/*.xml), restores each one into the local database, and moves it
to the processed or failed directory. A WebSocket dashboard broadcasts
restore progress to connected clients.

Example usage:
  tp watch                # Watch with defaults from the config file
  tp watch --port 9000    # Dashboard on a custom port

Connect with a WebSocket client:
  ws://localhost:8711/ws`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		port, _ := cmd.Flags().GetInt("port")
		if port == 0 {
			port = cfg.DashboardPort
		}

		st, err := openStore()
		if err != nil {
			return err
		}
		defer st.Close()

		logger := daemon.NewLogger(cfg.LogFile, cfg.LogMaxSizeMB, cfg.LogMaxBackups)

		server := dashboard.NewServer(&dashboard.Config{
			Port:   port,
			Logger: logger,
		})
		if err := server.Start(); err != nil {
			return fmt.Errorf("failed to start dashboard: %w", err)
		}

		d, err := daemon.New(st, dashboard.NewReporter(server),
			cfg.InboxDir, cfg.ProcessedDir, cfg.FailedDir,
			&daemon.Config{Logger: logger, DebounceInterval: daemon.DefaultConfig().DebounceInterval})
		if err != nil {
			server.Stop()
			return err
		}

		fmt.Printf("Watching %s\n", cfg.InboxDir)
		fmt.Printf("Dashboard: ws://localhost:%d/ws\n", port)
		fmt.Println("Press Ctrl+C to stop...")

		ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer cancel()

		// Push a store snapshot to dashboard clients periodically.
		go func() {
			ticker := time.NewTicker(5 * time.Second)
			defer ticker.Stop()
			for {
				select {
				case <-ctx.Done():
					return
				case <-ticker.C:
					stats, err := st.GetStats(ctx)
					if err != nil {
						logger.Printf("Error reading store stats: %v", err)
						continue
					}
					server.BroadcastStoreStats(stats)
				}
			}
		}()

		runErr := d.Start(ctx)

		if err := server.Stop(); err != nil {
			logger.Printf("Error stopping dashboard: %v", err)
		}
		return runErr
	},
}

func init() {
	watchCmd.Flags().IntP("port", "p", 0, "dashboard port (default from config)")
}
