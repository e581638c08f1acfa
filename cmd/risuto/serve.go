package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/Ekleog/risuto/internal/config"
	"github.com/Ekleog/risuto/internal/server"
	"github.com/Ekleog/risuto/internal/store"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the sync server",
	Long: `Run the sync server: open the event log, fold it into projections, and
serve websocket sync sessions.

Clients connect to ws://host:port/ws?user=<name>&since=<position>. The server
replays the committed backlog after the given position, sends a caught_up
marker, then streams live commits the session's user is allowed to read.

Example usage:
  risuto serve                   # listen on the configured port (default 8092)
  risuto serve --port 9000       # override the port`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(configPath)
		if err != nil {
			return err
		}
		if cmd.Flags().Changed("port") {
			cfg.Server.Port, _ = cmd.Flags().GetInt("port")
		}
		logger := config.NewLogger(cfg.Log)

		ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer cancel()

		st, err := store.Open(cfg.Database.Path)
		if err != nil {
			return fmt.Errorf("open store: %w", err)
		}
		defer st.Close()
		if err := st.InitSchema(ctx); err != nil {
			return fmt.Errorf("init schema: %w", err)
		}

		coord, err := server.NewCoordinator(ctx, st, logger)
		if err != nil {
			return fmt.Errorf("start coordinator: %w", err)
		}
		if tz := cfg.Query.Timezone; tz != "" {
			if err := coord.SetTimezone(tz); err != nil {
				return err
			}
		}

		srv := server.NewServer(coord, &server.Config{Port: cfg.Server.Port, Logger: logger})
		if err := srv.Start(); err != nil {
			return fmt.Errorf("start server: %w", err)
		}

		// Changes to the config file are picked up on the fly where they can
		// be; the rest take effect on restart.
		if watcher, werr := config.NewWatcher(configOrDefault()); werr == nil {
			werr = watcher.Start(func(next *config.Config) {
				if tz := next.Query.Timezone; tz != "" {
					if err := coord.SetTimezone(tz); err != nil {
						logger.Printf("[serve] config reload: %v", err)
						return
					}
				}
				logger.Printf("[serve] config reloaded")
			}, func(err error) {
				logger.Printf("[serve] config watch: %v", err)
			})
			if werr == nil {
				defer watcher.Stop()
			}
		}

		fmt.Printf("Sync server started on http://localhost:%d\n", cfg.Server.Port)
		fmt.Printf("WebSocket endpoint: ws://localhost:%d/ws\n", cfg.Server.Port)
		fmt.Printf("Snapshot endpoint: http://localhost:%d/snapshot\n", cfg.Server.Port)
		fmt.Println("\nPress Ctrl+C to stop...")

		<-ctx.Done()

		fmt.Println("\nShutting down sync server...")
		if err := srv.Stop(); err != nil {
			return fmt.Errorf("shutdown: %w", err)
		}
		fmt.Println("Sync server stopped")
		return nil
	},
}

func configOrDefault() string {
	if configPath != "" {
		return configPath
	}
	return config.DefaultPath()
}

func init() {
	serveCmd.Flags().IntP("port", "p", 8092, "Port to listen on")
	rootCmd.AddCommand(serveCmd)
}
