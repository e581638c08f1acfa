package main

import (
	"github.com/spf13/cobra"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:   "risuto",
	Short: "Event-sourced multi-user task tracker",
	Long: `risuto is an event-sourced task tracker for teams.

Every change to a task is an immutable event appended to a shared log. The
server folds the log into per-task state, enforces per-tag permissions, and
streams committed events to connected clients over websockets. Clients keep
an optimistic local replica that converges to the server's state.

Common usage:
  risuto serve                    # run the sync server
  risuto replay                   # verify the log folds cleanly
  risuto search 'tag:work -done:true'`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Path to config file (default ~/.risuto/config.yaml)")
}
