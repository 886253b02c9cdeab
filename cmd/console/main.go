// Command console runs the Messenger console server and its maintenance tasks.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"messenger-console/config"
	"messenger-console/logger"
)

var version = "dev"

var rootCmd = &cobra.Command{
	Use:   "console",
	Short: "Multi-tenant Messenger inbox for Facebook Pages",
	Long: `console receives Page webhooks, stores every conversation and serves the
agent inbox over HTTP and WebSocket. The maintenance subcommands share the
same environment configuration as serve.`,
	Version:       version,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.CompletionOptions.DisableDefaultCmd = true
	rootCmd.AddCommand(serveCmd, migrateCmd, createUserCmd, syncPagesCmd, refreshProfilesCmd, archiveCmd)
}

// loadConfig reads the environment and sets up logging for every subcommand.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	logger.Init(logger.Options{
		Level:      cfg.Log.Level,
		File:       cfg.Log.File,
		MaxSizeMB:  cfg.Log.MaxSizeMB,
		MaxBackups: cfg.Log.MaxBackups,
	})
	return cfg, nil
}
