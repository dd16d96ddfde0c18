package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/vovakirdan/chatsync-sdk/chatsync"
)

var version = "dev"

var rootCmd = &cobra.Command{
	Use:   "chatsync",
	Short: "Terminal client for a chatsync server",
	Long: `chatsync attaches to a chat room, keeps its timeline in sync over the
websocket, and sends messages typed on stdin.`,
	Version:       version,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the root command. It is called by main.main().
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.CompletionOptions.DisableDefaultCmd = true

	rootCmd.PersistentFlags().StringP("config", "c", "", "config file path (YAML)")
	rootCmd.PersistentFlags().String("log-level", "", "override the configured log level")
}

// loadConfig reads the config named by --config and applies flag overrides.
func loadConfig(cmd *cobra.Command) (chatsync.Config, chatsync.Logger, error) {
	path, _ := cmd.Flags().GetString("config")
	cfg, err := chatsync.LoadConfig(path)
	if err != nil {
		return chatsync.Config{}, nil, err
	}
	if level, _ := cmd.Flags().GetString("log-level"); level != "" {
		cfg.LogLevel = level
	}
	return cfg, chatsync.NewLogger(cfg.LogLevel), nil
}
