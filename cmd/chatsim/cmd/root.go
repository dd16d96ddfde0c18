package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "chatsim",
	Short: "Local chat server for developing against the chatsync SDK",
	Long: `chatsim runs an in-memory chat server that speaks the same REST and
websocket protocol as production, with HS256 bearer tokens it issues itself.`,
	SilenceUsage: true,
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
	rootCmd.PersistentFlags().String("log-level", "info", "log level (debug, info, warn, error)")
}
