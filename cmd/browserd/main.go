// Package main implements the browserd CLI entry point: command
// registration and global flags, grounded on the teacher's cmd/nerd/main.go
// rootCmd/PersistentPreRunE structure.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"browserd/internal/logging"
)

var (
	verbose    bool
	hostFlag   string
	portFlag   int
	apiKeyFlag string
	logger     *zap.Logger
)

var rootCmd = &cobra.Command{
	Use:   "browserd",
	Short: "browserd - headless browser automation server",
	Long: `browserd drives a pool of headless-browser sessions over HTTP: create
sessions and pages, dispatch commands against a page, capture console and
network activity, take screenshots, and locate UI elements with a vision
model.

Run "browserd serve" to start the HTTP server.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		logger, err = logging.Init(verbose)
		if err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logger != nil {
			_ = logger.Sync()
		}
	},
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable debug-level logging")
	rootCmd.PersistentFlags().StringVar(&hostFlag, "host", "", "Listen host (or set HOST env)")
	rootCmd.PersistentFlags().IntVar(&portFlag, "port", 0, "Listen port (or set PORT env)")
	rootCmd.PersistentFlags().StringVar(&apiKeyFlag, "api-key", "", "Bearer token required of callers (or set API_KEY env)")
	rootCmd.AddCommand(serveCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
