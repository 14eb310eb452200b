// Package cmd defines and implements the CLI commands for the crawler executable.
package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var cfgFile string

// newRootCmd creates and configures the root command.
func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "adaptive-crawler",
		Short: "An adaptive-rate crawler for paginated web APIs.",
		Long: `adaptive-crawler fetches paginated API data while continuously tuning
its request rate and concurrency against observed latency, and shuts
itself down when the upstream signals sustained failure or exhaustion.`,
	}

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is ./config.yaml)")

	cmd.AddCommand(newCrawlCmd())

	return cmd
}

// Execute is the main entry point.
func Execute() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
