// Package cmd defines and implements the CLI commands for the firmcrawl executable.
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
		Use:   "firmcrawl",
		Short: "A budget-governed crawler for trading firm websites.",
		Long: `firmcrawl discovers, fetches, and extracts structured claims (payout
terms, risk limits, pricing) from the public websites of trading firms,
storing content-addressed evidence and append-only datapoints.`,
	}

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (YAML)")
	cmd.AddCommand(newCrawlCmd())
	cmd.AddCommand(newVersionCmd())
	return cmd
}

// Execute is the main entry point.
func Execute() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
