package cmd

import (
	"github.com/spf13/cobra"
)

// version is stamped at build time via -ldflags.
var version = "dev"

// newVersionCmd creates the 'version' subcommand.
func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Prints the firmcrawl version",
		Run: func(cmd *cobra.Command, _ []string) {
			cmd.Printf("firmcrawl %s\n", version)
		},
	}
}
