// Package main is the entry point for the repoview CLI.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// Version information set at build time.
var version = "0.5.0"

func newRootCmd() *cobra.Command {
	var flags buildFlags

	root := &cobra.Command{
		Use:   "repoview [flags] <repodir>",
		Short: "Static HTML pages for an RPM repository",
		Long: `repoview reads the metadata of an RPM repository and writes browsable
HTML pages for its groups and packages. Pages whose content has not changed
since the previous run are left untouched.`,
		Args:          cobra.MaximumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 0 {
				return cmd.Help()
			}
			return runBuild(cmd, &flags, args[0])
		},
	}
	flags.register(root)

	root.AddCommand(newBuildCmd())
	root.AddCommand(newWatchCmd())
	root.AddCommand(newStateCmd())
	root.AddCommand(newVersionCmd())

	return root
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
