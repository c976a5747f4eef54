// modmail-viewer serves the web API for browsing modmail threads.
package main

import (
	"fmt"
	"os"

	"github.com/d9705996/modmail-viewer/internal/version"
	"github.com/spf13/cobra"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "fatal:", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "modmail-viewer",
		Short:         "Web viewer for modmail threads",
		SilenceUsage:  true,
		SilenceErrors: true,
		// Plain invocation serves, as the container entrypoint expects.
		RunE: func(cmd *cobra.Command, _ []string) error { return serve(cmd.Context()) },
	}
	root.AddCommand(
		newServeCmd(),
		newSessionsCmd(),
		newTenantsCmd(),
		newVersionCmd(),
	)
	return root
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print build information",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "modmail-viewer %s (commit %s, built %s)\n",
				version.Version, version.Commit, version.Date)
		},
	}
}
