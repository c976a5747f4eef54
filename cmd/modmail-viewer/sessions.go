package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newSessionsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sessions",
		Short: "Manage login sessions",
	}
	cmd.AddCommand(
		&cobra.Command{
			Use:   "revoke <discord-user-id>",
			Short: "End every session of a user and revoke their Discord grant",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				a, err := bootstrap(cmd.Context())
				if err != nil {
					return err
				}
				defer a.close()
				n, err := a.sessions.InvalidateAllSessions(cmd.Context(), args[0])
				if err != nil {
					return fmt.Errorf("revoke sessions: %w", err)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "revoked %d session(s) for %s\n", n, args[0])
				return nil
			},
		},
		&cobra.Command{
			Use:   "sweep",
			Short: "Delete expired sessions now",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				a, err := bootstrap(cmd.Context())
				if err != nil {
					return err
				}
				defer a.close()
				n, err := a.sessions.SweepExpired(cmd.Context())
				if err != nil {
					return fmt.Errorf("sweep sessions: %w", err)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "deleted %d expired session(s)\n", n)
				return nil
			},
		},
	)
	return cmd
}
