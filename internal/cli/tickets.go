package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/buildloop-io/buildloop/internal/config"
)

func newTicketsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "tickets",
		Short: "Manage the ticket store",
	}
	cmd.AddCommand(newTicketsResetCmd())
	return cmd
}

func newTicketsResetCmd() *cobra.Command {
	var yes bool
	cmd := &cobra.Command{
		Use:   "reset",
		Short: "Set every ticket back to todo and clear errors",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			ws := config.MustWorkspaceFrom(ctx)

			cfg, err := config.Load(ws)
			if err != nil {
				return err
			}
			st, err := openStore(cfg.Store)
			if err != nil {
				return err
			}
			defer func() { _ = st.Close() }()

			if !yes && !confirm(cmd, "Reset all tickets to todo?") {
				_, _ = fmt.Fprintln(cmd.OutOrStdout(), "Aborted.")
				return nil
			}
			if err := st.ResetAll(ctx); err != nil {
				return err
			}
			_, _ = fmt.Fprintln(cmd.OutOrStdout(), "All tickets reset to todo.")
			return nil
		},
	}
	cmd.Flags().BoolVarP(&yes, "yes", "y", false, "Skip the confirmation prompt")
	return cmd
}
