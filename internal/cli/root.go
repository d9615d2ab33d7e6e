// Package cli wires the buildloop commands: build runs the engine against
// the local workspace, serve exposes it over HTTP.
package cli

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/buildloop-io/buildloop/internal/config"
)

func NewRootCmd(version string) *cobra.Command {
	var workspaceOverride string

	cmd := &cobra.Command{
		Use:          "buildloop",
		Short:        "Ticket-driven build orchestration",
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			ws, err := config.ResolveWorkspace(workspaceOverride)
			if err != nil {
				return err
			}
			cmd.SetContext(config.WithWorkspace(cmd.Context(), ws))
			return nil
		},
	}

	cmd.PersistentFlags().StringVar(&workspaceOverride, "workspace", "", "Workspace directory (default: current directory, env: BUILDLOOP_WORKSPACE)")

	cmd.AddCommand(newBuildCmd())
	cmd.AddCommand(newServeCmd())
	cmd.AddCommand(newStatusCmd())
	cmd.AddCommand(newTicketsCmd())
	cmd.AddCommand(newDoctorCmd())

	cmd.SetOut(os.Stdout)
	cmd.SetErr(os.Stderr)

	cmd.SetVersionTemplate("{{.Version}}\n")
	if version != "" {
		cmd.Version = version
	} else {
		cmd.Version = "dev"
	}

	return cmd
}
