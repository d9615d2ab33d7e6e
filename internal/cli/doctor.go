package cli

import (
	"errors"
	"fmt"
	"os/exec"

	"github.com/spf13/cobra"

	"github.com/buildloop-io/buildloop/internal/config"
)

func newDoctorCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "doctor",
		Short: "Verify runtime dependencies",
		RunE: func(cmd *cobra.Command, args []string) error {
			ws := config.MustWorkspaceFrom(cmd.Context())

			var problems []string

			// git is required for per-ticket commits.
			if _, err := exec.LookPath("git"); err != nil {
				problems = append(problems, "missing dependency: git (not found on PATH)")
			}

			cfg, err := config.Load(ws)
			if err != nil {
				problems = append(problems, err.Error())
			} else {
				if err := cfg.Validate(); err != nil {
					problems = append(problems, err.Error())
				}
				if cfg.Agent.Command != "" {
					if _, err := exec.LookPath(cfg.Agent.Command); err != nil {
						problems = append(problems, fmt.Sprintf("agent command %q not found on PATH", cfg.Agent.Command))
					}
				}
				if cfg.Agent.Sandbox {
					if _, err := exec.LookPath("bwrap"); err != nil {
						problems = append(problems, "sandbox enabled but bwrap not found on PATH")
					}
				}
			}

			if len(problems) > 0 {
				for _, p := range problems {
					_, _ = fmt.Fprintln(cmd.ErrOrStderr(), p)
				}
				return errors.New("doctor checks failed")
			}

			_, _ = fmt.Fprintln(cmd.OutOrStdout(), "ok")
			return nil
		},
	}
	return cmd
}
