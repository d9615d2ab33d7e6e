package cli

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/buildloop-io/buildloop/internal/agent"
	"github.com/buildloop-io/buildloop/internal/config"
	"github.com/buildloop-io/buildloop/internal/cost"
	"github.com/buildloop-io/buildloop/internal/engine"
	"github.com/buildloop-io/buildloop/internal/git"
	"github.com/buildloop-io/buildloop/internal/lint"
	"github.com/buildloop-io/buildloop/internal/notify"
	"github.com/buildloop-io/buildloop/internal/sorter"
	"github.com/buildloop-io/buildloop/pkg/models"
)

func newBuildCmd() *cobra.Command {
	var (
		review        bool
		test          bool
		dryRun        bool
		haltOnFailure bool
		yes           bool
		commit        bool
	)

	cmd := &cobra.Command{
		Use:   "build",
		Short: "Process pending tickets through the build loop",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			ws := config.MustWorkspaceFrom(ctx)

			cfg, err := config.Load(ws)
			if err != nil {
				return err
			}
			if err := cfg.Validate(); err != nil {
				return err
			}
			if err := cfg.ValidateAgent(dryRun); err != nil {
				return err
			}
			if cmd.Flags().Changed("review") {
				cfg.Review = review
			}
			if cmd.Flags().Changed("test") {
				cfg.Test = test
			}

			rates := cost.DefaultRates()
			if cfg.RatesFile != "" {
				if rates, err = cost.LoadRates(cfg.RatesFile); err != nil {
					return err
				}
			}

			st, err := openStore(cfg.Store)
			if err != nil {
				return err
			}
			defer func() { _ = st.Close() }()

			pending, err := st.Pending(ctx)
			if err != nil {
				return err
			}
			if len(pending) == 0 {
				_, _ = fmt.Fprintln(cmd.OutOrStdout(), "No pending tickets.")
				return nil
			}
			pending = sorter.Sort(pending)

			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "%d pending tickets:\n", len(pending))
			for _, tk := range pending {
				_, _ = fmt.Fprintf(cmd.OutOrStdout(), "  %-16s %s\n", tk.ID, tk.Title)
			}
			if !yes && !confirm(cmd, fmt.Sprintf("Process %d tickets?", len(pending))) {
				_, _ = fmt.Fprintln(cmd.OutOrStdout(), "Aborted.")
				return nil
			}

			collab := buildCollaborators(cfg, rates, dryRun, func(msg string) {
				_, _ = fmt.Fprintf(cmd.OutOrStdout(), "  · %s\n", msg)
			})

			runID := time.Now().UTC().Format("20060102-150405")
			var committer *git.Committer
			if commit && git.IsRepo(ctx, ws) {
				branch := git.BranchName(runID)
				if err := git.EnsureBranch(ctx, ws, branch); err != nil {
					return err
				}
				committer = &git.Committer{Branch: branch}
				_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Committing to branch %s\n", branch)
			}

			// Cancelling unblocks the engine if we stop consuming early.
			ctx, cancel := context.WithCancel(ctx)
			defer cancel()

			events, err := engine.New(collab).Process(ctx, pending, engine.Options{
				Workspace: ws,
				Review:    cfg.Review,
				Test:      cfg.Test,
				RunID:     runID,
			})
			if err != nil {
				return err
			}

			return consumeBuild(ctx, cmd, st, committer, ws, events, haltOnFailure)
		},
	}

	cmd.Flags().BoolVar(&review, "review", false, "Run the reviewer after each implementation")
	cmd.Flags().BoolVar(&test, "test", false, "Run e2e-test tickets through the test retry loop")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "Use stub collaborators instead of the agent binary")
	cmd.Flags().BoolVar(&haltOnFailure, "halt-on-failure", false, "Stop after the first failed ticket")
	cmd.Flags().BoolVarP(&yes, "yes", "y", false, "Skip the confirmation prompt")
	cmd.Flags().BoolVar(&commit, "commit", true, "Commit each successful ticket on a run branch")
	return cmd
}

// buildCollaborators assembles the collaborator set: stubs for dry runs, the
// configured agent binary otherwise. Callers must have rejected a real run
// with no agent command before getting here. Lint always runs locally.
func buildCollaborators(cfg config.Config, rates cost.RateTable, dryRun bool, onStatus func(string)) agent.Collaborators {
	if dryRun {
		return agent.Stubs()
	}
	sub := agent.Subprocess{
		Command:  cfg.Agent.Command,
		Args:     cfg.Agent.Args,
		Timeout:  cfg.Agent.Timeout.Std(),
		Sandbox:  cfg.Agent.Sandbox,
		Rates:    rates,
		OnStatus: onStatus,
	}
	return agent.Collaborators{
		Implementer: sub,
		Linter:      lint.Runner{},
		Reviewer:    sub,
		Tester:      sub,
	}
}

// errHalted distinguishes a requested stop from an engine failure.
var errHalted = errors.New("halted after failed ticket")

// consumeBuild drains the event stream: print progress, persist ticket
// outcomes, commit successes, and summarize the run.
func consumeBuild(ctx context.Context, cmd *cobra.Command, st ticketStore, committer *git.Committer, ws string, events <-chan engine.Event, haltOnFailure bool) error {
	out := cmd.OutOrStdout()
	var complete *engine.BuildComplete
	var failures int

	for ev := range events {
		switch v := ev.(type) {
		case engine.TicketStart:
			_, _ = fmt.Fprintf(out, "[%d/%d] %s: %s\n", v.Index+1, v.Total, v.Ticket.ID, v.Ticket.Title)
			if err := st.UpdateStatus(ctx, v.Ticket.ID, models.StatusInProgress, ""); err != nil {
				_, _ = fmt.Fprintf(cmd.ErrOrStderr(), "warning: persist status: %v\n", err)
			}
		case engine.Status:
			_, _ = fmt.Fprintf(out, "  · %s\n", v.Message)
		case engine.TicketComplete:
			if err := st.UpdateStatus(ctx, v.Ticket.ID, v.Ticket.Status, v.Error); err != nil {
				_, _ = fmt.Fprintf(cmd.ErrOrStderr(), "warning: persist status: %v\n", err)
			}
			if v.Success {
				_, _ = fmt.Fprintf(out, "  ✓ done (%d tokens, $%.4f, %d attempt(s))\n", v.TokensUsed.Total(), v.Cost, v.Attempts)
				if committer != nil {
					tctx := agent.TicketContext{ID: v.Ticket.ID, Title: v.Ticket.Title}
					if err := committer.Commit(ctx, tctx, ws); err != nil {
						_, _ = fmt.Fprintf(cmd.ErrOrStderr(), "warning: commit: %v\n", err)
					}
				}
			} else {
				failures++
				_, _ = fmt.Fprintf(out, "  ✗ failed: %s\n", v.Error)
				if haltOnFailure {
					return errHalted
				}
			}
		case engine.BuildComplete:
			bc := v
			complete = &bc
		}
	}

	if complete == nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return errors.New("build ended without completing")
	}

	_, _ = fmt.Fprintf(out, "\nBuild complete: %d succeeded, %d failed of %d.\n",
		complete.SuccessCount, complete.FailedCount, complete.TotalTickets)
	_, _ = fmt.Fprintf(out, "Tokens: %d (input %d, output %d). Cost: $%.4f.\n",
		complete.TotalTokensUsed.Total(), complete.TotalTokensUsed.Input,
		complete.TotalTokensUsed.Output, complete.TotalCost)

	if n := notify.FromEnv(); n != nil {
		if err := n.Notify(ctx, notify.BuildSummary(*complete)); err != nil {
			_, _ = fmt.Fprintf(cmd.ErrOrStderr(), "warning: notify: %v\n", err)
		}
	}

	if complete.FailedCount > 0 {
		return fmt.Errorf("%d ticket(s) failed", complete.FailedCount)
	}
	return nil
}

// ticketStore is the slice of store.Store the build consumer needs.
type ticketStore interface {
	UpdateStatus(ctx context.Context, id, status, errMsg string) error
}

// confirm prompts on stdin and accepts y/yes.
func confirm(cmd *cobra.Command, prompt string) bool {
	_, _ = fmt.Fprintf(cmd.OutOrStdout(), "%s [y/N] ", prompt)
	sc := bufio.NewScanner(cmd.InOrStdin())
	if !sc.Scan() {
		return false
	}
	switch strings.ToLower(strings.TrimSpace(sc.Text())) {
	case "y", "yes":
		return true
	}
	return false
}
