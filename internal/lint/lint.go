// Package lint runs the configured lint/format/typecheck commands in the
// workspace. Linting is best-effort: a failing command is logged and skipped,
// never surfaced as a ticket failure.
package lint

import (
	"context"
	"log/slog"
	"os/exec"
	"regexp"
	"strconv"

	"github.com/buildloop-io/buildloop/internal/agent"
)

// fixCountRe matches tool summaries like "fixed 3 problems" or "3 files fixed".
var fixCountRe = regexp.MustCompile(`(?i)(?:fixed\s+(\d+)|(\d+)\s+(?:files?|problems?|issues?)\s+fixed)`)

// Runner executes shell commands via sh -c in the workspace directory.
type Runner struct {
	Commands []string
}

// DefaultCommands is used when no lint configuration is supplied.
var DefaultCommands = []string{"gofmt -w .", "go vet ./..."}

// Lint satisfies agent.Linter. It runs every configured command and sums the
// fix counts the tools report in their output.
func (r Runner) Lint(ctx context.Context, workspace string) (agent.LintResult, error) {
	cmds := r.Commands
	if len(cmds) == 0 {
		cmds = DefaultCommands
	}
	var fixes int
	for _, c := range cmds {
		cmd := exec.CommandContext(ctx, "sh", "-c", c)
		cmd.Dir = workspace
		out, err := cmd.CombinedOutput()
		if err != nil {
			if ctx.Err() != nil {
				return agent.LintResult{FixCount: fixes}, ctx.Err()
			}
			slog.Warn("lint command failed", "cmd", c, "err", err)
			continue
		}
		fixes += parseFixCount(string(out))
	}
	return agent.LintResult{FixCount: fixes}, nil
}

func parseFixCount(output string) int {
	m := fixCountRe.FindStringSubmatch(output)
	if m == nil {
		return 0
	}
	for _, g := range m[1:] {
		if g == "" {
			continue
		}
		if n, err := strconv.Atoi(g); err == nil {
			return n
		}
	}
	return 0
}
