// Package git is the commit collaborator: thin wrappers over the git CLI that
// durably record workspace changes after a ticket completes.
package git

import (
	"context"
	"fmt"
	"os/exec"
	"strings"

	"github.com/buildloop-io/buildloop/internal/agent"
)

// BranchName returns the buildloop branch name for a run: buildloop/<runID>.
func BranchName(runID string) string {
	return "buildloop/" + strings.ReplaceAll(runID, " ", "-")
}

// IsRepo reports whether workspace is inside a git work tree.
func IsRepo(ctx context.Context, workspace string) bool {
	if workspace == "" {
		return false
	}
	cmd := exec.CommandContext(ctx, "git", "rev-parse", "--is-inside-work-tree")
	cmd.Dir = workspace
	out, err := cmd.Output()
	return err == nil && strings.TrimSpace(string(out)) == "true"
}

// HasChanges reports whether the workspace has uncommitted changes (staged,
// unstaged, or untracked).
func HasChanges(ctx context.Context, workspace string) (bool, error) {
	cmd := exec.CommandContext(ctx, "git", "status", "--porcelain")
	cmd.Dir = workspace
	out, err := cmd.Output()
	if err != nil {
		return false, fmt.Errorf("git status: %w", err)
	}
	return strings.TrimSpace(string(out)) != "", nil
}

// EnsureBranch checks out branch, creating it if it does not exist. No-op if
// branch is empty.
func EnsureBranch(ctx context.Context, workspace, branch string) error {
	if branch == "" {
		return nil
	}
	co := exec.CommandContext(ctx, "git", "checkout", branch)
	co.Dir = workspace
	if _, err := co.CombinedOutput(); err == nil {
		return nil
	}
	cob := exec.CommandContext(ctx, "git", "checkout", "-b", branch)
	cob.Dir = workspace
	if out, err := cob.CombinedOutput(); err != nil {
		return fmt.Errorf("git checkout -b %s: %w: %s", branch, err, string(out))
	}
	return nil
}

// Diff returns git diff baseRef..headRef in workspace (review context).
// headRef defaults to HEAD; an empty workspace is a no-op.
func Diff(ctx context.Context, workspace, baseRef, headRef string) (string, error) {
	if workspace == "" {
		return "", nil
	}
	if headRef == "" {
		headRef = "HEAD"
	}
	if baseRef == "" {
		baseRef = "HEAD~1"
	}
	cmd := exec.CommandContext(ctx, "git", "diff", baseRef+".."+headRef)
	cmd.Dir = workspace
	out, err := cmd.Output()
	if err != nil {
		return "", fmt.Errorf("git diff: %w", err)
	}
	return string(out), nil
}

// Committer satisfies agent.Committer by staging everything and committing
// with a ticket-derived message. If Branch is set, the commit lands on that
// branch (created on first use).
type Committer struct {
	Branch string
}

// Commit stages all changes and commits them. A workspace with nothing to
// commit is not an error; the commit is simply skipped.
func (c Committer) Commit(ctx context.Context, ticket agent.TicketContext, workspace string) error {
	if workspace == "" {
		return fmt.Errorf("workspace required for commit")
	}
	if err := EnsureBranch(ctx, workspace, c.Branch); err != nil {
		return err
	}
	add := exec.CommandContext(ctx, "git", "add", "-A")
	add.Dir = workspace
	if out, err := add.CombinedOutput(); err != nil {
		return fmt.Errorf("git add: %w: %s", err, string(out))
	}
	changed, err := HasChanges(ctx, workspace)
	if err != nil {
		return err
	}
	if !changed {
		return nil
	}
	msg := fmt.Sprintf("%s: %s", ticket.ID, ticket.Title)
	commit := exec.CommandContext(ctx, "git", "commit", "-m", msg)
	commit.Dir = workspace
	if out, err := commit.CombinedOutput(); err != nil {
		return fmt.Errorf("git commit: %w: %s", err, string(out))
	}
	return nil
}
