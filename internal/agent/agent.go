// Package agent defines the collaborator interfaces the engine drives and the
// adapters that implement them: deterministic stubs for tests and dry runs,
// and subprocess adapters that invoke an external agent binary.
package agent

import (
	"context"

	"github.com/buildloop-io/buildloop/pkg/models"
)

// TicketContext is the slice of a ticket a collaborator needs. The engine
// never hands collaborators the full ticket record.
type TicketContext struct {
	ID          string `json:"id"`
	Title       string `json:"title"`
	Description string `json:"description"`
	Category    string `json:"category,omitempty"`
}

// ImplementResult reports one implementation attempt.
type ImplementResult struct {
	Success    bool
	TokensUsed models.TokenUsage
	Cost       float64
	Error      string
}

// Implementer produces code changes for one ticket in the workspace.
type Implementer interface {
	Implement(ctx context.Context, ticket TicketContext, workspace string) (ImplementResult, error)
}

// LintResult reports how many issues a lint pass fixed.
type LintResult struct {
	FixCount int
}

// Linter validates and normalizes the workspace. Best-effort: the engine
// never fails a ticket on a lint error.
type Linter interface {
	Lint(ctx context.Context, workspace string) (LintResult, error)
}

// ReviewResult reports a review pass over the workspace diff.
type ReviewResult struct {
	FixesApplied int
	IssuesFound  int
	TokensUsed   models.TokenUsage
	Cost         float64
}

// Reviewer inspects the workspace diff against the ticket's intent.
type Reviewer interface {
	Review(ctx context.Context, workspace string, ticket TicketContext) (ReviewResult, error)
}

// TestResult reports one end-to-end test run. Output carries the raw tool
// output; on failure the retry loop feeds it into the corrective ticket.
type TestResult struct {
	Success    bool
	Output     string
	TokensUsed models.TokenUsage
	Cost       float64
}

// Tester executes an end-to-end check for the expected behavior.
type Tester interface {
	Test(ctx context.Context, prompt string, ticket TicketContext) (TestResult, error)
}

// Committer durably records workspace changes for one ticket.
type Committer interface {
	Commit(ctx context.Context, ticket TicketContext, workspace string) error
}

// Collaborators bundles everything the engine needs to run a ticket.
type Collaborators struct {
	Implementer Implementer
	Linter      Linter
	Reviewer    Reviewer
	Tester      Tester
}
