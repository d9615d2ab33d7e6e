package agent

import (
	"context"
	"fmt"
	"time"

	"github.com/buildloop-io/buildloop/pkg/models"
)

// StubImplementer is a deterministic local implementer that reports plausible
// token usage without calling any external tool. FailIDs lists ticket ids
// whose implementation should fail.
type StubImplementer struct {
	FailIDs map[string]bool
	Delay   time.Duration
}

func (s StubImplementer) Implement(ctx context.Context, ticket TicketContext, workspace string) (ImplementResult, error) {
	sleep(ctx, s.Delay)
	if ctx.Err() != nil {
		return ImplementResult{}, ctx.Err()
	}
	if s.FailIDs[ticket.ID] {
		return ImplementResult{
			Success:    false,
			TokensUsed: models.TokenUsage{Input: 500, Output: 120},
			Cost:       0.003,
			Error:      fmt.Sprintf("stub: implementation failed for %s", ticket.ID),
		}, nil
	}
	return ImplementResult{
		Success:    true,
		TokensUsed: models.TokenUsage{Input: 1200, Output: 800, CacheCreation: 200, CacheRead: 4000},
		Cost:       0.018,
	}, nil
}

// StubLinter reports a fixed number of fixes and never fails.
type StubLinter struct {
	Fixes int
}

func (s StubLinter) Lint(ctx context.Context, workspace string) (LintResult, error) {
	return LintResult{FixCount: s.Fixes}, nil
}

// StubReviewer approves everything.
type StubReviewer struct{}

func (StubReviewer) Review(ctx context.Context, workspace string, ticket TicketContext) (ReviewResult, error) {
	return ReviewResult{
		FixesApplied: 0,
		IssuesFound:  0,
		TokensUsed:   models.TokenUsage{Input: 600, Output: 150, CacheRead: 2000},
		Cost:         0.004,
	}, nil
}

// StubTester passes after FailFirst failures. FailFirst=0 always passes;
// a large FailFirst exercises retry exhaustion.
type StubTester struct {
	FailFirst int
	calls     int
}

func (s *StubTester) Test(ctx context.Context, prompt string, ticket TicketContext) (TestResult, error) {
	s.calls++
	usage := models.TokenUsage{Input: 900, Output: 300, CacheRead: 1500}
	if s.calls <= s.FailFirst {
		return TestResult{
			Success:    false,
			Output:     fmt.Sprintf("stub: attempt %d failed: expected page to render", s.calls),
			TokensUsed: usage,
			Cost:       0.006,
		}, nil
	}
	return TestResult{Success: true, Output: "stub: all checks passed", TokensUsed: usage, Cost: 0.006}, nil
}

// StubCommitter records commit calls without touching git.
type StubCommitter struct {
	Committed []string
}

func (s *StubCommitter) Commit(ctx context.Context, ticket TicketContext, workspace string) error {
	s.Committed = append(s.Committed, ticket.ID)
	return nil
}

// Stubs returns a full set of stub collaborators for dry runs.
func Stubs() Collaborators {
	return Collaborators{
		Implementer: StubImplementer{},
		Linter:      StubLinter{Fixes: 2},
		Reviewer:    StubReviewer{},
		Tester:      &StubTester{},
	}
}

func sleep(ctx context.Context, d time.Duration) {
	if d <= 0 {
		return
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
