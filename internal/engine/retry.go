package engine

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/buildloop-io/buildloop/internal/agent"
	"github.com/buildloop-io/buildloop/pkg/models"
)

// maxTestAttempts bounds the test retry loop: at most 3 Tester runs and 2
// corrective Implementer runs per ticket. Every ticket gets a fresh budget.
const maxTestAttempts = 3

// runTestTicket runs the bounded retry loop for an end-to-end test ticket.
// A failed test is structured input to the next attempt: its output is folded
// into a synthesized corrective ticket routed through the Implementer before
// the test runs again. All attempt usage accrues to the parent ticket.
func (e *Engine) runTestTicket(ctx context.Context, tk models.Ticket, opts Options, emit func(Event) bool) ticketOutcome {
	tctx := ticketContext(tk)
	out := ticketOutcome{}
	var lastOutput string

	for attempt := 1; attempt <= maxTestAttempts; attempt++ {
		out.attempts = attempt
		emit(Status{Message: fmt.Sprintf("running end-to-end test %s (attempt %d/%d)", tk.ID, attempt, maxTestAttempts), Ticket: &tk})

		res, err := e.Collab.Tester.Test(ctx, testPrompt(tk), tctx)
		if err != nil {
			if ctx.Err() != nil {
				out.errMsg = err.Error()
				return out
			}
			lastOutput = err.Error()
		} else {
			out.usage = out.usage.Add(res.TokensUsed)
			out.cost += res.Cost
			if res.Success {
				out.success = true
				return out
			}
			lastOutput = res.Output
		}

		if attempt == maxTestAttempts {
			break
		}

		fix := correctiveTicket(tk, attempt, lastOutput)
		emit(Status{Message: "test failed, attempting fix via " + fix.ID, Ticket: &tk})
		ires, ierr := e.Collab.Implementer.Implement(ctx, fix, opts.Workspace)
		if ierr != nil {
			if ctx.Err() != nil {
				out.errMsg = ierr.Error()
				return out
			}
			// The re-run may still pass; keep going until the budget is spent.
			slog.Warn("corrective implementation failed", "ticket", tk.ID, "fix", fix.ID, "err", ierr)
			continue
		}
		out.usage = out.usage.Add(ires.TokensUsed)
		out.cost += ires.Cost
	}

	out.errMsg = fmt.Sprintf("test failed after %d attempts: %s", maxTestAttempts, lastOutput)
	return out
}

// correctiveTicket synthesizes the implementation sub-ticket for one failed
// test attempt, embedding the failure output and the original intent.
func correctiveTicket(tk models.Ticket, attempt int, failure string) agent.TicketContext {
	return agent.TicketContext{
		ID:    fmt.Sprintf("%s-fix-%d", tk.ID, attempt),
		Title: "Fix failing test: " + tk.Title,
		Description: fmt.Sprintf(
			"The end-to-end test failed with the following output:\n\n%s\n\nOriginal ticket description:\n%s",
			failure, tk.Description),
		Category: tk.Category,
	}
}

func testPrompt(tk models.Ticket) string {
	if tk.Description != "" {
		return tk.Description
	}
	return tk.Title
}
