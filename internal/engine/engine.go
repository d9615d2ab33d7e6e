// Package engine is the ticket build state machine. It consumes an ordered
// ticket list, drives each ticket through its lifecycle via the collaborator
// interfaces, and emits an ordered stream of events. The engine never touches
// the ticket store or the terminal: status persistence, commits, and prompting
// are downstream reactions to events.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/buildloop-io/buildloop/internal/agent"
	"github.com/buildloop-io/buildloop/internal/cost"
	"github.com/buildloop-io/buildloop/internal/sorter"
	"github.com/buildloop-io/buildloop/pkg/models"
)

// Options are the run-level settings for one Process call. They are passed
// explicitly; the engine reads no environment or global state.
type Options struct {
	Workspace string
	Review    bool
	Test      bool
	RunID     string
}

// Engine drives tickets through their lifecycle using external collaborators.
type Engine struct {
	Collab agent.Collaborators
}

// New returns an Engine over the given collaborators.
func New(c agent.Collaborators) *Engine {
	return &Engine{Collab: c}
}

// Process validates the configuration and starts the run. Configuration
// errors (missing workspace, missing collaborators) are returned before any
// ticket is dequeued; after that, every ticket-level failure is reported on
// the stream and the run always ends with exactly one BuildComplete. The
// returned channel is unbuffered: the engine suspends at each event until the
// consumer receives it, and closes the channel when the run ends or the
// context is cancelled.
func (e *Engine) Process(ctx context.Context, tickets []models.Ticket, opts Options) (<-chan Event, error) {
	if opts.Workspace == "" {
		return nil, errors.New("workspace is required")
	}
	if fi, err := os.Stat(opts.Workspace); err != nil || !fi.IsDir() {
		return nil, fmt.Errorf("workspace %s is not a directory", opts.Workspace)
	}
	if e.Collab.Implementer == nil {
		return nil, errors.New("implementer collaborator is required")
	}
	if opts.Review && e.Collab.Reviewer == nil {
		return nil, errors.New("reviewer collaborator is required when review is enabled")
	}
	if opts.Test && e.Collab.Tester == nil {
		return nil, errors.New("tester collaborator is required when testing is enabled")
	}

	out := make(chan Event)
	go e.run(ctx, tickets, opts, out)
	return out, nil
}

// ticketOutcome is the folded result of one ticket, across all attempts.
type ticketOutcome struct {
	success  bool
	errMsg   string
	usage    models.TokenUsage
	cost     float64
	attempts int
}

func (e *Engine) run(ctx context.Context, tickets []models.Ticket, opts Options, out chan<- Event) {
	defer close(out)

	// emit suspends until the consumer receives the event. Cancellation while
	// suspended is a hard stop.
	emit := func(ev Event) bool {
		select {
		case out <- ev:
			return true
		case <-ctx.Done():
			return false
		}
	}

	totals := cost.Totals{}
	successCount, failedCount := 0, 0

	for i := range tickets {
		if ctx.Err() != nil {
			return
		}
		tk := tickets[i]
		tk.Status = models.StatusInProgress
		tk.Error = ""
		if !emit(TicketStart{Ticket: tk, Index: i, Total: len(tickets)}) {
			return
		}

		res := e.runTicket(ctx, tk, opts, emit)
		if ctx.Err() != nil {
			// Cancellation aborts the in-flight ticket; its status in the
			// store stays whatever the consumer last wrote.
			return
		}

		totals = totals.Add(res.usage, res.cost)
		if res.success {
			successCount++
			tk.Status = models.StatusDone
		} else {
			failedCount++
			tk.Status = models.StatusError
			tk.Error = res.errMsg
		}
		if !emit(TicketComplete{
			Ticket:     tk,
			Success:    res.success,
			Error:      res.errMsg,
			TokensUsed: res.usage,
			Cost:       res.cost,
			Attempts:   res.attempts,
		}) {
			return
		}
		if !res.success {
			// A failing ticket never aborts the batch; the next TicketStart
			// follows on the next iteration.
			if !emit(Error{Message: res.errMsg, Ticket: &tk}) {
				return
			}
		}
	}

	emit(BuildComplete{
		SuccessCount:    successCount,
		FailedCount:     failedCount,
		TotalTickets:    len(tickets),
		TotalTokensUsed: totals.Usage,
		TotalCost:       totals.Cost,
	})
}

func (e *Engine) runTicket(ctx context.Context, tk models.Ticket, opts Options, emit func(Event) bool) ticketOutcome {
	if tk.Type == models.TypeE2ETest && opts.Test {
		return e.runTestTicket(ctx, tk, opts, emit)
	}

	tctx := ticketContext(tk)
	out := ticketOutcome{attempts: 1}

	emit(Status{Message: "implementing " + tk.ID, Ticket: &tk})
	res, err := e.Collab.Implementer.Implement(ctx, tctx, opts.Workspace)
	if err != nil {
		out.errMsg = err.Error()
		return out
	}
	out.usage = res.TokensUsed
	out.cost = res.Cost
	if !res.Success {
		out.errMsg = res.Error
		if out.errMsg == "" {
			out.errMsg = "implementation failed"
		}
		return out
	}

	if e.Collab.Linter != nil {
		lres, lerr := e.Collab.Linter.Lint(ctx, opts.Workspace)
		switch {
		case ctx.Err() != nil:
			out.errMsg = ctx.Err().Error()
			return out
		case lerr != nil:
			// Lint is best-effort; a failing linter never fails the ticket.
			slog.Warn("lint failed", "ticket", tk.ID, "err", lerr)
		case lres.FixCount > 0:
			emit(Status{Message: fmt.Sprintf("lint fixed %d issues", lres.FixCount), Ticket: &tk})
		}
	}

	if opts.Review && sorter.PhaseName(tk) != "schema" {
		emit(Status{Message: "reviewing " + tk.ID, Ticket: &tk})
		rres, rerr := e.Collab.Reviewer.Review(ctx, opts.Workspace, tctx)
		if rerr != nil {
			out.errMsg = rerr.Error()
			return out
		}
		out.usage = out.usage.Add(rres.TokensUsed)
		out.cost += rres.Cost
		if rres.IssuesFound > 0 {
			emit(Status{Message: fmt.Sprintf("review found %d issues, applied %d fixes", rres.IssuesFound, rres.FixesApplied), Ticket: &tk})
		}
	}

	out.success = true
	return out
}

func ticketContext(tk models.Ticket) agent.TicketContext {
	return agent.TicketContext{
		ID:          tk.ID,
		Title:       tk.Title,
		Description: tk.Description,
		Category:    tk.Category,
	}
}
