package agent

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os/exec"
	"strings"
	"time"

	"github.com/buildloop-io/buildloop/internal/cost"
	"github.com/buildloop-io/buildloop/internal/sandbox"
	"github.com/buildloop-io/buildloop/pkg/models"
)

// Subprocess runs an external agent binary for implement, review, and test
// actions: stdin = one JSON request line, stdout = NDJSON progress lines.
// If Sandbox is true (and bubblewrap is available on Linux), the binary runs
// with only the workspace writable.
type Subprocess struct {
	Command string
	Args    []string
	Timeout time.Duration // 0 = context only
	Sandbox bool
	Rates   cost.RateTable // prices usage when the binary reports none
	// OnStatus receives intermediate status lines; optional.
	OnStatus func(message string)
}

// request is the JSON the agent binary reads from stdin.
type request struct {
	Action    string        `json:"action"` // implement | review | test
	Ticket    TicketContext `json:"ticket"`
	Workspace string        `json:"workspace,omitempty"`
	Prompt    string        `json:"prompt,omitempty"`
}

// wireEvent is one NDJSON line from the agent binary. Unknown types are
// ignored so newer binaries keep working with older buildloop.
type wireEvent struct {
	Type    string `json:"type"` // status | usage | result
	Message string `json:"message,omitempty"`

	Usage *models.TokenUsage `json:"usage,omitempty"`

	Success      bool    `json:"success,omitempty"`
	Result       string  `json:"output,omitempty"`
	Error        string  `json:"error,omitempty"`
	Cost         float64 `json:"cost,omitempty"`
	FixesApplied int     `json:"fixesApplied,omitempty"`
	IssuesFound  int     `json:"issuesFound,omitempty"`
}

// turnOutcome is the folded result of one subprocess run.
type turnOutcome struct {
	success      bool
	output       string
	errMsg       string
	usage        models.TokenUsage
	cost         float64
	fixesApplied int
	issuesFound  int
	sawResult    bool
}

func (s Subprocess) run(ctx context.Context, req request) (turnOutcome, error) {
	if s.Command == "" {
		return turnOutcome{}, errors.New("agent command is required")
	}
	if s.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.Timeout)
		defer cancel()
	}

	var cmd *exec.Cmd
	if s.Sandbox {
		cmd = sandbox.WrapCommand(ctx, req.Workspace, s.Command, s.Args)
	} else {
		cmd = exec.CommandContext(ctx, s.Command, s.Args...)
	}
	if req.Workspace != "" {
		cmd.Dir = req.Workspace
	}

	reqJSON, err := json.Marshal(req)
	if err != nil {
		return turnOutcome{}, err
	}
	cmd.Stdin = strings.NewReader(string(reqJSON) + "\n")
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return turnOutcome{}, err
	}
	if err := cmd.Start(); err != nil {
		return turnOutcome{}, err
	}
	defer func() {
		if ctx.Err() != nil && cmd.Process != nil {
			_ = cmd.Process.Kill()
		}
		if err := cmd.Wait(); err != nil {
			slog.Warn("agent subprocess exited with error", "action", req.Action, "err", err)
		}
	}()

	var out turnOutcome
	var raw strings.Builder
	sc := bufio.NewScanner(stdout)
	sc.Buffer(make([]byte, 0, 64*1024), 1<<20)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		var ev wireEvent
		if err := json.Unmarshal([]byte(line), &ev); err != nil {
			raw.WriteString(line)
			raw.WriteString("\n")
			continue
		}
		switch ev.Type {
		case "status":
			if s.OnStatus != nil && ev.Message != "" {
				s.OnStatus(ev.Message)
			}
		case "usage":
			if ev.Usage != nil {
				out.usage = out.usage.Add(*ev.Usage)
			}
		case "result":
			out.sawResult = true
			out.success = ev.Success
			out.output = ev.Result
			out.errMsg = ev.Error
			out.cost = ev.Cost
			out.fixesApplied = ev.FixesApplied
			out.issuesFound = ev.IssuesFound
		}
	}
	if err := sc.Err(); err != nil {
		return turnOutcome{}, err
	}
	if ctx.Err() != nil {
		return turnOutcome{}, ctx.Err()
	}
	if !out.sawResult {
		return turnOutcome{}, fmt.Errorf("agent %s emitted no result event", req.Action)
	}
	if out.output == "" {
		out.output = strings.TrimSpace(raw.String())
	}
	if out.cost == 0 {
		out.cost = s.Rates.Cost(out.usage)
	}
	return out, nil
}

// Implement satisfies Implementer.
func (s Subprocess) Implement(ctx context.Context, ticket TicketContext, workspace string) (ImplementResult, error) {
	out, err := s.run(ctx, request{Action: "implement", Ticket: ticket, Workspace: workspace})
	if err != nil {
		return ImplementResult{}, err
	}
	return ImplementResult{
		Success:    out.success,
		TokensUsed: out.usage,
		Cost:       out.cost,
		Error:      out.errMsg,
	}, nil
}

// Review satisfies Reviewer.
func (s Subprocess) Review(ctx context.Context, workspace string, ticket TicketContext) (ReviewResult, error) {
	out, err := s.run(ctx, request{Action: "review", Ticket: ticket, Workspace: workspace})
	if err != nil {
		return ReviewResult{}, err
	}
	return ReviewResult{
		FixesApplied: out.fixesApplied,
		IssuesFound:  out.issuesFound,
		TokensUsed:   out.usage,
		Cost:         out.cost,
	}, nil
}

// Test satisfies Tester.
func (s Subprocess) Test(ctx context.Context, prompt string, ticket TicketContext) (TestResult, error) {
	out, err := s.run(ctx, request{Action: "test", Ticket: ticket, Prompt: prompt})
	if err != nil {
		return TestResult{}, err
	}
	res := TestResult{
		Success:    out.success,
		Output:     out.output,
		TokensUsed: out.usage,
		Cost:       out.cost,
	}
	if res.Output == "" && out.errMsg != "" {
		res.Output = out.errMsg
	}
	return res, nil
}
