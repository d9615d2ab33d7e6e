package agent

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeScript(t *testing.T, body string) string {
	t.Helper()
	script := filepath.Join(t.TempDir(), "agent.sh")
	if err := os.WriteFile(script, []byte("#!/bin/sh\nread line\n"+body), 0o755); err != nil {
		t.Fatalf("write script: %v", err)
	}
	return script
}

func TestSubprocess_emptyCommand(t *testing.T) {
	t.Parallel()
	_, err := Subprocess{}.Implement(context.Background(), TicketContext{ID: "SCHEMA-1"}, t.TempDir())
	if err == nil {
		t.Fatal("expected error when command empty")
	}
}

func TestSubprocess_Implement(t *testing.T) {
	t.Parallel()
	script := writeScript(t, `echo '{"type":"status","message":"editing files"}'
echo '{"type":"usage","usage":{"input":100,"output":50}}'
echo '{"type":"usage","usage":{"input":20,"cacheRead":900}}'
echo '{"type":"result","success":true,"cost":0.05}'
`)
	var statuses []string
	s := Subprocess{Command: script, Timeout: 5 * time.Second, OnStatus: func(m string) { statuses = append(statuses, m) }}
	res, err := s.Implement(context.Background(), TicketContext{ID: "BACKEND-1", Title: "add endpoint"}, t.TempDir())
	if err != nil {
		t.Fatalf("Implement: %v", err)
	}
	if !res.Success {
		t.Error("expected success")
	}
	if res.TokensUsed.Input != 120 || res.TokensUsed.Output != 50 || res.TokensUsed.CacheRead != 900 {
		t.Errorf("usage not folded: %+v", res.TokensUsed)
	}
	if res.Cost != 0.05 {
		t.Errorf("Cost: got %v", res.Cost)
	}
	if len(statuses) != 1 || statuses[0] != "editing files" {
		t.Errorf("statuses: %v", statuses)
	}
}

func TestSubprocess_Test_failureCarriesOutput(t *testing.T) {
	t.Parallel()
	script := writeScript(t, `echo '{"type":"result","success":false,"output":"expected 200, got 500"}'
`)
	s := Subprocess{Command: script, Timeout: 5 * time.Second}
	res, err := s.Test(context.Background(), "page should render", TicketContext{ID: "E2E-1"})
	if err != nil {
		t.Fatalf("Test: %v", err)
	}
	if res.Success {
		t.Error("expected failure")
	}
	if res.Output != "expected 200, got 500" {
		t.Errorf("Output: %q", res.Output)
	}
}

func TestSubprocess_noResultEvent(t *testing.T) {
	t.Parallel()
	script := writeScript(t, `echo 'not json at all'
`)
	s := Subprocess{Command: script, Timeout: 5 * time.Second}
	if _, err := s.Implement(context.Background(), TicketContext{ID: "X-1"}, t.TempDir()); err == nil {
		t.Fatal("expected error when binary emits no result event")
	}
}

func TestSubprocess_unknownEventTypesIgnored(t *testing.T) {
	t.Parallel()
	script := writeScript(t, `echo '{"type":"telemetry","message":"future"}'
echo '{"type":"result","success":true}'
`)
	s := Subprocess{Command: script, Timeout: 5 * time.Second}
	res, err := s.Implement(context.Background(), TicketContext{ID: "X-1"}, t.TempDir())
	if err != nil {
		t.Fatalf("Implement: %v", err)
	}
	if !res.Success {
		t.Error("expected success")
	}
}

func TestSubprocess_pricesUsageWhenNoCostReported(t *testing.T) {
	t.Parallel()
	script := writeScript(t, `echo '{"type":"usage","usage":{"input":1000000}}'
echo '{"type":"result","success":true}'
`)
	s := Subprocess{Command: script, Timeout: 5 * time.Second}
	s.Rates.InputPerMTok = 3.0
	res, err := s.Implement(context.Background(), TicketContext{ID: "X-1"}, t.TempDir())
	if err != nil {
		t.Fatalf("Implement: %v", err)
	}
	if res.Cost != 3.0 {
		t.Errorf("Cost: got %v, want 3.0", res.Cost)
	}
}

func TestSubprocess_contextCancel(t *testing.T) {
	t.Parallel()
	script := writeScript(t, "sleep 10\n")
	s := Subprocess{Command: script}
	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	if _, err := s.Implement(ctx, TicketContext{ID: "X-1"}, t.TempDir()); err == nil {
		t.Fatal("expected error on cancellation")
	}
}

func TestStubTester_failFirst(t *testing.T) {
	t.Parallel()
	st := &StubTester{FailFirst: 2}
	ctx := context.Background()
	r1, _ := st.Test(ctx, "p", TicketContext{ID: "E2E-1"})
	r2, _ := st.Test(ctx, "p", TicketContext{ID: "E2E-1"})
	r3, _ := st.Test(ctx, "p", TicketContext{ID: "E2E-1"})
	if r1.Success || r2.Success || !r3.Success {
		t.Errorf("FailFirst=2: got %v %v %v", r1.Success, r2.Success, r3.Success)
	}
}
