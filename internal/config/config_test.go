package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestWithWorkspace_WorkspaceFrom(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	if _, ok := WorkspaceFrom(ctx); ok {
		t.Fatal("expected no workspace in empty context")
	}
	ctx = WithWorkspace(ctx, "/src/app")
	got, ok := WorkspaceFrom(ctx)
	if !ok || got != "/src/app" {
		t.Fatalf("WorkspaceFrom: got %q, ok=%v", got, ok)
	}
}

func TestMustWorkspaceFrom_panic(t *testing.T) {
	defer func() {
		if r := recover(); r == nil {
			t.Fatal("expected panic when workspace missing")
		}
	}()
	MustWorkspaceFrom(context.Background())
}

func TestResolveWorkspace_override(t *testing.T) {
	t.Parallel()
	got, err := ResolveWorkspace("/custom/ws")
	if err != nil {
		t.Fatalf("ResolveWorkspace: %v", err)
	}
	if got != filepath.Clean("/custom/ws") {
		t.Fatalf("ResolveWorkspace: got %q", got)
	}
}

func TestResolveWorkspace_env(t *testing.T) {
	t.Setenv("BUILDLOOP_WORKSPACE", "/env/ws")
	got, err := ResolveWorkspace("")
	if err != nil {
		t.Fatalf("ResolveWorkspace: %v", err)
	}
	if got != filepath.Clean("/env/ws") {
		t.Fatalf("ResolveWorkspace from env: got %q", got)
	}
}

func TestResolveWorkspace_default(t *testing.T) {
	t.Setenv("BUILDLOOP_WORKSPACE", "")
	wd, err := os.Getwd()
	if err != nil {
		t.Skipf("Getwd: %v", err)
	}
	got, err := ResolveWorkspace("")
	if err != nil {
		t.Fatalf("ResolveWorkspace: %v", err)
	}
	if got != wd {
		t.Fatalf("ResolveWorkspace default: got %q, want %q", got, wd)
	}
}

func TestLoad_missingFile(t *testing.T) {
	t.Parallel()
	ws := t.TempDir()
	cfg, err := Load(ws)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Store.Driver != "json" || cfg.Store.Path != filepath.Join(ws, "tickets.json") {
		t.Errorf("store defaults: %+v", cfg.Store)
	}
	if cfg.Agent.Timeout.Std() != 10*time.Minute {
		t.Errorf("agent timeout: %v", cfg.Agent.Timeout)
	}
}

func TestLoad_overlaysDefaults(t *testing.T) {
	t.Parallel()
	ws := t.TempDir()
	yaml := `
store:
  driver: sqlite
  path: /data/tickets.db
agent:
  command: codegen
  args: ["--json"]
  timeout: 5m
  sandbox: true
review: true
`
	if err := os.WriteFile(filepath.Join(ws, "buildloop.yaml"), []byte(yaml), 0o644); err != nil {
		t.Fatal(err)
	}
	cfg, err := Load(ws)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Store.Driver != "sqlite" || cfg.Store.Path != "/data/tickets.db" {
		t.Errorf("store: %+v", cfg.Store)
	}
	if cfg.Agent.Command != "codegen" || cfg.Agent.Timeout.Std() != 5*time.Minute || !cfg.Agent.Sandbox {
		t.Errorf("agent: %+v", cfg.Agent)
	}
	if !cfg.Review || cfg.Test {
		t.Errorf("flags: review=%v test=%v", cfg.Review, cfg.Test)
	}
	// Unset fields keep defaults.
	if cfg.Addr != "127.0.0.1:4711" {
		t.Errorf("addr: %q", cfg.Addr)
	}
}

func TestLoad_malformed(t *testing.T) {
	t.Parallel()
	ws := t.TempDir()
	if err := os.WriteFile(filepath.Join(ws, "buildloop.yaml"), []byte("store: ["), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(ws); err == nil {
		t.Fatal("expected parse error")
	}
}

func TestValidate(t *testing.T) {
	cases := []struct {
		name    string
		cfg     Config
		wantErr bool
	}{
		{"json ok", Config{Store: Store{Driver: "json", Path: "/t.json"}}, false},
		{"json no path", Config{Store: Store{Driver: "json"}}, true},
		{"unknown driver", Config{Store: Store{Driver: "mongodb", Path: "x"}}, true},
		{"postgres no url", Config{Store: Store{Driver: "postgres"}}, true},
		{"postgres with url", Config{Store: Store{Driver: "postgres", URL: "postgres://x"}}, false},
		{"negative timeout", Config{Store: Store{Driver: "json", Path: "x"}, Agent: Agent{Timeout: Duration(-time.Second)}}, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Setenv("DATABASE_URL", "")
			err := tc.cfg.Validate()
			if (err != nil) != tc.wantErr {
				t.Errorf("Validate: err=%v, wantErr=%v", err, tc.wantErr)
			}
		})
	}
}

func TestValidateAgent(t *testing.T) {
	t.Parallel()
	cfg := Default(t.TempDir())
	if err := cfg.ValidateAgent(true); err != nil {
		t.Errorf("dry run with no agent command: %v", err)
	}
	if err := cfg.ValidateAgent(false); err == nil {
		t.Error("expected an error for a real run with no agent command")
	}
	cfg.Agent.Command = "agentctl"
	if err := cfg.ValidateAgent(false); err != nil {
		t.Errorf("configured agent command: %v", err)
	}
}
