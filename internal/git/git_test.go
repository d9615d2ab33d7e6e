package git

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"

	"github.com/buildloop-io/buildloop/internal/agent"
)

func initRepo(t *testing.T) string {
	t.Helper()
	if _, err := exec.LookPath("git"); err != nil {
		t.Skip("git not installed")
	}
	dir := t.TempDir()
	for _, args := range [][]string{
		{"init"},
		{"config", "user.email", "test@example.com"},
		{"config", "user.name", "test"},
	} {
		cmd := exec.Command("git", args...)
		cmd.Dir = dir
		if out, err := cmd.CombinedOutput(); err != nil {
			t.Fatalf("git %v: %v: %s", args, err, out)
		}
	}
	return dir
}

func TestBranchName(t *testing.T) {
	t.Parallel()
	if got := BranchName("run one"); got != "buildloop/run-one" {
		t.Errorf("BranchName: got %q", got)
	}
}

func TestIsRepo(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	if IsRepo(ctx, "") {
		t.Error("empty workspace should not be a repo")
	}
	dir := initRepo(t)
	if !IsRepo(ctx, dir) {
		t.Error("initialized repo not detected")
	}
	if IsRepo(ctx, t.TempDir()) {
		t.Error("plain directory detected as repo")
	}
}

func TestCommitter_Commit(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	dir := initRepo(t)
	if err := os.WriteFile(filepath.Join(dir, "a.txt"), []byte("hello"), 0o644); err != nil {
		t.Fatal(err)
	}

	c := Committer{}
	tk := agent.TicketContext{ID: "SCHEMA-1", Title: "add users table"}
	if err := c.Commit(ctx, tk, dir); err != nil {
		t.Fatalf("Commit: %v", err)
	}

	log := exec.Command("git", "log", "--oneline")
	log.Dir = dir
	out, err := log.Output()
	if err != nil {
		t.Fatalf("git log: %v", err)
	}
	if !strings.Contains(string(out), "SCHEMA-1: add users table") {
		t.Errorf("commit message missing: %s", out)
	}
}

func TestCommitter_Commit_nothingToCommit(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	dir := initRepo(t)
	c := Committer{}
	if err := c.Commit(ctx, agent.TicketContext{ID: "X-1", Title: "noop"}, dir); err != nil {
		t.Errorf("clean workspace should not error: %v", err)
	}
}

func TestCommitter_Commit_emptyWorkspace(t *testing.T) {
	t.Parallel()
	c := Committer{}
	if err := c.Commit(context.Background(), agent.TicketContext{ID: "X-1"}, ""); err == nil {
		t.Error("expected error for empty workspace")
	}
}

func TestDiff_emptyWorkspace(t *testing.T) {
	t.Parallel()
	out, err := Diff(context.Background(), "", "", "")
	if err != nil || out != "" {
		t.Errorf("Diff empty workspace: %q, %v", out, err)
	}
}

func TestHasChanges(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	dir := initRepo(t)
	changed, err := HasChanges(ctx, dir)
	if err != nil {
		t.Fatalf("HasChanges: %v", err)
	}
	if changed {
		t.Error("fresh repo should be clean")
	}
	if err := os.WriteFile(filepath.Join(dir, "b.txt"), []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	changed, err = HasChanges(ctx, dir)
	if err != nil {
		t.Fatalf("HasChanges: %v", err)
	}
	if !changed {
		t.Error("untracked file should count as changes")
	}
}
