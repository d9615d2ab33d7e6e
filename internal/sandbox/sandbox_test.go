package sandbox

import (
	"context"
	"os/exec"
	"runtime"
	"strings"
	"testing"
)

func TestWrapCommand_emptyWorkspace(t *testing.T) {
	t.Parallel()
	cmd := WrapCommand(context.Background(), "", "echo", []string{"hi"})
	if !strings.HasSuffix(cmd.Path, "echo") && cmd.Args[0] != "echo" {
		t.Errorf("expected unwrapped echo, got %v", cmd.Args)
	}
}

func TestWrapCommand_wrapsOnLinuxWithBwrap(t *testing.T) {
	t.Parallel()
	if runtime.GOOS != "linux" {
		t.Skip("bubblewrap is linux-only")
	}
	if _, err := exec.LookPath("bwrap"); err != nil {
		t.Skip("bwrap not installed")
	}
	cmd := WrapCommand(context.Background(), t.TempDir(), "echo", []string{"hi"})
	if !strings.Contains(cmd.Path, "bwrap") {
		t.Errorf("expected bwrap wrapper, got %s", cmd.Path)
	}
	joined := strings.Join(cmd.Args, " ")
	if !strings.Contains(joined, "--bind") || !strings.Contains(joined, "echo hi") {
		t.Errorf("unexpected bwrap args: %v", cmd.Args)
	}
}
