// Package sandbox wraps collaborator subprocesses in a minimal bubblewrap
// sandbox on Linux so an agent binary can only write inside the build
// workspace.
package sandbox

import (
	"context"
	"os/exec"
	"path/filepath"
	"runtime"
)

// WrapCommand returns an *exec.Cmd that runs binary with args. If workspace is
// non-empty and bubblewrap (bwrap) is available on Linux, the command runs
// inside a sandbox where only the workspace is writable; system paths are
// bound read-only. On any other platform, or when bwrap is missing, the
// command runs unwrapped.
func WrapCommand(ctx context.Context, workspace, binary string, args []string) *exec.Cmd {
	if workspace == "" || runtime.GOOS != "linux" {
		return exec.CommandContext(ctx, binary, args...)
	}
	bwrap, err := exec.LookPath("bwrap")
	if err != nil {
		return exec.CommandContext(ctx, binary, args...)
	}
	absWorkspace, err := filepath.Abs(workspace)
	if err != nil {
		return exec.CommandContext(ctx, binary, args...)
	}
	bwrapArgs := []string{
		"--bind", absWorkspace, absWorkspace,
		"--ro-bind", "/usr", "/usr",
		"--ro-bind", "/lib", "/lib",
		"--ro-bind", "/lib64", "/lib64",
		"--dev", "/dev",
		"--proc", "/proc",
		"--tmpfs", "/tmp",
		"--unshare-pid",
		"--chdir", absWorkspace,
	}
	bwrapArgs = append(bwrapArgs, "--", binary)
	bwrapArgs = append(bwrapArgs, args...)
	return exec.CommandContext(ctx, bwrap, bwrapArgs...)
}
