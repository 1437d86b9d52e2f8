//go:build windows

package runner

import (
	"context"
	"os/exec"
)

const defaultShell = "cmd"

// shellCommandContext returns the shell command for Windows systems with context.
func shellCommandContext(ctx context.Context, shell, line string) *exec.Cmd {
	return exec.CommandContext(ctx, shell, "/c", line)
}

// setSysProcAttr is a no-op on Windows; Setpgid is not available.
func setSysProcAttr(cmd *exec.Cmd) {}

// setCancel keeps the default Process.Kill behaviour.
func setCancel(cmd *exec.Cmd) {}
