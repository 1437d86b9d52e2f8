//go:build !windows

package runner

import (
	"context"
	"os/exec"
	"syscall"
)

const defaultShell = "/bin/sh"

// shellCommandContext returns the shell command for Unix systems with context.
func shellCommandContext(ctx context.Context, shell, line string) *exec.Cmd {
	return exec.CommandContext(ctx, shell, "-c", line)
}

// setSysProcAttr puts the command in its own process group.
func setSysProcAttr(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{
		Setpgid: true,
	}
}

// setCancel kills the whole process group so children of the shell die too.
func setCancel(cmd *exec.Cmd) {
	cmd.Cancel = func() error {
		if cmd.Process == nil {
			return nil
		}
		if err := syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL); err != nil {
			return cmd.Process.Kill()
		}
		return nil
	}
}
