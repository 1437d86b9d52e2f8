// Package runner executes commands inside a session directory.
package runner

import (
	"context"
	"errors"
	"os"
	"os/exec"
	"regexp"
	"strings"
	"time"

	apperrors "github.com/vinayprograms/shipper/internal/errors"
	"github.com/vinayprograms/shipper/internal/logging"
	"github.com/vinayprograms/shipper/internal/workspace"
)

// TimeoutExitCode is reported for commands killed on timeout.
const TimeoutExitCode = 124

// waitDelay bounds how long Wait blocks on pipes held open by orphaned
// grandchildren after the process group is killed.
const waitDelay = 2 * time.Second

// Execution is the outcome of a single command.
type Execution struct {
	Command    string    `json:"command"`
	Args       []string  `json:"args,omitempty"`
	Dir        string    `json:"dir"`
	Stdout     string    `json:"stdout"`
	Stderr     string    `json:"stderr"`
	Output     string    `json:"output"` // stdout and stderr in arrival order
	ExitCode   int       `json:"exit_code"`
	Success    bool      `json:"success"`
	TimedOut   bool      `json:"timed_out"`
	Truncated  bool      `json:"truncated"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
}

// Duration returns how long the command ran.
func (e *Execution) Duration() time.Duration {
	return e.FinishedAt.Sub(e.StartedAt)
}

// Options configures a Runner.
type Options struct {
	Shell          string
	DefaultTimeout time.Duration
	MaxOutputBytes int64
}

// Runner runs commands with the session directory as working directory.
type Runner struct {
	ws     *workspace.Manager
	opts   Options
	logger *logging.Logger
}

// New creates a Runner.
func New(ws *workspace.Manager, opts Options, logger *logging.Logger) *Runner {
	if opts.Shell == "" {
		opts.Shell = defaultShell
	}
	if opts.MaxOutputBytes <= 0 {
		opts.MaxOutputBytes = 1 << 20
	}
	if logger == nil {
		logger = logging.Nop()
	}
	return &Runner{ws: ws, opts: opts, logger: logger.WithComponent("runner")}
}

var bareProgram = regexp.MustCompile(`^[A-Za-z0-9._+-]+$`)

// shellBuiltins have no executable on PATH and always run through the shell.
var shellBuiltins = map[string]bool{
	"exit": true, "cd": true, "export": true, "source": true, ".": true,
	"set": true, "unset": true, "ulimit": true, "umask": true, "eval": true,
}

// Run executes command with args in the session directory.
//
// A bare program name is executed directly; shell builtins and anything
// else are treated as a shell command line with args appended. A timeout of zero uses the
// runner's default, and a non-positive default means no timeout.
//
// A non-zero exit is not an error: it is reported in the Execution. Run
// returns SPAWN_FAILURE when the process cannot start and TIMEOUT (with
// the partial Execution) when it is killed.
func (r *Runner) Run(ctx context.Context, sessionID, command string, args []string, timeout time.Duration) (*Execution, error) {
	if strings.TrimSpace(command) == "" {
		return nil, apperrors.New(apperrors.CodeInvalidArguments, "command is empty")
	}
	dir, err := r.ws.EnsureDirectory(sessionID)
	if err != nil {
		return nil, err
	}

	if timeout <= 0 {
		timeout = r.opts.DefaultTimeout
	}
	runCtx := ctx
	if timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	var cmd *exec.Cmd
	if bareProgram.MatchString(command) && !shellBuiltins[command] {
		path, err := exec.LookPath(command)
		if err != nil {
			return nil, apperrors.Wrap(err, apperrors.CodeSpawnFailure, "command not found").
				WithContext("command", command)
		}
		cmd = exec.CommandContext(runCtx, path, args...)
	} else {
		cmd = shellCommandContext(runCtx, r.opts.Shell, joinCommandLine(command, args))
	}
	cmd.Dir = dir
	cmd.Env = os.Environ()
	setSysProcAttr(cmd)
	setCancel(cmd)
	cmd.WaitDelay = waitDelay

	out := newCapture(r.opts.MaxOutputBytes)
	cmd.Stdout = out.writer(streamStdout)
	cmd.Stderr = out.writer(streamStderr)

	exe := &Execution{
		Command:   command,
		Args:      args,
		Dir:       dir,
		StartedAt: time.Now(),
	}

	if err := cmd.Start(); err != nil {
		return nil, apperrors.Wrap(err, apperrors.CodeSpawnFailure, "failed to start command").
			WithContext("command", command)
	}
	waitErr := cmd.Wait()
	exe.FinishedAt = time.Now()
	exe.Stdout, exe.Stderr, exe.Output, exe.Truncated = out.snapshot()

	// Only our own deadline is a timeout; the caller's is a cancellation.
	if timeout > 0 && ctx.Err() == nil && runCtx.Err() == context.DeadlineExceeded {
		exe.TimedOut = true
		exe.ExitCode = TimeoutExitCode
		r.logger.Warn("command timed out", map[string]interface{}{
			"session": sessionID,
			"command": command,
			"timeout": timeout.String(),
		})
		return exe, apperrors.Newf(apperrors.CodeTimeout, "command timed out after %s", timeout).
			WithContext("command", command)
	}
	if ctx.Err() != nil {
		return exe, apperrors.Wrap(ctx.Err(), apperrors.CodeInternal, "command cancelled")
	}

	var exitErr *exec.ExitError
	switch {
	case waitErr == nil:
		exe.ExitCode = 0
	case errors.As(waitErr, &exitErr):
		exe.ExitCode = exitErr.ExitCode()
	case cmd.ProcessState != nil:
		// exec.ErrWaitDelay: the process exited but its pipes stayed open.
		exe.ExitCode = cmd.ProcessState.ExitCode()
	default:
		return exe, apperrors.Wrap(waitErr, apperrors.CodeInternal, "wait for command")
	}
	exe.Success = exe.ExitCode == 0

	r.logger.Debug("command finished", map[string]interface{}{
		"session":   sessionID,
		"command":   command,
		"exit_code": exe.ExitCode,
		"duration":  exe.Duration().String(),
	})
	return exe, nil
}

// joinCommandLine appends shell-quoted args to a command line.
func joinCommandLine(command string, args []string) string {
	if len(args) == 0 {
		return command
	}
	parts := make([]string, 0, len(args)+1)
	parts = append(parts, command)
	for _, a := range args {
		parts = append(parts, shellQuote(a))
	}
	return strings.Join(parts, " ")
}

var shellSafe = regexp.MustCompile(`^[A-Za-z0-9@%_+=:,./-]+$`)

func shellQuote(s string) string {
	if s == "" {
		return "''"
	}
	if shellSafe.MatchString(s) {
		return s
	}
	return "'" + strings.ReplaceAll(s, "'", `'"'"'`) + "'"
}
