package tools

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"time"

	"github.com/vinayprograms/shipper/internal/deploy"
	apperrors "github.com/vinayprograms/shipper/internal/errors"
	"github.com/vinayprograms/shipper/internal/runner"
	"github.com/vinayprograms/shipper/internal/workspace"
)

// Deps are the collaborators the built-in tools act through.
type Deps struct {
	Workspace *workspace.Manager
	Runner    *runner.Runner
	Deployer  *deploy.Deployer
}

// Builtins returns the built-in tools: file access, commands, and one
// deploy tool per provider the deployer knows.
func Builtins(deps Deps) []Tool {
	out := []Tool{
		fsWrite(deps.Workspace),
		fsRead(deps.Workspace),
		runCommand(deps.Runner),
	}
	if deps.Deployer != nil {
		for _, p := range deps.Deployer.Providers() {
			out = append(out, deployTool(deps.Deployer, p))
		}
	}
	return out
}

// RegisterBuiltins registers Builtins(deps) on reg.
func RegisterBuiltins(reg *Registry, deps Deps) error {
	for _, t := range Builtins(deps) {
		if err := reg.Register(t); err != nil {
			return err
		}
	}
	return nil
}

func fsWrite(ws *workspace.Manager) Tool {
	return &Func{
		ToolName: "fs.write",
		Desc:     "Write a file in the session workspace, creating parent directories. Overwrites existing files.",
		Params: Schema{
			Version: SchemaVersion,
			Properties: map[string]Property{
				"path":    {Type: TypeString, Description: "Path relative to the session workspace"},
				"content": {Type: TypeString, Description: "Full file content"},
			},
			Required: []string{"path", "content"},
		},
		Fn: func(ctx context.Context, call Call) (map[string]any, error) {
			rel := stringArg(call.Arguments, "path")
			content := stringArg(call.Arguments, "content")

			target, err := ws.ResolveDir(call.Session, rel)
			if err != nil {
				return nil, err
			}
			if info, err := os.Stat(target); err == nil && info.IsDir() {
				return nil, apperrors.Newf(apperrors.CodeInvalidArguments, "%s is a directory", rel)
			}
			if err := os.WriteFile(target, []byte(content), 0644); err != nil {
				return nil, apperrors.Wrap(err, apperrors.CodeInternal, "write file").WithContext("path", rel)
			}
			return map[string]any{"path": rel, "bytes": len(content)}, nil
		},
	}
}

func fsRead(ws *workspace.Manager) Tool {
	return &Func{
		ToolName: "fs.read",
		Desc:     "Read a file from the session workspace.",
		Params: Schema{
			Version: SchemaVersion,
			Properties: map[string]Property{
				"path": {Type: TypeString, Description: "Path relative to the session workspace"},
			},
			Required: []string{"path"},
		},
		Fn: func(ctx context.Context, call Call) (map[string]any, error) {
			rel := stringArg(call.Arguments, "path")
			target, err := ws.Resolve(call.Session, rel)
			if err != nil {
				return nil, err
			}
			info, err := os.Stat(target)
			if errors.Is(err, fs.ErrNotExist) {
				return nil, apperrors.New(apperrors.CodeFileNotFound, "File not found").WithContext("path", rel)
			}
			if err != nil {
				return nil, apperrors.Wrap(err, apperrors.CodeInternal, "stat file").WithContext("path", rel)
			}
			if info.IsDir() {
				return nil, apperrors.Newf(apperrors.CodeInvalidArguments, "%s is a directory", rel)
			}
			data, err := os.ReadFile(target)
			if err != nil {
				return nil, apperrors.Wrap(err, apperrors.CodeInternal, "read file").WithContext("path", rel)
			}
			return map[string]any{"path": rel, "content": string(data), "bytes": len(data)}, nil
		},
	}
}

func runCommand(r *runner.Runner) Tool {
	return &Func{
		ToolName: "run.command",
		Desc: "Run a command in the session workspace. A bare program name runs directly with args; " +
			"anything else runs through the shell. Non-zero exit codes are reported as failures with output.",
		Params: Schema{
			Version: SchemaVersion,
			Properties: map[string]Property{
				"command":         {Type: TypeString, Description: "Program name or shell command line"},
				"args":            {Type: TypeArray, Description: "Arguments", Items: &Property{Type: TypeString}},
				"timeout_seconds": {Type: TypeInteger, Description: "Kill the command after this many seconds"},
			},
			Required: []string{"command"},
		},
		Fn: func(ctx context.Context, call Call) (map[string]any, error) {
			timeout := time.Duration(intArg(call.Arguments, "timeout_seconds")) * time.Second
			exec, err := r.Run(ctx, call.Session, stringArg(call.Arguments, "command"), stringsArg(call.Arguments, "args"), timeout)
			if exec == nil {
				return nil, err
			}
			payload := executionPayload(exec)
			if err != nil {
				return payload, err
			}
			if !exec.Success {
				return payload, apperrors.Newf(apperrors.CodeNonZeroExit, "command exited with status %d", exec.ExitCode).
					WithContext("exit_code", exec.ExitCode)
			}
			return payload, nil
		},
	}
}

func executionPayload(e *runner.Execution) map[string]any {
	return map[string]any{
		"exit_code":   e.ExitCode,
		"success":     e.Success,
		"stdout":      e.Stdout,
		"stderr":      e.Stderr,
		"output":      e.Output,
		"timed_out":   e.TimedOut,
		"truncated":   e.Truncated,
		"duration_ms": e.Duration().Milliseconds(),
	}
}

func deployTool(d *deploy.Deployer, provider string) Tool {
	return &Func{
		ToolName: "deploy." + provider,
		Desc: "Package the session workspace and deploy it to " + provider +
			". Every call is a fresh deployment with a new target.",
		Params: Schema{
			Version:    SchemaVersion,
			Properties: map[string]Property{},
		},
		Fn: func(ctx context.Context, call Call) (map[string]any, error) {
			run, err := d.Deploy(ctx, provider, call.Session)
			if run == nil {
				return nil, err
			}
			return run.Summary(), err
		},
	}
}
