//go:build !windows

package tools

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vinayprograms/shipper/internal/credentials"
	"github.com/vinayprograms/shipper/internal/deploy"
	apperrors "github.com/vinayprograms/shipper/internal/errors"
	"github.com/vinayprograms/shipper/internal/packaging"
	"github.com/vinayprograms/shipper/internal/runner"
	"github.com/vinayprograms/shipper/internal/workspace"
)

// stubProvider succeeds at every stage.
type stubProvider struct{ name string }

func (s stubProvider) Name() string                  { return s.name }
func (s stubProvider) RequiredCredentials() []string { return []string{"STUB_TOKEN"} }
func (s stubProvider) CreateTarget(context.Context, *deploy.Job) (*deploy.Target, error) {
	return &deploy.Target{ID: "t-1", URL: "https://" + s.name + ".test"}, nil
}
func (s stubProvider) Upload(context.Context, *deploy.Job, *deploy.Target) error { return nil }
func (s stubProvider) Activate(_ context.Context, _ *deploy.Job, t *deploy.Target) (string, error) {
	return t.URL, nil
}

func newBuiltins(t *testing.T, creds map[string]string) (*Dispatcher, *workspace.Manager) {
	t.Helper()
	base := t.TempDir()
	ws, err := workspace.New(filepath.Join(base, "projects"))
	require.NoError(t, err)
	pkg, err := packaging.New(ws, filepath.Join(base, "artifacts"))
	require.NoError(t, err)

	var pipelines []*deploy.Pipeline
	for _, name := range []string{"netlify", "vercel", "render"} {
		pipelines = append(pipelines, deploy.NewPipeline(stubProvider{name}, pkg, credentials.FromMap(creds)))
	}
	deps := Deps{
		Workspace: ws,
		Runner:    runner.New(ws, runner.Options{}, nil),
		Deployer:  deploy.NewDeployer(nil, pipelines...),
	}

	reg := NewRegistry()
	require.NoError(t, RegisterBuiltins(reg, deps))
	require.NoError(t, reg.Seal(FixedToolSet...))
	d, err := NewDispatcher(reg)
	require.NoError(t, err)
	return d, ws
}

func call(d *Dispatcher, name, sess string, args map[string]any) Result {
	return d.Dispatch(context.Background(), Call{Name: name, Session: sess, Arguments: args})
}

func TestWriteThenRead(t *testing.T) {
	d, ws := newBuiltins(t, nil)

	res := call(d, "fs.write", "s1", map[string]any{"path": "src/index.html", "content": "<p>hi</p>"})
	require.True(t, res.Success, "%+v", res.Error)
	assert.Equal(t, 9, res.Payload["bytes"])

	dir, _ := ws.SessionDir("s1")
	data, err := os.ReadFile(filepath.Join(dir, "src", "index.html"))
	require.NoError(t, err)
	assert.Equal(t, "<p>hi</p>", string(data))

	res = call(d, "fs.read", "s1", map[string]any{"path": "src/index.html"})
	require.True(t, res.Success)
	assert.Equal(t, "<p>hi</p>", res.Payload["content"])
}

func TestWriteOverwrites(t *testing.T) {
	d, _ := newBuiltins(t, nil)
	call(d, "fs.write", "s1", map[string]any{"path": "a.txt", "content": "first"})
	call(d, "fs.write", "s1", map[string]any{"path": "a.txt", "content": "second"})

	res := call(d, "fs.read", "s1", map[string]any{"path": "a.txt"})
	assert.Equal(t, "second", res.Payload["content"])
}

func TestSessionsAreIsolated(t *testing.T) {
	d, _ := newBuiltins(t, nil)
	call(d, "fs.write", "alpha", map[string]any{"path": "secret.txt", "content": "a"})

	res := call(d, "fs.read", "beta", map[string]any{"path": "secret.txt"})
	assert.False(t, res.Success)
	assert.Equal(t, apperrors.CodeFileNotFound, res.Error.Kind)
	assert.Equal(t, "File not found", res.Error.Reason)
}

func TestEscapesAreRejected(t *testing.T) {
	d, ws := newBuiltins(t, nil)

	for _, p := range []string{"../beta/x.txt", "/etc/passwd", "a/../../x"} {
		res := call(d, "fs.write", "alpha", map[string]any{"path": p, "content": "x"})
		assert.False(t, res.Success, p)
		assert.Equal(t, apperrors.CodePathEscape, res.Error.Kind, p)
	}
	_, err := os.Stat(filepath.Join(ws.Root(), "beta", "x.txt"))
	assert.True(t, os.IsNotExist(err))

	res := call(d, "fs.read", "../alpha", map[string]any{"path": "x"})
	assert.Equal(t, apperrors.CodeInvalidSession, res.Error.Kind)
}

func TestRunCommandResults(t *testing.T) {
	d, _ := newBuiltins(t, nil)

	res := call(d, "run.command", "s1", map[string]any{"command": "echo", "args": []any{"hello", "world"}})
	require.True(t, res.Success, "%+v", res.Error)
	assert.Equal(t, "hello world\n", res.Payload["stdout"])

	res = call(d, "run.command", "s1", map[string]any{"command": "echo boom 1>&2; exit 3"})
	assert.False(t, res.Success)
	assert.Equal(t, apperrors.CodeNonZeroExit, res.Error.Kind)
	assert.Equal(t, 3, res.Payload["exit_code"])
	assert.Equal(t, "boom\n", res.Payload["stderr"])

	res = call(d, "run.command", "s1", map[string]any{"command": "sleep 5", "timeout_seconds": float64(1)})
	assert.Equal(t, apperrors.CodeTimeout, res.Error.Kind)
	assert.Equal(t, true, res.Payload["timed_out"])

	res = call(d, "run.command", "s1", map[string]any{"command": "definitely-not-a-program-xyz"})
	assert.Equal(t, apperrors.CodeSpawnFailure, res.Error.Kind)
}

func TestRunCommandSeesWrittenFiles(t *testing.T) {
	d, _ := newBuiltins(t, nil)
	call(d, "fs.write", "s1", map[string]any{"path": "data.txt", "content": "42"})

	res := call(d, "run.command", "s1", map[string]any{"command": "cat", "args": []any{"data.txt"}})
	require.True(t, res.Success)
	assert.Equal(t, "42", res.Payload["stdout"])
}

func TestDeployTool(t *testing.T) {
	d, _ := newBuiltins(t, map[string]string{"STUB_TOKEN": "x"})
	call(d, "fs.write", "site", map[string]any{"path": "index.html", "content": "<h1>ok</h1>"})

	res := call(d, "deploy.vercel", "site", nil)
	require.True(t, res.Success, "%+v", res.Error)
	assert.Equal(t, "live", res.Payload["state"])
	assert.Equal(t, "https://vercel.test", res.Payload["url"])
	assert.NotEmpty(t, res.Payload["run_id"])
}

func TestDeployToolReportsFailureStage(t *testing.T) {
	d, _ := newBuiltins(t, nil)
	call(d, "fs.write", "site", map[string]any{"path": "index.html", "content": "x"})

	res := call(d, "deploy.netlify", "site", nil)
	assert.False(t, res.Success)
	assert.Equal(t, apperrors.CodeMissingCredential, res.Error.Kind)
	assert.Equal(t, "failed", res.Payload["state"])
	assert.Equal(t, "create-target", res.Payload["stage"])
}

func TestDeployToolEmptyWorkspace(t *testing.T) {
	d, _ := newBuiltins(t, map[string]string{"STUB_TOKEN": "x"})
	res := call(d, "deploy.render", "empty", nil)
	assert.Equal(t, apperrors.CodeEmptyWorkspace, res.Error.Kind)
	assert.Equal(t, "package", res.Payload["stage"])
}
