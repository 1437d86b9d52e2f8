package deploy

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/vinayprograms/shipper/internal/credentials"
	"github.com/vinayprograms/shipper/internal/packaging"
	"github.com/vinayprograms/shipper/internal/workspace"
)

// newPackager returns a packager whose "demo" session holds two files.
func newPackager(t *testing.T) (*packaging.Packager, *workspace.Manager) {
	t.Helper()
	base := t.TempDir()
	ws, err := workspace.New(filepath.Join(base, "projects"))
	require.NoError(t, err)
	pkg, err := packaging.New(ws, filepath.Join(base, "artifacts"))
	require.NoError(t, err)

	dir, err := ws.EnsureDirectory("demo")
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "index.html"), []byte("<h1>demo</h1>"), 0644))
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "css"), 0755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "css", "app.css"), []byte("body{}"), 0644))
	return pkg, ws
}

func allCreds() *credentials.Credentials {
	return credentials.FromMap(map[string]string{
		"NETLIFY_AUTH_TOKEN": "nf-token",
		"VERCEL_AUTH_TOKEN":  "vc-token",
		"RENDER_AUTH_TOKEN":  "rd-token",
		"RENDER_SERVICE_ID":  "srv-123",
	})
}

// fakeProvider is a scripted provider that records calls.
type fakeProvider struct {
	name     string
	required []string

	mu      sync.Mutex
	calls   []string
	targets int

	createErr   error
	uploadErr   error
	activateErr error
	// block, when set, is waited on inside CreateTarget.
	block chan struct{}
	// entered is signalled when CreateTarget starts.
	entered chan struct{}
	// holdActivate, when set, is waited on inside Activate; activating is
	// signalled when Activate starts.
	holdActivate chan struct{}
	activating   chan struct{}
}

// sharedFake deploys every run into the same provider-side target.
type sharedFake struct {
	*fakeProvider
}

func (s sharedFake) TargetKey(creds CredentialSource) string {
	return creds.Get("RENDER_SERVICE_ID")
}

func (f *fakeProvider) Name() string                  { return f.name }
func (f *fakeProvider) RequiredCredentials() []string { return f.required }

func (f *fakeProvider) record(call string) {
	f.mu.Lock()
	f.calls = append(f.calls, call)
	f.mu.Unlock()
}

func (f *fakeProvider) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

func (f *fakeProvider) CreateTarget(ctx context.Context, job *Job) (*Target, error) {
	f.record("create")
	if f.entered != nil {
		f.entered <- struct{}{}
	}
	if f.block != nil {
		<-f.block
	}
	if f.createErr != nil {
		return nil, f.createErr
	}
	f.mu.Lock()
	f.targets++
	id := f.targets
	f.mu.Unlock()
	return &Target{ID: "target-" + string(rune('0'+id)), URL: "https://example.test"}, nil
}

func (f *fakeProvider) Upload(ctx context.Context, job *Job, target *Target) error {
	f.record("upload")
	if _, err := os.Stat(job.Artifact.Path); err != nil {
		return err
	}
	job.substage("checked")
	return f.uploadErr
}

func (f *fakeProvider) Activate(ctx context.Context, job *Job, target *Target) (string, error) {
	f.record("activate")
	if f.activating != nil {
		f.activating <- struct{}{}
	}
	if f.holdActivate != nil {
		<-f.holdActivate
	}
	if f.activateErr != nil {
		return "", f.activateErr
	}
	return target.URL, nil
}
