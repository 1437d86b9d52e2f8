package deploy

import (
	"archive/zip"
	"bytes"
	"context"
	"crypto/sha1"
	"encoding/hex"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/vinayprograms/shipper/internal/errors"
)

// recorder captures requests made to a fake provider API.
type recorder struct {
	mu       sync.Mutex
	requests []string
}

func (r *recorder) add(req *http.Request) {
	r.mu.Lock()
	r.requests = append(r.requests, req.Method+" "+req.URL.Path)
	r.mu.Unlock()
}

func (r *recorder) list() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.requests...)
}

func zipNames(t *testing.T, data []byte) []string {
	t.Helper()
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	require.NoError(t, err)
	var names []string
	for _, f := range zr.File {
		if !f.FileInfo().IsDir() {
			names = append(names, f.Name)
		}
	}
	sort.Strings(names)
	return names
}

func TestNetlifyProtocol(t *testing.T) {
	rec := &recorder{}
	var uploaded []byte
	polls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rec.add(r)
		assert.Equal(t, "Bearer nf-token", r.Header.Get("Authorization"))
		switch {
		case r.Method == http.MethodPost && r.URL.Path == "/api/v1/sites":
			json.NewEncoder(w).Encode(map[string]any{"id": "site-1", "site_id": "site-1", "ssl_url": "https://demo.netlify.app"})
		case r.Method == http.MethodPost && r.URL.Path == "/api/v1/sites/site-1/deploys":
			assert.Equal(t, "application/zip", r.Header.Get("Content-Type"))
			uploaded, _ = io.ReadAll(r.Body)
			json.NewEncoder(w).Encode(map[string]any{"id": "dep-1", "state": "uploaded"})
		case r.Method == http.MethodGet && r.URL.Path == "/api/v1/deploys/dep-1":
			polls++
			state := "processing"
			if polls > 1 {
				state = "ready"
			}
			json.NewEncoder(w).Encode(map[string]any{"id": "dep-1", "state": state})
		case r.Method == http.MethodPost && r.URL.Path == "/api/v1/sites/site-1/deploys/dep-1/restore":
			json.NewEncoder(w).Encode(map[string]any{"id": "dep-1", "state": "ready"})
		default:
			http.Error(w, "unexpected", http.StatusNotFound)
		}
	}))
	defer srv.Close()

	pkg, _ := newPackager(t)
	var notes []string
	obs := ObserverFunc(func(_ *Run, tr Transition) {
		if tr.From == tr.To && tr.Note != "" {
			notes = append(notes, tr.Note)
		}
	})
	provider := NewNetlify(srv.URL, srv.Client(), WithNetlifyPolling(10*time.Millisecond, 5*time.Second))
	p := NewPipeline(provider, pkg, allCreds(), WithObserver(obs))
	run, err := p.Run(context.Background(), "demo")
	require.NoError(t, err)

	assert.Equal(t, StateLive, run.State)
	assert.Equal(t, "https://demo.netlify.app", run.URL)
	assert.Equal(t, "site-1", run.TargetID())
	assert.Equal(t, []string{
		"POST /api/v1/sites",
		"POST /api/v1/sites/site-1/deploys",
		"GET /api/v1/deploys/dep-1",
		"GET /api/v1/deploys/dep-1",
		"POST /api/v1/sites/site-1/deploys/dep-1/restore",
	}, rec.list())
	assert.Contains(t, notes, "processing")
	assert.Equal(t, []string{"css/app.css", "index.html"}, zipNames(t, uploaded))
}

func TestNetlifyProcessingErrorFailsActivate(t *testing.T) {
	rec := &recorder{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rec.add(r)
		switch r.URL.Path {
		case "/api/v1/sites":
			json.NewEncoder(w).Encode(map[string]any{"id": "site-2", "ssl_url": "https://x"})
		case "/api/v1/sites/site-2/deploys":
			json.NewEncoder(w).Encode(map[string]any{"id": "dep-2", "state": "processing"})
		case "/api/v1/deploys/dep-2":
			json.NewEncoder(w).Encode(map[string]any{"id": "dep-2", "state": "error", "error_message": "bad _redirects"})
		default:
			http.Error(w, "unexpected", http.StatusNotFound)
		}
	}))
	defer srv.Close()

	pkg, _ := newPackager(t)
	provider := NewNetlify(srv.URL, srv.Client(), WithNetlifyPolling(10*time.Millisecond, 5*time.Second))
	run, err := NewPipeline(provider, pkg, allCreds()).Run(context.Background(), "demo")

	require.Error(t, err)
	assert.Equal(t, StateFailed, run.State)
	assert.Equal(t, StageActivate, run.Failure.Stage)
	assert.Contains(t, run.Failure.Reason, "bad _redirects")
	assert.NotContains(t, rec.list(), "POST /api/v1/sites/site-2/deploys/dep-2/restore")
}

func TestNetlifyUploadRejected(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/api/v1/sites" {
			json.NewEncoder(w).Encode(map[string]any{"id": "site-9", "ssl_url": "https://x"})
			return
		}
		w.WriteHeader(http.StatusUnprocessableEntity)
		w.Write([]byte(`{"message":"Deploy too large"}`))
	}))
	defer srv.Close()

	pkg, _ := newPackager(t)
	p := NewPipeline(NewNetlify(srv.URL, srv.Client()), pkg, allCreds())
	run, err := p.Run(context.Background(), "demo")

	require.Error(t, err)
	assert.Equal(t, StageUpload, run.Failure.Stage)
	assert.Equal(t, "site-9", run.TargetID())
	assert.Contains(t, run.Failure.Reason, "HTTP 422")
	assert.Contains(t, run.Failure.Reason, "Deploy too large")

	var apiErr *APIError
	assert.ErrorAs(t, err, &apiErr)
}

func TestVercelProtocol(t *testing.T) {
	rec := &recorder{}
	uploads := map[string]string{}
	var deployment map[string]any
	var mu sync.Mutex

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rec.add(r)
		assert.Equal(t, "Bearer vc-token", r.Header.Get("Authorization"))
		assert.Equal(t, "team_7", r.URL.Query().Get("teamId"))
		switch r.URL.Path {
		case "/v10/projects":
			var body map[string]string
			json.NewDecoder(r.Body).Decode(&body)
			assert.True(t, strings.HasPrefix(body["name"], "demo-"))
			json.NewEncoder(w).Encode(map[string]any{"id": "prj_1", "name": body["name"]})
		case "/v2/files":
			data, _ := io.ReadAll(r.Body)
			sum := sha1.Sum(data)
			assert.Equal(t, hex.EncodeToString(sum[:]), r.Header.Get("x-vercel-digest"))
			mu.Lock()
			uploads[r.Header.Get("x-vercel-digest")] = string(data)
			mu.Unlock()
			w.Write([]byte(`{}`))
		case "/v13/deployments":
			json.NewDecoder(r.Body).Decode(&deployment)
			json.NewEncoder(w).Encode(map[string]any{"id": "dpl_1", "url": "demo-abc.vercel.app", "readyState": "QUEUED"})
		default:
			http.Error(w, "unexpected", http.StatusNotFound)
		}
	}))
	defer srv.Close()

	creds := allCreds()
	vars := map[string]string{
		"VERCEL_AUTH_TOKEN": creds.Get("VERCEL_AUTH_TOKEN"),
		"VERCEL_TEAM_ID":    "team_7",
	}
	pkg, _ := newPackager(t)
	p := NewPipeline(NewVercel(srv.URL, srv.Client()), pkg, mapCreds(vars))
	run, err := p.Run(context.Background(), "demo")
	require.NoError(t, err)

	assert.Equal(t, "https://demo-abc.vercel.app", run.URL)
	assert.Equal(t, "prj_1", run.TargetID())
	assert.Len(t, uploads, 2)
	assert.Contains(t, uploads, sha1Hex("<h1>demo</h1>"))

	assert.Equal(t, "production", deployment["target"])
	assert.Equal(t, "prj_1", deployment["project"])
	files, ok := deployment["files"].([]any)
	require.True(t, ok)
	assert.Len(t, files, 2)

	reqs := rec.list()
	assert.Equal(t, "POST /v10/projects", reqs[0])
	assert.Equal(t, "POST /v13/deployments", reqs[len(reqs)-1])
}

func TestRenderProtocolWithSignedURL(t *testing.T) {
	rec := &recorder{}
	var uploaded []byte
	var srv *httptest.Server
	srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rec.add(r)
		if r.URL.Path == "/signed/upload" {
			assert.Empty(t, r.Header.Get("Authorization"), "signed URL must not receive the API token")
			assert.Equal(t, "sig", r.URL.Query().Get("token"))
			uploaded, _ = io.ReadAll(r.Body)
			w.WriteHeader(http.StatusOK)
			return
		}
		assert.Equal(t, "Bearer rd-token", r.Header.Get("Authorization"))
		switch {
		case r.Method == http.MethodGet && r.URL.Path == "/v1/services/srv-123":
			w.Write([]byte(`{"id":"srv-123","name":"demo","serviceDetails":{"url":"https://demo.onrender.com"}}`))
		case r.Method == http.MethodPost && r.URL.Path == "/v1/artifacts":
			var body map[string]string
			json.NewDecoder(r.Body).Decode(&body)
			assert.Equal(t, "srv-123", body["serviceId"])
			json.NewEncoder(w).Encode(map[string]any{"id": "art-1", "uploadUrl": srv.URL + "/signed/upload?token=sig"})
		case r.Method == http.MethodPost && r.URL.Path == "/v1/services/srv-123/deploys":
			w.Write([]byte(`{"id":"dep-5","status":"created"}`))
		default:
			http.Error(w, "unexpected", http.StatusNotFound)
		}
	}))
	defer srv.Close()

	pkg, _ := newPackager(t)
	var notes []string
	obs := ObserverFunc(func(_ *Run, tr Transition) {
		if tr.From == tr.To && tr.Note != "" {
			notes = append(notes, tr.Note)
		}
	})
	p := NewPipeline(NewRender(srv.URL, srv.Client()), pkg, allCreds(), WithObserver(obs))
	run, err := p.Run(context.Background(), "demo")
	require.NoError(t, err)

	assert.Equal(t, "https://demo.onrender.com", run.URL)
	assert.Equal(t, []string{
		"GET /v1/services/srv-123",
		"POST /v1/artifacts",
		"PUT /signed/upload",
		"POST /v1/services/srv-123/deploys",
	}, rec.list())
	assert.Equal(t, []string{"started", "signed-url", "transfer"}, notes)
	assert.Equal(t, []string{"css/app.css", "index.html"}, zipNames(t, uploaded))
}

func TestRenderMissingServiceID(t *testing.T) {
	hits := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits++
	}))
	defer srv.Close()

	pkg, _ := newPackager(t)
	p := NewPipeline(NewRender(srv.URL, srv.Client()), pkg, mapCreds(map[string]string{"RENDER_AUTH_TOKEN": "x"}))
	run, err := p.Run(context.Background(), "demo")

	assert.True(t, apperrors.IsCode(err, apperrors.CodeMissingCredential))
	assert.Equal(t, StageCreateTarget, run.Failure.Stage)
	assert.Zero(t, hits)
}

func TestVercelProjectName(t *testing.T) {
	assert.Equal(t, "my-site-12345678", vercelProjectName("My Site!", "12345678-aaaa"))
	assert.Equal(t, "shipper-abcd", vercelProjectName("___", "abcd"))
	assert.LessOrEqual(t, len(vercelProjectName(strings.Repeat("x", 200), "12345678")), 100)
}

type mapCreds map[string]string

func (m mapCreds) Get(name string) string { return m[name] }

func sha1Hex(s string) string {
	sum := sha1.Sum([]byte(s))
	return hex.EncodeToString(sum[:])
}
