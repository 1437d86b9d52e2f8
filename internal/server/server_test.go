package server

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/vinayprograms/shipper/internal/errors"
	"github.com/vinayprograms/shipper/internal/tools"
)

func newServer(t *testing.T, token string) *httptest.Server {
	t.Helper()
	reg := tools.NewRegistry()
	require.NoError(t, reg.Register(&tools.Func{
		ToolName: "test.echo",
		Desc:     "echo",
		Params: tools.Schema{
			Version:    tools.SchemaVersion,
			Properties: map[string]tools.Property{"text": {Type: tools.TypeString}},
			Required:   []string{"text"},
		},
		Fn: func(ctx context.Context, call tools.Call) (map[string]any, error) {
			return map[string]any{"text": call.Arguments["text"], "session": call.Session}, nil
		},
	}))
	require.NoError(t, reg.Seal())
	d, err := tools.NewDispatcher(reg)
	require.NoError(t, err)

	srv := httptest.NewServer(New(Config{Dispatcher: d, Token: token}).Handler())
	t.Cleanup(srv.Close)
	return srv
}

func do(t *testing.T, method, url, token string, body any) (*http.Response, map[string]any) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req, err := http.NewRequest(method, url, &buf)
	require.NoError(t, err)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	var out map[string]any
	json.NewDecoder(resp.Body).Decode(&out)
	return resp, out
}

func TestHealthz(t *testing.T) {
	srv := newServer(t, "secret")
	resp, body := do(t, http.MethodGet, srv.URL+"/healthz", "", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "ok", body["status"])
}

func TestAuthRequired(t *testing.T) {
	srv := newServer(t, "secret")

	resp, _ := do(t, http.MethodGet, srv.URL+"/v1/tools", "", nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp, _ = do(t, http.MethodGet, srv.URL+"/v1/tools", "wrong", nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp, body := do(t, http.MethodGet, srv.URL+"/v1/tools", "secret", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Len(t, body["tools"], 1)
}

func TestCallTool(t *testing.T) {
	srv := newServer(t, "")

	resp, body := do(t, http.MethodPost, srv.URL+"/v1/sessions/s1/tools/test.echo", "",
		map[string]any{"id": "c1", "arguments": map[string]any{"text": "hi"}})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, true, body["success"])
	assert.Equal(t, "c1", body["call_id"])
	payload := body["payload"].(map[string]any)
	assert.Equal(t, "s1", payload["session"])

	_, body = do(t, http.MethodPost, srv.URL+"/v1/sessions/s1/tools/test.echo", "", map[string]any{})
	assert.Equal(t, false, body["success"])
	assert.Equal(t, string(apperrors.CodeInvalidArguments), body["error"].(map[string]any)["kind"])
}

func TestTurnKeepsOrder(t *testing.T) {
	srv := newServer(t, "")

	_, body := do(t, http.MethodPost, srv.URL+"/v1/sessions/s1/turns", "", map[string]any{
		"calls": []map[string]any{
			{"id": "a", "name": "test_echo", "input": map[string]any{"text": "1"}},
			{"id": "b", "name": "missing_tool"},
			{"id": "c", "name": "test.echo", "input": map[string]any{"text": "3"}},
		},
	})
	results := body["results"].([]any)
	require.Len(t, results, 3)
	ids := []string{}
	for _, r := range results {
		ids = append(ids, r.(map[string]any)["call_id"].(string))
	}
	assert.Equal(t, []string{"a", "b", "c"}, ids)
	assert.Equal(t, true, results[1].(map[string]any)["is_error"])
}

func TestBadJSON(t *testing.T) {
	srv := newServer(t, "")
	resp, err := http.Post(srv.URL+"/v1/sessions/s1/turns", "application/json", strings.NewReader("{"))
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestRunNotFoundWithoutDeployer(t *testing.T) {
	srv := newServer(t, "")
	resp, _ := do(t, http.MethodGet, srv.URL+"/v1/runs/abc", "", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestMetricsEndpoint(t *testing.T) {
	srv := newServer(t, "")
	resp, err := http.Get(srv.URL + "/metrics")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}
