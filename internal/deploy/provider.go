// Package deploy ships packaged sessions to hosting providers.
//
// A single Pipeline drives every run through the same state machine; each
// provider contributes only the three network steps that differ between
// them.
package deploy

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/vinayprograms/shipper/internal/packaging"
)

// CredentialSource resolves environment-style credential names.
type CredentialSource interface {
	Get(name string) string
}

// Provider implements the provider-specific steps of a deployment.
type Provider interface {
	// Name is the short provider id used in tool names (deploy.<name>).
	Name() string
	// RequiredCredentials lists names that must resolve before any
	// network call is made.
	RequiredCredentials() []string
	// CreateTarget allocates or resolves the provider-side site or service.
	CreateTarget(ctx context.Context, job *Job) (*Target, error)
	// Upload transfers the artifact to the target.
	Upload(ctx context.Context, job *Job, target *Target) error
	// Activate makes the uploaded content live and returns its public URL.
	Activate(ctx context.Context, job *Job, target *Target) (string, error)
}

// SharedTarget is implemented by providers that deploy into a target
// which outlives a run. TargetKey names that target from the credentials,
// or returns "" when it cannot be resolved yet.
type SharedTarget interface {
	TargetKey(creds CredentialSource) string
}

// Job is what a provider sees of a run.
type Job struct {
	RunID    string
	Session  string
	Artifact *packaging.Artifact
	Creds    CredentialSource

	// Substage records an internal step inside the current stage.
	Substage func(name string)
}

func (j *Job) substage(name string) {
	if j.Substage != nil {
		j.Substage(name)
	}
}

// Target is the provider-side resource a run deploys into.
type Target struct {
	ID   string            `json:"id"`
	URL  string            `json:"url,omitempty"`
	Meta map[string]string `json:"meta,omitempty"`

	// Manifest lists individually uploaded files for providers that
	// deploy by file digest.
	Manifest []ManifestFile `json:"manifest,omitempty"`
}

func (t *Target) set(key, value string) {
	if t.Meta == nil {
		t.Meta = map[string]string{}
	}
	t.Meta[key] = value
}

// ManifestFile is one uploaded file.
type ManifestFile struct {
	File string `json:"file"`
	SHA  string `json:"sha"`
	Size int64  `json:"size"`
}

// APIError is a non-2xx response from a provider.
type APIError struct {
	Provider string
	Method   string
	Path     string
	Status   int
	Body     string
}

func (e *APIError) Error() string {
	msg := strings.TrimSpace(e.Body)
	if len(msg) > 300 {
		msg = msg[:300] + "..."
	}
	if msg == "" {
		msg = http.StatusText(e.Status)
	}
	return fmt.Sprintf("%s %s %s: HTTP %d: %s", e.Provider, e.Method, e.Path, e.Status, msg)
}

// apiClient issues authenticated JSON requests against one provider.
type apiClient struct {
	provider string
	baseURL  string
	http     *http.Client
}

func newAPIClient(provider, baseURL string, client *http.Client) apiClient {
	if client == nil {
		client = http.DefaultClient
	}
	return apiClient{provider: provider, baseURL: strings.TrimRight(baseURL, "/"), http: client}
}

// doJSON sends body (JSON-encoded unless it is an io.Reader) and decodes
// the response into out when out is non-nil.
func (c apiClient) doJSON(ctx context.Context, method, path, token string, body any, out any) error {
	var reader io.Reader
	contentType := ""
	switch b := body.(type) {
	case nil:
	case io.Reader:
		reader = b
		contentType = "application/zip"
	default:
		data, err := json.Marshal(b)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(data)
		contentType = "application/json"
	}
	return c.do(ctx, method, c.baseURL+path, token, reader, contentType, -1, nil, out)
}

func (c apiClient) do(ctx context.Context, method, url, token string, body io.Reader, contentType string, length int64, headers map[string]string, out any) error {
	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return err
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	if length >= 0 {
		req.ContentLength = length
	}
	req.Header.Set("Accept", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, pathOf(url, c.baseURL), err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return &APIError{
			Provider: c.provider,
			Method:   method,
			Path:     pathOf(url, c.baseURL),
			Status:   resp.StatusCode,
			Body:     string(data),
		}
	}
	if out == nil {
		io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s response: %w", c.provider, err)
	}
	return nil
}

func pathOf(url, base string) string {
	if p := strings.TrimPrefix(url, base); p != url {
		return p
	}
	// Foreign URLs (signed upload links) may carry secrets in the query.
	if i := strings.IndexByte(url, '?'); i >= 0 {
		return url[:i]
	}
	return url
}

// uploadArtifact streams the artifact with an explicit length.
func (c apiClient) uploadArtifact(ctx context.Context, method, url, token string, art *packaging.Artifact, out any) error {
	f, err := art.Open()
	if err != nil {
		return err
	}
	defer f.Close()
	return c.do(ctx, method, url, token, f, "application/zip", art.Size, nil, out)
}
