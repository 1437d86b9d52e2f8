package deploy

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"time"

	apperrors "github.com/vinayprograms/shipper/internal/errors"
)

// DefaultNetlifyURL is the Netlify API base.
const DefaultNetlifyURL = "https://api.netlify.com"

// Netlify deploys to a freshly created Netlify site per run.
type Netlify struct {
	api          apiClient
	pollInterval time.Duration
	readyTimeout time.Duration
}

// NetlifyOption configures the Netlify provider.
type NetlifyOption func(*Netlify)

// WithNetlifyPolling sets how often and how long Activate waits for an
// uploaded deploy to finish processing.
func WithNetlifyPolling(interval, timeout time.Duration) NetlifyOption {
	return func(n *Netlify) {
		n.pollInterval = interval
		n.readyTimeout = timeout
	}
}

// NewNetlify creates the Netlify provider.
func NewNetlify(baseURL string, client *http.Client, opts ...NetlifyOption) *Netlify {
	if baseURL == "" {
		baseURL = DefaultNetlifyURL
	}
	n := &Netlify{
		api:          newAPIClient("netlify", baseURL, client),
		pollInterval: 2 * time.Second,
		readyTimeout: 5 * time.Minute,
	}
	for _, opt := range opts {
		opt(n)
	}
	return n
}

func (n *Netlify) Name() string { return "netlify" }

func (n *Netlify) RequiredCredentials() []string {
	return []string{"NETLIFY_AUTH_TOKEN"}
}

type netlifySite struct {
	ID     string `json:"id"`
	SiteID string `json:"site_id"`
	URL    string `json:"url"`
	SSLURL string `json:"ssl_url"`
}

type netlifyDeploy struct {
	ID           string `json:"id"`
	State        string `json:"state"`
	ErrorMessage string `json:"error_message"`
	SSLURL       string `json:"ssl_url"`
	URL          string `json:"url"`
	DeploySSLURL string `json:"deploy_ssl_url"`
}

func (n *Netlify) CreateTarget(ctx context.Context, job *Job) (*Target, error) {
	var site netlifySite
	if err := n.api.doJSON(ctx, http.MethodPost, "/api/v1/sites", job.Creds.Get("NETLIFY_AUTH_TOKEN"), map[string]any{}, &site); err != nil {
		return nil, err
	}
	id := site.SiteID
	if id == "" {
		id = site.ID
	}
	if id == "" {
		return nil, apperrors.New(apperrors.CodeDeployFailed, "netlify returned a site without an id")
	}
	t := &Target{ID: id, URL: firstNonEmpty(site.SSLURL, site.URL)}
	return t, nil
}

func (n *Netlify) Upload(ctx context.Context, job *Job, target *Target) error {
	var d netlifyDeploy
	path := fmt.Sprintf("%s/api/v1/sites/%s/deploys", n.api.baseURL, url.PathEscape(target.ID))
	if err := n.api.uploadArtifact(ctx, http.MethodPost, path, job.Creds.Get("NETLIFY_AUTH_TOKEN"), job.Artifact, &d); err != nil {
		return err
	}
	if d.ID == "" {
		return apperrors.New(apperrors.CodeDeployFailed, "netlify returned a deploy without an id")
	}
	target.set("deploy_id", d.ID)
	target.set("deploy_state", d.State)
	if d.DeploySSLURL != "" {
		target.set("deploy_url", d.DeploySSLURL)
	}
	return nil
}

// Activate waits for the uploaded deploy to finish processing, then
// publishes it as the site's live version.
func (n *Netlify) Activate(ctx context.Context, job *Job, target *Target) (string, error) {
	deployID := target.Meta["deploy_id"]
	if target.Meta["deploy_state"] != "ready" {
		job.substage("processing")
		if err := n.waitReady(ctx, job, deployID); err != nil {
			return "", err
		}
	}
	var d netlifyDeploy
	path := fmt.Sprintf("/api/v1/sites/%s/deploys/%s/restore", url.PathEscape(target.ID), url.PathEscape(deployID))
	if err := n.api.doJSON(ctx, http.MethodPost, path, job.Creds.Get("NETLIFY_AUTH_TOKEN"), nil, &d); err != nil {
		return "", err
	}
	return firstNonEmpty(target.URL, d.SSLURL, d.URL), nil
}

// waitReady polls the deploy until Netlify reports it ready. Restoring a
// deploy that is still processing would race with its own publish.
func (n *Netlify) waitReady(ctx context.Context, job *Job, deployID string) error {
	ctx, cancel := context.WithTimeout(ctx, n.readyTimeout)
	defer cancel()
	path := fmt.Sprintf("/api/v1/deploys/%s", url.PathEscape(deployID))

	ticker := time.NewTicker(n.pollInterval)
	defer ticker.Stop()
	for {
		var d netlifyDeploy
		if err := n.api.doJSON(ctx, http.MethodGet, path, job.Creds.Get("NETLIFY_AUTH_TOKEN"), nil, &d); err != nil {
			return err
		}
		switch d.State {
		case "ready":
			return nil
		case "error", "rejected":
			return apperrors.Newf(apperrors.CodeDeployFailed, "netlify deploy %s: %s", d.State, firstNonEmpty(d.ErrorMessage, "processing failed")).
				WithContext("deploy_id", deployID)
		}
		select {
		case <-ctx.Done():
			return apperrors.Newf(apperrors.CodeDeployFailed, "netlify deploy %s not ready after %s (state %q)", deployID, n.readyTimeout, d.State).
				WithContext("deploy_id", deployID)
		case <-ticker.C:
		}
	}
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
