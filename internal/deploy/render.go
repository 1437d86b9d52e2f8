package deploy

import (
	"context"
	"fmt"
	"net/http"
	"net/url"

	apperrors "github.com/vinayprograms/shipper/internal/errors"
)

// DefaultRenderURL is the Render API base.
const DefaultRenderURL = "https://api.render.com"

// Render deploys into a pre-provisioned service. Uploading needs a signed
// URL fetched first, which runs as a substage of upload.
type Render struct {
	api apiClient
}

// NewRender creates the Render provider.
func NewRender(baseURL string, client *http.Client) *Render {
	if baseURL == "" {
		baseURL = DefaultRenderURL
	}
	return &Render{api: newAPIClient("render", baseURL, client)}
}

func (r *Render) Name() string { return "render" }

func (r *Render) RequiredCredentials() []string {
	return []string{"RENDER_AUTH_TOKEN", "RENDER_SERVICE_ID"}
}

// TargetKey is the configured service: every run deploys into it.
func (r *Render) TargetKey(creds CredentialSource) string {
	return creds.Get("RENDER_SERVICE_ID")
}

type renderService struct {
	ID             string `json:"id"`
	Name           string `json:"name"`
	ServiceDetails struct {
		URL string `json:"url"`
	} `json:"serviceDetails"`
}

type renderArtifact struct {
	ID         string `json:"id"`
	UploadURL  string `json:"uploadUrl"`
	ServiceURL string `json:"serviceUrl"`
}

type renderDeploy struct {
	ID     string `json:"id"`
	Status string `json:"status"`
}

// CreateTarget resolves the configured service.
func (r *Render) CreateTarget(ctx context.Context, job *Job) (*Target, error) {
	serviceID := job.Creds.Get("RENDER_SERVICE_ID")
	var svc renderService
	path := fmt.Sprintf("/v1/services/%s", url.PathEscape(serviceID))
	if err := r.api.doJSON(ctx, http.MethodGet, path, job.Creds.Get("RENDER_AUTH_TOKEN"), nil, &svc); err != nil {
		return nil, err
	}
	return &Target{ID: firstNonEmpty(svc.ID, serviceID), URL: svc.ServiceDetails.URL}, nil
}

func (r *Render) Upload(ctx context.Context, job *Job, target *Target) error {
	job.substage("signed-url")
	var art renderArtifact
	if err := r.api.doJSON(ctx, http.MethodPost, "/v1/artifacts", job.Creds.Get("RENDER_AUTH_TOKEN"),
		map[string]any{"serviceId": target.ID}, &art); err != nil {
		return err
	}
	if art.UploadURL == "" {
		return apperrors.New(apperrors.CodeDeployFailed, "render returned no upload url")
	}
	if art.ID != "" {
		target.set("artifact_id", art.ID)
	}
	if target.URL == "" {
		target.URL = art.ServiceURL
	}

	job.substage("transfer")
	// The signed URL carries its own authorization.
	return r.api.uploadArtifact(ctx, http.MethodPut, art.UploadURL, "", job.Artifact, nil)
}

// Activate triggers a deploy of the service.
func (r *Render) Activate(ctx context.Context, job *Job, target *Target) (string, error) {
	var d renderDeploy
	path := fmt.Sprintf("/v1/services/%s/deploys", url.PathEscape(target.ID))
	if err := r.api.doJSON(ctx, http.MethodPost, path, job.Creds.Get("RENDER_AUTH_TOKEN"), map[string]any{}, &d); err != nil {
		return "", err
	}
	if d.ID != "" {
		target.set("deploy_id", d.ID)
	}
	return target.URL, nil
}
