package deploy

import (
	"bytes"
	"context"
	"crypto/sha1"
	"encoding/hex"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"strconv"
	"strings"

	apperrors "github.com/vinayprograms/shipper/internal/errors"
	"github.com/vinayprograms/shipper/internal/packaging"
)

// DefaultVercelURL is the Vercel API base.
const DefaultVercelURL = "https://api.vercel.com"

// Vercel creates a project per run, uploads files by digest and then
// creates a production deployment referencing them.
type Vercel struct {
	api apiClient
}

// NewVercel creates the Vercel provider.
func NewVercel(baseURL string, client *http.Client) *Vercel {
	if baseURL == "" {
		baseURL = DefaultVercelURL
	}
	return &Vercel{api: newAPIClient("vercel", baseURL, client)}
}

func (v *Vercel) Name() string { return "vercel" }

func (v *Vercel) RequiredCredentials() []string {
	return []string{"VERCEL_AUTH_TOKEN"}
}

type vercelProject struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

type vercelDeployment struct {
	ID         string `json:"id"`
	URL        string `json:"url"`
	ReadyState string `json:"readyState"`
}

// withTeam appends teamId when the token belongs to a team.
func (v *Vercel) withTeam(path string, job *Job) string {
	team := job.Creds.Get("VERCEL_TEAM_ID")
	if team == "" {
		return path
	}
	return path + "?teamId=" + url.QueryEscape(team)
}

func (v *Vercel) CreateTarget(ctx context.Context, job *Job) (*Target, error) {
	name := vercelProjectName(job.Session, job.RunID)
	var p vercelProject
	if err := v.api.doJSON(ctx, http.MethodPost, v.withTeam("/v10/projects", job), job.Creds.Get("VERCEL_AUTH_TOKEN"),
		map[string]any{"name": name}, &p); err != nil {
		return nil, err
	}
	if p.ID == "" {
		return nil, apperrors.New(apperrors.CodeDeployFailed, "vercel returned a project without an id")
	}
	t := &Target{ID: p.ID}
	t.set("name", firstNonEmpty(p.Name, name))
	return t, nil
}

func (v *Vercel) Upload(ctx context.Context, job *Job, target *Target) error {
	token := job.Creds.Get("VERCEL_AUTH_TOKEN")
	endpoint := v.api.baseURL + v.withTeam("/v2/files", job)

	var manifest []ManifestFile
	err := packaging.Walk(job.Artifact.Path, func(f packaging.File) error {
		rc, err := f.Open()
		if err != nil {
			return err
		}
		data, err := io.ReadAll(rc)
		rc.Close()
		if err != nil {
			return err
		}

		sum := sha1.Sum(data)
		digest := hex.EncodeToString(sum[:])
		headers := map[string]string{
			"x-vercel-digest": digest,
			"x-vercel-size":   strconv.Itoa(len(data)),
		}
		if err := v.api.do(ctx, http.MethodPost, endpoint, token, bytes.NewReader(data),
			"application/octet-stream", int64(len(data)), headers, nil); err != nil {
			return err
		}
		manifest = append(manifest, ManifestFile{File: f.Name, SHA: digest, Size: int64(len(data))})
		return nil
	})
	if err != nil {
		return err
	}
	target.Manifest = manifest
	return nil
}

// Activate creates the production deployment from the uploaded manifest.
func (v *Vercel) Activate(ctx context.Context, job *Job, target *Target) (string, error) {
	body := map[string]any{
		"name":    target.Meta["name"],
		"project": target.ID,
		"target":  "production",
		"files":   target.Manifest,
	}
	var d vercelDeployment
	if err := v.api.doJSON(ctx, http.MethodPost, v.withTeam("/v13/deployments", job), job.Creds.Get("VERCEL_AUTH_TOKEN"), body, &d); err != nil {
		return "", err
	}
	if d.URL == "" {
		return "", apperrors.New(apperrors.CodeDeployFailed, "vercel returned a deployment without a url")
	}
	target.set("deployment_id", d.ID)
	if strings.HasPrefix(d.URL, "http://") || strings.HasPrefix(d.URL, "https://") {
		return d.URL, nil
	}
	return "https://" + d.URL, nil
}

var vercelNameInvalid = regexp.MustCompile(`[^a-z0-9-]+`)

// vercelProjectName derives a unique, valid project name for a run.
func vercelProjectName(session, runID string) string {
	base := strings.Trim(vercelNameInvalid.ReplaceAllString(strings.ToLower(session), "-"), "-")
	if base == "" {
		base = "shipper"
	}
	if len(base) > 60 {
		base = base[:60]
	}
	suffix := strings.ReplaceAll(runID, "-", "")
	if len(suffix) > 8 {
		suffix = suffix[:8]
	}
	return base + "-" + suffix
}
