package deploy

import (
	"time"

	"github.com/google/uuid"

	apperrors "github.com/vinayprograms/shipper/internal/errors"
	"github.com/vinayprograms/shipper/internal/packaging"
)

// Run is one attempt to deploy one session to one provider.
type Run struct {
	ID          string              `json:"id"`
	Provider    string              `json:"provider"`
	Session     string              `json:"session"`
	State       State               `json:"state"`
	Artifact    *packaging.Artifact `json:"artifact,omitempty"`
	Target      *Target             `json:"target,omitempty"`
	URL         string              `json:"url,omitempty"`
	Failure     *Failure            `json:"failure,omitempty"`
	Transitions []Transition        `json:"transitions"`
	StartedAt   time.Time           `json:"started_at"`
	FinishedAt  time.Time           `json:"finished_at,omitempty"`
}

// Failure records where and why a run stopped.
type Failure struct {
	Stage  Stage          `json:"stage"`
	Code   apperrors.Code `json:"code"`
	Reason string         `json:"reason"`
}

// Transition is one recorded state change, or a substage note when From
// equals To.
type Transition struct {
	From State     `json:"from"`
	To   State     `json:"to"`
	Note string    `json:"note,omitempty"`
	At   time.Time `json:"at"`
}

// NewRun creates an idle run with a fresh id.
func NewRun(provider, session string) *Run {
	return &Run{
		ID:        uuid.NewString(),
		Provider:  provider,
		Session:   session,
		State:     StateIdle,
		StartedAt: time.Now().UTC(),
	}
}

// TargetID returns the provider-side target id, if one was created.
func (r *Run) TargetID() string {
	if r.Target == nil {
		return ""
	}
	return r.Target.ID
}

// Snapshot returns a copy safe to hand to other goroutines.
func (r *Run) Snapshot() *Run {
	c := *r
	c.Transitions = append([]Transition(nil), r.Transitions...)
	if r.Failure != nil {
		f := *r.Failure
		c.Failure = &f
	}
	if r.Target != nil {
		t := *r.Target
		if r.Target.Meta != nil {
			t.Meta = make(map[string]string, len(r.Target.Meta))
			for k, v := range r.Target.Meta {
				t.Meta[k] = v
			}
		}
		t.Manifest = append([]ManifestFile(nil), r.Target.Manifest...)
		c.Target = &t
	}
	if r.Artifact != nil {
		a := *r.Artifact
		c.Artifact = &a
	}
	return &c
}

// Summary renders the run as a tool payload.
func (r *Run) Summary() map[string]any {
	out := map[string]any{
		"run_id":   r.ID,
		"provider": r.Provider,
		"session":  r.Session,
		"state":    string(r.State),
	}
	if id := r.TargetID(); id != "" {
		out["target_id"] = id
	}
	if r.URL != "" {
		out["url"] = r.URL
	}
	if r.Failure != nil {
		out["stage"] = string(r.Failure.Stage)
		out["reason"] = r.Failure.Reason
	}
	return out
}
