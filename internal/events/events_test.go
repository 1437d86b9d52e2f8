package events

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vinayprograms/shipper/internal/deploy"
	"github.com/vinayprograms/shipper/internal/logging"
)

func TestFromTransitionCarriesFailure(t *testing.T) {
	run := deploy.NewRun("netlify", "demo")
	run.State = deploy.StateFailed
	run.Target = &deploy.Target{ID: "site-1"}
	run.Failure = &deploy.Failure{Stage: deploy.StageUpload, Reason: "HTTP 500"}

	at := time.Now().UTC()
	e := FromTransition(run, deploy.Transition{From: deploy.StateUploading, To: deploy.StateFailed, At: at})

	assert.Equal(t, run.ID, e.RunID)
	assert.Equal(t, "uploading", e.From)
	assert.Equal(t, "failed", e.To)
	assert.Equal(t, "site-1", e.TargetID)
	assert.Equal(t, "upload", e.Stage)
	assert.Equal(t, "HTTP 500", e.Reason)
	assert.Equal(t, at, e.At)
}

func TestDeployObserverPublishes(t *testing.T) {
	mem := &Memory{}
	obs := DeployObserver(mem, nil)

	run := deploy.NewRun("vercel", "demo")
	obs.OnTransition(run, deploy.Transition{From: deploy.StateIdle, To: deploy.StateArtifactReady})
	run.URL = "https://demo.vercel.app"
	obs.OnTransition(run, deploy.Transition{From: deploy.StateActivating, To: deploy.StateLive})

	got := mem.Events()
	require.Len(t, got, 2)
	assert.Equal(t, "artifact_ready", got[0].To)
	assert.Equal(t, "https://demo.vercel.app", got[1].URL)
}

type failing struct{ Nop }

func (failing) Publish(context.Context, *Event) error { return errors.New("down") }

func TestDeployObserverSwallowsErrors(t *testing.T) {
	obs := DeployObserver(failing{}, logging.Nop())
	assert.NotPanics(t, func() {
		obs.OnTransition(deploy.NewRun("render", "demo"), deploy.Transition{To: deploy.StateFailed})
	})
}

func TestNATSSubject(t *testing.T) {
	p := &NATSPublisher{subject: DefaultSubject}
	assert.Equal(t, "shipper.deploy.render", p.Subject(&Event{Provider: "render"}))
}
