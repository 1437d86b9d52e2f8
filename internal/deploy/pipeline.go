package deploy

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"

	apperrors "github.com/vinayprograms/shipper/internal/errors"
	"github.com/vinayprograms/shipper/internal/logging"
	"github.com/vinayprograms/shipper/internal/packaging"
	"github.com/vinayprograms/shipper/internal/telemetry"
)

// Packager produces the artifact for a session.
type Packager interface {
	Package(sessionID string) (*packaging.Artifact, error)
}

// Observer is told about every transition, with a snapshot of the run
// taken right after it.
type Observer interface {
	OnTransition(run *Run, tr Transition)
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(run *Run, tr Transition)

func (f ObserverFunc) OnTransition(run *Run, tr Transition) { f(run, tr) }

// Pipeline drives runs for one provider through the state machine:
// package, create target, upload, activate. Each stage is attempted once.
type Pipeline struct {
	provider  Provider
	packager  Packager
	creds     CredentialSource
	store     *RunStore
	observers []Observer
	logger    *logging.Logger
}

// PipelineOption configures a Pipeline.
type PipelineOption func(*Pipeline)

// WithStore persists every transition of every run.
func WithStore(s *RunStore) PipelineOption {
	return func(p *Pipeline) { p.store = s }
}

// WithObserver adds a transition observer.
func WithObserver(o Observer) PipelineOption {
	return func(p *Pipeline) { p.observers = append(p.observers, o) }
}

// WithLogger sets the pipeline logger.
func WithLogger(l *logging.Logger) PipelineOption {
	return func(p *Pipeline) { p.logger = l }
}

// NewPipeline creates a pipeline for provider.
func NewPipeline(provider Provider, packager Packager, creds CredentialSource, opts ...PipelineOption) *Pipeline {
	p := &Pipeline{
		provider: provider,
		packager: packager,
		creds:    creds,
		logger:   logging.Nop(),
	}
	for _, opt := range opts {
		opt(p)
	}
	p.logger = p.logger.WithComponent("deploy." + provider.Name())
	return p
}

// Provider returns the strategy this pipeline drives.
func (p *Pipeline) Provider() Provider {
	return p.provider
}

// targetKey returns the shared target this pipeline's runs deploy into,
// or "" when each run gets its own.
func (p *Pipeline) targetKey() string {
	shared, ok := p.provider.(SharedTarget)
	if !ok || p.creds == nil {
		return ""
	}
	return shared.TargetKey(p.creds)
}

// Run creates a new run for sessionID and executes it to a terminal state.
func (p *Pipeline) Run(ctx context.Context, sessionID string) (*Run, error) {
	run := NewRun(p.provider.Name(), sessionID)
	err := p.Execute(ctx, run)
	return run, err
}

// Execute drives run from idle to live or failed. Cancelling ctx does not
// interrupt a stage: once a provider call is issued it runs until it
// completes or the HTTP client gives up. extra observers see only this run.
//
// The returned error is nil only when the run is live.
func (p *Pipeline) Execute(ctx context.Context, run *Run, extra ...Observer) error {
	ctx = context.WithoutCancel(ctx)
	ctx, span := telemetry.StartSpan(ctx, "deploy.run",
		attribute.String("deploy.provider", run.Provider),
		attribute.String("deploy.session", run.Session),
		attribute.String("deploy.run_id", run.ID),
	)
	err := p.execute(ctx, run, extra)
	span.SetAttributes(attribute.String("deploy.state", string(run.State)))
	telemetry.EndSpan(span, err)

	recordRun(run.Provider, run.State)
	return err
}

func (p *Pipeline) execute(ctx context.Context, run *Run, extra []Observer) error {
	if run.State != StateIdle {
		return apperrors.Newf(apperrors.CodeInternal, "run %s is not idle", run.ID)
	}
	p.emit(run, Transition{From: StateIdle, To: StateIdle, Note: "started", At: time.Now().UTC()}, extra)

	// Artifacts never outlive their run.
	defer func() {
		if run.Artifact != nil {
			if err := run.Artifact.Remove(); err != nil {
				p.logger.Warn("artifact cleanup failed", map[string]interface{}{
					"run_id": run.ID,
					"error":  err.Error(),
				})
			}
		}
	}()

	if err := p.stage(ctx, run, StagePackage, func(context.Context) error {
		a, err := p.packager.Package(run.Session)
		if err != nil {
			return err
		}
		run.Artifact = a
		return nil
	}); err != nil {
		return p.fail(run, err, extra)
	}
	if err := p.advance(run, StateArtifactReady, "", extra); err != nil {
		return err
	}

	job := &Job{
		RunID:    run.ID,
		Session:  run.Session,
		Artifact: run.Artifact,
		Creds:    p.creds,
	}
	job.Substage = func(name string) {
		tr := Transition{From: run.State, To: run.State, Note: name, At: time.Now().UTC()}
		run.Transitions = append(run.Transitions, tr)
		p.emit(run, tr, extra)
	}

	if err := p.checkCredentials(); err != nil {
		return p.fail(run, err, extra)
	}
	if err := p.stage(ctx, run, StageCreateTarget, func(ctx context.Context) error {
		target, err := p.provider.CreateTarget(ctx, job)
		if err != nil {
			return err
		}
		run.Target = target
		return nil
	}); err != nil {
		return p.fail(run, err, extra)
	}
	if err := p.advance(run, StateTargetCreated, run.Target.ID, extra); err != nil {
		return err
	}

	if err := p.advance(run, StateUploading, "", extra); err != nil {
		return err
	}
	if err := p.stage(ctx, run, StageUpload, func(ctx context.Context) error {
		return p.provider.Upload(ctx, job, run.Target)
	}); err != nil {
		return p.fail(run, err, extra)
	}
	if err := p.advance(run, StateUploaded, "", extra); err != nil {
		return err
	}

	if err := p.advance(run, StateActivating, "", extra); err != nil {
		return err
	}
	if err := p.stage(ctx, run, StageActivate, func(ctx context.Context) error {
		url, err := p.provider.Activate(ctx, job, run.Target)
		if err != nil {
			return err
		}
		run.URL = url
		return nil
	}); err != nil {
		return p.fail(run, err, extra)
	}
	return p.advance(run, StateLive, run.URL, extra)
}

// stage runs fn inside a span and records its duration.
func (p *Pipeline) stage(ctx context.Context, run *Run, stage Stage, fn func(context.Context) error) error {
	start := time.Now()
	ctx, span := telemetry.StartSpan(ctx, "deploy."+string(stage),
		attribute.String("deploy.provider", run.Provider),
		attribute.String("deploy.run_id", run.ID),
	)
	err := fn(ctx)
	telemetry.EndSpan(span, err)
	recordStage(run.Provider, stage, start, err)
	return err
}

func (p *Pipeline) checkCredentials() error {
	var missing []string
	for _, name := range p.provider.RequiredCredentials() {
		if p.creds == nil || p.creds.Get(name) == "" {
			missing = append(missing, name)
		}
	}
	if len(missing) == 0 {
		return nil
	}
	return apperrors.Newf(apperrors.CodeMissingCredential, "missing credential %s", missing[0]).
		WithContext("missing", missing)
}

func (p *Pipeline) advance(run *Run, to State, note string, extra []Observer) error {
	from := run.State
	if !isAllowedTransition(from, to) {
		return apperrors.Wrap(&transitionError{From: from, To: to}, apperrors.CodeInternal, "deployment state machine violated")
	}
	tr := Transition{From: from, To: to, Note: note, At: time.Now().UTC()}
	run.State = to
	run.Transitions = append(run.Transitions, tr)
	if to.IsTerminal() {
		run.FinishedAt = tr.At
	}
	p.logger.StageTransition(run.Provider, run.Session, run.ID, string(from), string(to))
	p.emit(run, tr, extra)
	return nil
}

// fail moves the run to failed and returns the error reported to callers.
// The failed stage follows from the state the run was in. Credential and
// empty-workspace failures keep their own codes; everything else is
// DEPLOY_FAILED.
func (p *Pipeline) fail(run *Run, cause error, extra []Observer) error {
	stage := stageFor(run.State)
	code := apperrors.CodeDeployFailed
	switch c := apperrors.GetCode(cause); c {
	case apperrors.CodeMissingCredential, apperrors.CodeEmptyWorkspace, apperrors.CodeInvalidSession:
		code = c
	}
	reason := apperrors.ReasonOf(cause)
	run.Failure = &Failure{Stage: stage, Code: code, Reason: reason}

	if err := p.advance(run, StateFailed, string(stage), extra); err != nil {
		return err
	}
	p.logger.Warn("deploy failed", map[string]interface{}{
		"run_id": run.ID,
		"stage":  string(stage),
		"code":   string(code),
		"reason": reason,
	})

	return apperrors.Wrap(cause, code, fmt.Sprintf("%s deploy failed at %s", run.Provider, stage)).
		WithContext("stage", string(stage)).
		WithContext("run_id", run.ID)
}

func (p *Pipeline) emit(run *Run, tr Transition, extra []Observer) {
	snap := run.Snapshot()
	if p.store != nil {
		if err := p.store.Save(snap); err != nil {
			p.logger.Warn("run record not saved", map[string]interface{}{
				"run_id": run.ID,
				"error":  err.Error(),
			})
		}
	}
	for _, o := range p.observers {
		o.OnTransition(snap, tr)
	}
	for _, o := range extra {
		o.OnTransition(snap, tr)
	}
}
