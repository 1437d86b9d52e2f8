package deploy

import (
	"context"
	"sort"
	"sync"

	apperrors "github.com/vinayprograms/shipper/internal/errors"
)

type runKey struct {
	session  string
	provider string
}

type sharedKey struct {
	target   string
	provider string
}

// Deployer routes deploy requests to per-provider pipelines and allows at
// most one active run per (session, provider), and per shared target
// across sessions.
type Deployer struct {
	pipelines map[string]*Pipeline
	store     *RunStore

	mu      sync.Mutex
	active  map[runKey]string    // run id
	targets map[sharedKey]string // run id
	latest  map[string]*Run      // snapshots of active runs by id
}

// NewDeployer creates a deployer over pipelines, keyed by provider name.
func NewDeployer(store *RunStore, pipelines ...*Pipeline) *Deployer {
	d := &Deployer{
		pipelines: make(map[string]*Pipeline, len(pipelines)),
		store:     store,
		active:    make(map[runKey]string),
		targets:   make(map[sharedKey]string),
		latest:    make(map[string]*Run),
	}
	for _, p := range pipelines {
		d.pipelines[p.Provider().Name()] = p
	}
	return d
}

// Providers returns the configured provider names, sorted.
func (d *Deployer) Providers() []string {
	names := make([]string, 0, len(d.pipelines))
	for name := range d.pipelines {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Deploy runs a fresh deployment of sessionID to provider and blocks until
// it is terminal. A concurrent request for the same pair, or for a shared
// target another session is deploying into, fails at once with
// DEPLOY_IN_PROGRESS. The returned run is non-nil whenever a run was
// started, including failed ones.
func (d *Deployer) Deploy(ctx context.Context, provider, sessionID string) (*Run, error) {
	p, ok := d.pipelines[provider]
	if !ok {
		return nil, apperrors.Newf(apperrors.CodeUnknownProvider, "unknown provider %q", provider)
	}

	run := NewRun(provider, sessionID)
	key := runKey{session: sessionID, provider: provider}
	var target *sharedKey
	if tk := p.targetKey(); tk != "" {
		target = &sharedKey{target: tk, provider: provider}
	}

	d.mu.Lock()
	if activeID, busy := d.active[key]; busy {
		d.mu.Unlock()
		metricRejected.WithLabelValues(provider).Inc()
		return nil, apperrors.Newf(apperrors.CodeDeployInProgress, "a %s deployment for session %s is already running", provider, sessionID).
			WithContext("run_id", activeID)
	}
	if target != nil {
		if activeID, busy := d.targets[*target]; busy {
			d.mu.Unlock()
			metricRejected.WithLabelValues(provider).Inc()
			return nil, apperrors.Newf(apperrors.CodeDeployInProgress, "a %s deployment into %s is already running", provider, target.target).
				WithContext("run_id", activeID)
		}
		d.targets[*target] = run.ID
	}
	d.active[key] = run.ID
	d.latest[run.ID] = run.Snapshot()
	d.mu.Unlock()
	metricInFlight.WithLabelValues(provider).Inc()

	defer func() {
		d.mu.Lock()
		delete(d.active, key)
		if target != nil {
			delete(d.targets, *target)
		}
		delete(d.latest, run.ID)
		d.mu.Unlock()
		metricInFlight.WithLabelValues(provider).Dec()
	}()

	track := ObserverFunc(func(snap *Run, _ Transition) {
		d.mu.Lock()
		if _, ok := d.latest[snap.ID]; ok {
			d.latest[snap.ID] = snap
		}
		d.mu.Unlock()
	})

	err := p.Execute(ctx, run, track)
	return run.Snapshot(), err
}

// Active returns snapshots of runs that have not reached a terminal state.
func (d *Deployer) Active() []*Run {
	d.mu.Lock()
	defer d.mu.Unlock()
	runs := make([]*Run, 0, len(d.latest))
	for _, r := range d.latest {
		runs = append(runs, r)
	}
	sort.Slice(runs, func(i, j int) bool { return runs[i].StartedAt.Before(runs[j].StartedAt) })
	return runs
}

// Get returns the latest known state of a run, active or persisted.
func (d *Deployer) Get(id string) (*Run, bool) {
	d.mu.Lock()
	r, ok := d.latest[id]
	d.mu.Unlock()
	if ok {
		return r, true
	}
	if d.store == nil {
		return nil, false
	}
	r, err := d.store.Get(id)
	if err != nil {
		return nil, false
	}
	return r, true
}

// History returns persisted runs for a session.
func (d *Deployer) History(sessionID string) ([]*Run, error) {
	if d.store == nil {
		return nil, nil
	}
	return d.store.List(sessionID)
}
