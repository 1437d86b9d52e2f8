package deploy

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/vinayprograms/shipper/internal/errors"
)

func TestDeployerRejectsConcurrentRunForSamePair(t *testing.T) {
	pkg, _ := newPackager(t)
	fp := &fakeProvider{name: "fake", holdActivate: make(chan struct{}), activating: make(chan struct{}, 4)}
	d := NewDeployer(nil, NewPipeline(fp, pkg, allCreds()))

	type outcome struct {
		run *Run
		err error
	}
	first := make(chan outcome, 1)
	go func() {
		run, err := d.Deploy(context.Background(), "fake", "demo")
		first <- outcome{run, err}
	}()

	select {
	case <-fp.activating:
	case <-time.After(5 * time.Second):
		t.Fatal("first run never reached activate")
	}

	active := d.Active()
	require.Len(t, active, 1)
	assert.Equal(t, StateActivating, active[0].State)

	run, err := d.Deploy(context.Background(), "fake", "demo")
	assert.Nil(t, run)
	assert.True(t, apperrors.IsCode(err, apperrors.CodeDeployInProgress), "got %v", err)

	close(fp.holdActivate)
	res := <-first
	require.NoError(t, res.err)
	assert.Equal(t, StateLive, res.run.State)
	assert.Empty(t, d.Active())

	// Once terminal, the pair is accepted again.
	run, err = d.Deploy(context.Background(), "fake", "demo")
	require.NoError(t, err)
	assert.Equal(t, StateLive, run.State)
	assert.NotEqual(t, res.run.ID, run.ID)
}

func TestDeployerAllowsDifferentSessionsConcurrently(t *testing.T) {
	pkg, ws := newPackager(t)
	other, err := ws.EnsureDirectory("other")
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(other, "a.txt"), []byte("a"), 0644))

	fp := &fakeProvider{name: "fake", block: make(chan struct{}), entered: make(chan struct{}, 4)}
	d := NewDeployer(nil, NewPipeline(fp, pkg, allCreds()))

	errs := make(chan error, 2)
	for _, s := range []string{"demo", "other"} {
		s := s
		go func() {
			_, err := d.Deploy(context.Background(), "fake", s)
			errs <- err
		}()
	}
	for i := 0; i < 2; i++ {
		select {
		case <-fp.entered:
		case <-time.After(5 * time.Second):
			t.Fatal("both sessions should reach create-target concurrently")
		}
	}
	close(fp.block)
	assert.NoError(t, <-errs)
	assert.NoError(t, <-errs)
}

func TestDeployerSerializesSharedTargetAcrossSessions(t *testing.T) {
	pkg, ws := newPackager(t)
	other, err := ws.EnsureDirectory("other")
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(other, "a.txt"), []byte("a"), 0644))

	fp := &fakeProvider{name: "fake", holdActivate: make(chan struct{}), activating: make(chan struct{}, 4)}
	d := NewDeployer(nil, NewPipeline(sharedFake{fp}, pkg, allCreds()))

	first := make(chan error, 1)
	go func() {
		_, err := d.Deploy(context.Background(), "fake", "demo")
		first <- err
	}()
	select {
	case <-fp.activating:
	case <-time.After(5 * time.Second):
		t.Fatal("first run never reached activate")
	}

	run, err := d.Deploy(context.Background(), "fake", "other")
	assert.Nil(t, run)
	assert.True(t, apperrors.IsCode(err, apperrors.CodeDeployInProgress), "got %v", err)

	close(fp.holdActivate)
	require.NoError(t, <-first)

	// The target is free again once the first run is terminal.
	run, err = d.Deploy(context.Background(), "fake", "other")
	require.NoError(t, err)
	assert.Equal(t, StateLive, run.State)
	assert.Equal(t, 2, countOf(fp.Calls(), "create"))
}

func TestRenderDeclaresServiceAsSharedTarget(t *testing.T) {
	var p Provider = NewRender("", nil)
	shared, ok := p.(SharedTarget)
	require.True(t, ok)
	assert.Equal(t, "srv-123", shared.TargetKey(allCreds()))

	_, ok = Provider(NewNetlify("", nil)).(SharedTarget)
	assert.False(t, ok)
}

func countOf(calls []string, name string) int {
	n := 0
	for _, c := range calls {
		if c == name {
			n++
		}
	}
	return n
}

func TestDeployerUnknownProvider(t *testing.T) {
	pkg, _ := newPackager(t)
	d := NewDeployer(nil, NewPipeline(&fakeProvider{name: "fake"}, pkg, allCreds()))

	_, err := d.Deploy(context.Background(), "heroku", "demo")
	assert.True(t, apperrors.IsCode(err, apperrors.CodeUnknownProvider))
	assert.Equal(t, []string{"fake"}, d.Providers())
}

func TestDeployerGetFromStore(t *testing.T) {
	pkg, _ := newPackager(t)
	store, err := NewStore(t.TempDir())
	require.NoError(t, err)
	d := NewDeployer(store, NewPipeline(&fakeProvider{name: "fake"}, pkg, allCreds(), WithStore(store)))

	run, err := d.Deploy(context.Background(), "fake", "demo")
	require.NoError(t, err)

	got, ok := d.Get(run.ID)
	require.True(t, ok)
	assert.Equal(t, StateLive, got.State)

	history, err := d.History("demo")
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, run.ID, history[0].ID)

	_, ok = d.Get("missing")
	assert.False(t, ok)
}
