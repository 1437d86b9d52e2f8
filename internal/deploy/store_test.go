package deploy

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStoreSaveAndGet(t *testing.T) {
	store, err := NewStore(t.TempDir())
	require.NoError(t, err)

	run := NewRun("netlify", "demo")
	run.State = StateLive
	run.URL = "https://demo.example"
	run.Target = &Target{ID: "site-1", Meta: map[string]string{"deploy_id": "d1"}}
	require.NoError(t, store.Save(run))

	got, err := store.Get(run.ID)
	require.NoError(t, err)
	assert.Equal(t, run.ID, got.ID)
	assert.Equal(t, StateLive, got.State)
	assert.Equal(t, "d1", got.Target.Meta["deploy_id"])

	// Saving again replaces the record.
	run.URL = "https://other.example"
	require.NoError(t, store.Save(run))
	got, err = store.Get(run.ID)
	require.NoError(t, err)
	assert.Equal(t, "https://other.example", got.URL)
}

func TestStoreRejectsPathLikeIDs(t *testing.T) {
	store, err := NewStore(t.TempDir())
	require.NoError(t, err)

	for _, id := range []string{"", "../escape", "a/b"} {
		_, err := store.Get(id)
		assert.Error(t, err, id)
	}
}

func TestStoreListFiltersAndOrders(t *testing.T) {
	dir := t.TempDir()
	store, err := NewStore(dir)
	require.NoError(t, err)

	base := time.Now().UTC()
	for i, session := range []string{"a", "b", "a"} {
		run := NewRun("render", session)
		run.StartedAt = base.Add(time.Duration(i) * time.Minute)
		require.NoError(t, store.Save(run))
	}
	require.NoError(t, os.WriteFile(filepath.Join(dir, "junk.json"), []byte("{not json"), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("x"), 0644))

	all, err := store.List("")
	require.NoError(t, err)
	assert.Len(t, all, 3)

	onlyA, err := store.List("a")
	require.NoError(t, err)
	require.Len(t, onlyA, 2)
	assert.True(t, onlyA[0].StartedAt.Before(onlyA[1].StartedAt))
}
