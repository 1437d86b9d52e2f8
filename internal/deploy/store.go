package deploy

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
)

// RunStore persists run records as one JSON file per run. Records are
// operational history only; nothing reads them back to resume a run.
type RunStore struct {
	dir string
	mu  sync.Mutex
}

// NewStore creates a run store under dir.
func NewStore(dir string) (*RunStore, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create run directory: %w", err)
	}
	return &RunStore{dir: dir}, nil
}

// Save writes run, replacing any earlier record with the same id.
func (s *RunStore) Save(run *Run) error {
	data, err := json.MarshalIndent(run, "", "  ")
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	path := s.path(run.ID)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

// Get loads one run by id.
func (s *RunStore) Get(id string) (*Run, error) {
	if id == "" || filepath.Base(id) != id {
		return nil, fmt.Errorf("invalid run id %q", id)
	}
	data, err := os.ReadFile(s.path(id))
	if err != nil {
		return nil, err
	}
	var run Run
	if err := json.Unmarshal(data, &run); err != nil {
		return nil, fmt.Errorf("corrupt run record %s: %w", id, err)
	}
	return &run, nil
}

// List returns runs for session (all sessions if empty), oldest first.
// Unreadable records are skipped.
func (s *RunStore) List(session string) ([]*Run, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	var runs []*Run
	for _, entry := range entries {
		if entry.IsDir() || filepath.Ext(entry.Name()) != ".json" {
			continue
		}
		run, err := s.Get(entry.Name()[:len(entry.Name())-5])
		if err != nil {
			continue
		}
		if session != "" && run.Session != session {
			continue
		}
		runs = append(runs, run)
	}
	sort.Slice(runs, func(i, j int) bool { return runs[i].StartedAt.Before(runs[j].StartedAt) })
	return runs, nil
}

func (s *RunStore) path(id string) string {
	return filepath.Join(s.dir, id+".json")
}
