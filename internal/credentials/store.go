package credentials

import (
	"context"
	"path/filepath"
	"sync/atomic"

	"github.com/fsnotify/fsnotify"

	"github.com/vinayprograms/shipper/internal/logging"
)

// Store holds the current credentials and swaps them when the backing
// files change, so a long-running server sees added or revoked tokens.
type Store struct {
	credPath string
	envPath  string
	current  atomic.Pointer[Credentials]
	logger   *logging.Logger
}

// NewStore loads credentials from credPath and envPath.
func NewStore(credPath, envPath string, logger *logging.Logger) (*Store, error) {
	if logger == nil {
		logger = logging.Nop()
	}
	s := &Store{credPath: credPath, envPath: envPath, logger: logger.WithComponent("credentials")}
	if err := s.Reload(); err != nil {
		return nil, err
	}
	return s, nil
}

// Reload re-reads both files. On error the previous credentials stay active.
func (s *Store) Reload() error {
	creds, err := LoadFiles(s.credPath, s.envPath)
	if err != nil {
		return err
	}
	s.current.Store(creds)
	return nil
}

// Current returns the active credentials.
func (s *Store) Current() *Credentials {
	return s.current.Load()
}

// Get returns the value for name from the active credentials.
func (s *Store) Get(name string) string {
	return s.current.Load().Get(name)
}

// Watch reloads credentials whenever either file is written, created or
// renamed. It blocks until ctx is done.
func (s *Store) Watch(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer watcher.Close()

	// Watch parent directories so editors that replace files are seen.
	targets := map[string]bool{}
	dirs := map[string]bool{}
	for _, p := range []string{s.credPath, s.envPath} {
		if p == "" {
			continue
		}
		abs, err := filepath.Abs(p)
		if err != nil {
			continue
		}
		targets[abs] = true
		dirs[filepath.Dir(abs)] = true
	}
	for dir := range dirs {
		if err := watcher.Add(dir); err != nil {
			return err
		}
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if !targets[filepath.Clean(event.Name)] {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) && !event.Has(fsnotify.Remove) {
				continue
			}
			if err := s.Reload(); err != nil {
				s.logger.Warn("credential reload failed", map[string]interface{}{
					"file":  event.Name,
					"error": err.Error(),
				})
				continue
			}
			s.logger.Info("credentials reloaded", map[string]interface{}{"file": event.Name})
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			s.logger.Warn("credential watcher error", map[string]interface{}{"error": err.Error()})
		}
	}
}
