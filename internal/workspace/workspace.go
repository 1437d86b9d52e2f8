// Package workspace maps session ids to sandbox directories under a single
// projects root and confines every path a tool touches to its session.
package workspace

import (
	"os"
	"path/filepath"
	"strings"

	apperrors "github.com/vinayprograms/shipper/internal/errors"
)

const maxSessionIDLen = 128

// Manager owns the projects root and every session directory below it.
type Manager struct {
	root string
}

// New returns a manager rooted at root, creating it if needed.
func New(root string) (*Manager, error) {
	if root == "" {
		return nil, apperrors.New(apperrors.CodeConfigInvalid, "projects root is empty")
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.CodeConfigInvalid, "invalid projects root")
	}
	if err := os.MkdirAll(abs, 0755); err != nil {
		return nil, apperrors.Wrap(err, apperrors.CodeInternal, "create projects root")
	}
	// Symlinked roots (e.g. /tmp on macOS) must compare equal to resolved paths.
	if resolved, err := filepath.EvalSymlinks(abs); err == nil {
		abs = resolved
	}
	return &Manager{root: abs}, nil
}

// Root returns the absolute projects root.
func (m *Manager) Root() string {
	return m.root
}

// ValidateSessionID reports whether id can name a session directory.
func ValidateSessionID(id string) error {
	switch {
	case id == "":
		return apperrors.New(apperrors.CodeInvalidSession, "session id is empty")
	case len(id) > maxSessionIDLen:
		return apperrors.Newf(apperrors.CodeInvalidSession, "session id longer than %d bytes", maxSessionIDLen)
	case id == "." || id == "..":
		return apperrors.Newf(apperrors.CodeInvalidSession, "session id %q is reserved", id)
	case strings.ContainsAny(id, `/\`) || strings.ContainsRune(id, 0):
		return apperrors.Newf(apperrors.CodeInvalidSession, "session id %q contains a path separator", id)
	}
	return nil
}

// SessionDir returns the directory for sessionID without creating it.
func (m *Manager) SessionDir(sessionID string) (string, error) {
	if err := ValidateSessionID(sessionID); err != nil {
		return "", err
	}
	return filepath.Join(m.root, sessionID), nil
}

// EnsureDirectory creates the session directory if it does not exist and
// returns its path. Safe to call repeatedly.
func (m *Manager) EnsureDirectory(sessionID string) (string, error) {
	dir, err := m.SessionDir(sessionID)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", apperrors.Wrap(err, apperrors.CodeInternal, "create session directory").
			WithContext("session", sessionID)
	}
	return dir, nil
}

// Resolve maps a session-relative path to an absolute path inside the
// session directory. Absolute paths, ".." segments and paths that reach
// outside through a symlink fail with PATH_ESCAPE. An empty path resolves
// to the session directory.
func (m *Manager) Resolve(sessionID, rel string) (string, error) {
	dir, err := m.SessionDir(sessionID)
	if err != nil {
		return "", err
	}

	escape := func(reason string) error {
		return apperrors.New(apperrors.CodePathEscape, reason).
			WithContext("session", sessionID).
			WithContext("path", rel)
	}

	if strings.ContainsRune(rel, 0) {
		return "", escape("path contains NUL byte")
	}
	if filepath.IsAbs(rel) || strings.HasPrefix(rel, "/") || strings.HasPrefix(rel, `\`) || filepath.VolumeName(rel) != "" {
		return "", escape("absolute paths are not allowed")
	}
	for _, seg := range strings.FieldsFunc(rel, func(r rune) bool { return r == '/' || r == '\\' }) {
		if seg == ".." {
			return "", escape("path must not contain '..'")
		}
	}

	target := filepath.Join(dir, filepath.FromSlash(rel))
	if !within(dir, target) {
		return "", escape("path resolves outside the session directory")
	}

	// A symlink inside the session may point elsewhere; check the nearest
	// existing ancestor of target after resolution.
	real, err := resolveExisting(target)
	if err != nil {
		return "", escape("path contains an unresolvable symlink")
	}
	realDir := dir
	if r, err := filepath.EvalSymlinks(dir); err == nil {
		realDir = r
	}
	if !within(realDir, real) {
		return "", escape("path resolves outside the session directory through a symlink")
	}
	return target, nil
}

// ResolveDir resolves rel and creates its parent directories, for writers.
func (m *Manager) ResolveDir(sessionID, rel string) (string, error) {
	if _, err := m.EnsureDirectory(sessionID); err != nil {
		return "", err
	}
	target, err := m.Resolve(sessionID, rel)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(filepath.Dir(target), 0755); err != nil {
		return "", apperrors.Wrap(err, apperrors.CodeInternal, "create parent directory").
			WithContext("path", rel)
	}
	return target, nil
}

// Relative returns abs relative to the session directory, slash separated.
func (m *Manager) Relative(sessionID, abs string) (string, error) {
	dir, err := m.SessionDir(sessionID)
	if err != nil {
		return "", err
	}
	rel, err := filepath.Rel(dir, abs)
	if err != nil {
		return "", err
	}
	return filepath.ToSlash(rel), nil
}

func within(root, path string) bool {
	if path == root {
		return true
	}
	return strings.HasPrefix(path, root+string(filepath.Separator))
}

// resolveExisting evaluates symlinks on the longest existing prefix of
// path and re-appends the missing tail. Dangling links are an error.
func resolveExisting(path string) (string, error) {
	tail := ""
	cur := path
	for {
		if _, err := os.Lstat(cur); err == nil {
			real, err := filepath.EvalSymlinks(cur)
			if err != nil {
				return "", err
			}
			return filepath.Join(real, tail), nil
		}
		parent := filepath.Dir(cur)
		if parent == cur {
			return path, nil
		}
		tail = filepath.Join(filepath.Base(cur), tail)
		cur = parent
	}
}
