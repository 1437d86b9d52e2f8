// Package packaging archives a session workspace into a deployable zip.
package packaging

import (
	"archive/zip"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	apperrors "github.com/vinayprograms/shipper/internal/errors"
	"github.com/vinayprograms/shipper/internal/workspace"
)

// archiveTime is stamped on every entry so identical trees produce
// identical archives.
var archiveTime = time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)

// Artifact is a packaged session, owned by one deployment run.
type Artifact struct {
	Path      string    `json:"path"`
	Session   string    `json:"session"`
	Files     int       `json:"files"`
	Size      int64     `json:"size"`
	SHA256    string    `json:"sha256"`
	CreatedAt time.Time `json:"created_at"`
}

// Remove deletes the archive. Safe to call more than once.
func (a *Artifact) Remove() error {
	if a == nil || a.Path == "" {
		return nil
	}
	if err := os.Remove(a.Path); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

// Open opens the archive for reading.
func (a *Artifact) Open() (*os.File, error) {
	return os.Open(a.Path)
}

// Packager builds artifacts from session directories into a scratch
// directory that lives outside the projects root.
type Packager struct {
	ws         *workspace.Manager
	scratchDir string
}

// New creates a Packager writing archives into scratchDir.
func New(ws *workspace.Manager, scratchDir string) (*Packager, error) {
	if err := os.MkdirAll(scratchDir, 0700); err != nil {
		return nil, apperrors.Wrap(err, apperrors.CodeInternal, "create artifact directory")
	}
	return &Packager{ws: ws, scratchDir: scratchDir}, nil
}

// Package archives the session directory recursively. Every regular file
// and directory is included with its path relative to the session root;
// symlinks are skipped. Fails with EMPTY_WORKSPACE when there is nothing
// to ship.
func (p *Packager) Package(sessionID string) (*Artifact, error) {
	dir, err := p.ws.EnsureDirectory(sessionID)
	if err != nil {
		return nil, err
	}

	entries, files, err := collect(dir)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.CodeInternal, "scan session directory").
			WithContext("session", sessionID)
	}
	if files == 0 {
		return nil, apperrors.New(apperrors.CodeEmptyWorkspace, "session has no files to deploy").
			WithContext("session", sessionID)
	}

	name := fmt.Sprintf("%s-%s.zip", sessionID, uuid.NewString())
	path := filepath.Join(p.scratchDir, name)
	size, sum, err := writeArchive(path, dir, entries)
	if err != nil {
		os.Remove(path)
		return nil, apperrors.Wrap(err, apperrors.CodeInternal, "write archive").
			WithContext("session", sessionID)
	}

	return &Artifact{
		Path:      path,
		Session:   sessionID,
		Files:     files,
		Size:      size,
		SHA256:    sum,
		CreatedAt: time.Now().UTC(),
	}, nil
}

type entry struct {
	rel   string // slash separated
	isDir bool
}

func collect(root string) ([]entry, int, error) {
	var entries []entry
	files := 0
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if path == root {
			return nil
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		switch {
		case d.IsDir():
			entries = append(entries, entry{rel: filepath.ToSlash(rel), isDir: true})
		case d.Type().IsRegular():
			entries = append(entries, entry{rel: filepath.ToSlash(rel)})
			files++
		}
		return nil
	})
	if err != nil {
		return nil, 0, err
	}

	// Sort for deterministic order
	sort.Slice(entries, func(i, j int) bool { return entries[i].rel < entries[j].rel })
	return entries, files, nil
}

func writeArchive(path, root string, entries []entry) (int64, string, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0600)
	if err != nil {
		return 0, "", err
	}
	defer f.Close()

	hash := sha256.New()
	counter := &countingWriter{}
	zw := zip.NewWriter(io.MultiWriter(f, hash, counter))

	for _, e := range entries {
		if err := addEntry(zw, root, e); err != nil {
			zw.Close()
			return 0, "", err
		}
	}
	if err := zw.Close(); err != nil {
		return 0, "", err
	}
	if err := f.Sync(); err != nil {
		return 0, "", err
	}
	return counter.n, hex.EncodeToString(hash.Sum(nil)), nil
}

func addEntry(zw *zip.Writer, root string, e entry) error {
	header := &zip.FileHeader{
		Name:     e.rel,
		Method:   zip.Deflate,
		Modified: archiveTime,
	}
	if e.isDir {
		header.Name += "/"
		header.Method = zip.Store
		header.SetMode(fs.ModeDir | 0755)
		_, err := zw.CreateHeader(header)
		return err
	}
	header.SetMode(0644)

	src, err := os.Open(filepath.Join(root, filepath.FromSlash(e.rel)))
	if err != nil {
		return err
	}
	defer src.Close()

	w, err := zw.CreateHeader(header)
	if err != nil {
		return err
	}
	_, err = io.Copy(w, src)
	return err
}

type countingWriter struct{ n int64 }

func (c *countingWriter) Write(p []byte) (int, error) {
	c.n += int64(len(p))
	return len(p), nil
}

// File is one regular file inside an archive.
type File struct {
	Name string // slash separated, relative
	Size int64
	Open func() (io.ReadCloser, error)
}

// Walk calls fn for every regular file in the archive, in archive order.
func Walk(archivePath string, fn func(File) error) error {
	zr, err := zip.OpenReader(archivePath)
	if err != nil {
		return err
	}
	defer zr.Close()

	for _, zf := range zr.File {
		if strings.HasSuffix(zf.Name, "/") || zf.FileInfo().IsDir() {
			continue
		}
		zf := zf
		if err := fn(File{Name: zf.Name, Size: int64(zf.UncompressedSize64), Open: zf.Open}); err != nil {
			return err
		}
	}
	return nil
}

// Extract unpacks an archive into targetDir, rejecting entries that would
// land outside it.
func Extract(archivePath, targetDir string) error {
	zr, err := zip.OpenReader(archivePath)
	if err != nil {
		return err
	}
	defer zr.Close()

	base := filepath.Clean(targetDir)
	for _, zf := range zr.File {
		targetPath := filepath.Join(base, filepath.FromSlash(zf.Name))

		// Security: prevent path traversal
		if targetPath != base && !strings.HasPrefix(targetPath, base+string(filepath.Separator)) {
			return fmt.Errorf("invalid path in archive: %s", zf.Name)
		}

		if zf.FileInfo().IsDir() {
			if err := os.MkdirAll(targetPath, 0755); err != nil {
				return err
			}
			continue
		}
		if err := os.MkdirAll(filepath.Dir(targetPath), 0755); err != nil {
			return err
		}
		if err := extractFile(zf, targetPath); err != nil {
			return err
		}
	}
	return nil
}

func extractFile(zf *zip.File, targetPath string) error {
	rc, err := zf.Open()
	if err != nil {
		return err
	}
	defer rc.Close()

	f, err := os.Create(targetPath)
	if err != nil {
		return err
	}
	if _, err := io.Copy(f, rc); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
