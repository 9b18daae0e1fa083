// Package localstore wraps filesystem access to the synchronized local root:
// atomic writes, directory creation, and the hidden metadata directory that
// holds the snapshot, exclude list, log file, and a daemon single-instance
// lock.
package localstore

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"time"
)

const (
	filePermissions = 0o644
	dirPermissions  = 0o755

	// MetadataDirName is the hidden directory created under the local root.
	MetadataDirName = ".ncsync"

	snapshotFileName = "cache.json"
	excludeFileName  = "exclude"
	logFileName      = "logfile"
	lockFileName     = "daemon.lock"
	ledgerFileName   = "audit.db"
	stashDirName     = ".stash"
)

// ErrNotRegularFile is returned by Stat-adjacent calls when a path exists
// but is not a regular file or directory (e.g. a symlink or socket).
var ErrNotRegularFile = errors.New("localstore: not a regular file or directory")

// Store roots all local filesystem operations at a single local directory.
type Store struct {
	root string
}

// New creates a Store rooted at root. root must already exist.
func New(root string) *Store {
	return &Store{root: filepath.Clean(root)}
}

// Root returns the absolute local root directory.
func (s *Store) Root() string { return s.root }

// MetadataDir returns the path to the hidden metadata directory.
func (s *Store) MetadataDir() string { return filepath.Join(s.root, MetadataDirName) }

// SnapshotPath returns the path to the tree snapshot file.
func (s *Store) SnapshotPath() string { return filepath.Join(s.MetadataDir(), snapshotFileName) }

// ExcludeFilePath returns the path to the exclude-list file.
func (s *Store) ExcludeFilePath() string { return filepath.Join(s.MetadataDir(), excludeFileName) }

// LogFilePath returns the path to the daemon log file.
func (s *Store) LogFilePath() string { return filepath.Join(s.MetadataDir(), logFileName) }

// LockFilePath returns the path to the single-instance lock file.
func (s *Store) LockFilePath() string { return filepath.Join(s.MetadataDir(), lockFileName) }

// LedgerPath returns the path to the audit ledger SQLite database.
func (s *Store) LedgerPath() string { return filepath.Join(s.MetadataDir(), ledgerFileName) }

// SnapshotRelPath returns the tree snapshot's path relative to the root, in
// the "/"-prefixed form the Read/WriteAtomicBytes/Exists/Remove methods
// expect.
func (s *Store) SnapshotRelPath() string {
	return "/" + filepath.ToSlash(filepath.Join(MetadataDirName, snapshotFileName))
}

// StashDir returns the path to the directory holding locally preserved
// files displaced by a remote-wins conflict resolution.
func (s *Store) StashDir() string { return filepath.Join(s.root, stashDirName) }

// EnsureMetadataDir creates the metadata directory (and stash subdirectory)
// if absent.
func (s *Store) EnsureMetadataDir() error {
	if err := os.MkdirAll(s.MetadataDir(), dirPermissions); err != nil {
		return fmt.Errorf("localstore: creating metadata dir: %w", err)
	}

	if err := os.MkdirAll(s.StashDir(), dirPermissions); err != nil {
		return fmt.Errorf("localstore: creating stash dir: %w", err)
	}

	return nil
}

// AbsPath resolves a tree-relative path (always "/"-prefixed) to an
// absolute local filesystem path under the root.
func (s *Store) AbsPath(relPath string) string {
	return filepath.Join(s.root, filepath.FromSlash(relPath))
}

// Read returns the full contents of the file at relPath.
func (s *Store) Read(relPath string) ([]byte, error) {
	data, err := os.ReadFile(s.AbsPath(relPath))
	if err != nil {
		return nil, fmt.Errorf("localstore: reading %s: %w", relPath, err)
	}

	return data, nil
}

// Open opens the file at relPath for streaming reads (e.g. upload bodies).
func (s *Store) Open(relPath string) (*os.File, error) {
	f, err := os.Open(s.AbsPath(relPath))
	if err != nil {
		return nil, fmt.Errorf("localstore: opening %s: %w", relPath, err)
	}

	return f, nil
}

// WriteAtomic writes content to relPath by writing to a sibling temp file
// and renaming it into place, so readers never observe a partially written
// file. Missing parent directories are created first.
func (s *Store) WriteAtomic(relPath string, content io.Reader) (int64, error) {
	absPath := s.AbsPath(relPath)

	if err := os.MkdirAll(filepath.Dir(absPath), dirPermissions); err != nil {
		return 0, fmt.Errorf("localstore: mkdir for %s: %w", relPath, err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(absPath), ".tmp-*")
	if err != nil {
		return 0, fmt.Errorf("localstore: creating temp file for %s: %w", relPath, err)
	}

	tmpPath := tmp.Name()

	n, err := io.Copy(tmp, content)
	if err != nil {
		tmp.Close()
		os.Remove(tmpPath)

		return 0, fmt.Errorf("localstore: writing temp file for %s: %w", relPath, err)
	}

	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpPath)

		return 0, fmt.Errorf("localstore: syncing temp file for %s: %w", relPath, err)
	}

	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return 0, fmt.Errorf("localstore: closing temp file for %s: %w", relPath, err)
	}

	if err := os.Chmod(tmpPath, filePermissions); err != nil {
		os.Remove(tmpPath)
		return 0, fmt.Errorf("localstore: chmod temp file for %s: %w", relPath, err)
	}

	if err := os.Rename(tmpPath, absPath); err != nil {
		os.Remove(tmpPath)
		return 0, fmt.Errorf("localstore: renaming temp file into place for %s: %w", relPath, err)
	}

	return n, nil
}

// WriteAtomicBytes is a convenience wrapper around WriteAtomic for in-memory
// content (used for the snapshot file and exclude list).
func (s *Store) WriteAtomicBytes(relPath string, data []byte) error {
	_, err := s.WriteAtomic(relPath, bytes.NewReader(data))
	return err
}

// MkdirP creates relPath and any missing parents as a directory.
func (s *Store) MkdirP(relPath string) error {
	if err := os.MkdirAll(s.AbsPath(relPath), dirPermissions); err != nil {
		return fmt.Errorf("localstore: mkdir %s: %w", relPath, err)
	}

	return nil
}

// Remove deletes the file or directory (recursively) at relPath.
func (s *Store) Remove(relPath string) error {
	if err := os.RemoveAll(s.AbsPath(relPath)); err != nil {
		return fmt.Errorf("localstore: removing %s: %w", relPath, err)
	}

	return nil
}

// Rename moves fromPath to toPath, creating toPath's parent if needed.
func (s *Store) Rename(fromPath, toPath string) error {
	absTo := s.AbsPath(toPath)

	if err := os.MkdirAll(filepath.Dir(absTo), dirPermissions); err != nil {
		return fmt.Errorf("localstore: mkdir for rename target %s: %w", toPath, err)
	}

	if err := os.Rename(s.AbsPath(fromPath), absTo); err != nil {
		return fmt.Errorf("localstore: renaming %s to %s: %w", fromPath, toPath, err)
	}

	return nil
}

// Info is the subset of os.FileInfo the reconciler needs to decide whether
// a local file still matches a previously recorded expectation.
type Info struct {
	Size    int64
	ModTime time.Time
	IsDir   bool
}

// Stat returns Info for relPath, or a wrapped fs.ErrNotExist if absent.
func (s *Store) Stat(relPath string) (Info, error) {
	fi, err := os.Stat(s.AbsPath(relPath))
	if err != nil {
		return Info{}, fmt.Errorf("localstore: stat %s: %w", relPath, err)
	}

	if !fi.Mode().IsRegular() && !fi.IsDir() {
		return Info{}, fmt.Errorf("%w: %s", ErrNotRegularFile, relPath)
	}

	return Info{Size: fi.Size(), ModTime: fi.ModTime(), IsDir: fi.IsDir()}, nil
}

// Exists reports whether relPath exists, treating any stat error other than
// fs.ErrNotExist as "unknown" (propagated, not swallowed).
func (s *Store) Exists(relPath string) (bool, error) {
	_, err := os.Stat(s.AbsPath(relPath))
	if err == nil {
		return true, nil
	}

	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}

	return false, fmt.Errorf("localstore: stat %s: %w", relPath, err)
}

// MoveToStash relocates the local file at relPath into the stash directory,
// used when a conflict resolution preserves the local version displaced by
// a remote-wins write. Returns the path (relative to the root) it was
// stashed at.
func (s *Store) MoveToStash(relPath string) (string, error) {
	stashRel := filepath.ToSlash(filepath.Join(stashDirName, relPath))

	absStash := s.AbsPath(stashRel)
	if err := os.MkdirAll(filepath.Dir(absStash), dirPermissions); err != nil {
		return "", fmt.Errorf("localstore: mkdir for stash %s: %w", stashRel, err)
	}

	// Avoid clobbering a prior stash of the same path: append a timestamp
	// suffix on collision.
	if _, err := os.Stat(absStash); err == nil {
		ext := filepath.Ext(absStash)
		base := absStash[:len(absStash)-len(ext)]
		absStash = fmt.Sprintf("%s.%d%s", base, time.Now().UnixNano(), ext)
	}

	if err := os.Rename(s.AbsPath(relPath), absStash); err != nil {
		return "", fmt.Errorf("localstore: moving %s to stash: %w", relPath, err)
	}

	rel, err := filepath.Rel(s.root, absStash)
	if err != nil {
		return "", fmt.Errorf("localstore: computing stash-relative path: %w", err)
	}

	return filepath.ToSlash(rel), nil
}
