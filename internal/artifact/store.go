// Package artifact implements the Artifact Store: the sole gatekeeper for
// reads and writes under a run root. Every other package touches the run
// directory only through a Store, never through raw os calls.
package artifact

import (
	"os"
	"path/filepath"

	"github.com/anvil-run/anvil/internal/errors"
	"github.com/anvil-run/anvil/internal/fs"
)

// Store roots all I/O at a single run directory and refuses any path that
// resolves outside it, symlinks included.
type Store struct {
	root string
	fsys fs.FS
}

// New returns a Store rooted at root. root must already exist; New does not
// create it (the caller creates the run directory once, before any track
// or session component is handed a Store).
func New(root string, fsys fs.FS) (*Store, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, errors.Wrap(errors.EInternal, "resolve run root", err)
	}
	return &Store{root: abs, fsys: fsys}, nil
}

// Root returns the store's canonical run root.
func (s *Store) Root() string {
	return s.root
}

// Path resolves a relative path against the run root and returns the
// absolute path, without touching the filesystem. Use resolve for the
// symlink-aware guard applied before any actual I/O.
func (s *Store) Path(relative string) string {
	return filepath.Join(s.root, filepath.Clean(string(filepath.Separator)+relative))
}

// resolve returns the absolute path for relative, verifying that it is a
// descendant of the canonical (symlink-resolved) run root. Components that
// do not yet exist are permitted — only the parts that do exist are
// resolved — so a Write to a not-yet-created file still passes the guard.
func (s *Store) resolve(relative string) (string, error) {
	want := s.Path(relative)

	canonicalRoot, err := canonicalize(s.root)
	if err != nil {
		return "", errors.Wrap(errors.EPathEscape, "resolve run root", err)
	}

	canonicalWant, err := canonicalizeClosestExisting(want)
	if err != nil {
		return "", errors.Wrap(errors.EPathEscape, "resolve path", err)
	}

	if canonicalWant != canonicalRoot && !fs.IsSubpath(canonicalWant, canonicalRoot) {
		return "", errors.NewWithDetails(errors.EPathEscape, "path escapes run root",
			map[string]string{"path": relative, "resolved": canonicalWant, "root": canonicalRoot})
	}
	return want, nil
}

// canonicalize resolves symlinks for a path that must already exist.
func canonicalize(path string) (string, error) {
	return filepath.EvalSymlinks(path)
}

// canonicalizeClosestExisting walks up from path until it finds an existing
// ancestor, resolves that ancestor's symlinks, then rejoins the remaining
// (not-yet-existing) suffix — so PathEscape is still caught for files that
// will be created through a symlinked intermediate directory.
func canonicalizeClosestExisting(path string) (string, error) {
	clean := filepath.Clean(path)
	if _, err := os.Lstat(clean); err == nil {
		return filepath.EvalSymlinks(clean)
	}

	parent := filepath.Dir(clean)
	if parent == clean {
		return clean, nil
	}
	resolvedParent, err := canonicalizeClosestExisting(parent)
	if err != nil {
		return "", err
	}
	return filepath.Join(resolvedParent, filepath.Base(clean)), nil
}

// Exists reports whether relative exists under the run root.
func (s *Store) Exists(relative string) bool {
	abs, err := s.resolve(relative)
	if err != nil {
		return false
	}
	return fs.Exists(s.fsys, abs)
}

// MkdirAll creates relative (and parents) under the run root.
func (s *Store) MkdirAll(relative string) error {
	abs, err := s.resolve(relative)
	if err != nil {
		return err
	}
	return s.fsys.MkdirAll(abs, 0o755)
}

// Write atomically writes data to relative under the run root, creating
// parent directories as needed.
func (s *Store) Write(relative string, data []byte) error {
	abs, err := s.resolve(relative)
	if err != nil {
		return err
	}
	if err := s.fsys.MkdirAll(filepath.Dir(abs), 0o755); err != nil {
		return errors.Wrap(errors.EInternal, "create parent directory", err)
	}
	if err := fs.WriteAtomic(s.fsys, abs, data, 0o644); err != nil {
		return errors.Wrap(errors.EInternal, "write artifact", err)
	}
	return nil
}

// WriteJSON atomically marshals v and writes it to relative.
func (s *Store) WriteJSON(relative string, v interface{}) error {
	abs, err := s.resolve(relative)
	if err != nil {
		return err
	}
	if err := s.fsys.MkdirAll(filepath.Dir(abs), 0o755); err != nil {
		return errors.Wrap(errors.EInternal, "create parent directory", err)
	}
	if err := fs.WriteJSONAtomic(s.fsys, abs, v, 0o644); err != nil {
		return errors.Wrap(errors.EInternal, "write json artifact", err)
	}
	return nil
}

// Read reads the contents of relative.
func (s *Store) Read(relative string) ([]byte, error) {
	abs, err := s.resolve(relative)
	if err != nil {
		return nil, err
	}
	data, err := s.fsys.ReadFile(abs)
	if err != nil {
		return nil, errors.Wrap(errors.EInternal, "read artifact", err)
	}
	return data, nil
}

// Glob matches pattern (a filepath.Match pattern, interpreted relative to
// the run root) against files under the run root, returning matches as
// paths relative to the run root in lexical order. Used by the Blackboard
// and Judge to discover the highest-numbered iteration directory per
// track.
func (s *Store) Glob(pattern string) ([]string, error) {
	abs := filepath.Join(s.root, pattern)
	matches, err := filepath.Glob(abs)
	if err != nil {
		return nil, errors.Wrap(errors.EInternal, "glob artifacts", err)
	}
	rel := make([]string, 0, len(matches))
	for _, m := range matches {
		r, err := filepath.Rel(s.root, m)
		if err != nil {
			continue
		}
		rel = append(rel, r)
	}
	return rel, nil
}
