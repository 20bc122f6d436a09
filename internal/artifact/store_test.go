package artifact

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/anvil-run/anvil/internal/errors"
	"github.com/anvil-run/anvil/internal/fs"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	root := t.TempDir()
	s, err := New(root, fs.OSFS{})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	return s
}

func TestStore_WriteReadRoundTrip(t *testing.T) {
	s := newTestStore(t)
	if err := s.Write("tracks/fixer-a/iter_01/ITERATION.txt", []byte("hello")); err != nil {
		t.Fatalf("Write() error = %v", err)
	}
	got, err := s.Read("tracks/fixer-a/iter_01/ITERATION.txt")
	if err != nil {
		t.Fatalf("Read() error = %v", err)
	}
	if string(got) != "hello" {
		t.Errorf("Read() = %q, want %q", got, "hello")
	}
	if !s.Exists("tracks/fixer-a/iter_01/ITERATION.txt") {
		t.Error("Exists() = false, want true")
	}
}

func TestStore_WriteJSON(t *testing.T) {
	s := newTestStore(t)
	type doc struct {
		Status string `json:"status"`
	}
	if err := s.WriteJSON("RUN_STATUS.json", doc{Status: "RUNNING"}); err != nil {
		t.Fatalf("WriteJSON() error = %v", err)
	}
	data, err := s.Read("RUN_STATUS.json")
	if err != nil {
		t.Fatalf("Read() error = %v", err)
	}
	if !contains(string(data), `"RUNNING"`) {
		t.Errorf("unexpected json: %s", data)
	}
}

func TestStore_DotDot_ClampedToRoot(t *testing.T) {
	s := newTestStore(t)
	if err := s.Write("../../etc/passwd", []byte("pwned")); err != nil {
		t.Fatalf("Write() error = %v", err)
	}
	if !fs.IsSubpath(s.Path("escaped-check"), s.Root()) {
		t.Fatal("sanity check of IsSubpath helper failed")
	}
	clamped := s.Path("../../etc/passwd")
	if !fs.IsSubpath(clamped, s.Root()) {
		t.Errorf("clamped path %q escaped root %q", clamped, s.Root())
	}
}

func TestStore_PathEscape_Symlink(t *testing.T) {
	s := newTestStore(t)
	outside := t.TempDir()
	link := filepath.Join(s.Root(), "escape")
	if err := os.Symlink(outside, link); err != nil {
		t.Skipf("symlinks unsupported: %v", err)
	}
	err := s.Write("escape/passwd", []byte("pwned"))
	if errors.GetCode(err) != errors.EPathEscape {
		t.Fatalf("code = %v, want EPathEscape", errors.GetCode(err))
	}
}

func TestStore_MkdirAllThenGlob(t *testing.T) {
	s := newTestStore(t)
	if err := s.Write("tracks/a/iter_01/ITERATION.json", []byte("{}")); err != nil {
		t.Fatalf("Write() error = %v", err)
	}
	if err := s.Write("tracks/a/iter_02/ITERATION.json", []byte("{}")); err != nil {
		t.Fatalf("Write() error = %v", err)
	}
	matches, err := s.Glob(filepath.Join("tracks", "a", "iter_*", "ITERATION.json"))
	if err != nil {
		t.Fatalf("Glob() error = %v", err)
	}
	if len(matches) != 2 {
		t.Fatalf("len(matches) = %d, want 2: %v", len(matches), matches)
	}
}

func TestStore_ReadMissing(t *testing.T) {
	s := newTestStore(t)
	if _, err := s.Read("nope.txt"); err == nil {
		t.Fatal("expected error reading missing file")
	}
}

func TestStore_NotExists(t *testing.T) {
	s := newTestStore(t)
	if s.Exists("nope.txt") {
		t.Error("Exists() = true, want false")
	}
}

func contains(s, sub string) bool {
	return len(s) >= len(sub) && (func() bool {
		for i := 0; i+len(sub) <= len(s); i++ {
			if s[i:i+len(sub)] == sub {
				return true
			}
		}
		return false
	})()
}
