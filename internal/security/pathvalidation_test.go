package security

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func TestValidatePathWithinDirectory(t *testing.T) {
	dir := t.TempDir()

	inside := filepath.Join(dir, "session.csv")
	if err := os.WriteFile(inside, []byte("x"), 0o644); err != nil {
		t.Fatalf("failed to create fixture file: %v", err)
	}
	if err := ValidatePathWithinDirectory(inside, dir); err != nil {
		t.Errorf("existing path inside directory rejected: %v", err)
	}

	// A file that does not exist yet is validated through its nearest
	// existing ancestor.
	if err := ValidatePathWithinDirectory(filepath.Join(dir, "new", "run.csv"), dir); err != nil {
		t.Errorf("new path inside directory rejected: %v", err)
	}

	if err := ValidatePathWithinDirectory(filepath.Join(dir, "..", "escape.csv"), dir); !errors.Is(err, ErrOutsideAllowed) {
		t.Errorf("expected ErrOutsideAllowed for traversal, got %v", err)
	}

	other := t.TempDir()
	if err := ValidatePathWithinDirectory(filepath.Join(other, "x.csv"), dir); !errors.Is(err, ErrOutsideAllowed) {
		t.Errorf("expected ErrOutsideAllowed for sibling directory, got %v", err)
	}
}

func TestValidatePathSymlinkEscape(t *testing.T) {
	dir := t.TempDir()
	outside := t.TempDir()

	link := filepath.Join(dir, "link")
	if err := os.Symlink(outside, link); err != nil {
		t.Skipf("symlinks unavailable: %v", err)
	}

	// The path looks like it lives under dir, but its parent resolves
	// elsewhere.
	if err := ValidatePathWithinDirectory(filepath.Join(link, "sneaky.csv"), dir); !errors.Is(err, ErrOutsideAllowed) {
		t.Errorf("expected ErrOutsideAllowed through symlinked parent, got %v", err)
	}
}

func TestValidatePathWithinAllowedDirs(t *testing.T) {
	a := t.TempDir()
	b := t.TempDir()

	if err := ValidatePathWithinAllowedDirs(filepath.Join(b, "f.csv"), []string{a, b}); err != nil {
		t.Errorf("path inside second allowed directory rejected: %v", err)
	}
	if err := ValidatePathWithinAllowedDirs("/etc/passwd", []string{a, b}); !errors.Is(err, ErrOutsideAllowed) {
		t.Errorf("expected ErrOutsideAllowed, got %v", err)
	}
	if err := ValidatePathWithinAllowedDirs("f.csv", nil); err == nil {
		t.Error("expected error with no allowed directories")
	}
}

func TestValidateRecordPath(t *testing.T) {
	recordDir := t.TempDir()

	if err := ValidateRecordPath(filepath.Join(recordDir, "s.csv"), recordDir); err != nil {
		t.Errorf("record directory path rejected: %v", err)
	}
	if err := ValidateRecordPath(filepath.Join(os.TempDir(), "s.csv"), recordDir); err != nil {
		t.Errorf("temp directory path rejected: %v", err)
	}
	if err := ValidateRecordPath("/etc/nope.csv", recordDir); !errors.Is(err, ErrOutsideAllowed) {
		t.Errorf("expected ErrOutsideAllowed, got %v", err)
	}
}
