package world

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func TestValidName(t *testing.T) {
	valid := []string{"Alpha", "my-world", "world_2", "v1.20.4", "a"}
	for _, s := range valid {
		if !ValidName(s) {
			t.Fatalf("expected %q to be valid", s)
		}
	}
	invalid := []string{"", "..", "a..b", "a/b", `a\b`, "world name", "wörld", "a/../b"}
	for _, s := range invalid {
		if ValidName(s) {
			t.Fatalf("expected %q to be invalid", s)
		}
	}
}

func TestValidateWrapsSentinel(t *testing.T) {
	err := Validate("../escape")
	if err == nil {
		t.Fatalf("expected error")
	}
	if !errors.Is(err, ErrInvalidName) {
		t.Fatalf("expected ErrInvalidName, got %v", err)
	}
	if Validate("Alpha") != nil {
		t.Fatalf("valid name rejected")
	}
}

func TestEnsureDirAndExists(t *testing.T) {
	base := t.TempDir()
	if Exists(base, "Alpha") {
		t.Fatalf("world should not exist yet")
	}
	dir, err := EnsureDir(base, "Alpha")
	if err != nil {
		t.Fatalf("EnsureDir: %v", err)
	}
	if dir != filepath.Join(base, "Alpha") {
		t.Fatalf("unexpected dir %s", dir)
	}
	if !Exists(base, "Alpha") {
		t.Fatalf("world should exist")
	}
	// Idempotent
	if _, err := EnsureDir(base, "Alpha"); err != nil {
		t.Fatalf("EnsureDir twice: %v", err)
	}
}

func TestListSkipsFilesAndUnsafeNames(t *testing.T) {
	base := t.TempDir()
	for _, w := range []string{"Alpha", "Beta"} {
		if _, err := EnsureDir(base, w); err != nil {
			t.Fatalf("EnsureDir: %v", err)
		}
	}
	if err := os.WriteFile(filepath.Join(base, "stray.txt"), []byte("x"), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := os.MkdirAll(filepath.Join(base, "bad name"), 0o750); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	names, err := List(base)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(names) != 2 {
		t.Fatalf("expected 2 worlds, got %v", names)
	}
}

func TestListMissingBase(t *testing.T) {
	names, err := List(filepath.Join(t.TempDir(), "nope"))
	if err != nil || names != nil {
		t.Fatalf("expected empty result, got %v %v", names, err)
	}
}
