package world

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// ErrInvalidName is returned for world names that could escape the worlds
// directory or otherwise break filename-derived paths.
var ErrInvalidName = errors.New("invalid world name")

// ValidName validates world names used in filenames and directories.
// Allowed characters: A-Z a-z 0-9 . _ - and no consecutive dots forming "..".
func ValidName(s string) bool {
	if s == "" {
		return false
	}
	if strings.Contains(s, "..") {
		return false
	}
	for _, r := range s {
		if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') || r == '.' || r == '_' || r == '-' {
			continue
		}
		return false
	}
	// disallow path separators just in case (platform independent)
	if strings.ContainsAny(s, "/\\") {
		return false
	}
	return true
}

// Validate returns ErrInvalidName (wrapped with the offending name) when
// name is not usable. Callers reject before any mutation.
func Validate(name string) error {
	if !ValidName(name) {
		return fmt.Errorf("%w: %q (allowed [A-Za-z0-9._-], no '..' or path separators)", ErrInvalidName, name)
	}
	return nil
}

// Dir returns the directory holding the named world's persisted state.
// The name must have been validated.
func Dir(base, name string) string {
	return filepath.Join(base, name)
}

// Exists reports whether the world currently has a directory under base.
// A world may exist as a name without one; the first start creates it.
func Exists(base, name string) bool {
	fi, err := os.Stat(Dir(base, name))
	return err == nil && fi.IsDir()
}

// EnsureDir creates the world directory when absent and returns its path.
// A first run for a new world is not an error.
func EnsureDir(base, name string) (string, error) {
	dir := Dir(base, name)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return "", fmt.Errorf("create world dir %s: %w", dir, err)
	}
	return dir, nil
}

// List returns the names of all worlds that have a directory under base,
// sorted as returned by the OS directory listing. A missing base directory
// yields an empty list.
func List(base string) ([]string, error) {
	entries, err := os.ReadDir(base)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() && ValidName(e.Name()) {
			names = append(names, e.Name())
		}
	}
	return names, nil
}
