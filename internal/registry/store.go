package registry

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
)

// Store persists the world -> pid mapping. Implementations must treat a
// missing entry as "not running" rather than an error.
type Store interface {
	Record(world string, pid int) error
	Lookup(world string) (pid int, ok bool, err error)
	Clear(world string) error
}

// FileStore keeps one plain-text pid file per world under dir, written as a
// bare decimal with no trailing structure. The directory is created lazily
// on the first Record.
type FileStore struct {
	dir string
}

func NewFileStore(dir string) *FileStore { return &FileStore{dir: dir} }

func (s *FileStore) path(world string) string {
	return filepath.Join(s.dir, world+".pid")
}

func (s *FileStore) Record(world string, pid int) error {
	if err := os.MkdirAll(s.dir, 0o750); err != nil {
		return fmt.Errorf("create state dir %s: %w", s.dir, err)
	}
	if err := os.WriteFile(s.path(world), []byte(strconv.Itoa(pid)), 0o600); err != nil {
		return fmt.Errorf("write pid file for %s: %w", world, err)
	}
	return nil
}

func (s *FileStore) Lookup(world string) (int, bool, error) {
	b, err := os.ReadFile(s.path(world))
	if err != nil {
		if os.IsNotExist(err) {
			return 0, false, nil
		}
		return 0, false, err
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(b)))
	if err != nil || pid <= 0 {
		// Unparsable content is treated as absent, not as a failure.
		slog.Warn("ignoring unparsable pid file", "world", world, "path", s.path(world))
		return 0, false, nil
	}
	return pid, true, nil
}

func (s *FileStore) Clear(world string) error {
	err := os.Remove(s.path(world))
	if err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

// MemStore is an in-memory Store for tests and embedding.
type MemStore struct {
	mu   sync.Mutex
	pids map[string]int
}

func NewMemStore() *MemStore { return &MemStore{pids: make(map[string]int)} }

func (s *MemStore) Record(world string, pid int) error {
	s.mu.Lock()
	s.pids[world] = pid
	s.mu.Unlock()
	return nil
}

func (s *MemStore) Lookup(world string) (int, bool, error) {
	s.mu.Lock()
	pid, ok := s.pids[world]
	s.mu.Unlock()
	return pid, ok, nil
}

func (s *MemStore) Clear(world string) error {
	s.mu.Lock()
	delete(s.pids, world)
	s.mu.Unlock()
	return nil
}
