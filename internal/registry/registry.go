// Package registry is the durable mapping from world name to the process id
// presumed to be running that world's server. A stored pid is only ever a
// hint: liveness is re-verified against the operating system on every read,
// because a record can survive a crash or reboot and the pid may have been
// reused since.
package registry

import (
	"sync"
)

// Registry combines a Store with OS liveness checks. On top of the pid file
// it keeps a session-local record of each child's start time so a reused
// pid is not mistaken for a still-running server.
type Registry struct {
	st Store

	mu     sync.Mutex
	starts map[string]procIdent // world -> identity of the child we spawned
}

type procIdent struct {
	pid       int
	startUnix int64
}

func New(st Store) *Registry {
	return &Registry{st: st, starts: make(map[string]procIdent)}
}

// Record stores the pid for world and captures the process start time for
// the pid-reuse guard.
func (r *Registry) Record(world string, pid int) error {
	if err := r.st.Record(world, pid); err != nil {
		return err
	}
	r.mu.Lock()
	r.starts[world] = procIdent{pid: pid, startUnix: procStartUnix(pid)}
	r.mu.Unlock()
	return nil
}

// Lookup returns the stored pid hint for world, if any.
func (r *Registry) Lookup(world string) (int, bool, error) {
	return r.st.Lookup(world)
}

// Clear removes the record for world.
func (r *Registry) Clear(world string) error {
	r.mu.Lock()
	delete(r.starts, world)
	r.mu.Unlock()
	return r.st.Clear(world)
}

// IsAlive probes pid with a no-op signal. Failure to signal means not alive.
func (r *Registry) IsAlive(pid int) bool {
	return pidAlive(pid)
}

// LookupAlive resolves the stored hint for world against the OS. It returns
// the pid and whether that exact process is still running. When the start
// time captured at spawn no longer matches the OS-reported one, the pid was
// reused and the world counts as not running.
func (r *Registry) LookupAlive(world string) (pid int, alive bool, err error) {
	pid, ok, err := r.st.Lookup(world)
	if err != nil || !ok {
		return 0, false, err
	}
	if !pidAlive(pid) {
		return pid, false, nil
	}
	r.mu.Lock()
	ident, known := r.starts[world]
	r.mu.Unlock()
	if known && ident.pid == pid && ident.startUnix > 0 {
		if cur := procStartUnix(pid); cur > 0 && cur != ident.startUnix {
			return pid, false, nil // pid reused by an unrelated process
		}
	}
	return pid, true, nil
}
