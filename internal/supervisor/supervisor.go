// Package supervisor drives the per-world server lifecycle: start a detached
// java child, record its pid, signal it on stop, and answer status queries.
// Each world moves through stopped/starting/running/stopping, but only
// stopped and running are observable; the transient states live inside the
// call that causes them.
package supervisor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/Tangerine2001/minecraft-server-starter/internal/artifact"
	"github.com/Tangerine2001/minecraft-server-starter/internal/backup"
	"github.com/Tangerine2001/minecraft-server-starter/internal/history"
	"github.com/Tangerine2001/minecraft-server-starter/internal/logger"
	"github.com/Tangerine2001/minecraft-server-starter/internal/metrics"
	"github.com/Tangerine2001/minecraft-server-starter/internal/portalloc"
	"github.com/Tangerine2001/minecraft-server-starter/internal/registry"
	"github.com/Tangerine2001/minecraft-server-starter/internal/world"
)

var (
	// ErrAlreadyRunning reports a start on a world whose recorded process is
	// still alive. Idempotent conflict, not a fault.
	ErrAlreadyRunning = errors.New("world already running")
	// ErrSpawnFailed wraps an exec failure of the server child.
	ErrSpawnFailed = errors.New("spawn failed")
	// ErrInvalidWorldName mirrors the world package sentinel so embedders
	// can classify without importing it.
	ErrInvalidWorldName = world.ErrInvalidName
)

const (
	DefaultJavaBin = "java"
	DefaultMemory  = "2G"
	DefaultPort    = 25565
)

// Config carries the supervisor's fixed launch parameters. Zero values fall
// back to the defaults above.
type Config struct {
	WorldsDir  string
	ServerDir  string // working directory of spawned servers; holds the jar
	JavaBin    string
	Memory     string // -Xms/-Xmx value, e.g. "2G"
	Port       int    // preferred listen port when the caller names none
	ConsoleLog logger.Config
}

// StartResult reports what a successful start produced.
type StartResult struct {
	World          string
	PID            int
	RequestedPort  int
	Port           int
	PortReassigned bool
	ArtifactPath   string
}

// StopResult reports how a stop concluded. Exactly one of Stopped and
// AlreadyStopped is true.
type StopResult struct {
	World          string
	Stopped        bool
	AlreadyStopped bool
	PID            int
	BackupPath     string
}

// Status is a point-in-time answer; the process may exit the moment after.
type Status struct {
	World   string
	Running bool
	PID     int
}

// Supervisor owns start/stop/status for every world. Operations on the same
// world serialize on a per-world mutex; distinct worlds never block each
// other.
type Supervisor struct {
	cfg      Config
	reg      *registry.Registry
	resolver *artifact.Resolver
	backups  *backup.Scheduler // nil disables the shutdown hook

	mu    sync.Mutex
	locks map[string]*sync.Mutex
	sinks []history.Sink
}

func New(cfg Config, reg *registry.Registry, res *artifact.Resolver, backups *backup.Scheduler) *Supervisor {
	if cfg.JavaBin == "" {
		cfg.JavaBin = DefaultJavaBin
	}
	if cfg.Memory == "" {
		cfg.Memory = DefaultMemory
	}
	if cfg.Port <= 0 {
		cfg.Port = DefaultPort
	}
	if res == nil {
		res = artifact.NewResolver()
	}
	return &Supervisor{
		cfg:      cfg,
		reg:      reg,
		resolver: res,
		backups:  backups,
		locks:    make(map[string]*sync.Mutex),
	}
}

// SetHistorySinks configures destinations for start/stop events.
func (s *Supervisor) SetHistorySinks(sinks ...history.Sink) {
	s.mu.Lock()
	s.sinks = append([]history.Sink(nil), sinks...)
	s.mu.Unlock()
}

func (s *Supervisor) worldLock(name string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	l := s.locks[name]
	if l == nil {
		l = &sync.Mutex{}
		s.locks[name] = l
	}
	return l
}

// Start launches the named world's server. Empty memory and a zero port take
// the configured defaults. A live recorded process yields ErrAlreadyRunning;
// a stale record is cleared and the start proceeds.
func (s *Supervisor) Start(ctx context.Context, name, memory string, requestedPort int) (StartResult, error) {
	res := StartResult{World: name}
	if err := world.Validate(name); err != nil {
		return res, err
	}
	if memory == "" {
		memory = s.cfg.Memory
	}
	if requestedPort == 0 {
		requestedPort = s.cfg.Port
	}
	res.RequestedPort = requestedPort

	lock := s.worldLock(name)
	lock.Lock()
	defer lock.Unlock()

	pid, alive, err := s.reg.LookupAlive(name)
	if err != nil {
		return res, fmt.Errorf("start %s: check registry: %w", name, err)
	}
	if alive {
		return res, fmt.Errorf("start %s: pid %d: %w", name, pid, ErrAlreadyRunning)
	}
	if pid != 0 {
		// Stale record from a crash or reboot; self-heal before starting.
		if err := s.reg.Clear(name); err != nil {
			return res, fmt.Errorf("start %s: clear stale record: %w", name, err)
		}
		slog.Info("cleared stale pid record", "world", name, "pid", pid)
	}

	worldDir, err := world.EnsureDir(s.cfg.WorldsDir, name)
	if err != nil {
		return res, fmt.Errorf("start %s: %w", name, err)
	}

	jar, err := s.resolver.Resolve(ctx, s.cfg.ServerDir)
	if err != nil {
		return res, fmt.Errorf("start %s: resolve server jar: %w", name, err)
	}
	res.ArtifactPath = jar

	port, reassigned, err := portalloc.Allocate(requestedPort)
	if err != nil {
		return res, fmt.Errorf("start %s: allocate port %d: %w", name, requestedPort, err)
	}
	res.Port = port
	res.PortReassigned = reassigned
	if reassigned {
		metrics.IncPortReassigned(name)
		slog.Warn("preferred port busy, reassigned", "world", name, "requested", requestedPort, "port", port)
	}

	childPID, err := s.spawn(name, memory, jar, worldDir, port)
	if err != nil {
		return res, fmt.Errorf("start %s: %w: %v", name, ErrSpawnFailed, err)
	}
	res.PID = childPID

	if err := s.reg.Record(name, childPID); err != nil {
		// An unrecorded child would be invisible to stop; take it down.
		s.killGroup(childPID)
		return res, fmt.Errorf("start %s: record pid %d: %w", name, childPID, err)
	}

	metrics.IncStart(name)
	s.emit(ctx, history.Event{
		Type: history.EventStart, World: name, PID: childPID, Port: port,
		Detail: jar, OccurredAt: time.Now().UTC(),
	})
	slog.Info("world started", "world", name, "pid", childPID, "port", port,
		"reassigned", reassigned, "jar", jar)
	return res, nil
}

// Stop terminates the named world's server. Absent or stale records report
// AlreadyStopped; a live process gets a graceful termination signal to its
// group, then the shutdown backup fires and the record is cleared. The call
// never waits for the process to exit.
func (s *Supervisor) Stop(ctx context.Context, name string) (StopResult, error) {
	res := StopResult{World: name}
	if err := world.Validate(name); err != nil {
		return res, err
	}
	lock := s.worldLock(name)
	lock.Lock()
	defer lock.Unlock()

	pid, alive, err := s.reg.LookupAlive(name)
	if err != nil {
		return res, fmt.Errorf("stop %s: check registry: %w", name, err)
	}
	res.PID = pid
	if pid == 0 {
		res.AlreadyStopped = true
		return res, nil
	}
	if !alive {
		if err := s.reg.Clear(name); err != nil {
			return res, fmt.Errorf("stop %s: clear stale record: %w", name, err)
		}
		res.AlreadyStopped = true
		slog.Info("cleared stale pid record", "world", name, "pid", pid)
		return res, nil
	}

	if err := s.terminateGroup(pid); err != nil {
		// The process vanished between the liveness check and the signal.
		if cerr := s.reg.Clear(name); cerr != nil {
			return res, fmt.Errorf("stop %s: clear record: %w", name, cerr)
		}
		res.AlreadyStopped = true
		return res, nil
	}
	res.Stopped = true

	// The backup snapshots on-disk state, which is meaningful even while the
	// server is still flushing on its way down. Failure is logged by the
	// scheduler and never blocks the stop.
	if s.backups != nil {
		if p, err := s.backups.OnShutdown(ctx, name); err == nil {
			res.BackupPath = p
		}
	}

	if err := s.reg.Clear(name); err != nil {
		return res, fmt.Errorf("stop %s: clear record: %w", name, err)
	}

	metrics.IncStop(name)
	s.emit(ctx, history.Event{
		Type: history.EventStop, World: name, PID: pid,
		ArchivePath: res.BackupPath, OccurredAt: time.Now().UTC(),
	})
	slog.Info("world stopped", "world", name, "pid", pid, "backup", res.BackupPath)
	return res, nil
}

// StatusOf answers whether the named world's recorded process is alive right
// now. It never fails: an invalid name or a registry read error is simply
// "not running". A record whose process is gone is cleared on the spot, the
// same way start and stop heal stale state.
func (s *Supervisor) StatusOf(name string) Status {
	st := Status{World: name}
	if world.Validate(name) != nil {
		return st
	}
	lock := s.worldLock(name)
	lock.Lock()
	defer lock.Unlock()

	pid, alive, err := s.reg.LookupAlive(name)
	if err != nil {
		return st
	}
	if pid != 0 && !alive {
		if cerr := s.reg.Clear(name); cerr != nil {
			slog.Warn("stale pid record not cleared", "world", name, "pid", pid, "err", cerr)
		} else {
			slog.Info("cleared stale pid record", "world", name, "pid", pid)
		}
		return st
	}
	st.PID = pid
	st.Running = alive
	return st
}

// StatusAll reports every world that has a directory, running or not, and
// refreshes the running-worlds gauge.
func (s *Supervisor) StatusAll() ([]Status, error) {
	names, err := world.List(s.cfg.WorldsDir)
	if err != nil {
		return nil, err
	}
	out := make([]Status, 0, len(names))
	running := 0
	for _, name := range names {
		st := s.StatusOf(name)
		if st.Running {
			running++
		}
		out = append(out, st)
	}
	metrics.SetRunningWorlds(running)
	return out, nil
}

func (s *Supervisor) emit(ctx context.Context, e history.Event) {
	s.mu.Lock()
	sinks := append([]history.Sink(nil), s.sinks...)
	s.mu.Unlock()
	for _, sink := range sinks {
		if err := sink.Send(ctx, e); err != nil {
			slog.Warn("history sink rejected event", "world", e.World, "type", e.Type, "err", err)
		}
	}
}
