// Package starter is the embeddable facade over the server starter: per-world
// process lifecycle, server-jar resolution, port allocation and scheduled
// world backups, backed by a pid registry on disk.
package starter

import (
	"context"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/Tangerine2001/minecraft-server-starter/internal/artifact"
	"github.com/Tangerine2001/minecraft-server-starter/internal/backup"
	"github.com/Tangerine2001/minecraft-server-starter/internal/config"
	"github.com/Tangerine2001/minecraft-server-starter/internal/history"
	"github.com/Tangerine2001/minecraft-server-starter/internal/metrics"
	"github.com/Tangerine2001/minecraft-server-starter/internal/registry"
	"github.com/Tangerine2001/minecraft-server-starter/internal/server"
	"github.com/Tangerine2001/minecraft-server-starter/internal/supervisor"
)

// Re-export core types for external consumers. These are aliases so
// conversions are zero-cost.

type Config = config.Config

type StartResult = supervisor.StartResult

type StopResult = supervisor.StopResult

type Status = supervisor.Status

type HistorySink = history.Sink

type HistoryEvent = history.Event

// Error sentinels for errors.Is classification by embedders.
var (
	ErrAlreadyRunning   = supervisor.ErrAlreadyRunning
	ErrInvalidWorldName = supervisor.ErrInvalidWorldName
	ErrSpawnFailed      = supervisor.ErrSpawnFailed
	ErrBackupFailed     = backup.ErrBackupFailed
	ErrArtifactMissing  = artifact.ErrUnavailable
)

// Starter wires the supervisor, registry and backup scheduler from one
// configuration. It is the unit of embedding: construct once, share freely.
type Starter struct {
	cfg     config.Config
	sup     *supervisor.Supervisor
	backups *backup.Scheduler
}

// New builds a Starter from cfg with the file-backed pid registry under the
// configured state dir.
func New(cfg Config) *Starter {
	sched := backup.New(cfg.BackupSchedulerConfig())
	reg := registry.New(registry.NewFileStore(cfg.StateDir))
	sup := supervisor.New(cfg.SupervisorConfig(), reg, nil, sched)
	return &Starter{cfg: cfg, sup: sup, backups: sched}
}

// NewDefault builds a Starter with the default configuration (state under
// ./data).
func NewDefault() *Starter { return New(config.Default()) }

// LoadConfig reads TOML configuration from path; empty path yields defaults.
func LoadConfig(path string) (Config, error) { return config.Load(path) }

func (s *Starter) Config() Config { return s.cfg }

// Start launches the named world's server. Empty memory and port 0 use the
// configured defaults.
func (s *Starter) Start(ctx context.Context, world, memory string, port int) (StartResult, error) {
	return s.sup.Start(ctx, world, memory, port)
}

// Stop signals the named world's server and fires the shutdown backup.
func (s *Starter) Stop(ctx context.Context, world string) (StopResult, error) {
	return s.sup.Stop(ctx, world)
}

// Status answers for one world; it never fails.
func (s *Starter) Status(world string) Status { return s.sup.StatusOf(world) }

// StatusAll reports every world with a directory.
func (s *Starter) StatusAll() ([]Status, error) { return s.sup.StatusAll() }

// Backup takes a snapshot of the named world immediately.
func (s *Starter) Backup(ctx context.Context, world string) (string, error) {
	return s.backups.Perform(ctx, world)
}

// StartBackupLoop launches the interval backup scheduler.
func (s *Starter) StartBackupLoop() error { return s.backups.Start() }

// StopBackupLoop cancels the interval backup scheduler.
func (s *Starter) StopBackupLoop() { s.backups.Stop() }

// SetHistorySinks routes start/stop/backup events to the given sinks.
func (s *Starter) SetHistorySinks(sinks ...HistorySink) {
	s.sup.SetHistorySinks(sinks...)
	s.backups.SetHistorySinks(sinks...)
}

// NewHistorySink builds a sink from a DSN: clickhouse://, postgres://,
// sqlite:// or a bare file path (sqlite).
func NewHistorySink(dsn string) (HistorySink, error) { return history.NewSinkFromDSN(dsn) }

// NewHTTPServer starts the HTTP API for this starter on addr.
func (s *Starter) NewHTTPServer(addr, basePath string) (*http.Server, error) {
	return server.NewServer(addr, basePath, s.sup, s.backups)
}

// HTTPHandler returns the API as a mountable handler for embedding into an
// existing server or mux.
func (s *Starter) HTTPHandler(basePath string) http.Handler {
	return server.NewRouter(s.sup, s.backups, basePath).Handler()
}

// Metrics helpers (public facade).

func RegisterMetrics(r prometheus.Registerer) error { return metrics.Register(r) }
func RegisterMetricsDefault() error                 { return metrics.Register(prometheus.DefaultRegisterer) }
func MetricsHandler() http.Handler                  { return metrics.Handler() }
