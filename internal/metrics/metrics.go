package metrics

import (
	"errors"
	"net/http"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Package-level Prometheus collectors. They are registered via Register.
var (
	regOK atomic.Bool

	worldStarts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "mcstarter",
			Subsystem: "world",
			Name:      "starts_total",
			Help:      "Number of successful server starts per world.",
		}, []string{"world"},
	)
	worldStops = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "mcstarter",
			Subsystem: "world",
			Name:      "stops_total",
			Help:      "Number of stop requests that signaled a live server.",
		}, []string{"world"},
	)
	portReassignments = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "mcstarter",
			Subsystem: "world",
			Name:      "port_reassignments_total",
			Help:      "Starts that could not use the requested port and fell over to an ephemeral one.",
		}, []string{"world"},
	)
	backups = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "mcstarter",
			Subsystem: "backup",
			Name:      "archives_total",
			Help:      "Number of successful backup archives per world.",
		}, []string{"world", "trigger"},
	)
	backupFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "mcstarter",
			Subsystem: "backup",
			Name:      "failures_total",
			Help:      "Number of failed backup attempts per world.",
		}, []string{"world"},
	)
	backupDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "mcstarter",
			Subsystem: "backup",
			Name:      "duration_seconds",
			Help:      "Wall time spent producing a backup archive.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"world"},
	)
	runningWorlds = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "mcstarter",
			Subsystem: "world",
			Name:      "running",
			Help:      "Number of worlds with a live server process.",
		},
	)
)

// Register registers all metrics with the provided registerer.
// It is safe to call multiple times; subsequent calls after success are no-ops.
func Register(r prometheus.Registerer) error {
	if regOK.Load() {
		return nil
	}
	cs := []prometheus.Collector{worldStarts, worldStops, portReassignments, backups, backupFailures, backupDuration, runningWorlds}
	for _, c := range cs {
		if err := r.Register(c); err != nil {
			// If already registered, ignore (allows double Register with default registry)
			var are prometheus.AlreadyRegisteredError
			if errors.As(err, &are) {
				continue
			}
			return err
		}
	}
	regOK.Store(true)
	return nil
}

// Handler returns an http.Handler that serves Prometheus metrics for the DefaultGatherer.
// The caller is responsible for starting an HTTP server and wiring the route.
func Handler() http.Handler { return promhttp.Handler() }

// Below are lightweight helpers used by internal packages to record metrics.
// They no-op if Register hasn't been called.

func IncStart(world string) {
	if regOK.Load() {
		worldStarts.WithLabelValues(world).Inc()
	}
}

func IncStop(world string) {
	if regOK.Load() {
		worldStops.WithLabelValues(world).Inc()
	}
}

func IncPortReassigned(world string) {
	if regOK.Load() {
		portReassignments.WithLabelValues(world).Inc()
	}
}

// IncBackup records a successful archive; trigger is "interval" or "shutdown".
func IncBackup(world, trigger string) {
	if regOK.Load() {
		backups.WithLabelValues(world, trigger).Inc()
	}
}

func IncBackupFailure(world string) {
	if regOK.Load() {
		backupFailures.WithLabelValues(world).Inc()
	}
}

func ObserveBackupDuration(world string, seconds float64) {
	if regOK.Load() {
		backupDuration.WithLabelValues(world).Observe(seconds)
	}
}

func SetRunningWorlds(n int) {
	if regOK.Load() {
		runningWorlds.Set(float64(n))
	}
}
