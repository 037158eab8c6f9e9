// Package backup produces tar.gz snapshots of world directories and decides
// when they are due. Two triggers exist: an interval schedule and an
// unconditional shutdown hook; each is gated by its own flag and neither
// disables the other.
package backup

import (
	"archive/tar"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/klauspost/compress/gzip"

	"github.com/Tangerine2001/minecraft-server-starter/internal/history"
	"github.com/Tangerine2001/minecraft-server-starter/internal/metrics"
	"github.com/Tangerine2001/minecraft-server-starter/internal/world"
)

// ErrBackupFailed marks an archival step that failed. It is reported and
// logged but never blocks the stop path that requested it.
var ErrBackupFailed = errors.New("backup failed")

const (
	// ArchiveExt is the suffix of every backup archive.
	ArchiveExt = ".tar.gz"
	// DefaultRetention is the number of archives kept per world.
	DefaultRetention = 10
	// DefaultTimeout bounds a single archival run.
	DefaultTimeout = 10 * time.Minute
	// DefaultCheckEvery is the scan period of the interval loop.
	DefaultCheckEvery = time.Minute

	stampLayout = "20060102-150405"
)

// Config carries the scheduler's directories and gating knobs.
type Config struct {
	WorldsDir  string
	BackupsDir string
	StateDir   string // holds the per-world last-backup timestamp files
	Interval   string // duration string with s/m/h/d/w suffixes
	Retention  int    // archives kept per world; <=0 means DefaultRetention

	IntervalEnabled bool // gates IfDue only
	ShutdownEnabled bool // gates OnShutdown only

	Timeout    time.Duration // per-archive bound; <=0 means DefaultTimeout
	CheckEvery time.Duration // interval-loop scan period; <=0 means DefaultCheckEvery
}

// Scheduler executes and schedules backups. Backups for the same world are
// serialized; different worlds proceed independently.
type Scheduler struct {
	cfg Config

	mu    sync.Mutex
	locks map[string]*sync.Mutex
	sinks []history.Sink

	quit chan struct{}
	done chan struct{}
}

func New(cfg Config) *Scheduler {
	if cfg.Retention <= 0 {
		cfg.Retention = DefaultRetention
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.CheckEvery <= 0 {
		cfg.CheckEvery = DefaultCheckEvery
	}
	return &Scheduler{cfg: cfg, locks: make(map[string]*sync.Mutex)}
}

// SetHistorySinks configures destinations for backup events.
// Passing no sinks clears the list.
func (s *Scheduler) SetHistorySinks(sinks ...history.Sink) {
	s.mu.Lock()
	s.sinks = append([]history.Sink(nil), sinks...)
	s.mu.Unlock()
}

func (s *Scheduler) worldLock(name string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	l := s.locks[name]
	if l == nil {
		l = &sync.Mutex{}
		s.locks[name] = l
	}
	return l
}

// Perform takes a snapshot of the named world right now, regardless of
// flags and interval. It returns the archive path, or "" when the world has
// no directory yet (nothing to snapshot, not an error).
func (s *Scheduler) Perform(ctx context.Context, name string) (string, error) {
	return s.perform(ctx, name, "manual")
}

// OnShutdown fires the shutdown backup when enabled. The interval is
// ignored entirely; a deliberate stop is a checkpoint no matter how
// recently the interval path ran.
func (s *Scheduler) OnShutdown(ctx context.Context, name string) (string, error) {
	if !s.cfg.ShutdownEnabled {
		return "", nil
	}
	return s.perform(ctx, name, "shutdown")
}

// IfDue fires an interval backup when the feature is enabled and the
// configured interval has elapsed since the stored timestamp. It reports
// whether a backup ran.
func (s *Scheduler) IfDue(ctx context.Context, name string) (string, bool, error) {
	if !s.cfg.IntervalEnabled {
		return "", false, nil
	}
	if !s.Due(name) {
		return "", false, nil
	}
	p, err := s.perform(ctx, name, "interval")
	return p, err == nil && p != "", err
}

// Due reports whether the interval has elapsed for name. A missing
// timestamp means due now. A zero or unparsable interval always reports
// due: failing open toward taking a backup beats silently skipping all of
// them.
func (s *Scheduler) Due(name string) bool {
	iv, err := ParseInterval(s.cfg.Interval)
	if err != nil || iv <= 0 {
		return true
	}
	last, ok := s.readStamp(name)
	if !ok {
		return true
	}
	return time.Since(time.Unix(last, 0)) >= iv
}

func (s *Scheduler) perform(ctx context.Context, name, trigger string) (string, error) {
	if err := world.Validate(name); err != nil {
		return "", err
	}
	lock := s.worldLock(name)
	lock.Lock()
	defer lock.Unlock()

	srcDir := world.Dir(s.cfg.WorldsDir, name)
	if fi, err := os.Stat(srcDir); err != nil || !fi.IsDir() {
		return "", nil // nothing to snapshot yet
	}

	if _, hasDeadline := ctx.Deadline(); !hasDeadline {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.cfg.Timeout)
		defer cancel()
	}

	destDir := filepath.Join(s.cfg.BackupsDir, name)
	if err := os.MkdirAll(destDir, 0o750); err != nil {
		return "", s.fail(name, fmt.Errorf("%w: create %s: %v", ErrBackupFailed, destDir, err))
	}
	dest := s.pickArchiveName(destDir, name, time.Now())

	started := time.Now()
	if err := writeArchive(ctx, srcDir, dest); err != nil {
		return "", s.fail(name, fmt.Errorf("%w: %s: %v", ErrBackupFailed, name, err))
	}
	if err := s.writeStamp(name, time.Now().Unix()); err != nil {
		// The archive exists; a stamp failure only makes the next interval fire early.
		slog.Warn("backup timestamp not written", "world", name, "err", err)
	}
	s.enforceRetention(destDir, name)

	metrics.IncBackup(name, trigger)
	metrics.ObserveBackupDuration(name, time.Since(started).Seconds())
	s.emit(ctx, history.Event{
		Type: history.EventBackup, World: name, ArchivePath: dest,
		Detail: trigger, OccurredAt: time.Now().UTC(),
	})
	slog.Info("backup archive created", "world", name, "path", dest, "trigger", trigger)
	return dest, nil
}

func (s *Scheduler) fail(name string, err error) error {
	metrics.IncBackupFailure(name)
	slog.Error("backup failed", "world", name, "err", err)
	return err
}

func (s *Scheduler) emit(ctx context.Context, e history.Event) {
	s.mu.Lock()
	sinks := append([]history.Sink(nil), s.sinks...)
	s.mu.Unlock()
	for _, sink := range sinks {
		if err := sink.Send(ctx, e); err != nil {
			slog.Warn("history sink rejected backup event", "world", e.World, "err", err)
		}
	}
}

// pickArchiveName builds <world>-<timestamp>.tar.gz, appending a sequence
// suffix when two backups land in the same second so nothing is ever
// silently overwritten.
func (s *Scheduler) pickArchiveName(destDir, name string, now time.Time) string {
	base := name + "-" + now.Format(stampLayout)
	dest := filepath.Join(destDir, base+ArchiveExt)
	for n := 1; ; n++ {
		if _, err := os.Stat(dest); os.IsNotExist(err) {
			return dest
		}
		dest = filepath.Join(destDir, base+"-"+strconv.Itoa(n)+ArchiveExt)
	}
}

// enforceRetention deletes the oldest archives beyond the configured count,
// ordered by modification time with name as the tie-break (names embed the
// timestamp, so the ordering is consistent with creation order).
func (s *Scheduler) enforceRetention(destDir, name string) {
	entries, err := os.ReadDir(destDir)
	if err != nil {
		return
	}
	type arch struct {
		name    string
		modTime time.Time
	}
	var archives []arch
	for _, e := range entries {
		if !e.Type().IsRegular() {
			continue
		}
		if !strings.HasPrefix(e.Name(), name+"-") || !strings.HasSuffix(e.Name(), ArchiveExt) {
			continue
		}
		fi, err := e.Info()
		if err != nil {
			continue
		}
		archives = append(archives, arch{name: e.Name(), modTime: fi.ModTime()})
	}
	if len(archives) <= s.cfg.Retention {
		return
	}
	sort.Slice(archives, func(i, j int) bool {
		if !archives[i].modTime.Equal(archives[j].modTime) {
			return archives[i].modTime.Before(archives[j].modTime)
		}
		return archives[i].name < archives[j].name
	})
	for _, a := range archives[:len(archives)-s.cfg.Retention] {
		if err := os.Remove(filepath.Join(destDir, a.name)); err != nil {
			slog.Warn("retention delete failed", "world", name, "archive", a.name, "err", err)
		}
	}
}

func (s *Scheduler) stampPath(name string) string {
	return filepath.Join(s.cfg.StateDir, name+".lastbackup")
}

func (s *Scheduler) readStamp(name string) (int64, bool) {
	b, err := os.ReadFile(s.stampPath(name))
	if err != nil {
		return 0, false
	}
	sec, err := strconv.ParseInt(strings.TrimSpace(string(b)), 10, 64)
	if err != nil || sec <= 0 {
		return 0, false
	}
	return sec, true
}

func (s *Scheduler) writeStamp(name string, sec int64) error {
	if err := os.MkdirAll(s.cfg.StateDir, 0o750); err != nil {
		return err
	}
	return os.WriteFile(s.stampPath(name), []byte(strconv.FormatInt(sec, 10)), 0o600)
}

// writeArchive streams srcDir into a tar.gz at dest via a partial file, so
// an interrupted run never leaves a truncated archive under the final name.
// Entry names are relative to srcDir: extracting inside a world directory
// of the same name restores it.
func writeArchive(ctx context.Context, srcDir, dest string) error {
	tmp := dest + ".partial"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o640)
	if err != nil {
		return err
	}
	gw := gzip.NewWriter(f)
	tw := tar.NewWriter(gw)

	err = filepath.WalkDir(srcDir, func(path string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		rel, err := filepath.Rel(srcDir, path)
		if err != nil {
			return err
		}
		if rel == "." {
			return nil
		}
		fi, err := d.Info()
		if err != nil {
			return err
		}
		link := ""
		if fi.Mode()&os.ModeSymlink != 0 {
			if link, err = os.Readlink(path); err != nil {
				return err
			}
		}
		hdr, err := tar.FileInfoHeader(fi, link)
		if err != nil {
			return err
		}
		hdr.Name = filepath.ToSlash(rel)
		if fi.IsDir() {
			hdr.Name += "/"
		}
		if err := tw.WriteHeader(hdr); err != nil {
			return err
		}
		if !fi.Mode().IsRegular() {
			return nil
		}
		src, err := os.Open(path)
		if err != nil {
			return err
		}
		_, err = io.Copy(tw, src)
		_ = src.Close()
		return err
	})

	if err == nil {
		err = tw.Close()
	} else {
		_ = tw.Close()
	}
	if cerr := gw.Close(); err == nil {
		err = cerr
	}
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		_ = os.Remove(tmp)
		return err
	}
	return os.Rename(tmp, dest)
}

// ParseInterval parses duration strings with s/m/h suffixes via the
// standard parser plus d (days) and w (weeks). Callers treat a parse
// failure as "always due".
func ParseInterval(v string) (time.Duration, error) {
	v = strings.TrimSpace(v)
	if v == "" {
		return 0, errors.New("empty interval")
	}
	unit := v[len(v)-1]
	if unit == 'd' || unit == 'w' {
		n, err := strconv.ParseFloat(v[:len(v)-1], 64)
		if err != nil {
			return 0, fmt.Errorf("invalid interval %q: %w", v, err)
		}
		mult := 24 * time.Hour
		if unit == 'w' {
			mult = 7 * 24 * time.Hour
		}
		return time.Duration(n * float64(mult)), nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("invalid interval %q: %w", v, err)
	}
	return d, nil
}
