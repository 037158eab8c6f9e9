package backup

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/Tangerine2001/minecraft-server-starter/internal/world"
)

// Start launches the interval loop: every CheckEvery it scans the worlds
// directory and fires IfDue per world. Call Stop to cancel. The loop runs
// even when IntervalEnabled is false (IfDue then refuses every tick), so
// flipping the flag needs no restart in embedders that rebuild the config.
func (s *Scheduler) Start() error {
	if s.quit != nil {
		return errors.New("backup scheduler already started")
	}
	s.quit = make(chan struct{})
	s.done = make(chan struct{})
	go s.run()
	return nil
}

func (s *Scheduler) run() {
	defer close(s.done)
	t := time.NewTicker(s.cfg.CheckEvery)
	defer t.Stop()
	for {
		select {
		case <-s.quit:
			return
		case <-t.C:
			s.tick()
		}
	}
}

func (s *Scheduler) tick() {
	names, err := world.List(s.cfg.WorldsDir)
	if err != nil {
		slog.Warn("backup scan failed", "dir", s.cfg.WorldsDir, "err", err)
		return
	}
	for _, name := range names {
		// Errors are already logged and counted inside perform; a failing
		// world must not stop the scan.
		_, _, _ = s.IfDue(context.Background(), name)
	}
}

// Stop cancels the interval loop and waits for the current tick to finish.
// The scheduler can be started again afterwards.
func (s *Scheduler) Stop() {
	if s.quit == nil {
		return
	}
	select {
	case <-s.quit:
		// already closed
	default:
		close(s.quit)
	}
	<-s.done
	s.quit, s.done = nil, nil
}
