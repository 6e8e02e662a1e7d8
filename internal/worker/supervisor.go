package worker

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"thumbnail-service/internal/telemetry"
)

// ErrShutdownTimeout is returned by Supervisor.Run when the worker did not
// stop within the grace period. The worker goroutine is abandoned.
var ErrShutdownTimeout = errors.New("worker did not stop within grace period")

// SupervisorOptions configures a Supervisor.
type SupervisorOptions struct {
	HealthInterval time.Duration
	ShutdownGrace  time.Duration
	// StallAfter is how old a live worker's heartbeat may get before it is
	// reported as stalled. Defaults to 30s.
	StallAfter time.Duration
	Logger     *slog.Logger
}

// Supervisor keeps exactly one worker running, replacing it when it dies.
type Supervisor struct {
	newWorker func() *Worker
	interval  time.Duration
	grace     time.Duration
	stall     time.Duration
	logger    *slog.Logger

	mu       sync.Mutex
	current  *Worker
	restarts int
	stalls   int
	stalled  *Worker
}

// NewSupervisor builds a supervisor. newWorker must return a fresh, unstarted
// worker on every call.
func NewSupervisor(newWorker func() *Worker, opts SupervisorOptions) *Supervisor {
	if opts.HealthInterval <= 0 {
		opts.HealthInterval = time.Second
	}
	if opts.ShutdownGrace <= 0 {
		opts.ShutdownGrace = 5 * time.Second
	}
	if opts.StallAfter <= 0 {
		opts.StallAfter = 30 * time.Second
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Supervisor{
		newWorker: newWorker,
		interval:  opts.HealthInterval,
		grace:     opts.ShutdownGrace,
		stall:     opts.StallAfter,
		logger:    opts.Logger.With(slog.String("component", "supervisor")),
	}
}

// Current returns the worker being supervised, or nil before Run.
func (s *Supervisor) Current() *Worker {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current
}

// Restarts counts workers started to replace a dead one.
func (s *Supervisor) Restarts() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.restarts
}

// Stalls counts live workers whose heartbeat went stale. A worker that stays
// stalled is counted once.
func (s *Supervisor) Stalls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stalls
}

// checkHeartbeat reports a live worker that has not reached the top of its
// loop within the stall window, e.g. blocked in a store call. It is never
// replaced; only one worker may run against the store.
func (s *Supervisor) checkHeartbeat(w *Worker) {
	hb := w.LastHeartbeat()
	if hb.IsZero() {
		return
	}
	age := time.Since(hb)

	s.mu.Lock()
	defer s.mu.Unlock()
	switch {
	case age > s.stall && s.stalled != w:
		s.stalled = w
		s.stalls++
		telemetry.WorkerStalls.Inc()
		s.logger.Warn("worker heartbeat is stale",
			slog.String("worker", w.Name()),
			slog.String("state", w.State().String()),
			slog.Duration("since_heartbeat", age),
		)
	case age <= s.stall && s.stalled == w:
		s.stalled = nil
		s.logger.Info("worker heartbeat resumed", slog.String("worker", w.Name()))
	}
}

func (s *Supervisor) startWorker() *Worker {
	w := s.newWorker()
	w.Start()
	s.mu.Lock()
	s.current = w
	s.mu.Unlock()
	return w
}

// Run starts a worker and health-checks it every interval until ctx is
// cancelled, then interrupts the worker and waits up to the grace period.
func (s *Supervisor) Run(ctx context.Context) error {
	s.logger.Info("starting worker supervisor", slog.Duration("interval", s.interval))
	w := s.startWorker()

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return s.shutdown(w)
		case <-ticker.C:
			if w.Alive() {
				s.checkHeartbeat(w)
				continue
			}
			s.logger.Warn("worker no longer alive, restarting", slog.String("dead_worker", w.Name()))
			w = s.startWorker()
			s.mu.Lock()
			s.restarts++
			s.mu.Unlock()
			telemetry.WorkerRestarts.Inc()
			s.logger.Info("worker restarted", slog.String("worker", w.Name()))
		}
	}
}

func (s *Supervisor) shutdown(w *Worker) error {
	s.logger.Info("supervisor received shutdown, interrupting worker", slog.String("worker", w.Name()))
	w.Interrupt()

	timer := time.NewTimer(s.grace)
	defer timer.Stop()
	select {
	case <-w.Done():
		s.logger.Info("worker stopped gracefully")
		return nil
	case <-timer.C:
		s.logger.Warn("timed out waiting for worker to stop, forcing shutdown", slog.Duration("grace", s.grace))
		return ErrShutdownTimeout
	}
}
