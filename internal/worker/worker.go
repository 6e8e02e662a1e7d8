package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"thumbnail-service/internal/models"
	"thumbnail-service/internal/store"
	"thumbnail-service/internal/telemetry"
)

// TaskFunc turns a claimed job's input into its result.
type TaskFunc func(ctx context.Context, image []byte) ([]byte, error)

// State is the worker's position in its poll loop.
type State int32

const (
	StateIdle State = iota
	StateProcessing
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateProcessing:
		return "processing"
	default:
		return "stopped"
	}
}

var (
	workerSeq    atomic.Int64
	errTaskPanic = errors.New("task panicked")
)

// Options configures a Worker.
type Options struct {
	// Name identifies the worker in logs; generated when empty.
	Name         string
	PollInterval time.Duration
	Logger       *slog.Logger
}

// Worker claims jobs from a store one at a time and runs the task on them.
// Interrupt is checked only between jobs; a claimed job always finishes.
type Worker struct {
	name         string
	store        store.WorkerStore
	task         TaskFunc
	pollInterval time.Duration
	logger       *slog.Logger

	startOnce sync.Once
	stopOnce  sync.Once
	stop      chan struct{}
	done      chan struct{}
	state     atomic.Int32
	heartbeat atomic.Int64
}

// New builds a worker; call Start or Run to begin polling.
func New(st store.WorkerStore, task TaskFunc, opts Options) *Worker {
	if opts.Name == "" {
		opts.Name = fmt.Sprintf("worker-%d", workerSeq.Add(1))
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = time.Second
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Worker{
		name:         opts.Name,
		store:        st,
		task:         task,
		pollInterval: opts.PollInterval,
		logger:       opts.Logger.With(slog.String("worker", opts.Name)),
		stop:         make(chan struct{}),
		done:         make(chan struct{}),
	}
}

func (w *Worker) Name() string { return w.name }

// Start runs the poll loop on its own goroutine. Calling it again is a no-op.
func (w *Worker) Start() {
	w.startOnce.Do(func() { go w.run() })
}

// Run runs the poll loop on the calling goroutine until interrupted.
func (w *Worker) Run() {
	w.startOnce.Do(w.run)
}

// Interrupt asks the loop to stop before claiming another job.
func (w *Worker) Interrupt() {
	w.stopOnce.Do(func() { close(w.stop) })
}

// Done is closed once the loop has exited, normally or by crashing.
func (w *Worker) Done() <-chan struct{} { return w.done }

// Alive reports whether the loop is still running.
func (w *Worker) Alive() bool {
	select {
	case <-w.done:
		return false
	default:
		return true
	}
}

func (w *Worker) State() State { return State(w.state.Load()) }

// LastHeartbeat is when the loop last reached the top of an iteration.
func (w *Worker) LastHeartbeat() time.Time {
	n := w.heartbeat.Load()
	if n == 0 {
		return time.Time{}
	}
	return time.Unix(0, n)
}

func (w *Worker) interrupted() bool {
	select {
	case <-w.stop:
		return true
	default:
		return false
	}
}

func (w *Worker) run() {
	defer close(w.done)
	defer w.state.Store(int32(StateStopped))
	defer func() {
		if r := recover(); r != nil {
			w.logger.Error("worker crashed", slog.Any("panic", r), slog.String("stack", string(debug.Stack())))
		}
	}()

	w.logger.Info("worker starting", slog.Duration("poll_interval", w.pollInterval))
	// Store calls are not tied to shutdown so an in-flight job can still be recorded.
	ctx := context.Background()
	for !w.interrupted() {
		w.heartbeat.Store(time.Now().UnixNano())

		processed, err := w.RunOnce(ctx)
		if err != nil {
			telemetry.WorkerPollErrors.Inc()
			w.logger.Error("worker cycle failed", slog.String("error", err.Error()))
		}
		if processed {
			continue
		}
		select {
		case <-w.stop:
		case <-time.After(w.pollInterval):
		}
	}
	w.logger.Info("worker interrupted, shutting down")
}

// RunOnce claims and processes at most one job. It reports whether a job was
// claimed; the error covers store failures only, task failures are recorded
// against the job.
func (w *Worker) RunOnce(ctx context.Context) (bool, error) {
	job, err := w.store.NextJob(ctx)
	if err != nil {
		return false, fmt.Errorf("next job: %w", err)
	}
	if job == nil {
		w.logger.Debug("no queued jobs")
		return false, nil
	}
	return true, w.process(ctx, job)
}

func (w *Worker) process(ctx context.Context, job *models.Job) error {
	w.state.Store(int32(StateProcessing))
	defer w.state.Store(int32(StateIdle))
	telemetry.InFlightGauge.Inc()
	defer telemetry.InFlightGauge.Dec()

	log := w.logger.With(slog.String("job_id", job.ID))
	log.Debug("starting job", slog.Int("bytes", len(job.Image)))

	start := time.Now()
	out, err := w.runTask(ctx, job.Image)
	telemetry.ProcessSeconds.Observe(time.Since(start).Seconds())

	if err == nil {
		if cerr := w.store.CompleteJob(ctx, job.ID, out); cerr != nil {
			err = fmt.Errorf("store thumbnail: %w", cerr)
		} else {
			telemetry.JobsSucceeded.Inc()
			log.Info("job succeeded", slog.Duration("took", time.Since(start)))
			return nil
		}
	}

	msg := failureMessage(err)
	log.Error("job failed", slog.String("error", err.Error()))
	if ferr := w.store.FailJob(ctx, job.ID, msg); ferr != nil {
		return fmt.Errorf("record failure of %s: %w", job.ID, ferr)
	}
	telemetry.JobsFailed.Inc()
	return nil
}

func (w *Worker) runTask(ctx context.Context, image []byte) (out []byte, err error) {
	defer func() {
		if r := recover(); r != nil {
			w.logger.Error("task panicked", slog.Any("panic", r), slog.String("stack", string(debug.Stack())))
			out, err = nil, fmt.Errorf("%w: %v", errTaskPanic, r)
		}
	}()
	return w.task(ctx, image)
}

// failureMessage is the text persisted for a failed job.
func failureMessage(err error) string {
	switch {
	case errors.Is(err, models.ErrInvalidImage):
		return models.ErrInvalidImage.Error()
	case errors.Is(err, errTaskPanic):
		return "internal error while generating thumbnail"
	default:
		return "thumbnail generation failed: " + err.Error()
	}
}
