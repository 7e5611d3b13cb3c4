package pipeline

import (
	"context"
	"log/slog"
	"math/rand"
	"sync"
	"time"
)

// Status is a snapshot of a worker's run history, surfaced on the admin
// dashboard (SPEC_FULL.md §8 GET /stats).
type Status struct {
	Name        string
	Running     bool
	Paused      bool
	LastCycleAt time.Time
	LastError   string
	CycleCount  int64
	LastCycleN  int // items processed in the last cycle
}

// cycleFunc runs one poll cycle and returns how many items it processed.
type cycleFunc func(ctx context.Context) (int, error)

// workerLoop generalizes the teacher's BackgroundAgentManager ticker loop
// (background.go) into a standalone, pausable polling skeleton: a startup
// jitter, then cycle-and-sleep until ctx is cancelled. Every pipeline
// worker and the Orchestrator embed one instance of this.
type workerLoop struct {
	name     string
	interval time.Duration
	run      cycleFunc
	log      *slog.Logger
	metrics  *Metrics

	mu     sync.Mutex
	status Status
	paused bool
}

// newWorkerLoop builds a loop named name, polling at interval, calling run
// once per cycle.
func newWorkerLoop(name string, interval time.Duration, log *slog.Logger, run cycleFunc) *workerLoop {
	if log == nil {
		log = slog.Default()
	}
	return &workerLoop{
		name:     name,
		interval: interval,
		run:      run,
		log:      log.With("worker", name),
		status:   Status{Name: name},
	}
}

// Pause stops future cycles from running work until Resume is called; the
// loop keeps ticking but each cycle is a no-op while paused (SPEC_FULL.md
// §8 pause/resume admin endpoints).
func (w *workerLoop) Pause() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.paused = true
	w.status.Paused = true
}

// Resume clears a prior Pause.
func (w *workerLoop) Resume() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.paused = false
	w.status.Paused = false
}

// SetMetrics attaches m so future cycles report their outcome to it.
func (w *workerLoop) SetMetrics(m *Metrics) { w.metrics = m }

// GetStatus returns a snapshot of the loop's run history.
func (w *workerLoop) GetStatus() Status {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.status
}

// Run blocks, cycling until ctx is cancelled. It jitters its first cycle by
// a random 5-15s delay so a fleet of workers started together doesn't poll
// in lockstep (spec.md §5 "startup jitter").
func (w *workerLoop) Run(ctx context.Context) {
	w.mu.Lock()
	w.status.Running = true
	w.mu.Unlock()
	defer func() {
		w.mu.Lock()
		w.status.Running = false
		w.mu.Unlock()
	}()

	jitter := time.Duration(5+rand.Intn(11)) * time.Second
	select {
	case <-ctx.Done():
		return
	case <-time.After(jitter):
	}

	for {
		w.cycle(ctx)

		select {
		case <-ctx.Done():
			return
		case <-time.After(w.interval):
		}
	}
}

func (w *workerLoop) cycle(ctx context.Context) {
	w.mu.Lock()
	paused := w.paused
	w.mu.Unlock()
	if paused {
		return
	}

	n, err := w.run(ctx)

	if w.metrics != nil {
		w.metrics.ObserveCycle(w.name, err)
	}

	w.mu.Lock()
	w.status.CycleCount++
	w.status.LastCycleAt = time.Now()
	w.status.LastCycleN = n
	if err != nil {
		w.status.LastError = err.Error()
	} else {
		w.status.LastError = ""
	}
	w.mu.Unlock()

	if err != nil {
		w.log.Error("worker cycle failed", "error", err, "processed", n)
	} else if n > 0 {
		w.log.Info("worker cycle completed", "processed", n)
	}
}
