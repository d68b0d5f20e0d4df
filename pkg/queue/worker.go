package queue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/kestrelops/kestrel/pkg/models"
	"github.com/kestrelops/kestrel/pkg/services"
)

// RunRegistry is the subset of RunnerPool used by Worker for cancellation
// registration.
type RunRegistry interface {
	RegisterRun(instanceID string, cancel context.CancelFunc)
	UnregisterRun(instanceID string)
}

// Worker is a single queue worker that polls for and runs instances.
type Worker struct {
	id        string
	opts      Options
	instances *services.InstanceService
	runner    *Runner
	pool      RunRegistry
	stopCh    chan struct{}
	stopOnce  sync.Once
	wg        sync.WaitGroup

	// Health tracking
	mu            sync.RWMutex
	status        WorkerStatus
	currentRun    string
	runsProcessed int
	lastActivity  time.Time
}

// NewWorker creates a queue worker.
func NewWorker(id string, opts Options, instances *services.InstanceService, runner *Runner, pool RunRegistry) *Worker {
	return &Worker{
		id:           id,
		opts:         opts,
		instances:    instances,
		runner:       runner,
		pool:         pool,
		stopCh:       make(chan struct{}),
		status:       WorkerStatusIdle,
		lastActivity: time.Now(),
	}
}

// Start begins the worker polling loop in a goroutine.
func (w *Worker) Start(ctx context.Context) {
	w.wg.Add(1)
	go w.run(ctx)
}

// Stop signals the worker to stop and waits for it to finish. The current
// run completes before the worker exits. Safe to call multiple times.
func (w *Worker) Stop() {
	w.stopOnce.Do(func() { close(w.stopCh) })
	w.wg.Wait()
}

// Health returns the current worker health snapshot.
func (w *Worker) Health() WorkerHealth {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return WorkerHealth{
		ID:                w.id,
		Status:            w.status,
		CurrentInstanceID: w.currentRun,
		RunsProcessed:     w.runsProcessed,
		LastActivity:      w.lastActivity,
	}
}

// run is the main worker loop.
func (w *Worker) run(ctx context.Context) {
	defer w.wg.Done()

	log := slog.With("worker_id", w.id)
	log.Info("worker started")

	for {
		select {
		case <-w.stopCh:
			log.Info("worker shutting down")
			return
		case <-ctx.Done():
			log.Info("context cancelled, worker shutting down")
			return
		default:
			if err := w.pollAndProcess(ctx); err != nil {
				if errors.Is(err, ErrNoInstancesAvailable) {
					w.sleep(w.pollInterval())
					continue
				}
				log.Error("error processing instance", "error", err)
				w.sleep(time.Second)
			}
		}
	}
}

// sleep waits for the given duration or until stop is signalled.
func (w *Worker) sleep(d time.Duration) {
	select {
	case <-w.stopCh:
	case <-time.After(d):
	}
}

// pollAndProcess claims the oldest queued instance and runs it.
func (w *Worker) pollAndProcess(ctx context.Context) error {
	inst, err := w.claimNext(ctx)
	if err != nil {
		return err
	}

	log := slog.With("instance_id", inst.ID, "worker_id", w.id)
	log.Info("instance claimed")

	w.setStatus(WorkerStatusWorking, inst.ID)
	defer w.setStatus(WorkerStatusIdle, "")

	runCtx, cancelRun := context.WithCancel(ctx)
	defer cancelRun()

	// Register for API-triggered cancellation.
	w.pool.RegisterRun(inst.ID, cancelRun)
	defer w.pool.UnregisterRun(inst.ID)

	if err := w.runner.Execute(runCtx, inst); err != nil {
		log.Error("run ended with error", "error", err)
	}

	w.mu.Lock()
	w.runsProcessed++
	w.mu.Unlock()

	log.Info("instance processing complete")
	return nil
}

// claimNext transitions the oldest claimable queued instance to running.
// The compare-and-set inside the transition makes the claim race-safe:
// a worker that loses the race just tries the next candidate.
func (w *Worker) claimNext(ctx context.Context) (*models.Instance, error) {
	candidates, err := w.instances.ListQueued(ctx, w.opts.WorkerCount)
	if err != nil {
		return nil, fmt.Errorf("listing queued instances: %w", err)
	}
	for _, candidate := range candidates {
		inst, err := w.instances.Transition(ctx, candidate.ID, models.StatusRunning, nil)
		if err == nil {
			return inst, nil
		}
		if errors.Is(err, services.ErrConcurrentModification) ||
			errors.Is(err, services.ErrIllegalTransition) ||
			errors.Is(err, services.ErrNotFound) {
			continue
		}
		return nil, fmt.Errorf("claiming instance %s: %w", candidate.ID, err)
	}
	return nil, ErrNoInstancesAvailable
}

// pollInterval returns the poll duration with jitter.
func (w *Worker) pollInterval() time.Duration {
	base := w.opts.PollInterval
	jitter := w.opts.Jitter
	if jitter <= 0 {
		return base
	}
	// Range: [base - jitter, base + jitter]
	offset := time.Duration(rand.Int64N(int64(2 * jitter)))
	return base - jitter + offset
}

// setStatus updates the worker's health tracking state.
func (w *Worker) setStatus(status WorkerStatus, instanceID string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.status = status
	w.currentRun = instanceID
	w.lastActivity = time.Now()
}
