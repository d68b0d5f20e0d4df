package queue

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/kestrelops/kestrel/pkg/services"
)

// RunnerPool manages a pool of queue workers plus the approval entrypoints
// for runs the workers parked.
type RunnerPool struct {
	opts      Options
	instances *services.InstanceService
	runner    *Runner
	workers   []*Worker

	// Run cancel registry: instance_id → cancel function.
	mu         sync.RWMutex
	activeRuns map[string]context.CancelFunc
	started    bool
}

// NewRunnerPool creates a pool around a runner.
func NewRunnerPool(opts Options, instances *services.InstanceService, runner *Runner) *RunnerPool {
	opts = opts.withDefaults()
	return &RunnerPool{
		opts:       opts,
		instances:  instances,
		runner:     runner,
		workers:    make([]*Worker, 0, opts.WorkerCount),
		activeRuns: make(map[string]context.CancelFunc),
	}
}

// Start spawns the worker goroutines. Safe to call multiple times;
// subsequent calls are no-ops.
func (p *RunnerPool) Start(ctx context.Context) {
	if p.started {
		slog.Warn("runner pool already started, ignoring duplicate Start call")
		return
	}
	p.started = true

	slog.Info("starting runner pool", "worker_count", p.opts.WorkerCount)
	for i := 0; i < p.opts.WorkerCount; i++ {
		worker := NewWorker(fmt.Sprintf("worker-%d", i), p.opts, p.instances, p.runner, p)
		p.workers = append(p.workers, worker)
		worker.Start(ctx)
	}
	slog.Info("runner pool started")
}

// Stop signals all workers to stop and waits for them to finish their
// current runs.
func (p *RunnerPool) Stop() {
	slog.Info("stopping runner pool")

	active := p.activeRunIDs()
	if len(active) > 0 {
		slog.Info("waiting for active runs to complete",
			"count", len(active), "instance_ids", active)
	}

	for _, worker := range p.workers {
		worker.Stop()
	}
	slog.Info("runner pool stopped")
}

// Approve resolves a parked run's pending call positively and resumes it.
func (p *RunnerPool) Approve(ctx context.Context, pendingID string) error {
	return p.runner.Resolve(ctx, pendingID, true)
}

// Reject resolves a parked run's pending call negatively and resumes it;
// the loop continues with a rejection observation.
func (p *RunnerPool) Reject(ctx context.Context, pendingID string) error {
	return p.runner.Resolve(ctx, pendingID, false)
}

// Holds reports whether a surrendered run is parked under the pending id.
func (p *RunnerPool) Holds(pendingID string) bool {
	return p.runner.Holds(pendingID)
}

// RegisterRun stores a cancel function for manual cancellation.
func (p *RunnerPool) RegisterRun(instanceID string, cancel context.CancelFunc) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.activeRuns[instanceID] = cancel
}

// UnregisterRun removes the cancel function when a run segment ends.
func (p *RunnerPool) UnregisterRun(instanceID string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.activeRuns, instanceID)
}

// CancelRun triggers context cancellation for a run on this pool.
// Returns true if the run was active here.
func (p *RunnerPool) CancelRun(instanceID string) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if cancel, ok := p.activeRuns[instanceID]; ok {
		cancel()
		return true
	}
	return false
}

// Health returns the current pool health snapshot.
func (p *RunnerPool) Health(ctx context.Context) *PoolHealth {
	queued, err := p.instances.ListQueued(ctx, 0)
	if err != nil {
		slog.Error("failed to query queue depth for health check", "error", err)
	}

	workerStats := make([]WorkerHealth, len(p.workers))
	activeWorkers := 0
	for i, worker := range p.workers {
		stats := worker.Health()
		workerStats[i] = stats
		if stats.Status == WorkerStatusWorking {
			activeWorkers++
		}
	}

	return &PoolHealth{
		Healthy:       len(p.workers) > 0 && err == nil,
		ActiveWorkers: activeWorkers,
		TotalWorkers:  len(p.workers),
		QueueDepth:    len(queued),
		HeldRuns:      p.runner.HeldRuns(),
		WorkerStats:   workerStats,
	}
}

func (p *RunnerPool) activeRunIDs() []string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	ids := make([]string, 0, len(p.activeRuns))
	for id := range p.activeRuns {
		ids = append(ids, id)
	}
	return ids
}
