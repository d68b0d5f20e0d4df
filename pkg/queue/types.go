// Package queue drives queued instances through the agent loop: a pool of
// workers claims instances by status transition, runs the controller for
// the instance's execution mode, and persists the outcome. Runs that
// surrender for approval are parked here until the pending call resolves.
package queue

import (
	"errors"
	"time"
)

// Worker-loop sentinels.
var (
	// ErrNoInstancesAvailable means the queue is empty or every queued
	// instance was claimed by another worker first.
	ErrNoInstancesAvailable = errors.New("no queued instances available")

	// ErrRunNotHeld means no surrendered run is parked under the pending id.
	ErrRunNotHeld = errors.New("no held run for pending call")
)

// Options configures the runner pool.
type Options struct {
	// WorkerCount is the number of polling workers.
	WorkerCount int

	// PollInterval is the idle sleep between queue polls; Jitter spreads
	// workers so they do not poll in lockstep.
	PollInterval time.Duration
	Jitter       time.Duration

	// RunTimeout bounds a single run segment. Surrendered runs stop the
	// clock; resumption starts a fresh segment.
	RunTimeout time.Duration
}

// withDefaults fills unset options.
func (o Options) withDefaults() Options {
	if o.WorkerCount <= 0 {
		o.WorkerCount = 4
	}
	if o.PollInterval <= 0 {
		o.PollInterval = 500 * time.Millisecond
	}
	if o.RunTimeout <= 0 {
		o.RunTimeout = 10 * time.Minute
	}
	return o
}

// WorkerStatus represents the current state of a worker.
type WorkerStatus string

const (
	WorkerStatusIdle    WorkerStatus = "idle"
	WorkerStatusWorking WorkerStatus = "working"
)

// WorkerHealth is one worker's health snapshot.
type WorkerHealth struct {
	ID                string       `json:"id"`
	Status            WorkerStatus `json:"status"`
	CurrentInstanceID string       `json:"current_instance_id,omitempty"`
	RunsProcessed     int          `json:"runs_processed"`
	LastActivity      time.Time    `json:"last_activity"`
}

// PoolHealth is the pool-wide health snapshot.
type PoolHealth struct {
	Healthy       bool           `json:"healthy"`
	ActiveWorkers int            `json:"active_workers"`
	TotalWorkers  int            `json:"total_workers"`
	QueueDepth    int            `json:"queue_depth"`
	HeldRuns      int            `json:"held_runs"`
	WorkerStats   []WorkerHealth `json:"worker_stats"`
}
