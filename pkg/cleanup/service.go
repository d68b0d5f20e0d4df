// Package cleanup enforces runtime retention. Sessions are created lazily
// per principal and would otherwise accumulate forever; the sweeper drops
// idle ones so abandoned sandbox handles and approval tables get released.
package cleanup

import (
	"context"
	"log/slog"
	"time"

	"github.com/kestrelops/kestrel/pkg/session"
)

// Service periodically sweeps the session store. All operations are
// idempotent; running multiple sweepers is safe but pointless.
type Service struct {
	sessions *session.Store
	interval time.Duration
	maxIdle  time.Duration
	logger   *slog.Logger

	cancel context.CancelFunc
	done   chan struct{}
}

// NewService creates a cleanup service. interval is how often to sweep;
// maxIdle is how long a session may sit untouched before removal.
func NewService(sessions *session.Store, interval, maxIdle time.Duration) *Service {
	return &Service{
		sessions: sessions,
		interval: interval,
		maxIdle:  maxIdle,
		logger:   slog.Default().With("component", "cleanup"),
	}
}

// Start launches the background sweep loop.
func (s *Service) Start(ctx context.Context) {
	ctx, s.cancel = context.WithCancel(ctx)
	s.done = make(chan struct{})

	go func() {
		defer close(s.done)
		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()

		s.logger.Info("Cleanup service started",
			"interval", s.interval, "max_idle", s.maxIdle)
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				s.sweep()
			}
		}
	}()
}

// Stop terminates the sweep loop and waits for it to exit.
func (s *Service) Stop() {
	if s.cancel == nil {
		return
	}
	s.cancel()
	<-s.done
	s.logger.Info("Cleanup service stopped")
}

func (s *Service) sweep() {
	if removed := s.sessions.Sweep(s.maxIdle); removed > 0 {
		s.logger.Info("Swept idle sessions", "removed", removed)
	}
}
