package scheduler

import (
	"context"
	"log/slog"
	"time"

	"github.com/minsukang/datapilot/session"
)

// Sweeper periodically evicts abandoned upload sessions. There is no
// explicit upload-cancel operation; reclamation is time-based. The loop is
// decoupled from construction so tests call RunOnce directly instead of
// waiting on a real clock.
type Sweeper struct {
	manager  *session.Manager
	interval time.Duration
	logger   *slog.Logger
}

func New(manager *session.Manager, interval time.Duration, logger *slog.Logger) *Sweeper {
	if interval <= 0 {
		interval = time.Hour
	}
	return &Sweeper{
		manager:  manager,
		interval: interval,
		logger:   logger,
	}
}

// Start runs the sweep loop until ctx is cancelled.
func (s *Sweeper) Start(ctx context.Context) {
	s.logger.Info("starting idle-session sweeper", slog.Duration("interval", s.interval))
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("idle-session sweeper stopped")
			return
		case <-ticker.C:
			s.RunOnce(ctx)
		}
	}
}

// RunOnce performs a single sweep and returns how many sessions it evicted.
func (s *Sweeper) RunOnce(ctx context.Context) int {
	expired := s.manager.ExpireIdle(ctx)
	if expired > 0 {
		s.logger.Info("idle-session sweep complete", slog.Int("expired", expired))
	}
	return expired
}
