package job

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/sells-group/speclens/internal/store"
)

// Sweeper periodically deletes terminal jobs older than the retention
// window.
type Sweeper struct {
	store     store.JobStore
	retention time.Duration
	interval  time.Duration
}

// NewSweeper creates a Sweeper. Retention defaults to 7 days and the sweep
// interval to 1 hour.
func NewSweeper(st store.JobStore, retention, interval time.Duration) *Sweeper {
	if retention <= 0 {
		retention = 7 * 24 * time.Hour
	}
	if interval <= 0 {
		interval = time.Hour
	}
	return &Sweeper{store: st, retention: retention, interval: interval}
}

// Run sweeps on a ticker until ctx is cancelled. One sweep happens
// immediately on start.
func (s *Sweeper) Run(ctx context.Context) {
	s.sweep(ctx)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.sweep(ctx)
		}
	}
}

func (s *Sweeper) sweep(ctx context.Context) {
	n, err := s.store.DeleteExpiredJobs(ctx, s.retention)
	if err != nil {
		zap.L().Error("retention sweep", zap.Error(err))
		return
	}
	if n > 0 {
		zap.L().Info("retention sweep", zap.Int("jobs_deleted", n))
	}
}
