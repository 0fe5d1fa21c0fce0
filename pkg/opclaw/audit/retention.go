package audit

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
)

// Retention prunes the store on a cron schedule.
type Retention struct {
	store  *Store
	keep   time.Duration
	cron   *cron.Cron
	ctx    context.Context
	cancel context.CancelFunc
}

// StartRetention schedules Prune(keep) on schedule (standard 5-field cron or
// a descriptor such as @daily) and runs one prune immediately.
func (s *Store) StartRetention(ctx context.Context, schedule string, keep time.Duration) (*Retention, error) {
	if keep <= 0 {
		return nil, fmt.Errorf("audit retention must be positive, got %s", keep)
	}
	if schedule == "" {
		schedule = "@daily"
	}

	r := &Retention{
		store: s,
		keep:  keep,
		cron: cron.New(cron.WithParser(cron.NewParser(
			cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor,
		))),
	}
	r.ctx, r.cancel = context.WithCancel(ctx)

	if _, err := r.cron.AddFunc(schedule, r.prune); err != nil {
		r.cancel()
		return nil, fmt.Errorf("invalid audit prune schedule %q: %w", schedule, err)
	}

	r.prune()
	r.cron.Start()
	s.logger.Info("audit retention started", "schedule", schedule, "keep", keep)
	return r, nil
}

func (r *Retention) prune() {
	n, err := r.store.Prune(r.ctx, r.keep)
	if err != nil {
		r.store.logger.Warn("audit prune failed", "error", err)
		return
	}
	if n > 0 {
		r.store.logger.Info("audit entries pruned", "removed", n)
	}
}

// Stop halts the schedule and waits briefly for a running prune.
func (r *Retention) Stop() {
	ctx := r.cron.Stop()
	select {
	case <-ctx.Done():
	case <-time.After(10 * time.Second):
		r.store.logger.Warn("audit retention stop timed out")
	}
	r.cancel()
}
