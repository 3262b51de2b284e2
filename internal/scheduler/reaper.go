package scheduler

import (
	"context"
	"log/slog"
	"time"

	"github.com/jobukit/jobu/internal/domain"
	"github.com/jobukit/jobu/internal/metrics"
	"github.com/jobukit/jobu/internal/repository"
)

// Reaper recovers executions orphaned by crashed or force-killed workers:
// rows stuck RUNNING past their timeout plus a grace margin are marked
// TIMEOUT and re-queued while their retry budget lasts.
type Reaper struct {
	executions repository.ExecutionRepository
	logger     *slog.Logger
	interval   time.Duration
	// grace is slack on top of each job's own timeout before a RUNNING row
	// counts as orphaned, so the reaper never races a live worker that is
	// about to record the timeout itself.
	grace time.Duration

	now func() time.Time
}

func NewReaper(executions repository.ExecutionRepository, logger *slog.Logger, interval, grace time.Duration) *Reaper {
	return &Reaper{
		executions: executions,
		logger:     logger.With("component", "reaper"),
		interval:   interval,
		grace:      grace,
		now:        time.Now,
	}
}

func (r *Reaper) Start(ctx context.Context) {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	r.logger.Info("reaper started", "interval", r.interval, "grace", r.grace)

	for {
		select {
		case <-ctx.Done():
			r.logger.Info("reaper shut down")
			return
		case <-ticker.C:
			r.reap(ctx)
		}
	}
}

func (r *Reaper) reap(ctx context.Context) {
	now := r.now()

	// Coarse DB cutoff: nothing younger than the grace margin can be stale.
	// The per-row timeout check happens below against the joined policy.
	candidates, err := r.executions.ListRunningBefore(ctx, now.Add(-r.grace), 100)
	if err != nil {
		r.logger.Error("list running executions", "error", err)
		return
	}

	for _, e := range candidates {
		if e.StartedAt == nil || e.StartedAt.Add(e.Timeout()+r.grace).After(now) {
			continue
		}

		retryCount, err := r.executions.RecordFailure(ctx, e.ID, repository.FailureOutcome{
			Status:       domain.StatusTimeout,
			ErrorMessage: "worker lost: execution exceeded timeout without completing",
			FinishedAt:   now,
		})
		if err != nil {
			r.logger.Error("reap execution", "execution_id", e.ID, "error", err)
			continue
		}

		if retryCount <= e.MaxRetry {
			if err := r.executions.Requeue(ctx, e.ID); err != nil {
				r.logger.Error("requeue reaped execution", "execution_id", e.ID, "error", err)
				continue
			}
			metrics.ExecutionsFinishedTotal.WithLabelValues("retry").Inc()
			r.logger.Warn("orphaned execution re-queued",
				"execution_id", e.ID, "handler", e.HandlerName,
				"retry", retryCount, "max_retry", e.MaxRetry)
		} else {
			metrics.ExecutionsFinishedTotal.WithLabelValues("timeout").Inc()
			r.logger.Warn("orphaned execution permanently failed",
				"execution_id", e.ID, "handler", e.HandlerName, "attempts", retryCount)
		}
	}
}
