package scheduler

import (
	"context"
	"log/slog"
	"time"

	"github.com/jobukit/jobu/internal/cronutil"
	"github.com/jobukit/jobu/internal/domain"
	"github.com/jobukit/jobu/internal/metrics"
	"github.com/jobukit/jobu/internal/repository"
)

// catchUpCap bounds how many missed firings one job can materialize in a
// single pass, so a job re-enabled after months cannot wedge the dispatcher.
const catchUpCap = 1000

// Dispatcher walks the enabled cron jobs and materializes due firings as
// PENDING execution rows. Replicas race on the executions table's unique
// index, so any number of dispatchers can run against the same database.
type Dispatcher struct {
	crons        repository.CronRepository
	executions   repository.ExecutionRepository
	logger       *slog.Logger
	pollInterval time.Duration
	maxSleep     time.Duration
	// minInterval is the fastest schedule the dispatcher will materialize;
	// faster rows are skipped every pass until fixed.
	minInterval time.Duration

	now func() time.Time // stubbed in tests
}

func NewDispatcher(
	crons repository.CronRepository,
	executions repository.ExecutionRepository,
	logger *slog.Logger,
	pollInterval, maxSleep, minInterval time.Duration,
) *Dispatcher {
	return &Dispatcher{
		crons:        crons,
		executions:   executions,
		logger:       logger.With("component", "dispatcher"),
		pollInterval: pollInterval,
		maxSleep:     maxSleep,
		minInterval:  minInterval,
		now:          time.Now,
	}
}

func (d *Dispatcher) Start(ctx context.Context) {
	metrics.ProcessStartTime.WithLabelValues("dispatcher").SetToCurrentTime()
	d.logger.Info("dispatcher started", "poll_interval", d.pollInterval, "max_sleep", d.maxSleep)

	for {
		sleep := d.dispatch(ctx)
		select {
		case <-ctx.Done():
			d.logger.Info("dispatcher shut down")
			return
		case <-time.After(sleep):
		}
	}
}

// dispatch runs one pass and returns how long to sleep before the next one:
// until the earliest upcoming firing, clamped to [pollInterval, maxSleep].
func (d *Dispatcher) dispatch(ctx context.Context) time.Duration {
	start := d.now()
	defer func() {
		metrics.DispatchCycleDuration.Observe(time.Since(start).Seconds())
	}()

	jobs, err := d.crons.ListEnabled(ctx)
	if err != nil {
		d.logger.Error("list enabled cron jobs", "error", err)
		return d.pollInterval
	}

	earliest := start.Add(d.maxSleep)
	for _, job := range jobs {
		next, err := d.dispatchJob(ctx, job, start)
		if err != nil {
			d.logger.Error("dispatch cron job", "job_id", job.ID, "name", job.Name, "error", err)
			continue
		}
		if next.Before(earliest) {
			earliest = next
		}
	}

	sleep := earliest.Sub(d.now())
	if sleep < d.pollInterval {
		sleep = d.pollInterval
	}
	if sleep > d.maxSleep {
		sleep = d.maxSleep
	}
	return sleep
}

// dispatchJob creates execution rows for every firing of job that is due at
// or before now, and returns the first firing after now.
func (d *Dispatcher) dispatchJob(ctx context.Context, job *domain.CronJob, now time.Time) (time.Time, error) {
	// The admin API validates on create, but rows edited directly in the
	// database arrive here unchecked; a sub-minimum schedule would otherwise
	// flood the executions table. Re-checked every pass.
	if err := cronutil.ValidateInterval(job.CronExpression, d.minInterval); err != nil {
		return now.Add(d.maxSleep), err
	}

	sched, err := cronutil.Parse(job.CronExpression)
	if err != nil {
		return now.Add(d.maxSleep), err
	}

	from, err := d.catchUpFrom(ctx, job, now)
	if err != nil {
		return now.Add(d.maxSleep), err
	}

	next := sched.Next(from)
	for i := 0; !next.After(now); i++ {
		if i >= catchUpCap {
			d.logger.Warn("catch-up cap reached", "job_id", job.ID, "name", job.Name, "cap", catchUpCap)
			break
		}

		if !job.AllowOverlap {
			busy, err := d.executions.HasIncomplete(ctx, job.ID)
			if err != nil {
				return next, err
			}
			if busy {
				metrics.ExecutionsScheduledTotal.WithLabelValues("skipped_overlap").Inc()
				d.logger.Debug("skipping firing, previous execution incomplete",
					"job_id", job.ID, "name", job.Name, "scheduled_time", next)
				break
			}
		}

		inserted, err := d.executions.InsertScheduled(ctx, job, next)
		if err != nil {
			return next, err
		}
		if inserted {
			metrics.ExecutionsScheduledTotal.WithLabelValues("inserted").Inc()
			d.logger.Info("execution scheduled",
				"job_id", job.ID, "name", job.Name, "handler", job.HandlerName, "scheduled_time", next)
		} else {
			// Another replica won this firing.
			metrics.ExecutionsScheduledTotal.WithLabelValues("duplicate").Inc()
		}

		next = sched.Next(next)
	}
	return next, nil
}

// catchUpFrom picks the point the schedule resumes from: the last persisted
// firing when the job has history, otherwise one poll interval back. A brand
// new job therefore never floods the table with firings from the epoch.
func (d *Dispatcher) catchUpFrom(ctx context.Context, job *domain.CronJob, now time.Time) (time.Time, error) {
	latest, err := d.executions.LatestScheduledTime(ctx, job.ID)
	if err != nil {
		return time.Time{}, err
	}
	if latest != nil {
		return *latest, nil
	}
	return now.Add(-d.pollInterval), nil
}
