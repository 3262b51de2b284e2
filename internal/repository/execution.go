package repository

import (
	"context"
	"time"

	"github.com/jobukit/jobu/internal/domain"
)

type ListExecutionsInput struct {
	JobID  *int64        // nil = all jobs
	Status domain.Status // empty = all statuses
	Since  *time.Time    // inclusive lower bound on scheduled_time
	Until  *time.Time    // inclusive upper bound on scheduled_time
	Limit  int
	Offset int
}

// FailureOutcome is what the worker records for an unsuccessful attempt.
type FailureOutcome struct {
	Status       domain.Status // FAILED or TIMEOUT
	ErrorMessage string
	FinishedAt   time.Time
}

type ExecutionRepository interface {
	// InsertScheduled creates a PENDING row for one firing. The insert is
	// conflict-ignoring on (job_id, scheduled_time): inserted=false means a
	// replica already created it.
	InsertScheduled(ctx context.Context, job *domain.CronJob, scheduledTime time.Time) (inserted bool, err error)
	// InsertEvent creates a PENDING row for a queue message; job_id may be nil.
	InsertEvent(ctx context.Context, jobID *int64, handlerName string, params domain.JSONMap, scheduledTime time.Time) (*domain.Execution, error)

	// LatestScheduledTime returns the greatest persisted firing time for a
	// job, or nil when it has never fired.
	LatestScheduledTime(ctx context.Context, jobID int64) (*time.Time, error)
	// HasIncomplete reports whether the job has a PENDING or RUNNING row;
	// the dispatcher's overlap guard.
	HasIncomplete(ctx context.Context, jobID int64) (bool, error)

	// ListPending returns claimable rows joined with the owning cron job's
	// retry and timeout policy, in creation order.
	ListPending(ctx context.Context, limit int) ([]*domain.ClaimedExecution, error)
	// ListRunningBefore returns RUNNING rows started before cutoff, with
	// policy joined in; the reaper's candidate set.
	ListRunningBefore(ctx context.Context, cutoff time.Time, limit int) ([]*domain.ClaimedExecution, error)
	// Claim flips one row PENDING -> RUNNING. claimed=false means another
	// worker won the row.
	Claim(ctx context.Context, id int64, startedAt time.Time) (claimed bool, err error)
	Complete(ctx context.Context, id int64, result domain.JSONMap, finishedAt time.Time) error
	// RecordFailure marks the attempt FAILED or TIMEOUT and increments
	// retry_count in the same statement. It returns the post-increment count.
	RecordFailure(ctx context.Context, id int64, outcome FailureOutcome) (retryCount int, err error)
	// Requeue puts an exhausted-free failed row back to PENDING for another
	// attempt, keeping its retry_count.
	Requeue(ctx context.Context, id int64) error

	GetByID(ctx context.Context, id int64) (*domain.Execution, error)
	List(ctx context.Context, input ListExecutionsInput) ([]*domain.Execution, error)
	Delete(ctx context.Context, id int64) error
	// ResetForRetry is the admin retry: terminal-failure row back to PENDING
	// with a zeroed retry_count.
	ResetForRetry(ctx context.Context, id int64) error
	// DeleteFinishedBefore prunes terminal rows older than cutoff; used by
	// the cleanup handler.
	DeleteFinishedBefore(ctx context.Context, cutoff time.Time, statuses []domain.Status) (int64, error)
	// CountByStatus aggregates rows created at or after since; used by the
	// report handler.
	CountByStatus(ctx context.Context, since time.Time) (map[domain.Status]int, error)
}
