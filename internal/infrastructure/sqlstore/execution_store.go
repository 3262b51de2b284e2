package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jobukit/jobu/internal/database"
	"github.com/jobukit/jobu/internal/domain"
	"github.com/jobukit/jobu/internal/repository"
)

const executionColumns = `id, job_id, handler_name, scheduled_time, params, param_source,
	status, started_at, finished_at, retry_count, error_message, result, created_at`

type ExecutionStore struct {
	db *database.DB
}

func NewExecutionStore(db *database.DB) *ExecutionStore {
	return &ExecutionStore{db: db}
}

// InsertScheduled relies entirely on the UNIQUE (job_id, scheduled_time)
// index for replica coordination: the insert ignores the conflict and the
// affected-row count tells the dispatcher whether it won the firing.
func (s *ExecutionStore) InsertScheduled(ctx context.Context, job *domain.CronJob, scheduledTime time.Time) (bool, error) {
	query := `
		INSERT INTO job_executions (
			job_id, handler_name, scheduled_time, params, param_source,
			status, retry_count, created_at
		) VALUES (?, ?, ?, ?, ?, ?, 0, ?)`
	if s.db.Driver == database.DriverMySQL {
		query = strings.Replace(query, "INSERT INTO", "INSERT IGNORE INTO", 1)
	} else {
		query += ` ON CONFLICT (job_id, scheduled_time) DO NOTHING`
	}

	res, err := s.db.ExecContext(ctx, s.db.Rebind(query),
		job.ID, job.HandlerName, scheduledTime.UTC(), job.HandlerParams,
		domain.SourceCron, domain.StatusPending, time.Now().UTC(),
	)
	if err != nil {
		return false, fmt.Errorf("insert scheduled execution: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("insert scheduled execution: %w", err)
	}
	return n > 0, nil
}

func (s *ExecutionStore) InsertEvent(ctx context.Context, jobID *int64, handlerName string, params domain.JSONMap, scheduledTime time.Time) (*domain.Execution, error) {
	id, err := insertID(ctx, s.db, `
		INSERT INTO job_executions (
			job_id, handler_name, scheduled_time, params, param_source,
			status, retry_count, created_at
		) VALUES (?, ?, ?, ?, ?, ?, 0, ?)`,
		jobID, handlerName, scheduledTime.UTC(), params,
		domain.SourceEvent, domain.StatusPending, time.Now().UTC(),
	)
	if err != nil {
		return nil, fmt.Errorf("insert event execution: %w", err)
	}
	return s.GetByID(ctx, id)
}

func (s *ExecutionStore) LatestScheduledTime(ctx context.Context, jobID int64) (*time.Time, error) {
	// ORDER BY + LIMIT instead of MAX() so the value comes back through the
	// column's declared type on every backend.
	var t time.Time
	err := s.db.GetContext(ctx, &t, s.db.Rebind(`
		SELECT scheduled_time FROM job_executions
		WHERE job_id = ?
		ORDER BY scheduled_time DESC
		LIMIT 1`), jobID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("latest scheduled time: %w", err)
	}
	return &t, nil
}

func (s *ExecutionStore) HasIncomplete(ctx context.Context, jobID int64) (bool, error) {
	var n int
	err := s.db.GetContext(ctx, &n, s.db.Rebind(`
		SELECT COUNT(*) FROM job_executions
		WHERE job_id = ? AND status IN (?, ?)`),
		jobID, domain.StatusPending, domain.StatusRunning)
	if err != nil {
		return false, fmt.Errorf("check incomplete executions: %w", err)
	}
	return n > 0, nil
}

func (s *ExecutionStore) ListPending(ctx context.Context, limit int) ([]*domain.ClaimedExecution, error) {
	// Event rows may have no owning cron job; they run under default policy.
	var rows []*domain.ClaimedExecution
	err := s.db.SelectContext(ctx, &rows, s.db.Rebind(`
		SELECT e.id, e.job_id, e.handler_name, e.scheduled_time, e.params,
		       e.param_source, e.status, e.started_at, e.finished_at,
		       e.retry_count, e.error_message, e.result, e.created_at,
		       COALESCE(j.max_retry, 0) AS max_retry,
		       COALESCE(j.timeout_seconds, 3600) AS timeout_seconds
		FROM job_executions e
		LEFT JOIN cron_jobs j ON j.id = e.job_id
		WHERE e.status = ?
		ORDER BY e.created_at ASC, e.id ASC
		LIMIT ?`),
		domain.StatusPending, limit)
	if err != nil {
		return nil, fmt.Errorf("list pending executions: %w", err)
	}
	return rows, nil
}

func (s *ExecutionStore) ListRunningBefore(ctx context.Context, cutoff time.Time, limit int) ([]*domain.ClaimedExecution, error) {
	var rows []*domain.ClaimedExecution
	err := s.db.SelectContext(ctx, &rows, s.db.Rebind(`
		SELECT e.id, e.job_id, e.handler_name, e.scheduled_time, e.params,
		       e.param_source, e.status, e.started_at, e.finished_at,
		       e.retry_count, e.error_message, e.result, e.created_at,
		       COALESCE(j.max_retry, 0) AS max_retry,
		       COALESCE(j.timeout_seconds, 3600) AS timeout_seconds
		FROM job_executions e
		LEFT JOIN cron_jobs j ON j.id = e.job_id
		WHERE e.status = ? AND e.started_at IS NOT NULL AND e.started_at < ?
		ORDER BY e.started_at ASC
		LIMIT ?`),
		domain.StatusRunning, cutoff.UTC(), limit)
	if err != nil {
		return nil, fmt.Errorf("list running executions: %w", err)
	}
	return rows, nil
}

// Claim is the compare-and-set that keeps concurrent workers off the same
// row: only the transition from PENDING can win.
func (s *ExecutionStore) Claim(ctx context.Context, id int64, startedAt time.Time) (bool, error) {
	res, err := s.db.ExecContext(ctx, s.db.Rebind(`
		UPDATE job_executions
		SET status = ?, started_at = ?
		WHERE id = ? AND status = ?`),
		domain.StatusRunning, startedAt.UTC(), id, domain.StatusPending)
	if err != nil {
		return false, fmt.Errorf("claim execution: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("claim execution: %w", err)
	}
	return n > 0, nil
}

func (s *ExecutionStore) Complete(ctx context.Context, id int64, result domain.JSONMap, finishedAt time.Time) error {
	_, err := s.db.ExecContext(ctx, s.db.Rebind(`
		UPDATE job_executions
		SET status = ?, result = ?, finished_at = ?, error_message = NULL
		WHERE id = ?`),
		domain.StatusSuccess, result, finishedAt.UTC(), id)
	if err != nil {
		return fmt.Errorf("complete execution: %w", err)
	}
	return nil
}

func (s *ExecutionStore) RecordFailure(ctx context.Context, id int64, outcome repository.FailureOutcome) (int, error) {
	_, err := s.db.ExecContext(ctx, s.db.Rebind(`
		UPDATE job_executions
		SET status = ?, error_message = ?, finished_at = ?,
		    retry_count = retry_count + 1
		WHERE id = ?`),
		outcome.Status, outcome.ErrorMessage, outcome.FinishedAt.UTC(), id)
	if err != nil {
		return 0, fmt.Errorf("record failure: %w", err)
	}

	var count int
	if err := s.db.GetContext(ctx, &count, s.db.Rebind(
		`SELECT retry_count FROM job_executions WHERE id = ?`), id); err != nil {
		return 0, fmt.Errorf("record failure: %w", err)
	}
	return count, nil
}

func (s *ExecutionStore) Requeue(ctx context.Context, id int64) error {
	_, err := s.db.ExecContext(ctx, s.db.Rebind(`
		UPDATE job_executions
		SET status = ?, started_at = NULL, finished_at = NULL
		WHERE id = ?`),
		domain.StatusPending, id)
	if err != nil {
		return fmt.Errorf("requeue execution: %w", err)
	}
	return nil
}

func (s *ExecutionStore) GetByID(ctx context.Context, id int64) (*domain.Execution, error) {
	var e domain.Execution
	err := s.db.GetContext(ctx, &e, s.db.Rebind(
		`SELECT `+executionColumns+` FROM job_executions WHERE id = ?`), id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrExecutionNotFound
		}
		return nil, fmt.Errorf("get execution: %w", err)
	}
	return &e, nil
}

func (s *ExecutionStore) List(ctx context.Context, input repository.ListExecutionsInput) ([]*domain.Execution, error) {
	where := []string{"1 = 1"}
	var args []any
	if input.JobID != nil {
		where = append(where, "job_id = ?")
		args = append(args, *input.JobID)
	}
	if input.Status != "" {
		where = append(where, "status = ?")
		args = append(args, input.Status)
	}
	if input.Since != nil {
		where = append(where, "scheduled_time >= ?")
		args = append(args, input.Since.UTC())
	}
	if input.Until != nil {
		where = append(where, "scheduled_time <= ?")
		args = append(args, input.Until.UTC())
	}
	limit := input.Limit
	if limit <= 0 {
		limit = 100
	}
	args = append(args, limit, input.Offset)

	query := `SELECT ` + executionColumns + ` FROM job_executions
		WHERE ` + strings.Join(where, " AND ") + `
		ORDER BY id DESC
		LIMIT ? OFFSET ?`

	var rows []*domain.Execution
	if err := s.db.SelectContext(ctx, &rows, s.db.Rebind(query), args...); err != nil {
		return nil, fmt.Errorf("list executions: %w", err)
	}
	return rows, nil
}

func (s *ExecutionStore) Delete(ctx context.Context, id int64) error {
	res, err := s.db.ExecContext(ctx, s.db.Rebind(
		`DELETE FROM job_executions WHERE id = ?`), id)
	if err != nil {
		return fmt.Errorf("delete execution: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return domain.ErrExecutionNotFound
	}
	return nil
}

func (s *ExecutionStore) ResetForRetry(ctx context.Context, id int64) error {
	e, err := s.GetByID(ctx, id)
	if err != nil {
		return err
	}
	if e.Status != domain.StatusFailed && e.Status != domain.StatusTimeout {
		return domain.ErrExecutionNotRetryable
	}

	// CAS on the observed status so a concurrent worker claim cannot be
	// silently overwritten.
	res, err := s.db.ExecContext(ctx, s.db.Rebind(`
		UPDATE job_executions
		SET status = ?, retry_count = 0, started_at = NULL,
		    finished_at = NULL, error_message = NULL, result = NULL
		WHERE id = ? AND status = ?`),
		domain.StatusPending, id, e.Status)
	if err != nil {
		return fmt.Errorf("reset execution for retry: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return domain.ErrExecutionNotRetryable
	}
	return nil
}

func (s *ExecutionStore) DeleteFinishedBefore(ctx context.Context, cutoff time.Time, statuses []domain.Status) (int64, error) {
	if len(statuses) == 0 {
		statuses = []domain.Status{domain.StatusSuccess, domain.StatusFailed, domain.StatusTimeout}
	}
	marks := make([]string, len(statuses))
	args := make([]any, 0, len(statuses)+1)
	args = append(args, cutoff.UTC())
	for i, st := range statuses {
		marks[i] = "?"
		args = append(args, st)
	}

	res, err := s.db.ExecContext(ctx, s.db.Rebind(`
		DELETE FROM job_executions
		WHERE finished_at IS NOT NULL AND finished_at < ?
		  AND status IN (`+strings.Join(marks, ", ")+`)`), args...)
	if err != nil {
		return 0, fmt.Errorf("delete finished executions: %w", err)
	}
	return res.RowsAffected()
}

func (s *ExecutionStore) CountByStatus(ctx context.Context, since time.Time) (map[domain.Status]int, error) {
	var rows []struct {
		Status domain.Status `db:"status"`
		Count  int           `db:"n"`
	}
	err := s.db.SelectContext(ctx, &rows, s.db.Rebind(`
		SELECT status, COUNT(*) AS n
		FROM job_executions
		WHERE created_at >= ?
		GROUP BY status`), since.UTC())
	if err != nil {
		return nil, fmt.Errorf("count executions by status: %w", err)
	}

	counts := make(map[domain.Status]int, len(rows))
	for _, r := range rows {
		counts[r.Status] = r.Count
	}
	return counts, nil
}
