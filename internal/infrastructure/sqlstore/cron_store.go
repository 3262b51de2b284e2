package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jobukit/jobu/internal/database"
	"github.com/jobukit/jobu/internal/domain"
	"github.com/jobukit/jobu/internal/repository"
)

const cronColumns = `id, name, description, cron_expression, handler_name, handler_params,
	is_enabled, allow_overlap, max_retry, timeout_seconds, created_at, updated_at`

type CronStore struct {
	db *database.DB
}

func NewCronStore(db *database.DB) *CronStore {
	return &CronStore{db: db}
}

func (s *CronStore) Create(ctx context.Context, job *domain.CronJob) (*domain.CronJob, error) {
	now := time.Now().UTC()
	id, err := insertID(ctx, s.db, `
		INSERT INTO cron_jobs (
			name, description, cron_expression, handler_name, handler_params,
			is_enabled, allow_overlap, max_retry, timeout_seconds, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		job.Name, job.Description, job.CronExpression, job.HandlerName, job.HandlerParams,
		job.IsEnabled, job.AllowOverlap, job.MaxRetry, job.TimeoutSeconds, now, now,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, domain.ErrCronNameConflict
		}
		return nil, fmt.Errorf("create cron job: %w", err)
	}
	return s.GetByID(ctx, id)
}

func (s *CronStore) GetByID(ctx context.Context, id int64) (*domain.CronJob, error) {
	return s.getOne(ctx, `SELECT `+cronColumns+` FROM cron_jobs WHERE id = ?`, id)
}

func (s *CronStore) GetByName(ctx context.Context, name string) (*domain.CronJob, error) {
	return s.getOne(ctx, `SELECT `+cronColumns+` FROM cron_jobs WHERE name = ?`, name)
}

func (s *CronStore) FirstByHandler(ctx context.Context, handlerName string) (*domain.CronJob, error) {
	return s.getOne(ctx, `
		SELECT `+cronColumns+` FROM cron_jobs
		WHERE handler_name = ?
		ORDER BY id ASC
		LIMIT 1`, handlerName)
}

func (s *CronStore) List(ctx context.Context, input repository.ListCronsInput) ([]*domain.CronJob, error) {
	query := `SELECT ` + cronColumns + ` FROM cron_jobs`
	var args []any
	if input.EnabledOnly {
		query += ` WHERE is_enabled = ?`
		args = append(args, true)
	}
	query += ` ORDER BY id ASC`
	if input.Limit > 0 {
		query += ` LIMIT ? OFFSET ?`
		args = append(args, input.Limit, input.Offset)
	}

	var jobs []*domain.CronJob
	if err := s.db.SelectContext(ctx, &jobs, s.db.Rebind(query), args...); err != nil {
		return nil, fmt.Errorf("list cron jobs: %w", err)
	}
	return jobs, nil
}

func (s *CronStore) ListEnabled(ctx context.Context) ([]*domain.CronJob, error) {
	return s.List(ctx, repository.ListCronsInput{EnabledOnly: true})
}

func (s *CronStore) Update(ctx context.Context, job *domain.CronJob) (*domain.CronJob, error) {
	res, err := s.db.ExecContext(ctx, s.db.Rebind(`
		UPDATE cron_jobs
		SET name = ?, description = ?, cron_expression = ?, handler_name = ?,
		    handler_params = ?, is_enabled = ?, allow_overlap = ?,
		    max_retry = ?, timeout_seconds = ?, updated_at = ?
		WHERE id = ?`),
		job.Name, job.Description, job.CronExpression, job.HandlerName,
		job.HandlerParams, job.IsEnabled, job.AllowOverlap,
		job.MaxRetry, job.TimeoutSeconds, time.Now().UTC(),
		job.ID,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, domain.ErrCronNameConflict
		}
		return nil, fmt.Errorf("update cron job: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return nil, domain.ErrCronNotFound
	}
	return s.GetByID(ctx, job.ID)
}

func (s *CronStore) SetEnabled(ctx context.Context, id int64, enabled bool) error {
	res, err := s.db.ExecContext(ctx, s.db.Rebind(
		`UPDATE cron_jobs SET is_enabled = ?, updated_at = ? WHERE id = ?`),
		enabled, time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("set cron enabled: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return domain.ErrCronNotFound
	}
	return nil
}

func (s *CronStore) Delete(ctx context.Context, id int64) error {
	res, err := s.db.ExecContext(ctx, s.db.Rebind(`DELETE FROM cron_jobs WHERE id = ?`), id)
	if err != nil {
		return fmt.Errorf("delete cron job: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return domain.ErrCronNotFound
	}
	return nil
}

func (s *CronStore) getOne(ctx context.Context, query string, args ...any) (*domain.CronJob, error) {
	var job domain.CronJob
	if err := s.db.GetContext(ctx, &job, s.db.Rebind(query), args...); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrCronNotFound
		}
		return nil, fmt.Errorf("get cron job: %w", err)
	}
	return &job, nil
}
