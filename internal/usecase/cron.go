package usecase

import (
	"context"
	"fmt"
	"time"

	"github.com/jobukit/jobu/internal/cronutil"
	"github.com/jobukit/jobu/internal/domain"
	"github.com/jobukit/jobu/internal/repository"
)

type CronUsecase struct {
	repo repository.CronRepository
	// minInterval rejects schedules that would fire faster than the
	// dispatcher polls; 0 disables the check.
	minInterval time.Duration
}

func NewCronUsecase(repo repository.CronRepository, minInterval time.Duration) *CronUsecase {
	return &CronUsecase{repo: repo, minInterval: minInterval}
}

type CreateCronInput struct {
	Name           string
	Description    *string
	CronExpression string
	HandlerName    string
	HandlerParams  domain.JSONMap
	IsEnabled      *bool
	AllowOverlap   *bool
	MaxRetry       *int
	TimeoutSeconds *int
}

func (u *CronUsecase) CreateCron(ctx context.Context, input CreateCronInput) (*domain.CronJob, error) {
	if err := cronutil.ValidateInterval(input.CronExpression, u.minInterval); err != nil {
		return nil, err
	}

	job := &domain.CronJob{
		Name:           input.Name,
		Description:    input.Description,
		CronExpression: input.CronExpression,
		HandlerName:    input.HandlerName,
		HandlerParams:  input.HandlerParams,
		IsEnabled:      true,
		AllowOverlap:   true,
		MaxRetry:       3,
		TimeoutSeconds: 3600,
	}
	if input.IsEnabled != nil {
		job.IsEnabled = *input.IsEnabled
	}
	if input.AllowOverlap != nil {
		job.AllowOverlap = *input.AllowOverlap
	}
	if input.MaxRetry != nil {
		job.MaxRetry = *input.MaxRetry
	}
	if input.TimeoutSeconds != nil {
		job.TimeoutSeconds = *input.TimeoutSeconds
	}

	created, err := u.repo.Create(ctx, job)
	if err != nil {
		return nil, fmt.Errorf("create cron job: %w", err)
	}
	return created, nil
}

func (u *CronUsecase) GetCron(ctx context.Context, id int64) (*domain.CronJob, error) {
	return u.repo.GetByID(ctx, id)
}

type ListCronsInput struct {
	EnabledOnly bool
	Limit       int
	Offset      int
}

func (u *CronUsecase) ListCrons(ctx context.Context, input ListCronsInput) ([]*domain.CronJob, error) {
	limit := input.Limit
	if limit <= 0 {
		limit = 50
	}
	if limit > 200 {
		limit = 200
	}
	return u.repo.List(ctx, repository.ListCronsInput{
		EnabledOnly: input.EnabledOnly,
		Limit:       limit,
		Offset:      input.Offset,
	})
}

type UpdateCronInput struct {
	Name           *string
	Description    *string
	CronExpression *string
	HandlerName    *string
	HandlerParams  domain.JSONMap
	IsEnabled      *bool
	AllowOverlap   *bool
	MaxRetry       *int
	TimeoutSeconds *int
}

// UpdateCron patches the named fields. In-flight executions keep the params
// snapshotted at dispatch time; only future firings see the change.
func (u *CronUsecase) UpdateCron(ctx context.Context, id int64, input UpdateCronInput) (*domain.CronJob, error) {
	job, err := u.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	if input.Name != nil {
		job.Name = *input.Name
	}
	if input.Description != nil {
		job.Description = input.Description
	}
	if input.CronExpression != nil {
		if err := cronutil.ValidateInterval(*input.CronExpression, u.minInterval); err != nil {
			return nil, err
		}
		job.CronExpression = *input.CronExpression
	}
	if input.HandlerName != nil {
		job.HandlerName = *input.HandlerName
	}
	if input.HandlerParams != nil {
		job.HandlerParams = input.HandlerParams
	}
	if input.IsEnabled != nil {
		job.IsEnabled = *input.IsEnabled
	}
	if input.AllowOverlap != nil {
		job.AllowOverlap = *input.AllowOverlap
	}
	if input.MaxRetry != nil {
		job.MaxRetry = *input.MaxRetry
	}
	if input.TimeoutSeconds != nil {
		job.TimeoutSeconds = *input.TimeoutSeconds
	}

	updated, err := u.repo.Update(ctx, job)
	if err != nil {
		return nil, fmt.Errorf("update cron job: %w", err)
	}
	return updated, nil
}

func (u *CronUsecase) EnableCron(ctx context.Context, id int64) error {
	return u.repo.SetEnabled(ctx, id, true)
}

func (u *CronUsecase) DisableCron(ctx context.Context, id int64) error {
	return u.repo.SetEnabled(ctx, id, false)
}

// DeleteCron removes the definition; execution history goes with it through
// the foreign key cascade.
func (u *CronUsecase) DeleteCron(ctx context.Context, id int64) error {
	return u.repo.Delete(ctx, id)
}
