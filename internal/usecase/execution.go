package usecase

import (
	"context"
	"time"

	"github.com/jobukit/jobu/internal/domain"
	"github.com/jobukit/jobu/internal/repository"
)

type ExecutionUsecase struct {
	repo repository.ExecutionRepository
}

func NewExecutionUsecase(repo repository.ExecutionRepository) *ExecutionUsecase {
	return &ExecutionUsecase{repo: repo}
}

type ListExecutionsInput struct {
	JobID  *int64
	Status domain.Status
	Since  *time.Time
	Until  *time.Time
	Limit  int
	Offset int
}

func (u *ExecutionUsecase) ListExecutions(ctx context.Context, input ListExecutionsInput) ([]*domain.Execution, error) {
	limit := input.Limit
	if limit <= 0 {
		limit = 50
	}
	if limit > 200 {
		limit = 200
	}
	return u.repo.List(ctx, repository.ListExecutionsInput{
		JobID:  input.JobID,
		Status: input.Status,
		Since:  input.Since,
		Until:  input.Until,
		Limit:  limit,
		Offset: input.Offset,
	})
}

func (u *ExecutionUsecase) GetExecution(ctx context.Context, id int64) (*domain.Execution, error) {
	return u.repo.GetByID(ctx, id)
}

// RetryExecution puts a FAILED or TIMEOUT row back to PENDING with a fresh
// retry budget; the next worker poll picks it up.
func (u *ExecutionUsecase) RetryExecution(ctx context.Context, id int64) (*domain.Execution, error) {
	if err := u.repo.ResetForRetry(ctx, id); err != nil {
		return nil, err
	}
	return u.repo.GetByID(ctx, id)
}

func (u *ExecutionUsecase) DeleteExecution(ctx context.Context, id int64) error {
	return u.repo.Delete(ctx, id)
}
