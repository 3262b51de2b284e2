package repository

import (
	"context"

	"github.com/jobukit/jobu/internal/domain"
)

type ListCronsInput struct {
	EnabledOnly bool
	Limit       int // 0 = no limit
	Offset      int
}

// UseCase and scheduler depend on the interface, not the concrete store.
// This way we can swap backends without touching callers and pass fakes in tests.
type CronRepository interface {
	Create(ctx context.Context, job *domain.CronJob) (*domain.CronJob, error)
	GetByID(ctx context.Context, id int64) (*domain.CronJob, error)
	GetByName(ctx context.Context, name string) (*domain.CronJob, error)
	// FirstByHandler resolves the queue dispatcher's handler_name lookup;
	// ties break on lowest id.
	FirstByHandler(ctx context.Context, handlerName string) (*domain.CronJob, error)
	List(ctx context.Context, input ListCronsInput) ([]*domain.CronJob, error)
	// ListEnabled is the dispatcher's per-tick snapshot.
	ListEnabled(ctx context.Context) ([]*domain.CronJob, error)
	Update(ctx context.Context, job *domain.CronJob) (*domain.CronJob, error)
	SetEnabled(ctx context.Context, id int64, enabled bool) error
	Delete(ctx context.Context, id int64) error
}
