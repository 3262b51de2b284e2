package scheduler

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/jobukit/jobu/internal/domain"
	"github.com/jobukit/jobu/internal/handler"
	"github.com/jobukit/jobu/internal/infrastructure/sqlstore"
)

// claimExecution seeds one firing for a fresh cron job and claims it, the way
// the worker would before handing the row to the executor.
func claimExecution(t *testing.T, crons *sqlstore.CronStore, execs *sqlstore.ExecutionStore, job *domain.CronJob) *domain.ClaimedExecution {
	t.Helper()

	created := mustCreateCron(t, crons, job)
	if _, err := execs.InsertScheduled(context.Background(), created,
		time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)); err != nil {
		t.Fatalf("insert firing: %v", err)
	}

	pending, err := execs.ListPending(context.Background(), 10)
	if err != nil {
		t.Fatalf("list pending: %v", err)
	}
	for _, e := range pending {
		if e.JobID != nil && *e.JobID == created.ID {
			if _, err := execs.Claim(context.Background(), e.ID, time.Now().UTC()); err != nil {
				t.Fatalf("claim: %v", err)
			}
			return e
		}
	}
	t.Fatal("seeded execution not in pending set")
	return nil
}

func TestExecutor_Success(t *testing.T) {
	crons, execs := newTestStores(t)
	handlers := handler.NewRegistry()
	handlers.MustRegister("ok", handler.Func(func(ctx context.Context, params domain.JSONMap) (domain.JSONMap, error) {
		return domain.JSONMap{"echo": params["msg"]}, nil
	}))

	e := claimExecution(t, crons, execs, &domain.CronJob{
		Name: "succeeds", CronExpression: "0 * * * *", HandlerName: "ok",
		HandlerParams: domain.JSONMap{"msg": "hi"},
		IsEnabled:     true, AllowOverlap: true, MaxRetry: 3, TimeoutSeconds: 60,
	})

	NewExecutor(execs, handlers, testLogger()).Run(context.Background(), e)

	got, err := execs.GetByID(context.Background(), e.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Status != domain.StatusSuccess {
		t.Fatalf("status = %s, want SUCCESS", got.Status)
	}
	if got.Result["echo"] != "hi" {
		t.Errorf("result = %v", got.Result)
	}
	if got.FinishedAt == nil {
		t.Error("finished_at not set")
	}
}

func TestExecutor_FailureWithinBudgetRequeues(t *testing.T) {
	crons, execs := newTestStores(t)
	handlers := handler.NewRegistry()
	handlers.MustRegister("flaky", handler.Func(func(ctx context.Context, params domain.JSONMap) (domain.JSONMap, error) {
		return nil, errors.New("upstream unavailable")
	}))

	e := claimExecution(t, crons, execs, &domain.CronJob{
		Name: "retries", CronExpression: "0 * * * *", HandlerName: "flaky",
		IsEnabled: true, AllowOverlap: true, MaxRetry: 2, TimeoutSeconds: 60,
	})

	NewExecutor(execs, handlers, testLogger()).Run(context.Background(), e)

	got, _ := execs.GetByID(context.Background(), e.ID)
	if got.Status != domain.StatusPending {
		t.Fatalf("status = %s, want PENDING after requeue", got.Status)
	}
	if got.RetryCount != 1 {
		t.Errorf("retry_count = %d, want 1", got.RetryCount)
	}
	if got.StartedAt != nil {
		t.Error("started_at should be cleared on requeue")
	}
}

func TestExecutor_FailureExhaustsBudget(t *testing.T) {
	crons, execs := newTestStores(t)
	handlers := handler.NewRegistry()
	handlers.MustRegister("doomed", handler.Func(func(ctx context.Context, params domain.JSONMap) (domain.JSONMap, error) {
		return nil, errors.New("always fails")
	}))

	// MaxRetry 0: the one attempt is all the budget there is.
	e := claimExecution(t, crons, execs, &domain.CronJob{
		Name: "no-budget", CronExpression: "0 * * * *", HandlerName: "doomed",
		IsEnabled: true, AllowOverlap: true, MaxRetry: 0, TimeoutSeconds: 60,
	})

	NewExecutor(execs, handlers, testLogger()).Run(context.Background(), e)

	got, _ := execs.GetByID(context.Background(), e.ID)
	if got.Status != domain.StatusFailed {
		t.Fatalf("status = %s, want terminal FAILED", got.Status)
	}
	if got.ErrorMessage == nil || !strings.Contains(*got.ErrorMessage, "always fails") {
		t.Errorf("error_message = %v", got.ErrorMessage)
	}
}

func TestExecutor_HandlerNotFoundIsTerminal(t *testing.T) {
	crons, execs := newTestStores(t)

	// Generous budget, but an unknown handler never requeues.
	e := claimExecution(t, crons, execs, &domain.CronJob{
		Name: "ghost", CronExpression: "0 * * * *", HandlerName: "not_registered",
		IsEnabled: true, AllowOverlap: true, MaxRetry: 5, TimeoutSeconds: 60,
	})

	NewExecutor(execs, handler.NewRegistry(), testLogger()).Run(context.Background(), e)

	got, _ := execs.GetByID(context.Background(), e.ID)
	if got.Status != domain.StatusFailed {
		t.Fatalf("status = %s, want FAILED", got.Status)
	}
	if got.ErrorMessage == nil || !strings.Contains(*got.ErrorMessage, "not_registered") {
		t.Errorf("error_message = %v", got.ErrorMessage)
	}
}

func TestExecutor_HonoredDeadlineCountsAsTimeout(t *testing.T) {
	crons, execs := newTestStores(t)
	handlers := handler.NewRegistry()
	// A well-behaved handler that noticed cancellation and returned the
	// deadline error itself.
	handlers.MustRegister("slow", handler.Func(func(ctx context.Context, params domain.JSONMap) (domain.JSONMap, error) {
		return nil, context.DeadlineExceeded
	}))

	e := claimExecution(t, crons, execs, &domain.CronJob{
		Name: "slow-job", CronExpression: "0 * * * *", HandlerName: "slow",
		IsEnabled: true, AllowOverlap: true, MaxRetry: 0, TimeoutSeconds: 60,
	})

	NewExecutor(execs, handlers, testLogger()).Run(context.Background(), e)

	got, _ := execs.GetByID(context.Background(), e.ID)
	if got.Status != domain.StatusTimeout {
		t.Fatalf("status = %s, want TIMEOUT", got.Status)
	}
	if got.ErrorMessage == nil || *got.ErrorMessage != "Execution timed out" {
		t.Errorf("error_message = %v, want the fixed timeout marker", got.ErrorMessage)
	}
}

func TestExecutor_TimeoutKillsStuckHandler(t *testing.T) {
	crons, execs := newTestStores(t)
	handlers := handler.NewRegistry()
	handlers.MustRegister("stuck", handler.Func(func(ctx context.Context, params domain.JSONMap) (domain.JSONMap, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	}))

	e := claimExecution(t, crons, execs, &domain.CronJob{
		Name: "stuck-job", CronExpression: "0 * * * *", HandlerName: "stuck",
		IsEnabled: true, AllowOverlap: true, MaxRetry: 0, TimeoutSeconds: 1,
	})

	start := time.Now()
	NewExecutor(execs, handlers, testLogger()).Run(context.Background(), e)
	if elapsed := time.Since(start); elapsed > 5*time.Second {
		t.Fatalf("run took %v, timeout not enforced", elapsed)
	}

	got, _ := execs.GetByID(context.Background(), e.ID)
	if got.Status != domain.StatusTimeout {
		t.Fatalf("status = %s, want TIMEOUT", got.Status)
	}
	if got.ErrorMessage == nil || *got.ErrorMessage != "Execution timed out" {
		t.Errorf("error_message = %v, want the fixed timeout marker", got.ErrorMessage)
	}
}

func TestExecutor_PanicBecomesFailure(t *testing.T) {
	crons, execs := newTestStores(t)
	handlers := handler.NewRegistry()
	handlers.MustRegister("panics", handler.Func(func(ctx context.Context, params domain.JSONMap) (domain.JSONMap, error) {
		panic("nil map write")
	}))

	e := claimExecution(t, crons, execs, &domain.CronJob{
		Name: "panicky", CronExpression: "0 * * * *", HandlerName: "panics",
		IsEnabled: true, AllowOverlap: true, MaxRetry: 0, TimeoutSeconds: 60,
	})

	NewExecutor(execs, handlers, testLogger()).Run(context.Background(), e)

	got, _ := execs.GetByID(context.Background(), e.ID)
	if got.Status != domain.StatusFailed {
		t.Fatalf("status = %s, want FAILED", got.Status)
	}
	if got.ErrorMessage == nil || !strings.Contains(*got.ErrorMessage, "handler panic") {
		t.Errorf("error_message = %v", got.ErrorMessage)
	}
}
