package scheduler

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jobukit/jobu/internal/domain"
	"github.com/jobukit/jobu/internal/handler"
	"github.com/jobukit/jobu/internal/repository"
)

// stalePendingExecs replays a fixed pending list regardless of the rows'
// actual status, modelling the gap between a worker's list and its claim.
type stalePendingExecs struct {
	repository.ExecutionRepository
	pending []*domain.ClaimedExecution
}

func (s stalePendingExecs) ListPending(ctx context.Context, limit int) ([]*domain.ClaimedExecution, error) {
	return s.pending, nil
}

func TestWorker_ProcessBatchClaimsAndRuns(t *testing.T) {
	crons, execs := newTestStores(t)

	var ran atomic.Int32
	handlers := handler.NewRegistry()
	handlers.MustRegister("counter", handler.Func(func(ctx context.Context, params domain.JSONMap) (domain.JSONMap, error) {
		ran.Add(1)
		return nil, nil
	}))

	job := mustCreateCron(t, crons, &domain.CronJob{
		Name: "batch", CronExpression: "*/5 * * * *", HandlerName: "counter",
		IsEnabled: true, AllowOverlap: true, MaxRetry: 0, TimeoutSeconds: 60,
	})
	base := time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)
	for i := 0; i < 3; i++ {
		if _, err := execs.InsertScheduled(context.Background(), job, base.Add(time.Duration(i)*5*time.Minute)); err != nil {
			t.Fatalf("insert firing %d: %v", i, err)
		}
	}

	executor := NewExecutor(execs, handlers, testLogger())
	w := NewWorker(execs, executor, testLogger(), time.Second, 4, 4, time.Second)

	w.processBatch(context.Background())
	w.wg.Wait()

	if n := ran.Load(); n != 3 {
		t.Fatalf("handler ran %d times, want 3", n)
	}
	jobID := job.ID
	rows := executionsFor(t, execs, jobID)
	for _, e := range rows {
		if e.Status != domain.StatusSuccess {
			t.Errorf("execution %d status = %s, want SUCCESS", e.ID, e.Status)
		}
	}
}

func TestWorker_BatchBoundedByFreeSlots(t *testing.T) {
	crons, execs := newTestStores(t)

	block := make(chan struct{})
	handlers := handler.NewRegistry()
	handlers.MustRegister("blocker", handler.Func(func(ctx context.Context, params domain.JSONMap) (domain.JSONMap, error) {
		<-block
		return nil, nil
	}))

	job := mustCreateCron(t, crons, &domain.CronJob{
		Name: "capped", CronExpression: "*/5 * * * *", HandlerName: "blocker",
		IsEnabled: true, AllowOverlap: true, MaxRetry: 0, TimeoutSeconds: 60,
	})
	base := time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)
	for i := 0; i < 3; i++ {
		if _, err := execs.InsertScheduled(context.Background(), job, base.Add(time.Duration(i)*5*time.Minute)); err != nil {
			t.Fatalf("insert firing %d: %v", i, err)
		}
	}

	executor := NewExecutor(execs, handlers, testLogger())
	w := NewWorker(execs, executor, testLogger(), time.Second, 2, 2, time.Second)

	// Both slots fill; the third row stays PENDING for the next poll.
	w.processBatch(context.Background())

	pending, err := execs.ListPending(context.Background(), 10)
	if err != nil {
		t.Fatalf("list pending: %v", err)
	}
	if len(pending) != 1 {
		t.Fatalf("pending = %d, want 1 left behind", len(pending))
	}

	// A full semaphore makes the next batch a no-op.
	w.processBatch(context.Background())
	pending, _ = execs.ListPending(context.Background(), 10)
	if len(pending) != 1 {
		t.Fatalf("pending = %d after saturated batch, want still 1", len(pending))
	}

	close(block)
	w.wg.Wait()
}

func TestWorker_BatchBoundedByClaimBatch(t *testing.T) {
	crons, execs := newTestStores(t)

	var ran atomic.Int32
	handlers := handler.NewRegistry()
	handlers.MustRegister("counter", handler.Func(func(ctx context.Context, params domain.JSONMap) (domain.JSONMap, error) {
		ran.Add(1)
		return nil, nil
	}))

	job := mustCreateCron(t, crons, &domain.CronJob{
		Name: "batch-capped", CronExpression: "*/5 * * * *", HandlerName: "counter",
		IsEnabled: true, AllowOverlap: true, MaxRetry: 0, TimeoutSeconds: 60,
	})
	base := time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)
	for i := 0; i < 3; i++ {
		if _, err := execs.InsertScheduled(context.Background(), job, base.Add(time.Duration(i)*5*time.Minute)); err != nil {
			t.Fatalf("insert firing %d: %v", i, err)
		}
	}

	// Plenty of free slots, but the claim batch caps one poll at two rows.
	executor := NewExecutor(execs, handlers, testLogger())
	w := NewWorker(execs, executor, testLogger(), time.Second, 4, 2, time.Second)
	w.processBatch(context.Background())
	w.wg.Wait()

	if n := ran.Load(); n != 2 {
		t.Fatalf("handler ran %d times, want 2", n)
	}
	pending, err := execs.ListPending(context.Background(), 10)
	if err != nil {
		t.Fatalf("list pending: %v", err)
	}
	if len(pending) != 1 {
		t.Fatalf("pending = %d, want 1 left for the next poll", len(pending))
	}
}

func TestWorker_StartDrainsInFlight(t *testing.T) {
	crons, execs := newTestStores(t)

	entered := make(chan struct{})
	release := make(chan struct{})
	handlers := handler.NewRegistry()
	handlers.MustRegister("slow", handler.Func(func(ctx context.Context, params domain.JSONMap) (domain.JSONMap, error) {
		close(entered)
		<-release
		return nil, nil
	}))

	job := mustCreateCron(t, crons, &domain.CronJob{
		Name: "drained", CronExpression: "0 * * * *", HandlerName: "slow",
		IsEnabled: true, AllowOverlap: true, MaxRetry: 0, TimeoutSeconds: 60,
	})
	if _, err := execs.InsertScheduled(context.Background(), job,
		time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)); err != nil {
		t.Fatalf("insert firing: %v", err)
	}

	executor := NewExecutor(execs, handlers, testLogger())
	w := NewWorker(execs, executor, testLogger(), 10*time.Millisecond, 1, 1, 10*time.Second)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		w.Start(ctx)
	}()

	select {
	case <-entered:
	case <-time.After(5 * time.Second):
		t.Fatal("handler never started")
	}
	cancel()

	// Start must block on the in-flight handler, not return on cancellation.
	select {
	case <-done:
		t.Fatal("Start returned while a handler was still running")
	case <-time.After(100 * time.Millisecond):
	}

	close(release)
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Start did not return after the handler finished")
	}

	rows := executionsFor(t, execs, job.ID)
	if len(rows) != 1 || rows[0].Status != domain.StatusSuccess {
		t.Fatalf("rows = %+v, want one SUCCESS row", rows)
	}
}

func TestWorker_LostClaimSkipsRow(t *testing.T) {
	crons, execs := newTestStores(t)

	var ran atomic.Int32
	handlers := handler.NewRegistry()
	handlers.MustRegister("noop", handler.Func(func(ctx context.Context, params domain.JSONMap) (domain.JSONMap, error) {
		ran.Add(1)
		return nil, nil
	}))

	job := mustCreateCron(t, crons, &domain.CronJob{
		Name: "contested", CronExpression: "0 * * * *", HandlerName: "noop",
		IsEnabled: true, AllowOverlap: true, MaxRetry: 0, TimeoutSeconds: 60,
	})
	if _, err := execs.InsertScheduled(context.Background(), job,
		time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)); err != nil {
		t.Fatalf("insert firing: %v", err)
	}
	pending, err := execs.ListPending(context.Background(), 1)
	if err != nil || len(pending) != 1 {
		t.Fatalf("pending = %v err = %v", pending, err)
	}

	// Another worker takes the row between this worker's list and claim. The
	// stale repo replays the pre-claim pending list so the CAS must lose.
	if _, err := execs.Claim(context.Background(), pending[0].ID, time.Now().UTC()); err != nil {
		t.Fatalf("rival claim: %v", err)
	}
	stale := stalePendingExecs{ExecutionRepository: execs, pending: pending}

	executor := NewExecutor(execs, handlers, testLogger())
	w := NewWorker(stale, executor, testLogger(), time.Second, 2, 2, time.Second)
	w.processBatch(context.Background())
	w.wg.Wait()

	if n := ran.Load(); n != 0 {
		t.Fatalf("handler ran %d times, want 0 after losing the claim", n)
	}
}
