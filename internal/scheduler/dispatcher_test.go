package scheduler

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/jobukit/jobu/internal/database/dbtest"
	"github.com/jobukit/jobu/internal/domain"
	"github.com/jobukit/jobu/internal/infrastructure/sqlstore"
	"github.com/jobukit/jobu/internal/repository"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestStores(t *testing.T) (*sqlstore.CronStore, *sqlstore.ExecutionStore) {
	t.Helper()
	db := dbtest.DefaultDB(t)
	return sqlstore.NewCronStore(db), sqlstore.NewExecutionStore(db)
}

func mustCreateCron(t *testing.T, crons *sqlstore.CronStore, job *domain.CronJob) *domain.CronJob {
	t.Helper()
	created, err := crons.Create(context.Background(), job)
	if err != nil {
		t.Fatalf("create cron %q: %v", job.Name, err)
	}
	return created
}

func executionsFor(t *testing.T, execs *sqlstore.ExecutionStore, jobID int64) []*domain.Execution {
	t.Helper()
	rows, err := execs.List(context.Background(), repository.ListExecutionsInput{JobID: &jobID, Limit: 100})
	if err != nil {
		t.Fatalf("list executions: %v", err)
	}
	return rows
}

func TestDispatch_NewJobFiresFromOnePollBack(t *testing.T) {
	crons, execs := newTestStores(t)
	job := mustCreateCron(t, crons, &domain.CronJob{
		Name:           "every-five",
		CronExpression: "*/5 * * * *",
		HandlerName:    "echo",
		IsEnabled:      true,
		AllowOverlap:   true,
	})

	d := NewDispatcher(crons, execs, testLogger(), time.Minute, 5*time.Minute, 0)
	now := time.Date(2026, 6, 1, 12, 7, 0, 0, time.UTC)
	d.now = func() time.Time { return now }

	d.dispatch(context.Background())

	// One poll interval back from 12:07 is 12:06, so only the 12:07 window's
	// due firing exists; nothing older is materialized for a brand new job.
	rows := executionsFor(t, execs, job.ID)
	if len(rows) != 0 {
		t.Fatalf("rows = %d, want 0 before a boundary is crossed", len(rows))
	}

	now = time.Date(2026, 6, 1, 12, 10, 30, 0, time.UTC)
	d.dispatch(context.Background())

	rows = executionsFor(t, execs, job.ID)
	if len(rows) != 1 {
		t.Fatalf("rows = %d, want 1", len(rows))
	}
	want := time.Date(2026, 6, 1, 12, 10, 0, 0, time.UTC)
	if !rows[0].ScheduledTime.Equal(want) {
		t.Errorf("scheduled_time = %v, want %v", rows[0].ScheduledTime, want)
	}
	if rows[0].Status != domain.StatusPending {
		t.Errorf("status = %s, want PENDING", rows[0].Status)
	}
}

func TestDispatch_CatchesUpFromLatestFiring(t *testing.T) {
	crons, execs := newTestStores(t)
	job := mustCreateCron(t, crons, &domain.CronJob{
		Name:           "catch-up",
		CronExpression: "*/5 * * * *",
		HandlerName:    "echo",
		IsEnabled:      true,
		AllowOverlap:   true,
	})

	// History ends at 12:00; the dispatcher was down until 12:17.
	last := time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)
	if _, err := execs.InsertScheduled(context.Background(), job, last); err != nil {
		t.Fatalf("seed history: %v", err)
	}

	d := NewDispatcher(crons, execs, testLogger(), time.Minute, 5*time.Minute, 0)
	d.now = func() time.Time { return time.Date(2026, 6, 1, 12, 17, 0, 0, time.UTC) }
	d.dispatch(context.Background())

	rows := executionsFor(t, execs, job.ID)
	if len(rows) != 4 {
		t.Fatalf("rows = %d, want 4 (seed + 12:05, 12:10, 12:15)", len(rows))
	}
	// List is newest-id first.
	want := time.Date(2026, 6, 1, 12, 15, 0, 0, time.UTC)
	if !rows[0].ScheduledTime.Equal(want) {
		t.Errorf("latest firing = %v, want %v", rows[0].ScheduledTime, want)
	}
}

func TestDispatch_RerunIsIdempotent(t *testing.T) {
	crons, execs := newTestStores(t)
	job := mustCreateCron(t, crons, &domain.CronJob{
		Name:           "idempotent",
		CronExpression: "*/5 * * * *",
		HandlerName:    "echo",
		IsEnabled:      true,
		AllowOverlap:   true,
	})
	if _, err := execs.InsertScheduled(context.Background(), job,
		time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)); err != nil {
		t.Fatalf("seed history: %v", err)
	}

	d := NewDispatcher(crons, execs, testLogger(), time.Minute, 5*time.Minute, 0)
	d.now = func() time.Time { return time.Date(2026, 6, 1, 12, 11, 0, 0, time.UTC) }

	// Two passes at the same instant model a second replica racing on the
	// unique index: no duplicate rows appear.
	d.dispatch(context.Background())
	d.dispatch(context.Background())

	rows := executionsFor(t, execs, job.ID)
	if len(rows) != 3 {
		t.Fatalf("rows = %d, want 3", len(rows))
	}
}

func TestDispatch_OverlapGuardSkipsFiring(t *testing.T) {
	crons, execs := newTestStores(t)
	job := mustCreateCron(t, crons, &domain.CronJob{
		Name:           "no-overlap",
		CronExpression: "*/5 * * * *",
		HandlerName:    "echo",
		IsEnabled:      true,
		AllowOverlap:   false,
	})

	// The previous firing is still PENDING.
	if _, err := execs.InsertScheduled(context.Background(), job,
		time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)); err != nil {
		t.Fatalf("seed pending: %v", err)
	}

	d := NewDispatcher(crons, execs, testLogger(), time.Minute, 5*time.Minute, 0)
	d.now = func() time.Time { return time.Date(2026, 6, 1, 12, 11, 0, 0, time.UTC) }
	d.dispatch(context.Background())

	rows := executionsFor(t, execs, job.ID)
	if len(rows) != 1 {
		t.Fatalf("rows = %d, want only the incomplete seed", len(rows))
	}

	// Once the old row finishes, the next pass fires again.
	if err := execs.Complete(context.Background(), rows[0].ID, nil,
		time.Date(2026, 6, 1, 12, 12, 0, 0, time.UTC)); err != nil {
		t.Fatalf("complete seed: %v", err)
	}
	d.dispatch(context.Background())
	rows = executionsFor(t, execs, job.ID)
	// Only 12:05 appears: the fresh PENDING row trips the guard again before
	// 12:10 can be materialized.
	if len(rows) != 2 {
		t.Fatalf("rows = %d, want 2 after unblocking", len(rows))
	}
}

func TestDispatch_SleepClampedToBounds(t *testing.T) {
	crons, execs := newTestStores(t)

	d := NewDispatcher(crons, execs, testLogger(), time.Minute, 5*time.Minute, 0)
	now := time.Date(2026, 6, 1, 12, 0, 30, 0, time.UTC)
	d.now = func() time.Time { return now }

	// No jobs at all: sleep the full maxSleep.
	if sleep := d.dispatch(context.Background()); sleep != 5*time.Minute {
		t.Errorf("idle sleep = %v, want maxSleep", sleep)
	}

	// A job firing every minute: the next firing is 30s away, below the
	// poll-interval floor.
	mustCreateCron(t, crons, &domain.CronJob{
		Name:           "minutely",
		CronExpression: "* * * * *",
		HandlerName:    "echo",
		IsEnabled:      true,
		AllowOverlap:   true,
	})
	if sleep := d.dispatch(context.Background()); sleep != time.Minute {
		t.Errorf("busy sleep = %v, want pollInterval floor", sleep)
	}
}

func TestDispatch_SkipsSubMinimumSchedule(t *testing.T) {
	crons, execs := newTestStores(t)
	fast := mustCreateCron(t, crons, &domain.CronJob{
		Name:           "too-fast",
		CronExpression: "* * * * *",
		HandlerName:    "echo",
		IsEnabled:      true,
		AllowOverlap:   true,
	})
	slow := mustCreateCron(t, crons, &domain.CronJob{
		Name:           "hourly",
		CronExpression: "0 * * * *",
		HandlerName:    "echo",
		IsEnabled:      true,
		AllowOverlap:   true,
	})

	// A minutely row sneaked in under the five-minute floor (direct DB edit);
	// it must not materialize a single firing, and must not block other jobs.
	d := NewDispatcher(crons, execs, testLogger(), time.Minute, time.Hour, 5*time.Minute)
	d.now = func() time.Time { return time.Date(2026, 6, 1, 13, 0, 30, 0, time.UTC) }
	d.dispatch(context.Background())

	if rows := executionsFor(t, execs, fast.ID); len(rows) != 0 {
		t.Fatalf("rows = %d for sub-minimum schedule, want 0", len(rows))
	}
	if rows := executionsFor(t, execs, slow.ID); len(rows) != 1 {
		t.Fatalf("rows = %d for hourly job, want 1", len(rows))
	}
}

func TestDispatch_DisabledJobsIgnored(t *testing.T) {
	crons, execs := newTestStores(t)
	job := mustCreateCron(t, crons, &domain.CronJob{
		Name:           "disabled",
		CronExpression: "* * * * *",
		HandlerName:    "echo",
		IsEnabled:      false,
		AllowOverlap:   true,
	})

	d := NewDispatcher(crons, execs, testLogger(), time.Minute, 5*time.Minute, 0)
	d.now = func() time.Time { return time.Date(2026, 6, 1, 12, 10, 0, 0, time.UTC) }
	d.dispatch(context.Background())

	if rows := executionsFor(t, execs, job.ID); len(rows) != 0 {
		t.Fatalf("rows = %d, want 0 for a disabled job", len(rows))
	}
}
