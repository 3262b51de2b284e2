package scheduler

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/jobukit/jobu/internal/domain"
	"github.com/jobukit/jobu/internal/metrics"
	"github.com/jobukit/jobu/internal/repository"
)

// Worker polls for PENDING executions, claims them with a compare-and-set,
// and runs each in its own goroutine under a concurrency cap. Any number of
// workers can share one database; the claim decides ownership.
type Worker struct {
	executions   repository.ExecutionRepository
	executor     *Executor
	logger       *slog.Logger
	pollInterval time.Duration
	concurrency  int
	// claimBatch caps how many rows one poll lists for claiming, independent
	// of free slots, so a single worker does not hoard the pending backlog
	// from its peers.
	claimBatch int
	// shutdownGrace is how long Start waits for in-flight executions after
	// cancellation before giving up on them.
	shutdownGrace time.Duration

	sem chan struct{}
	wg  sync.WaitGroup
	now func() time.Time
}

func NewWorker(
	executions repository.ExecutionRepository,
	executor *Executor,
	logger *slog.Logger,
	pollInterval time.Duration,
	concurrency, claimBatch int,
	shutdownGrace time.Duration,
) *Worker {
	return &Worker{
		executions:    executions,
		executor:      executor,
		logger:        logger.With("component", "worker"),
		pollInterval:  pollInterval,
		concurrency:   concurrency,
		claimBatch:    claimBatch,
		shutdownGrace: shutdownGrace,
		sem:           make(chan struct{}, concurrency),
		now:           time.Now,
	}
}

func (w *Worker) Start(ctx context.Context) {
	metrics.ProcessStartTime.WithLabelValues("worker").SetToCurrentTime()

	ticker := time.NewTicker(w.pollInterval)
	defer ticker.Stop()

	w.logger.Info("worker started", "concurrency", w.concurrency, "poll_interval", w.pollInterval)

	for {
		select {
		case <-ctx.Done():
			w.drain()
			return
		case <-ticker.C:
			w.processBatch(ctx)
		}
	}
}

// drain stops claiming and gives in-flight executions the shutdown grace to
// finish. Anything still running after that is left RUNNING in the database;
// an operator retry or a future reaper pass picks it up.
func (w *Worker) drain() {
	w.logger.Info("worker draining", "grace", w.shutdownGrace)

	done := make(chan struct{})
	go func() {
		w.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		w.logger.Info("worker shut down cleanly")
	case <-time.After(w.shutdownGrace):
		w.logger.Warn("shutdown grace exceeded, abandoning in-flight executions")
	}
}

func (w *Worker) processBatch(ctx context.Context) {
	limit := cap(w.sem) - len(w.sem)
	if limit == 0 {
		return
	}
	if limit > w.claimBatch {
		limit = w.claimBatch
	}

	pending, err := w.executions.ListPending(ctx, limit)
	if err != nil {
		w.logger.Error("list pending executions", "error", err)
		return
	}
	if len(pending) == 0 {
		return
	}

	claimed := 0
	for _, e := range pending {
		ok, err := w.executions.Claim(ctx, e.ID, w.now())
		if err != nil {
			w.logger.Error("claim execution", "execution_id", e.ID, "error", err)
			continue
		}
		if !ok {
			// Lost the race to another worker.
			continue
		}
		claimed++
		metrics.ExecutionPickupLatency.Observe(w.now().Sub(e.ScheduledTime).Seconds())

		w.sem <- struct{}{}
		w.wg.Add(1)
		// Detach from the poll context: shutdown must not cancel a running
		// handler mid-flight, only the per-job timeout may.
		runCtx := context.WithoutCancel(ctx)
		go func(e *domain.ClaimedExecution) {
			metrics.ExecutionsInFlight.Inc()
			defer metrics.ExecutionsInFlight.Dec()
			defer w.wg.Done()
			defer func() { <-w.sem }()
			w.executor.Run(runCtx, e)
		}(e)
	}

	if claimed > 0 {
		w.logger.Info("claimed executions", "count", claimed,
			"slots_used", len(w.sem), "slots_total", cap(w.sem))
	}
}
