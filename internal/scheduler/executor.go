package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jobukit/jobu/internal/domain"
	"github.com/jobukit/jobu/internal/handler"
	"github.com/jobukit/jobu/internal/metrics"
	"github.com/jobukit/jobu/internal/repository"
)

// Executor runs one claimed execution end to end: resolve the handler, run it
// under the job's timeout, and persist the outcome including the retry
// decision.
type Executor struct {
	executions repository.ExecutionRepository
	handlers   *handler.Registry
	logger     *slog.Logger

	now func() time.Time
}

func NewExecutor(executions repository.ExecutionRepository, handlers *handler.Registry, logger *slog.Logger) *Executor {
	return &Executor{
		executions: executions,
		handlers:   handlers,
		logger:     logger.With("component", "executor"),
		now:        time.Now,
	}
}

// timeoutErrorMessage is what timed-out rows carry in error_message; API
// consumers match on it.
const timeoutErrorMessage = "Execution timed out"

type runOutcome struct {
	result domain.JSONMap
	err    error
}

// Run executes e, which must already be claimed (RUNNING). ctx scopes the
// handler; callers pass a context detached from shutdown so cancellation
// comes only from the per-job timeout.
func (x *Executor) Run(ctx context.Context, e *domain.ClaimedExecution) {
	started := x.now()
	log := x.logger.With("execution_id", e.ID, "handler", e.HandlerName)

	h, err := x.handlers.Get(e.HandlerName)
	if err != nil {
		// An unknown handler cannot succeed on retry in this process, and
		// re-queueing would just bounce the row between workers. Terminal.
		metrics.ExecutionsFinishedTotal.WithLabelValues("handler_not_found").Inc()
		log.Error("handler not registered, failing permanently")
		if _, ferr := x.executions.RecordFailure(ctx, e.ID, repository.FailureOutcome{
			Status:       domain.StatusFailed,
			ErrorMessage: err.Error(),
			FinishedAt:   x.now(),
		}); ferr != nil {
			log.Error("record handler-not-found failure", "error", ferr)
		}
		return
	}

	runCtx, cancel := context.WithTimeout(ctx, e.Timeout())
	defer cancel()

	outcomes := make(chan runOutcome, 1)
	go func() {
		defer func() {
			if p := recover(); p != nil {
				outcomes <- runOutcome{err: fmt.Errorf("handler panic: %v", p)}
			}
		}()
		result, err := h.Execute(runCtx, e.Params)
		outcomes <- runOutcome{result: result, err: err}
	}()

	var out runOutcome
	timedOut := false
	select {
	case out = <-outcomes:
		// A handler that returned context.DeadlineExceeded because it honored
		// cancellation still counts as a timeout.
		timedOut = errors.Is(out.err, context.DeadlineExceeded)
	case <-runCtx.Done():
		timedOut = true
		out.err = fmt.Errorf("execution exceeded timeout of %s", e.Timeout())
	}
	duration := x.now().Sub(started)

	// The persisted message for timeouts is a fixed marker; the specific
	// cause stays in the logs.
	errMsg := ""
	if out.err != nil {
		errMsg = out.err.Error()
	}
	if timedOut {
		errMsg = timeoutErrorMessage
	}

	if !timedOut && out.err == nil {
		metrics.ExecutionDuration.WithLabelValues("success").Observe(duration.Seconds())
		metrics.ExecutionsFinishedTotal.WithLabelValues("success").Inc()
		if err := x.executions.Complete(ctx, e.ID, out.result, x.now()); err != nil {
			log.Error("mark execution complete", "error", err)
			return
		}
		log.Info("execution succeeded", "duration", duration)
		return
	}

	status := domain.StatusFailed
	outcomeLabel := "failed"
	if timedOut {
		status = domain.StatusTimeout
		outcomeLabel = "timeout"
	}
	metrics.ExecutionDuration.WithLabelValues(outcomeLabel).Observe(duration.Seconds())

	retryCount, err := x.executions.RecordFailure(ctx, e.ID, repository.FailureOutcome{
		Status:       status,
		ErrorMessage: errMsg,
		FinishedAt:   x.now(),
	})
	if err != nil {
		log.Error("record execution failure", "error", err)
		return
	}

	// retryCount already includes this attempt; the budget allows max_retry
	// retries on top of the first run.
	if retryCount <= e.MaxRetry {
		if err := x.executions.Requeue(ctx, e.ID); err != nil {
			log.Error("requeue execution", "error", err)
			return
		}
		metrics.ExecutionsFinishedTotal.WithLabelValues("retry").Inc()
		log.Warn("execution failed, re-queued",
			"status", status, "error", out.err.Error(),
			"retry", retryCount, "max_retry", e.MaxRetry)
		return
	}

	metrics.ExecutionsFinishedTotal.WithLabelValues(outcomeLabel).Inc()
	log.Warn("execution permanently failed",
		"status", status, "error", out.err.Error(), "attempts", retryCount)
}
