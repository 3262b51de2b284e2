package scheduler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jobukit/jobu/internal/domain"
	"github.com/jobukit/jobu/internal/metrics"
	"github.com/jobukit/jobu/internal/queue"
	"github.com/jobukit/jobu/internal/repository"
)

// envelope is the queue message payload: which handler to run and optional
// parameter overrides. job_id pins the message to a specific cron definition;
// without it the first definition using the handler supplies base params.
type envelope struct {
	HandlerName string         `json:"handler_name"`
	JobID       *int64         `json:"job_id"`
	Params      domain.JSONMap `json:"params"`
}

// QueueDispatcher turns queue messages into PENDING execution rows. Messages
// are acknowledged only after the row is durably created, so a crash between
// fetch and insert redelivers rather than loses the event.
type QueueDispatcher struct {
	adapter    queue.Adapter
	crons      repository.CronRepository
	executions repository.ExecutionRepository
	logger     *slog.Logger

	now func() time.Time
}

func NewQueueDispatcher(
	adapter queue.Adapter,
	crons repository.CronRepository,
	executions repository.ExecutionRepository,
	logger *slog.Logger,
) *QueueDispatcher {
	return &QueueDispatcher{
		adapter:    adapter,
		crons:      crons,
		executions: executions,
		logger:     logger.With("component", "queue_dispatcher"),
		now:        time.Now,
	}
}

func (q *QueueDispatcher) Start(ctx context.Context) {
	metrics.ProcessStartTime.WithLabelValues("queue_dispatcher").SetToCurrentTime()
	q.logger.Info("queue dispatcher started")

	for {
		msg, err := q.adapter.Fetch(ctx)
		if err != nil {
			if ctx.Err() != nil {
				q.logger.Info("queue dispatcher shut down")
				return
			}
			q.logger.Error("fetch queue message", "error", err)
			continue
		}
		q.handle(ctx, msg)
	}
}

func (q *QueueDispatcher) handle(ctx context.Context, msg *queue.Message) {
	exec, err := q.accept(ctx, msg.Value)
	switch {
	case err == nil:
		metrics.QueueMessagesTotal.WithLabelValues("accepted").Inc()
		q.logger.Info("event execution created",
			"execution_id", exec.ID, "handler", exec.HandlerName)
		if err := q.adapter.Complete(ctx, msg); err != nil {
			// The row exists but the offset is not committed; a redelivery
			// will create a second event row. Event consumers see at-least-
			// once semantics.
			q.logger.Error("acknowledge message", "execution_id", exec.ID, "error", err)
		}

	case isPoison(err):
		// Malformed or unresolvable messages are acknowledged anyway, or the
		// same payload would redeliver forever.
		metrics.QueueMessagesTotal.WithLabelValues("rejected").Inc()
		q.logger.Warn("rejecting queue message", "error", err)
		if aerr := q.adapter.Complete(ctx, msg); aerr != nil {
			q.logger.Error("acknowledge rejected message", "error", aerr)
		}

	default:
		// Transient (database) failure: abandon for redelivery.
		metrics.QueueMessagesTotal.WithLabelValues("abandoned").Inc()
		q.logger.Error("abandoning queue message", "error", err)
		if aerr := q.adapter.Abandon(ctx, msg); aerr != nil {
			q.logger.Error("abandon message", "error", aerr)
		}
	}
}

var errBadEnvelope = errors.New("bad message envelope")

func isPoison(err error) bool {
	return errors.Is(err, errBadEnvelope)
}

// accept validates the envelope, resolves base params from the cron
// definition, and creates the PENDING row.
func (q *QueueDispatcher) accept(ctx context.Context, payload []byte) (*domain.Execution, error) {
	var env envelope
	if err := json.Unmarshal(payload, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", errBadEnvelope, err)
	}
	if env.HandlerName == "" {
		return nil, fmt.Errorf("%w: handler_name is required", errBadEnvelope)
	}

	var jobID *int64
	var base domain.JSONMap
	job, err := q.resolveJob(ctx, &env)
	switch {
	case err == nil && job != nil:
		jobID = &job.ID
		base = job.HandlerParams
	case err != nil:
		return nil, err
	}

	params := domain.MergeParams(base, env.Params)
	return q.executions.InsertEvent(ctx, jobID, env.HandlerName, params, q.now())
}

// resolveJob maps the envelope to a cron definition. An explicit job_id that
// does not exist (or names a different handler) poisons the message; a
// handler with no definition at all is fine and runs with message params
// only.
func (q *QueueDispatcher) resolveJob(ctx context.Context, env *envelope) (*domain.CronJob, error) {
	if env.JobID != nil {
		job, err := q.crons.GetByID(ctx, *env.JobID)
		if err != nil {
			if errors.Is(err, domain.ErrCronNotFound) {
				return nil, fmt.Errorf("%w: job_id %d not found", errBadEnvelope, *env.JobID)
			}
			return nil, err
		}
		if job.HandlerName != env.HandlerName {
			return nil, fmt.Errorf("%w: job_id %d runs %q, message names %q",
				errBadEnvelope, job.ID, job.HandlerName, env.HandlerName)
		}
		return job, nil
	}

	job, err := q.crons.FirstByHandler(ctx, env.HandlerName)
	if err != nil {
		if errors.Is(err, domain.ErrCronNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return job, nil
}
