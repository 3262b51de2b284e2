package domain

import (
	"errors"
	"time"
)

var (
	ErrExecutionNotFound     = errors.New("job execution not found")
	ErrExecutionNotRetryable = errors.New("only FAILED or TIMEOUT executions can be retried")
)

type Status string

const (
	StatusPending Status = "PENDING"
	StatusRunning Status = "RUNNING"
	StatusSuccess Status = "SUCCESS"
	StatusFailed  Status = "FAILED"
	StatusTimeout Status = "TIMEOUT"
)

// Terminal reports whether s is an end state. FAILED and TIMEOUT are only
// terminal once the retry budget is exhausted; the worker decides that.
func (s Status) Terminal() bool {
	return s == StatusSuccess || s == StatusFailed || s == StatusTimeout
}

type ParamSource string

const (
	SourceCron  ParamSource = "cron"
	SourceEvent ParamSource = "event"
)

// Execution is one scheduled (or event-driven) attempt at running a handler.
// HandlerName and the effective params are snapshotted at creation so edits
// to the cron definition never affect in-flight rows.
type Execution struct {
	ID            int64       `db:"id"`
	JobID         *int64      `db:"job_id"` // nil for pure event executions
	HandlerName   string      `db:"handler_name"`
	ScheduledTime time.Time   `db:"scheduled_time"`
	Params        JSONMap     `db:"params"`
	ParamSource   ParamSource `db:"param_source"`
	Status        Status      `db:"status"`
	StartedAt     *time.Time  `db:"started_at"`
	FinishedAt    *time.Time  `db:"finished_at"`
	RetryCount    int         `db:"retry_count"`
	ErrorMessage  *string     `db:"error_message"`
	Result        JSONMap     `db:"result"`
	CreatedAt     time.Time   `db:"created_at"`
}

// ClaimedExecution is what the worker polls: the execution row joined with
// the owning cron job's execution policy. Event rows without an owner fall
// back to the defaults baked into the query.
type ClaimedExecution struct {
	Execution
	MaxRetry       int `db:"max_retry"`
	TimeoutSeconds int `db:"timeout_seconds"`
}

func (e *ClaimedExecution) Timeout() time.Duration {
	return time.Duration(e.TimeoutSeconds) * time.Second
}
