package handler

const (
	errInternalServer        = "Internal server error"
	errCronNotFound          = "Cron job not found"
	errCronNameConflict      = "Cron job with this name already exists"
	errExecutionNotFound     = "Execution not found"
	errExecutionNotRetryable = "Only FAILED or TIMEOUT executions can be retried"
)
