package domain

import (
	"errors"
	"time"
)

var (
	ErrCronNotFound      = errors.New("cron job not found")
	ErrCronNameConflict  = errors.New("cron job with this name already exists")
	ErrInvalidCronExpr   = errors.New("invalid cron expression")
	ErrCronIntervalShort = errors.New("cron interval shorter than the allowed minimum")
)

// CronJob is a named schedule plus handler binding. The dispatcher reads it;
// all mutation happens through the admin surface.
type CronJob struct {
	ID             int64   `db:"id"`
	Name           string  `db:"name"`
	Description    *string `db:"description"`
	CronExpression string  `db:"cron_expression"`
	HandlerName    string  `db:"handler_name"`
	HandlerParams  JSONMap `db:"handler_params"`
	IsEnabled      bool    `db:"is_enabled"`
	AllowOverlap   bool    `db:"allow_overlap"`
	// Total attempts per execution = 1 + MaxRetry.
	MaxRetry       int       `db:"max_retry"`
	TimeoutSeconds int       `db:"timeout_seconds"`
	CreatedAt      time.Time `db:"created_at"`
	UpdatedAt      time.Time `db:"updated_at"`
}

func (j *CronJob) Timeout() time.Duration {
	return time.Duration(j.TimeoutSeconds) * time.Second
}
