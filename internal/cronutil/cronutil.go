// Package cronutil wraps standard 5-field cron expression parsing for the
// dispatcher and the admin validation path.
package cronutil

import (
	"fmt"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/jobukit/jobu/internal/domain"
)

// Parse accepts a standard 5-field expression (minute granularity) plus the
// @every/@hourly style descriptors.
func Parse(expr string) (cron.Schedule, error) {
	sched, err := cron.ParseStandard(expr)
	if err != nil {
		return nil, fmt.Errorf("%w: %q: %v", domain.ErrInvalidCronExpr, expr, err)
	}
	return sched, nil
}

// NextAfter returns the first firing strictly after t.
func NextAfter(sched cron.Schedule, t time.Time) time.Time {
	return sched.Next(t)
}

// ValidateInterval rejects expressions that can fire more often than min.
// The gap is measured between two consecutive firings; a schedule like
// "*/1 * * * *" fails a one-hour minimum even though some of its gaps
// (none, in that case) might be long enough.
func ValidateInterval(expr string, min time.Duration) error {
	if min <= 0 {
		return nil
	}
	sched, err := Parse(expr)
	if err != nil {
		return err
	}

	ref := time.Now().UTC()
	first := sched.Next(ref)
	second := sched.Next(first)
	if second.Sub(first) < min {
		return fmt.Errorf("%w: %q fires every %s, minimum is %s",
			domain.ErrCronIntervalShort, expr, second.Sub(first), min)
	}
	return nil
}
