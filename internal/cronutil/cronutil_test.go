package cronutil_test

import (
	"errors"
	"testing"
	"time"

	"github.com/jobukit/jobu/internal/cronutil"
	"github.com/jobukit/jobu/internal/domain"
)

func TestParse_Valid(t *testing.T) {
	sched, err := cronutil.Parse("*/5 * * * *")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}

	ref := time.Date(2026, 3, 1, 10, 2, 0, 0, time.UTC)
	next := cronutil.NextAfter(sched, ref)
	want := time.Date(2026, 3, 1, 10, 5, 0, 0, time.UTC)
	if !next.Equal(want) {
		t.Errorf("next = %v, want %v", next, want)
	}
}

func TestParse_Invalid(t *testing.T) {
	_, err := cronutil.Parse("not a cron")
	if !errors.Is(err, domain.ErrInvalidCronExpr) {
		t.Fatalf("err = %v, want ErrInvalidCronExpr", err)
	}
}

func TestValidateInterval(t *testing.T) {
	// Every minute is too fast for a one-hour minimum.
	err := cronutil.ValidateInterval("* * * * *", time.Hour)
	if !errors.Is(err, domain.ErrCronIntervalShort) {
		t.Fatalf("err = %v, want ErrCronIntervalShort", err)
	}

	// Hourly passes the same minimum.
	if err := cronutil.ValidateInterval("0 * * * *", time.Hour); err != nil {
		t.Fatalf("hourly: %v", err)
	}

	// Zero minimum disables the check entirely.
	if err := cronutil.ValidateInterval("* * * * *", 0); err != nil {
		t.Fatalf("disabled check: %v", err)
	}

	// Bad expressions still fail.
	if err := cronutil.ValidateInterval("bogus", time.Minute); !errors.Is(err, domain.ErrInvalidCronExpr) {
		t.Fatalf("err = %v, want ErrInvalidCronExpr", err)
	}
}
