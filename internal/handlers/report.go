package handlers

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jobukit/jobu/internal/domain"
	"github.com/jobukit/jobu/internal/email"
	"github.com/jobukit/jobu/internal/repository"
)

// reportHandler emails a status summary of recent executions.
// Params: to (string array), subject (optional), window_hours (default 24).
type reportHandler struct {
	executions repository.ExecutionRepository
	sender     email.Sender
}

func (h *reportHandler) Execute(ctx context.Context, params domain.JSONMap) (domain.JSONMap, error) {
	to, err := stringSliceParam(params, "to")
	if err != nil {
		return nil, err
	}
	hours, err := floatParam(params, "window_hours", 24)
	if err != nil {
		return nil, err
	}

	since := time.Now().UTC().Add(-time.Duration(hours * float64(time.Hour)))
	counts, err := h.executions.CountByStatus(ctx, since)
	if err != nil {
		return nil, err
	}

	subject := fmt.Sprintf("job report: last %.0fh", hours)
	if s, ok := params["subject"].(string); ok && s != "" {
		subject = s
	}

	var b strings.Builder
	fmt.Fprintf(&b, "<p>Executions since %s:</p><ul>", since.Format(time.RFC3339))
	total := 0
	for _, st := range []domain.Status{
		domain.StatusPending, domain.StatusRunning, domain.StatusSuccess,
		domain.StatusFailed, domain.StatusTimeout,
	} {
		fmt.Fprintf(&b, "<li>%s: %d</li>", st, counts[st])
		total += counts[st]
	}
	fmt.Fprintf(&b, "</ul><p>Total: %d</p>", total)

	if err := h.sender.Send(ctx, to, subject, b.String()); err != nil {
		return nil, err
	}
	return domain.JSONMap{"recipients": len(to), "total": total}, nil
}
