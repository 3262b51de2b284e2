package handlers

import (
	"context"
	"log/slog"
	"time"

	"github.com/jobukit/jobu/internal/domain"
	"github.com/jobukit/jobu/internal/repository"
)

// cleanupHandler prunes terminal execution rows older than a retention
// window. Params: older_than_days (default 30), statuses (optional list,
// default all terminal states).
type cleanupHandler struct {
	executions repository.ExecutionRepository
	logger     *slog.Logger
}

func (h *cleanupHandler) Execute(ctx context.Context, params domain.JSONMap) (domain.JSONMap, error) {
	days, err := floatParam(params, "older_than_days", 30)
	if err != nil {
		return nil, err
	}

	var statuses []domain.Status
	if _, ok := params["statuses"]; ok {
		names, err := stringSliceParam(params, "statuses")
		if err != nil {
			return nil, err
		}
		for _, name := range names {
			statuses = append(statuses, domain.Status(name))
		}
	}

	cutoff := time.Now().UTC().Add(-time.Duration(days*24) * time.Hour)
	deleted, err := h.executions.DeleteFinishedBefore(ctx, cutoff, statuses)
	if err != nil {
		return nil, err
	}

	h.logger.Info("cleaned up executions", "deleted", deleted, "cutoff", cutoff)
	return domain.JSONMap{"deleted": deleted, "cutoff": cutoff.Format(time.RFC3339)}, nil
}
