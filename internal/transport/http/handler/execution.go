package handler

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/jobukit/jobu/internal/domain"
	"github.com/jobukit/jobu/internal/usecase"
)

type ExecutionHandler struct {
	executionUsecase *usecase.ExecutionUsecase
	logger           *slog.Logger
}

func NewExecutionHandler(executionUsecase *usecase.ExecutionUsecase, logger *slog.Logger) *ExecutionHandler {
	return &ExecutionHandler{
		executionUsecase: executionUsecase,
		logger:           logger.With("component", "execution_handler"),
	}
}

type executionResponse struct {
	ID            int64              `json:"id"`
	JobID         *int64             `json:"job_id,omitempty"`
	HandlerName   string             `json:"handler_name"`
	ScheduledTime time.Time          `json:"scheduled_time"`
	Params        domain.JSONMap     `json:"params,omitempty"`
	ParamSource   domain.ParamSource `json:"param_source"`
	Status        domain.Status      `json:"status"`
	StartedAt     *time.Time         `json:"started_at,omitempty"`
	FinishedAt    *time.Time         `json:"finished_at,omitempty"`
	RetryCount    int                `json:"retry_count"`
	ErrorMessage  *string            `json:"error_message,omitempty"`
	Result        domain.JSONMap     `json:"result,omitempty"`
	CreatedAt     time.Time          `json:"created_at"`
}

func toExecutionResponse(e *domain.Execution) executionResponse {
	return executionResponse{
		ID:            e.ID,
		JobID:         e.JobID,
		HandlerName:   e.HandlerName,
		ScheduledTime: e.ScheduledTime,
		Params:        e.Params,
		ParamSource:   e.ParamSource,
		Status:        e.Status,
		StartedAt:     e.StartedAt,
		FinishedAt:    e.FinishedAt,
		RetryCount:    e.RetryCount,
		ErrorMessage:  e.ErrorMessage,
		Result:        e.Result,
		CreatedAt:     e.CreatedAt,
	}
}

func (h *ExecutionHandler) List(ctx *gin.Context) {
	limit, _ := strconv.Atoi(ctx.Query("limit"))
	offset, _ := strconv.Atoi(ctx.Query("offset"))

	input := usecase.ListExecutionsInput{
		Status: domain.Status(ctx.Query("status")),
		Limit:  limit,
		Offset: offset,
	}
	if raw := ctx.Query("job_id"); raw != "" {
		jobID, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || jobID <= 0 {
			ctx.JSON(http.StatusBadRequest, gin.H{"error": "job_id must be a positive integer"})
			return
		}
		input.JobID = &jobID
	}
	for _, bound := range []struct {
		name string
		dst  **time.Time
	}{{"since", &input.Since}, {"until", &input.Until}} {
		raw := ctx.Query(bound.name)
		if raw == "" {
			continue
		}
		ts, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			ctx.JSON(http.StatusBadRequest, gin.H{"error": bound.name + " must be an RFC 3339 timestamp"})
			return
		}
		*bound.dst = &ts
	}

	executions, err := h.executionUsecase.ListExecutions(ctx.Request.Context(), input)
	if err != nil {
		h.writeExecutionError(ctx, err, "list executions")
		return
	}

	out := make([]executionResponse, 0, len(executions))
	for _, e := range executions {
		out = append(out, toExecutionResponse(e))
	}
	ctx.JSON(http.StatusOK, gin.H{"executions": out})
}

func (h *ExecutionHandler) GetByID(ctx *gin.Context) {
	id, ok := pathID(ctx)
	if !ok {
		return
	}

	e, err := h.executionUsecase.GetExecution(ctx.Request.Context(), id)
	if err != nil {
		h.writeExecutionError(ctx, err, "get execution")
		return
	}
	ctx.JSON(http.StatusOK, toExecutionResponse(e))
}

func (h *ExecutionHandler) Retry(ctx *gin.Context) {
	id, ok := pathID(ctx)
	if !ok {
		return
	}

	e, err := h.executionUsecase.RetryExecution(ctx.Request.Context(), id)
	if err != nil {
		h.writeExecutionError(ctx, err, "retry execution")
		return
	}
	ctx.JSON(http.StatusOK, toExecutionResponse(e))
}

func (h *ExecutionHandler) Delete(ctx *gin.Context) {
	id, ok := pathID(ctx)
	if !ok {
		return
	}

	if err := h.executionUsecase.DeleteExecution(ctx.Request.Context(), id); err != nil {
		h.writeExecutionError(ctx, err, "delete execution")
		return
	}
	ctx.Status(http.StatusNoContent)
}

func (h *ExecutionHandler) writeExecutionError(ctx *gin.Context, err error, op string) {
	switch {
	case errors.Is(err, domain.ErrExecutionNotFound):
		ctx.JSON(http.StatusNotFound, gin.H{"error": errExecutionNotFound})
	case errors.Is(err, domain.ErrExecutionNotRetryable):
		ctx.JSON(http.StatusConflict, gin.H{"error": errExecutionNotRetryable})
	default:
		h.logger.Error(op, "error", err)
		ctx.JSON(http.StatusInternalServerError, gin.H{"error": errInternalServer})
	}
}
