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

type CronHandler struct {
	cronUsecase *usecase.CronUsecase
	logger      *slog.Logger
}

func NewCronHandler(cronUsecase *usecase.CronUsecase, logger *slog.Logger) *CronHandler {
	return &CronHandler{cronUsecase: cronUsecase, logger: logger.With("component", "cron_handler")}
}

type createCronRequest struct {
	Name           string         `json:"name"            binding:"required,max=255"`
	Description    *string        `json:"description"`
	CronExpression string         `json:"cron_expression" binding:"required"`
	HandlerName    string         `json:"handler_name"    binding:"required,max=255"`
	HandlerParams  domain.JSONMap `json:"handler_params"`
	IsEnabled      *bool          `json:"is_enabled"`
	AllowOverlap   *bool          `json:"allow_overlap"`
	MaxRetry       *int           `json:"max_retry"       binding:"omitempty,min=0,max=100"`
	TimeoutSeconds *int           `json:"timeout_seconds" binding:"omitempty,min=1"`
}

type updateCronRequest struct {
	Name           *string        `json:"name"            binding:"omitempty,max=255"`
	Description    *string        `json:"description"`
	CronExpression *string        `json:"cron_expression"`
	HandlerName    *string        `json:"handler_name"    binding:"omitempty,max=255"`
	HandlerParams  domain.JSONMap `json:"handler_params"`
	IsEnabled      *bool          `json:"is_enabled"`
	AllowOverlap   *bool          `json:"allow_overlap"`
	MaxRetry       *int           `json:"max_retry"       binding:"omitempty,min=0,max=100"`
	TimeoutSeconds *int           `json:"timeout_seconds" binding:"omitempty,min=1"`
}

type cronResponse struct {
	ID             int64          `json:"id"`
	Name           string         `json:"name"`
	Description    *string        `json:"description,omitempty"`
	CronExpression string         `json:"cron_expression"`
	HandlerName    string         `json:"handler_name"`
	HandlerParams  domain.JSONMap `json:"handler_params,omitempty"`
	IsEnabled      bool           `json:"is_enabled"`
	AllowOverlap   bool           `json:"allow_overlap"`
	MaxRetry       int            `json:"max_retry"`
	TimeoutSeconds int            `json:"timeout_seconds"`
	CreatedAt      time.Time      `json:"created_at"`
	UpdatedAt      time.Time      `json:"updated_at"`
}

func toCronResponse(j *domain.CronJob) cronResponse {
	return cronResponse{
		ID:             j.ID,
		Name:           j.Name,
		Description:    j.Description,
		CronExpression: j.CronExpression,
		HandlerName:    j.HandlerName,
		HandlerParams:  j.HandlerParams,
		IsEnabled:      j.IsEnabled,
		AllowOverlap:   j.AllowOverlap,
		MaxRetry:       j.MaxRetry,
		TimeoutSeconds: j.TimeoutSeconds,
		CreatedAt:      j.CreatedAt,
		UpdatedAt:      j.UpdatedAt,
	}
}

func (h *CronHandler) Create(ctx *gin.Context) {
	var req createCronRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		ctx.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	job, err := h.cronUsecase.CreateCron(ctx.Request.Context(), usecase.CreateCronInput{
		Name:           req.Name,
		Description:    req.Description,
		CronExpression: req.CronExpression,
		HandlerName:    req.HandlerName,
		HandlerParams:  req.HandlerParams,
		IsEnabled:      req.IsEnabled,
		AllowOverlap:   req.AllowOverlap,
		MaxRetry:       req.MaxRetry,
		TimeoutSeconds: req.TimeoutSeconds,
	})
	if err != nil {
		h.writeCronError(ctx, err, "create cron job")
		return
	}

	ctx.JSON(http.StatusCreated, toCronResponse(job))
}

func (h *CronHandler) GetByID(ctx *gin.Context) {
	id, ok := pathID(ctx)
	if !ok {
		return
	}

	job, err := h.cronUsecase.GetCron(ctx.Request.Context(), id)
	if err != nil {
		h.writeCronError(ctx, err, "get cron job")
		return
	}
	ctx.JSON(http.StatusOK, toCronResponse(job))
}

func (h *CronHandler) List(ctx *gin.Context) {
	limit, _ := strconv.Atoi(ctx.Query("limit"))
	offset, _ := strconv.Atoi(ctx.Query("offset"))
	enabledOnly := ctx.Query("enabled") == "true"

	jobs, err := h.cronUsecase.ListCrons(ctx.Request.Context(), usecase.ListCronsInput{
		EnabledOnly: enabledOnly,
		Limit:       limit,
		Offset:      offset,
	})
	if err != nil {
		h.writeCronError(ctx, err, "list cron jobs")
		return
	}

	out := make([]cronResponse, 0, len(jobs))
	for _, j := range jobs {
		out = append(out, toCronResponse(j))
	}
	ctx.JSON(http.StatusOK, gin.H{"crons": out})
}

func (h *CronHandler) Update(ctx *gin.Context) {
	id, ok := pathID(ctx)
	if !ok {
		return
	}

	var req updateCronRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		ctx.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	job, err := h.cronUsecase.UpdateCron(ctx.Request.Context(), id, usecase.UpdateCronInput{
		Name:           req.Name,
		Description:    req.Description,
		CronExpression: req.CronExpression,
		HandlerName:    req.HandlerName,
		HandlerParams:  req.HandlerParams,
		IsEnabled:      req.IsEnabled,
		AllowOverlap:   req.AllowOverlap,
		MaxRetry:       req.MaxRetry,
		TimeoutSeconds: req.TimeoutSeconds,
	})
	if err != nil {
		h.writeCronError(ctx, err, "update cron job")
		return
	}
	ctx.JSON(http.StatusOK, toCronResponse(job))
}

func (h *CronHandler) Enable(ctx *gin.Context) {
	h.setEnabled(ctx, true)
}

func (h *CronHandler) Disable(ctx *gin.Context) {
	h.setEnabled(ctx, false)
}

func (h *CronHandler) setEnabled(ctx *gin.Context, enabled bool) {
	id, ok := pathID(ctx)
	if !ok {
		return
	}

	var err error
	if enabled {
		err = h.cronUsecase.EnableCron(ctx.Request.Context(), id)
	} else {
		err = h.cronUsecase.DisableCron(ctx.Request.Context(), id)
	}
	if err != nil {
		h.writeCronError(ctx, err, "set cron enabled")
		return
	}
	ctx.JSON(http.StatusOK, gin.H{"id": id, "is_enabled": enabled})
}

func (h *CronHandler) Delete(ctx *gin.Context) {
	id, ok := pathID(ctx)
	if !ok {
		return
	}

	if err := h.cronUsecase.DeleteCron(ctx.Request.Context(), id); err != nil {
		h.writeCronError(ctx, err, "delete cron job")
		return
	}
	ctx.Status(http.StatusNoContent)
}

func (h *CronHandler) writeCronError(ctx *gin.Context, err error, op string) {
	switch {
	case errors.Is(err, domain.ErrCronNotFound):
		ctx.JSON(http.StatusNotFound, gin.H{"error": errCronNotFound})
	case errors.Is(err, domain.ErrCronNameConflict):
		ctx.JSON(http.StatusConflict, gin.H{"error": errCronNameConflict})
	case errors.Is(err, domain.ErrInvalidCronExpr), errors.Is(err, domain.ErrCronIntervalShort):
		ctx.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	default:
		h.logger.Error(op, "error", err)
		ctx.JSON(http.StatusInternalServerError, gin.H{"error": errInternalServer})
	}
}

// pathID parses the :id segment; writes the 400 itself on failure.
func pathID(ctx *gin.Context) (int64, bool) {
	id, err := strconv.ParseInt(ctx.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		ctx.JSON(http.StatusBadRequest, gin.H{"error": "id must be a positive integer"})
		return 0, false
	}
	return id, true
}
