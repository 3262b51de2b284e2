package httptransport

import (
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
	sloggin "github.com/samber/slog-gin"

	"github.com/jobukit/jobu/internal/health"
	"github.com/jobukit/jobu/internal/transport/http/handler"
	"github.com/jobukit/jobu/internal/transport/http/middleware"
)

// NewRouter assembles the admin API. A nil jwtKey leaves the API open; with a
// key every /api route demands a Bearer token.
func NewRouter(
	logger *slog.Logger,
	cronHandler *handler.CronHandler,
	executionHandler *handler.ExecutionHandler,
	checker *health.Checker,
	jwtKey []byte,
) *gin.Engine {
	r := gin.New()
	r.Use(middleware.RequestID())
	r.Use(sloggin.New(logger.With("component", "http")))
	r.Use(gin.Recovery())
	r.Use(middleware.Metrics())

	r.GET("/healthz/live", func(c *gin.Context) {
		c.JSON(http.StatusOK, checker.Liveness(c.Request.Context()))
	})
	r.GET("/healthz/ready", func(c *gin.Context) {
		result := checker.Readiness(c.Request.Context())
		status := http.StatusOK
		if result.Status != "up" {
			status = http.StatusServiceUnavailable
		}
		c.JSON(status, result)
	})

	api := r.Group("/api")
	if len(jwtKey) > 0 {
		api.Use(middleware.Auth(jwtKey))
	}

	crons := api.Group("/crons")
	{
		crons.POST("", cronHandler.Create)
		crons.GET("", cronHandler.List)
		crons.GET("/:id", cronHandler.GetByID)
		crons.PATCH("/:id", cronHandler.Update)
		crons.POST("/:id/enable", cronHandler.Enable)
		crons.POST("/:id/disable", cronHandler.Disable)
		crons.DELETE("/:id", cronHandler.Delete)
	}

	executions := api.Group("/executions")
	{
		executions.GET("", executionHandler.List)
		executions.GET("/:id", executionHandler.GetByID)
		executions.POST("/:id/retry", executionHandler.Retry)
		executions.DELETE("/:id", executionHandler.Delete)
	}

	return r
}
