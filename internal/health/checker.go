package health

import (
	"context"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Pinger is satisfied by *database.Registry.
type Pinger interface {
	Names() []string
	Ping(ctx context.Context, name string) error
}

// CheckResult represents the health of a single dependency.
type CheckResult struct {
	Status string `json:"status"`
	Error  string `json:"error,omitempty"`
}

// HealthResult is the top-level health response.
type HealthResult struct {
	Status string                 `json:"status"`
	Checks map[string]CheckResult `json:"checks,omitempty"`
}

// Checker verifies that every registered database is reachable.
type Checker struct {
	dbs    Pinger
	logger *slog.Logger
	gauge  *prometheus.GaugeVec
}

// NewChecker creates a health checker and registers its Prometheus gauge.
func NewChecker(dbs Pinger, logger *slog.Logger, reg prometheus.Registerer) *Checker {
	gauge := prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "jobu",
		Name:      "health_check_up",
		Help:      "Whether a dependency is reachable. 1 = up, 0 = down.",
	}, []string{"dependency"})
	reg.MustRegister(gauge)

	return &Checker{
		dbs:    dbs,
		logger: logger.With("component", "health"),
		gauge:  gauge,
	}
}

// Liveness returns a simple "up" response if the process is running.
func (c *Checker) Liveness(_ context.Context) HealthResult {
	return HealthResult{Status: "up"}
}

// Readiness pings every database and reports per-check status.
func (c *Checker) Readiness(ctx context.Context) HealthResult {
	checkCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	result := HealthResult{
		Status: "up",
		Checks: make(map[string]CheckResult),
	}

	for _, name := range c.dbs.Names() {
		check := "database:" + name
		if err := c.dbs.Ping(checkCtx, name); err != nil {
			c.logger.Warn("database health check failed", "name", name, "error", err)
			result.Status = "down"
			result.Checks[check] = CheckResult{Status: "down", Error: err.Error()}
			c.gauge.WithLabelValues(check).Set(0)
		} else {
			result.Checks[check] = CheckResult{Status: "up"}
			c.gauge.WithLabelValues(check).Set(1)
		}
	}

	return result
}
