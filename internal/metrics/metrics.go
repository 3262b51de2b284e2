package metrics

import (
	"encoding/json"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/jobukit/jobu/internal/health"
)

var (
	// Dispatcher metrics

	ExecutionsScheduledTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "jobu",
		Name:      "executions_scheduled_total",
		Help:      "Execution rows created by the dispatcher, by outcome (inserted, duplicate, skipped_overlap).",
	}, []string{"outcome"})

	DispatchCycleDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "jobu",
		Name:      "dispatch_cycle_duration_seconds",
		Help:      "Time taken for one dispatcher pass over the enabled cron jobs.",
		Buckets:   prometheus.DefBuckets,
	})

	// Worker metrics

	ExecutionPickupLatency = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "jobu",
		Name:      "execution_pickup_latency_seconds",
		Help:      "Time from scheduled_time to a worker claiming the execution.",
		Buckets:   []float64{.1, .25, .5, 1, 2.5, 5, 10, 30, 60, 120, 300},
	})

	ExecutionDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "jobu",
		Name:      "execution_duration_seconds",
		Help:      "Handler run time, by final status.",
		Buckets:   []float64{.01, .05, .1, .25, .5, 1, 2.5, 5, 10, 30, 60, 300},
	}, []string{"status"})

	ExecutionsInFlight = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "jobu",
		Name:      "executions_in_flight",
		Help:      "Executions currently running in this worker.",
	})

	ExecutionsFinishedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "jobu",
		Name:      "executions_finished_total",
		Help:      "Finished execution attempts, by outcome (success, failed, timeout, retry, handler_not_found).",
	}, []string{"outcome"})

	// Queue dispatcher metrics

	QueueMessagesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "jobu",
		Name:      "queue_messages_total",
		Help:      "Queue messages processed, by outcome (accepted, rejected, abandoned).",
	}, []string{"outcome"})

	// Lifecycle

	ProcessStartTime = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "jobu",
		Name:      "process_start_time_seconds",
		Help:      "Unix timestamp when each component started.",
	}, []string{"component"})

	// HTTP metrics

	HTTPRequestDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "jobu",
		Name:      "http_request_duration_seconds",
		Help:      "Admin API request latency.",
		Buckets:   []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5},
	}, []string{"method", "path", "status"})

	HTTPRequestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "jobu",
		Name:      "http_requests_total",
		Help:      "Total admin API requests.",
	}, []string{"method", "path", "status"})
)

func Register() {
	prometheus.MustRegister(
		ExecutionsScheduledTotal,
		DispatchCycleDuration,
		ExecutionPickupLatency,
		ExecutionDuration,
		ExecutionsInFlight,
		ExecutionsFinishedTotal,
		QueueMessagesTotal,
		ProcessStartTime,
		HTTPRequestDuration,
		HTTPRequestsTotal,
	)
}

// NewServer serves /metrics plus the liveness and readiness probes on the
// operational port, away from the admin API.
func NewServer(addr string, checker *health.Checker) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz/live", func(w http.ResponseWriter, r *http.Request) {
		writeHealth(w, checker.Liveness(r.Context()))
	})
	mux.HandleFunc("/healthz/ready", func(w http.ResponseWriter, r *http.Request) {
		writeHealth(w, checker.Readiness(r.Context()))
	})
	return &http.Server{Addr: addr, Handler: mux}
}

func writeHealth(w http.ResponseWriter, result health.HealthResult) {
	w.Header().Set("Content-Type", "application/json")
	if result.Status != "up" {
		w.WriteHeader(http.StatusServiceUnavailable)
	}
	_ = json.NewEncoder(w).Encode(result)
}
