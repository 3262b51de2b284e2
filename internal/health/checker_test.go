package health_test

import (
	"context"
	"errors"
	"log/slog"
	"testing"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/jobukit/jobu/internal/health"
)

type mockPinger struct {
	errs map[string]error
}

func (m *mockPinger) Names() []string {
	names := make([]string, 0, len(m.errs))
	for name := range m.errs {
		names = append(names, name)
	}
	return names
}

func (m *mockPinger) Ping(_ context.Context, name string) error { return m.errs[name] }

func newTestChecker(p health.Pinger) (*health.Checker, *prometheus.Registry) {
	reg := prometheus.NewRegistry()
	logger := slog.Default()
	return health.NewChecker(p, logger, reg), reg
}

func TestLiveness_AlwaysUp(t *testing.T) {
	c, _ := newTestChecker(&mockPinger{errs: map[string]error{"default": errors.New("db down")}})

	result := c.Liveness(context.Background())
	if result.Status != "up" {
		t.Fatalf("expected status up, got %s", result.Status)
	}
	if result.Checks != nil {
		t.Fatalf("expected no checks, got %v", result.Checks)
	}
}

func TestReadiness_AllUp(t *testing.T) {
	c, reg := newTestChecker(&mockPinger{errs: map[string]error{"default": nil, "reporting": nil}})

	result := c.Readiness(context.Background())
	if result.Status != "up" {
		t.Fatalf("expected status up, got %s", result.Status)
	}
	for _, name := range []string{"database:default", "database:reporting"} {
		check, ok := result.Checks[name]
		if !ok {
			t.Fatalf("missing %s check", name)
		}
		if check.Status != "up" {
			t.Fatalf("expected %s up, got %s", name, check.Status)
		}
		if g := testGauge(t, reg, "jobu_health_check_up", name); g != 1 {
			t.Fatalf("expected gauge 1 for %s, got %f", name, g)
		}
	}
}

func TestReadiness_OneDown(t *testing.T) {
	c, reg := newTestChecker(&mockPinger{errs: map[string]error{
		"default":   nil,
		"reporting": errors.New("connection refused"),
	}})

	result := c.Readiness(context.Background())
	if result.Status != "down" {
		t.Fatalf("expected status down, got %s", result.Status)
	}
	check := result.Checks["database:reporting"]
	if check.Status != "down" {
		t.Fatalf("expected reporting down, got %s", check.Status)
	}
	if check.Error == "" {
		t.Fatal("expected error message")
	}
	if result.Checks["database:default"].Status != "up" {
		t.Fatal("expected default up")
	}

	if g := testGauge(t, reg, "jobu_health_check_up", "database:reporting"); g != 0 {
		t.Fatalf("expected gauge 0, got %f", g)
	}
}

func testGauge(t *testing.T, reg *prometheus.Registry, name, depLabel string) float64 {
	t.Helper()
	mfs, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather metrics: %v", err)
	}
	for _, mf := range mfs {
		if mf.GetName() != name {
			continue
		}
		for _, m := range mf.GetMetric() {
			for _, lp := range m.GetLabel() {
				if lp.GetName() == "dependency" && lp.GetValue() == depLabel {
					return m.GetGauge().GetValue()
				}
			}
		}
	}
	t.Fatalf("metric %s{dependency=%q} not found", name, depLabel)
	return 0
}
