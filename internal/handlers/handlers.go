// Package handlers carries the built-in handler set that ships with every
// worker build. Applications register their own handlers next to these.
package handlers

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/jobukit/jobu/internal/database"
	"github.com/jobukit/jobu/internal/domain"
	"github.com/jobukit/jobu/internal/email"
	"github.com/jobukit/jobu/internal/handler"
	"github.com/jobukit/jobu/internal/repository"
)

// Deps is what the built-ins need from the rest of the process.
type Deps struct {
	Executions repository.ExecutionRepository
	Registry   *database.Registry
	Email      email.Sender
	Logger     *slog.Logger
}

// Register wires every built-in into reg.
func Register(reg *handler.Registry, deps Deps) error {
	builtins := map[string]handler.Handler{
		"echo":               handler.Func(echo),
		"sleep":              handler.Func(sleep),
		"fail_n":             newFailN(),
		"cleanup_executions": &cleanupHandler{executions: deps.Executions, logger: deps.Logger},
		"sync_table":         &syncTableHandler{registry: deps.Registry, logger: deps.Logger},
		"email_report":       &reportHandler{executions: deps.Executions, sender: deps.Email},
	}
	for name, h := range builtins {
		if err := reg.Register(name, h); err != nil {
			return err
		}
	}
	return nil
}

// echo returns its params unchanged; the smoke-test handler.
func echo(_ context.Context, params domain.JSONMap) (domain.JSONMap, error) {
	return params, nil
}

// sleep blocks for params["seconds"], honoring cancellation. Useful for
// exercising timeouts and shutdown budgets against a live deployment.
func sleep(ctx context.Context, params domain.JSONMap) (domain.JSONMap, error) {
	seconds, err := floatParam(params, "seconds", 1)
	if err != nil {
		return nil, err
	}
	d := time.Duration(seconds * float64(time.Second))

	select {
	case <-time.After(d):
		return domain.JSONMap{"slept_seconds": seconds}, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// failN fails its first params["fail_times"] invocations in this process,
// then succeeds. It exists to demo and test the retry path end to end.
type failN struct {
	calls atomic.Int64
}

func newFailN() *failN { return &failN{} }

func (h *failN) Execute(_ context.Context, params domain.JSONMap) (domain.JSONMap, error) {
	failTimes, err := floatParam(params, "fail_times", 1)
	if err != nil {
		return nil, err
	}
	n := h.calls.Add(1)
	if n <= int64(failTimes) {
		return nil, fmt.Errorf("deliberate failure %d of %d", n, int64(failTimes))
	}
	return domain.JSONMap{"attempts": n}, nil
}

// floatParam reads a numeric param, defaulting when absent. JSON numbers
// decode as float64.
func floatParam(params domain.JSONMap, key string, def float64) (float64, error) {
	v, ok := params[key]
	if !ok {
		return def, nil
	}
	f, ok := v.(float64)
	if !ok {
		return 0, fmt.Errorf("%w: %q must be a number, got %T", handler.ErrBadParams, key, v)
	}
	return f, nil
}

func stringParam(params domain.JSONMap, key string) (string, error) {
	v, ok := params[key]
	if !ok {
		return "", fmt.Errorf("%w: %q is required", handler.ErrBadParams, key)
	}
	s, ok := v.(string)
	if !ok || s == "" {
		return "", fmt.Errorf("%w: %q must be a non-empty string", handler.ErrBadParams, key)
	}
	return s, nil
}

func stringSliceParam(params domain.JSONMap, key string) ([]string, error) {
	v, ok := params[key]
	if !ok {
		return nil, fmt.Errorf("%w: %q is required", handler.ErrBadParams, key)
	}
	raw, ok := v.([]any)
	if !ok {
		return nil, fmt.Errorf("%w: %q must be a string array", handler.ErrBadParams, key)
	}
	out := make([]string, 0, len(raw))
	for _, item := range raw {
		s, ok := item.(string)
		if !ok || s == "" {
			return nil, fmt.Errorf("%w: %q must contain non-empty strings", handler.ErrBadParams, key)
		}
		out = append(out, s)
	}
	return out, nil
}
