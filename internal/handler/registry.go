// Package handler defines the unit of work the scheduler runs and the
// process-local registry that maps handler names to implementations.
package handler

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/jobukit/jobu/internal/domain"
)

var (
	ErrNotFound   = errors.New("handler not found")
	ErrDuplicate  = errors.New("handler already registered")
	ErrBadParams  = errors.New("invalid handler params")
	ErrBadHandler = errors.New("handler must not be nil")
)

// Handler is one registered unit of work. Execute must honor ctx
// cancellation; the worker enforces the per-job timeout through it. The
// returned map is persisted as the execution's result.
type Handler interface {
	Execute(ctx context.Context, params domain.JSONMap) (domain.JSONMap, error)
}

// Func adapts a plain function to Handler.
type Func func(ctx context.Context, params domain.JSONMap) (domain.JSONMap, error)

func (f Func) Execute(ctx context.Context, params domain.JSONMap) (domain.JSONMap, error) {
	return f(ctx, params)
}

// Registry maps handler names to implementations. Registration happens at
// startup; lookups are concurrent with running executions.
type Registry struct {
	mu       sync.RWMutex
	handlers map[string]Handler
}

func NewRegistry() *Registry {
	return &Registry{handlers: make(map[string]Handler)}
}

// Register binds name to h. Names are unique per process; a duplicate is a
// wiring bug and fails loudly.
func (r *Registry) Register(name string, h Handler) error {
	if h == nil {
		return fmt.Errorf("%w: %q", ErrBadHandler, name)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.handlers[name]; ok {
		return fmt.Errorf("%w: %q", ErrDuplicate, name)
	}
	r.handlers[name] = h
	return nil
}

// MustRegister is Register for startup wiring that cannot continue on error.
func (r *Registry) MustRegister(name string, h Handler) {
	if err := r.Register(name, h); err != nil {
		panic(err)
	}
}

// Get resolves name; ErrNotFound means the execution row names a handler this
// worker build does not carry.
func (r *Registry) Get(name string) (Handler, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.handlers[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrNotFound, name)
	}
	return h, nil
}

// Names lists registered handlers in stable order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.handlers))
	for name := range r.handlers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
