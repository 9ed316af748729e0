// Package modelhandle holds a lazily loaded model resource.
package modelhandle

import (
	"context"
	"log/slog"
	"sync"

	"golang.org/x/sync/singleflight"

	"github.com/kirillkom/localrag/internal/core/domain"
)

type State string

const (
	StateUnloaded State = "unloaded"
	StateReady    State = "ready"
)

// Loader produces the resource. It runs detached from the caller's cancellation.
type Loader[T any] func(ctx context.Context) (T, error)

// Handle is Unloaded until a Get succeeds, then Ready for good.
// Concurrent first callers share a single load; a failed load leaves the handle Unloaded.
type Handle[T any] struct {
	name   string
	loader Loader[T]
	group  singleflight.Group

	mu       sync.RWMutex
	ready    bool
	resource T
}

func New[T any](name string, loader Loader[T]) *Handle[T] {
	return &Handle[T]{name: name, loader: loader}
}

func (h *Handle[T]) State() State {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.ready {
		return StateReady
	}
	return StateUnloaded
}

// Get returns the resource, loading it on first use.
// The caller's context bounds only how long it waits, not the load itself.
func (h *Handle[T]) Get(ctx context.Context) (T, error) {
	h.mu.RLock()
	if h.ready {
		resource := h.resource
		h.mu.RUnlock()
		return resource, nil
	}
	h.mu.RUnlock()

	loadCtx := context.WithoutCancel(ctx)
	ch := h.group.DoChan(h.name, func() (any, error) {
		h.mu.RLock()
		if h.ready {
			resource := h.resource
			h.mu.RUnlock()
			return resource, nil
		}
		h.mu.RUnlock()

		slog.Info("model_load_started", "model", h.name)
		resource, err := h.loader(loadCtx)
		if err != nil {
			slog.Warn("model_load_failed", "model", h.name, "error", err)
			return nil, err
		}
		h.mu.Lock()
		h.resource = resource
		h.ready = true
		h.mu.Unlock()
		slog.Info("model_load_completed", "model", h.name)
		return resource, nil
	})

	var zero T
	select {
	case <-ctx.Done():
		return zero, domain.WrapError(domain.ErrUpstreamTimeout, "load model "+h.name, ctx.Err())
	case res := <-ch:
		if res.Err != nil {
			return zero, domain.WrapError(domain.ErrModelUnavailable, "load model "+h.name, res.Err)
		}
		return res.Val.(T), nil
	}
}

// Reset drops a loaded resource so the next Get loads it again.
func (h *Handle[T]) Reset() {
	h.mu.Lock()
	defer h.mu.Unlock()
	var zero T
	h.resource = zero
	h.ready = false
}
