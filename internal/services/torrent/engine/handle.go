// Package engine owns the lifecycle of the shared download engine.
package engine

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"streamgate/internal/domain/ports"
	"streamgate/internal/metrics"
)

var ErrHandleClosed = errors.New("engine handle closed")

type Factory func() (ports.Engine, error)

// Handle lazily creates the engine on first use and discards it when the
// engine reports a fatal error, so the next Ensure builds a fresh one.
type Handle struct {
	factory Factory
	logger  *slog.Logger

	mu        sync.Mutex
	current   ports.Engine
	closed    bool
	done      chan struct{}
	onDiscard func()
}

func NewHandle(factory Factory, logger *slog.Logger) *Handle {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handle{
		factory: factory,
		logger:  logger,
		done:    make(chan struct{}),
	}
}

// Ensure returns the live engine, creating it if needed.
func (h *Handle) Ensure(ctx context.Context) (ports.Engine, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return nil, ErrHandleClosed
	}
	if h.current != nil {
		return h.current, nil
	}

	e, err := h.factory()
	if err != nil {
		return nil, err
	}
	h.current = e
	metrics.EngineStartsTotal.Inc()
	h.logger.Info("torrent engine started")
	go h.watch(e)
	return e, nil
}

// Current returns the engine without creating one.
func (h *Handle) Current() (ports.Engine, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.current, h.current != nil
}

// OnDiscard sets fn to run after a failed engine has been closed. Torrents
// handed out by that engine are dead by the time fn runs.
func (h *Handle) OnDiscard(fn func()) {
	h.mu.Lock()
	h.onDiscard = fn
	h.mu.Unlock()
}

func (h *Handle) Close() error {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return nil
	}
	h.closed = true
	close(h.done)
	e := h.current
	h.current = nil
	h.mu.Unlock()

	if e == nil {
		return nil
	}
	return e.Close()
}

func (h *Handle) watch(e ports.Engine) {
	select {
	case <-h.done:
		return
	case err, ok := <-e.Fatal():
		if !ok {
			err = errors.New("engine fatal channel closed")
		}
		h.discard(e, err)
	}
}

// discard drops e if it is still the current engine. A stale engine that was
// already replaced is left alone.
func (h *Handle) discard(e ports.Engine, cause error) {
	h.mu.Lock()
	if h.current != e {
		h.mu.Unlock()
		return
	}
	h.current = nil
	hook := h.onDiscard
	h.mu.Unlock()

	attrs := []any{}
	if cause != nil {
		attrs = append(attrs, slog.String("error", cause.Error()))
	}
	h.logger.Error("torrent engine failed, it will be recreated on next use", attrs...)
	metrics.EngineFailuresTotal.Inc()

	if err := e.Close(); err != nil {
		h.logger.Warn("failed engine close error", slog.String("error", err.Error()))
	}
	if hook != nil {
		hook()
	}
}
