package shutdown

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"
)

// StepFunc is one shutdown step.
type StepFunc func(context.Context) error

type step struct {
	name string
	fn   StepFunc
}

// Handler runs registered steps once a stop signal arrives.
type Handler struct {
	timeout time.Duration
	logger  *slog.Logger

	mu    sync.Mutex
	steps []step

	once sync.Once
	err  error
	done chan struct{}
}

// NewHandler creates a handler whose steps share one timeout.
func NewHandler(timeout time.Duration, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		timeout: timeout,
		logger:  logger.With("component", "shutdown"),
		done:    make(chan struct{}),
	}
}

// Step appends a named step. Steps run in the order they are added.
func (h *Handler) Step(name string, fn StepFunc) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.steps = append(h.steps, step{name: name, fn: fn})
}

// Wait blocks until SIGINT, SIGTERM or ctx cancellation, then runs the
// steps and returns their joined errors.
func (h *Handler) Wait(ctx context.Context) error {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	select {
	case sig := <-sigCh:
		h.logger.Info("shutdown signal received", "signal", sig.String())
	case <-ctx.Done():
		h.logger.Info("shutdown requested")
	}
	return h.Run()
}

// Run executes the steps once. Later calls return the first result.
func (h *Handler) Run() error {
	h.once.Do(func() {
		defer close(h.done)

		ctx, cancel := context.WithTimeout(context.Background(), h.timeout)
		defer cancel()

		h.mu.Lock()
		steps := append([]step(nil), h.steps...)
		h.mu.Unlock()

		var errs []error
		for _, s := range steps {
			start := time.Now()
			if err := s.fn(ctx); err != nil {
				h.logger.Error("shutdown step failed", "step", s.name, "error", err)
				errs = append(errs, fmt.Errorf("%s: %w", s.name, err))
				continue
			}
			h.logger.Debug("shutdown step done", "step", s.name, "duration", time.Since(start))
		}
		h.err = errors.Join(errs...)
		h.logger.Info("shutdown complete")
	})
	return h.err
}

// Done is closed once the steps have run.
func (h *Handler) Done() <-chan struct{} {
	return h.done
}

// Sleep waits d or until ctx ends.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
