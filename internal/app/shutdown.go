package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"queryengine/internal/logging"
)

type release struct {
	name string
	fn   func(context.Context) error
}

// cleanupStack releases resources in the reverse of the order they were
// acquired.
type cleanupStack []release

func (s *cleanupStack) push(name string, fn func(context.Context) error) {
	*s = append(*s, release{name: name, fn: fn})
}

// run releases everything, logging and collecting each failure.
func (s cleanupStack) run(ctx context.Context, logger *logging.Logger) error {
	if logger == nil {
		logger = logging.Discard()
	}
	var errs []error
	for i := len(s) - 1; i >= 0; i-- {
		r := s[i]
		logger.Debug("releasing resource", slog.String("component", r.name))
		if err := r.fn(ctx); err != nil {
			logger.Warn("cleanup error", slog.String("component", r.name), slog.String("error", err.Error()))
			errs = append(errs, fmt.Errorf("%s: %w", r.name, err))
		}
	}
	return errors.Join(errs...)
}

// Shutdown releases the database and telemetry providers in reverse order
// of acquisition. The metrics textfile is written before the meter provider
// stops. Only the first call does any work; later calls return its result.
func (a *App) Shutdown(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	a.shutdownOnce.Do(func() {
		a.stateMu.Lock()
		cleanup := a.cleanup
		a.stateMu.Unlock()
		a.shutdownErr = cleanup.run(ctx, a.logger)
	})
	return a.shutdownErr
}
