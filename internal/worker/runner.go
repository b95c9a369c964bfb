package worker

import (
	"context"
	"fmt"
	"log/slog"

	"golang.org/x/sync/errgroup"
)

// Runner runs a fixed set of workers side by side.
type Runner struct {
	workers []Worker
}

// NewRunner creates a Runner with the given workers.
func NewRunner(workers ...Worker) *Runner {
	return &Runner{workers: workers}
}

// Run blocks until every worker returns. The first failure cancels the rest
// and is returned wrapped with the failing worker's name.
func (r *Runner) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	for _, w := range r.workers {
		name := workerName(w)
		g.Go(func() error {
			slog.LogAttrs(ctx, slog.LevelInfo, "worker started", slog.String("worker", name))
			if err := w.Run(ctx); err != nil {
				slog.LogAttrs(ctx, slog.LevelError, "worker failed",
					slog.String("worker", name),
					slog.String("error", err.Error()),
				)
				return fmt.Errorf("%s: %w", name, err)
			}
			slog.LogAttrs(ctx, slog.LevelInfo, "worker stopped", slog.String("worker", name))
			return nil
		})
	}
	return g.Wait()
}

func workerName(w Worker) string {
	if n, ok := w.(named); ok {
		return n.Name()
	}
	return fmt.Sprintf("%T", w)
}
