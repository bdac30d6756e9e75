package backtest

import (
	"context"
	"fmt"
	"runtime"

	"golang.org/x/sync/errgroup"

	"strategylab/internal/domain"
	"strategylab/internal/strategy"
)

// Sweep runs every config over the same bars concurrently, at most workers
// at a time (GOMAXPROCS when workers <= 0). Each run gets its own
// Simulator. Results are returned in config order; the first error cancels
// the remaining runs.
func Sweep(ctx context.Context, bars []domain.Bar, configs []strategy.Config, opts Options, workers int) ([]*Result, error) {
	if err := domain.ValidateBars(bars); err != nil {
		return nil, err
	}
	sims := make([]*Simulator, len(configs))
	for i, cfg := range configs {
		sim, err := New(cfg, opts)
		if err != nil {
			return nil, fmt.Errorf("config %d (%s): %w", i, cfg.Name, err)
		}
		sims[i] = sim
	}

	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}
	results := make([]*Result, len(configs))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for i, sim := range sims {
		i, sim := i, sim
		g.Go(func() error {
			res, err := sim.Run(gctx, bars)
			if err != nil {
				return fmt.Errorf("%s: %w", sim.cfg.Name, err)
			}
			results[i] = res
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}
