package worker

import (
	"context"

	"golang.org/x/sync/errgroup"
)

// Pool runs a fixed number of independent workers
type Pool struct {
	workers []*Worker
}

// NewPool creates size workers sharing opts
func NewPool(size int, opts Options) *Pool {
	workers := make([]*Worker, size)
	for i := range workers {
		workers[i] = NewWorker(i+1, opts)
	}
	return &Pool{workers: workers}
}

// Size returns the number of workers
func (p *Pool) Size() int {
	return len(p.workers)
}

// States counts workers per loop state
func (p *Pool) States() map[string]int {
	counts := map[string]int{
		StateWaiting.String():    0,
		StateProcessing.String(): 0,
		StateReplying.String():   0,
	}
	for _, w := range p.workers {
		counts[w.State().String()]++
	}
	return counts
}

// Run starts every worker and blocks until all have stopped, which only
// happens once ctx is done.
func (p *Pool) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	for _, w := range p.workers {
		g.Go(func() error {
			err := w.Run(gctx)
			if ctx.Err() != nil {
				return nil
			}
			return err
		})
	}
	return g.Wait()
}
