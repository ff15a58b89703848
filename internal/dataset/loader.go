package dataset

import (
	"context"
	"errors"
	"math/rand"

	"github.com/samber/lo"
	"golang.org/x/sync/errgroup"
)

// LoaderOptions configures the prefetch pipeline.
type LoaderOptions struct {
	// Batches lists the source indices of each batch, in delivery order.
	Batches    [][]int
	NumWorkers int
}

// Batch is a fully decoded group of pairs.
type Batch struct {
	ID    int
	Pairs []Pair
}

// StartLoader decodes batches on NumWorkers goroutines and delivers them in
// order. A batch is sent only once every pair in it is decoded. The first
// failure stops the pipeline and is reported on the error channel before
// the batch channel closes.
func StartLoader(parent context.Context, src Source, opts LoaderOptions) (<-chan Batch, <-chan error, error) {
	if src == nil {
		return nil, nil, errors.New("loader: nil source")
	}
	for _, idx := range opts.Batches {
		if len(idx) == 0 {
			return nil, nil, errors.New("loader: empty batch")
		}
	}
	if opts.NumWorkers <= 0 {
		opts.NumWorkers = 1
	}

	ctx, cancel := context.WithCancel(parent)
	g, gctx := errgroup.WithContext(ctx)

	jobs := make(chan batchJob)
	done := make(chan Batch, opts.NumWorkers)
	out := make(chan Batch, opts.NumWorkers)
	errCh := make(chan error, 1)
	waitErr := make(chan error, 1)

	g.Go(func() error {
		defer close(jobs)
		for id, idx := range opts.Batches {
			select {
			case <-gctx.Done():
				return gctx.Err()
			case jobs <- batchJob{id: id, indices: idx}:
			}
		}
		return nil
	})
	for i := 0; i < opts.NumWorkers; i++ {
		g.Go(func() error {
			return worker(gctx, src, jobs, done)
		})
	}
	go func() {
		waitErr <- g.Wait()
		close(done)
	}()

	go func() {
		defer cancel()
		defer close(errCh)
		defer close(out)
		if !runAggregator(ctx, done, out) {
			return
		}
		if err := <-waitErr; err != nil && !errors.Is(err, context.Canceled) {
			errCh <- err
		}
	}()

	return out, errCh, nil
}

type batchJob struct {
	id      int
	indices []int
}

func worker(ctx context.Context, src Source, jobs <-chan batchJob, done chan<- Batch) error {
	for job := range jobs {
		b := Batch{ID: job.id, Pairs: make([]Pair, 0, len(job.indices))}
		for _, i := range job.indices {
			p, err := src.Pair(i)
			if err != nil {
				return err
			}
			b.Pairs = append(b.Pairs, p)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case done <- b:
		}
	}
	return nil
}

// runAggregator reorders finished batches by ID. It returns false if ctx
// ended first.
func runAggregator(ctx context.Context, done <-chan Batch, out chan<- Batch) bool {
	pending := make(map[int]Batch)
	next := 0
	for b := range done {
		pending[b.ID] = b
		for {
			nb, ok := pending[next]
			if !ok {
				break
			}
			select {
			case <-ctx.Done():
				return false
			case out <- nb:
			}
			delete(pending, next)
			next++
		}
	}
	return true
}

// BatchOrder shuffles [0, n) with rng and splits it into batches of at most
// size elements. The final batch may be short.
func BatchOrder(n, size int, rng *rand.Rand) [][]int {
	if n <= 0 || size <= 0 {
		return nil
	}
	return lo.Chunk(rng.Perm(n), size)
}
