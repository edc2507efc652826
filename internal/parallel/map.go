package parallel

import (
	"context"
	"iter"

	"golang.org/x/sync/errgroup"
)

type result[D any] struct {
	d D
	e error
}

// Map calls mapFunc for every element of input, at most limit calls at a
// time, and yields the results in order of completion. Errors of mapFunc are
// yielded, they do not stop the other calls. Cancelled ctx stops starting
// new calls.
//
//	for d, err := range parallel.Map(ctx, 4, input, f) {}
func Map[E, D any](ctx context.Context, limit int, input []E, mapFunc func(context.Context, E) (D, error)) iter.Seq2[D, error] {
	return func(yield func(D, error) bool) {
		ctx, cancel := context.WithCancel(ctx)
		defer cancel()

		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(max(limit, 1))
		mapped := make(chan result[D], len(input))

		go func() {
			defer close(mapped)
			for _, e := range input {
				if gctx.Err() != nil {
					break
				}
				g.Go(func() error {
					d, err := mapFunc(gctx, e)
					mapped <- result[D]{d: d, e: err}
					return nil
				})
			}
			_ = g.Wait()
		}()

		for r := range mapped {
			if !yield(r.d, r.e) {
				cancel()
				// drain so the workers can finish
				for range mapped {
				}
				return
			}
		}
	}
}
