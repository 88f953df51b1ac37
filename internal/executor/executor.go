// Package executor implements a bounded worker pool shared across the
// Image, Audio, and Motion stages so that no stage can oversubscribe
// ffmpeg, the filesystem, or a provider's rate limit. Jobs fan out over a
// buffered semaphore and are tracked with golang.org/x/sync/errgroup
// rather than a raw sync.WaitGroup. One job's error neither cancels nor
// aborts its siblings: each error is returned in that job's own result
// slot.
package executor

import (
	"context"
	"time"

	"golang.org/x/sync/errgroup"
)

// Pool bounds concurrent work to a fixed number of in-flight slots. One
// Pool is created per concurrency class (images, audio, motion) per
// resource model.
type Pool struct {
	limit int
}

// New returns a Pool that allows at most limit concurrent jobs. A limit
// <= 0 is treated as 1 so a misconfigured stage degrades to serial
// execution instead of panicking.
func New(limit int) *Pool {
	if limit <= 0 {
		limit = 1
	}
	return &Pool{limit: limit}
}

// Result is one slot's outcome from a Map call, preserving input order so
// callers can report per-scene/per-line success or failure without a
// secondary index.
type Result[O any] struct {
	Value O
	Err   error
}

// Map runs fn over every item in items with at most p.limit concurrently
// in flight, and returns one Result per item in input order. It does not
// abort the batch when one item's fn returns an error — every item always
// gets a slot — since stages need to know which specific scenes failed
// rather than aborting the whole batch. Per-item transient
// retries live inside fn itself, not here.
func Map[I, O any](ctx context.Context, p *Pool, items []I, fn func(ctx context.Context, item I) (O, error)) []Result[O] {
	results := make([]Result[O], len(items))
	sem := make(chan struct{}, p.limit)
	g, gctx := errgroup.WithContext(context.Background())
	_ = gctx // each job uses the caller's ctx, not the group's, so one item's
	// cancellation-on-error doesn't cut off the others' independent work

	for i, item := range items {
		i, item := i, item
		g.Go(func() error {
			select {
			case sem <- struct{}{}:
			case <-ctx.Done():
				results[i] = Result[O]{Err: ctx.Err()}
				return nil
			}
			defer func() { <-sem }()

			val, err := fn(ctx, item)
			results[i] = Result[O]{Value: val, Err: err}
			return nil
		})
	}
	_ = g.Wait() // fn errors are carried in results, not the group's return
	return results
}

// BackoffPolicy parameterizes the submit-all-then-poll loop's exponential
// backoff: poll each in-flight job with a growing delay until all are
// terminal, rather than blocking on one job at a time.
type BackoffPolicy struct {
	Initial    time.Duration
	Multiplier float64
	Max        time.Duration
}

// DefaultBackoff matches an xAI-style polling cadence: start at 2s,
// grow by 1.5x each round, cap at 30s.
var DefaultBackoff = BackoffPolicy{Initial: 2 * time.Second, Multiplier: 1.5, Max: 30 * time.Second}

func (b BackoffPolicy) next(cur time.Duration) time.Duration {
	n := time.Duration(float64(cur) * b.Multiplier)
	if n > b.Max {
		n = b.Max
	}
	return n
}
