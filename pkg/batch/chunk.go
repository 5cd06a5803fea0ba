package batch

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

const (
	// DefaultBatchSize is the chunk size used when ChunkOptions.BatchSize
	// is left zero.
	DefaultBatchSize = 10
	// DefaultChunkDelay is the pause between chunks used when
	// ChunkOptions.Delay is left zero.
	DefaultChunkDelay = time.Second
)

// ChunkOptions configures RunChunked.
type ChunkOptions[T any] struct {
	Options[T]
	// BatchSize is the number of items per chunk. Zero means
	// DefaultBatchSize.
	BatchSize int
	// Delay is the pause between consecutive chunks, applied only between
	// chunks and never after the final one. Zero means DefaultChunkDelay;
	// negative disables the pause.
	Delay time.Duration
}

// RunChunked executes fn over items in consecutive chunks of at most
// BatchSize, pausing Delay between chunks to pace burst-sensitive targets.
// Concurrency is additionally clamped to the chunk size. Outcome indexes
// and observer counts are run-global, not per-chunk.
//
// When ExitOnError trips or ctx is cancelled, the current chunk drains and
// every remaining item comes back SKIPPED, so the outcome-per-item
// guarantee of Run holds across chunk boundaries too.
func RunChunked[I, T any](ctx context.Context, items []I, fn Func[I, T], opts ChunkOptions[T]) ([]Outcome[T], error) {
	return runChunked(ctx, items, fn, opts, sleepBetween)
}

// runChunked exists so tests can observe the inter-chunk pauses without
// waiting on real timers.
func runChunked[I, T any](
	ctx context.Context,
	items []I,
	fn Func[I, T],
	opts ChunkOptions[T],
	sleep func(ctx context.Context, d time.Duration) error,
) ([]Outcome[T], error) {
	if err := validateConcurrency(opts.Concurrency); err != nil {
		return nil, err
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = DefaultBatchSize
	}
	switch {
	case opts.Delay == 0:
		opts.Delay = DefaultChunkDelay
	case opts.Delay < 0:
		opts.Delay = 0
	}
	if opts.Concurrency > opts.BatchSize {
		opts.Concurrency = opts.BatchSize
	}

	total := len(items)
	outcomes := make([]Outcome[T], 0, total)
	if total == 0 {
		return outcomes, nil
	}

	log := opts.logger()

	for start := 0; start < total; start += opts.BatchSize {
		end := min(start+opts.BatchSize, total)
		chunkStart := start

		chunkOpts := opts.Options
		if opts.OnProgress != nil {
			chunkOpts.OnProgress = func(oc Outcome[T], completed, _ int) {
				oc.Index += chunkStart
				opts.OnProgress(oc, chunkStart+completed, total)
			}
		}

		chunkOutcomes, err := Run(ctx, items[start:end], func(ctx context.Context, item I, index int) (T, error) {
			return fn(ctx, item, chunkStart+index)
		}, chunkOpts)

		for _, oc := range chunkOutcomes {
			oc.Index += chunkStart
			outcomes = append(outcomes, oc)
		}
		if err != nil {
			return drainSkipped(log, opts, outcomes, end, total), err
		}
		if opts.ExitOnError && anyFailed(chunkOutcomes) {
			return drainSkipped(log, opts, outcomes, end, total), nil
		}

		if end < total && opts.Delay > 0 {
			if err := sleep(ctx, opts.Delay); err != nil {
				return drainSkipped(log, opts, outcomes, end, total), err
			}
		}
	}
	return outcomes, nil
}

// drainSkipped finalizes every item from index `from` onward as SKIPPED,
// delivering the observer call each one is still owed.
func drainSkipped[T any](log *slog.Logger, opts ChunkOptions[T], outcomes []Outcome[T], from, total int) []Outcome[T] {
	for i := from; i < total; i++ {
		oc := skippedOutcome[T](i)
		outcomes = append(outcomes, oc)
		if opts.OnProgress != nil {
			notify(log, opts.OnProgress, oc, i+1, total)
		}
	}
	return outcomes
}

func anyFailed[T any](outcomes []Outcome[T]) bool {
	for _, oc := range outcomes {
		if oc.Status == StatusFailed {
			return true
		}
	}
	return false
}

// sleepBetween pauses for d or until ctx is cancelled.
func sleepBetween(ctx context.Context, d time.Duration) error {
	select {
	case <-time.After(d):
		return nil
	case <-ctx.Done():
		return fmt.Errorf("chunk delay aborted: %w", ctx.Err())
	}
}
