package batch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

// ErrSkip marks an item as deliberately skipped. A Func returns it (or an
// error wrapping it) to produce a SKIPPED outcome instead of a FAILED one.
var ErrSkip = errors.New("batch: item skipped")

// ErrInvalidConcurrency is returned when a run is configured with a
// concurrency below 1.
var ErrInvalidConcurrency = errors.New("batch: concurrency must be at least 1")

// Func executes one item. index is the item's position in the input slice.
// A nil error yields a SUCCESS outcome, ErrSkip a SKIPPED one, any other
// error a FAILED one.
type Func[I, T any] func(ctx context.Context, item I, index int) (T, error)

// Options configures a run.
type Options[T any] struct {
	// Concurrency caps how many items execute at once. Required, must be ≥ 1.
	Concurrency int
	// ExitOnError stops dispatching new items after the first FAILED
	// outcome. In-flight items drain normally; undispatched items finish
	// SKIPPED without their Func being called.
	ExitOnError bool
	// Debug enables per-item progress logging.
	Debug bool
	// ItemTimeout bounds each Func invocation with a per-item context
	// deadline. Zero means no timeout.
	ItemTimeout time.Duration
	// Logger receives progress and warning lines. Defaults to slog.Default().
	Logger *slog.Logger
	// OnProgress is invoked exactly once per item after its outcome is
	// final, with the run-wide completed count and total. Deliveries are
	// serialized on a dedicated goroutine; a slow or panicking observer
	// never blocks dispatch or fails the run.
	OnProgress func(oc Outcome[T], completed, total int)
}

func (o Options[T]) logger() *slog.Logger {
	if o.Logger != nil {
		return o.Logger
	}
	return slog.Default()
}

func validateConcurrency(n int) error {
	if n < 1 {
		return fmt.Errorf("%w: got %d", ErrInvalidConcurrency, n)
	}
	return nil
}

// Run executes fn over every item with at most opts.Concurrency in flight,
// claiming items in input order. It returns exactly one Outcome per item,
// indexed by input position, no matter how individual items fail.
//
// Per-item errors and panics never make Run itself fail; the returned error
// is non-nil only for invalid options, or ctx.Err() when the context was
// cancelled. Cancellation drains: in-flight items finish, undispatched
// items come back SKIPPED, and all outcomes are still returned.
func Run[I, T any](ctx context.Context, items []I, fn Func[I, T], opts Options[T]) ([]Outcome[T], error) {
	if err := validateConcurrency(opts.Concurrency); err != nil {
		return nil, err
	}

	total := len(items)
	outcomes := make([]Outcome[T], total)
	if total == 0 {
		return outcomes, nil
	}

	log := opts.logger()

	// One notifier goroutine delivers observer calls in completion order.
	var (
		notifyCh   chan Outcome[T]
		notifyDone chan struct{}
	)
	if opts.OnProgress != nil {
		notifyCh = make(chan Outcome[T], total)
		notifyDone = make(chan struct{})
		go func() {
			defer close(notifyDone)
			completed := 0
			for oc := range notifyCh {
				completed++
				notify(log, opts.OnProgress, oc, completed, total)
			}
		}()
	}

	var (
		cursor atomic.Int64 // next input index to claim
		halted atomic.Bool  // first failure seen with ExitOnError set
		wg     sync.WaitGroup
	)

	workers := min(opts.Concurrency, total)
	wg.Add(workers)
	for w := 0; w < workers; w++ {
		go func() {
			defer wg.Done()
			for {
				idx := int(cursor.Add(1)) - 1
				if idx >= total {
					return
				}

				var oc Outcome[T]
				switch {
				case opts.ExitOnError && halted.Load():
					oc = skippedOutcome[T](idx)
				case ctx.Err() != nil:
					oc = skippedOutcome[T](idx)
				default:
					oc = execute(ctx, items[idx], idx, fn, opts)
				}

				if oc.Status == StatusFailed && opts.ExitOnError && halted.CompareAndSwap(false, true) {
					log.Warn("item failed with exit-on-error set, draining in-flight items",
						slog.Int("index", idx),
						slog.String("error", oc.Error),
					)
				}

				outcomes[idx] = oc
				if opts.Debug {
					log.Debug("item finished",
						slog.Int("index", idx),
						slog.String("status", string(oc.Status)),
						slog.Int64("duration_ms", oc.DurationMs),
					)
				}
				if notifyCh != nil {
					notifyCh <- oc
				}
			}
		}()
	}

	wg.Wait()
	if notifyCh != nil {
		close(notifyCh)
		<-notifyDone
	}

	if err := ctx.Err(); err != nil {
		return outcomes, err
	}
	return outcomes, nil
}

// execute runs fn for a single item and converts its result, error, or
// panic into an Outcome.
func execute[I, T any](ctx context.Context, item I, index int, fn Func[I, T], opts Options[T]) (oc Outcome[T]) {
	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			oc = Outcome[T]{
				Index:      index,
				Status:     StatusFailed,
				Error:      fmt.Sprintf("panic: %v", r),
				FinishedAt: time.Now().UTC(),
				DurationMs: time.Since(start).Milliseconds(),
			}
		}
	}()

	itemCtx := ctx
	if opts.ItemTimeout > 0 {
		var cancel context.CancelFunc
		itemCtx, cancel = context.WithTimeout(ctx, opts.ItemTimeout)
		defer cancel()
	}

	value, err := fn(itemCtx, item, index)
	oc = Outcome[T]{
		Index:      index,
		FinishedAt: time.Now().UTC(),
		DurationMs: time.Since(start).Milliseconds(),
	}
	switch {
	case err == nil:
		oc.Status = StatusSuccess
		oc.Value = value
	case errors.Is(err, ErrSkip):
		oc.Status = StatusSkipped
	default:
		oc.Status = StatusFailed
		oc.Error = err.Error()
	}
	return oc
}

func skippedOutcome[T any](index int) Outcome[T] {
	return Outcome[T]{
		Index:      index,
		Status:     StatusSkipped,
		FinishedAt: time.Now().UTC(),
	}
}

// notify delivers one observer call, containing any panic it raises.
func notify[T any](log *slog.Logger, fn func(Outcome[T], int, int), oc Outcome[T], completed, total int) {
	defer func() {
		if r := recover(); r != nil {
			log.Warn("progress observer panicked",
				slog.Any("panic", r),
				slog.Int("index", oc.Index),
			)
		}
	}()
	fn(oc, completed, total)
}
