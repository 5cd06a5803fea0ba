package redis

import (
	"context"
	"log/slog"
	"time"

	"github.com/mailherd/mailherd/pkg/batch"
)

// recordTimeout bounds journal writes made from engine observers, which run
// without a caller context.
const recordTimeout = 2 * time.Second

// WrapSkipDone decorates fn so items recorded as successful in a previous
// run come back as skips instead of being processed again. Journal read
// failures are logged and treated as not-done — Redis trouble never stalls
// a run.
func WrapSkipDone[I, T any](j Journal, runKey string, keyFn func(I) string, fn batch.Func[I, T], logger *slog.Logger) batch.Func[I, T] {
	return func(ctx context.Context, item I, index int) (T, error) {
		key := keyFn(item)
		entry, err := j.Get(ctx, runKey, key)
		switch {
		case err != nil:
			logger.Warn("journal lookup failed, processing anyway",
				slog.String("run_key", runKey),
				slog.String("item_key", key),
				slog.String("error", err.Error()))
		case entry != nil && entry.Status == batch.StatusSuccess:
			var zero T
			return zero, batch.ErrSkip
		}
		return fn(ctx, item, index)
	}
}

// JournalObserver returns an engine observer that records every finished
// item under the key keyOf resolves for its index. Skips are not recorded:
// overwriting an earlier success with SKIPPED would erase the very record
// that caused the skip.
func JournalObserver[T any](j Journal, runKey string, keyOf func(int) string, logger *slog.Logger) func(batch.Outcome[T], int, int) {
	return func(oc batch.Outcome[T], _, _ int) {
		if oc.Status == batch.StatusSkipped {
			return
		}
		key := keyOf(oc.Index)
		ctx, cancel := context.WithTimeout(context.Background(), recordTimeout)
		defer cancel()
		entry := Entry{Status: oc.Status, Error: oc.Error, FinishedAt: oc.FinishedAt}
		if err := j.Record(ctx, runKey, key, entry); err != nil {
			logger.Warn("journal record failed",
				slog.String("run_key", runKey),
				slog.String("item_key", key),
				slog.String("error", err.Error()))
		}
	}
}
