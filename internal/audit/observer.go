package audit

import (
	"context"
	"log/slog"
	"time"

	"github.com/mailherd/mailherd/pkg/batch"
)

// recordTimeout bounds audit writes made from engine observers, which run
// without a caller context.
const recordTimeout = 5 * time.Second

// ItemObserver returns an engine observer that appends every finished item
// to the audit trail. Unlike the resume journal, skips are recorded too: the
// trail answers "what happened on this run", not "what can the next run
// avoid". Write failures are logged, never propagated.
func ItemObserver[T any](repo Repository, runID string, keyOf func(int) string, logger *slog.Logger) func(batch.Outcome[T], int, int) {
	return func(oc batch.Outcome[T], _, _ int) {
		ctx, cancel := context.WithTimeout(context.Background(), recordTimeout)
		defer cancel()
		item := &Item{
			RunID:      runID,
			ItemIndex:  oc.Index,
			ItemKey:    keyOf(oc.Index),
			Status:     oc.Status,
			Error:      oc.Error,
			DurationMs: oc.DurationMs,
			FinishedAt: oc.FinishedAt,
		}
		if err := repo.RecordItem(ctx, item); err != nil {
			logger.Warn("audit record failed",
				slog.String("run_id", runID),
				slog.String("item_key", item.ItemKey),
				slog.String("error", err.Error()))
		}
	}
}
