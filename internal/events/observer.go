package events

import (
	"context"
	"log/slog"
	"time"

	"github.com/mailherd/mailherd/pkg/batch"
)

// publishTimeout bounds event publishes made from engine observers, which
// run without a caller context.
const publishTimeout = 5 * time.Second

// Observer returns an engine observer that publishes every finished item as
// an OutcomeEvent. Publish failures are logged, never propagated: losing an
// event must not fail the mailbox work it describes.
func Observer[T any](pub Publisher, topic, runID, command string, keyOf func(int) string, logger *slog.Logger) func(batch.Outcome[T], int, int) {
	return func(oc batch.Outcome[T], _, _ int) {
		ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
		defer cancel()
		ev := OutcomeEvent{
			RunID:      runID,
			Command:    command,
			ItemKey:    keyOf(oc.Index),
			Status:     oc.Status,
			Error:      oc.Error,
			DurationMs: oc.DurationMs,
			FinishedAt: oc.FinishedAt,
		}
		if err := pub.PublishOutcome(ctx, topic, ev); err != nil {
			logger.Warn("outcome event publish failed",
				slog.String("topic", topic),
				slog.String("item_key", ev.ItemKey),
				slog.String("error", err.Error()))
		}
	}
}
