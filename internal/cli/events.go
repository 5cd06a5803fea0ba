package cli

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"strings"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/mailherd/mailherd/internal/console"
	"github.com/mailherd/mailherd/internal/events"
)

var eventsCmd = &cobra.Command{
	Use:   "events",
	Short: "Work with the outcome event stream",
}

var eventsTailCmd = &cobra.Command{
	Use:   "tail",
	Short: "Print outcome events as they arrive",
	Long: `Tail consumes the outcome topic and prints one line per finished
item, starting from the earliest retained event. Useful for watching a run
from another terminal, or for replaying what happened while you were away.`,
	RunE: runEventsTail,
}

func init() {
	eventsTailCmd.Flags().String("events-brokers", "", "comma-separated Kafka brokers")
	eventsTailCmd.Flags().String("events-topic", events.DefaultTopic, "Kafka topic to follow")
	eventsCmd.AddCommand(eventsTailCmd)
}

func runEventsTail(cmd *cobra.Command, _ []string) error {
	cfg := loadConfig()
	logger := buildLogger(cfg.LogLevel, "events")

	if cfg.EventsBrokers == "" {
		return errors.New("--events-brokers is required")
	}

	ctx, cancel := signalContext(cmd.Context(), logger)
	defer cancel()

	// A unique group per invocation: tails never steal offsets from each
	// other or from a previous tail.
	group := "mailherd-tail-" + uuid.New().String()[:8]
	consumer := events.NewConsumer(strings.Split(cfg.EventsBrokers, ","), cfg.EventsTopic, group, logger)
	defer consumer.Close() //nolint:errcheck

	printer := console.New(os.Stdout)
	printer.Headline("tailing " + cfg.EventsTopic + " (ctrl-c to stop)")

	return consumer.Subscribe(ctx, func(_ context.Context, msg events.Message) error {
		ev, err := events.DecodeOutcome(msg.Value)
		if err != nil {
			logger.Warn("undecodable event skipped",
				slog.Int64("offset", msg.Offset),
				slog.String("error", err.Error()),
			)
			return nil
		}
		printer.Line(ev.Status, ev.Command+" "+ev.ItemKey, ev.Error, ev.DurationMs, 0, 0)
		return nil
	})
}
