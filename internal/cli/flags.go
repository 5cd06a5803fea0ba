package cli

import (
	"time"

	"github.com/spf13/cobra"

	"github.com/mailherd/mailherd/internal/events"
)

// addEngineFlags registers the scheduling knobs shared by every batch
// command. Panel operations default to 3 concurrent calls; sync passes 1
// because imapsync already saturates a connection per process.
func addEngineFlags(cmd *cobra.Command, defaultConcurrency int) {
	cmd.Flags().Int("concurrency", defaultConcurrency, "max items in flight at once (≥ 1)")
	cmd.Flags().Bool("exit-on-error", false, "stop dispatching new items after the first failure (in-flight items drain)")
	cmd.Flags().Bool("debug", false, "log every item outcome")
	cmd.Flags().Duration("item-timeout", 0, "per-item timeout (0 = none)")
	cmd.Flags().Bool("dry-run", false, "resolve and report items without touching anything")
	cmd.Flags().Bool("strict-skips", false, "treat skipped items as failures for the exit code")
}

// addPanelFlags registers the hosting-panel connection flags used by the
// scan, create and reset commands.
func addPanelFlags(cmd *cobra.Command) {
	cmd.Flags().String("provider", "cpanel", "hosting panel type: cpanel | aapanel")
	cmd.Flags().String("panel-url", "", "panel base URL (e.g. https://host:2083)")
	cmd.Flags().String("panel-user", "", "panel account username (cPanel only)")
	cmd.Flags().String("panel-token", "", "panel API token / key (prompted when empty)")
	cmd.Flags().Bool("panel-insecure", false, "skip TLS verification for self-signed panels")
	cmd.Flags().Duration("panel-timeout", 30*time.Second, "HTTP timeout per panel call")
	cmd.Flags().Int("api-rate-limit", 0, "max panel calls per window, shared via Redis (0 = unlimited)")
	cmd.Flags().Duration("api-rate-window", time.Minute, "rate limit window")
}

// addIntegrationFlags registers the optional journal, audit, events,
// metrics and archive wiring. Every integration stays off while its
// address, DSN or bucket is empty.
func addIntegrationFlags(cmd *cobra.Command) {
	cmd.Flags().String("journal-addr", "", "Redis address for the resume journal (empty = no journal)")
	cmd.Flags().String("journal-key", "", "journal run key (default: <command>:<input file>)")
	cmd.Flags().Bool("journal-fresh", false, "clear the run's journal entries before starting")
	cmd.Flags().String("audit-dsn", "", "PostgreSQL DSN for the audit trail (empty = no audit)")
	cmd.Flags().String("events-brokers", "", "comma-separated Kafka brokers for outcome events (empty = no events)")
	cmd.Flags().String("events-topic", events.DefaultTopic, "Kafka topic for outcome events")
	cmd.Flags().String("metrics-addr", "", "status/metrics server address, e.g. :9090 (empty = no server)")
	cmd.Flags().String("otel-endpoint", "", "OTLP HTTP endpoint for tracing (e.g. localhost:4318); empty disables tracing")
	cmd.Flags().String("archive-s3-endpoint", "", "S3-compatible endpoint for results archiving (empty = AWS default)")
	cmd.Flags().String("archive-s3-region", "us-east-1", "S3 region")
	cmd.Flags().String("archive-s3-bucket", "", "S3 bucket for results CSVs (empty = no archiving)")
	cmd.Flags().String("archive-s3-prefix", "runs", "S3 key prefix for archived results")
	cmd.Flags().String("archive-s3-access-key", "", "S3 access key (empty = ambient AWS credentials)")
	cmd.Flags().String("archive-s3-secret-key", "", "S3 secret key")
}
