package config

import (
	"time"

	"github.com/spf13/viper"
)

// Config holds typed configuration for the mailherd CLI. Values resolve
// CLI flag > config file > flag default; keys are the flag names with
// dashes replaced by underscores.
type Config struct {
	LogLevel string

	// hosting panel
	Provider      string
	PanelURL      string
	PanelUser     string
	PanelToken    string
	PanelInsecure bool
	PanelTimeout  time.Duration
	APIRateLimit  int
	APIRateWindow time.Duration

	// engine
	Concurrency  int
	ExitOnError  bool
	Debug        bool
	ItemTimeout  time.Duration
	DryRun       bool
	StrictSkips  bool
	BatchSize    int
	BatchDelay   time.Duration
	SkipExisting bool

	// integrations (each off while its address/DSN is empty)
	JournalAddr   string
	JournalKey    string
	JournalFresh  bool
	AuditDSN      string
	EventsBrokers string
	EventsTopic   string
	MetricsAddr   string
	OTelEndpoint  string

	// results archive
	ArchiveS3Endpoint  string
	ArchiveS3Region    string
	ArchiveS3Bucket    string
	ArchiveS3Prefix    string
	ArchiveS3AccessKey string
	ArchiveS3SecretKey string

	// imapsync
	SyncBinary    string
	SyncDocker    bool
	SyncImage     string
	SyncLogDir    string
	SyncExtraArgs []string
	SyncDryRun    bool
	Schedule      string
}

// Load reads all values from the given viper instance.
func Load(v *viper.Viper) Config {
	return Config{
		LogLevel: v.GetString("log_level"),

		Provider:      v.GetString("provider"),
		PanelURL:      v.GetString("panel_url"),
		PanelUser:     v.GetString("panel_user"),
		PanelToken:    v.GetString("panel_token"),
		PanelInsecure: v.GetBool("panel_insecure"),
		PanelTimeout:  v.GetDuration("panel_timeout"),
		APIRateLimit:  v.GetInt("api_rate_limit"),
		APIRateWindow: v.GetDuration("api_rate_window"),

		Concurrency:  v.GetInt("concurrency"),
		ExitOnError:  v.GetBool("exit_on_error"),
		Debug:        v.GetBool("debug"),
		ItemTimeout:  v.GetDuration("item_timeout"),
		DryRun:       v.GetBool("dry_run"),
		StrictSkips:  v.GetBool("strict_skips"),
		BatchSize:    v.GetInt("batch_size"),
		BatchDelay:   v.GetDuration("batch_delay"),
		SkipExisting: v.GetBool("skip_existing"),

		JournalAddr:   v.GetString("journal_addr"),
		JournalKey:    v.GetString("journal_key"),
		JournalFresh:  v.GetBool("journal_fresh"),
		AuditDSN:      v.GetString("audit_dsn"),
		EventsBrokers: v.GetString("events_brokers"),
		EventsTopic:   v.GetString("events_topic"),
		MetricsAddr:   v.GetString("metrics_addr"),
		OTelEndpoint:  v.GetString("otel_endpoint"),

		ArchiveS3Endpoint:  v.GetString("archive_s3_endpoint"),
		ArchiveS3Region:    v.GetString("archive_s3_region"),
		ArchiveS3Bucket:    v.GetString("archive_s3_bucket"),
		ArchiveS3Prefix:    v.GetString("archive_s3_prefix"),
		ArchiveS3AccessKey: v.GetString("archive_s3_access_key"),
		ArchiveS3SecretKey: v.GetString("archive_s3_secret_key"),

		SyncBinary:    v.GetString("sync_binary"),
		SyncDocker:    v.GetBool("sync_docker"),
		SyncImage:     v.GetString("sync_image"),
		SyncLogDir:    v.GetString("sync_log_dir"),
		SyncExtraArgs: v.GetStringSlice("sync_extra_args"),
		SyncDryRun:    v.GetBool("sync_dry_run"),
		Schedule:      v.GetString("schedule"),
	}
}
