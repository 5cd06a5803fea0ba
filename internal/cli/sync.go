package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/mailherd/mailherd/internal/csvio"
	"github.com/mailherd/mailherd/internal/domain"
	"github.com/mailherd/mailherd/internal/imapsync"
	redisstore "github.com/mailherd/mailherd/internal/redis"
	"github.com/mailherd/mailherd/pkg/batch"
)

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Migrate mailboxes between IMAP servers with imapsync",
	Long: `Sync runs one imapsync process per row of the jobs CSV (columns:
host1, user1, password1, host2, user2, password2, plus optional ports and
ssl flags). Passwords travel via owner-only temp files, never on the
command line.

With --schedule the command stays up and fires the whole job file at each
cron time, so nightly incremental syncs keep converging until cutover day.`,
	RunE: runSync,
}

func init() {
	syncCmd.Flags().StringP("jobs-file", "f", "", "CSV file with the transfers to run")
	syncCmd.Flags().String("sync-binary", "", "imapsync executable (default: imapsync on PATH)")
	syncCmd.Flags().Bool("sync-docker", false, "run imapsync via docker instead of a local binary")
	syncCmd.Flags().String("sync-image", "", "docker image for --sync-docker (default: "+imapsync.DefaultImage+")")
	syncCmd.Flags().String("sync-log-dir", "", "directory for per-transfer logs (empty = discard)")
	syncCmd.Flags().StringArray("sync-extra-args", nil, "extra imapsync arguments, repeatable")
	syncCmd.Flags().Bool("sync-dry-run", false, "pass imapsync's own --dry flag (connects, transfers nothing)")
	syncCmd.Flags().String("schedule", "", `cron expression; keep firing the job file on schedule (e.g. "0 2 * * *")`)

	addEngineFlags(syncCmd, 1)
	addIntegrationFlags(syncCmd)
}

func runSync(cmd *cobra.Command, _ []string) error {
	cfg := loadConfig()
	logger := buildLogger(cfg.LogLevel, "sync")

	file := viper.GetString("jobs_file")
	if file == "" {
		return errors.New("--jobs-file is required")
	}
	jobs, err := csvio.ReadSyncJobs(file)
	if err != nil {
		return err
	}
	if len(jobs) == 0 {
		return fmt.Errorf("%s: no sync jobs found", file)
	}

	ctx, cancel := signalContext(cmd.Context(), logger)
	defer cancel()

	env, err := newRunEnv(ctx, cfg, logger, "sync")
	if err != nil {
		return err
	}
	defer env.Close()

	runner := &imapsync.Runner{
		Binary:    cfg.SyncBinary,
		UseDocker: cfg.SyncDocker,
		Image:     cfg.SyncImage,
		LogDir:    cfg.SyncLogDir,
		ExtraArgs: cfg.SyncExtraArgs,
		DryRun:    cfg.SyncDryRun,
		Logger:    logger,
	}

	tool := cfg.SyncBinary
	if tool == "" {
		tool = imapsync.DefaultBinary
	}
	if cfg.SyncDocker {
		tool = cfg.SyncImage
		if tool == "" {
			tool = imapsync.DefaultImage
		}
	}

	keyOf := func(i int) string { return jobs[i].Describe() }

	// fire runs the whole job file once. Each firing gets its own run
	// identity, so the work function and observers are rebuilt here.
	fire := func(ctx context.Context, runKey string) (batch.Summary, error) {
		if err := env.beginRun(ctx, runKey, len(jobs)); err != nil {
			return batch.Summary{}, err
		}

		fn := syncFunc(runner)
		if cfg.DryRun {
			fn = skipEverything[domain.SyncJob, domain.SyncResult]
		}
		if env.journal != nil {
			fn = redisstore.WrapSkipDone(env.journal, env.runKey,
				func(job domain.SyncJob) string { return job.Describe() }, fn, logger)
		}
		fn = instrument("sync", fn)

		env.printer.Headline(fmt.Sprintf("syncing %d mailboxes via %s", len(jobs), tool))
		outcomes, runErr := batch.Run(ctx, jobs, fn, engineOptions[domain.SyncResult](env, keyOf))
		summary := batch.Summarize(outcomes)
		env.finish(summary, runErr)
		if runErr != nil {
			return summary, fmt.Errorf("sync interrupted: %w", runErr)
		}
		return summary, nil
	}

	if cfg.Schedule == "" {
		summary, err := fire(ctx, env.effectiveRunKey(file))
		if err != nil {
			return err
		}
		return env.exitError(summary)
	}

	sched, err := cron.ParseStandard(cfg.Schedule)
	if err != nil {
		return fmt.Errorf("parse --schedule %q: %w", cfg.Schedule, err)
	}
	logger.Info("sync scheduler started", slog.String("schedule", cfg.Schedule))

	for {
		next := sched.Next(time.Now())
		logger.Info("next sync firing", slog.Time("at", next))
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(time.Until(next)):
		}

		// The firing date joins the run key: rerunning the same day resumes
		// through the journal, the next day starts clean.
		summary, err := fire(ctx, env.effectiveRunKey(file)+":"+next.Format("20060102"))
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
		if exitErr := env.exitError(summary); exitErr != nil {
			logger.Warn("sync firing had failures", slog.String("result", exitErr.Error()))
		}
	}
}

// syncFunc adapts the imapsync runner to the engine. A non-zero imapsync
// exit surfaces as the item's error; the runner has already logged the
// log location and exit code.
func syncFunc(runner *imapsync.Runner) batch.Func[domain.SyncJob, domain.SyncResult] {
	return func(ctx context.Context, job domain.SyncJob, _ int) (domain.SyncResult, error) {
		res, err := runner.Run(ctx, job)
		if err != nil {
			return domain.SyncResult{Job: job}, err
		}
		return domain.SyncResult{Job: job, LogPath: res.LogPath}, nil
	}
}
