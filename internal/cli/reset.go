package cli

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/mailherd/mailherd/internal/console"
	"github.com/mailherd/mailherd/internal/csvio"
	"github.com/mailherd/mailherd/internal/domain"
	"github.com/mailherd/mailherd/internal/panel"
	redisstore "github.com/mailherd/mailherd/internal/redis"
	"github.com/mailherd/mailherd/internal/secret"
	"github.com/mailherd/mailherd/pkg/batch"
)

var resetCmd = &cobra.Command{
	Use:   "reset",
	Short: "Rotate the password of every mailbox in the given domains",
	Long: `Reset scans the hosting panel for the mailboxes of each domain, then
sets a freshly generated password on every one found. The new passwords are
written to the --out CSV; without that file they would be unrecoverable.

A domain whose scan fails is reported and left untouched. With --dry-run the
scan still runs but every reset is skipped.`,
	RunE: runReset,
}

func init() {
	resetCmd.Flags().StringP("domains-file", "d", "", "CSV file with a domain column")
	resetCmd.Flags().String("domains", "", "comma-separated domains (alternative to --domains-file)")
	resetCmd.Flags().String("out", "reset-results.csv", "write the new passwords to this CSV (0600)")

	addEngineFlags(resetCmd, 3)
	addPanelFlags(resetCmd)
	addIntegrationFlags(resetCmd)
}

func runReset(cmd *cobra.Command, _ []string) error {
	cfg := loadConfig()
	logger := buildLogger(cfg.LogLevel, "reset")

	domains, input, err := loadDomains()
	if err != nil {
		return err
	}
	out := viper.GetString("out")
	if out == "" {
		return errors.New("--out is required: the rotated passwords are only recoverable from the results CSV")
	}

	ctx, cancel := signalContext(cmd.Context(), logger)
	defer cancel()

	env, err := newRunEnv(ctx, cfg, logger, "reset")
	if err != nil {
		return err
	}
	defer env.Close()

	client, err := env.panelClient(ctx)
	if err != nil {
		return err
	}

	// Total stays 0 here: how many mailboxes exist is only known once the
	// scan phase is done, and the tracker should count resets, not scans.
	if err := env.beginRun(ctx, env.effectiveRunKey(input), 0); err != nil {
		return err
	}

	scanFn := func(ctx context.Context, dom string, _ int) ([]domain.Mailbox, error) {
		return client.ListMailboxes(ctx, dom)
	}

	processFn := resetFunc(client)
	if cfg.DryRun {
		processFn = skipEverything[domain.Mailbox, domain.ResetResult]
	}
	if env.journal != nil {
		processFn = redisstore.WrapSkipDone(env.journal, env.runKey,
			func(box domain.Mailbox) string { return box.Address() }, processFn, logger)
	}
	processFn = instrument("reset", processFn)

	// flattened mirrors the pipeline's process items; the process observers
	// resolve item keys through it. Extract runs before phase two starts.
	var flattened []domain.Mailbox
	keyOf := func(i int) string { return flattened[i].Address() }

	opts := batch.PipelineOptions[string, domain.Mailbox, domain.ResetResult]{
		Scan: batch.Options[[]domain.Mailbox]{
			Concurrency: cfg.Concurrency,
			ExitOnError: cfg.ExitOnError,
			Debug:       cfg.Debug,
			ItemTimeout: cfg.ItemTimeout,
			Logger:      logger,
			OnProgress:  console.Observer[[]domain.Mailbox](env.printer, func(i int) string { return domains[i] }),
		},
		Process: engineOptions[domain.ResetResult](env, keyOf),
		Extract: func(_ string, oc batch.Outcome[[]domain.Mailbox]) []domain.Mailbox {
			flattened = append(flattened, oc.Value...)
			return oc.Value
		},
	}

	env.printer.Headline(fmt.Sprintf("scanning %d domains on %s, resetting every mailbox found",
		len(domains), client.Provider()))
	res, runErr := batch.ScanThenProcess(ctx, domains, scanFn, processFn, opts)
	if res == nil {
		return runErr
	}
	summary := batch.Summarize(res.ProcessResults)

	if failed := failedScans(res.ScanRecords); failed > 0 {
		env.printer.Headline(fmt.Sprintf("%d of %d domain scans failed, their mailboxes were not touched",
			failed, len(domains)))
	}

	if rows := resetRows(res.ProcessResults); len(rows) > 0 {
		if err := csvio.WriteSecretRows(out, []string{"email", "new_password"}, rows); err != nil {
			return fmt.Errorf("write %s: %w", out, err)
		}
		logger.Info("rotated credentials exported", "path", out, "count", len(rows))
		env.archiveResults(out)
	}

	env.finish(summary, runErr)
	if runErr != nil {
		return fmt.Errorf("reset interrupted: %w", runErr)
	}
	return env.exitError(summary)
}

// resetFunc rotates one mailbox. The password is generated here rather than
// up front because the mailbox list does not exist until the scan is done.
func resetFunc(client panel.Client) batch.Func[domain.Mailbox, domain.ResetResult] {
	return func(ctx context.Context, box domain.Mailbox, _ int) (domain.ResetResult, error) {
		pw, err := secret.GeneratePassword(generatedPasswordLength)
		if err != nil {
			return domain.ResetResult{}, fmt.Errorf("generate password: %w", err)
		}
		if err := client.ResetPassword(ctx, box, pw); err != nil {
			return domain.ResetResult{}, err
		}
		return domain.ResetResult{Mailbox: box, NewPassword: pw}, nil
	}
}

func failedScans[S, P any](records []batch.ScanRecord[S, P]) int {
	n := 0
	for _, rec := range records {
		if rec.Outcome.Status == batch.StatusFailed {
			n++
		}
	}
	return n
}

func resetRows(outcomes []batch.Outcome[domain.ResetResult]) [][]string {
	var rows [][]string
	for _, oc := range outcomes {
		if oc.Status == batch.StatusSuccess {
			rows = append(rows, []string{oc.Value.Mailbox.Address(), oc.Value.NewPassword})
		}
	}
	return rows
}
