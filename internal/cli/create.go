package cli

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/mailherd/mailherd/internal/csvio"
	"github.com/mailherd/mailherd/internal/domain"
	"github.com/mailherd/mailherd/internal/panel"
	redisstore "github.com/mailherd/mailherd/internal/redis"
	"github.com/mailherd/mailherd/internal/secret"
	"github.com/mailherd/mailherd/pkg/batch"
)

const generatedPasswordLength = 16

var createCmd = &cobra.Command{
	Use:   "create",
	Short: "Provision mailboxes from an accounts CSV",
	Long: `Create provisions one mailbox per row of the accounts CSV
(columns: email, password, quota_mb). Rows with a blank password get a
generated one; --out is then required so the new credentials are not lost.

Items run in chunks with a pause in between, because bulk creation is the
call most likely to trip panel rate limits.`,
	RunE: runCreate,
}

func init() {
	createCmd.Flags().StringP("accounts-file", "f", "", "CSV file with the mailboxes to create")
	createCmd.Flags().Bool("skip-existing", false, "treat already-existing mailboxes as skips instead of failures")
	createCmd.Flags().Int("batch-size", batch.DefaultBatchSize, "mailboxes per chunk")
	createCmd.Flags().Duration("batch-delay", batch.DefaultChunkDelay, "pause between chunks")
	createCmd.Flags().String("out", "", "write generated credentials to this CSV (0600)")

	addEngineFlags(createCmd, 3)
	addPanelFlags(createCmd)
	addIntegrationFlags(createCmd)
}

func runCreate(cmd *cobra.Command, _ []string) error {
	cfg := loadConfig()
	logger := buildLogger(cfg.LogLevel, "create")

	file := viper.GetString("accounts_file")
	if file == "" {
		return errors.New("--accounts-file is required")
	}
	out := viper.GetString("out")

	accounts, err := csvio.ReadAccounts(file)
	if err != nil {
		return err
	}
	if len(accounts) == 0 {
		return fmt.Errorf("%s: no accounts found", file)
	}

	generated := 0
	for i := range accounts {
		if accounts[i].Password != "" {
			continue
		}
		pw, err := secret.GeneratePassword(generatedPasswordLength)
		if err != nil {
			return fmt.Errorf("generate password for %s: %w", accounts[i].Mailbox.Address(), err)
		}
		accounts[i].Password = pw
		accounts[i].Generated = true
		generated++
	}
	if generated > 0 && out == "" {
		return fmt.Errorf("%d rows have no password; --out is required so the generated credentials are saved", generated)
	}

	ctx, cancel := signalContext(cmd.Context(), logger)
	defer cancel()

	env, err := newRunEnv(ctx, cfg, logger, "create")
	if err != nil {
		return err
	}
	defer env.Close()

	client, err := env.panelClient(ctx)
	if err != nil {
		return err
	}

	if err := env.beginRun(ctx, env.effectiveRunKey(file), len(accounts)); err != nil {
		return err
	}

	fn := createFunc(client, cfg.SkipExisting)
	if cfg.DryRun {
		fn = skipEverything[domain.CreateRequest, domain.CreateRequest]
	}
	if env.journal != nil {
		fn = redisstore.WrapSkipDone(env.journal, env.runKey,
			func(req domain.CreateRequest) string { return req.Mailbox.Address() }, fn, logger)
	}
	fn = instrument("create", fn)

	keyOf := func(i int) string { return accounts[i].Mailbox.Address() }
	opts := batch.ChunkOptions[domain.CreateRequest]{
		Options:   engineOptions[domain.CreateRequest](env, keyOf),
		BatchSize: cfg.BatchSize,
		Delay:     cfg.BatchDelay,
	}

	env.printer.Headline(fmt.Sprintf("creating %d mailboxes on %s (chunks of %d, %s apart)",
		len(accounts), client.Provider(), cfg.BatchSize, cfg.BatchDelay))
	outcomes, runErr := batch.RunChunked(ctx, accounts, fn, opts)
	summary := batch.Summarize(outcomes)

	if out != "" {
		if err := exportCredentials(out, outcomes); err != nil {
			return err
		}
		logger.Info("generated credentials exported", "path", out)
		env.archiveResults(out)
	}

	env.finish(summary, runErr)
	if runErr != nil {
		return fmt.Errorf("create interrupted: %w", runErr)
	}
	return env.exitError(summary)
}

// createFunc provisions one mailbox. With skipExisting, an already-existing
// address becomes a skip so re-runs of the same CSV converge instead of
// failing.
func createFunc(client panel.Client, skipExisting bool) batch.Func[domain.CreateRequest, domain.CreateRequest] {
	return func(ctx context.Context, req domain.CreateRequest, _ int) (domain.CreateRequest, error) {
		err := client.CreateMailbox(ctx, req)
		var exists *domain.MailboxExistsError
		if err != nil && skipExisting && errors.As(err, &exists) {
			return req, batch.ErrSkip
		}
		return req, err
	}
}

// exportCredentials writes the generated passwords of successfully created
// mailboxes. Rows the panel rejected keep nothing on the server, and
// skipped rows were created by an earlier run, so neither is exported.
func exportCredentials(path string, outcomes []batch.Outcome[domain.CreateRequest]) error {
	var rows [][]string
	for _, oc := range outcomes {
		if oc.Status == batch.StatusSuccess && oc.Value.Generated {
			rows = append(rows, []string{oc.Value.Mailbox.Address(), oc.Value.Password})
		}
	}
	if err := csvio.WriteSecretRows(path, []string{"email", "password"}, rows); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	return nil
}
