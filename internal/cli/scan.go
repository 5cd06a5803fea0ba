package cli

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/mailherd/mailherd/internal/csvio"
	"github.com/mailherd/mailherd/internal/domain"
	"github.com/mailherd/mailherd/pkg/batch"
)

var scanCmd = &cobra.Command{
	Use:   "scan",
	Short: "List every mailbox across the given domains",
	Long: `Scan queries the hosting panel for the mailboxes of each domain,
in parallel, and prints what it finds. Domains come from --domains or from
the domain column of a CSV file.`,
	RunE: runScan,
}

func init() {
	scanCmd.Flags().StringP("domains-file", "d", "", "CSV file with a domain column")
	scanCmd.Flags().String("domains", "", "comma-separated domains (alternative to --domains-file)")
	scanCmd.Flags().String("out", "", "write the discovered mailboxes to this CSV")

	addEngineFlags(scanCmd, 3)
	addPanelFlags(scanCmd)
	addIntegrationFlags(scanCmd)
}

func runScan(cmd *cobra.Command, _ []string) error {
	cfg := loadConfig()
	logger := buildLogger(cfg.LogLevel, "scan")

	domains, input, err := loadDomains()
	if err != nil {
		return err
	}

	ctx, cancel := signalContext(cmd.Context(), logger)
	defer cancel()

	env, err := newRunEnv(ctx, cfg, logger, "scan")
	if err != nil {
		return err
	}
	defer env.Close()

	client, err := env.panelClient(ctx)
	if err != nil {
		return err
	}

	if err := env.beginRun(ctx, env.effectiveRunKey(input), len(domains)); err != nil {
		return err
	}

	fn := func(ctx context.Context, dom string, _ int) ([]domain.Mailbox, error) {
		return client.ListMailboxes(ctx, dom)
	}
	var scanFn batch.Func[string, []domain.Mailbox] = fn
	if cfg.DryRun {
		scanFn = skipEverything[string, []domain.Mailbox]
	}
	scanFn = instrument("scan", scanFn)

	keyOf := func(i int) string { return domains[i] }
	opts := engineOptions[[]domain.Mailbox](env, keyOf)

	env.printer.Headline(fmt.Sprintf("scanning %d domains on %s", len(domains), client.Provider()))
	outcomes, runErr := batch.Run(ctx, domains, scanFn, opts)
	summary := batch.Summarize(outcomes)

	boxes := collectMailboxes(outcomes)
	if len(boxes) > 0 {
		env.printer.Headline(fmt.Sprintf("%d mailboxes found", len(boxes)))
		env.printer.List(addresses(boxes))
	}

	if out := viper.GetString("out"); out != "" {
		rows := make([][]string, 0, len(boxes))
		for _, box := range boxes {
			rows = append(rows, []string{box.Address(), box.Domain})
		}
		if err := csvio.WriteRows(out, []string{"email", "domain"}, rows); err != nil {
			return fmt.Errorf("write %s: %w", out, err)
		}
		logger.Info("mailboxes exported", "path", out, "count", len(rows))
		env.archiveResults(out)
	}

	env.finish(summary, runErr)
	if runErr != nil {
		return fmt.Errorf("scan interrupted: %w", runErr)
	}
	return env.exitError(summary)
}

func collectMailboxes(outcomes []batch.Outcome[[]domain.Mailbox]) []domain.Mailbox {
	var boxes []domain.Mailbox
	for _, oc := range outcomes {
		if oc.Status == batch.StatusSuccess {
			boxes = append(boxes, oc.Value...)
		}
	}
	return boxes
}

func addresses(boxes []domain.Mailbox) []string {
	out := make([]string, len(boxes))
	for i, box := range boxes {
		out[i] = box.Address()
	}
	return out
}

// loadDomains resolves the domain list from --domains or --domains-file.
// The second return is a short input label used to derive the journal key.
func loadDomains() ([]string, string, error) {
	if list := viper.GetString("domains"); list != "" {
		var domains []string
		for _, d := range strings.Split(list, ",") {
			if d = strings.TrimSpace(d); d != "" {
				domains = append(domains, d)
			}
		}
		if len(domains) == 0 {
			return nil, "", fmt.Errorf("--domains %q contains no domains", list)
		}
		return domains, "inline", nil
	}

	path := viper.GetString("domains_file")
	if path == "" {
		return nil, "", fmt.Errorf("either --domains or --domains-file is required")
	}
	domains, err := csvio.ReadDomains(path)
	if err != nil {
		return nil, "", err
	}
	if len(domains) == 0 {
		return nil, "", fmt.Errorf("%s: no domains found", path)
	}
	return domains, path, nil
}
