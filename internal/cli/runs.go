package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/mailherd/mailherd/internal/audit"
)

var runsCmd = &cobra.Command{
	Use:   "runs",
	Short: "List recent runs from the audit trail",
	RunE:  runRuns,
}

func init() {
	runsCmd.Flags().Int("limit", 20, "how many runs to list, newest first")
	runsCmd.Flags().String("audit-dsn", "", "PostgreSQL DSN for the audit trail")
}

func runRuns(cmd *cobra.Command, _ []string) error {
	cfg := loadConfig()
	if cfg.AuditDSN == "" {
		return errors.New("--audit-dsn is required")
	}

	ctx, cancel := context.WithTimeout(cmd.Context(), initTimeout)
	defer cancel()

	pool, err := audit.NewPool(ctx, cfg.AuditDSN)
	if err != nil {
		return fmt.Errorf("audit: %w", err)
	}
	defer pool.Close()

	runs, err := audit.NewRepository(pool).ListRuns(ctx, viper.GetInt("limit"))
	if err != nil {
		return err
	}
	if len(runs) == 0 {
		fmt.Println("no runs recorded yet")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "STARTED\tCOMMAND\tRUN KEY\tOK\tFAILED\tSKIPPED\tRESULT")
	for _, r := range runs {
		result := "ok"
		switch {
		case r.FinishedAt == nil:
			result = "running"
		case r.ExitError != "":
			result = r.ExitError
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%d\t%d\t%s\n",
			r.StartedAt.Local().Format("2006-01-02 15:04"),
			r.Command, r.RunKey, r.Successful, r.Failed, r.Skipped, result)
	}
	return w.Flush()
}
