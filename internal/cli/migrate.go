package cli

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/mailherd/mailherd/internal/audit/migrations"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply the audit trail schema",
	Long: `Connect to PostgreSQL and apply the audit schema migrations.

Reads the DSN from --audit-dsn, the AUDIT_DSN env var, or the config file.
Migrations are idempotent; rerunning after an upgrade is safe.`,
	RunE: runMigrate,
}

func init() {
	migrateCmd.Flags().String("audit-dsn", "", "PostgreSQL DSN for the audit trail")
}

func runMigrate(cmd *cobra.Command, _ []string) error {
	dsn := viper.GetString("audit_dsn")
	if dsn == "" {
		return errors.New("--audit-dsn is required")
	}

	ctx, cancel := context.WithTimeout(cmd.Context(), initTimeout)
	defer cancel()

	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return fmt.Errorf("connect postgres: %w", err)
	}
	defer pool.Close()

	for _, f := range migrations.Files {
		sql, err := migrations.FS.ReadFile(f)
		if err != nil {
			return fmt.Errorf("read migration %s: %w", f, err)
		}
		if _, err := pool.Exec(ctx, string(sql)); err != nil {
			return fmt.Errorf("execute migration %s: %w", f, err)
		}
		fmt.Printf("applied %s\n", f)
	}

	fmt.Println("migrations complete")
	return nil
}
