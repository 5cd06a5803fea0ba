// Package cli wires the mailherd commands: flag parsing, configuration,
// and the assembly of engine runs from the domain packages.
package cli

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

var cfgFile string

var rootCmd = &cobra.Command{
	Use:          "mailherd",
	Short:        "mailherd — batch mailbox administration for hosted domains",
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
		return bindCommandFlags(cmd)
	},
}

// Execute is the entry point called from cmd/mailherd/main.go. Exit codes:
// 0 clean run, 1 the run completed but items failed, 2 structural errors
// (bad flags, unreadable input, unreachable services).
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		var rf *runFailedError
		if errors.As(err, &rf) {
			os.Exit(1)
		}
		os.Exit(2)
	}
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file path (default: ./mailherd.yaml)")
	rootCmd.PersistentFlags().String("log-level", "info", "log level: debug | info | warn | error")

	rootCmd.AddCommand(scanCmd)
	rootCmd.AddCommand(createCmd)
	rootCmd.AddCommand(resetCmd)
	rootCmd.AddCommand(syncCmd)
	rootCmd.AddCommand(eventsCmd)
	rootCmd.AddCommand(runsCmd)
	rootCmd.AddCommand(migrateCmd)
	rootCmd.AddCommand(newInitCmd())
	rootCmd.AddCommand(versionCmd)

	_ = viper.BindEnv("otel_endpoint", "OTEL_EXPORTER_OTLP_ENDPOINT")
}

func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		home, _ := os.UserHomeDir()
		viper.SetConfigName("mailherd")
		viper.SetConfigType("yaml")
		viper.AddConfigPath(".")
		viper.AddConfigPath(home + "/.mailherd")
		viper.AddConfigPath("/etc/mailherd")
	}

	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err != nil {
		_, notFound := err.(viper.ConfigFileNotFoundError)
		if !notFound && !os.IsNotExist(err) {
			fmt.Fprintln(os.Stderr, "error reading config file:", err)
			os.Exit(2)
		}
	} else {
		fmt.Fprintln(os.Stderr, "config:", viper.ConfigFileUsed())
	}
}

// bindCommandFlags binds every flag of the command about to run to the
// viper key derived from its name (dashes become underscores). Subcommands
// share key names — --concurrency is "concurrency" everywhere — so binding
// at execution time keeps each key pointed at the one flag set that was
// actually parsed.
func bindCommandFlags(cmd *cobra.Command) error {
	var bindErr error
	cmd.Flags().VisitAll(func(f *pflag.Flag) {
		key := strings.ReplaceAll(f.Name, "-", "_")
		if err := viper.BindPFlag(key, f); err != nil && bindErr == nil {
			bindErr = fmt.Errorf("bind flag %q: %w", f.Name, err)
		}
	})
	return bindErr
}

func buildLogger(level, command string) *slog.Logger {
	lvl := slog.LevelInfo
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	}
	// Logs go to stderr; stdout belongs to the console renderer.
	return slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: lvl})).
		With(slog.String("command", command))
}

// runFailedError reports a run that completed with failed (or, under
// --strict-skips, skipped) items. Execute turns it into exit code 1 instead
// of the structural 2.
type runFailedError struct {
	Failed  int
	Skipped int
	Total   int
}

func (e *runFailedError) Error() string {
	if e.Failed > 0 {
		return fmt.Sprintf("%d of %d items failed", e.Failed, e.Total)
	}
	return fmt.Sprintf("%d of %d items skipped with --strict-skips set", e.Skipped, e.Total)
}
