package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"surge/internal/config"

	// register all backends with the storage factory.
	// the job file picks one but the binary carries support for all of them.
	_ "surge/internal/storage/all"
)

// globalFlags are shared by every subcommand.
type globalFlags struct {
	configPath     string
	envFile        string
	metricsBackend string
	pushgatewayURL string
	verbose        bool
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := newRootCmd().ExecuteContext(ctx)
	stop()
	if err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var g globalFlags

	root := &cobra.Command{
		Use:   "surge",
		Short: "Schema-aware bulk loader for SQL databases",
		Long: `surge reads CSV or JSON-lines records, maps them onto a declared table and
loads them with batched statements, native upserts, temp-table merges or the
database's bulk copy path.`,
		SilenceUsage: true,
		PersistentPreRunE: func(*cobra.Command, []string) error {
			return loadEnvFile(g.envFile)
		},
	}
	root.PersistentFlags().StringVarP(&g.configPath, "config", "c", "job.yaml", "job config path (.yaml, .yml or .json)")
	root.PersistentFlags().StringVar(&g.envFile, "env-file", ".env", "dotenv file read before the job file; ${VAR} references in the job expand from it")
	root.PersistentFlags().StringVar(&g.metricsBackend, "metrics-backend", "", "metrics backend (pushgateway, datadog, none); overrides the job file and METRICS_BACKEND")
	root.PersistentFlags().StringVar(&g.pushgatewayURL, "pushgateway-url", "", "Pushgateway base URL; overrides the job file and PUSHGATEWAY_URL")
	root.PersistentFlags().BoolVarP(&g.verbose, "verbose", "v", false, "log at debug level")

	root.AddCommand(
		newValidateCmd(&g),
		newSQLCmd(&g),
		newLoadCmd(&g),
		newDumpCmd(&g),
	)
	return root
}

func newValidateCmd(g *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Check a job file without touching the source or the database",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if _, err := readJob(cmd, g.configPath); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "configuration is valid: %s\n", g.configPath)
			return nil
		},
	}
}

func newSQLCmd(g *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "sql",
		Short: "Print the statements generated for the job's table",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			job, err := readJob(cmd, g.configPath)
			if err != nil {
				return err
			}
			return printSQL(cmd.OutOrStdout(), job)
		},
	}
}

func newLoadCmd(g *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "load",
		Short: "Load the job's source into its table",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			job, err := readJob(cmd, g.configPath)
			if err != nil {
				return err
			}
			a, err := newApp(job, g)
			if err != nil {
				return err
			}
			defer a.close()
			return a.load(cmd.Context(), cmd.OutOrStdout())
		},
	}
}

func newDumpCmd(g *globalFlags) *cobra.Command {
	var out string
	cmd := &cobra.Command{
		Use:   "dump",
		Short: "Write the job's source in the bulk text format instead of loading it",
		Long: `dump formats records exactly as a bulk load would send them. The output is
gzip or zstd compressed when the path ends in .gz or .zst.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			job, err := readJob(cmd, g.configPath)
			if err != nil {
				return err
			}
			a, err := newApp(job, g)
			if err != nil {
				return err
			}
			defer a.close()
			return a.dump(cmd.Context(), out, cmd.OutOrStdout())
		},
	}
	cmd.Flags().StringVarP(&out, "output", "o", "", "output file path")
	_ = cmd.MarkFlagRequired("output")
	return cmd
}

// loadEnvFile loads path into the environment without overriding variables
// that are already set. A missing file is not an error.
func loadEnvFile(path string) error {
	if path == "" {
		return nil
	}
	if err := godotenv.Load(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("env file %s: %w", path, err)
	}
	return nil
}

// readJob decodes and validates path, printing every issue to stderr.
func readJob(cmd *cobra.Command, path string) (config.Job, error) {
	job, err := config.Read(path)
	if err != nil {
		return config.Job{}, err
	}
	issues := config.ValidateJob(job)
	for _, iss := range issues {
		fmt.Fprintf(cmd.ErrOrStderr(), "%s: %s: %s\n", iss.Severity, iss.Path, iss.Message)
	}
	if config.HasErrors(issues) {
		return config.Job{}, fmt.Errorf("configuration is invalid: %s", path)
	}
	return job, nil
}
