package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/asinlab/shelfrun/internal/persistence/postgres"
	"github.com/asinlab/shelfrun/internal/pipeline"
	"github.com/asinlab/shelfrun/internal/telemetry"
)

func newRunCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the full pipeline over an export directory",
		Long: `Discover and read exports under the input directory, merge them into the
canonical dataset, classify lifecycle stages, evaluate the policy, and write
JSONL artifacts (and optionally persist to postgres).`,
		RunE: runPipeline,
	}

	cmd.Flags().String("input", "", "Directory tree of xlsx/csv exports (required)")
	cmd.Flags().String("policy", "", "Policy YAML path (defaults apply when empty)")
	cmd.Flags().String("out", "out", "Artifact output directory")
	cmd.Flags().String("from", "", "Start date YYYY-MM-DD (inclusive)")
	cmd.Flags().String("to", "", "End date YYYY-MM-DD (inclusive)")
	cmd.Flags().Int("parallelism", 4, "Worker fan-out per stage")
	cmd.Flags().String("pg-dsn", "", "Postgres DSN (or SHELFRUN_PG_DSN); empty disables persistence")
	cmd.Flags().BoolP("verbose", "v", false, "Debug logging")
	cmd.MarkFlagRequired("input")

	return cmd
}

func runPipeline(cmd *cobra.Command, args []string) error {
	verbose, _ := cmd.Flags().GetBool("verbose")
	applyVerbosity(verbose)

	input, _ := cmd.Flags().GetString("input")
	policyPath, _ := cmd.Flags().GetString("policy")
	outDir, _ := cmd.Flags().GetString("out")
	parallelism, _ := cmd.Flags().GetInt("parallelism")

	opts := pipeline.Options{
		InputDir:    input,
		PolicyPath:  policyPath,
		OutDir:      outDir,
		Parallelism: parallelism,
	}

	var err error
	if opts.From, err = parseDateFlag(cmd, "from"); err != nil {
		return err
	}
	if opts.To, err = parseDateFlag(cmd, "to"); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	runner := pipeline.NewRunner(opts, log.Logger).
		WithMetrics(telemetry.NewMetricsRegistry())

	if dsn := dsnFlag(cmd); dsn != "" {
		db, err := postgres.Connect(ctx, dsn)
		if err != nil {
			return fmt.Errorf("connect postgres: %w", err)
		}
		defer db.Close()
		if err := postgres.Migrate(ctx, db); err != nil {
			return err
		}
		runner = runner.WithPersistence(
			postgres.NewRecordsRepo(db, 0),
			postgres.NewTimelineRepo(db, 0),
		)
		log.Info().Msg("postgres persistence enabled")
	}

	res, err := runner.Run(ctx)
	if err != nil {
		return err
	}

	log.Info().
		Str("run_id", res.Manifest.RunID).
		Int("records", len(res.Records)).
		Str("out", outDir).
		Msg("artifacts ready")
	return nil
}

func dsnFlag(cmd *cobra.Command) string {
	if dsn, _ := cmd.Flags().GetString("pg-dsn"); dsn != "" {
		return dsn
	}
	return os.Getenv("SHELFRUN_PG_DSN")
}

func parseDateFlag(cmd *cobra.Command, name string) (time.Time, error) {
	raw, _ := cmd.Flags().GetString(name)
	if raw == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse("2006-01-02", raw)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid --%s %q: expected YYYY-MM-DD", name, raw)
	}
	return t, nil
}
