package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/asinlab/shelfrun/internal/persistence/postgres"
	"github.com/asinlab/shelfrun/internal/telemetry"
)

func newMonitorCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "monitor",
		Short: "Serve /health and /metrics for scrapers",
		RunE:  runMonitor,
	}
	cmd.Flags().String("host", "127.0.0.1", "Bind address")
	cmd.Flags().Int("port", 9480, "Bind port")
	cmd.Flags().String("pg-dsn", "", "Postgres DSN to health-check (or SHELFRUN_PG_DSN)")
	cmd.Flags().BoolP("verbose", "v", false, "Debug logging")
	return cmd
}

func runMonitor(cmd *cobra.Command, args []string) error {
	verbose, _ := cmd.Flags().GetBool("verbose")
	applyVerbosity(verbose)

	cfg := telemetry.DefaultServerConfig()
	cfg.Host, _ = cmd.Flags().GetString("host")
	cfg.Port, _ = cmd.Flags().GetInt("port")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	srv := telemetry.NewServer(cfg, telemetry.NewMetricsRegistry(), log.Logger)

	if dsn := dsnFlag(cmd); dsn != "" {
		db, err := postgres.Connect(ctx, dsn)
		if err != nil {
			return err
		}
		defer db.Close()
		srv.AddHealthCheck("postgres", postgres.NewRecordsRepo(db, 0))
	}

	return srv.ListenAndServe(ctx)
}
