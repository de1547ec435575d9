package main

import (
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

const (
	appName = "shelfrun"
	version = "v1.3.0"
)

func main() {
	zerolog.TimeFieldFormat = time.RFC3339
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen})

	// .env is optional; environment always wins.
	if err := godotenv.Load(); err == nil {
		log.Debug().Msg(".env loaded")
	}

	rootCmd := &cobra.Command{
		Use:     appName,
		Short:   "Unify marketplace exports into one dataset with lifecycle stages",
		Version: version,
		Long: `shelfrun ingests the periodic marketplace exports (SP/SB/SD ad reports,
the per-day product-analysis report, the product/SKU listing map), reconciles
them into one canonical per-product per-day dataset, assigns each product a
lifecycle stage with hysteresis, and emits ranked action recommendations.`,
	}

	rootCmd.AddCommand(newRunCmd())
	rootCmd.AddCommand(newMonitorCmd())
	rootCmd.AddCommand(newVersionCmd())

	if err := rootCmd.Execute(); err != nil {
		log.Error().Err(err).Msg("command failed")
		os.Exit(1)
	}
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("%s %s\n", appName, version)
		},
	}
}

// verbosity applies the shared -v flag.
func applyVerbosity(verbose bool) {
	if verbose {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	} else {
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	}
}
