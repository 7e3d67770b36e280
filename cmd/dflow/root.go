package main

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

var (
	logger    zerolog.Logger
	logOutput io.Writer
	logLevel  string
	logFormat string
)

var rootCmd = &cobra.Command{
	Use:   "dflow",
	Short: "Run a hand-assembled pushdown dataflow plan",
	Long: `dflow executes a literal operator-graph plan (see internal/dataflow/plan)
against a real Postgres connection, printing the terminal Collate's rows.
It is a harness for exercising the dataflow library, not a query planner:
plans name operators and parameters explicitly, in the order an engineer
already decided on.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		switch logFormat {
		case "json":
			logOutput = os.Stdout
		default:
			logOutput = zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}
		}
		logger = zerolog.New(logOutput).With().Timestamp().Logger()

		level, err := zerolog.ParseLevel(logLevel)
		if err != nil {
			level = zerolog.InfoLevel
		}
		logger = logger.Level(level)
		return nil
	},
}

func init() {
	f := rootCmd.PersistentFlags()
	f.StringVar(&logLevel, "log-level", "info", "Log level (debug, info, warn, error)")
	f.StringVar(&logFormat, "log-format", "console", "Log format (console, json)")
}
