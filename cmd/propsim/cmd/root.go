package cmd

import (
	"io"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/rustyeddy/propsim/logger"
)

var rootCmd = &cobra.Command{
	Use:   "propsim",
	Short: "A risk-constrained backtester for prop-firm style trading challenges",
	Long: `Propsim replays historical bars through a signal, a risk manager and an
adaptive trading-mode layer, and reports what a funded-account challenge
would have looked like.

It provides tools for:
  - Backtesting with ATR stops, targets and trailing stops
  - Daily and overall loss limits with emergency stops
  - Trading modes driven by drawdown, performance and market regime
  - Journaling trades, equity and mode changes to CSV or SQLite
  - Exporting run metrics in the Prometheus text format`,
	SilenceUsage:       true,
	PersistentPreRunE:  setupLogger,
	PersistentPostRunE: closeLogger,
}

var (
	logLevel  string
	logFormat string
	logOutput string

	log       = zerolog.Nop()
	logCloser io.Closer
)

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "log level (trace, debug, info, warn, error, disabled)")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "console", "log format (console, json)")
	rootCmd.PersistentFlags().StringVar(&logOutput, "log-output", "stderr", "log destination (stdout, stderr or a file path)")
}

func setupLogger(cmd *cobra.Command, args []string) error {
	l, closer, err := logger.New(logger.Config{Level: logLevel, Format: logFormat, Output: logOutput})
	if err != nil {
		return err
	}
	log, logCloser = l, closer
	return nil
}

func closeLogger(cmd *cobra.Command, args []string) error {
	if logCloser == nil {
		return nil
	}
	return logCloser.Close()
}
