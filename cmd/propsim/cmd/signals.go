package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/rustyeddy/propsim/market"
	"github.com/rustyeddy/propsim/signal"
)

var signalsCmd = &cobra.Command{
	Use:   "signals",
	Short: "Export EMA cross scores as a time,score CSV",
	Long: `Score every bar with the EMA cross signal and write the result in the
format "backtest --signal-file" reads. Useful as a starting point for
hand-edited or externally generated signals.

Example:
  propsim signals -b bars.csv.xz -o scores.csv --fast 9 --slow 21`,
	Args: cobra.NoArgs,
	RunE: runSignals,
}

var (
	sigBarsPath string
	sigOutPath  string
	sigCfg      = signal.DefaultEMACrossConfig()
)

func init() {
	rootCmd.AddCommand(signalsCmd)

	f := signalsCmd.Flags()
	f.StringVarP(&sigBarsPath, "bars", "b", "", "bar CSV file (required)")
	f.StringVarP(&sigOutPath, "output", "o", "", "output CSV (default stdout)")
	f.IntVar(&sigCfg.FastPeriod, "fast", sigCfg.FastPeriod, "fast EMA period")
	f.IntVar(&sigCfg.SlowPeriod, "slow", sigCfg.SlowPeriod, "slow EMA period")
	f.IntVar(&sigCfg.ADXPeriod, "adx", sigCfg.ADXPeriod, "ADX period (0 disables the ADX boost)")
	f.Float64Var(&sigCfg.ADXThreshold, "adx-threshold", sigCfg.ADXThreshold, "ADX trend threshold")
	_ = signalsCmd.MarkFlagRequired("bars")
}

func runSignals(cmd *cobra.Command, args []string) error {
	bars, _, err := market.LoadCSV(sigBarsPath)
	if err != nil {
		return fmt.Errorf("load bars: %w", err)
	}
	src, err := signal.NewEMACross(bars, sigCfg)
	if err != nil {
		return err
	}

	w := cmd.OutOrStdout()
	if sigOutPath != "" {
		f, err := os.Create(sigOutPath)
		if err != nil {
			return err
		}
		defer f.Close()
		w = f
	}
	if err := signal.WriteSeries(w, bars, src); err != nil {
		return fmt.Errorf("write scores: %w", err)
	}
	log.Info().Str("signal", src.Name()).Int("bars", len(bars)).Msg("scores exported")
	return nil
}
