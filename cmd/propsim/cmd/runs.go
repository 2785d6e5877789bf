package cmd

import (
	"fmt"
	"io"
	"math"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/rustyeddy/propsim/journal"
)

var runsCmd = &cobra.Command{
	Use:   "runs",
	Short: "List and inspect stored backtest runs",
	Long: `Query backtest runs recorded with "propsim backtest --db".

Examples:
  propsim runs list -d runs.sqlite
  propsim runs show 01HQ8Z3K... -d runs.sqlite`,
}

var runsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List the most recent runs",
	Args:  cobra.NoArgs,
	RunE:  runRunsList,
}

var runsShowCmd = &cobra.Command{
	Use:   "show <run-id>",
	Short: "Show a run summary and its trades",
	Args:  cobra.ExactArgs(1),
	RunE:  runRunsShow,
}

var (
	runsDBPath string
	runsLimit  int
)

func init() {
	rootCmd.AddCommand(runsCmd)
	runsCmd.AddCommand(runsListCmd)
	runsCmd.AddCommand(runsShowCmd)

	runsCmd.PersistentFlags().StringVarP(&runsDBPath, "db", "d", "./propsim.sqlite", "path to SQLite journal DB")
	runsListCmd.Flags().IntVarP(&runsLimit, "limit", "n", 20, "number of runs to list (0 = all)")
}

func runRunsList(cmd *cobra.Command, args []string) error {
	j, err := journal.NewSQLite(runsDBPath)
	if err != nil {
		return fmt.Errorf("open db: %w", err)
	}
	defer j.Close()

	runs, err := j.ListBacktestRuns(cmd.Context(), runsLimit)
	if err != nil {
		return fmt.Errorf("list runs: %w", err)
	}
	printRuns(cmd.OutOrStdout(), runs)
	return nil
}

func runRunsShow(cmd *cobra.Command, args []string) error {
	j, err := journal.NewSQLite(runsDBPath)
	if err != nil {
		return fmt.Errorf("open db: %w", err)
	}
	defer j.Close()

	run, err := j.GetBacktestRun(cmd.Context(), args[0])
	if err != nil {
		return fmt.Errorf("get run: %w", err)
	}
	org, err := run.FormatBacktestOrg()
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), org)

	trades, err := j.ListTradesByRunID(cmd.Context(), run.RunID)
	if err != nil {
		return fmt.Errorf("list trades: %w", err)
	}
	printTrades(cmd.OutOrStdout(), trades)

	modes, err := j.ListModeChangesByRunID(cmd.Context(), run.RunID)
	if err != nil {
		return fmt.Errorf("list mode changes: %w", err)
	}
	if len(modes) > 0 {
		fmt.Fprintln(cmd.OutOrStdout())
		tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "TIME\tFROM\tTO\tDRAWDOWN\tREASON")
		for _, m := range modes {
			fmt.Fprintf(tw, "%s\t%s\t%s\t%.2f%%\t%s\n",
				m.Time.Format("2006-01-02 15:04"), m.From, m.To, m.Drawdown*100, m.Reason)
		}
		tw.Flush()
	}
	return nil
}

func printRuns(w io.Writer, runs []journal.BacktestRun) {
	if len(runs) == 0 {
		fmt.Fprintln(w, "no runs")
		return
	}
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "RUN\tCREATED\tINSTRUMENT\tTRADES\tNET P/L\tRETURN\tMAX DD\tPF\tMODE\tPASSED")
	for _, r := range runs {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%.2f\t%.2f%%\t%.2f%%\t%s\t%s\t%t\n",
			r.RunID, r.Created.Format("2006-01-02 15:04"), r.Instrument, r.Trades,
			r.NetPL, r.ReturnPct, r.MaxDDPct, pf(r.ProfitFactor), r.FinalMode, r.ChallengePassed)
	}
	tw.Flush()
}

func printTrades(w io.Writer, trades []journal.TradeRecord) {
	if len(trades) == 0 {
		fmt.Fprintln(w, "no trades")
		return
	}
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "TRADE\tSIDE\tUNITS\tENTRY\tEXIT\tOPENED\tCLOSED\tP/L\tMODE\tREASON")
	for _, t := range trades {
		fmt.Fprintf(tw, "%s\t%s\t%.6f\t%.2f\t%.2f\t%s\t%s\t%.2f\t%s\t%s\n",
			t.TradeID, t.Side, t.Units, t.EntryPrice, t.ExitPrice,
			t.OpenTime.Format("2006-01-02 15:04"), t.CloseTime.Format("2006-01-02 15:04"),
			t.RealizedPL, t.Mode, t.Reason)
	}
	tw.Flush()
}

func pf(x float64) string {
	if math.IsInf(x, 1) {
		return "inf"
	}
	return fmt.Sprintf("%.2f", x)
}
