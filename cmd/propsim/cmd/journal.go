package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/rustyeddy/propsim/journal"
)

var journalCmd = &cobra.Command{
	Use:   "journal",
	Short: "Query trade journal data",
	Long: `Query and display trade journal records from a SQLite database.

Subcommands:
  trade  - Get details of a specific trade by ID
  day    - List trades closed on a specific day (UTC)

Examples:
  propsim journal trade <trade-id>
  propsim journal day 2024-01-15`,
}

var journalTradeCmd = &cobra.Command{
	Use:   "trade <trade-id>",
	Short: "Get details of a specific trade",
	Args:  cobra.ExactArgs(1),
	RunE:  runJournalTrade,
}

var journalDayCmd = &cobra.Command{
	Use:   "day <YYYY-MM-DD>",
	Short: "List trades closed on a specific day",
	Args:  cobra.ExactArgs(1),
	RunE:  runJournalDay,
}

var journalDBPath string

func init() {
	rootCmd.AddCommand(journalCmd)
	journalCmd.AddCommand(journalTradeCmd)
	journalCmd.AddCommand(journalDayCmd)

	journalCmd.PersistentFlags().StringVarP(&journalDBPath, "db", "d", "./propsim.sqlite", "path to SQLite journal DB")
}

func runJournalTrade(cmd *cobra.Command, args []string) error {
	j, err := journal.NewSQLite(journalDBPath)
	if err != nil {
		return fmt.Errorf("open db: %w", err)
	}
	defer j.Close()

	rec, err := j.GetTrade(args[0])
	if err != nil {
		return fmt.Errorf("get trade: %w", err)
	}

	w := cmd.OutOrStdout()
	fmt.Fprintf(w, "Trade %s (run %s)\n", rec.TradeID, rec.RunID)
	fmt.Fprintf(w, "  %s %s %.6f units, mode %s\n", rec.Instrument, rec.Side, rec.Units, rec.Mode)
	fmt.Fprintf(w, "  Opened %s at %.2f (stop %.2f, target %.2f)\n",
		rec.OpenTime.Format(time.RFC3339), rec.EntryPrice, rec.Stop, rec.Target)
	fmt.Fprintf(w, "  Closed %s at %.2f: %s\n", rec.CloseTime.Format(time.RFC3339), rec.ExitPrice, rec.Reason)
	fmt.Fprintf(w, "  Gross %.2f, commission %.2f, slippage %.2f, net %.2f\n",
		rec.GrossPL, rec.Commission, rec.Slippage, rec.RealizedPL)
	fmt.Fprintf(w, "  Risked %.2f%% of balance\n", rec.RiskPct*100)
	return nil
}

func runJournalDay(cmd *cobra.Command, args []string) error {
	start, end, err := dayBounds(args[0])
	if err != nil {
		return fmt.Errorf("date: %w", err)
	}

	j, err := journal.NewSQLite(journalDBPath)
	if err != nil {
		return fmt.Errorf("open db: %w", err)
	}
	defer j.Close()

	recs, err := j.ListTradesClosedBetween(start, end)
	if err != nil {
		return fmt.Errorf("query trades: %w", err)
	}
	printTrades(cmd.OutOrStdout(), recs)
	return nil
}

// dayBounds returns [start, end) of the UTC day.
func dayBounds(day string) (time.Time, time.Time, error) {
	start, err := time.ParseInLocation("2006-01-02", day, time.UTC)
	if err != nil {
		return time.Time{}, time.Time{}, err
	}
	return start, start.Add(24 * time.Hour), nil
}
