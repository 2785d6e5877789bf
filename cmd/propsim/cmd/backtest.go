package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/rustyeddy/propsim/backtest"
	"github.com/rustyeddy/propsim/config"
	"github.com/rustyeddy/propsim/id"
	"github.com/rustyeddy/propsim/journal"
	"github.com/rustyeddy/propsim/market"
	"github.com/rustyeddy/propsim/metrics"
	"github.com/rustyeddy/propsim/mode"
	sig "github.com/rustyeddy/propsim/signal"
)

var backtestCmd = &cobra.Command{
	Use:   "backtest",
	Short: "Run a risk-constrained backtest over historical bars",
	Long: `Backtest replays OHLC bars through the configured signal, risk profile
and trading-mode adapter, then prints the trade statistics, account
performance, monthly breakdown and risk status.

Bars are read from CSV (time,open,high,low,close[,volume]); .xz and
.lzma files are decompressed on the fly. Flags override the config file.

Examples:
  propsim backtest -b data/btcusd-h1.csv.xz
  propsim backtest -c challenge.yaml --db runs.sqlite --metrics-out run.prom
  propsim backtest -b bars.csv --signal-file scores.csv --profile conservative`,
	RunE: runBacktest,
}

var (
	btConfigPath  string
	btBarsPath    string
	btInstrument  string
	btSignalFile  string
	btRegimeFile  string
	btProfile     string
	btRiskPct     float64
	btBalance     float64
	btMode        string
	btCadence     string
	btDBPath      string
	btTradesCSV   string
	btEquityCSV   string
	btModesCSV    string
	btMetricsOut  string
	btOrgPath     string
	btSeed        int64
	btStopOnPass  bool
	btStrategyTag string
)

func init() {
	rootCmd.AddCommand(backtestCmd)

	f := backtestCmd.Flags()
	f.StringVarP(&btConfigPath, "config", "c", "", "config file (YAML or JSON)")
	f.StringVarP(&btBarsPath, "bars", "b", "", "bar CSV file (overrides data.bars_file)")
	f.StringVarP(&btInstrument, "instrument", "i", "", "instrument name")
	f.StringVar(&btSignalFile, "signal-file", "", "CSV of time,score rows; replaces the EMA cross signal")
	f.StringVar(&btRegimeFile, "regime-file", "", "CSV of time,dominance rows for the mode adapter")
	f.StringVar(&btProfile, "profile", "", "risk profile (conservative, moderate, aggressive)")
	f.Float64Var(&btRiskPct, "risk", 0, "base risk per trade as a fraction (0.01 = 1%)")
	f.Float64Var(&btBalance, "balance", 0, "initial account balance")
	f.StringVar(&btMode, "mode", "", "initial trading mode")
	f.StringVar(&btCadence, "cadence", "", "mode evaluation cadence (bar, day)")
	f.StringVarP(&btDBPath, "db", "d", "", "SQLite journal; also stores the run summary")
	f.StringVar(&btTradesCSV, "trades-csv", "", "write trades to this CSV")
	f.StringVar(&btEquityCSV, "equity-csv", "", "write the equity curve to this CSV")
	f.StringVar(&btModesCSV, "modes-csv", "", "write mode changes to this CSV")
	f.StringVar(&btMetricsOut, "metrics-out", "", "write Prometheus metrics to this file")
	f.StringVar(&btOrgPath, "org", "", "write an org-mode run summary to this file")
	f.Int64Var(&btSeed, "seed", 0, "seed for trade and run IDs (0 = random)")
	f.BoolVar(&btStopOnPass, "stop-on-pass", false, "stop once the challenge is passed and flat")
	f.StringVar(&btStrategyTag, "strategy", "", "strategy label stored with the run")
}

func runBacktest(cmd *cobra.Command, args []string) error {
	cfg, err := backtestConfig(cmd)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	opts := simOptions{
		DBPath:     btDBPath,
		MetricsOut: btMetricsOut,
		OrgPath:    btOrgPath,
		Seed:       btSeed,
		Strategy:   btStrategyTag,
		ConfigPath: btConfigPath,
	}
	out, err := simulate(ctx, cfg, opts, log)
	if out != nil && out.Result != nil {
		backtest.PrintResult(cmd.OutOrStdout(), out.Result)
	}
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "\nRun ID: %s\n", out.Run.RunID)
	return nil
}

// backtestConfig loads the config file, if any, and applies the flags the
// user set explicitly.
func backtestConfig(cmd *cobra.Command) (*config.Config, error) {
	cfg := config.Default()
	if btConfigPath != "" {
		var err error
		if cfg, err = config.LoadFromFile(btConfigPath); err != nil {
			return nil, err
		}
	}

	changed := cmd.Flags().Changed
	if changed("bars") {
		cfg.Data.BarsFile = btBarsPath
	}
	if changed("instrument") {
		cfg.Data.Instrument = btInstrument
	}
	if changed("signal-file") {
		cfg.Signal.Type, cfg.Signal.File = "csv", btSignalFile
	}
	if changed("regime-file") {
		cfg.Mode.RegimeFile = btRegimeFile
	}
	if changed("profile") {
		cfg.Risk.Profile = btProfile
	}
	if changed("risk") {
		cfg.Risk.BaseRiskPct = btRiskPct
	}
	if changed("balance") {
		cfg.Account.Balance = btBalance
	}
	if changed("mode") {
		cfg.Mode.Initial = btMode
	}
	if changed("cadence") {
		cfg.Mode.Cadence = btCadence
	}
	if changed("stop-on-pass") {
		cfg.Execution.StopOnChallengePass = btStopOnPass
	}
	csvJournalFlags(&cfg.Journal, changed)

	if cfg.Data.BarsFile == "" {
		return nil, errors.New("no bar file: set data.bars_file or pass --bars")
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// csvJournalFlags overlays the CSV journal flags onto jc. Any one of them
// selects the CSV journal; files the flags leave alone keep their
// configured paths.
func csvJournalFlags(jc *config.JournalConfig, changed func(string) bool) {
	flags := []struct {
		name string
		dst  *string
		val  string
	}{
		{"trades-csv", &jc.TradesFile, btTradesCSV},
		{"equity-csv", &jc.EquityFile, btEquityCSV},
		{"modes-csv", &jc.ModesFile, btModesCSV},
	}
	for _, f := range flags {
		if changed(f.name) {
			jc.Type = "csv"
			*f.dst = f.val
		}
	}
}

type simOptions struct {
	DBPath     string // extra SQLite journal, in addition to cfg.Journal
	MetricsOut string
	OrgPath    string
	Seed       int64
	Strategy   string
	ConfigPath string
}

type simOutcome struct {
	Result *backtest.Result
	Run    journal.BacktestRun
}

// simulate wires the components described by cfg, runs the engine and
// persists whatever the config and options ask for.
func simulate(ctx context.Context, cfg *config.Config, opts simOptions, log zerolog.Logger) (*simOutcome, error) {
	bars, st, err := market.LoadCSV(cfg.Data.BarsFile)
	if err != nil {
		return nil, fmt.Errorf("load bars: %w", err)
	}
	log.Info().
		Str("file", cfg.Data.BarsFile).
		Int("bars", st.Bars).
		Int("bad_lines", st.BadLines).
		Int("duplicates", st.Duplicates).
		Int("out_of_order", st.OutOfOrder).
		Msg("bars loaded")
	if len(bars) == 0 {
		return nil, fmt.Errorf("no usable bars in %s", cfg.Data.BarsFile)
	}

	src, strategy, err := signalSource(cfg, bars)
	if err != nil {
		return nil, err
	}
	if opts.Strategy != "" {
		strategy = opts.Strategy
	}

	ids := id.NewGenerator(opts.Seed)
	runID := ids.At(bars[0].Time)
	ecfg, err := cfg.EngineConfig(runID)
	if err != nil {
		return nil, err
	}

	engineOpts := []backtest.Option{backtest.WithLogger(log), backtest.WithIDs(ids)}
	if cfg.Mode.RegimeFile != "" {
		reg, err := mode.LoadSeriesRegime(cfg.Mode.RegimeFile)
		if err != nil {
			return nil, fmt.Errorf("load regime: %w", err)
		}
		engineOpts = append(engineOpts, backtest.WithRegime(reg))
	}

	journals, db, err := openJournals(cfg.Journal, opts.DBPath)
	if err != nil {
		return nil, err
	}
	var closers []io.Closer
	if len(journals) > 0 {
		j := journal.Tee(journals...)
		closers = append(closers, j)
		engineOpts = append(engineOpts, backtest.WithJournal(j))
	}
	defer func() {
		for _, c := range closers {
			if cerr := c.Close(); cerr != nil {
				log.Error().Err(cerr).Msg("close journal")
			}
		}
	}()

	var rec *metrics.Recorder
	if path := firstNonEmpty(opts.MetricsOut, cfg.Metrics.TextFile); path != "" {
		rec = metrics.New(ecfg.Instrument, runID)
		rec.SetMode(ecfg.Mode.Initial)
		engineOpts = append(engineOpts, backtest.WithHook(rec))
	}

	eng, err := backtest.NewEngine(bars, src, ecfg, engineOpts...)
	if err != nil {
		return nil, err
	}
	res, err := eng.Run(ctx)
	out := &simOutcome{Result: res}
	if err != nil {
		return out, fmt.Errorf("backtest: %w", err)
	}

	run := res.Summary(ecfg)
	run.Timeframe = cfg.Data.Timeframe
	run.Dataset = filepath.Base(cfg.Data.BarsFile)
	run.Strategy = strategy
	run.RiskProfile = cfg.Risk.Profile
	run.GitCommit = gitCommit()
	run.OrgPath = opts.OrgPath
	if run.Config, err = cfg.Marshal(".yaml"); err != nil {
		return out, err
	}
	if opts.ConfigPath != "" {
		run.NextActions = append(run.NextActions, "config: "+opts.ConfigPath)
	}
	out.Run = run

	if db != nil {
		if err := db.RecordBacktest(ctx, run); err != nil {
			return out, fmt.Errorf("record run: %w", err)
		}
	}
	if run.OrgPath != "" {
		if err := run.WriteBacktestOrg(); err != nil {
			return out, err
		}
	}
	if rec != nil {
		if err := rec.WriteToTextfile(firstNonEmpty(opts.MetricsOut, cfg.Metrics.TextFile)); err != nil {
			return out, err
		}
	}

	log.Info().
		Str("run_id", run.RunID).
		Int("trades", run.Trades).
		Float64("net_pl", run.NetPL).
		Str("final_mode", run.FinalMode).
		Bool("challenge_passed", run.ChallengePassed).
		Msg("backtest complete")
	return out, nil
}

func signalSource(cfg *config.Config, bars []market.Bar) (sig.Source, string, error) {
	switch cfg.Signal.Type {
	case "csv":
		s, err := sig.LoadSeries(cfg.Signal.File, bars)
		if err != nil {
			return nil, "", fmt.Errorf("load signal: %w", err)
		}
		return s, "csv:" + filepath.Base(cfg.Signal.File), nil
	default:
		x, err := sig.NewEMACross(bars, cfg.Signal.EMACross)
		if err != nil {
			return nil, "", fmt.Errorf("signal: %w", err)
		}
		return x, x.Name(), nil
	}
}

// openJournals returns the journals to record into. The SQLite journal is
// also returned on its own so the run summary can be stored.
func openJournals(jc config.JournalConfig, dbPath string) ([]journal.Journal, *journal.SQLite, error) {
	var (
		out []journal.Journal
		db  *journal.SQLite
	)
	fail := func(err error) ([]journal.Journal, *journal.SQLite, error) {
		for _, j := range out {
			_ = j.Close()
		}
		return nil, nil, err
	}

	if jc.Type == "csv" {
		cj, err := journal.NewCSV(jc.TradesFile, jc.EquityFile, jc.ModesFile)
		if err != nil {
			return fail(fmt.Errorf("open csv journal: %w", err))
		}
		out = append(out, cj)
	}

	if dbPath == "" && jc.Type == "sqlite" {
		dbPath = jc.DBPath
	}
	if dbPath != "" {
		var err error
		if db, err = journal.NewSQLite(dbPath); err != nil {
			return fail(fmt.Errorf("open db: %w", err))
		}
		out = append(out, db)
	}
	return out, db, nil
}

func firstNonEmpty(ss ...string) string {
	for _, s := range ss {
		if s != "" {
			return s
		}
	}
	return ""
}
