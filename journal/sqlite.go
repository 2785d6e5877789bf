package journal

import (
	"context"
	"database/sql"
	"fmt"
	"math"
	"strings"

	_ "github.com/mattn/go-sqlite3"
)

type SQLite struct {
	db *sql.DB
}

func NewSQLite(path string) (*SQLite, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, err
	}

	if _, err := db.Exec(Schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("journal: create schema: %w", err)
	}

	return &SQLite{db: db}, nil
}

const tradeColumns = `trade_id, run_id, instrument, side, units, entry_price, exit_price, stop, target,
	open_time, close_time, gross_pl, commission, slippage, realized_pl, risk_pct, mode, reason`

func (j *SQLite) RecordTrade(t TradeRecord) error {
	_, err := j.db.Exec(`
		INSERT INTO trades (`+tradeColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		t.TradeID, t.RunID, t.Instrument, t.Side, t.Units, t.EntryPrice, t.ExitPrice,
		t.Stop, t.Target, t.OpenTime, t.CloseTime, t.GrossPL, t.Commission,
		t.Slippage, t.RealizedPL, t.RiskPct, t.Mode, t.Reason,
	)
	if err != nil {
		return fmt.Errorf("journal: record trade %s: %w", t.TradeID, err)
	}
	return nil
}

func (j *SQLite) RecordEquity(e EquitySnapshot) error {
	_, err := j.db.Exec(`
		INSERT INTO equity (run_id, time, balance, equity)
		VALUES (?, ?, ?, ?)`,
		e.RunID, e.Time, e.Balance, e.Equity,
	)
	return err
}

func (j *SQLite) RecordModeChange(m ModeChange) error {
	_, err := j.db.Exec(`
		INSERT INTO mode_changes (run_id, time, from_mode, to_mode, reason, balance, drawdown)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		m.RunID, m.Time, m.From, m.To, m.Reason, m.Balance, m.Drawdown,
	)
	return err
}

const runColumns = `run_id, created, timeframe, dataset, instrument, strategy, config,
	risk_profile, risk_pct, stop_atr, target_atr, start_time, end_time,
	trades, wins, losses, start_balance, end_balance, net_pl, return_pct, win_rate,
	profit_factor, max_dd_pct, sharpe, sortino, final_mode, challenge_passed,
	compliant, violations, git_commit, org_path, notes, next_actions`

// RecordBacktest stores a run summary, replacing any run with the same ID.
func (j *SQLite) RecordBacktest(ctx context.Context, btr BacktestRun) error {
	_, err := j.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO backtest_runs (`+runColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		btr.RunID, btr.Created, btr.Timeframe, btr.Dataset, btr.Instrument, btr.Strategy, btr.Config,
		btr.RiskProfile, btr.RiskPct, btr.StopATR, btr.TargetATR, btr.Start, btr.End,
		btr.Trades, btr.Wins, btr.Losses, btr.StartBalance, btr.EndBalance, btr.NetPL,
		btr.ReturnPct, btr.WinRate, nullable(btr.ProfitFactor), btr.MaxDDPct,
		nullable(btr.Sharpe), nullable(btr.Sortino), btr.FinalMode, btr.ChallengePassed,
		btr.Compliant, btr.Violations, btr.GitCommit, btr.OrgPath,
		strings.Join(btr.Notes, "\n"), strings.Join(btr.NextActions, "\n"),
	)
	if err != nil {
		return fmt.Errorf("journal: record backtest %s: %w", btr.RunID, err)
	}
	return nil
}

func (j *SQLite) GetBacktestRun(ctx context.Context, runID string) (BacktestRun, error) {
	row := j.db.QueryRowContext(ctx, `SELECT `+runColumns+` FROM backtest_runs WHERE run_id = ?`, runID)
	btr, err := scanRun(row)
	if err == sql.ErrNoRows {
		return BacktestRun{}, fmt.Errorf("backtest run %q not found", runID)
	}
	return btr, err
}

// ListBacktestRuns returns the most recent runs first. limit <= 0 means all.
func (j *SQLite) ListBacktestRuns(ctx context.Context, limit int) ([]BacktestRun, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := j.db.QueryContext(ctx, `
		SELECT `+runColumns+` FROM backtest_runs
		ORDER BY created DESC, run_id DESC
		LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []BacktestRun
	for rows.Next() {
		btr, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, btr)
	}
	return out, rows.Err()
}

func (j *SQLite) ListTradesByRunID(ctx context.Context, runID string) ([]TradeRecord, error) {
	rows, err := j.db.QueryContext(ctx, `
		SELECT `+tradeColumns+` FROM trades
		WHERE run_id = ?
		ORDER BY close_time ASC`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanTrades(rows)
}

func (j *SQLite) ListEquityByRunID(ctx context.Context, runID string) ([]EquitySnapshot, error) {
	rows, err := j.db.QueryContext(ctx, `
		SELECT run_id, time, balance, equity FROM equity
		WHERE run_id = ?
		ORDER BY time ASC`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []EquitySnapshot
	for rows.Next() {
		var e EquitySnapshot
		if err := rows.Scan(&e.RunID, &e.Time, &e.Balance, &e.Equity); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (j *SQLite) ListModeChangesByRunID(ctx context.Context, runID string) ([]ModeChange, error) {
	rows, err := j.db.QueryContext(ctx, `
		SELECT run_id, time, from_mode, to_mode, reason, balance, drawdown FROM mode_changes
		WHERE run_id = ?
		ORDER BY time ASC`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []ModeChange
	for rows.Next() {
		var m ModeChange
		if err := rows.Scan(&m.RunID, &m.Time, &m.From, &m.To, &m.Reason, &m.Balance, &m.Drawdown); err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

func (j *SQLite) Close() error {
	return j.db.Close()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRun(s scanner) (BacktestRun, error) {
	var (
		btr                 BacktestRun
		pf, sharpe, sortino sql.NullFloat64
		notes, nextActions  string
	)
	err := s.Scan(
		&btr.RunID, &btr.Created, &btr.Timeframe, &btr.Dataset, &btr.Instrument, &btr.Strategy, &btr.Config,
		&btr.RiskProfile, &btr.RiskPct, &btr.StopATR, &btr.TargetATR, &btr.Start, &btr.End,
		&btr.Trades, &btr.Wins, &btr.Losses, &btr.StartBalance, &btr.EndBalance, &btr.NetPL,
		&btr.ReturnPct, &btr.WinRate, &pf, &btr.MaxDDPct, &sharpe, &sortino, &btr.FinalMode,
		&btr.ChallengePassed, &btr.Compliant, &btr.Violations, &btr.GitCommit, &btr.OrgPath,
		&notes, &nextActions,
	)
	if err != nil {
		return BacktestRun{}, err
	}
	btr.ProfitFactor = fromNullable(pf)
	btr.Sharpe = fromNullable(sharpe)
	btr.Sortino = fromNullable(sortino)
	btr.Notes = splitLines(notes)
	btr.NextActions = splitLines(nextActions)
	return btr, nil
}

func scanTrades(rows *sql.Rows) ([]TradeRecord, error) {
	var out []TradeRecord
	for rows.Next() {
		rec, err := scanTrade(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

func scanTrade(s scanner) (TradeRecord, error) {
	var rec TradeRecord
	err := s.Scan(
		&rec.TradeID, &rec.RunID, &rec.Instrument, &rec.Side, &rec.Units,
		&rec.EntryPrice, &rec.ExitPrice, &rec.Stop, &rec.Target,
		&rec.OpenTime, &rec.CloseTime, &rec.GrossPL, &rec.Commission,
		&rec.Slippage, &rec.RealizedPL, &rec.RiskPct, &rec.Mode, &rec.Reason,
	)
	return rec, err
}

// SQLite has no representation for Inf, so non-finite ratios are stored
// as NULL. The analyzer only ever produces +Inf, which is what NULL reads
// back as.
func nullable(x float64) sql.NullFloat64 {
	if math.IsNaN(x) || math.IsInf(x, 0) {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: x, Valid: true}
}

func fromNullable(n sql.NullFloat64) float64 {
	if !n.Valid {
		return math.Inf(1)
	}
	return n.Float64
}

func splitLines(s string) []string {
	if s == "" {
		return nil
	}
	return strings.Split(s, "\n")
}
