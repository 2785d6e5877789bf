package journal

const Schema = `
CREATE TABLE IF NOT EXISTS trades (
	trade_id TEXT PRIMARY KEY,
	run_id TEXT NOT NULL DEFAULT '',
	instrument TEXT NOT NULL,
	side TEXT NOT NULL,
	units REAL NOT NULL,
	entry_price REAL NOT NULL,
	exit_price REAL NOT NULL,
	stop REAL NOT NULL,
	target REAL NOT NULL,
	open_time DATETIME NOT NULL,
	close_time DATETIME NOT NULL,
	gross_pl REAL NOT NULL,
	commission REAL NOT NULL,
	slippage REAL NOT NULL,
	realized_pl REAL NOT NULL,
	risk_pct REAL NOT NULL,
	mode TEXT NOT NULL,
	reason TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_trades_run ON trades(run_id);
CREATE INDEX IF NOT EXISTS idx_trades_close ON trades(close_time);

CREATE TABLE IF NOT EXISTS equity (
	run_id TEXT NOT NULL DEFAULT '',
	time DATETIME NOT NULL,
	balance REAL NOT NULL,
	equity REAL NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_equity_time ON equity(run_id, time);

CREATE TABLE IF NOT EXISTS mode_changes (
	run_id TEXT NOT NULL DEFAULT '',
	time DATETIME NOT NULL,
	from_mode TEXT NOT NULL,
	to_mode TEXT NOT NULL,
	reason TEXT NOT NULL,
	balance REAL NOT NULL,
	drawdown REAL NOT NULL
);

CREATE TABLE IF NOT EXISTS backtest_runs (
	run_id TEXT PRIMARY KEY,
	created DATETIME NOT NULL,
	timeframe TEXT NOT NULL,
	dataset TEXT NOT NULL,
	instrument TEXT NOT NULL,
	strategy TEXT NOT NULL,
	config BLOB,
	risk_profile TEXT NOT NULL,
	risk_pct REAL NOT NULL,
	stop_atr REAL NOT NULL,
	target_atr REAL NOT NULL,
	start_time DATETIME NOT NULL,
	end_time DATETIME NOT NULL,
	trades INTEGER NOT NULL,
	wins INTEGER NOT NULL,
	losses INTEGER NOT NULL,
	start_balance REAL NOT NULL,
	end_balance REAL NOT NULL,
	net_pl REAL NOT NULL,
	return_pct REAL NOT NULL,
	win_rate REAL NOT NULL,
	profit_factor REAL,
	max_dd_pct REAL NOT NULL,
	sharpe REAL,
	sortino REAL,
	final_mode TEXT NOT NULL,
	challenge_passed INTEGER NOT NULL,
	compliant INTEGER NOT NULL,
	violations INTEGER NOT NULL,
	git_commit TEXT NOT NULL,
	org_path TEXT NOT NULL,
	notes TEXT NOT NULL,
	next_actions TEXT NOT NULL
);
`
