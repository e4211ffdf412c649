package db

// schema is valid for both postgres and sqlite. Timestamps are unix
// milliseconds so both drivers round-trip them identically.
var schema = []string{
	`CREATE TABLE IF NOT EXISTS candles (
		symbol    TEXT NOT NULL,
		timeframe TEXT NOT NULL,
		ts        BIGINT NOT NULL,
		open      DOUBLE PRECISION NOT NULL,
		high      DOUBLE PRECISION NOT NULL,
		low       DOUBLE PRECISION NOT NULL,
		close     DOUBLE PRECISION NOT NULL,
		volume    DOUBLE PRECISION NOT NULL,
		source    TEXT NOT NULL DEFAULT '',
		PRIMARY KEY (symbol, timeframe, ts, source)
	)`,
	`CREATE TABLE IF NOT EXISTS backtest_runs (
		id           TEXT PRIMARY KEY,
		symbol       TEXT NOT NULL,
		strategy     TEXT NOT NULL,
		timeframe    TEXT NOT NULL,
		lookback     TEXT NOT NULL,
		initial_cash DOUBLE PRECISION NOT NULL,
		fee_rate     DOUBLE PRECISION NOT NULL,
		params       TEXT NOT NULL DEFAULT '{}',
		summary      TEXT NOT NULL DEFAULT '{}',
		ledger       TEXT NOT NULL DEFAULT '{}',
		created_at   BIGINT NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_backtest_runs_symbol ON backtest_runs (symbol, created_at)`,
	`CREATE TABLE IF NOT EXISTS events (
		ts          BIGINT NOT NULL,
		type        TEXT NOT NULL,
		description TEXT NOT NULL,
		data        TEXT NOT NULL DEFAULT '{}'
	)`,
	`CREATE INDEX IF NOT EXISTS idx_events_type_ts ON events (type, ts)`,
}
