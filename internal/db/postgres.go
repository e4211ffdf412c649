package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"regexp"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/amirphl/quant-terminal/internal/candle"
	"github.com/amirphl/quant-terminal/internal/db/conf"
	"github.com/amirphl/quant-terminal/internal/journal"
)

// Transaction context key
type txKey struct{}

// WithTransaction adds a transaction to the context
func WithTransaction(ctx context.Context, tx *sql.Tx) context.Context {
	return context.WithValue(ctx, txKey{}, tx)
}

// GetTransaction retrieves a transaction from context, or returns nil if not present
func GetTransaction(ctx context.Context) *sql.Tx {
	if tx, ok := ctx.Value(txKey{}).(*sql.Tx); ok {
		return tx
	}
	return nil
}

// Default is the database/sql backed Storage. It speaks postgres and sqlite.
type Default struct {
	db     *sql.DB
	driver string
}

func New(c conf.Config) (*Default, error) {
	if c.DB == nil {
		return nil, fmt.Errorf("database handle is nil")
	}
	driver := c.Driver
	if driver == "" {
		driver = conf.DriverPostgres
	}
	return &Default{db: c.DB, driver: driver}, nil
}

func (p *Default) GetDB() *sql.DB {
	return p.db
}

func (p *Default) Close() error {
	return p.db.Close()
}

var placeholderRe = regexp.MustCompile(`\$\d+`)

// rebind rewrites $n placeholders to ? for sqlite. Queries in this package
// use every $n exactly once and in order.
func (p *Default) rebind(query string) string {
	if p.driver != conf.DriverSQLite {
		return query
	}
	return placeholderRe.ReplaceAllString(query, "?")
}

// executeWithTransaction executes a function with proper transaction management
// If a transaction exists in context, it uses that. Otherwise, it creates a new one.
func (p *Default) executeWithTransaction(ctx context.Context, fn func(*sql.Tx) error) error {
	if tx := GetTransaction(ctx); tx != nil {
		return fn(tx)
	}

	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	if fnErr := fn(tx); fnErr != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			return fmt.Errorf("transaction rollback failed: %w (original error: %v)", rbErr, fnErr)
		}
		return fnErr
	}

	if commitErr := tx.Commit(); commitErr != nil {
		return fmt.Errorf("transaction commit failed: %w", commitErr)
	}

	return nil
}

// queryWithTransaction executes a query using transaction from context if available
func (p *Default) queryWithTransaction(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	query = p.rebind(query)
	if tx := GetTransaction(ctx); tx != nil {
		return tx.QueryContext(ctx, query, args...)
	}
	return p.db.QueryContext(ctx, query, args...)
}

func (p *Default) queryRowWithTransaction(ctx context.Context, query string, args ...any) *sql.Row {
	query = p.rebind(query)
	if tx := GetTransaction(ctx); tx != nil {
		return tx.QueryRowContext(ctx, query, args...)
	}
	return p.db.QueryRowContext(ctx, query, args...)
}

// Migrate creates the tables if they do not exist.
func (p *Default) Migrate(ctx context.Context) error {
	return p.executeWithTransaction(ctx, func(tx *sql.Tx) error {
		for _, stmt := range schema {
			if _, err := tx.ExecContext(ctx, stmt); err != nil {
				return fmt.Errorf("failed to apply schema statement: %w", err)
			}
		}
		log.WithField("driver", p.driver).Info("database schema is up to date")
		return nil
	})
}

// -------- CandleStorage --------

func (p *Default) SaveCandles(ctx context.Context, candles []candle.Candle) error {
	if len(candles) == 0 {
		return nil
	}

	for i, c := range candles {
		if err := c.Validate(); err != nil {
			return fmt.Errorf("invalid candle at index %d for %s %s at %s: %w",
				i, c.Symbol, c.Timeframe, c.Timestamp, err)
		}
	}

	return p.executeWithTransaction(ctx, func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx, p.rebind(`
			INSERT INTO candles (symbol, timeframe, ts, open, high, low, close, volume, source)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
			ON CONFLICT (symbol, timeframe, ts, source) DO UPDATE SET
				open=EXCLUDED.open, high=EXCLUDED.high, low=EXCLUDED.low,
				close=EXCLUDED.close, volume=EXCLUDED.volume
		`))
		if err != nil {
			return fmt.Errorf("failed to prepare insert statement: %w", err)
		}
		defer stmt.Close()

		for i, c := range candles {
			_, err := stmt.ExecContext(ctx,
				c.Symbol, c.Timeframe, c.Timestamp.UnixMilli(), c.Open, c.High, c.Low, c.Close, c.Volume, c.Source)
			if err != nil {
				return fmt.Errorf("failed to save candle at index %d (%s %s at %s): %w",
					i, c.Symbol, c.Timeframe, c.Timestamp, err)
			}
		}
		return nil
	})
}

func (p *Default) GetCandles(ctx context.Context, symbol, timeframe, source string, start, end time.Time) ([]candle.Candle, error) {
	query := `
		SELECT ts, open, high, low, close, volume, symbol, timeframe, source
		FROM candles
		WHERE symbol=$1 AND timeframe=$2 AND ts >= $3 AND ts < $4`
	args := []any{symbol, timeframe, start.UnixMilli(), end.UnixMilli()}
	if source != "" {
		query += ` AND source=$5`
		args = append(args, source)
	}
	query += ` ORDER BY ts ASC`

	rows, err := p.queryWithTransaction(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query candles: %w", err)
	}
	defer rows.Close()

	var out []candle.Candle
	for rows.Next() {
		var c candle.Candle
		var ts int64
		if err := rows.Scan(&ts, &c.Open, &c.High, &c.Low, &c.Close, &c.Volume, &c.Symbol, &c.Timeframe, &c.Source); err != nil {
			return nil, fmt.Errorf("failed to scan candle: %w", err)
		}
		c.Timestamp = time.UnixMilli(ts).UTC()
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate candles: %w", err)
	}
	return out, nil
}

// -------- RunStorage --------

func rawOrEmpty(b json.RawMessage) string {
	if len(b) == 0 {
		return "{}"
	}
	return string(b)
}

func (p *Default) SaveRun(ctx context.Context, run Run) error {
	if run.ID == "" {
		return fmt.Errorf("run id is required")
	}
	return p.executeWithTransaction(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, p.rebind(`
			INSERT INTO backtest_runs (id, symbol, strategy, timeframe, lookback, initial_cash, fee_rate, params, summary, ledger, created_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
			ON CONFLICT (id) DO UPDATE SET
				summary=EXCLUDED.summary, ledger=EXCLUDED.ledger, params=EXCLUDED.params`),
			run.ID, run.Symbol, run.Strategy, run.Timeframe, run.Lookback, run.InitialCash, run.FeeRate,
			rawOrEmpty(run.Params), rawOrEmpty(run.Summary), rawOrEmpty(run.Ledger), run.CreatedAt.UnixMilli())
		if err != nil {
			return fmt.Errorf("failed to save run %s: %w", run.ID, err)
		}
		return nil
	})
}

const runColumns = `id, symbol, strategy, timeframe, lookback, initial_cash, fee_rate, params, summary, ledger, created_at`

type scanner interface {
	Scan(dest ...any) error
}

func scanRun(s scanner) (Run, error) {
	var r Run
	var params, summary, ledger string
	var created int64
	err := s.Scan(&r.ID, &r.Symbol, &r.Strategy, &r.Timeframe, &r.Lookback, &r.InitialCash, &r.FeeRate,
		&params, &summary, &ledger, &created)
	if err != nil {
		return r, err
	}
	r.Params = json.RawMessage(params)
	r.Summary = json.RawMessage(summary)
	r.Ledger = json.RawMessage(ledger)
	r.CreatedAt = time.UnixMilli(created).UTC()
	return r, nil
}

func (p *Default) GetRun(ctx context.Context, id string) (*Run, error) {
	row := p.queryRowWithTransaction(ctx, `SELECT `+runColumns+` FROM backtest_runs WHERE id=$1`, id)
	r, err := scanRun(row)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("run %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get run %s: %w", id, err)
	}
	return &r, nil
}

func (p *Default) ListRuns(ctx context.Context, symbol string, limit int) ([]Run, error) {
	query := `SELECT ` + runColumns + ` FROM backtest_runs`
	var args []any
	if symbol != "" {
		query += ` WHERE symbol=$1`
		args = append(args, symbol)
	}
	query += ` ORDER BY created_at DESC`
	if limit > 0 {
		query += fmt.Sprintf(` LIMIT %d`, limit)
	}

	rows, err := p.queryWithTransaction(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	defer rows.Close()

	var out []Run
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// -------- Journaler --------

func (p *Default) LogEvent(ctx context.Context, event journal.Event) error {
	return p.executeWithTransaction(ctx, func(tx *sql.Tx) error {
		data, err := json.Marshal(event.Data)
		if err != nil {
			return fmt.Errorf("failed to encode event data: %w", err)
		}
		_, err = tx.ExecContext(ctx, p.rebind(`INSERT INTO events (ts, type, description, data) VALUES ($1,$2,$3,$4)`),
			event.Time.UnixMilli(), event.Type, event.Description, string(data))
		if err != nil {
			return fmt.Errorf("failed to log event: %w", err)
		}
		return nil
	})
}

func (p *Default) GetEvents(ctx context.Context, eventType string, start, end time.Time) ([]journal.Event, error) {
	rows, err := p.queryWithTransaction(ctx,
		`SELECT ts, type, description, data FROM events WHERE type=$1 AND ts >= $2 AND ts < $3 ORDER BY ts ASC`,
		eventType, start.UnixMilli(), end.UnixMilli())
	if err != nil {
		return nil, fmt.Errorf("failed to query events: %w", err)
	}
	defer rows.Close()

	var events []journal.Event
	for rows.Next() {
		var e journal.Event
		var ts int64
		var data string
		if err := rows.Scan(&ts, &e.Type, &e.Description, &data); err != nil {
			return nil, fmt.Errorf("failed to scan event: %w", err)
		}
		if err := json.Unmarshal([]byte(data), &e.Data); err != nil {
			log.WithError(err).WithField("type", e.Type).Warn("dropping undecodable event data")
		}
		e.Time = time.UnixMilli(ts).UTC()
		events = append(events, e)
	}
	return events, rows.Err()
}
