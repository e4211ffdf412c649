// Package db
package db

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/amirphl/quant-terminal/internal/candle"
	"github.com/amirphl/quant-terminal/internal/journal"
)

var ErrNotFound = errors.New("record not found")

// Run is a persisted backtest run. Summary and Ledger are stored as opaque
// JSON documents so the storage layer does not depend on the simulator.
type Run struct {
	ID          string          `json:"id"`
	Symbol      string          `json:"symbol"`
	Strategy    string          `json:"strategy"`
	Timeframe   string          `json:"timeframe"`
	Lookback    string          `json:"lookback"`
	InitialCash float64         `json:"initial_cash"`
	FeeRate     float64         `json:"fee_rate"`
	Params      json.RawMessage `json:"params,omitempty"`
	Summary     json.RawMessage `json:"summary,omitempty"`
	Ledger      json.RawMessage `json:"ledger,omitempty"`
	CreatedAt   time.Time       `json:"created_at"`
}

// CandleStorage persists market data used as a provider cache.
type CandleStorage interface {
	SaveCandles(ctx context.Context, candles []candle.Candle) error
	// GetCandles returns candles in [start, end) ordered by time. An empty
	// source matches every source.
	GetCandles(ctx context.Context, symbol, timeframe, source string, start, end time.Time) ([]candle.Candle, error)
}

// RunStorage persists backtest runs.
type RunStorage interface {
	SaveRun(ctx context.Context, run Run) error
	GetRun(ctx context.Context, id string) (*Run, error)
	// ListRuns returns the newest runs first. An empty symbol matches all.
	ListRuns(ctx context.Context, symbol string, limit int) ([]Run, error)
}

// Storage is the interface for all persistent storage.
type Storage interface {
	CandleStorage
	RunStorage
	journal.Journaler
	Migrate(ctx context.Context) error
	Close() error
}
