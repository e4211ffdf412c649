// Package backtest replays strategy signals against a simulated long-only
// portfolio and summarizes the outcome.
package backtest

import (
	"errors"
	"fmt"
	"time"

	"github.com/amirphl/quant-terminal/internal/candle"
	"github.com/amirphl/quant-terminal/internal/strategy"
)

var (
	ErrLengthMismatch = errors.New("signal series length does not match price series")
	ErrInvalidCash    = errors.New("initial cash must be positive")
	ErrInvalidFee     = errors.New("fee rate must be in [0, 1)")
	ErrEmptySeries    = candle.ErrEmptySeries
)

// Position is the single open long position of a simulation.
type Position struct {
	EntryIndex int       `json:"entry_index"`
	EntryTime  time.Time `json:"entry_time"`
	EntryPrice float64   `json:"entry_price"`
	Quantity   float64   `json:"quantity"`
	EntryFee   float64   `json:"entry_fee"`
}

// MarketValue is the position's value at price.
func (p *Position) MarketValue(price float64) float64 {
	return p.Quantity * price
}

// Trade is a closed round trip.
type Trade struct {
	EntryIndex int       `json:"entry_index" csv:"entry_index"`
	ExitIndex  int       `json:"exit_index" csv:"exit_index"`
	EntryTime  time.Time `json:"entry_time" csv:"entry_time"`
	ExitTime   time.Time `json:"exit_time" csv:"exit_time"`
	EntryPrice float64   `json:"entry_price" csv:"entry_price"`
	ExitPrice  float64   `json:"exit_price" csv:"exit_price"`
	Quantity   float64   `json:"quantity" csv:"quantity"`
	EntryFee   float64   `json:"entry_fee" csv:"entry_fee"`
	ExitFee    float64   `json:"exit_fee" csv:"exit_fee"`
	GrossPnL   float64   `json:"gross_pnl" csv:"gross_pnl"`
	NetPnL     float64   `json:"net_pnl" csv:"net_pnl"`
	ReturnPct  float64   `json:"return_pct" csv:"return_pct"` // net P&L over entry notional, in percent
	BarsHeld   int       `json:"bars_held" csv:"bars_held"`
}

func (t Trade) Fees() float64 { return t.EntryFee + t.ExitFee }

// EquityPoint is the portfolio value at the close of one bar.
type EquityPoint struct {
	Time     time.Time `json:"time" csv:"time"`
	Close    float64   `json:"close" csv:"close"`
	Cash     float64   `json:"cash" csv:"cash"`
	Equity   float64   `json:"equity" csv:"equity"`
	InMarket bool      `json:"in_market" csv:"in_market"`
}

// Ledger is the full record of one simulation run.
type Ledger struct {
	Symbol      string        `json:"symbol"`
	Timeframe   string        `json:"timeframe"`
	InitialCash float64       `json:"initial_cash"`
	FeeRate     float64       `json:"fee_rate"`
	Cash        float64       `json:"cash"`
	Trades      []Trade       `json:"trades"`
	Open        *Position     `json:"open,omitempty"`
	Equity      []EquityPoint `json:"equity"`
}

// LastPrice is the close of the final bar.
func (l *Ledger) LastPrice() float64 {
	if len(l.Equity) == 0 {
		return 0
	}
	return l.Equity[len(l.Equity)-1].Close
}

// FinalEquity is cash plus the market value of any still-open position.
func (l *Ledger) FinalEquity() float64 {
	if l.Open == nil {
		return l.Cash
	}
	return l.Cash + l.Open.MarketValue(l.LastPrice())
}

// Simulate walks series once from left to right. An entry flag opens a long
// position with all available cash at the bar's close; an exit flag closes
// it at the bar's close. When both flags are set on one bar the exit wins and
// no new position is opened on that bar. A position open after the last bar is
// left in Ledger.Open.
func Simulate(series *candle.Series, signals strategy.SignalSeries, initialCash, feeRate float64) (*Ledger, error) {
	if series == nil || series.Len() == 0 {
		return nil, ErrEmptySeries
	}
	if signals.Len() != series.Len() || len(signals.Exits) != series.Len() {
		return nil, fmt.Errorf("%w: %d prices, %d entries, %d exits",
			ErrLengthMismatch, series.Len(), signals.Len(), len(signals.Exits))
	}
	if !(initialCash > 0) {
		return nil, fmt.Errorf("%w: %v", ErrInvalidCash, initialCash)
	}
	if !(feeRate >= 0 && feeRate < 1) {
		return nil, fmt.Errorf("%w: %v", ErrInvalidFee, feeRate)
	}

	ledger := &Ledger{
		Symbol:      series.Symbol(),
		Timeframe:   series.Timeframe(),
		InitialCash: initialCash,
		FeeRate:     feeRate,
		Cash:        initialCash,
		Equity:      make([]EquityPoint, 0, series.Len()),
	}

	var pos *Position
	for i := 0; i < series.Len(); i++ {
		bar := series.At(i)
		price := bar.Close

		switch {
		case signals.Exits[i]:
			if pos != nil {
				ledger.Trades = append(ledger.Trades, closePosition(ledger, pos, i, bar))
				pos = nil
			}
		case signals.Entries[i] && pos == nil:
			pos = openPosition(ledger, i, bar)
		}

		point := EquityPoint{Time: bar.Timestamp, Close: price, Cash: ledger.Cash, Equity: ledger.Cash}
		if pos != nil {
			point.Equity += pos.MarketValue(price)
			point.InMarket = true
		}
		ledger.Equity = append(ledger.Equity, point)
	}

	ledger.Open = pos
	return ledger, nil
}

func openPosition(ledger *Ledger, i int, bar candle.Candle) *Position {
	qty := ledger.Cash / bar.Close
	notional := qty * bar.Close
	fee := ledger.FeeRate * notional
	ledger.Cash -= notional + fee
	return &Position{
		EntryIndex: i,
		EntryTime:  bar.Timestamp,
		EntryPrice: bar.Close,
		Quantity:   qty,
		EntryFee:   fee,
	}
}

func closePosition(ledger *Ledger, pos *Position, i int, bar candle.Candle) Trade {
	notional := pos.Quantity * bar.Close
	fee := ledger.FeeRate * notional
	ledger.Cash += notional - fee

	entryNotional := pos.Quantity * pos.EntryPrice
	gross := notional - entryNotional
	net := gross - pos.EntryFee - fee
	ret := 0.0
	if entryNotional > 0 {
		ret = net / entryNotional * 100
	}
	return Trade{
		EntryIndex: pos.EntryIndex,
		ExitIndex:  i,
		EntryTime:  pos.EntryTime,
		ExitTime:   bar.Timestamp,
		EntryPrice: pos.EntryPrice,
		ExitPrice:  bar.Close,
		Quantity:   pos.Quantity,
		EntryFee:   pos.EntryFee,
		ExitFee:    fee,
		GrossPnL:   gross,
		NetPnL:     net,
		ReturnPct:  ret,
		BarsHeld:   i - pos.EntryIndex,
	}
}
