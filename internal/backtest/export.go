package backtest

import (
	"fmt"
	"io"
	"time"

	"github.com/gocarina/gocsv"
	"github.com/parquet-go/parquet-go"
)

type tradeRow struct {
	Number     int     `csv:"trade"`
	EntryTime  string  `csv:"entry_time"`
	EntryPrice float64 `csv:"entry_price"`
	ExitTime   string  `csv:"exit_time"`
	ExitPrice  float64 `csv:"exit_price"`
	Quantity   float64 `csv:"quantity"`
	Fees       float64 `csv:"fees"`
	NetPnL     float64 `csv:"net_pnl"`
	ReturnPct  float64 `csv:"return_pct"`
	BarsHeld   int     `csv:"bars_held"`
	Status     string  `csv:"status"`
}

type equityRow struct {
	Step   int     `csv:"step"`
	Time   string  `csv:"time"`
	Close  float64 `csv:"close"`
	Cash   float64 `csv:"cash"`
	Equity float64 `csv:"equity"`
}

// EquityRecord is the parquet layout of one equity curve point.
type EquityRecord struct {
	Symbol    string  `parquet:"symbol"`
	Timestamp int64   `parquet:"timestamp,timestamp(millisecond)"` // Unix ms
	Close     float64 `parquet:"close"`
	Cash      float64 `parquet:"cash"`
	Equity    float64 `parquet:"equity"`
	InMarket  bool    `parquet:"in_market"`
}

func tradeRows(ledger *Ledger) []*tradeRow {
	rows := make([]*tradeRow, 0, len(ledger.Trades)+1)
	for i, t := range ledger.Trades {
		rows = append(rows, &tradeRow{
			Number:     i + 1,
			EntryTime:  t.EntryTime.Format(time.RFC3339),
			EntryPrice: t.EntryPrice,
			ExitTime:   t.ExitTime.Format(time.RFC3339),
			ExitPrice:  t.ExitPrice,
			Quantity:   t.Quantity,
			Fees:       t.Fees(),
			NetPnL:     t.NetPnL,
			ReturnPct:  t.ReturnPct,
			BarsHeld:   t.BarsHeld,
			Status:     "closed",
		})
	}
	if p := ledger.Open; p != nil {
		rows = append(rows, &tradeRow{
			Number:     len(ledger.Trades) + 1,
			EntryTime:  p.EntryTime.Format(time.RFC3339),
			EntryPrice: p.EntryPrice,
			Quantity:   p.Quantity,
			Fees:       p.EntryFee,
			BarsHeld:   len(ledger.Equity) - 1 - p.EntryIndex,
			Status:     "open",
		})
	}
	return rows
}

// WriteTradesCSV writes the trade log, including a still-open position.
func WriteTradesCSV(w io.Writer, ledger *Ledger) error {
	rows := tradeRows(ledger)
	if err := gocsv.Marshal(&rows, w); err != nil {
		return fmt.Errorf("writing trades csv: %w", err)
	}
	return nil
}

// WriteEquityCSV writes the per-bar equity curve.
func WriteEquityCSV(w io.Writer, ledger *Ledger) error {
	rows := make([]*equityRow, len(ledger.Equity))
	for i, p := range ledger.Equity {
		rows[i] = &equityRow{
			Step:   i + 1,
			Time:   p.Time.Format(time.RFC3339),
			Close:  p.Close,
			Cash:   p.Cash,
			Equity: p.Equity,
		}
	}
	if err := gocsv.Marshal(&rows, w); err != nil {
		return fmt.Errorf("writing equity csv: %w", err)
	}
	return nil
}

// WriteParquet writes the equity curve to a parquet file at path.
func WriteParquet(path string, ledger *Ledger) error {
	records := make([]EquityRecord, len(ledger.Equity))
	for i, p := range ledger.Equity {
		records[i] = EquityRecord{
			Symbol:    ledger.Symbol,
			Timestamp: p.Time.UnixMilli(),
			Close:     p.Close,
			Cash:      p.Cash,
			Equity:    p.Equity,
			InMarket:  p.InMarket,
		}
	}
	if err := parquet.WriteFile(path, records); err != nil {
		return fmt.Errorf("writing parquet %s: %w", path, err)
	}
	return nil
}

// ReadParquet loads an equity curve written by WriteParquet.
func ReadParquet(path string) ([]EquityRecord, error) {
	records, err := parquet.ReadFile[EquityRecord](path)
	if err != nil {
		return nil, fmt.Errorf("reading parquet %s: %w", path, err)
	}
	return records, nil
}
