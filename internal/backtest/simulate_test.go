package backtest

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/amirphl/quant-terminal/internal/candle"
	"github.com/amirphl/quant-terminal/internal/strategy"
)

var day0 = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

func closeSeries(t *testing.T, closes ...float64) *candle.Series {
	t.Helper()
	cs := make([]candle.Candle, len(closes))
	for i, c := range closes {
		cs[i] = candle.Candle{
			Timestamp: day0.AddDate(0, 0, i),
			Open:      c, High: c + 1, Low: c - 1, Close: c,
			Volume: 1, Symbol: "TEST", Timeframe: "1d",
		}
	}
	s, err := candle.NewSeries("TEST", "1d", cs)
	require.NoError(t, err)
	return s
}

func signalsAt(n int, entries, exits []int) strategy.SignalSeries {
	sig := strategy.NewSignalSeries(n)
	for _, i := range entries {
		sig.Entries[i] = true
	}
	for _, i := range exits {
		sig.Exits[i] = true
	}
	return sig
}

func TestSimulate_RoundTripWithFees(t *testing.T) {
	series := closeSeries(t, 100, 105, 110)
	ledger, err := Simulate(series, signalsAt(3, []int{0}, []int{2}), 10000, 0.001)
	require.NoError(t, err)

	require.Len(t, ledger.Trades, 1)
	tr := ledger.Trades[0]
	assert.InDelta(t, 100.0, tr.Quantity, 1e-9)
	assert.InDelta(t, 10.0, tr.EntryFee, 1e-9)
	assert.InDelta(t, 11.0, tr.ExitFee, 1e-9)
	assert.InDelta(t, 1000.0, tr.GrossPnL, 1e-9)
	assert.InDelta(t, 979.0, tr.NetPnL, 1e-9)
	assert.InDelta(t, 9.79, tr.ReturnPct, 1e-9)
	assert.Equal(t, 0, tr.EntryIndex)
	assert.Equal(t, 2, tr.ExitIndex)
	assert.Equal(t, 2, tr.BarsHeld)
	assert.Equal(t, day0.AddDate(0, 0, 2), tr.ExitTime)

	assert.InDelta(t, 10979.0, ledger.Cash, 1e-9)
	assert.Nil(t, ledger.Open)
	require.Len(t, ledger.Equity, 3)
	assert.InDelta(t, 9990.0, ledger.Equity[0].Equity, 1e-9)
	assert.InDelta(t, 10490.0, ledger.Equity[1].Equity, 1e-9)
	assert.InDelta(t, 10979.0, ledger.Equity[2].Equity, 1e-9)
	assert.True(t, ledger.Equity[1].InMarket)
	assert.False(t, ledger.Equity[2].InMarket)
}

func TestSimulate_Rules(t *testing.T) {
	tests := []struct {
		name       string
		entries    []int
		exits      []int
		wantTrades [][2]int // entry, exit index
		wantOpen   int      // -1 when flat at the end
	}{
		{"no signals", nil, nil, nil, -1},
		{"exit while flat is ignored", nil, []int{1, 3}, nil, -1},
		{"exit wins over entry on the same bar", []int{1}, []int{1}, nil, -1},
		{"no re-entry on the closing bar", []int{0, 2}, []int{2}, [][2]int{{0, 2}}, -1},
		{"entries while long are ignored", []int{0, 1, 2}, []int{3}, [][2]int{{0, 3}}, -1},
		{"still open at the end", []int{1}, nil, nil, 1},
		{"two round trips then open", []int{0, 2, 4}, []int{1, 3}, [][2]int{{0, 1}, {2, 3}}, 4},
	}
	series := closeSeries(t, 10, 11, 12, 11, 13, 14)

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ledger, err := Simulate(series, signalsAt(series.Len(), tt.entries, tt.exits), 1000, 0.001)
			require.NoError(t, err)

			var got [][2]int
			for _, tr := range ledger.Trades {
				got = append(got, [2]int{tr.EntryIndex, tr.ExitIndex})
			}
			assert.Equal(t, tt.wantTrades, got)

			if tt.wantOpen < 0 {
				assert.Nil(t, ledger.Open)
			} else {
				require.NotNil(t, ledger.Open)
				assert.Equal(t, tt.wantOpen, ledger.Open.EntryIndex)
			}

			// never more than one position: trades do not overlap
			for i := 1; i < len(ledger.Trades); i++ {
				assert.Greater(t, ledger.Trades[i].EntryIndex, ledger.Trades[i-1].ExitIndex)
			}
		})
	}
}

func TestSimulate_StillOpenIsMarkedToMarket(t *testing.T) {
	series := closeSeries(t, 100, 100, 120)
	ledger, err := Simulate(series, signalsAt(3, []int{1}, nil), 1000, 0)
	require.NoError(t, err)
	require.NotNil(t, ledger.Open)
	assert.InDelta(t, 0.0, ledger.Cash, 1e-9)
	assert.InDelta(t, 1200.0, ledger.FinalEquity(), 1e-9)
	assert.Equal(t, 120.0, ledger.LastPrice())
}

func TestSimulate_Errors(t *testing.T) {
	series := closeSeries(t, 10, 11, 12)
	ok := strategy.NewSignalSeries(3)

	_, err := Simulate(series, strategy.NewSignalSeries(2), 1000, 0)
	assert.ErrorIs(t, err, ErrLengthMismatch)

	_, err = Simulate(series, strategy.SignalSeries{Entries: make([]bool, 3), Exits: make([]bool, 1)}, 1000, 0)
	assert.ErrorIs(t, err, ErrLengthMismatch)

	_, err = Simulate(series, ok, 0, 0)
	assert.ErrorIs(t, err, ErrInvalidCash)

	_, err = Simulate(series, ok, -5, 0)
	assert.ErrorIs(t, err, ErrInvalidCash)

	_, err = Simulate(series, ok, 1000, 1)
	assert.ErrorIs(t, err, ErrInvalidFee)

	_, err = Simulate(series, ok, 1000, -0.01)
	assert.ErrorIs(t, err, ErrInvalidFee)

	_, err = Simulate(nil, ok, 1000, 0)
	assert.ErrorIs(t, err, ErrEmptySeries)
}
