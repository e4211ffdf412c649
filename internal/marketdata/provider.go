// Package marketdata fetches historical OHLCV data from external vendors and
// turns it into validated price series.
package marketdata

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/amirphl/quant-terminal/internal/candle"
	"github.com/amirphl/quant-terminal/internal/tfutils"
)

var (
	ErrDataUnavailable     = errors.New("market data unavailable")
	ErrUnsupportedProvider = errors.New("unsupported market data provider")
)

// Provider is an external source of historical bars.
type Provider interface {
	Name() string
	// Fetch returns the bars of symbol for the lookback period ending now.
	// It fails with ErrDataUnavailable when the vendor has no data.
	Fetch(ctx context.Context, symbol, lookback, timeframe string) (*candle.Series, error)
}

// Window resolves a lookback period into a [start, end) range ending at now.
func Window(now time.Time, lookback, timeframe string) (time.Time, time.Time, error) {
	if _, err := tfutils.ParseTimeframe(timeframe); err != nil {
		return time.Time{}, time.Time{}, err
	}
	end := now.UTC()
	start, err := tfutils.LookbackStart(end, lookback)
	if err != nil {
		return time.Time{}, time.Time{}, err
	}
	return start, end, nil
}

// buildSeries normalizes raw vendor bars into a Series, or reports the range
// as unavailable when nothing usable is left.
func buildSeries(provider, symbol, timeframe string, raw []candle.Candle, start, end time.Time) (*candle.Series, error) {
	valid := make([]candle.Candle, 0, len(raw))
	for _, c := range raw {
		if c.Validate() == nil {
			valid = append(valid, c)
		}
	}
	cs := candle.Normalize(valid, symbol, timeframe, start, end)
	if len(cs) == 0 {
		return nil, fmt.Errorf("%w: %s returned no %s bars for %s between %s and %s",
			ErrDataUnavailable, provider, timeframe, symbol,
			start.Format(time.DateOnly), end.Format(time.DateOnly))
	}
	return candle.NewSeries(symbol, timeframe, cs)
}

// NormalizeSymbol converts e.g. btc-usdt to BTCUSDT for exchange APIs.
func NormalizeSymbol(symbol string) string {
	return strings.ToUpper(strings.ReplaceAll(strings.ReplaceAll(symbol, "-", ""), "/", ""))
}
