package marketdata

import (
	"context"
	"fmt"
	"strconv"
	"time"

	log "github.com/sirupsen/logrus"
	wallex "github.com/wallexchange/wallex-go"

	"github.com/amirphl/quant-terminal/internal/candle"
)

// wallexCandles is the part of the Wallex client the provider needs.
type wallexCandles interface {
	Candles(symbol, resolution string, from, to time.Time) ([]*wallex.Candle, error)
}

// WallexProvider reads OHLC history from the Wallex exchange. Timeframes the
// exchange does not serve natively are resampled from a finer one.
type WallexProvider struct {
	client wallexCandles
	Retry  RetryPolicy
	Now    func() time.Time
}

func NewWallexProvider(apiKey string, retry RetryPolicy) *WallexProvider {
	return &WallexProvider{
		client: wallex.New(wallex.ClientOptions{APIKey: apiKey}),
		Retry:  retry,
		Now:    time.Now,
	}
}

func (w *WallexProvider) Name() string { return "wallex" }

// wallexResolution returns the native resolution to request and the
// timeframe of the bars it yields.
func wallexResolution(timeframe string) (resolution, base string, err error) {
	switch timeframe {
	case "1m":
		return "1", "1m", nil
	case "5m":
		return "5", "5m", nil
	case "15m":
		return "15", "15m", nil
	case "30m":
		return "30", "30m", nil
	case "1h", "4h":
		return "60", "1h", nil
	case "1d", "1w":
		return "1D", "1d", nil
	default:
		return "", "", fmt.Errorf("unsupported timeframe: %s", timeframe)
	}
}

func (w *WallexProvider) Fetch(ctx context.Context, symbol, lookback, timeframe string) (*candle.Series, error) {
	start, end, err := Window(w.Now(), lookback, timeframe)
	if err != nil {
		return nil, err
	}
	resolution, base, err := wallexResolution(timeframe)
	if err != nil {
		return nil, err
	}

	var wallexCandles []*wallex.Candle
	err = w.Retry.do(ctx, w.Name(), func() error {
		var err error
		wallexCandles, err = w.client.Candles(NormalizeSymbol(symbol), resolution, start, end)
		if err != nil {
			return retryable(fmt.Errorf("fetching candles: %w", err))
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("wallex candles for %s: %w", symbol, err)
	}

	var candles []candle.Candle
	for _, wc := range wallexCandles {
		if wc == nil {
			continue
		}
		open, _ := strconv.ParseFloat(string(wc.Open), 64)
		high, _ := strconv.ParseFloat(string(wc.High), 64)
		low, _ := strconv.ParseFloat(string(wc.Low), 64)
		close, _ := strconv.ParseFloat(string(wc.Close), 64)
		volume, _ := strconv.ParseFloat(string(wc.Volume), 64)

		c := candle.Candle{
			Timestamp: wc.Timestamp.UTC().Truncate(time.Minute),
			Open:      open,
			High:      high,
			Low:       low,
			Close:     close,
			Volume:    volume,
			Symbol:    symbol,
			Timeframe: base,
			Source:    w.Name(),
		}
		if err := c.Validate(); err != nil {
			continue
		}
		candles = append(candles, c)
	}

	if base != timeframe {
		candles, err = candle.Resample(candles, timeframe)
		if err != nil {
			return nil, fmt.Errorf("resampling wallex %s candles to %s: %w", base, timeframe, err)
		}
	}

	log.WithFields(log.Fields{"symbol": symbol, "timeframe": timeframe, "candles": len(candles)}).Debug("fetched wallex candles")
	return buildSeries(w.Name(), symbol, timeframe, candles, start, end)
}
