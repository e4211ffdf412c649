package marketdata

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/alpacahq/alpaca-trade-api-go/v3/marketdata"
	log "github.com/sirupsen/logrus"

	"github.com/amirphl/quant-terminal/internal/candle"
)

// AlpacaProvider reads historical bars from the Alpaca market data API.
type AlpacaProvider struct {
	Client *marketdata.Client
	Feed   marketdata.Feed
	Now    func() time.Time
}

func NewAlpacaProvider(apiKey, apiSecret, dataURL, feed string) *AlpacaProvider {
	opts := marketdata.ClientOpts{
		APIKey:    apiKey,
		APISecret: apiSecret,
	}
	if dataURL != "" {
		opts.BaseURL = dataURL
	}
	return &AlpacaProvider{
		Client: marketdata.NewClient(opts),
		Feed:   marketdata.Feed(feed),
		Now:    time.Now,
	}
}

func (a *AlpacaProvider) Name() string { return "alpaca" }

func alpacaTimeFrame(timeframe string) (marketdata.TimeFrame, error) {
	switch timeframe {
	case "1m":
		return marketdata.OneMin, nil
	case "5m":
		return marketdata.NewTimeFrame(5, marketdata.Min), nil
	case "15m":
		return marketdata.NewTimeFrame(15, marketdata.Min), nil
	case "30m":
		return marketdata.NewTimeFrame(30, marketdata.Min), nil
	case "1h":
		return marketdata.OneHour, nil
	case "4h":
		return marketdata.NewTimeFrame(4, marketdata.Hour), nil
	case "1d":
		return marketdata.OneDay, nil
	case "1w":
		return marketdata.NewTimeFrame(1, marketdata.Week), nil
	default:
		return marketdata.TimeFrame{}, fmt.Errorf("unsupported timeframe: %s", timeframe)
	}
}

func (a *AlpacaProvider) Fetch(ctx context.Context, symbol, lookback, timeframe string) (*candle.Series, error) {
	start, end, err := Window(a.Now(), lookback, timeframe)
	if err != nil {
		return nil, err
	}
	tf, err := alpacaTimeFrame(timeframe)
	if err != nil {
		return nil, err
	}
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}

	bars, err := a.Client.GetBars(strings.ToUpper(symbol), marketdata.GetBarsRequest{
		TimeFrame: tf,
		Start:     start,
		End:       end,
		Feed:      a.Feed,
	})
	if err != nil {
		return nil, fmt.Errorf("GetBars %s: %w", symbol, err)
	}

	out := make([]candle.Candle, 0, len(bars))
	for _, b := range bars {
		out = append(out, candle.Candle{
			Timestamp: b.Timestamp.UTC(),
			Open:      b.Open,
			High:      b.High,
			Low:       b.Low,
			Close:     b.Close,
			Volume:    float64(b.Volume),
			Symbol:    symbol,
			Timeframe: timeframe,
			Source:    a.Name(),
		})
	}

	log.WithFields(log.Fields{"symbol": symbol, "timeframe": timeframe, "bars": len(out)}).Debug("fetched alpaca bars")
	return buildSeries(a.Name(), symbol, timeframe, out, start, end)
}
