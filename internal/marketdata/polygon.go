package marketdata

import (
	"context"
	"fmt"
	"net/http"
	"time"

	polygon "github.com/polygon-io/client-go/rest"
	"github.com/polygon-io/client-go/rest/models"
	log "github.com/sirupsen/logrus"

	"github.com/amirphl/quant-terminal/internal/candle"
)

// PolygonProvider reads aggregate bars from the Polygon.io REST API.
type PolygonProvider struct {
	Client *polygon.Client
	Now    func() time.Time
}

func NewPolygonProvider(apiKey string) *PolygonProvider {
	return &PolygonProvider{
		Client: polygon.NewWithClient(apiKey, &http.Client{Timeout: 30 * time.Second}),
		Now:    time.Now,
	}
}

func (p *PolygonProvider) Name() string { return "polygon" }

func polygonTimespan(timeframe string) (int, models.Timespan, error) {
	switch timeframe {
	case "1m":
		return 1, models.Minute, nil
	case "5m":
		return 5, models.Minute, nil
	case "15m":
		return 15, models.Minute, nil
	case "30m":
		return 30, models.Minute, nil
	case "1h":
		return 1, models.Hour, nil
	case "4h":
		return 4, models.Hour, nil
	case "1d":
		return 1, models.Day, nil
	case "1w":
		return 1, models.Week, nil
	default:
		return 0, "", fmt.Errorf("unsupported timeframe: %s", timeframe)
	}
}

func (p *PolygonProvider) Fetch(ctx context.Context, symbol, lookback, timeframe string) (*candle.Series, error) {
	start, end, err := Window(p.Now(), lookback, timeframe)
	if err != nil {
		return nil, err
	}
	multiplier, timespan, err := polygonTimespan(timeframe)
	if err != nil {
		return nil, err
	}

	params := models.ListAggsParams{
		Ticker:     symbol,
		Multiplier: multiplier,
		Timespan:   timespan,
		From:       models.Millis(start),
		To:         models.Millis(end),
	}.WithOrder(models.Asc).WithAdjusted(true)

	iter := p.Client.ListAggs(ctx, params)

	var bars []candle.Candle
	for iter.Next() {
		agg := iter.Item()
		bars = append(bars, candle.Candle{
			Timestamp: time.Time(agg.Timestamp).UTC(),
			Open:      agg.Open,
			High:      agg.High,
			Low:       agg.Low,
			Close:     agg.Close,
			Volume:    agg.Volume,
			Symbol:    symbol,
			Timeframe: timeframe,
			Source:    p.Name(),
		})
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("polygon aggregates for %s: %w", symbol, err)
	}

	log.WithFields(log.Fields{"symbol": symbol, "timeframe": timeframe, "bars": len(bars)}).Debug("fetched polygon aggregates")
	return buildSeries(p.Name(), symbol, timeframe, bars, start, end)
}
