package marketdata

import (
	"context"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/amirphl/quant-terminal/internal/candle"
	"github.com/amirphl/quant-terminal/internal/db"
	"github.com/amirphl/quant-terminal/internal/journal"
	"github.com/amirphl/quant-terminal/internal/metrics"
	"github.com/amirphl/quant-terminal/internal/tfutils"
)

// CachedProvider serves bars from storage when it already covers the
// requested window and falls back to the upstream provider otherwise.
// Upstream results are written back to storage.
type CachedProvider struct {
	Upstream Provider
	Storage  db.CandleStorage
	Journal  journal.Journaler
	Now      func() time.Time
}

func NewCachedProvider(upstream Provider, storage db.CandleStorage, j journal.Journaler) *CachedProvider {
	return &CachedProvider{Upstream: upstream, Storage: storage, Journal: j, Now: time.Now}
}

func (c *CachedProvider) Name() string { return c.Upstream.Name() }

// coverageSlack is how far the cached range may stop short of the requested
// edges and still count as a hit. Daily and weekly bars skip weekends and
// holidays.
func coverageSlack(timeframe string) time.Duration {
	d := tfutils.GetTimeframeDuration(timeframe)
	slack := 3 * d
	if d >= 24*time.Hour {
		slack += 72 * time.Hour
	}
	return slack
}

func (c *CachedProvider) covers(cached []candle.Candle, start, end time.Time, timeframe string) bool {
	if len(cached) == 0 {
		return false
	}
	slack := coverageSlack(timeframe)
	first := cached[0].Timestamp
	last := cached[len(cached)-1].Timestamp
	return !first.After(start.Add(slack)) && !last.Before(end.Add(-slack))
}

func (c *CachedProvider) Fetch(ctx context.Context, symbol, lookback, timeframe string) (*candle.Series, error) {
	start, end, err := Window(c.Now(), lookback, timeframe)
	if err != nil {
		return nil, err
	}

	fields := log.Fields{"provider": c.Name(), "symbol": symbol, "timeframe": timeframe, "lookback": lookback}

	cached, err := c.Storage.GetCandles(ctx, symbol, timeframe, "", start, end)
	if err != nil {
		log.WithFields(fields).WithError(err).Warn("candle cache read failed, going upstream")
	} else if c.covers(cached, start, end, timeframe) {
		series, err := buildSeries(c.Name(), symbol, timeframe, cached, start, end)
		if err == nil {
			log.WithFields(fields).WithField("candles", series.Len()).Debug("serving candles from cache")
			metrics.ObserveFetch(c.Name(), "cache_hit")
			journal.Record(ctx, c.Journal, journal.TypeCacheHit, "candles served from cache", map[string]any{
				"symbol": symbol, "timeframe": timeframe, "candles": series.Len(),
			})
			return series, nil
		}
	}

	series, err := c.Upstream.Fetch(ctx, symbol, lookback, timeframe)
	if err != nil {
		return nil, err
	}

	if err := c.Storage.SaveCandles(ctx, series.Candles()); err != nil {
		log.WithFields(fields).WithError(err).Warn("failed to cache candles")
	}
	journal.Record(ctx, c.Journal, journal.TypeDataFetched, "candles fetched upstream", map[string]any{
		"provider": c.Name(), "symbol": symbol, "timeframe": timeframe, "candles": series.Len(),
	})
	return series, nil
}
