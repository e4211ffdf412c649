package marketdata

import (
	"context"
	"strings"
	"time"

	"github.com/patrickmn/go-cache"
	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/singleflight"

	"github.com/amirphl/quant-terminal/internal/candle"
	"github.com/amirphl/quant-terminal/internal/metrics"
	"github.com/amirphl/quant-terminal/internal/tfutils"
)

const defaultMemoFetchTimeout = 2 * time.Minute

// MemoProvider keeps recently fetched series in process memory. Concurrent
// requests for the same key share one upstream call.
type MemoProvider struct {
	Upstream Provider
	Now      func() time.Time
	// FetchTimeout bounds a shared upstream call. The call is detached from
	// the caller that started it, so one caller giving up does not fail the
	// others.
	FetchTimeout time.Duration

	cache *cache.Cache
	group singleflight.Group
}

// NewMemoProvider caches series for ttl. A series is immutable so it is
// shared between callers without copying.
//
// Entries are keyed by the window end truncated to the bar size, so a "1y"
// daily series is refetched once a new day starts. Within one bar a cached
// series can lag the vendor by up to ttl.
func NewMemoProvider(upstream Provider, ttl time.Duration) *MemoProvider {
	return &MemoProvider{
		Upstream:     upstream,
		Now:          time.Now,
		FetchTimeout: defaultMemoFetchTimeout,
		cache:        cache.New(ttl, 2*ttl),
	}
}

func (m *MemoProvider) Name() string { return m.Upstream.Name() }

func (m *MemoProvider) memoKey(symbol, lookback, timeframe string) string {
	end := m.Now().UTC()
	if d := tfutils.GetTimeframeDuration(timeframe); d > 0 {
		end = end.Truncate(d)
	}
	return strings.Join([]string{symbol, lookback, timeframe, end.Format(time.RFC3339)}, "|")
}

func (m *MemoProvider) Fetch(ctx context.Context, symbol, lookback, timeframe string) (*candle.Series, error) {
	key := m.memoKey(symbol, lookback, timeframe)
	if v, ok := m.cache.Get(key); ok {
		metrics.ObserveFetch(m.Name(), "memo_hit")
		log.WithField("key", key).Debug("serving series from memory")
		return v.(*candle.Series), nil
	}

	ch := m.group.DoChan(key, func() (interface{}, error) {
		fetchCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), m.FetchTimeout)
		defer cancel()
		series, err := m.Upstream.Fetch(fetchCtx, symbol, lookback, timeframe)
		if err != nil {
			return nil, err
		}
		m.cache.Set(key, series, cache.DefaultExpiration)
		return series, nil
	})

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		if res.Shared {
			log.WithField("key", key).Debug("joined in-flight fetch")
		}
		return res.Val.(*candle.Series), nil
	}
}

// Flush drops every cached series.
func (m *MemoProvider) Flush() {
	m.cache.Flush()
}
