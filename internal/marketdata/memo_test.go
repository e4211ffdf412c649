package marketdata

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/amirphl/quant-terminal/internal/candle"
)

type gatedProvider struct {
	calls  atomic.Int32
	gate   chan struct{}
	series *candle.Series
	err    error
}

func (g *gatedProvider) Name() string { return "gated" }

func (g *gatedProvider) Fetch(ctx context.Context, symbol, lookback, timeframe string) (*candle.Series, error) {
	g.calls.Add(1)
	if g.gate != nil {
		select {
		case <-g.gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return g.series, g.err
}

func oneBar(t *testing.T) *candle.Series {
	t.Helper()
	s, err := candle.NewSeries("BTCUSDT", "1d", []candle.Candle{{
		Timestamp: fixedNow, Open: 1, High: 2, Low: 1, Close: 2, Volume: 1, Symbol: "BTCUSDT", Timeframe: "1d",
	}})
	require.NoError(t, err)
	return s
}

func TestMemoProvider_CachesByKey(t *testing.T) {
	ctx := context.Background()
	upstream := &gatedProvider{series: oneBar(t)}
	m := NewMemoProvider(upstream, time.Minute)
	m.Now = clock
	assert.Equal(t, "gated", m.Name())

	first, err := m.Fetch(ctx, "BTCUSDT", "1y", "1d")
	require.NoError(t, err)
	second, err := m.Fetch(ctx, "BTCUSDT", "1y", "1d")
	require.NoError(t, err)
	assert.Same(t, first, second)
	assert.Equal(t, int32(1), upstream.calls.Load())

	_, err = m.Fetch(ctx, "BTCUSDT", "2y", "1d")
	require.NoError(t, err)
	assert.Equal(t, int32(2), upstream.calls.Load())

	m.Flush()
	_, err = m.Fetch(ctx, "BTCUSDT", "1y", "1d")
	require.NoError(t, err)
	assert.Equal(t, int32(3), upstream.calls.Load())
}

func TestMemoProvider_SharesInFlightFetch(t *testing.T) {
	upstream := &gatedProvider{series: oneBar(t), gate: make(chan struct{})}
	m := NewMemoProvider(upstream, time.Minute)

	const callers = 8
	var wg sync.WaitGroup
	results := make([]*candle.Series, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			s, err := m.Fetch(context.Background(), "BTCUSDT", "1y", "1d")
			assert.NoError(t, err)
			results[i] = s
		}(i)
	}

	require.Eventually(t, func() bool { return upstream.calls.Load() == 1 }, time.Second, time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	close(upstream.gate)
	wg.Wait()

	assert.LessOrEqual(t, upstream.calls.Load(), int32(callers))
	for _, s := range results {
		assert.NotNil(t, s)
	}
}

func TestMemoProvider_ErrorsAreNotCached(t *testing.T) {
	upstream := &gatedProvider{err: ErrDataUnavailable}
	m := NewMemoProvider(upstream, time.Minute)

	_, err := m.Fetch(context.Background(), "NOPE", "1y", "1d")
	assert.True(t, errors.Is(err, ErrDataUnavailable))
	_, err = m.Fetch(context.Background(), "NOPE", "1y", "1d")
	assert.Error(t, err)
	assert.Equal(t, int32(2), upstream.calls.Load())
}

func TestMemoProvider_CallerCancelDoesNotFailJoinedCallers(t *testing.T) {
	upstream := &gatedProvider{series: oneBar(t), gate: make(chan struct{})}
	m := NewMemoProvider(upstream, time.Minute)

	first, cancelFirst := context.WithCancel(context.Background())
	firstErr := make(chan error, 1)
	go func() {
		_, err := m.Fetch(first, "BTCUSDT", "1y", "1d")
		firstErr <- err
	}()
	require.Eventually(t, func() bool { return upstream.calls.Load() == 1 }, time.Second, time.Millisecond)

	type result struct {
		series *candle.Series
		err    error
	}
	second := make(chan result, 1)
	go func() {
		s, err := m.Fetch(context.Background(), "BTCUSDT", "1y", "1d")
		second <- result{s, err}
	}()
	time.Sleep(20 * time.Millisecond)

	cancelFirst()
	select {
	case err := <-firstErr:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("cancelled caller did not return")
	}

	close(upstream.gate)
	select {
	case res := <-second:
		require.NoError(t, res.err)
		assert.NotNil(t, res.series)
	case <-time.After(time.Second):
		t.Fatal("joined caller did not return")
	}

	_, err := m.Fetch(context.Background(), "BTCUSDT", "1y", "1d")
	require.NoError(t, err)
	assert.LessOrEqual(t, upstream.calls.Load(), int32(2))
}

func TestMemoProvider_FetchTimeout(t *testing.T) {
	upstream := &gatedProvider{series: oneBar(t), gate: make(chan struct{})}
	defer close(upstream.gate)
	m := NewMemoProvider(upstream, time.Minute)
	m.FetchTimeout = 10 * time.Millisecond

	_, err := m.Fetch(context.Background(), "BTCUSDT", "1y", "1d")
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestMemoProvider_RefetchesOnNewBar(t *testing.T) {
	now := fixedNow
	upstream := &gatedProvider{series: oneBar(t)}
	m := NewMemoProvider(upstream, time.Hour*48)
	m.Now = func() time.Time { return now }

	_, err := m.Fetch(context.Background(), "BTCUSDT", "1y", "1d")
	require.NoError(t, err)
	now = now.Add(6 * time.Hour)
	_, err = m.Fetch(context.Background(), "BTCUSDT", "1y", "1d")
	require.NoError(t, err)
	assert.Equal(t, int32(1), upstream.calls.Load(), "same daily bar")

	now = now.Add(24 * time.Hour)
	_, err = m.Fetch(context.Background(), "BTCUSDT", "1y", "1d")
	require.NoError(t, err)
	assert.Equal(t, int32(2), upstream.calls.Load(), "next daily bar")
}
