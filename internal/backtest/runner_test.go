package backtest

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/amirphl/quant-terminal/internal/candle"
	"github.com/amirphl/quant-terminal/internal/db"
	"github.com/amirphl/quant-terminal/internal/journal"
	"github.com/amirphl/quant-terminal/internal/marketdata"
	"github.com/amirphl/quant-terminal/internal/strategy"
)

type MockProvider struct {
	mock.Mock
}

func (m *MockProvider) Name() string { return "mock" }

func (m *MockProvider) Fetch(ctx context.Context, symbol, lookback, timeframe string) (*candle.Series, error) {
	args := m.Called(symbol, lookback, timeframe)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*candle.Series), args.Error(1)
}

type MockNotifier struct {
	mock.Mock
}

func (m *MockNotifier) Send(ctx context.Context, msg string) error {
	args := m.Called(msg)
	return args.Error(0)
}

// weakHighSeries has exactly one pair of near-equal highs (bars 9 and 10)
// and a collapse on bar 40 that makes SMA(10) cross under SMA(30).
func weakHighSeries(t *testing.T) *candle.Series {
	t.Helper()
	const n = 41
	cs := make([]candle.Candle, n)
	for i := 0; i < n; i++ {
		c := 1000 + float64(i)
		if i == n-1 {
			c = 800
		}
		h := c
		if (i%2 == 1 && i < 10) || (i%2 == 0 && i > 10) {
			h = c + 40
		}
		if i == 9 || i == 10 {
			h = 1049
		}
		cs[i] = candle.Candle{
			Timestamp: day0.AddDate(0, 0, i),
			Open:      c, High: h, Low: c - 1, Close: c,
			Volume: 1, Symbol: "TEST", Timeframe: "1d",
		}
	}
	s, err := candle.NewSeries("TEST", "1d", cs)
	require.NoError(t, err)
	return s
}

func validRequest(kind strategy.Kind) Request {
	return Request{
		Symbol:      "TEST",
		Strategy:    kind,
		Lookback:    "1y",
		Timeframe:   "1d",
		InitialCash: 10000,
		FeeRate:     0.001,
	}
}

func TestRunner_WeakHighScenario(t *testing.T) {
	ctx := context.Background()
	store := db.NewMemory()
	notes := &MockNotifier{}
	notes.On("Send", mock.MatchedBy(func(msg string) bool {
		return strings.HasPrefix(msg, "Backtest TEST WEAK_HIGH_LOW")
	})).Return(nil).Once()
	provider := &MockProvider{}
	provider.On("Fetch", "TEST", "1y", "1d").Return(weakHighSeries(t), nil).Once()
	createdAt := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)
	r := &Runner{Provider: provider, Storage: store, Notifier: notes, Now: func() time.Time { return createdAt }}

	res, err := r.Run(ctx, validRequest(strategy.WeakHighLow))
	require.NoError(t, err)

	require.Len(t, res.Ledger.Trades, 1)
	tr := res.Ledger.Trades[0]
	assert.Equal(t, 11, tr.EntryIndex)
	assert.Equal(t, 40, tr.ExitIndex)
	assert.Equal(t, 1011.0, tr.EntryPrice)
	assert.Equal(t, 800.0, tr.ExitPrice)
	assert.Nil(t, res.Ledger.Open)
	assert.Equal(t, 41, res.Bars)
	assert.Equal(t, 1, res.Summary.Losses)
	assert.Equal(t, strategy.DefaultParams(strategy.WeakHighLow), res.Request.Params)
	assert.NotEmpty(t, res.ID)
	assert.Equal(t, createdAt, res.CreatedAt)

	stored, err := store.GetRun(ctx, res.ID)
	require.NoError(t, err)
	loaded, err := FromRun(*stored)
	require.NoError(t, err)
	assert.Equal(t, res.Summary, loaded.Summary)
	assert.Equal(t, res.Request, loaded.Request)
	assert.Equal(t, res.Strategy, loaded.Strategy)
	assert.Equal(t, 41, loaded.Bars)
	require.Len(t, loaded.Ledger.Trades, 1)

	window := func(typ string) []journal.Event {
		evs, err := store.GetEvents(ctx, typ, time.Now().Add(-time.Hour), time.Now().Add(time.Hour))
		require.NoError(t, err)
		return evs
	}
	assert.Len(t, window(journal.TypeRunStarted), 1)
	assert.Len(t, window(journal.TypeRunCompleted), 1)
	assert.Empty(t, window(journal.TypeRunFailed))

	provider.AssertExpectations(t)
	notes.AssertExpectations(t)
}

func TestRunner_NotifierFailureIsNotFatal(t *testing.T) {
	notes := &MockNotifier{}
	notes.On("Send", mock.Anything).Return(errors.New("telegram down"))
	provider := &MockProvider{}
	provider.On("Fetch", "TEST", "1y", "1d").Return(closeSeries(t, 10, 11, 12), nil)

	r := &Runner{Provider: provider, Notifier: notes}
	res, err := r.Run(context.Background(), validRequest(strategy.EMACrossover))
	require.NoError(t, err)
	assert.Equal(t, 3, res.Bars)
	notes.AssertNumberOfCalls(t, "Send", 1)
}

func TestRunner_Errors(t *testing.T) {
	ctx := context.Background()

	t.Run("invalid strategy fails before fetching", func(t *testing.T) {
		provider := &MockProvider{}
		r := &Runner{Provider: provider}
		_, err := r.Run(ctx, validRequest(strategy.Kind("MACD")))
		assert.ErrorIs(t, err, strategy.ErrInvalidStrategy)
		provider.AssertNotCalled(t, "Fetch", mock.Anything, mock.Anything, mock.Anything)
	})

	t.Run("data unavailable propagates", func(t *testing.T) {
		store := db.NewMemory()
		provider := &MockProvider{}
		provider.On("Fetch", "TEST", "1y", "1d").Return(nil, fmt.Errorf("%w: no bars", marketdata.ErrDataUnavailable))
		r := &Runner{Provider: provider, Storage: store}
		_, err := r.Run(ctx, validRequest(strategy.EMACrossover))
		assert.ErrorIs(t, err, marketdata.ErrDataUnavailable)

		failed, err := store.GetEvents(ctx, journal.TypeRunFailed, time.Now().Add(-time.Hour), time.Now().Add(time.Hour))
		require.NoError(t, err)
		require.Len(t, failed, 1)
		assert.Contains(t, failed[0].Data["error"], "no bars")

		runs, err := store.ListRuns(ctx, "", 0)
		require.NoError(t, err)
		assert.Empty(t, runs)
	})

	t.Run("request validation", func(t *testing.T) {
		r := &Runner{Provider: &MockProvider{}}
		tests := []func(*Request){
			func(r *Request) { r.Symbol = " " },
			func(r *Request) { r.FeeRate = 1.5 },
			func(r *Request) { r.InitialCash = 0 },
			func(r *Request) { r.Timeframe = "2h" },
			func(r *Request) { r.Lookback = "soon" },
		}
		for i, mutate := range tests {
			req := validRequest(strategy.EMACrossover)
			mutate(&req)
			_, err := r.Run(ctx, req)
			assert.ErrorIs(t, err, ErrInvalidRequest, "case %d", i)
		}
	})
}

func TestRunner_ShortHistoryHasNoTrades(t *testing.T) {
	provider := &MockProvider{}
	provider.On("Fetch", "TEST", "1y", "1d").Return(closeSeries(t, 10, 11, 12, 13, 14), nil)
	r := &Runner{Provider: provider}
	res, err := r.Run(context.Background(), validRequest(strategy.Fibonacci618))
	require.NoError(t, err)
	assert.Empty(t, res.Ledger.Trades)
	assert.True(t, res.Summary.InsufficientSample)
	assert.Equal(t, 0.0, res.Summary.TotalReturn)

	var buf bytes.Buffer
	RenderReport(&buf, res)
	assert.Contains(t, buf.String(), "No closed trades.")
	assert.Contains(t, FormatSummary(res), "Win rate: n/a")
}
