package metrics

import (
	"errors"
	"io"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestObserveRun(t *testing.T) {
	before := testutil.ToFloat64(BacktestsTotal.WithLabelValues("EMA_CROSSOVER", "error"))
	ObserveRun("EMA_CROSSOVER", errors.New("boom"), time.Second)
	ObserveRun("EMA_CROSSOVER", nil, time.Second)
	assert.Equal(t, before+1, testutil.ToFloat64(BacktestsTotal.WithLabelValues("EMA_CROSSOVER", "error")))
	assert.GreaterOrEqual(t, testutil.ToFloat64(BacktestsTotal.WithLabelValues("EMA_CROSSOVER", "ok")), 1.0)

	ObserveFetch("binance", "cache_hit")
	assert.GreaterOrEqual(t, testutil.ToFloat64(FetchesTotal.WithLabelValues("binance", "cache_hit")), 1.0)
}

func TestHandler(t *testing.T) {
	ObserveFetch("polygon", "ok")

	rec := httptest.NewRecorder()
	Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), `marketdata_fetches_total{provider="polygon",result="ok"}`)
}
