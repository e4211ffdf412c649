// Package metrics holds the prometheus collectors for backtests and data
// fetches.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	BacktestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "backtest_runs_total", Help: "Backtest runs by strategy and outcome"},
		[]string{"strategy", "status"},
	)
	BacktestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "backtest_duration_seconds",
			Help:    "Wall time of a backtest run including the data fetch",
			Buckets: prometheus.ExponentialBuckets(0.01, 4, 8),
		},
		[]string{"strategy"},
	)
	FetchesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "marketdata_fetches_total", Help: "Market data fetches by provider and result"},
		[]string{"provider", "result"},
	)
)

func init() {
	prometheus.MustRegister(BacktestsTotal, BacktestDuration, FetchesTotal)
}

// ObserveRun records one finished backtest.
func ObserveRun(strategy string, err error, elapsed time.Duration) {
	status := "ok"
	if err != nil {
		status = "error"
	}
	BacktestsTotal.WithLabelValues(strategy, status).Inc()
	BacktestDuration.WithLabelValues(strategy).Observe(elapsed.Seconds())
}

// ObserveFetch records one market data fetch. result is "ok", "error",
// "cache_hit" or "memo_hit".
func ObserveFetch(provider, result string) {
	FetchesTotal.WithLabelValues(provider, result).Inc()
}

func Handler() http.Handler {
	return promhttp.Handler()
}
