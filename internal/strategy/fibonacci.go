package strategy

import (
	"fmt"
	"math"

	"github.com/amirphl/quant-terminal/internal/candle"
	"github.com/amirphl/quant-terminal/internal/indicator"
)

// fibonacci buys a pullback into the 61.8% retracement of the rolling
// high/low range and sells once price gets back to the rolling high.
type fibonacci struct {
	params Params
}

func (s *fibonacci) Name() string {
	return fmt.Sprintf("%s(%d)", Fibonacci618, s.params.FibWindow)
}

func (s *fibonacci) Kind() Kind { return Fibonacci618 }
func (s *fibonacci) Params() Params { return s.params }
func (s *fibonacci) WarmupPeriod() int { return s.params.FibWindow }

// Levels returns the rolling high, rolling low and retracement level for
// every bar, NaN until the window is full.
func (s *fibonacci) Levels(series *candle.Series) (high, low, level []float64) {
	high = indicator.RollingMax(series.Highs(), s.params.FibWindow)
	low = indicator.RollingMin(series.Lows(), s.params.FibWindow)
	level = make([]float64, len(high))
	for i := range high {
		level[i] = high[i] - s.params.FibRatio*(high[i]-low[i])
	}
	return high, low, level
}

func (s *fibonacci) Generate(series *candle.Series) SignalSeries {
	n := seriesLen(series)
	out := NewSignalSeries(n)
	if n < s.WarmupPeriod() {
		return out
	}

	closes := series.Closes()
	high, _, level := s.Levels(series)

	for i := 1; i < n; i++ {
		if !math.IsNaN(level[i-1]) && !math.IsNaN(level[i]) {
			out.Entries[i] = closes[i-1] > level[i-1] && closes[i] <= level[i]
		}
		if !math.IsNaN(high[i]) {
			out.Exits[i] = closes[i] >= high[i]
		}
	}
	return out
}
