package strategy

import (
	"fmt"
	"math"

	"github.com/amirphl/quant-terminal/internal/candle"
	"github.com/amirphl/quant-terminal/internal/indicator"
)

// weakHighLow treats two consecutive bars with nearly equal highs as a weak
// high that price is likely to run through. It enters on the bar after the
// weak high and exits on a short/long moving average cross-under.
type weakHighLow struct {
	params Params
}

func (s *weakHighLow) Name() string {
	return fmt.Sprintf("%s(%.4g)", WeakHighLow, s.params.WeakTolerance)
}

func (s *weakHighLow) Kind() Kind { return WeakHighLow }
func (s *weakHighLow) Params() Params { return s.params }

func (s *weakHighLow) WarmupPeriod() int {
	if s.params.ExitSlowPeriod > 2 {
		return s.params.ExitSlowPeriod
	}
	return 2
}

// WeakHighs flags bar i when its high is within tolerance of the previous
// bar's high.
func (s *weakHighLow) WeakHighs(highs []float64) []bool {
	flags := make([]bool, len(highs))
	for i := 1; i < len(highs); i++ {
		flags[i] = math.Abs(highs[i]-highs[i-1]) < s.params.WeakTolerance*highs[i]
	}
	return flags
}

func (s *weakHighLow) Generate(series *candle.Series) SignalSeries {
	n := seriesLen(series)
	out := NewSignalSeries(n)
	if n < s.WarmupPeriod() {
		return out
	}

	flags := s.WeakHighs(series.Highs())
	closes := series.Closes()
	fast := indicator.NewMovingAverage(s.params.MAType, s.params.ExitFastPeriod).Calculate(closes)
	slow := indicator.NewMovingAverage(s.params.MAType, s.params.ExitSlowPeriod).Calculate(closes)

	for i := 1; i < n; i++ {
		out.Entries[i] = flags[i-1]
		out.Exits[i] = indicator.CrossUnder(fast, slow, i)
	}
	return out
}
