package strategy

import (
	"fmt"

	"github.com/amirphl/quant-terminal/internal/candle"
	"github.com/amirphl/quant-terminal/internal/indicator"
)

// emaCrossover enters when the fast average crosses above the slow one and
// exits on the opposite cross.
type emaCrossover struct {
	params Params
}

func (s *emaCrossover) Name() string {
	return fmt.Sprintf("%s(%d,%d)", EMACrossover, s.params.FastPeriod, s.params.SlowPeriod)
}

func (s *emaCrossover) Kind() Kind { return EMACrossover }
func (s *emaCrossover) Params() Params { return s.params }
func (s *emaCrossover) WarmupPeriod() int { return s.params.SlowPeriod }

func (s *emaCrossover) Generate(series *candle.Series) SignalSeries {
	n := seriesLen(series)
	out := NewSignalSeries(n)
	if n < s.WarmupPeriod() {
		return out
	}

	closes := series.Closes()
	fast := indicator.NewMovingAverage(s.params.MAType, s.params.FastPeriod).Calculate(closes)
	slow := indicator.NewMovingAverage(s.params.MAType, s.params.SlowPeriod).Calculate(closes)

	for i := 1; i < n; i++ {
		out.Entries[i] = indicator.CrossOver(fast, slow, i)
		out.Exits[i] = indicator.CrossUnder(fast, slow, i)
	}
	return out
}
