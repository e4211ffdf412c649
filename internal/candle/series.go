package candle

import (
	"errors"
	"fmt"
	"time"
)

var (
	ErrEmptySeries   = errors.New("price series is empty")
	ErrNotIncreasing = errors.New("candle timestamps must be strictly increasing")
)

// Series is an ordered, validated run of candles for one symbol and
// timeframe. It is never mutated after NewSeries returns.
type Series struct {
	symbol    string
	timeframe string
	candles   []Candle
}

// NewSeries copies candles into a Series. Every candle must pass Validate and
// timestamps must be strictly increasing.
func NewSeries(symbol, timeframe string, candles []Candle) (*Series, error) {
	if len(candles) == 0 {
		return nil, ErrEmptySeries
	}

	cs := make([]Candle, len(candles))
	copy(cs, candles)
	for i := range cs {
		if err := cs[i].Validate(); err != nil {
			return nil, fmt.Errorf("invalid candle at index %d: %w", i, err)
		}
		if i > 0 && !cs[i].Timestamp.After(cs[i-1].Timestamp) {
			return nil, fmt.Errorf("%w: index %d (%s) after %s", ErrNotIncreasing, i,
				cs[i].Timestamp.Format(time.RFC3339), cs[i-1].Timestamp.Format(time.RFC3339))
		}
	}

	return &Series{symbol: symbol, timeframe: timeframe, candles: cs}, nil
}

func (s *Series) Symbol() string    { return s.symbol }
func (s *Series) Timeframe() string { return s.timeframe }
func (s *Series) Len() int          { return len(s.candles) }

// At returns the i-th candle by value.
func (s *Series) At(i int) Candle { return s.candles[i] }

func (s *Series) First() Candle { return s.candles[0] }
func (s *Series) Last() Candle  { return s.candles[len(s.candles)-1] }

// Candles returns a copy of the underlying candles.
func (s *Series) Candles() []Candle {
	out := make([]Candle, len(s.candles))
	copy(out, s.candles)
	return out
}

func (s *Series) Closes() []float64 {
	return s.column(func(c Candle) float64 { return c.Close })
}

func (s *Series) Highs() []float64 {
	return s.column(func(c Candle) float64 { return c.High })
}

func (s *Series) Lows() []float64 {
	return s.column(func(c Candle) float64 { return c.Low })
}

func (s *Series) column(f func(Candle) float64) []float64 {
	out := make([]float64, len(s.candles))
	for i, c := range s.candles {
		out[i] = f(c)
	}
	return out
}
