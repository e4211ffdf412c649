// Package indicator provides technical analysis indicators over closing prices.
// Every series returned is aligned to its input and holds NaN during warm-up.
package indicator

import (
	"fmt"
	"math"
	"strings"
)

// Indicator is the interface for all technical indicators.
type Indicator interface {
	Name() string
	Period() int
	Calculate(values []float64) []float64
}

type MAType string

const (
	SMAType MAType = "sma"
	EMAType MAType = "ema"
)

// ParseMAType accepts "sma" or "ema", case-insensitive.
func ParseMAType(s string) (MAType, error) {
	switch MAType(strings.ToLower(strings.TrimSpace(s))) {
	case SMAType:
		return SMAType, nil
	case EMAType:
		return EMAType, nil
	default:
		return "", fmt.Errorf("unknown moving average type %q", s)
	}
}

// MovingAverage is a simple or exponential moving average of a fixed period.
type MovingAverage struct {
	Type MAType
	Len  int
}

func NewMovingAverage(t MAType, period int) MovingAverage {
	return MovingAverage{Type: t, Len: period}
}

func (m MovingAverage) Name() string { return fmt.Sprintf("%s(%d)", strings.ToUpper(string(m.Type)), m.Len) }
func (m MovingAverage) Period() int  { return m.Len }

func (m MovingAverage) Calculate(values []float64) []float64 {
	if m.Type == EMAType {
		return EMA(values, m.Len)
	}
	return SMA(values, m.Len)
}

func nanSlice(n int) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = math.NaN()
	}
	return out
}
