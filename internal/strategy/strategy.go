// Package strategy turns a price series into aligned entry/exit signals for
// one of a closed set of named strategies.
package strategy

import (
	"errors"
	"fmt"
	"strings"

	"github.com/amirphl/quant-terminal/internal/candle"
	"github.com/amirphl/quant-terminal/internal/indicator"
)

var (
	ErrInvalidStrategy = errors.New("invalid strategy")
	ErrInvalidParams   = errors.New("invalid strategy parameters")
)

type Kind string

const (
	EMACrossover Kind = "EMA_CROSSOVER"
	Fibonacci618 Kind = "FIBONACCI_618"
	WeakHighLow  Kind = "WEAK_HIGH_LOW"
)

// Kinds lists every supported strategy.
func Kinds() []Kind {
	return []Kind{EMACrossover, Fibonacci618, WeakHighLow}
}

// ParseKind resolves a strategy key. Besides the canonical names it accepts
// the short aliases used on the command line.
func ParseKind(s string) (Kind, error) {
	key := strings.ToUpper(strings.TrimSpace(s))
	key = strings.ReplaceAll(key, "-", "_")
	switch key {
	case string(EMACrossover), "EMA":
		return EMACrossover, nil
	case string(Fibonacci618), "FIB", "FIBONACCI":
		return Fibonacci618, nil
	case string(WeakHighLow), "WEAK", "WHL":
		return WeakHighLow, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidStrategy, s)
	}
}

// Params holds the numeric knobs for every strategy. Zero values mean
// "use the default" for the selected kind.
type Params struct {
	FastPeriod int              `json:"fast_period,omitempty" yaml:"fast_period"`
	SlowPeriod int              `json:"slow_period,omitempty" yaml:"slow_period"`
	MAType     indicator.MAType `json:"ma_type,omitempty" yaml:"ma_type"`

	FibWindow int     `json:"fib_window,omitempty" yaml:"fib_window"`
	FibRatio  float64 `json:"fib_ratio,omitempty" yaml:"fib_ratio"`

	WeakTolerance  float64 `json:"weak_tolerance,omitempty" yaml:"weak_tolerance"`
	ExitFastPeriod int     `json:"exit_fast_period,omitempty" yaml:"exit_fast_period"`
	ExitSlowPeriod int     `json:"exit_slow_period,omitempty" yaml:"exit_slow_period"`
}

// DefaultParams returns the fixed parameter set of a strategy.
func DefaultParams(kind Kind) Params {
	switch kind {
	case EMACrossover:
		return Params{FastPeriod: 20, SlowPeriod: 50, MAType: indicator.EMAType}
	case Fibonacci618:
		return Params{FibWindow: 100, FibRatio: 0.618}
	case WeakHighLow:
		return Params{WeakTolerance: 0.005, ExitFastPeriod: 10, ExitSlowPeriod: 30, MAType: indicator.SMAType}
	default:
		return Params{}
	}
}

func (p Params) withDefaults(kind Kind) Params {
	d := DefaultParams(kind)
	if p.FastPeriod == 0 {
		p.FastPeriod = d.FastPeriod
	}
	if p.SlowPeriod == 0 {
		p.SlowPeriod = d.SlowPeriod
	}
	if p.MAType == "" {
		p.MAType = d.MAType
	}
	if p.FibWindow == 0 {
		p.FibWindow = d.FibWindow
	}
	if p.FibRatio == 0 {
		p.FibRatio = d.FibRatio
	}
	if p.WeakTolerance == 0 {
		p.WeakTolerance = d.WeakTolerance
	}
	if p.ExitFastPeriod == 0 {
		p.ExitFastPeriod = d.ExitFastPeriod
	}
	if p.ExitSlowPeriod == 0 {
		p.ExitSlowPeriod = d.ExitSlowPeriod
	}
	return p
}

// SignalSeries holds entry and exit flags aligned 1:1 with a price series.
type SignalSeries struct {
	Entries []bool `json:"entries"`
	Exits   []bool `json:"exits"`
}

// NewSignalSeries returns an all-false SignalSeries of length n.
func NewSignalSeries(n int) SignalSeries {
	return SignalSeries{Entries: make([]bool, n), Exits: make([]bool, n)}
}

func (s SignalSeries) Len() int { return len(s.Entries) }

// Count returns the number of entry and exit flags that are set.
func (s SignalSeries) Count() (entries, exits int) {
	for i := range s.Entries {
		if s.Entries[i] {
			entries++
		}
		if s.Exits[i] {
			exits++
		}
	}
	return entries, exits
}

// Strategy is the interface for all signal generators.
type Strategy interface {
	Name() string
	Kind() Kind
	Params() Params
	// WarmupPeriod is the largest window the strategy needs; shorter series
	// produce no signals.
	WarmupPeriod() int
	Generate(series *candle.Series) SignalSeries
}

// New builds the strategy for kind, filling unset params with defaults.
func New(kind Kind, params Params) (Strategy, error) {
	switch kind {
	case EMACrossover, Fibonacci618, WeakHighLow:
	default:
		return nil, fmt.Errorf("%w: %q", ErrInvalidStrategy, kind)
	}

	p := params.withDefaults(kind)
	switch kind {
	case EMACrossover:
		if p.FastPeriod <= 0 || p.SlowPeriod <= 0 || p.FastPeriod >= p.SlowPeriod {
			return nil, fmt.Errorf("%w: fast period %d must be positive and below slow period %d", ErrInvalidParams, p.FastPeriod, p.SlowPeriod)
		}
		if _, err := indicator.ParseMAType(string(p.MAType)); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidParams, err)
		}
		return &emaCrossover{params: p}, nil
	case Fibonacci618:
		if p.FibWindow <= 1 || p.FibRatio <= 0 || p.FibRatio >= 1 {
			return nil, fmt.Errorf("%w: fib window %d, ratio %v", ErrInvalidParams, p.FibWindow, p.FibRatio)
		}
		return &fibonacci{params: p}, nil
	default:
		if p.WeakTolerance <= 0 || p.ExitFastPeriod <= 0 || p.ExitFastPeriod >= p.ExitSlowPeriod {
			return nil, fmt.Errorf("%w: tolerance %v, exit periods %d/%d", ErrInvalidParams, p.WeakTolerance, p.ExitFastPeriod, p.ExitSlowPeriod)
		}
		if _, err := indicator.ParseMAType(string(p.MAType)); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidParams, err)
		}
		return &weakHighLow{params: p}, nil
	}
}

// Generate runs the strategy identified by kind over series.
func Generate(kind Kind, series *candle.Series, params Params) (SignalSeries, error) {
	s, err := New(kind, params)
	if err != nil {
		return SignalSeries{}, err
	}
	return s.Generate(series), nil
}

func seriesLen(series *candle.Series) int {
	if series == nil {
		return 0
	}
	return series.Len()
}
