package indicator

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var nan = math.NaN()

func assertSeries(t *testing.T, expected, actual []float64) {
	t.Helper()
	require.Len(t, actual, len(expected))
	for i := range expected {
		if math.IsNaN(expected[i]) {
			assert.True(t, math.IsNaN(actual[i]), "index %d: expected NaN, got %v", i, actual[i])
			continue
		}
		assert.InDelta(t, expected[i], actual[i], 1e-9, "index %d", i)
	}
}

func TestSMA(t *testing.T) {
	tests := []struct {
		name     string
		values   []float64
		period   int
		expected []float64
	}{
		{"basic", []float64{1, 2, 3, 4, 5}, 3, []float64{nan, nan, 2, 3, 4}},
		{"period one", []float64{4, 5}, 1, []float64{4, 5}},
		{"short input", []float64{1, 2}, 3, []float64{nan, nan}},
		{"empty", []float64{}, 3, []float64{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assertSeries(t, tt.expected, SMA(tt.values, tt.period))
		})
	}
	assert.Nil(t, SMA([]float64{1}, 0))
}

func TestEMA(t *testing.T) {
	// seed = mean(1,2,3) = 2, k = 0.5
	got := EMA([]float64{1, 2, 3, 4, 5}, 3)
	assertSeries(t, []float64{nan, nan, 2, 3, 4}, got)

	got = EMA([]float64{10, 10, 10, 20}, 3)
	assertSeries(t, []float64{nan, nan, 10, 15}, got)

	assertSeries(t, []float64{nan, nan}, EMA([]float64{1, 2}, 3))
	assert.Nil(t, EMA([]float64{1}, -1))
}

func TestRolling(t *testing.T) {
	x := []float64{3, 1, 4, 1, 5, 9, 2, 6}
	assertSeries(t, []float64{nan, nan, 4, 4, 5, 9, 9, 9}, RollingMax(x, 3))
	assertSeries(t, []float64{nan, nan, 1, 1, 1, 1, 2, 2}, RollingMin(x, 3))
	assertSeries(t, x, RollingMax(x, 1))
	assert.Nil(t, RollingMin(x, 0))
}

func TestCross(t *testing.T) {
	fast := []float64{nan, 1, 2, 3, 2, 1}
	slow := []float64{nan, 2, 2, 2, 2, 2}

	assert.False(t, CrossOver(fast, slow, 0))
	assert.False(t, CrossOver(fast, slow, 1), "NaN operand on previous bar")
	assert.False(t, CrossOver(fast, slow, 2), "equal is not above")
	assert.True(t, CrossOver(fast, slow, 3), "from equal to above")
	assert.False(t, CrossUnder(fast, slow, 4), "from above to equal")
	assert.True(t, CrossUnder(fast, slow, 5))
	assert.False(t, CrossUnder(fast, slow, 6), "out of range")
}

func TestMovingAverage(t *testing.T) {
	ma := NewMovingAverage(EMAType, 3)
	assert.Equal(t, "EMA(3)", ma.Name())
	assert.Equal(t, 3, ma.Period())
	assertSeries(t, EMA([]float64{1, 2, 3, 4}, 3), ma.Calculate([]float64{1, 2, 3, 4}))

	var ind Indicator = NewMovingAverage(SMAType, 2)
	assertSeries(t, []float64{nan, 1.5, 2.5}, ind.Calculate([]float64{1, 2, 3}))

	typ, err := ParseMAType(" EMA ")
	require.NoError(t, err)
	assert.Equal(t, EMAType, typ)
	_, err = ParseMAType("wma")
	assert.Error(t, err)
}
