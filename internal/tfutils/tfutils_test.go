package tfutils

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseTimeframe(t *testing.T) {
	d, err := ParseTimeframe("15m")
	require.NoError(t, err)
	assert.Equal(t, 15*time.Minute, d)

	_, err = ParseTimeframe("7m")
	assert.ErrorIs(t, err, ErrUnsupportedTimeframe)
	assert.False(t, IsValidTimeframe("2d"))
	assert.Equal(t, 240, TimeframeMinutes("4h"))
}

func TestPeriodsPerYear(t *testing.T) {
	assert.Equal(t, 252.0, PeriodsPerYear("1d"))
	assert.Equal(t, 52.0, PeriodsPerYear("1w"))
	assert.Equal(t, 252.0*24, PeriodsPerYear("1h"))
	assert.InDelta(t, math.Sqrt(252), AnnualizationFactor("1d"), 1e-12)
}

func TestLookbackStart(t *testing.T) {
	end := time.Date(2024, time.June, 15, 0, 0, 0, 0, time.UTC)

	tests := []struct {
		period string
		want   time.Time
	}{
		{"5d", time.Date(2024, time.June, 10, 0, 0, 0, 0, time.UTC)},
		{"2w", time.Date(2024, time.June, 1, 0, 0, 0, 0, time.UTC)},
		{"3mo", time.Date(2024, time.March, 15, 0, 0, 0, 0, time.UTC)},
		{"1y", time.Date(2023, time.June, 15, 0, 0, 0, 0, time.UTC)},
		{"YTD", time.Date(2024, time.January, 1, 0, 0, 0, 0, time.UTC)},
	}
	for _, tt := range tests {
		t.Run(tt.period, func(t *testing.T) {
			got, err := LookbackStart(end, tt.period)
			require.NoError(t, err)
			assert.True(t, tt.want.Equal(got), "got %s", got)
		})
	}

	for _, bad := range []string{"", "abc", "0d", "-1y", "1x"} {
		_, err := LookbackStart(end, bad)
		assert.ErrorIs(t, err, ErrInvalidLookback, bad)
	}
}
