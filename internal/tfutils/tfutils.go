package tfutils

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

var (
	ErrUnsupportedTimeframe = errors.New("unsupported timeframe")
	ErrInvalidLookback      = errors.New("invalid lookback period")
)

// ParseTimeframe parses timeframe string (e.g., "5m", "1h") to time.Duration
func ParseTimeframe(timeframe string) (time.Duration, error) {
	d := GetTimeframeDuration(timeframe)
	if d == 0 {
		return 0, fmt.Errorf("%w: %q", ErrUnsupportedTimeframe, timeframe)
	}
	return d, nil
}

// GetTimeframeDuration returns the duration for a given timeframe
func GetTimeframeDuration(timeframe string) time.Duration {
	switch timeframe {
	case "1m":
		return time.Minute
	case "5m":
		return 5 * time.Minute
	case "15m":
		return 15 * time.Minute
	case "30m":
		return 30 * time.Minute
	case "1h":
		return time.Hour
	case "4h":
		return 4 * time.Hour
	case "1d":
		return 24 * time.Hour
	case "1w":
		return 7 * 24 * time.Hour
	default:
		return 0
	}
}

func TimeframeMinutes(timeframe string) int {
	return int(GetTimeframeDuration(timeframe) / time.Minute)
}

// GetSupportedTimeframes returns all supported timeframes
func GetSupportedTimeframes() []string {
	return []string{"1m", "5m", "15m", "30m", "1h", "4h", "1d", "1w"}
}

// IsValidTimeframe checks if a timeframe is supported
func IsValidTimeframe(timeframe string) bool {
	return GetTimeframeDuration(timeframe) > 0
}

// PeriodsPerYear is the number of bars of the given timeframe in one trading
// year. Daily bars use 252 sessions; intraday bars assume round-the-clock
// markets over those sessions.
func PeriodsPerYear(timeframe string) float64 {
	switch timeframe {
	case "1d":
		return 252
	case "1w":
		return 52
	}
	d := GetTimeframeDuration(timeframe)
	if d == 0 {
		return 252
	}
	return 252 * float64(24*time.Hour) / float64(d)
}

// AnnualizationFactor returns sqrt(PeriodsPerYear(timeframe)).
func AnnualizationFactor(timeframe string) float64 {
	return math.Sqrt(PeriodsPerYear(timeframe))
}

// LookbackStart returns the start of a lookback window ending at end.
// Accepted forms: "ytd", "max" and "<n>d", "<n>w", "<n>mo", "<n>y".
func LookbackStart(end time.Time, period string) (time.Time, error) {
	p := strings.ToLower(strings.TrimSpace(period))
	switch p {
	case "":
		return time.Time{}, fmt.Errorf("%w: empty", ErrInvalidLookback)
	case "ytd":
		return time.Date(end.Year(), time.January, 1, 0, 0, 0, 0, end.Location()), nil
	case "max":
		return end.AddDate(-30, 0, 0), nil
	}

	var unit string
	for _, u := range []string{"mo", "d", "w", "y"} {
		if strings.HasSuffix(p, u) {
			unit = u
			break
		}
	}
	if unit == "" {
		return time.Time{}, fmt.Errorf("%w: %q", ErrInvalidLookback, period)
	}
	n, err := strconv.Atoi(strings.TrimSuffix(p, unit))
	if err != nil || n <= 0 {
		return time.Time{}, fmt.Errorf("%w: %q", ErrInvalidLookback, period)
	}

	switch unit {
	case "d":
		return end.AddDate(0, 0, -n), nil
	case "w":
		return end.AddDate(0, 0, -7*n), nil
	case "mo":
		return end.AddDate(0, -n, 0), nil
	default:
		return end.AddDate(-n, 0, 0), nil
	}
}
