package candle

import (
	"sort"
	"time"

	"github.com/amirphl/quant-terminal/internal/tfutils"
)

// Normalize sorts, truncates, de-duplicates, trims to [from, to) and fills
// missing intervals with flat synthetic candles carrying the last close.
// Daily and weekly data are not gap-filled: exchange holidays are not gaps.
func Normalize(candles []Candle, symbol, timeframe string, from, to time.Time) []Candle {
	if len(candles) == 0 {
		return nil
	}

	duration := tfutils.GetTimeframeDuration(timeframe)

	sorted := make([]Candle, len(candles))
	copy(sorted, candles)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Timestamp.Before(sorted[j].Timestamp)
	})

	// first occurrence of each timestamp wins
	seen := make(map[time.Time]struct{}, len(sorted))
	var trimmed []Candle
	for _, c := range sorted {
		c.Timestamp = c.Timestamp.UTC()
		if duration > 0 && duration < 24*time.Hour {
			c.Timestamp = c.Timestamp.Truncate(duration)
		}
		if _, ok := seen[c.Timestamp]; ok {
			continue
		}
		seen[c.Timestamp] = struct{}{}
		if c.Timestamp.Before(from) || !c.Timestamp.Before(to) {
			continue
		}
		trimmed = append(trimmed, c)
	}

	if len(trimmed) == 0 || duration == 0 || duration >= 24*time.Hour {
		return trimmed
	}

	complete := make([]Candle, 0, len(trimmed))
	basePrice := trimmed[0].Close
	current := trimmed[0].Timestamp
	last := trimmed[len(trimmed)-1].Timestamp

	i := 0
	for !current.After(last) {
		if i < len(trimmed) && trimmed[i].Timestamp.Equal(current) {
			complete = append(complete, trimmed[i])
			basePrice = trimmed[i].Close
			i++
		} else {
			complete = append(complete, Candle{
				Timestamp: current,
				Open:      basePrice,
				High:      basePrice,
				Low:       basePrice,
				Close:     basePrice,
				Symbol:    symbol,
				Timeframe: timeframe,
				Source:    "synthetic",
			})
		}
		current = current.Add(duration)
	}

	return complete
}
