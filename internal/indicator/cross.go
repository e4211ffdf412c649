package indicator

import "math"

// CrossOver reports whether a moved from at-or-below b on bar i-1 to
// strictly above b on bar i.
func CrossOver(a, b []float64, i int) bool {
	if !defined(a, b, i) {
		return false
	}
	return a[i-1] <= b[i-1] && a[i] > b[i]
}

// CrossUnder reports whether a moved from at-or-above b on bar i-1 to
// strictly below b on bar i.
func CrossUnder(a, b []float64, i int) bool {
	if !defined(a, b, i) {
		return false
	}
	return a[i-1] >= b[i-1] && a[i] < b[i]
}

func defined(a, b []float64, i int) bool {
	if i < 1 || i >= len(a) || i >= len(b) {
		return false
	}
	for _, v := range []float64{a[i-1], a[i], b[i-1], b[i]} {
		if math.IsNaN(v) {
			return false
		}
	}
	return true
}
