package indicator

// RollingMax is the maximum of each window of p points ending at i.
func RollingMax(x []float64, p int) []float64 {
	return rolling(x, p, func(a, b float64) bool { return a >= b })
}

// RollingMin is the minimum of each window of p points ending at i.
func RollingMin(x []float64, p int) []float64 {
	return rolling(x, p, func(a, b float64) bool { return a <= b })
}

// rolling keeps a monotonic deque of indices so each window costs O(1)
// amortised.
func rolling(x []float64, p int, dominates func(a, b float64) bool) []float64 {
	if p <= 0 {
		return nil
	}
	out := nanSlice(len(x))
	deque := make([]int, 0, p)
	for i := range x {
		for len(deque) > 0 && dominates(x[i], x[deque[len(deque)-1]]) {
			deque = deque[:len(deque)-1]
		}
		deque = append(deque, i)
		if deque[0] <= i-p {
			deque = deque[1:]
		}
		if i >= p-1 {
			out[i] = x[deque[0]]
		}
	}
	return out
}
