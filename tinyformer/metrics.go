package tinyformer

import "math"

// lossWindow tracks recent loss values in a fixed-size ring so log lines can
// report a smoothed view instead of the noisy per-step loss.
type lossWindow struct {
	values []float64
	next   int
	filled bool
	total  int
}

func newLossWindow(size int) *lossWindow {
	if size <= 0 {
		size = 1
	}
	return &lossWindow{values: make([]float64, size)}
}

// Record adds one observation.
func (w *lossWindow) Record(v float64) {
	w.values[w.next] = v
	w.next++
	w.total++
	if w.next == len(w.values) {
		w.next = 0
		w.filled = true
	}
}

// Count returns the number of observations recorded overall.
func (w *lossWindow) Count() int {
	return w.total
}

// Mean returns the average over the window, or NaN if empty.
func (w *lossWindow) Mean() float64 {
	n := w.next
	if w.filled {
		n = len(w.values)
	}
	if n == 0 {
		return math.NaN()
	}
	sum := 0.0
	for _, v := range w.values[:n] {
		sum += v
	}
	return sum / float64(n)
}
