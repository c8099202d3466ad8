package radio

// HistoryCap is the fixed window used for the per-anchor moving average and
// variance of received signal strength.
const HistoryCap = 5

// History is a fixed-capacity ring buffer of raw RSSI samples (dBm). The
// oldest sample is evicted on overflow. The zero value is ready to use.
type History struct {
	buf  [HistoryCap]float64
	head int
	n    int
}

// Push appends a sample, evicting the oldest once the window is full.
func (h *History) Push(v float64) {
	h.buf[h.head] = v
	h.head = (h.head + 1) % HistoryCap
	if h.n < HistoryCap {
		h.n++
	}
}

// Len returns the number of samples currently held.
func (h *History) Len() int { return h.n }

// Mean returns the moving-average ("filtered") signal strength, or 0 when
// the window is empty.
func (h *History) Mean() float64 {
	if h.n == 0 {
		return 0
	}
	sum := 0.0
	for i := 0; i < h.n; i++ {
		sum += h.buf[i]
	}
	return sum / float64(h.n)
}

// Variance returns the sample variance over the window. It requires at
// least two samples and returns 0 otherwise; callers treat a short window
// as maximum variance.
func (h *History) Variance() float64 {
	if h.n < 2 {
		return 0
	}
	mean := h.Mean()
	sum := 0.0
	for i := 0; i < h.n; i++ {
		d := h.buf[i] - mean
		sum += d * d
	}
	return sum / float64(h.n-1)
}

// Reset drops all samples.
func (h *History) Reset() {
	h.head = 0
	h.n = 0
}
