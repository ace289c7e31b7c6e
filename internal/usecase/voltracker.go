package usecase

import (
	"sync"
)

// VolatilityTracker keeps a rolling fixed-size window of a volatility proxy
// (ATR as percent of price) per instrument. It feeds both the risk gate's
// spike check and the executor's cooldown stretching. No judgement is made
// until a window is full.
type VolatilityTracker struct {
	mu      sync.RWMutex
	window  int
	samples map[string][]float64
}

func NewVolatilityTracker(window int) *VolatilityTracker {
	if window < 2 {
		window = 2
	}
	return &VolatilityTracker{
		window:  window,
		samples: make(map[string][]float64),
	}
}

// Add appends a sample, evicting the oldest once the window is full.
func (t *VolatilityTracker) Add(symbol string, sample float64) {
	if sample <= 0 {
		return
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	s := append(t.samples[symbol], sample)
	if len(s) > t.window {
		s = s[len(s)-t.window:]
	}
	t.samples[symbol] = s
}

// SpikeRatio compares the newest sample to the mean of the rest of the
// window. ok is false while the window is still warming up.
func (t *VolatilityTracker) SpikeRatio(symbol string) (ratio float64, ok bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	s := t.samples[symbol]
	if len(s) < t.window {
		return 0, false
	}

	newest := s[len(s)-1]
	sum := 0.0
	for _, v := range s[:len(s)-1] {
		sum += v
	}
	mean := sum / float64(len(s)-1)
	if mean <= 0 {
		return 0, false
	}
	return newest / mean, true
}

// WindowFull reports whether symbol has a complete window.
func (t *VolatilityTracker) WindowFull(symbol string) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.samples[symbol]) >= t.window
}
