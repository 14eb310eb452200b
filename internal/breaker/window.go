package breaker

import (
	"fmt"
	"time"
)

// NowFunc supplies the current time, injected so tests can drive the
// window and burn-in timing deterministically.
type NowFunc func() time.Time

// SleepFunc blocks for the given duration. Injected so tests can
// observe cooldown and probe delays without real waiting.
type SleepFunc func(time.Duration)

type errorSample struct {
	at       time.Time
	requests int
	errors   int
}

// ErrorWindow tracks a failure ratio over a sliding time window. Each
// breaker sub-state owns one with independent parameters.
type ErrorWindow struct {
	window    time.Duration
	threshold float64
	now       NowFunc

	samples []errorSample
}

// NewErrorWindow builds a window of the given duration that trips when
// the failure ratio strictly exceeds threshold.
func NewErrorWindow(window time.Duration, threshold float64, now NowFunc) (*ErrorWindow, error) {
	if window <= 0 {
		return nil, fmt.Errorf("error window duration must be > 0, got %v", window)
	}
	if threshold < 0 || threshold > 1 {
		return nil, fmt.Errorf("error window threshold must be in [0, 1], got %v", threshold)
	}
	if now == nil {
		now = time.Now
	}
	return &ErrorWindow{window: window, threshold: threshold, now: now}, nil
}

// RecordAndCheck appends one observation, prunes entries older than the
// window, and reports whether the retained failure ratio strictly
// exceeds the threshold. A window with no requests has ratio zero.
func (w *ErrorWindow) RecordAndCheck(requests, errors int) bool {
	now := w.now()
	w.samples = append(w.samples, errorSample{at: now, requests: requests, errors: errors})

	cut := 0
	for cut < len(w.samples) && now.Sub(w.samples[cut].at) > w.window {
		cut++
	}
	if cut > 0 {
		w.samples = append(w.samples[:0:0], w.samples[cut:]...)
	}

	return w.Ratio() > w.threshold
}

// Ratio returns the failure ratio over the retained window.
func (w *ErrorWindow) Ratio() float64 {
	var requests, errors int
	for _, s := range w.samples {
		requests += s.requests
		errors += s.errors
	}
	if requests == 0 {
		return 0
	}
	return float64(errors) / float64(requests)
}

// Reset clears the window.
func (w *ErrorWindow) Reset() {
	w.samples = w.samples[:0]
}
