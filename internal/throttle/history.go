// Package throttle implements the adaptive rate and concurrency
// controller for the crawl loop: a sliding-window sample history, a
// bounded AIMD control value, and a four-stage adapter state machine
// that tunes request rate and concurrency against observed latency
// stability.
package throttle

import (
	"math"
	"sort"
	"sync"
	"time"
)

// SessionControl is the controller output applied to one batch: the
// target request rate (requests per second), the number of concurrent
// in-flight requests, and the derived inter-batch delay. Immutable once
// produced.
type SessionControl struct {
	Rate        float64 `json:"rate"`
	Concurrency float64 `json:"concurrency"`
	Delay       float64 `json:"delay"`
}

// NewSessionControl derives the delay from rate and concurrency:
// delay = concurrency / rate when both are positive, zero otherwise.
func NewSessionControl(rate, concurrency float64) SessionControl {
	control := SessionControl{Rate: rate, Concurrency: concurrency}
	if rate > 0 && concurrency > 0 {
		control.Delay = concurrency / rate
	}
	return control
}

// Stats holds windowed descriptive statistics over one sample kind.
// A window with no samples is all zeros; CV is zero whenever the mean
// or the deviation is zero, never NaN.
type Stats struct {
	Count  int     `json:"count"`
	Min    float64 `json:"min"`
	Max    float64 `json:"max"`
	Median float64 `json:"median"`
	Mean   float64 `json:"mean"`
	StdDev float64 `json:"stddev"`
	CV     float64 `json:"cv"`
}

// Snapshot aggregates windowed statistics for every sample kind plus
// raw counts.
type Snapshot struct {
	Requests    int   `json:"requests"`
	Sessions    int   `json:"sessions"`
	Latency     Stats `json:"latency"`
	Throughput  Stats `json:"throughput"`
	Rate        Stats `json:"rate"`
	Delay       Stats `json:"delay"`
	Concurrency Stats `json:"concurrency"`
}

// Profile carries the per-batch measurements the executor hands back:
// one latency per successful request plus the request count and wall
// time needed to derive throughput.
type Profile struct {
	SessionID string
	StartedAt time.Time
	Duration  time.Duration
	Requests  int
	Latencies []float64
}

// Throughput returns requests per second for the batch, zero when the
// duration is zero.
func (p Profile) Throughput() float64 {
	secs := p.Duration.Seconds()
	if secs <= 0 {
		return 0
	}
	return float64(p.Requests) / secs
}

type sample struct {
	session string
	at      time.Time
	value   float64
}

// History is the sliding-window sample store shared by the adapter and
// the circuit breaker's statistics consumers. Samples older than
// maxHistory are pruned on every write. Safe for concurrent use,
// though the crawl loop mutates it from a single goroutine between
// batches.
type History struct {
	mu         sync.Mutex
	maxHistory time.Duration
	now        NowFunc

	latencies     []sample
	throughputs   []sample
	rates         []sample
	delays        []sample
	concurrencies []sample

	currentSession string
}

// NewHistory creates a History retaining at most maxHistory of samples.
// A nil now falls back to time.Now.
func NewHistory(maxHistory time.Duration, now NowFunc) *History {
	if now == nil {
		now = time.Now
	}
	return &History{maxHistory: maxHistory, now: now}
}

// AddProfile appends a batch profile: one latency sample per completed
// request and one throughput sample for the batch.
func (h *History) AddProfile(p Profile) {
	h.mu.Lock()
	defer h.mu.Unlock()
	now := h.now()
	h.currentSession = p.SessionID
	for _, latency := range p.Latencies {
		h.latencies = append(h.latencies, sample{session: p.SessionID, at: now, value: latency})
	}
	h.throughputs = append(h.throughputs, sample{session: p.SessionID, at: now, value: p.Throughput()})
	h.prune(now)
}

// AddControl records the session control applied to the current batch.
func (h *History) AddControl(control SessionControl) {
	h.mu.Lock()
	defer h.mu.Unlock()
	now := h.now()
	h.rates = append(h.rates, sample{session: h.currentSession, at: now, value: control.Rate})
	h.delays = append(h.delays, sample{session: h.currentSession, at: now, value: control.Delay})
	h.concurrencies = append(h.concurrencies, sample{session: h.currentSession, at: now, value: control.Concurrency})
	h.prune(now)
}

// Requests returns the number of retained latency samples within the
// window (zero window means all retained history). One latency sample
// stands for one completed request.
func (h *History) Requests(window time.Duration) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.filter(h.latencies, window))
}

// Sessions returns the number of retained batch samples within the
// window. One throughput sample stands for one batch.
func (h *History) Sessions(window time.Duration) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.filter(h.throughputs, window))
}

// LatencyStats computes windowed statistics over request latencies.
func (h *History) LatencyStats(window time.Duration) Stats {
	h.mu.Lock()
	defer h.mu.Unlock()
	return statsOf(h.filter(h.latencies, window))
}

// ThroughputStats computes windowed statistics over batch throughputs.
func (h *History) ThroughputStats(window time.Duration) Stats {
	h.mu.Lock()
	defer h.mu.Unlock()
	return statsOf(h.filter(h.throughputs, window))
}

// RateStats computes windowed statistics over applied request rates.
func (h *History) RateStats(window time.Duration) Stats {
	h.mu.Lock()
	defer h.mu.Unlock()
	return statsOf(h.filter(h.rates, window))
}

// DelayStats computes windowed statistics over applied delays.
func (h *History) DelayStats(window time.Duration) Stats {
	h.mu.Lock()
	defer h.mu.Unlock()
	return statsOf(h.filter(h.delays, window))
}

// ConcurrencyStats computes windowed statistics over applied
// concurrency levels.
func (h *History) ConcurrencyStats(window time.Duration) Stats {
	h.mu.Lock()
	defer h.mu.Unlock()
	return statsOf(h.filter(h.concurrencies, window))
}

// GetSnapshot aggregates every per-kind statistic over the window.
func (h *History) GetSnapshot(window time.Duration) Snapshot {
	h.mu.Lock()
	defer h.mu.Unlock()
	return Snapshot{
		Requests:    len(h.filter(h.latencies, window)),
		Sessions:    len(h.filter(h.throughputs, window)),
		Latency:     statsOf(h.filter(h.latencies, window)),
		Throughput:  statsOf(h.filter(h.throughputs, window)),
		Rate:        statsOf(h.filter(h.rates, window)),
		Delay:       statsOf(h.filter(h.delays, window)),
		Concurrency: statsOf(h.filter(h.concurrencies, window)),
	}
}

// filter returns the values of samples no older than window relative to
// now. A zero window selects the entire retained history. Samples are
// appended in time order, so a single scan for the cutoff suffices.
func (h *History) filter(samples []sample, window time.Duration) []float64 {
	now := h.now()
	values := make([]float64, 0, len(samples))
	for _, s := range samples {
		if window > 0 && now.Sub(s.at) > window {
			continue
		}
		values = append(values, s.value)
	}
	return values
}

func (h *History) prune(now time.Time) {
	h.latencies = pruneBefore(h.latencies, now, h.maxHistory)
	h.throughputs = pruneBefore(h.throughputs, now, h.maxHistory)
	h.rates = pruneBefore(h.rates, now, h.maxHistory)
	h.delays = pruneBefore(h.delays, now, h.maxHistory)
	h.concurrencies = pruneBefore(h.concurrencies, now, h.maxHistory)
}

func pruneBefore(samples []sample, now time.Time, maxHistory time.Duration) []sample {
	if maxHistory <= 0 {
		return samples
	}
	cut := 0
	for cut < len(samples) && now.Sub(samples[cut].at) > maxHistory {
		cut++
	}
	if cut == 0 {
		return samples
	}
	return append(samples[:0:0], samples[cut:]...)
}

// statsOf computes the five descriptive moments over values. Standard
// deviation is the population deviation so that CV = StdDev/Mean holds
// exactly and single-sample windows are defined.
func statsOf(values []float64) Stats {
	stats := Stats{Count: len(values)}
	if len(values) == 0 {
		return stats
	}

	sorted := append([]float64(nil), values...)
	sort.Float64s(sorted)

	stats.Min = sorted[0]
	stats.Max = sorted[len(sorted)-1]
	stats.Median = medianOf(sorted)

	var sum float64
	for _, v := range sorted {
		sum += v
	}
	stats.Mean = sum / float64(len(sorted))

	var sq float64
	for _, v := range sorted {
		d := v - stats.Mean
		sq += d * d
	}
	stats.StdDev = math.Sqrt(sq / float64(len(sorted)))

	if stats.Mean != 0 {
		stats.CV = stats.StdDev / stats.Mean
	}
	return stats
}

func medianOf(sorted []float64) float64 {
	n := len(sorted)
	if n%2 == 1 {
		return sorted[n/2]
	}
	return (sorted[n/2-1] + sorted[n/2]) / 2
}
