package throttle

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestNewSessionControlDerivesDelay(t *testing.T) {
	t.Parallel()

	control := NewSessionControl(100, 50)
	require.Equal(t, 100.0, control.Rate)
	require.Equal(t, 50.0, control.Concurrency)
	require.Equal(t, 0.5, control.Delay)

	require.Zero(t, NewSessionControl(0, 50).Delay)
	require.Zero(t, NewSessionControl(100, 0).Delay)
}

func TestProfileThroughput(t *testing.T) {
	t.Parallel()

	p := Profile{Requests: 100, Duration: 4 * time.Second}
	require.Equal(t, 25.0, p.Throughput())

	require.Zero(t, Profile{Requests: 100}.Throughput())
}

func TestHistoryStatsKnownValues(t *testing.T) {
	t.Parallel()

	fc := newFakeClock()
	h := NewHistory(time.Hour, fc.Now)

	h.AddProfile(Profile{
		SessionID: "s1",
		Requests:  8,
		Duration:  time.Second,
		Latencies: []float64{2, 4, 4, 4, 5, 5, 7, 9},
	})

	stats := h.LatencyStats(0)
	require.Equal(t, 8, stats.Count)
	require.Equal(t, 2.0, stats.Min)
	require.Equal(t, 9.0, stats.Max)
	require.Equal(t, 4.5, stats.Median)
	require.Equal(t, 5.0, stats.Mean)
	require.Equal(t, 2.0, stats.StdDev)
	require.Equal(t, 0.4, stats.CV)
}

func TestHistoryEmptyWindowIsAllZeros(t *testing.T) {
	t.Parallel()

	h := NewHistory(time.Hour, newFakeClock().Now)

	stats := h.LatencyStats(time.Minute)
	require.Zero(t, stats.Count)
	require.Zero(t, stats.Mean)
	require.Zero(t, stats.StdDev)
	require.Zero(t, stats.CV)
}

func TestHistoryConstantSamplesHaveZeroCV(t *testing.T) {
	t.Parallel()

	fc := newFakeClock()
	h := NewHistory(time.Hour, fc.Now)
	h.AddProfile(Profile{
		SessionID: "s1",
		Requests:  4,
		Duration:  time.Second,
		Latencies: []float64{3, 3, 3, 3},
	})

	stats := h.LatencyStats(0)
	require.Equal(t, 4, stats.Count)
	require.Equal(t, 3.0, stats.Mean)
	require.Zero(t, stats.StdDev)
	require.Zero(t, stats.CV)
}

func TestHistoryWindowSelectsRecentSamples(t *testing.T) {
	t.Parallel()

	fc := newFakeClock()
	h := NewHistory(time.Hour, fc.Now)

	h.AddProfile(Profile{SessionID: "s1", Requests: 2, Duration: time.Second, Latencies: []float64{100, 100}})
	fc.Advance(10 * time.Minute)
	h.AddProfile(Profile{SessionID: "s2", Requests: 2, Duration: time.Second, Latencies: []float64{1, 3}})

	// Recent window sees only the second batch.
	recent := h.LatencyStats(time.Minute)
	require.Equal(t, 2, recent.Count)
	require.Equal(t, 2.0, recent.Mean)

	// Zero window sees everything retained.
	all := h.LatencyStats(0)
	require.Equal(t, 4, all.Count)

	require.Equal(t, 2, h.Requests(time.Minute))
	require.Equal(t, 4, h.Requests(0))
	require.Equal(t, 1, h.Sessions(time.Minute))
	require.Equal(t, 2, h.Sessions(0))
}

func TestHistoryPrunesBeyondMaxHistory(t *testing.T) {
	t.Parallel()

	fc := newFakeClock()
	h := NewHistory(time.Minute, fc.Now)

	h.AddProfile(Profile{SessionID: "s1", Requests: 1, Duration: time.Second, Latencies: []float64{5}})
	fc.Advance(2 * time.Minute)
	h.AddProfile(Profile{SessionID: "s2", Requests: 1, Duration: time.Second, Latencies: []float64{7}})

	all := h.LatencyStats(0)
	require.Equal(t, 1, all.Count)
	require.Equal(t, 7.0, all.Mean)
}

func TestHistoryControlSamples(t *testing.T) {
	t.Parallel()

	fc := newFakeClock()
	h := NewHistory(time.Hour, fc.Now)

	h.AddControl(NewSessionControl(100, 50))
	h.AddControl(NewSessionControl(200, 50))

	rates := h.RateStats(0)
	require.Equal(t, 2, rates.Count)
	require.Equal(t, 150.0, rates.Mean)

	concurrency := h.ConcurrencyStats(0)
	require.Equal(t, 50.0, concurrency.Mean)
	require.Zero(t, concurrency.CV)

	delays := h.DelayStats(0)
	require.Equal(t, 2, delays.Count)
	require.Equal(t, 0.375, delays.Mean)
}

func TestHistorySnapshot(t *testing.T) {
	t.Parallel()

	fc := newFakeClock()
	h := NewHistory(time.Hour, fc.Now)

	h.AddProfile(Profile{SessionID: "s1", Requests: 3, Duration: time.Second, Latencies: []float64{1, 2, 3}})
	h.AddControl(NewSessionControl(100, 50))

	snap := h.GetSnapshot(time.Minute)
	require.Equal(t, 3, snap.Requests)
	require.Equal(t, 1, snap.Sessions)
	require.Equal(t, 2.0, snap.Latency.Mean)
	require.Equal(t, 3.0, snap.Throughput.Mean)
	require.Equal(t, 100.0, snap.Rate.Mean)
	require.Equal(t, 50.0, snap.Concurrency.Mean)
	require.Equal(t, 0.5, snap.Delay.Mean)
}
