package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/adaptive-crawler/internal/executor"
	"github.com/JakeFAU/adaptive-crawler/internal/throttle"
)

// Collectors register against the default registry, so these tests
// share one Init and cannot run in parallel with each other.

func TestHelpersBeforeInitDoNotPanic(t *testing.T) {
	ObserveBatch(executor.Summary{Responses: 3})
	ObserveRecords(10)
	SetSessionControl(throttle.NewSessionControl(50, 10))
	SetBreakerState("closed")
	SetStage("baseline")
}

func TestObserveBatch(t *testing.T) {
	Init()

	ObserveBatch(executor.Summary{
		Duration:        2 * time.Second,
		Responses:       8,
		NotFound:        1,
		ServerErrors:    2,
		TransportErrors: 1,
		Latencies:       []float64{0.1, 0.2},
	})

	require.Equal(t, 8.0, testutil.ToFloat64(requestsTotal.WithLabelValues("success")))
	require.Equal(t, 1.0, testutil.ToFloat64(requestsTotal.WithLabelValues("not_found")))
	require.Equal(t, 2.0, testutil.ToFloat64(requestsTotal.WithLabelValues("server_error")))
	require.Equal(t, 1.0, testutil.ToFloat64(requestsTotal.WithLabelValues("transport_error")))
	require.Equal(t, 1.0, testutil.ToFloat64(batchesTotal))
}

func TestSessionGauges(t *testing.T) {
	Init()

	SetSessionControl(throttle.NewSessionControl(25, 5))
	require.Equal(t, 25.0, testutil.ToFloat64(sessionRate))
	require.Equal(t, 5.0, testutil.ToFloat64(sessionConcurrency))
	require.Equal(t, 0.2, testutil.ToFloat64(sessionDelaySeconds))

	ObserveRecords(7)
	require.Equal(t, 7.0, testutil.ToFloat64(recordsTotal))
}

func TestStateGaugesAreOneHot(t *testing.T) {
	Init()

	SetBreakerState("open")
	require.Equal(t, 1.0, testutil.ToFloat64(breakerState.WithLabelValues("open")))
	require.Equal(t, 0.0, testutil.ToFloat64(breakerState.WithLabelValues("closed")))

	SetBreakerState("half_open")
	require.Equal(t, 1.0, testutil.ToFloat64(breakerState.WithLabelValues("half_open")))
	require.Equal(t, 0.0, testutil.ToFloat64(breakerState.WithLabelValues("open")))

	SetStage("rate_explore")
	require.Equal(t, 1.0, testutil.ToFloat64(throttleStage.WithLabelValues("rate_explore")))
	require.Equal(t, 0.0, testutil.ToFloat64(throttleStage.WithLabelValues("baseline")))
}
