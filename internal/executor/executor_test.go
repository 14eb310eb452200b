package executor

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/adaptive-crawler/internal/client"
	"github.com/JakeFAU/adaptive-crawler/internal/throttle"
)

// scriptedClient returns canned responses per URL, one per attempt,
// repeating the last entry once the script runs out. It tracks call
// counts and the maximum number of concurrent Send calls.
type scriptedClient struct {
	mu       sync.Mutex
	scripts  map[string][]scriptStep
	calls    map[string]int
	inFlight int64
	maxSeen  int64
	delay    time.Duration
}

type scriptStep struct {
	resp client.Response
	err  error
}

func newScriptedClient() *scriptedClient {
	return &scriptedClient{
		scripts: make(map[string][]scriptStep),
		calls:   make(map[string]int),
	}
}

func (c *scriptedClient) script(url string, steps ...scriptStep) {
	c.scripts[url] = steps
}

func (c *scriptedClient) Send(ctx context.Context, req client.Request) (client.Response, error) {
	current := atomic.AddInt64(&c.inFlight, 1)
	defer atomic.AddInt64(&c.inFlight, -1)
	for {
		seen := atomic.LoadInt64(&c.maxSeen)
		if current <= seen || atomic.CompareAndSwapInt64(&c.maxSeen, seen, current) {
			break
		}
	}
	if c.delay > 0 {
		time.Sleep(c.delay)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	steps := c.scripts[req.URL]
	idx := c.calls[req.URL]
	c.calls[req.URL]++
	if len(steps) == 0 {
		return client.Response{StatusCode: 200, Latency: time.Millisecond}, nil
	}
	if idx >= len(steps) {
		idx = len(steps) - 1
	}
	return steps[idx].resp, steps[idx].err
}

func testExecutorConfig() Config {
	return Config{MaxRetries: 3, HardCap: 64, BackoffBase: 0}
}

func newTestExecutor(t *testing.T, cfg Config, c HTTPClient) *Executor {
	t.Helper()
	e, err := New(cfg, c, zap.NewNop())
	require.NoError(t, err)
	e.sleep = func(context.Context, time.Duration) {}
	return e
}

func TestNewValidation(t *testing.T) {
	t.Parallel()

	_, err := New(Config{MaxRetries: 0, HardCap: 1}, newScriptedClient(), nil)
	require.Error(t, err)

	_, err = New(Config{MaxRetries: 1, HardCap: 0}, newScriptedClient(), nil)
	require.Error(t, err)

	_, err = New(testExecutorConfig(), nil, nil)
	require.Error(t, err)
}

func TestExecuteSuccessRecordsLatencyAndPayload(t *testing.T) {
	t.Parallel()

	c := newScriptedClient()
	c.script("https://api.example.com/page/1", scriptStep{
		resp: client.Response{StatusCode: 200, Body: []byte(`{"ok":true}`), Latency: 250 * time.Millisecond},
	})
	e := newTestExecutor(t, testExecutorConfig(), c)

	summary := e.Execute(context.Background(),
		[]client.Request{{URL: "https://api.example.com/page/1"}},
		throttle.NewSessionControl(0, 10),
	)

	require.NotEmpty(t, summary.SessionID)
	require.Equal(t, 1, summary.Requests)
	require.Equal(t, 1, summary.Responses)
	require.Zero(t, summary.Errors())
	require.Equal(t, []float64{0.25}, summary.Latencies)
	require.Equal(t, [][]byte{[]byte(`{"ok":true}`)}, summary.Payloads)
}

func TestExecuteNotFoundIsNotRetried(t *testing.T) {
	t.Parallel()

	c := newScriptedClient()
	c.script("https://api.example.com/page/999", scriptStep{
		resp: client.Response{StatusCode: 404},
	})
	e := newTestExecutor(t, testExecutorConfig(), c)

	summary := e.Execute(context.Background(),
		[]client.Request{{URL: "https://api.example.com/page/999"}},
		throttle.NewSessionControl(0, 10),
	)

	require.Equal(t, 1, summary.NotFound)
	require.Zero(t, summary.Errors())
	require.Equal(t, 1, c.calls["https://api.example.com/page/999"])
}

func TestExecuteRetriesThenDrops(t *testing.T) {
	t.Parallel()

	c := newScriptedClient()
	c.script("https://api.example.com/flaky", scriptStep{
		resp: client.Response{StatusCode: 503},
	})
	e := newTestExecutor(t, testExecutorConfig(), c)

	summary := e.Execute(context.Background(),
		[]client.Request{{URL: "https://api.example.com/flaky"}},
		throttle.NewSessionControl(0, 10),
	)

	// Dropped after exhausting retries; every failed attempt counted.
	require.Equal(t, 1, summary.Requests)
	require.Zero(t, summary.Responses)
	require.Equal(t, 3, summary.ServerErrors)
	require.Equal(t, 3, c.calls["https://api.example.com/flaky"])
}

func TestExecuteRetryRecovers(t *testing.T) {
	t.Parallel()

	c := newScriptedClient()
	c.script("https://api.example.com/recovers",
		scriptStep{err: errors.New("connection reset")},
		scriptStep{resp: client.Response{StatusCode: 500}},
		scriptStep{resp: client.Response{StatusCode: 200, Body: []byte("{}"), Latency: time.Millisecond}},
	)
	e := newTestExecutor(t, testExecutorConfig(), c)

	summary := e.Execute(context.Background(),
		[]client.Request{{URL: "https://api.example.com/recovers"}},
		throttle.NewSessionControl(0, 10),
	)

	require.Equal(t, 1, summary.Responses)
	require.Equal(t, 1, summary.TransportErrors)
	require.Equal(t, 1, summary.ServerErrors)
}

func TestExecuteClassifiesStatuses(t *testing.T) {
	t.Parallel()

	c := newScriptedClient()
	c.script("https://api.example.com/moved", scriptStep{resp: client.Response{StatusCode: 301}})
	c.script("https://api.example.com/forbidden", scriptStep{resp: client.Response{StatusCode: 403}})
	c.script("https://api.example.com/down", scriptStep{resp: client.Response{StatusCode: 502}})
	cfg := testExecutorConfig()
	cfg.MaxRetries = 1
	e := newTestExecutor(t, cfg, c)

	summary := e.Execute(context.Background(), []client.Request{
		{URL: "https://api.example.com/moved"},
		{URL: "https://api.example.com/forbidden"},
		{URL: "https://api.example.com/down"},
	}, throttle.NewSessionControl(0, 10))

	require.Equal(t, 3, summary.Requests)
	require.Equal(t, 1, summary.Redirects)
	require.Equal(t, 1, summary.ClientErrors)
	require.Equal(t, 1, summary.ServerErrors)
	require.Equal(t, 3, summary.Errors())
}

func TestExecuteBoundsConcurrency(t *testing.T) {
	t.Parallel()

	c := newScriptedClient()
	c.delay = 20 * time.Millisecond
	e := newTestExecutor(t, testExecutorConfig(), c)

	requests := make([]client.Request, 32)
	for i := range requests {
		requests[i] = client.Request{URL: "https://api.example.com/items"}
	}

	summary := e.Execute(context.Background(), requests, throttle.NewSessionControl(0, 4))
	require.Equal(t, 32, summary.Requests)
	require.LessOrEqual(t, atomic.LoadInt64(&c.maxSeen), int64(4))
}

func TestExecuteHardCapWins(t *testing.T) {
	t.Parallel()

	c := newScriptedClient()
	c.delay = 20 * time.Millisecond
	cfg := testExecutorConfig()
	cfg.HardCap = 2
	e := newTestExecutor(t, cfg, c)

	requests := make([]client.Request, 16)
	for i := range requests {
		requests[i] = client.Request{URL: "https://api.example.com/items"}
	}

	e.Execute(context.Background(), requests, throttle.NewSessionControl(0, 100))
	require.LessOrEqual(t, atomic.LoadInt64(&c.maxSeen), int64(2))
}

func TestExecuteEmptyBatch(t *testing.T) {
	t.Parallel()

	e := newTestExecutor(t, testExecutorConfig(), newScriptedClient())
	summary := e.Execute(context.Background(), nil, throttle.NewSessionControl(0, 10))
	require.Zero(t, summary.Requests)
	require.NotEmpty(t, summary.SessionID)
}

func TestSummaryConversions(t *testing.T) {
	t.Parallel()

	summary := Summary{
		SessionID:       "s1",
		StartedAt:       time.Date(2026, 1, 15, 9, 0, 0, 0, time.UTC),
		Duration:        2 * time.Second,
		Requests:        10,
		Responses:       5,
		Redirects:       1,
		ClientErrors:    1,
		NotFound:        2,
		ServerErrors:    1,
		TransportErrors: 0,
		Latencies:       []float64{0.1, 0.2},
	}

	obs := summary.Observation()
	require.Equal(t, 10, obs.Requests)
	require.Equal(t, 3, obs.Errors)
	require.Equal(t, 2, obs.NotFound)

	profile := summary.Profile()
	require.Equal(t, "s1", profile.SessionID)
	require.Equal(t, 10, profile.Requests)
	require.Equal(t, []float64{0.1, 0.2}, profile.Latencies)
	require.Equal(t, 5.0, profile.Throughput())
}
