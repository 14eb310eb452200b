// Package executor runs one batch of API requests under the session
// control emitted by the throttle adapter: concurrency is bounded by a
// weighted semaphore, pacing by a token-bucket rate limiter, and each
// request retries transient failures with exponential backoff.
package executor

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"

	"github.com/JakeFAU/adaptive-crawler/internal/breaker"
	"github.com/JakeFAU/adaptive-crawler/internal/client"
	"github.com/JakeFAU/adaptive-crawler/internal/throttle"
)

// HTTPClient is the transport capability the executor depends on.
type HTTPClient interface {
	Send(ctx context.Context, req client.Request) (client.Response, error)
}

// Config controls retry and concurrency behavior.
type Config struct {
	// MaxRetries bounds attempts per request. A request that exhausts
	// its retries is dropped but every failed attempt stays counted.
	MaxRetries int

	// HardCap is the absolute in-flight ceiling; the effective bound is
	// min(control.Concurrency, HardCap).
	HardCap int

	// BackoffBase scales the exponential backoff: base * 2^attempt.
	BackoffBase time.Duration
}

// Validate enforces the configuration invariants.
func (c Config) Validate() error {
	if c.MaxRetries < 1 {
		return fmt.Errorf("max_retries must be >= 1, got %d", c.MaxRetries)
	}
	if c.HardCap < 1 {
		return fmt.Errorf("hard_cap must be >= 1, got %d", c.HardCap)
	}
	if c.BackoffBase < 0 {
		return fmt.Errorf("backoff_base must be >= 0, got %v", c.BackoffBase)
	}
	return nil
}

// Summary is one batch's outcome: per-class error counters, the
// latency of every successful request, and the payloads to hand to
// extraction.
type Summary struct {
	SessionID string
	StartedAt time.Time
	Duration  time.Duration

	Requests  int
	Responses int

	Redirects       int
	ClientErrors    int
	NotFound        int
	ServerErrors    int
	TransportErrors int

	Latencies []float64
	Payloads  [][]byte
}

// Errors returns the failure count excluding not-found responses,
// which signal end of data rather than trouble.
func (s Summary) Errors() int {
	return s.Redirects + s.ClientErrors + s.ServerErrors + s.TransportErrors
}

// Observation converts the summary into the circuit breaker's input.
func (s Summary) Observation() breaker.Observation {
	return breaker.Observation{
		Requests: s.Requests,
		Errors:   s.Errors(),
		NotFound: s.NotFound,
	}
}

// Profile converts the summary into the sample history's input.
func (s Summary) Profile() throttle.Profile {
	return throttle.Profile{
		SessionID: s.SessionID,
		StartedAt: s.StartedAt,
		Duration:  s.Duration,
		Requests:  s.Requests,
		Latencies: s.Latencies,
	}
}

// Executor dispatches batches. Safe to reuse across batches; a batch
// runs to full completion before Execute returns.
type Executor struct {
	cfg     Config
	client  HTTPClient
	limiter *rate.Limiter
	now     func() time.Time
	sleep   func(context.Context, time.Duration)
	logger  *zap.Logger
}

// New builds an Executor around the given transport.
func New(cfg Config, httpClient HTTPClient, logger *zap.Logger) (*Executor, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("executor config: %w", err)
	}
	if httpClient == nil {
		return nil, fmt.Errorf("executor requires an http client")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Executor{
		cfg:     cfg,
		client:  httpClient,
		limiter: rate.NewLimiter(rate.Inf, 1),
		now:     time.Now,
		sleep:   sleepContext,
		logger:  logger,
	}, nil
}

func sleepContext(ctx context.Context, d time.Duration) {
	if d <= 0 {
		return
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-timer.C:
	}
}

// Execute runs one batch under the given session control and returns
// its summary. Individual request failures are absorbed and counted,
// never escalated; only a canceled context stops a batch early.
func (e *Executor) Execute(ctx context.Context, requests []client.Request, control throttle.SessionControl) Summary {
	summary := &Summary{
		SessionID: uuid.NewString(),
		StartedAt: e.now(),
	}
	if len(requests) == 0 {
		return *summary
	}

	bound := int64(e.cfg.HardCap)
	if c := int64(control.Concurrency); c >= 1 && c < bound {
		bound = c
	}
	if control.Rate > 0 {
		e.limiter.SetLimit(rate.Limit(control.Rate))
	} else {
		e.limiter.SetLimit(rate.Inf)
	}

	sem := semaphore.NewWeighted(bound)
	var (
		mu sync.Mutex
		wg sync.WaitGroup
	)

	for _, req := range requests {
		if err := sem.Acquire(ctx, 1); err != nil {
			break
		}
		wg.Add(1)
		go func(req client.Request) {
			defer wg.Done()
			defer sem.Release(1)
			e.execute(ctx, req, summary, &mu)
		}(req)
	}
	wg.Wait()

	summary.Duration = e.now().Sub(summary.StartedAt)
	e.logger.Debug("batch complete",
		zap.String("session_id", summary.SessionID),
		zap.Int("requests", summary.Requests),
		zap.Int("responses", summary.Responses),
		zap.Int("errors", summary.Errors()),
		zap.Int("not_found", summary.NotFound),
		zap.Duration("duration", summary.Duration),
	)
	return *summary
}

// execute runs one request's retry loop. Every attempt's failure is
// classified and counted; a 404 ends the request immediately since
// retrying an end-of-data response wastes budget.
func (e *Executor) execute(ctx context.Context, req client.Request, summary *Summary, mu *sync.Mutex) {
	mu.Lock()
	summary.Requests++
	mu.Unlock()

	for attempt := 0; attempt < e.cfg.MaxRetries; attempt++ {
		if err := e.limiter.Wait(ctx); err != nil {
			return
		}

		resp, err := e.client.Send(ctx, req)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			e.record(summary, mu, func(s *Summary) { s.TransportErrors++ })
			e.logger.Debug("transport error",
				zap.String("url", req.URL),
				zap.Int("attempt", attempt),
				zap.Error(err),
			)
			e.backoff(ctx, attempt)
			continue
		}

		switch {
		case resp.StatusCode == http.StatusNotFound:
			e.record(summary, mu, func(s *Summary) { s.NotFound++ })
			return

		case resp.StatusCode >= 200 && resp.StatusCode < 300:
			e.record(summary, mu, func(s *Summary) {
				s.Responses++
				s.Latencies = append(s.Latencies, resp.Latency.Seconds())
				s.Payloads = append(s.Payloads, resp.Body)
			})
			return

		case resp.StatusCode >= 300 && resp.StatusCode < 400:
			e.record(summary, mu, func(s *Summary) { s.Redirects++ })

		case resp.StatusCode >= 400 && resp.StatusCode < 500:
			e.record(summary, mu, func(s *Summary) { s.ClientErrors++ })

		default:
			e.record(summary, mu, func(s *Summary) { s.ServerErrors++ })
		}

		e.logger.Debug("request failed",
			zap.String("url", req.URL),
			zap.Int("status", resp.StatusCode),
			zap.Int("attempt", attempt),
		)
		e.backoff(ctx, attempt)
	}
	// Retries exhausted: the request is dropped, its failures counted.
}

func (e *Executor) record(summary *Summary, mu *sync.Mutex, update func(*Summary)) {
	mu.Lock()
	defer mu.Unlock()
	update(summary)
}

func (e *Executor) backoff(ctx context.Context, attempt int) {
	e.sleep(ctx, e.cfg.BackoffBase*time.Duration(1<<attempt))
}
