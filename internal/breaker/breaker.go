// Package breaker implements the crawl circuit breaker: a
// closed/open/half-open machine with two absorbing terminal states.
// Sustained errors terminate the crawl; sustained not-found responses
// complete it, signaling the end of a paginated data source.
package breaker

import (
	"fmt"
	"time"

	"go.uber.org/zap"
)

// Observation is one batch's outcome summary. Errors counts failed
// requests excluding not-found responses; NotFound counts 404s, which
// are an end-of-data signal rather than a failure.
type Observation struct {
	Requests int
	Errors   int
	NotFound int
}

// Config parameterizes the breaker's four windows and its timing.
type Config struct {
	// BurnIn is the period after start during which observations are
	// recorded but no state decision is made.
	BurnIn time.Duration

	// Cooldown is slept when the breaker opens, before probing resumes
	// in the half-open state.
	Cooldown time.Duration

	// HalfOpenDelay is inserted before each batch while half-open,
	// throttling the probe traffic.
	HalfOpenDelay time.Duration

	// Closed-state failure window: exceeding it opens the breaker.
	ClosedWindow    time.Duration
	ClosedThreshold float64

	// Half-open failure window: exceeding it re-opens the breaker.
	HalfOpenWindow    time.Duration
	HalfOpenThreshold float64

	// Short-circuit error window: exceeding it terminates the crawl.
	ErrorWindow    time.Duration
	ErrorThreshold float64

	// Short-circuit not-found window: exceeding it completes the crawl.
	NotFoundWindow    time.Duration
	NotFoundThreshold float64
}

// DefaultConfig returns the production defaults.
func DefaultConfig() Config {
	return Config{
		BurnIn:            5 * time.Minute,
		Cooldown:          5 * time.Minute,
		HalfOpenDelay:     2 * time.Second,
		ClosedWindow:      5 * time.Minute,
		ClosedThreshold:   0.5,
		HalfOpenWindow:    10 * time.Minute,
		HalfOpenThreshold: 0.3,
		ErrorWindow:       3 * time.Minute,
		ErrorThreshold:    0.9,
		NotFoundWindow:    3 * time.Minute,
		NotFoundThreshold: 0.7,
	}
}

// Validate enforces the configuration invariants at construction time.
func (c Config) Validate() error {
	if c.BurnIn < 0 {
		return fmt.Errorf("burn_in must be >= 0, got %v", c.BurnIn)
	}
	if c.Cooldown < 0 {
		return fmt.Errorf("cooldown must be >= 0, got %v", c.Cooldown)
	}
	if c.HalfOpenDelay < 0 {
		return fmt.Errorf("half_open_delay must be >= 0, got %v", c.HalfOpenDelay)
	}
	for _, w := range []struct {
		name      string
		window    time.Duration
		threshold float64
	}{
		{"closed", c.ClosedWindow, c.ClosedThreshold},
		{"half_open", c.HalfOpenWindow, c.HalfOpenThreshold},
		{"error", c.ErrorWindow, c.ErrorThreshold},
		{"not_found", c.NotFoundWindow, c.NotFoundThreshold},
	} {
		if w.window <= 0 {
			return fmt.Errorf("%s window must be > 0, got %v", w.name, w.window)
		}
		if w.threshold < 0 || w.threshold > 1 {
			return fmt.Errorf("%s threshold must be in [0, 1], got %v", w.name, w.threshold)
		}
	}
	return nil
}

// Breaker composes four independent error windows and evaluates them
// once per batch. Single-writer: Observe must only be called from the
// batch coordinator.
type Breaker struct {
	cfg    Config
	logger *zap.Logger
	now    NowFunc
	sleep  SleepFunc

	startedAt time.Time
	state     State

	closed   *ErrorWindow
	halfOpen *ErrorWindow
	errors   *ErrorWindow
	notFound *ErrorWindow
}

// New builds a Breaker in the closed state. The burn-in clock starts
// immediately. Nil now and sleep fall back to the real clock.
func New(cfg Config, now NowFunc, sleep SleepFunc, logger *zap.Logger) (*Breaker, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("breaker config: %w", err)
	}
	if now == nil {
		now = time.Now
	}
	if sleep == nil {
		sleep = time.Sleep
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	b := &Breaker{
		cfg:       cfg,
		logger:    logger,
		now:       now,
		sleep:     sleep,
		startedAt: now(),
		state:     StateClosed,
	}

	var err error
	if b.closed, err = NewErrorWindow(cfg.ClosedWindow, cfg.ClosedThreshold, now); err != nil {
		return nil, err
	}
	if b.halfOpen, err = NewErrorWindow(cfg.HalfOpenWindow, cfg.HalfOpenThreshold, now); err != nil {
		return nil, err
	}
	if b.errors, err = NewErrorWindow(cfg.ErrorWindow, cfg.ErrorThreshold, now); err != nil {
		return nil, err
	}
	if b.notFound, err = NewErrorWindow(cfg.NotFoundWindow, cfg.NotFoundThreshold, now); err != nil {
		return nil, err
	}
	return b, nil
}

// State returns the current breaker state.
func (b *Breaker) State() State {
	return b.state
}

// Done reports whether the breaker has reached an absorbing state and
// the owning job should stop dispatching batches.
func (b *Breaker) Done() bool {
	return b.state.Terminal()
}

// Observe records one batch outcome and evaluates the state machine.
// During burn-in the windows accumulate but no transition happens.
// Once Terminated or Complete is reached the state never changes again.
func (b *Breaker) Observe(obs Observation) State {
	if b.state.Terminal() {
		return b.state
	}

	errorsExceeded := b.errors.RecordAndCheck(obs.Requests, obs.Errors)
	notFoundExceeded := b.notFound.RecordAndCheck(obs.Requests, obs.NotFound)
	closedExceeded := b.closed.RecordAndCheck(obs.Requests, obs.Errors)
	halfOpenExceeded := b.halfOpen.RecordAndCheck(obs.Requests, obs.Errors)

	if b.now().Sub(b.startedAt) < b.cfg.BurnIn {
		return b.state
	}

	switch {
	case errorsExceeded:
		b.logger.Error("sustained failure rate, terminating crawl",
			zap.Float64("error_ratio", b.errors.Ratio()),
			zap.Float64("threshold", b.cfg.ErrorThreshold),
		)
		b.state = StateTerminated

	case notFoundExceeded:
		b.logger.Info("sustained not-found rate, data source exhausted",
			zap.Float64("not_found_ratio", b.notFound.Ratio()),
			zap.Float64("threshold", b.cfg.NotFoundThreshold),
		)
		b.state = StateComplete

	case b.state == StateClosed && closedExceeded:
		b.trip()

	case b.state == StateHalfOpen:
		if halfOpenExceeded {
			b.trip()
		} else {
			b.sleep(b.cfg.HalfOpenDelay)
		}
	}
	return b.state
}

// trip opens the breaker, clears every window, waits out the cooldown,
// and resumes probing half-open. There is no automatic path back to
// closed; recovery requires an explicit Reset.
func (b *Breaker) trip() {
	b.state = StateOpen
	b.logger.Warn("circuit breaker opened, cooling down",
		zap.Duration("cooldown", b.cfg.Cooldown),
	)
	b.closed.Reset()
	b.halfOpen.Reset()
	b.errors.Reset()
	b.notFound.Reset()
	b.sleep(b.cfg.Cooldown)
	b.state = StateHalfOpen
	b.logger.Info("circuit breaker half-open, probing at reduced rate")
}

// Reset returns a non-terminal breaker to the closed state with fresh
// windows. Terminal states cannot be reset.
func (b *Breaker) Reset() error {
	if b.state.Terminal() {
		return fmt.Errorf("cannot reset breaker in %s state", b.state)
	}
	b.closed.Reset()
	b.halfOpen.Reset()
	b.errors.Reset()
	b.notFound.Reset()
	b.state = StateClosed
	return nil
}
