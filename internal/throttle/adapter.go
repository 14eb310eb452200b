package throttle

import (
	"fmt"
	"time"

	"go.uber.org/zap"
)

// Stage identifies one phase of the adaptive controller. The stages
// form a fixed ring: Baseline -> RateExplore -> ConcurrencyExplore ->
// Exploit -> Baseline, repeated for the life of the crawl so the
// controller keeps re-learning baseline conditions as the remote
// service drifts.
type Stage int

const (
	StageBaseline Stage = iota
	StageRateExplore
	StageConcurrencyExplore
	StageExploit

	stageCount
)

// String returns the stage name.
func (s Stage) String() string {
	switch s {
	case StageBaseline:
		return "baseline"
	case StageRateExplore:
		return "rate_explore"
	case StageConcurrencyExplore:
		return "concurrency_explore"
	case StageExploit:
		return "exploit"
	default:
		return fmt.Sprintf("stage(%d)", int(s))
	}
}

func (s Stage) next() Stage {
	return (s + 1) % stageCount
}

// Bounds hold the base value and hard limits for one control knob.
type Bounds struct {
	Base float64
	Min  float64
	Max  float64
}

func (b Bounds) validate(name string) error {
	if b.Min > b.Max {
		return fmt.Errorf("%s: min %v exceeds max %v", name, b.Min, b.Max)
	}
	if b.Base < b.Min || b.Base > b.Max {
		return fmt.Errorf("%s: base %v outside [%v, %v]", name, b.Base, b.Min, b.Max)
	}
	return nil
}

// Config parameterizes the Adapter. It is decoupled from Viper so the
// controller can be constructed and tested independently.
type Config struct {
	Rate        Bounds
	Concurrency Bounds

	// Temperature is the stddev of the exploration noise on the rate.
	Temperature float64

	// StepIncrease and StepDecrease are the AIMD factors used by the
	// explore stages (additive step, multiplicative factor).
	StepIncrease float64
	StepDecrease float64

	// Threshold scales the baseline latency mean and CV when judging
	// stability: current <= baseline*Threshold means stable.
	Threshold float64

	// StepDuration is the stabilization period entered after each AIMD
	// adjustment, during which only noise is applied.
	StepDuration time.Duration

	// Window is the sliding window used for baseline snapshots and
	// current-latency comparisons.
	Window time.Duration

	// Per-stage durations.
	BaselineDuration           time.Duration
	RateExploreDuration        time.Duration
	ConcurrencyExploreDuration time.Duration
	ExploitDuration            time.Duration

	// K and M are the proportional gains applied by the exploit stage
	// to the latency ratio and CV ratio respectively.
	K float64
	M float64
}

// Validate enforces the configuration invariants at construction time.
func (c Config) Validate() error {
	if err := c.Rate.validate("rate"); err != nil {
		return err
	}
	if err := c.Concurrency.validate("concurrency"); err != nil {
		return err
	}
	if c.Temperature < 0 {
		return fmt.Errorf("temperature must be >= 0, got %v", c.Temperature)
	}
	if c.StepIncrease <= 0 {
		return fmt.Errorf("step_increase must be > 0, got %v", c.StepIncrease)
	}
	if c.StepDecrease <= 0 || c.StepDecrease >= 1 {
		return fmt.Errorf("step_decrease must be in (0, 1), got %v", c.StepDecrease)
	}
	if c.Threshold <= 0 {
		return fmt.Errorf("threshold must be > 0, got %v", c.Threshold)
	}
	if c.StepDuration < 0 {
		return fmt.Errorf("step_duration must be >= 0, got %v", c.StepDuration)
	}
	if c.Window <= 0 {
		return fmt.Errorf("window must be > 0, got %v", c.Window)
	}
	for _, d := range []struct {
		name  string
		value time.Duration
	}{
		{"baseline_duration", c.BaselineDuration},
		{"rate_explore_duration", c.RateExploreDuration},
		{"concurrency_explore_duration", c.ConcurrencyExploreDuration},
		{"exploit_duration", c.ExploitDuration},
	} {
		if d.value <= 0 {
			return fmt.Errorf("%s must be > 0, got %v", d.name, d.value)
		}
	}
	if c.K < 0 || c.M < 0 {
		return fmt.Errorf("exploit gains must be >= 0, got k=%v m=%v", c.K, c.M)
	}
	return nil
}

// stageState is the per-stage mutable state: the control values owned
// by the stage, its clocks, and the baseline latency snapshot taken
// when the stage began.
type stageState struct {
	rate        *ControlValue
	concurrency *ControlValue
	clock       *Clock
	stepClock   *Clock
	stabilizing bool
	baseline    Stats
}

// Adapter is the four-stage controller. It reads the sample History
// and emits a fresh SessionControl per batch, transitioning stages as
// their durations elapse. All four stages are assembled atomically in
// NewAdapter; the ring can never be observed half-wired.
//
// The adapter is single-writer: Adapt must only be called from the
// batch coordinator, between batches.
type Adapter struct {
	cfg     Config
	history *History
	now     NowFunc
	logger  *zap.Logger

	stage   Stage
	control SessionControl
	stages  [stageCount]*stageState
}

// NewAdapter builds the adapter with all ring stages wired. A config
// that fails validation is a fatal construction error.
func NewAdapter(cfg Config, history *History, now NowFunc, logger *zap.Logger) (*Adapter, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("adapter config: %w", err)
	}
	if history == nil {
		return nil, fmt.Errorf("adapter requires a history")
	}
	if now == nil {
		now = time.Now
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	a := &Adapter{
		cfg:     cfg,
		history: history,
		now:     now,
		logger:  logger,
		stage:   StageBaseline,
		control: NewSessionControl(cfg.Rate.Base, cfg.Concurrency.Base),
	}
	for i := range a.stages {
		a.stages[i] = &stageState{
			clock:     NewClock(now),
			stepClock: NewClock(now),
		}
	}
	return a, nil
}

// Stage returns the active stage.
func (a *Adapter) Stage() Stage {
	return a.stage
}

// Control returns the most recently emitted session control.
func (a *Adapter) Control() SessionControl {
	return a.control
}

// Adapt runs one controller step: enters the active stage if needed,
// executes its logic against the current history, and transitions to
// the next ring stage once the stage duration has elapsed. It returns
// the session control to apply to the next batch.
func (a *Adapter) Adapt() SessionControl {
	st := a.stages[a.stage]
	if !st.clock.Active() {
		a.beginStage(a.stage)
	}

	control := a.executeStage(a.stage)
	a.control = control

	if st.clock.HasElapsed(a.stageDuration(a.stage)) {
		a.endStage(a.stage)
	}
	return control
}

func (a *Adapter) stageDuration(s Stage) time.Duration {
	switch s {
	case StageBaseline:
		return a.cfg.BaselineDuration
	case StageRateExplore:
		return a.cfg.RateExploreDuration
	case StageConcurrencyExplore:
		return a.cfg.ConcurrencyExploreDuration
	default:
		return a.cfg.ExploitDuration
	}
}

// beginStage starts the stage clock and seeds the stage's control
// values. Explore and exploit stages snapshot the current latency
// statistics as their baseline for comparison.
func (a *Adapter) beginStage(s Stage) {
	st := a.stages[s]
	st.clock.Start()
	st.stepClock.Reset()
	st.stabilizing = false

	switch s {
	case StageBaseline:
		// Rate wanders around the configured base; concurrency is held
		// at base for the whole stage.
		st.rate = a.mustControlValue(ControlSettings{
			Initial:     a.cfg.Rate.Base,
			Min:         a.cfg.Rate.Min,
			Max:         a.cfg.Rate.Max,
			Temperature: a.cfg.Temperature,
		})
		st.concurrency = a.mustControlValue(ControlSettings{
			Initial: a.cfg.Concurrency.Base,
			Min:     a.cfg.Concurrency.Min,
			Max:     a.cfg.Concurrency.Max,
		})

	case StageRateExplore:
		st.baseline = a.history.LatencyStats(a.cfg.Window)
		st.rate = a.mustControlValue(ControlSettings{
			Initial:              a.cfg.Rate.Base,
			Min:                  a.cfg.Rate.Min,
			Max:                  a.cfg.Rate.Max,
			AdditiveStep:         a.cfg.StepIncrease,
			MultiplicativeFactor: a.cfg.StepDecrease,
			Temperature:          a.cfg.Temperature,
		})
		st.concurrency = a.mustControlValue(ControlSettings{
			Initial: a.cfg.Concurrency.Base,
			Min:     a.cfg.Concurrency.Min,
			Max:     a.cfg.Concurrency.Max,
		})

	case StageConcurrencyExplore:
		st.baseline = a.history.LatencyStats(a.cfg.Window)
		// Rate is inherited from the explore stage and only wanders.
		st.rate = a.mustControlValue(ControlSettings{
			Initial:     clampInto(a.control.Rate, a.cfg.Rate),
			Min:         a.cfg.Rate.Min,
			Max:         a.cfg.Rate.Max,
			Temperature: a.cfg.Temperature,
		})
		st.concurrency = a.mustControlValue(ControlSettings{
			Initial:              a.cfg.Concurrency.Base,
			Min:                  a.cfg.Concurrency.Min,
			Max:                  a.cfg.Concurrency.Max,
			AdditiveStep:         a.cfg.StepIncrease,
			MultiplicativeFactor: a.cfg.StepDecrease,
		})

	case StageExploit:
		st.baseline = a.history.LatencyStats(a.cfg.Window)
		// Both knobs start from the values the explore stages converged
		// on; only the rate is adjusted during exploit.
		st.rate = a.mustControlValue(ControlSettings{
			Initial: clampInto(a.control.Rate, a.cfg.Rate),
			Min:     a.cfg.Rate.Min,
			Max:     a.cfg.Rate.Max,
		})
		st.concurrency = a.mustControlValue(ControlSettings{
			Initial: clampInto(a.control.Concurrency, a.cfg.Concurrency),
			Min:     a.cfg.Concurrency.Min,
			Max:     a.cfg.Concurrency.Max,
		})
	}

	a.logger.Info("throttle stage started",
		zap.Stringer("stage", s),
		zap.Float64("rate", st.rate.Value()),
		zap.Float64("concurrency", st.concurrency.Value()),
	)
}

func (a *Adapter) executeStage(s Stage) SessionControl {
	st := a.stages[s]
	switch s {
	case StageBaseline:
		st.rate.AddNoise()

	case StageRateExplore:
		if a.inStabilization(st) {
			st.rate.AddNoise()
		} else {
			a.adjust(st, st.rate)
		}

	case StageConcurrencyExplore:
		if a.inStabilization(st) {
			st.rate.AddNoise()
		} else {
			a.adjust(st, st.concurrency)
		}

	case StageExploit:
		a.exploit(st)
	}
	return NewSessionControl(st.rate.Value(), st.concurrency.Value())
}

// adjust performs one AIMD adaptation step on the given knob and opens
// a stabilization period so the system can settle before the next
// judgment.
func (a *Adapter) adjust(st *stageState, knob *ControlValue) {
	if a.stable(st) {
		knob.Increase(true)
	} else {
		knob.Decrease(true)
	}
	st.stepClock.Start()
	st.stabilizing = true
}

// stable compares current latency statistics against the stage's
// baseline snapshot scaled by the configured threshold.
func (a *Adapter) stable(st *stageState) bool {
	current := a.history.LatencyStats(a.cfg.Window)
	meanThreshold := st.baseline.Mean * a.cfg.Threshold
	cvThreshold := st.baseline.CV * a.cfg.Threshold
	stable := current.Mean <= meanThreshold && current.CV <= cvThreshold
	if !stable {
		a.logger.Debug("system unstable",
			zap.Float64("latency_mean", current.Mean),
			zap.Float64("latency_mean_threshold", meanThreshold),
			zap.Float64("latency_cv", current.CV),
			zap.Float64("latency_cv_threshold", cvThreshold),
		)
	}
	return stable
}

// exploit applies proportional control to the rate:
// rate *= (1 - k*(latencyRatio-1)) * (1 - m*(cvRatio-1)).
// A zero baseline moment yields a neutral ratio of 1.
func (a *Adapter) exploit(st *stageState) {
	current := a.history.LatencyStats(a.cfg.Window)
	latencyRatio := 1.0
	if st.baseline.Mean > 0 {
		latencyRatio = current.Mean / st.baseline.Mean
	}
	cvRatio := 1.0
	if st.baseline.CV > 0 {
		cvRatio = current.CV / st.baseline.CV
	}
	next := st.rate.Value() *
		(1 - a.cfg.K*(latencyRatio-1)) *
		(1 - a.cfg.M*(cvRatio-1))
	st.rate.Set(next)
}

func (a *Adapter) inStabilization(st *stageState) bool {
	exit := !st.stepClock.Active() || st.stepClock.HasElapsed(a.cfg.StepDuration)
	if exit {
		if st.stabilizing {
			a.logger.Debug("exiting stabilization period", zap.Stringer("stage", a.stage))
		}
		st.stabilizing = false
	} else {
		st.stabilizing = true
	}
	return st.stabilizing
}

func (a *Adapter) endStage(s Stage) {
	st := a.stages[s]
	st.clock.Reset()
	st.stepClock.Reset()
	st.stabilizing = false
	next := s.next()
	a.logger.Info("throttle stage transition",
		zap.Stringer("from", s),
		zap.Stringer("to", next),
	)
	a.stage = next
}

// mustControlValue wraps NewControlValue for settings derived from an
// already-validated Config; a failure here is a programming error.
func (a *Adapter) mustControlValue(settings ControlSettings) *ControlValue {
	v, err := NewControlValue(settings)
	if err != nil {
		panic(fmt.Sprintf("throttle: invalid derived control settings: %v", err))
	}
	return v
}

// clampInto bounds an inherited value into the knob's configured range
// so it is always a valid initial value.
func clampInto(value float64, b Bounds) float64 {
	if value < b.Min {
		return b.Min
	}
	if value > b.Max {
		return b.Max
	}
	return value
}
