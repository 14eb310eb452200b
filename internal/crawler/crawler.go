package crawler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/JakeFAU/adaptive-crawler/internal/breaker"
	"github.com/JakeFAU/adaptive-crawler/internal/extract"
	"github.com/JakeFAU/adaptive-crawler/internal/job"
	"github.com/JakeFAU/adaptive-crawler/internal/metrics"
	"github.com/JakeFAU/adaptive-crawler/internal/throttle"
)

// Config controls the orchestrator.
type Config struct {
	// Project labels the job in the record store.
	Project string

	// Topic is the publish destination for extracted records; empty
	// disables publishing.
	Topic string

	// StatusWindow sizes the history snapshot exposed by Status.
	StatusWindow time.Duration
}

// Crawler drives the crawl loop. Construct with New, run with Run;
// Status is safe to call concurrently while Run is in flight.
type Crawler struct {
	cfg       Config
	adapter   *throttle.Adapter
	history   *throttle.History
	breaker   *breaker.Breaker
	executor  BatchExecutor
	extractor *extract.Extractor
	source    Source
	store     RecordStore
	publisher Publisher
	logger    *zap.Logger
	now       func() time.Time
	sleep     func(context.Context, time.Duration)

	mu     sync.Mutex
	status Status
}

// New wires the orchestrator. Every collaborator is required except
// the publisher, which may be nil when cfg.Topic is empty.
func New(
	cfg Config,
	adapter *throttle.Adapter,
	history *throttle.History,
	brk *breaker.Breaker,
	batchExecutor BatchExecutor,
	extractor *extract.Extractor,
	source Source,
	store RecordStore,
	publisher Publisher,
	logger *zap.Logger,
) (*Crawler, error) {
	switch {
	case adapter == nil:
		return nil, fmt.Errorf("crawler requires an adapter")
	case history == nil:
		return nil, fmt.Errorf("crawler requires a history")
	case brk == nil:
		return nil, fmt.Errorf("crawler requires a breaker")
	case batchExecutor == nil:
		return nil, fmt.Errorf("crawler requires an executor")
	case extractor == nil:
		return nil, fmt.Errorf("crawler requires an extractor")
	case source == nil:
		return nil, fmt.Errorf("crawler requires a source")
	case store == nil:
		return nil, fmt.Errorf("crawler requires a record store")
	case cfg.Topic != "" && publisher == nil:
		return nil, fmt.Errorf("crawler requires a publisher when a topic is configured")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.StatusWindow <= 0 {
		cfg.StatusWindow = 5 * time.Minute
	}
	return &Crawler{
		cfg:       cfg,
		adapter:   adapter,
		history:   history,
		breaker:   brk,
		executor:  batchExecutor,
		extractor: extractor,
		source:    source,
		store:     store,
		publisher: publisher,
		logger:    logger,
		now:       time.Now,
		sleep:     sleepContext,
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

// Run executes batches until the breaker reaches a terminal state, the
// source runs dry, or the context is canceled. It returns the final
// job record; per-batch failures are absorbed, so the returned error
// covers only job bookkeeping itself.
func (c *Crawler) Run(ctx context.Context) (job.Job, error) {
	j := job.New(uuid.NewString(), c.cfg.Project, c.now())
	if err := j.Start(c.now()); err != nil {
		return j, fmt.Errorf("start job: %w", err)
	}
	if err := c.store.SaveJob(ctx, j); err != nil {
		c.logger.Error("save job failed", zap.String("job_id", j.ID), zap.Error(err))
	}
	c.logger.Info("crawl started",
		zap.String("job_id", j.ID),
		zap.String("project", c.cfg.Project),
	)

	for {
		if ctx.Err() != nil {
			c.finishJob(&j, j.Cancel(c.now()))
			break
		}

		control := c.adapter.Adapt()
		c.history.AddControl(control)
		metrics.SetSessionControl(control)
		metrics.SetStage(c.adapter.Stage().String())

		batch := c.source.NextBatch(batchSize(control))
		if len(batch) == 0 {
			c.logger.Info("request source exhausted", zap.String("job_id", j.ID))
			c.finishJob(&j, j.Complete(c.now()))
			break
		}

		summary := c.executor.Execute(ctx, batch, control)
		c.history.AddProfile(summary.Profile())
		state := c.breaker.Observe(summary.Observation())
		metrics.ObserveBatch(summary)
		metrics.SetBreakerState(state.String())

		records, failed := c.extractor.ExtractBatch(summary.Payloads)
		if failed > 0 {
			c.logger.Warn("payloads failed extraction",
				zap.String("job_id", j.ID),
				zap.Int("failed", failed),
			)
		}
		metrics.ObserveRecords(len(records))
		c.persistAndPublish(ctx, j.ID, records)

		j.Counters.Batches++
		j.Counters.Requests += summary.Requests
		j.Counters.Records += len(records)
		j.Counters.Errors += summary.Errors()
		j.Counters.NotFound += summary.NotFound
		c.updateStatus(j, control, state)

		if state.Terminal() {
			if state == breaker.StateComplete {
				c.finishJob(&j, j.Complete(c.now()))
			} else {
				c.finishJob(&j, j.Terminate(c.now(), terminalReason(state)))
			}
			break
		}

		c.sleep(ctx, time.Duration(control.Delay*float64(time.Second)))
	}

	if err := c.store.SaveJob(context.WithoutCancel(ctx), j); err != nil {
		return j, fmt.Errorf("save final job state: %w", err)
	}
	c.logger.Info("crawl finished",
		zap.String("job_id", j.ID),
		zap.String("status", string(j.Status)),
		zap.Int("batches", j.Counters.Batches),
		zap.Int("records", j.Counters.Records),
	)
	return j, nil
}

// Status returns the latest operational snapshot.
func (c *Crawler) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	status := c.status
	status.Snapshot = c.history.GetSnapshot(c.cfg.StatusWindow)
	return status
}

func (c *Crawler) persistAndPublish(ctx context.Context, jobID string, records []extract.Record) {
	if len(records) == 0 {
		return
	}
	if err := c.store.SaveRecords(ctx, jobID, records); err != nil {
		c.logger.Error("save records failed",
			zap.String("job_id", jobID),
			zap.Int("records", len(records)),
			zap.Error(err),
		)
	}
	if c.cfg.Topic == "" || c.publisher == nil {
		return
	}
	if _, err := c.publisher.Publish(ctx, c.cfg.Topic, records); err != nil {
		c.logger.Error("publish records failed",
			zap.String("job_id", jobID),
			zap.String("topic", c.cfg.Topic),
			zap.Error(err),
		)
	}
}

func (c *Crawler) updateStatus(j job.Job, control throttle.SessionControl, state breaker.State) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.status = Status{
		Job:     j,
		Stage:   c.adapter.Stage().String(),
		Control: control,
		Breaker: state.String(),
	}
}

// finishJob records a final job transition; a transition error here is
// a programming bug, logged rather than escalated so the final save
// still happens.
func (c *Crawler) finishJob(j *job.Job, err error) {
	if err != nil {
		c.logger.Error("job state transition failed", zap.String("job_id", j.ID), zap.Error(err))
	}
	c.mu.Lock()
	c.status.Job = *j
	c.status.Breaker = c.breaker.State().String()
	c.mu.Unlock()
}

func batchSize(control throttle.SessionControl) int {
	size := int(control.Concurrency)
	if size < 1 {
		size = 1
	}
	return size
}
