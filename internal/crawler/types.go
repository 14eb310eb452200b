// Package crawler orchestrates the crawl loop: it drives batches
// through the executor under the throttle adapter's session control,
// feeds the sample history and circuit breaker, and persists and
// publishes the extracted records until the breaker reaches a terminal
// state.
package crawler

import (
	"context"

	"github.com/JakeFAU/adaptive-crawler/internal/breaker"
	"github.com/JakeFAU/adaptive-crawler/internal/client"
	"github.com/JakeFAU/adaptive-crawler/internal/executor"
	"github.com/JakeFAU/adaptive-crawler/internal/extract"
	"github.com/JakeFAU/adaptive-crawler/internal/job"
	"github.com/JakeFAU/adaptive-crawler/internal/throttle"
)

// RecordStore persists extracted records and job state.
type RecordStore interface {
	SaveJob(ctx context.Context, j job.Job) error
	SaveRecords(ctx context.Context, jobID string, records []extract.Record) error
}

// Publisher pushes extracted record batches downstream.
type Publisher interface {
	Publish(ctx context.Context, topic string, records []extract.Record) (string, error)
}

// BatchExecutor runs one batch of requests under a session control.
type BatchExecutor interface {
	Execute(ctx context.Context, requests []client.Request, control throttle.SessionControl) executor.Summary
}

// Source produces the request descriptors for successive batches.
type Source interface {
	NextBatch(size int) []client.Request
}

// Status is the operational snapshot exposed over the status API.
type Status struct {
	Job      job.Job                 `json:"job"`
	Stage    string                  `json:"stage"`
	Control  throttle.SessionControl `json:"control"`
	Breaker  string                  `json:"breaker"`
	Snapshot throttle.Snapshot       `json:"snapshot"`
}

// terminalReason maps a breaker terminal state onto job bookkeeping.
func terminalReason(state breaker.State) string {
	if state == breaker.StateTerminated {
		return "sustained failure rate"
	}
	return ""
}
