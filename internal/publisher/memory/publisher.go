// Package memory contains an in-memory record publisher for local
// runs and tests.
package memory

import (
	"context"
	"fmt"
	"sync"

	"github.com/JakeFAU/adaptive-crawler/internal/extract"
)

// PublishedBatch captures one publish call.
type PublishedBatch struct {
	Topic   string
	Records []extract.Record
}

// Publisher stores published batches for inspection.
type Publisher struct {
	mu      sync.RWMutex
	batches []PublishedBatch
}

// New returns a memory Publisher.
func New() *Publisher {
	return &Publisher{}
}

// Publish records the batch and returns a pseudo ID.
func (p *Publisher) Publish(_ context.Context, topic string, records []extract.Record) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.batches = append(p.batches, PublishedBatch{
		Topic:   topic,
		Records: append([]extract.Record(nil), records...),
	})
	return fmt.Sprintf("memory-%d", len(p.batches)), nil
}

// Batches returns the recorded publishes.
func (p *Publisher) Batches() []PublishedBatch {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]PublishedBatch, len(p.batches))
	copy(out, p.batches)
	return out
}
