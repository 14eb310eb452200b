// Package memory provides an in-memory record store for local runs
// and tests.
package memory

import (
	"context"
	"sync"

	"github.com/JakeFAU/adaptive-crawler/internal/extract"
	"github.com/JakeFAU/adaptive-crawler/internal/job"
)

// Store keeps jobs and records in process memory. Safe for concurrent
// use.
type Store struct {
	mu      sync.RWMutex
	jobs    map[string]job.Job
	records map[string][]extract.Record
}

// New creates an empty Store.
func New() *Store {
	return &Store{
		jobs:    make(map[string]job.Job),
		records: make(map[string][]extract.Record),
	}
}

// SaveJob upserts the job snapshot.
func (s *Store) SaveJob(_ context.Context, j job.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.jobs[j.ID] = j
	return nil
}

// SaveRecords appends records under the job.
func (s *Store) SaveRecords(_ context.Context, jobID string, records []extract.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records[jobID] = append(s.records[jobID], records...)
	return nil
}

// Job returns the stored job snapshot.
func (s *Store) Job(jobID string) (job.Job, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	j, ok := s.jobs[jobID]
	return j, ok
}

// Records returns the records stored for a job.
func (s *Store) Records(jobID string) []extract.Record {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]extract.Record(nil), s.records[jobID]...)
}
