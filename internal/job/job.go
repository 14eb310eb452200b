// Package job tracks the lifecycle and counters of one crawl job.
package job

import (
	"fmt"
	"time"
)

// Status is the job's lifecycle state.
type Status string

// Job status values persisted in the record store.
const (
	StatusCreated    Status = "created"
	StatusRunning    Status = "running"
	StatusComplete   Status = "complete"
	StatusTerminated Status = "terminated"
	StatusCanceled   Status = "canceled"
	StatusFailed     Status = "failed"
)

// Counters aggregates batch outcomes over the life of a job.
type Counters struct {
	Batches  int `json:"batches"`
	Requests int `json:"requests"`
	Records  int `json:"records"`
	Errors   int `json:"errors"`
	NotFound int `json:"not_found"`
}

// Job is the metadata tracked for one crawl run.
type Job struct {
	ID         string     `json:"id"`
	Project    string     `json:"project"`
	Status     Status     `json:"status"`
	CreatedAt  time.Time  `json:"created_at"`
	StartedAt  *time.Time `json:"started_at,omitempty"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
	ErrorText  string     `json:"error_text,omitempty"`
	Counters   Counters   `json:"counters"`
}

// New creates a Job in the created state.
func New(id, project string, now time.Time) Job {
	return Job{
		ID:        id,
		Project:   project,
		Status:    StatusCreated,
		CreatedAt: now,
	}
}

// Start moves the job to running. Valid only from created.
func (j *Job) Start(now time.Time) error {
	if j.Status != StatusCreated {
		return fmt.Errorf("cannot start job in %s state", j.Status)
	}
	j.Status = StatusRunning
	j.StartedAt = &now
	return nil
}

// Complete finishes the job successfully: the data source is
// exhausted. Valid only from running.
func (j *Job) Complete(now time.Time) error {
	return j.finish(StatusComplete, now, "")
}

// Terminate stops the job due to sustained failure.
func (j *Job) Terminate(now time.Time, reason string) error {
	return j.finish(StatusTerminated, now, reason)
}

// Cancel stops the job at the operator's request.
func (j *Job) Cancel(now time.Time) error {
	return j.finish(StatusCanceled, now, "canceled")
}

// Fail stops the job on an unrecoverable internal error.
func (j *Job) Fail(now time.Time, reason string) error {
	return j.finish(StatusFailed, now, reason)
}

func (j *Job) finish(status Status, now time.Time, errText string) error {
	if j.Status != StatusRunning {
		return fmt.Errorf("cannot move job from %s to %s", j.Status, status)
	}
	j.Status = status
	j.FinishedAt = &now
	j.ErrorText = errText
	return nil
}

// Finished reports whether the job reached a final state.
func (j *Job) Finished() bool {
	switch j.Status {
	case StatusComplete, StatusTerminated, StatusCanceled, StatusFailed:
		return true
	default:
		return false
	}
}
