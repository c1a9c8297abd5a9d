// Package jobs implements the asynchronous parse job lifecycle: the job
// record, an in-memory store, and the orchestrator that drives each job
// from PENDING to a terminal state in its own goroutine.
package jobs

import (
	"time"

	"github.com/docmill/docmill/internal/parser"
)

type Status string

const (
	StatusPending    Status = "PENDING"
	StatusProcessing Status = "PROCESSING"
	StatusSuccess    Status = "SUCCESS"
	StatusFailed     Status = "FAILED"
)

// Terminal reports whether s is an absorbing state.
func (s Status) Terminal() bool {
	return s == StatusSuccess || s == StatusFailed
}

// JobError describes one failure recorded on a job. Kind is a coarse
// category clients can branch on: "invalid_input", "unavailable",
// or "internal".
type JobError struct {
	Detail string `json:"detail"`
	Kind   string `json:"kind"`
}

const (
	ErrKindInvalidInput = "invalid_input"
	ErrKindUnavailable  = "unavailable"
	ErrKindInternal     = "internal"
)

// Job is the record for one submitted parse request. After creation
// exactly one background goroutine mutates it; readers see snapshots
// through the store.
type Job struct {
	ID          string                  `json:"job_id"`
	Status      Status                  `json:"status"`
	CreatedAt   time.Time               `json:"created_at"`
	StartedAt   *time.Time              `json:"started_at,omitempty"`
	CompletedAt *time.Time              `json:"completed_at,omitempty"`
	Outputs     []parser.DocumentOutput `json:"outputs,omitempty"`
	Errors      []JobError              `json:"errors,omitempty"`
	RequestID   string                  `json:"request_id,omitempty"`
	CallbackURL string                  `json:"-"`
}

// Clone returns a copy safe to hand outside the store lock. Outputs and
// Errors are shallow-copied slices; their elements are never mutated
// after the job reaches a terminal state.
func (j *Job) Clone() *Job {
	c := *j
	if j.Outputs != nil {
		c.Outputs = append([]parser.DocumentOutput(nil), j.Outputs...)
	}
	if j.Errors != nil {
		c.Errors = append([]JobError(nil), j.Errors...)
	}
	return &c
}
