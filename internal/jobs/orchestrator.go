package jobs

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/docmill/docmill/internal/convert"
	"github.com/docmill/docmill/internal/parser"
	"github.com/docmill/docmill/internal/storage"
)

// Notifier delivers a terminal job record to a callback URL.
type Notifier interface {
	Notify(ctx context.Context, url string, payload any)
}

// Request carries everything needed to run one parse, materialized
// before submission: multipart bodies do not outlive their HTTP request,
// so file bytes are read up front.
type Request struct {
	Files       []convert.File
	Backend     string
	Params      parser.Params
	CallbackURL string
	RequestID   string
}

// Orchestrator admits jobs against a soft concurrency ceiling and runs
// each one in its own goroutine. The ceiling check is read-then-act; a
// burst of simultaneous submissions can briefly exceed the limit, which
// is accepted.
type Orchestrator struct {
	store     *Store
	registry  *parser.Registry
	artifacts *storage.Manager
	notifier  Notifier

	maxConcurrent int
	jobTTL        time.Duration
}

func NewOrchestrator(store *Store, registry *parser.Registry, artifacts *storage.Manager, notifier Notifier, maxConcurrent, jobTTLHours int) *Orchestrator {
	return &Orchestrator{
		store:         store,
		registry:      registry,
		artifacts:     artifacts,
		notifier:      notifier,
		maxConcurrent: maxConcurrent,
		jobTTL:        time.Duration(jobTTLHours) * time.Hour,
	}
}

// Submit admits the request, persists a PENDING record and starts the
// background run. It returns immediately; the caller polls GetStatus or
// waits for the webhook.
func (o *Orchestrator) Submit(ctx context.Context, req Request) (*Job, error) {
	if active := o.store.CountActive(); active >= o.maxConcurrent {
		return nil, fmt.Errorf("%w: %d active, limit %d", ErrCapacity, active, o.maxConcurrent)
	}

	job := &Job{
		ID:          uuid.NewString(),
		Status:      StatusPending,
		CreatedAt:   time.Now().UTC(),
		RequestID:   req.RequestID,
		CallbackURL: req.CallbackURL,
	}
	o.store.Create(job)

	go o.execute(job.ID, req)

	return job.Clone(), nil
}

// GetStatus returns a snapshot of the record.
func (o *Orchestrator) GetStatus(id string) (*Job, error) {
	return o.store.Get(id)
}

// execute drives one job to a terminal state. It is the only mutator of
// the record after creation.
func (o *Orchestrator) execute(id string, req Request) {
	job, err := o.store.Get(id)
	if err != nil {
		slog.Error("job vanished before execution", "job_id", id)
		return
	}

	now := time.Now().UTC()
	job.Status = StatusProcessing
	job.StartedAt = &now
	o.store.Update(job)

	outputs, jobErrs := o.runParse(context.Background(), id, req)

	done := time.Now().UTC()
	job.CompletedAt = &done
	if len(jobErrs) > 0 {
		job.Status = StatusFailed
		job.Errors = jobErrs
		job.Outputs = nil
	} else {
		job.Status = StatusSuccess
		job.Outputs = outputs
		job.Errors = nil
	}
	o.store.Update(job)

	slog.Info("job finished",
		"job_id", id,
		"status", job.Status,
		"duration", done.Sub(*job.StartedAt).Round(time.Millisecond))

	if job.CallbackURL != "" {
		o.notifier.Notify(context.Background(), job.CallbackURL, job)
	}

	// Completion is the cleanup trigger; the artifact scan rate-limits
	// itself and the record sweep is cheap under the bounded map.
	o.artifacts.CleanupIfNeeded(done)
	o.store.CleanupExpired(done, o.jobTTL)
}

// ParseSync runs the same normalize-parse-collect path inline for
// synchronous requests. No job record is created; artifacts live in a
// directory keyed by a fresh id and expire on the same TTL.
func (o *Orchestrator) ParseSync(ctx context.Context, req Request) ([]parser.DocumentOutput, []JobError) {
	return o.runParse(ctx, uuid.NewString(), req)
}

func (o *Orchestrator) runParse(ctx context.Context, artifactID string, req Request) (outputs []parser.DocumentOutput, jobErrs []JobError) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("parse panicked", "artifact_id", artifactID, "panic", r)
			outputs = nil
			jobErrs = []JobError{{Detail: fmt.Sprintf("internal error: %v", r), Kind: ErrKindInternal}}
		}
	}()

	backend, ok := o.registry.Get(req.Backend)
	if !ok {
		return nil, []JobError{{Detail: fmt.Sprintf("unknown backend %q", req.Backend), Kind: ErrKindInvalidInput}}
	}

	files, err := convert.NormalizeAll(ctx, req.Files)
	if err != nil {
		return nil, []JobError{classify(err)}
	}

	dir, err := o.artifacts.JobDir(artifactID)
	if err != nil {
		return nil, []JobError{{Detail: err.Error(), Kind: ErrKindInternal}}
	}

	results, err := backend.Parse(ctx, dir, files, req.Params)
	if err != nil {
		return nil, []JobError{classify(err)}
	}

	outputs, err = parser.BuildOutputs(results, o.artifacts.ExpiryAt(time.Now().UTC()))
	if err != nil {
		return nil, []JobError{{Detail: err.Error(), Kind: ErrKindInternal}}
	}
	return outputs, nil
}

func classify(err error) JobError {
	switch {
	case errors.Is(err, convert.ErrUnsupported):
		return JobError{Detail: err.Error(), Kind: ErrKindInvalidInput}
	case errors.Is(err, parser.ErrUnavailable):
		return JobError{Detail: err.Error(), Kind: ErrKindUnavailable}
	default:
		return JobError{Detail: err.Error(), Kind: ErrKindInternal}
	}
}
