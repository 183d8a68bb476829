// Package jobs orchestrates background workflow execution: single-flight
// admission, progress relay, cooperative cancellation, and exactly-once
// finalization. Job state lives in the database; the orchestrator keeps no
// in-memory record of jobs beyond the cancel functions of pipelines running
// in this process.
package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/jonathan/newsletter-curator/internal/db"
)

// Store is the persistence surface the orchestrator needs.
type Store interface {
	CreateJob(ctx context.Context, tenantID uuid.UUID, jobType string, params json.RawMessage) (*db.Job, error)
	MarkJobRunning(ctx context.Context, jobID uuid.UUID) (bool, error)
	UpdateJobProgress(ctx context.Context, jobID uuid.UUID, percent int, stage string) error
	FinalizeJob(ctx context.Context, jobID uuid.UUID, status string, result json.RawMessage, errMsg string) (bool, error)
	RequestJobCancel(ctx context.Context, jobID uuid.UUID) (bool, error)
	JobCancelRequested(ctx context.Context, jobID uuid.UUID) (bool, error)
	GetJob(ctx context.Context, jobID uuid.UUID) (*db.Job, error)
	CurrentJob(ctx context.Context, tenantID uuid.UUID, jobType string) (*db.Job, error)
	ListJobs(ctx context.Context, filters db.JobFilters) ([]db.Job, error)
	DeleteJob(ctx context.Context, jobID uuid.UUID) (bool, error)
	DeleteJobsOlderThan(ctx context.Context, days int) (int64, error)
	FailStaleActive(ctx context.Context, message string) (int64, error)
}

var _ Store = (*db.DB)(nil)

// ProgressEvent is one progress report from a running pipeline.
type ProgressEvent struct {
	Percent int
	Stage   string
	Message string
}

// PipelineFunc executes one workflow. It sends progress on the channel (the
// orchestrator owns draining; the pipeline must not close it) and returns the
// marshalled job result. A pipeline that stops because ctx was cancelled
// returns its partial result together with ErrCancelled.
type PipelineFunc func(ctx context.Context, job *db.Job, progress chan<- ProgressEvent) (json.RawMessage, error)

// Event types emitted to sinks, in stream order: one start, zero or more
// progress, then exactly one terminal complete/cancelled/error.
const (
	EventStart     = "start"
	EventProgress  = "progress"
	EventComplete  = "complete"
	EventCancelled = "cancelled"
	EventError     = "error"
)

// Event is one externally visible update about a job.
type Event struct {
	Type    string          `json:"type"`
	JobID   uuid.UUID       `json:"job_id"`
	Percent int             `json:"percent"`
	Stage   string          `json:"stage,omitempty"`
	Message string          `json:"message,omitempty"`
	Result  json.RawMessage `json:"result,omitempty"`
}

// Sink receives job events. A nil sink is allowed and discards everything.
type Sink func(Event)

// Orchestrator coordinates job execution. Pipelines are injected at
// construction; there is no global registration.
type Orchestrator struct {
	store     Store
	pipelines map[string]PipelineFunc
	timeout   time.Duration
	registry  *cancelRegistry
}

// NewOrchestrator creates an Orchestrator. pipelines maps job type to the
// pipeline that executes it; timeout bounds a single job run.
func NewOrchestrator(store Store, pipelines map[string]PipelineFunc, timeout time.Duration) *Orchestrator {
	if timeout <= 0 {
		timeout = 15 * time.Minute
	}
	return &Orchestrator{
		store:     store,
		pipelines: pipelines,
		timeout:   timeout,
		registry:  newCancelRegistry(),
	}
}

// CreateJob validates the request and inserts a pending job. Admission is
// atomic: when two requests race for the same (tenant, type) slot, exactly
// one wins and the other gets ErrAlreadyRunning.
func (o *Orchestrator) CreateJob(ctx context.Context, tenantID uuid.UUID, jobType string, params json.RawMessage) (*db.Job, error) {
	if !db.ValidJobType(jobType) {
		return nil, fmt.Errorf("invalid job type %q", jobType)
	}
	if _, ok := o.pipelines[jobType]; !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownJobType, jobType)
	}

	job, err := o.store.CreateJob(ctx, tenantID, jobType, params)
	if err != nil {
		if errors.Is(err, db.ErrActiveJobExists) {
			return nil, ErrAlreadyRunning
		}
		return nil, err
	}
	return job, nil
}

// RunJob executes a pending job to completion, blocking until the job is
// finalized. Progress flows from the pipeline through a channel drained only
// here, so persisted progress and sink events keep the pipeline's order.
// Every run ends in exactly one terminal status and one terminal event.
func (o *Orchestrator) RunJob(ctx context.Context, jobID uuid.UUID, sink Sink) error {
	job, err := o.store.GetJob(ctx, jobID)
	if err != nil {
		return err
	}
	if job == nil {
		return ErrNotFound
	}

	pipeline, ok := o.pipelines[job.Type]
	if !ok {
		_, _ = o.store.FinalizeJob(ctx, jobID, db.JobStatusFailed, nil, "no pipeline registered for job type "+job.Type)
		emit(sink, Event{Type: EventError, JobID: jobID, Message: "no pipeline registered for job type " + job.Type})
		return fmt.Errorf("%w: %s", ErrUnknownJobType, job.Type)
	}

	claimed, err := o.store.MarkJobRunning(ctx, jobID)
	if err != nil {
		return err
	}
	if !claimed {
		return fmt.Errorf("job %s is not pending", jobID)
	}

	emit(sink, Event{Type: EventStart, JobID: jobID, Stage: "starting"})

	jobCtx, cancel := context.WithTimeout(ctx, o.timeout)
	defer cancel()
	o.registry.register(jobID, cancel)
	defer o.registry.unregister(jobID)

	// If cancellation was requested between creation and start, honor it
	// before doing any work.
	if requested, _ := o.store.JobCancelRequested(ctx, jobID); requested {
		cancel()
	}

	type pipelineOutcome struct {
		result json.RawMessage
		err    error
	}

	progressCh := make(chan ProgressEvent)
	outcomeCh := make(chan pipelineOutcome, 1)
	go func() {
		result, err := pipeline(jobCtx, job, progressCh)
		close(progressCh)
		outcomeCh <- pipelineOutcome{result: result, err: err}
	}()

	for ev := range progressCh {
		if err := o.store.UpdateJobProgress(ctx, jobID, ev.Percent, ev.Stage); err == nil {
			emit(sink, Event{Type: EventProgress, JobID: jobID, Percent: ev.Percent, Stage: ev.Stage, Message: ev.Message})
		}

		// The durable cancel flag is checked alongside each progress write
		// so a cancel requested through another process still lands.
		if requested, _ := o.store.JobCancelRequested(ctx, jobID); requested {
			cancel()
		}
	}

	outcome := <-outcomeCh
	return o.finalize(ctx, jobID, outcome.result, outcome.err, sink)
}

func (o *Orchestrator) finalize(ctx context.Context, jobID uuid.UUID, result json.RawMessage, runErr error, sink Sink) error {
	switch {
	case runErr == nil:
		if _, err := o.store.FinalizeJob(ctx, jobID, db.JobStatusCompleted, result, ""); err != nil {
			return err
		}
		emit(sink, Event{Type: EventComplete, JobID: jobID, Percent: 100, Result: result})
		return nil

	case errors.Is(runErr, ErrCancelled) || errors.Is(runErr, context.Canceled):
		if _, err := o.store.FinalizeJob(ctx, jobID, db.JobStatusCancelled, nil, ""); err != nil {
			return err
		}
		// Partial counts travel in the event only; cancelled jobs persist
		// no result.
		emit(sink, Event{Type: EventCancelled, JobID: jobID, Message: "job cancelled", Result: result})
		return nil

	case errors.Is(runErr, context.DeadlineExceeded):
		msg := fmt.Sprintf("job timed out after %s", o.timeout)
		if _, err := o.store.FinalizeJob(ctx, jobID, db.JobStatusFailed, nil, msg); err != nil {
			return err
		}
		emit(sink, Event{Type: EventError, JobID: jobID, Message: msg})
		return runErr

	default:
		if _, err := o.store.FinalizeJob(ctx, jobID, db.JobStatusFailed, nil, runErr.Error()); err != nil {
			return err
		}
		emit(sink, Event{Type: EventError, JobID: jobID, Message: runErr.Error()})
		return runErr
	}
}

// Launch creates a job and runs it on a new goroutine, returning the pending
// job immediately. The run uses a background context: the job's lifetime is
// bounded by the orchestrator timeout, not the request that spawned it.
func (o *Orchestrator) Launch(ctx context.Context, tenantID uuid.UUID, jobType string, params json.RawMessage, sink Sink) (*db.Job, error) {
	job, err := o.CreateJob(ctx, tenantID, jobType, params)
	if err != nil {
		return nil, err
	}
	go func() {
		_ = o.RunJob(context.Background(), job.ID, sink)
	}()
	return job, nil
}

// CancelJob requests cooperative cancellation of an active job. The durable
// flag is set first; if the pipeline runs in this process its context is
// cancelled immediately as well. The job stays running until the pipeline
// observes the signal and winds down.
func (o *Orchestrator) CancelJob(ctx context.Context, jobID uuid.UUID) error {
	ok, err := o.store.RequestJobCancel(ctx, jobID)
	if err != nil {
		return err
	}
	if !ok {
		job, err := o.store.GetJob(ctx, jobID)
		if err != nil {
			return err
		}
		if job == nil {
			return ErrNotFound
		}
		return ErrNotActive
	}

	o.registry.cancel(jobID)
	return nil
}

// GetJob retrieves a job. Returns (nil, nil) if it does not exist.
func (o *Orchestrator) GetJob(ctx context.Context, jobID uuid.UUID) (*db.Job, error) {
	return o.store.GetJob(ctx, jobID)
}

// GetCurrentJob returns the tenant's active job of the given type, or
// (nil, nil) when the slot is free.
func (o *Orchestrator) GetCurrentJob(ctx context.Context, tenantID uuid.UUID, jobType string) (*db.Job, error) {
	if !db.ValidJobType(jobType) {
		return nil, fmt.Errorf("invalid job type %q", jobType)
	}
	return o.store.CurrentJob(ctx, tenantID, jobType)
}

// ListJobs returns jobs matching the filters, newest first.
func (o *Orchestrator) ListJobs(ctx context.Context, filters db.JobFilters) ([]db.Job, error) {
	return o.store.ListJobs(ctx, filters)
}

// DeleteJob removes a job that is not running.
func (o *Orchestrator) DeleteJob(ctx context.Context, jobID uuid.UUID) error {
	deleted, err := o.store.DeleteJob(ctx, jobID)
	if err != nil {
		return err
	}
	if deleted {
		return nil
	}

	job, err := o.store.GetJob(ctx, jobID)
	if err != nil {
		return err
	}
	if job == nil {
		return ErrNotFound
	}
	return ErrJobRunning
}

// DeleteJobsOlderThan removes terminal jobs created more than days ago.
func (o *Orchestrator) DeleteJobsOlderThan(ctx context.Context, days int) (int64, error) {
	return o.store.DeleteJobsOlderThan(ctx, days)
}

// RerunJob creates a fresh pending job with the same tenant, type, and
// params as a finished one. The original job is left untouched.
func (o *Orchestrator) RerunJob(ctx context.Context, jobID uuid.UUID) (*db.Job, error) {
	job, err := o.store.GetJob(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if job == nil {
		return nil, ErrNotFound
	}
	if !db.TerminalStatus(job.Status) {
		return nil, ErrNotTerminal
	}

	return o.CreateJob(ctx, job.TenantID, job.Type, job.Params)
}

// RecoverStale fails every job left pending or running by a previous
// process. Called once at startup, before the orchestrator accepts work.
func (o *Orchestrator) RecoverStale(ctx context.Context) (int64, error) {
	return o.store.FailStaleActive(ctx, "interrupted by service restart")
}

func emit(sink Sink, ev Event) {
	if sink != nil {
		sink(ev)
	}
}
