package jobs

import "errors"

var (
	// ErrAlreadyRunning is returned by CreateJob when the tenant already has
	// an active job of the requested type.
	ErrAlreadyRunning = errors.New("a job of this type is already active for the tenant")

	// ErrNotFound is returned when the referenced job does not exist.
	ErrNotFound = errors.New("job not found")

	// ErrNotActive is returned by CancelJob when the job is already terminal.
	ErrNotActive = errors.New("job is not active")

	// ErrJobRunning is returned by DeleteJob for a running job.
	ErrJobRunning = errors.New("job is currently running")

	// ErrNotTerminal is returned by RerunJob when the source job has not
	// finished yet.
	ErrNotTerminal = errors.New("job has not finished")

	// ErrUnknownJobType is returned when no pipeline is registered for the
	// job's type.
	ErrUnknownJobType = errors.New("no pipeline registered for job type")

	// ErrCancelled is returned by pipelines that stopped because
	// cancellation was requested. The partial result accompanying it is
	// reported in the terminal event but not persisted.
	ErrCancelled = errors.New("job cancelled")
)
