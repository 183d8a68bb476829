package jobs

import (
	"context"
	"sync"

	"github.com/google/uuid"
)

// cancelRegistry tracks the context cancel function of every job running in
// this process. It is a cache over the database cancel_requested flag: the
// flag is the durable record, the registry lets an in-process cancel take
// effect immediately instead of waiting for the pipeline's next flag check.
type cancelRegistry struct {
	mu      sync.Mutex
	cancels map[uuid.UUID]context.CancelFunc
}

func newCancelRegistry() *cancelRegistry {
	return &cancelRegistry{cancels: make(map[uuid.UUID]context.CancelFunc)}
}

func (r *cancelRegistry) register(jobID uuid.UUID, cancel context.CancelFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cancels[jobID] = cancel
}

func (r *cancelRegistry) unregister(jobID uuid.UUID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.cancels, jobID)
}

// cancel fires the job's cancel function if the job runs in this process.
// Returns whether a function was found.
func (r *cancelRegistry) cancel(jobID uuid.UUID) bool {
	r.mu.Lock()
	cancel, ok := r.cancels[jobID]
	r.mu.Unlock()
	if ok {
		cancel()
	}
	return ok
}
