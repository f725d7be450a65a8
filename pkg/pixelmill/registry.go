package pixelmill

import (
	"context"
	"sync"

	"github.com/google/uuid"
)

// JobRegistry is the in-process table mapping job id to cancellation
// handle. It is owned by the service instance that spawns the runs;
// register/cancel/remove are atomic with respect to concurrent
// cancel/run-completion races.
type JobRegistry struct {
	mu      sync.Mutex
	cancels map[uuid.UUID]context.CancelFunc
}

// NewJobRegistry creates an empty registry.
func NewJobRegistry() *JobRegistry {
	return &JobRegistry{cancels: make(map[uuid.UUID]context.CancelFunc)}
}

// Register stores the cancellation handle for a job.
func (r *JobRegistry) Register(id uuid.UUID, cancel context.CancelFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cancels[id] = cancel
}

// Cancel signals the job's cancellation handle and removes it. It reports
// whether a handle was present; cancelling an unknown or already-finished
// job is a no-op.
func (r *JobRegistry) Cancel(id uuid.UUID) bool {
	r.mu.Lock()
	cancel, ok := r.cancels[id]
	if ok {
		delete(r.cancels, id)
	}
	r.mu.Unlock()

	if ok {
		cancel()
	}
	return ok
}

// Remove drops the handle for a job whose run reached a terminal state and
// releases the run context.
func (r *JobRegistry) Remove(id uuid.UUID) {
	r.mu.Lock()
	cancel, ok := r.cancels[id]
	delete(r.cancels, id)
	r.mu.Unlock()

	if ok {
		cancel()
	}
}

// Len returns the number of registered handles.
func (r *JobRegistry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.cancels)
}
