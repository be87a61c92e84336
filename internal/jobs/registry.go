package jobs

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// Job is the registry entry for a user's active training job.
type Job struct {
	TaskId    uuid.UUID
	UserId    uuid.UUID
	Name      string
	Dataset   string
	Epochs    int
	OutputDir string
	StartTime time.Time
}

// Registry tracks at most one active job per user.
type Registry struct {
	mu     sync.Mutex
	active map[uuid.UUID]Job
}

func NewRegistry() *Registry {
	return &Registry{active: make(map[uuid.UUID]Job)}
}

// TryAcquire registers job for the user unless the user already has one.
func (r *Registry) TryAcquire(userId uuid.UUID, job Job) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.active[userId]; ok {
		return false
	}
	job.UserId = userId
	r.active[userId] = job
	return true
}

func (r *Registry) Release(userId uuid.UUID) {
	r.mu.Lock()
	defer r.mu.Unlock()

	delete(r.active, userId)
}

// ReleaseTask removes the user's entry only if it still points at taskId.
func (r *Registry) ReleaseTask(userId, taskId uuid.UUID) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if job, ok := r.active[userId]; ok && job.TaskId == taskId {
		delete(r.active, userId)
		return true
	}
	return false
}

func (r *Registry) Active(userId uuid.UUID) (Job, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	job, ok := r.active[userId]
	return job, ok
}
