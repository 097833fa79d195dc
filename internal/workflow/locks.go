package workflow

import (
	"errors"
	"sync"
	"sync/atomic"
)

// ErrProjectBusy is returned when another processing or indexing job holds
// the project's lock. The queue retries the job after its countdown.
var ErrProjectBusy = errors.New("workflow: project is busy")

// projectLock is a non-blocking lock: 0 = unlocked, 1 = locked.
type projectLock struct {
	state atomic.Int32
}

// ProjectLocks hands out one advisory lock per project id. The zero value is
// ready to use. Locks are process-local.
type ProjectLocks struct {
	locks sync.Map // project id -> *projectLock
}

func (p *ProjectLocks) get(projectID string) *projectLock {
	v, _ := p.locks.LoadOrStore(projectID, &projectLock{})
	return v.(*projectLock)
}

// TryAcquire takes the project's lock without blocking and reports whether it
// succeeded.
func (p *ProjectLocks) TryAcquire(projectID string) bool {
	return p.get(projectID).state.CompareAndSwap(0, 1)
}

// Release frees the project's lock. Only the holder may call it.
func (p *ProjectLocks) Release(projectID string) {
	p.get(projectID).state.Store(0)
}

// Held reports whether the project's lock is currently taken.
func (p *ProjectLocks) Held(projectID string) bool {
	return p.get(projectID).state.Load() == 1
}
