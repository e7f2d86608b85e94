// Package registry tracks the control-plane record of every active
// extraction job: its state mirror and interrupt flag. The table is shared
// between workers and control-plane requests; each entry carries its own
// lock so one job's interrupt checks never serialize another's.
package registry

import (
	"errors"
	"sync"
	"time"

	"go-extractor/internal/model"
)

var ErrDuplicateJob = errors.New("job already registered")

// StatusSource exposes a point-in-time copy of a job's progress record.
// The extraction worker's tracker implements it.
type StatusSource interface {
	Snapshot() model.JobStatus
}

type entry struct {
	mu                 sync.Mutex
	state              model.JobState
	interruptRequested bool
	lastUpdated        time.Time
	status             StatusSource
}

// Snapshot is a consistent copy of one registry entry.
type Snapshot struct {
	JobID              string          `json:"job_id"`
	State              model.JobState  `json:"state"`
	InterruptRequested bool            `json:"interrupt_requested"`
	LastUpdated        time.Time       `json:"last_updated"`
	Status             model.JobStatus `json:"stats"`
}

type Registry struct {
	mu      sync.RWMutex
	entries map[string]*entry
}

func New() *Registry {
	return &Registry{entries: make(map[string]*entry)}
}

func (r *Registry) lookup(jobID string) (*entry, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[jobID]
	return e, ok
}

// Register creates the entry for a starting job. The status source is read
// by Get; the registry never mutates it.
func (r *Registry) Register(jobID string, status StatusSource) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.entries[jobID]; ok {
		return ErrDuplicateJob
	}
	r.entries[jobID] = &entry{
		state:       model.JobStateRunning,
		lastUpdated: time.Now().UTC(),
		status:      status,
	}
	return nil
}

// RequestInterrupt sets the interrupt flag for a running job. It returns
// false if the job is unknown or already terminal. Safe to call repeatedly.
func (r *Registry) RequestInterrupt(jobID string) bool {
	e, ok := r.lookup(jobID)
	if !ok {
		return false
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state.Terminal() {
		return false
	}
	e.interruptRequested = true
	e.lastUpdated = time.Now().UTC()
	return true
}

// Interrupted is the worker's checkpoint read of the interrupt flag.
func (r *Registry) Interrupted(jobID string) bool {
	e, ok := r.lookup(jobID)
	if !ok {
		return false
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.interruptRequested
}

// SetState mirrors the worker's state transition into the entry.
func (r *Registry) SetState(jobID string, state model.JobState) {
	e, ok := r.lookup(jobID)
	if !ok {
		return
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.state = state
	e.lastUpdated = time.Now().UTC()
}

// Get returns a snapshot of the entry and the job's current stats.
func (r *Registry) Get(jobID string) (Snapshot, bool) {
	e, ok := r.lookup(jobID)
	if !ok {
		return Snapshot{}, false
	}
	e.mu.Lock()
	snap := Snapshot{
		JobID:              jobID,
		State:              e.state,
		InterruptRequested: e.interruptRequested,
		LastUpdated:        e.lastUpdated,
	}
	status := e.status
	e.mu.Unlock()
	if status != nil {
		snap.Status = status.Snapshot()
	}
	return snap, true
}

// Settled reports whether the job is absent from the table or in a terminal
// state. The notification consumer uses it to decide when to stop.
func (r *Registry) Settled(jobID string) bool {
	e, ok := r.lookup(jobID)
	if !ok {
		return true
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state.Terminal()
}

// FinalizeAndRemove deletes the entry. Only the notification drain path
// calls it, after the job is terminal and its queue is empty.
func (r *Registry) FinalizeAndRemove(jobID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.entries, jobID)
}

// Len reports the number of active entries.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}
