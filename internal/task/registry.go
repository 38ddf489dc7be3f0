package task

import (
	"context"
	"sync"
	"time"

	"linkcore/internal/linkerr"
)

// Registry is the single, explicitly-owned active-task map spec.md §9
// requires in place of a process-wide global (teacher's Orchestrator plays
// the analogous role for campaigns, owned by whichever process constructs
// it). It also enforces the one-task-per-PRIMARY-source concurrency budget
// (spec.md §4.6 "Concurrency budget").
type Registry struct {
	mu      sync.Mutex
	tasks   map[string]*TaskState
	cancels map[string]context.CancelFunc
}

// NewRegistry constructs an empty task registry.
func NewRegistry() *Registry {
	return &Registry{
		tasks:   map[string]*TaskState{},
		cancels: map[string]context.CancelFunc{},
	}
}

// hasRunning reports whether any registered task is currently running.
func (r *Registry) hasRunning() bool {
	for _, t := range r.tasks {
		if t.Status == StatusRunning {
			return true
		}
	}
	return false
}

// register adds a new running TaskState, refusing if one is already
// running (spec.md §4.6 "the engine MUST refuse to start a second").
func (r *Registry) register(state *TaskState, cancel context.CancelFunc) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.hasRunning() {
		return linkerr.ErrTaskAlreadyRunning
	}
	r.tasks[state.TaskID] = state
	r.cancels[state.TaskID] = cancel
	return nil
}

// Get returns a snapshot of the current progress for task_id.
func (r *Registry) Get(taskID string) (Progress, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.tasks[taskID]
	if !ok {
		return Progress{}, linkerr.ErrUnknownTask
	}
	return t.snapshotProgress(time.Now()), nil
}

// Stop cancels a running task, returning linkerr.ErrTaskNotRunning if it
// has already reached a terminal state (spec.md §6 stop_task errors).
func (r *Registry) Stop(taskID string) error {
	r.mu.Lock()
	t, ok := r.tasks[taskID]
	if !ok {
		r.mu.Unlock()
		return linkerr.ErrUnknownTask
	}
	if t.Status != StatusRunning {
		r.mu.Unlock()
		return linkerr.ErrTaskNotRunning
	}
	cancel := r.cancels[taskID]
	r.mu.Unlock()
	cancel()
	return nil
}

// withLock runs fn while holding the registry mutex, for callers that need
// to mutate a TaskState's counters atomically with respect to Get/Stop.
func (r *Registry) withLock(fn func()) {
	r.mu.Lock()
	defer r.mu.Unlock()
	fn()
}
