package jobs

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"media-clipper/internal/domain"
)

// ErrTooManyJobs is returned when the active job limit is reached.
var ErrTooManyJobs = errors.New("too many active jobs")

// ErrJobNotFound is returned for unknown job IDs.
var ErrJobNotFound = errors.New("job not found")

// ErrJobFinished is returned when cancel is requested for a finished job.
var ErrJobFinished = errors.New("job already finished")

const (
	defaultMaxActive = 2
	maxRetainedJobs  = 200
)

type entry struct {
	job    domain.Job
	cancel context.CancelFunc
}

// Manager tracks clip jobs, their state transitions and the admission limit.
type Manager struct {
	mu        sync.RWMutex
	jobs      map[string]*entry
	maxActive int
	now       func() time.Time
}

// NewManager creates an empty manager admitting up to maxActive jobs.
func NewManager(maxActive int) *Manager {
	if maxActive <= 0 {
		maxActive = defaultMaxActive
	}
	return &Manager{
		jobs:      make(map[string]*entry),
		maxActive: maxActive,
		now:       time.Now,
	}
}

// Start registers a queued job. cancel is invoked by Cancel and may be nil.
func (m *Manager) Start(job domain.Job, cancel context.CancelFunc) (domain.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if job.ID == "" {
		return domain.Job{}, fmt.Errorf("job id is required")
	}
	if _, exists := m.jobs[job.ID]; exists {
		return domain.Job{}, fmt.Errorf("job %s already exists", job.ID)
	}
	if m.activeLocked() >= m.maxActive {
		return domain.Job{}, ErrTooManyJobs
	}

	now := m.now().UTC()
	job.Status = domain.JobStatusQueued
	job.Percent = 0
	job.CreatedAt = now
	job.UpdatedAt = now
	m.jobs[job.ID] = &entry{job: job, cancel: cancel}
	m.pruneLocked()
	return job, nil
}

// Transition validates and applies a state transition for one job.
func (m *Manager) Transition(jobID string, status domain.JobStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.jobs[jobID]
	if !ok {
		return ErrJobNotFound
	}
	return m.transitionLocked(e, status)
}

// Apply folds one pipeline event into the job record. Events arriving after
// the job reached a terminal state are ignored.
func (m *Manager) Apply(jobID string, event domain.ClipEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.jobs[jobID]
	if !ok {
		return ErrJobNotFound
	}
	if e.job.Status.IsTerminal() {
		return nil
	}

	if event.Stage != "" {
		if err := m.transitionLocked(e, event.Stage); err != nil {
			return err
		}
	}
	if event.Percent > e.job.Percent {
		e.job.Percent = event.Percent
	}
	switch event.Status {
	case domain.EventStatusSuccess:
		e.job.Output = event.OutputPath
	case domain.EventStatusError:
		e.job.Error = event.Message
	}
	e.job.UpdatedAt = m.now().UTC()
	return nil
}

// Get returns a snapshot of one job.
func (m *Manager) Get(jobID string) (domain.Job, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	e, ok := m.jobs[jobID]
	if !ok {
		return domain.Job{}, false
	}
	return e.job, true
}

// List returns job snapshots, newest first.
func (m *Manager) List() []domain.Job {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]domain.Job, 0, len(m.jobs))
	for _, e := range m.jobs {
		out = append(out, e.job)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID > out[j].ID
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out
}

// ActiveCount reports how many jobs are not yet terminal.
func (m *Manager) ActiveCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.activeLocked()
}

// Cancel moves an active job to cancelled state and stops its run.
func (m *Manager) Cancel(jobID string) error {
	m.mu.Lock()
	e, ok := m.jobs[jobID]
	if !ok {
		m.mu.Unlock()
		return ErrJobNotFound
	}
	if e.job.Status.IsTerminal() {
		m.mu.Unlock()
		return ErrJobFinished
	}
	if err := m.transitionLocked(e, domain.JobStatusCancelled); err != nil {
		m.mu.Unlock()
		return err
	}
	cancel := e.cancel
	m.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	return nil
}

func (m *Manager) transitionLocked(e *entry, status domain.JobStatus) error {
	if status == e.job.Status {
		return nil
	}
	if !isValidTransition(e.job.Status, status) {
		return fmt.Errorf("invalid transition: %s -> %s", e.job.Status, status)
	}

	now := m.now().UTC()
	e.job.Status = status
	e.job.UpdatedAt = now
	if status.IsTerminal() {
		e.job.EndedAt = &now
		if status == domain.JobStatusDone {
			e.job.Percent = 100
		}
	}
	return nil
}

func (m *Manager) activeLocked() int {
	active := 0
	for _, e := range m.jobs {
		if !e.job.Status.IsTerminal() {
			active++
		}
	}
	return active
}

// pruneLocked drops the oldest finished jobs beyond the retention limit.
func (m *Manager) pruneLocked() {
	if len(m.jobs) <= maxRetainedJobs {
		return
	}

	finished := make([]*entry, 0, len(m.jobs))
	for _, e := range m.jobs {
		if e.job.Status.IsTerminal() {
			finished = append(finished, e)
		}
	}
	sort.Slice(finished, func(i, j int) bool {
		return finished[i].job.CreatedAt.Before(finished[j].job.CreatedAt)
	})
	for _, e := range finished {
		if len(m.jobs) <= maxRetainedJobs {
			return
		}
		delete(m.jobs, e.job.ID)
	}
}

// isValidTransition enforces the allowed job state machine edges.
func isValidTransition(from, to domain.JobStatus) bool {
	if to == domain.JobStatusFailed || to == domain.JobStatusCancelled {
		return !from.IsTerminal()
	}

	switch from {
	case domain.JobStatusQueued:
		return to == domain.JobStatusResolving
	case domain.JobStatusResolving:
		return to == domain.JobStatusDownloading
	case domain.JobStatusDownloading:
		return to == domain.JobStatusInspecting
	case domain.JobStatusInspecting:
		return to == domain.JobStatusFinalizing
	case domain.JobStatusFinalizing:
		return to == domain.JobStatusDone
	default:
		return false
	}
}
