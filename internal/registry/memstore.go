package registry

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemStore is the in-memory Registry backend. It mirrors the Postgres
// backend's semantics exactly so worker and pipeline tests exercise the same
// contract the service runs against.
type MemStore struct {
	mu   sync.Mutex
	jobs map[string]*Job
}

var _ Registry = (*MemStore)(nil)

// NewMemStore returns an empty in-memory registry.
func NewMemStore() *MemStore {
	return &MemStore{jobs: make(map[string]*Job)}
}

func (m *MemStore) Submit(_ context.Context, userID string, input JobInput, cfg JobConfig, ttl time.Duration) (*Job, error) {
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("registry: %s: %w", ErrInvalidConfig, err)
	}
	if userID == "" {
		return nil, fmt.Errorf("registry: %s: user id is required", ErrInvalidConfig)
	}
	if input.ObjectRef == "" {
		return nil, fmt.Errorf("registry: %s: input object ref is required", ErrInvalidConfig)
	}

	now := time.Now().UTC()
	job := &Job{
		ID:        uuid.NewString(),
		UserID:    userID,
		Input:     input,
		Config:    cfg,
		State:     StatePending,
		CreatedAt: now,
		ExpiresAt: now.Add(ttl),
	}

	m.mu.Lock()
	m.jobs[job.ID] = job
	m.mu.Unlock()
	return job.Clone(), nil
}

func (m *MemStore) ClaimNext(_ context.Context, workerID string) (*Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	running := make(map[string]int)
	for _, j := range m.jobs {
		if j.State == StateRunning {
			running[j.UserID]++
		}
	}

	var best *Job
	for _, j := range m.jobs {
		if j.State != StatePending {
			continue
		}
		if best == nil || claimLess(j, best, running) {
			best = j
		}
	}
	if best == nil {
		return nil, ErrNoPendingJobs
	}

	now := time.Now().UTC()
	best.State = StateRunning
	best.WorkerID = workerID
	best.StartedAt = &now
	return best.Clone(), nil
}

// claimLess orders claim candidates: fewest running jobs for the owner first,
// then oldest created_at.
func claimLess(a, b *Job, running map[string]int) bool {
	if ra, rb := running[a.UserID], running[b.UserID]; ra != rb {
		return ra < rb
	}
	return a.CreatedAt.Before(b.CreatedAt)
}

func (m *MemStore) UpdateProgress(_ context.Context, jobID, workerID string, progress int) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	j, err := m.claimed(jobID, workerID)
	if err != nil {
		return err
	}
	if progress > j.Progress {
		j.Progress = min(progress, 100)
	}
	return nil
}

func (m *MemStore) Complete(_ context.Context, jobID, workerID string, result JobResult) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	j, err := m.claimed(jobID, workerID)
	if err != nil {
		return err
	}
	now := time.Now().UTC()
	j.State = StateCompleted
	j.Progress = 100
	j.FinishedAt = &now
	j.Result = &result
	return nil
}

func (m *MemStore) Fail(_ context.Context, jobID, workerID string, jobErr JobError) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	j, err := m.claimed(jobID, workerID)
	if err != nil {
		return err
	}
	now := time.Now().UTC()
	if jobErr.Kind == ErrCancelled {
		j.State = StateCancelled
	} else {
		j.State = StateFailed
	}
	j.FinishedAt = &now
	j.Error = &jobErr
	return nil
}

func (m *MemStore) Cancel(_ context.Context, jobID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	j, ok := m.jobs[jobID]
	if !ok {
		return ErrNotFound
	}
	switch j.State {
	case StatePending:
		now := time.Now().UTC()
		j.State = StateCancelled
		j.FinishedAt = &now
		j.Error = &JobError{Kind: ErrCancelled, Detail: "cancelled before execution"}
	case StateRunning:
		j.CancelRequested = true
	}
	// Terminal states: no-op.
	return nil
}

func (m *MemStore) CancelRequested(_ context.Context, jobID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	j, ok := m.jobs[jobID]
	if !ok {
		return false, ErrNotFound
	}
	return j.CancelRequested, nil
}

func (m *MemStore) Get(_ context.Context, jobID string) (*Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	j, ok := m.jobs[jobID]
	if !ok {
		return nil, ErrNotFound
	}
	return j.Clone(), nil
}

func (m *MemStore) List(_ context.Context, userID string, filter ListFilter) ([]*Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []*Job
	for _, j := range m.jobs {
		if j.UserID != userID {
			continue
		}
		if filter.State != "" && j.State != filter.State {
			continue
		}
		out = append(out, j.Clone())
	}
	sort.Slice(out, func(i, k int) bool {
		return out[i].CreatedAt.After(out[k].CreatedAt)
	})
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

func (m *MemStore) SweepExpired(_ context.Context, now time.Time) ([]*Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var swept []*Job
	for id, j := range m.jobs {
		if j.ExpiresAt.Before(now) {
			swept = append(swept, j.Clone())
			delete(m.jobs, id)
		}
	}
	return swept, nil
}

func (m *MemStore) Close() {}

// claimed fetches a running job owned by workerID, enforcing the mutation
// contract shared with the Postgres backend.
func (m *MemStore) claimed(jobID, workerID string) (*Job, error) {
	j, ok := m.jobs[jobID]
	if !ok {
		return nil, ErrNotFound
	}
	if j.State.Terminal() {
		return nil, ErrTerminalState
	}
	if j.State != StateRunning || j.WorkerID != workerID {
		return nil, ErrWrongWorker
	}
	return j, nil
}
