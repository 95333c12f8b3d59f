package registry

import (
	"context"
	"errors"
	"time"
)

// Sentinel errors shared by both backends.
var (
	// ErrNotFound is returned for operations on an unknown job id.
	ErrNotFound = errors.New("registry: job not found")

	// ErrNoPendingJobs is returned by ClaimNext when no job is claimable.
	ErrNoPendingJobs = errors.New("registry: no pending jobs")

	// ErrWrongWorker is returned when a worker mutates a job it did not claim.
	ErrWrongWorker = errors.New("registry: job claimed by another worker")

	// ErrTerminalState is returned when mutating a job already in a terminal
	// state.
	ErrTerminalState = errors.New("registry: job is in a terminal state")
)

// Registry is the persistent job store. All methods are safe for concurrent
// use. Claim atomicity is the hard requirement: no two workers may claim the
// same job.
type Registry interface {
	// Submit validates cfg, creates a pending job and returns it. ttl sets
	// ExpiresAt relative to creation.
	Submit(ctx context.Context, userID string, input JobInput, cfg JobConfig, ttl time.Duration) (*Job, error)

	// ClaimNext atomically transitions one pending job to running on behalf
	// of workerID and returns it. Fair queueing: jobs from users with the
	// fewest running jobs are preferred, tie-break oldest created_at.
	// Returns ErrNoPendingJobs when nothing is claimable.
	ClaimNext(ctx context.Context, workerID string) (*Job, error)

	// UpdateProgress records progress for a running job. Only the claiming
	// worker may call it; progress is clamped monotonic non-decreasing.
	UpdateProgress(ctx context.Context, jobID, workerID string, progress int) error

	// Complete transitions a running job to completed with its result.
	Complete(ctx context.Context, jobID, workerID string, result JobResult) error

	// Fail transitions a running job to its failure terminal state. A
	// jobErr.Kind of ErrCancelled lands the job in cancelled rather than
	// failed.
	Fail(ctx context.Context, jobID, workerID string, jobErr JobError) error

	// Cancel requests cancellation. Pending jobs transition to cancelled
	// immediately; running jobs get the cooperative flag set and terminate
	// via the claiming worker. Cancelling a terminal job is a no-op.
	Cancel(ctx context.Context, jobID string) error

	// CancelRequested reports the cooperative cancellation flag. The runner
	// polls this between pipeline stages.
	CancelRequested(ctx context.Context, jobID string) (bool, error)

	// Get returns a copy of the job.
	Get(ctx context.Context, jobID string) (*Job, error)

	// List returns the user's jobs, newest first, narrowed by filter.
	List(ctx context.Context, userID string, filter ListFilter) ([]*Job, error)

	// SweepExpired deletes jobs whose ExpiresAt is before now and returns
	// them so callers can delete the associated artifacts.
	SweepExpired(ctx context.Context, now time.Time) ([]*Job, error)

	// Close releases backend resources.
	Close()
}
