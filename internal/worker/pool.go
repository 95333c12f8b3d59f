// Package worker runs the bounded pool of job executors. Each worker claims
// jobs from the registry, enforces the user's quota, gives the pipeline a
// fresh workspace and a wall-clock limit, and records the terminal state.
package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"os"
	"path/filepath"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/KushagraSharma924/censorly/internal/asr"
	"github.com/KushagraSharma924/censorly/internal/observe"
	"github.com/KushagraSharma924/censorly/internal/pipeline"
	"github.com/KushagraSharma924/censorly/internal/quota"
	"github.com/KushagraSharma924/censorly/internal/registry"
)

// Config sizes the pool.
type Config struct {
	// MaxConcurrentJobs bounds how many jobs run at once.
	MaxConcurrentJobs int

	// JobTimeout is the wall-clock limit per job. Exceeding it fails the
	// job with the timeout error kind.
	JobTimeout time.Duration

	// PollInterval is the idle sleep between claim attempts. Each sleep is
	// jittered ±50% so workers do not poll in lockstep.
	PollInterval time.Duration

	// WorkspaceRoot is the directory job workspaces are created under.
	WorkspaceRoot string
}

// Pool executes claimed jobs until its context is cancelled.
type Pool struct {
	cfg      Config
	registry registry.Registry
	runner   *pipeline.Runner
	quota    quota.Provider
	metrics  *observe.Metrics
}

// NewPool wires a pool. metrics may be nil.
func NewPool(cfg Config, reg registry.Registry, runner *pipeline.Runner, q quota.Provider, metrics *observe.Metrics) *Pool {
	if cfg.MaxConcurrentJobs <= 0 {
		cfg.MaxConcurrentJobs = 1
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = time.Second
	}
	return &Pool{
		cfg:      cfg,
		registry: reg,
		runner:   runner,
		quota:    q,
		metrics:  metrics,
	}
}

// Run blocks, executing jobs on MaxConcurrentJobs workers until ctx is
// cancelled. It returns nil on clean shutdown.
func (p *Pool) Run(ctx context.Context) error {
	if err := os.MkdirAll(p.cfg.WorkspaceRoot, 0o755); err != nil {
		return fmt.Errorf("worker: create workspace root: %w", err)
	}

	g, ctx := errgroup.WithContext(ctx)
	for i := 0; i < p.cfg.MaxConcurrentJobs; i++ {
		workerID := fmt.Sprintf("worker-%d", i)
		g.Go(func() error {
			p.loop(ctx, workerID)
			return nil
		})
	}
	return g.Wait()
}

// loop claims and executes jobs until ctx is cancelled.
func (p *Pool) loop(ctx context.Context, workerID string) {
	log := slog.With("worker_id", workerID)
	log.Info("worker started")
	defer log.Info("worker stopped")

	for {
		if ctx.Err() != nil {
			return
		}

		job, err := p.registry.ClaimNext(ctx, workerID)
		switch {
		case errors.Is(err, registry.ErrNoPendingJobs):
			if !sleep(ctx, jitter(p.cfg.PollInterval)) {
				return
			}
			continue
		case err != nil:
			if ctx.Err() != nil {
				return
			}
			log.Error("claim failed", "error", err)
			if !sleep(ctx, jitter(p.cfg.PollInterval)) {
				return
			}
			continue
		}

		p.execute(ctx, workerID, job)
	}
}

// execute runs one claimed job to a terminal state.
func (p *Pool) execute(ctx context.Context, workerID string, job *registry.Job) {
	log := slog.With("worker_id", workerID, "job_id", job.ID, "user_id", job.UserID)
	started := time.Now()

	if p.metrics != nil {
		p.metrics.ActiveJobs.Add(ctx, 1)
		defer p.metrics.ActiveJobs.Add(ctx, -1)
	}

	limits, jobErr := p.preflight(ctx, job)
	if jobErr != nil {
		log.Warn("job rejected before execution", "kind", string(jobErr.Kind), "detail", jobErr.Detail)
		p.finalize(ctx, workerID, job, nil, *jobErr, started)
		return
	}

	workspace := filepath.Join(p.cfg.WorkspaceRoot, job.ID)
	if err := os.MkdirAll(workspace, 0o755); err != nil {
		p.finalize(ctx, workerID, job, nil,
			registry.JobError{Kind: registry.ErrInternal, Detail: fmt.Sprintf("create workspace: %v", err)},
			started)
		return
	}
	defer func() {
		if err := os.RemoveAll(workspace); err != nil {
			log.Warn("workspace cleanup failed", "path", workspace, "error", err)
		}
	}()

	var (
		jobCtx    context.Context
		jobCancel context.CancelFunc
	)
	if p.cfg.JobTimeout > 0 {
		jobCtx, jobCancel = context.WithTimeout(ctx, p.cfg.JobTimeout)
	} else {
		jobCtx, jobCancel = context.WithCancel(ctx)
	}
	defer jobCancel()

	// Bridge the cooperative cancel flag to the job context so an in-flight
	// subprocess or transcription stops promptly instead of finishing the
	// stage first.
	watchDone := make(chan struct{})
	go func() {
		defer close(watchDone)
		p.watchCancel(jobCtx, job.ID, jobCancel)
	}()

	result, err := p.runner.Run(jobCtx, pipeline.JobContext{
		Job:       job,
		WorkerID:  workerID,
		Workspace: workspace,
		Quality:   asr.QualityForTier(limits.Tier),
	})
	jobCancel()
	<-watchDone
	if err != nil {
		p.finalize(ctx, workerID, job, nil, pipeline.ClassifyError(err), started)
		return
	}

	p.finalize(ctx, workerID, job, result, registry.JobError{}, started)
}

// preflight checks the user's quota before any compute is spent. A non-nil
// JobError rejects the job.
func (p *Pool) preflight(ctx context.Context, job *registry.Job) (quota.Limits, *registry.JobError) {
	limits, err := p.quota.PlanLimits(ctx, job.UserID)
	if err != nil {
		return quota.Limits{}, &registry.JobError{
			Kind:   registry.ErrInternal,
			Detail: fmt.Sprintf("resolve plan: %v", err),
		}
	}

	if limits.MaxDurationS > 0 && job.Input.DurationS > limits.MaxDurationS {
		return limits, &registry.JobError{
			Kind: registry.ErrQuotaExceeded,
			Detail: fmt.Sprintf("input is %.0fs, plan %q allows %.0fs",
				job.Input.DurationS, limits.Tier, limits.MaxDurationS),
		}
	}

	if limits.MaxMonthlyJobs > 0 {
		used, err := p.quota.MonthlyJobs(ctx, job.UserID)
		if err != nil {
			return limits, &registry.JobError{
				Kind:   registry.ErrInternal,
				Detail: fmt.Sprintf("read usage: %v", err),
			}
		}
		if used >= limits.MaxMonthlyJobs {
			return limits, &registry.JobError{
				Kind: registry.ErrQuotaExceeded,
				Detail: fmt.Sprintf("%d of %d monthly jobs used on plan %q",
					used, limits.MaxMonthlyJobs, limits.Tier),
			}
		}
	}

	return limits, nil
}

// finalize writes the terminal state and accounts usage for completed jobs.
func (p *Pool) finalize(ctx context.Context, workerID string, job *registry.Job, result *registry.JobResult, jobErr registry.JobError, started time.Time) {
	log := slog.With("worker_id", workerID, "job_id", job.ID)
	elapsed := time.Since(started)

	// Terminal writes must land even when the pool is shutting down.
	writeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()

	status := "completed"
	if result != nil {
		if err := p.registry.Complete(writeCtx, job.ID, workerID, *result); err != nil {
			log.Error("complete failed", "error", err)
		}
		if err := p.quota.RecordUsage(writeCtx, job.UserID, job.ID, job.Input.DurationS); err != nil {
			log.Warn("usage accounting failed", "error", err)
		}
		log.Info("job completed",
			"output_ref", result.OutputRef, "elapsed", elapsed)
	} else {
		if jobErr.Kind == registry.ErrCancelled {
			status = "cancelled"
		} else {
			status = "failed"
		}
		if err := p.registry.Fail(writeCtx, job.ID, workerID, jobErr); err != nil {
			log.Error("fail transition failed", "error", err)
		}
		log.Warn("job did not complete",
			"status", status, "kind", string(jobErr.Kind), "detail", jobErr.Detail, "elapsed", elapsed)
	}

	if p.metrics != nil {
		p.metrics.RecordJobFinished(ctx, string(job.Config.Mode), status, string(jobErr.Kind), elapsed)
	}
}

// watchCancel polls the job's cancel flag at the claim-poll interval and
// fires cancel when it is set. Returns once ctx is done, which execute
// guarantees by cancelling the job context after the run.
func (p *Pool) watchCancel(ctx context.Context, jobID string, cancel context.CancelFunc) {
	for sleep(ctx, p.cfg.PollInterval) {
		cancelled, err := p.registry.CancelRequested(ctx, jobID)
		if err != nil {
			continue
		}
		if cancelled {
			cancel()
			return
		}
	}
}

// jitter spreads d uniformly over [0.5d, 1.5d].
func jitter(d time.Duration) time.Duration {
	return d/2 + rand.N(d)
}

// sleep waits for d or until ctx is done, reporting whether the full wait
// elapsed.
func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}
