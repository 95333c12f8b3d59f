package registry

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const ddlJobs = `
CREATE TABLE IF NOT EXISTS jobs (
    id               TEXT         PRIMARY KEY,
    user_id          TEXT         NOT NULL,
    input            JSONB        NOT NULL,
    config           JSONB        NOT NULL,
    state            TEXT         NOT NULL,
    progress         INT          NOT NULL DEFAULT 0,
    worker_id        TEXT         NOT NULL DEFAULT '',
    cancel_requested BOOLEAN      NOT NULL DEFAULT FALSE,
    created_at       TIMESTAMPTZ  NOT NULL DEFAULT now(),
    started_at       TIMESTAMPTZ,
    finished_at      TIMESTAMPTZ,
    expires_at       TIMESTAMPTZ  NOT NULL,
    result           JSONB,
    error            JSONB
);

CREATE INDEX IF NOT EXISTS idx_jobs_state_created
    ON jobs (state, created_at);

CREATE INDEX IF NOT EXISTS idx_jobs_user_state
    ON jobs (user_id, state);

CREATE INDEX IF NOT EXISTS idx_jobs_expires_at
    ON jobs (expires_at);
`

// PostgresStore is the durable Registry backend. All operations run against a
// single [pgxpool.Pool]; claim atomicity is enforced with
// FOR UPDATE SKIP LOCKED.
type PostgresStore struct {
	pool *pgxpool.Pool
}

var _ Registry = (*PostgresStore)(nil)

// NewPostgresStore connects to dsn, verifies the connection, and runs
// [Migrate] to ensure the jobs table exists.
func NewPostgresStore(ctx context.Context, dsn string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("registry: create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("registry: ping: %w", err)
	}
	if err := Migrate(ctx, pool); err != nil {
		pool.Close()
		return nil, fmt.Errorf("registry: migrate: %w", err)
	}
	return &PostgresStore{pool: pool}, nil
}

// Migrate applies the jobs DDL. Idempotent.
func Migrate(ctx context.Context, pool *pgxpool.Pool) error {
	if _, err := pool.Exec(ctx, ddlJobs); err != nil {
		return fmt.Errorf("apply jobs ddl: %w", err)
	}
	return nil
}

func (s *PostgresStore) Submit(ctx context.Context, userID string, input JobInput, cfg JobConfig, ttl time.Duration) (*Job, error) {
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

	inputJSON, err := json.Marshal(job.Input)
	if err != nil {
		return nil, fmt.Errorf("registry: marshal input: %w", err)
	}
	configJSON, err := json.Marshal(job.Config)
	if err != nil {
		return nil, fmt.Errorf("registry: marshal config: %w", err)
	}

	const q = `
		INSERT INTO jobs (id, user_id, input, config, state, created_at, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`
	if _, err := s.pool.Exec(ctx, q, job.ID, job.UserID, inputJSON, configJSON, job.State, job.CreatedAt, job.ExpiresAt); err != nil {
		return nil, fmt.Errorf("registry: insert job: %w", err)
	}
	return job, nil
}

// ClaimNext selects one pending job inside a transaction with
// FOR UPDATE SKIP LOCKED, so concurrent workers never claim the same row.
// Fair queueing prefers users with the fewest running jobs, tie-break oldest
// created_at.
func (s *PostgresStore) ClaimNext(ctx context.Context, workerID string) (*Job, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("registry: begin claim tx: %w", err)
	}
	defer tx.Rollback(ctx)

	const selectQ = `
		WITH running_counts AS (
		    SELECT user_id, count(*) AS n
		    FROM   jobs
		    WHERE  state = 'running'
		    GROUP  BY user_id
		)
		SELECT j.id
		FROM   jobs j
		LEFT   JOIN running_counts rc ON rc.user_id = j.user_id
		WHERE  j.state = 'pending'
		ORDER  BY COALESCE(rc.n, 0), j.created_at
		FOR    UPDATE OF j SKIP LOCKED
		LIMIT  1`

	var id string
	err = tx.QueryRow(ctx, selectQ).Scan(&id)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNoPendingJobs
	}
	if err != nil {
		return nil, fmt.Errorf("registry: select claimable job: %w", err)
	}

	const updateQ = `
		UPDATE jobs
		SET    state = 'running', worker_id = $2, started_at = now()
		WHERE  id = $1`
	if _, err := tx.Exec(ctx, updateQ, id, workerID); err != nil {
		return nil, fmt.Errorf("registry: mark job running: %w", err)
	}

	job, err := scanJob(tx.QueryRow(ctx, selectJobQ+` WHERE id = $1`, id))
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("registry: commit claim tx: %w", err)
	}
	return job, nil
}

func (s *PostgresStore) UpdateProgress(ctx context.Context, jobID, workerID string, progress int) error {
	const q = `
		UPDATE jobs
		SET    progress = LEAST(GREATEST(progress, $3), 100)
		WHERE  id = $1 AND state = 'running' AND worker_id = $2`
	tag, err := s.pool.Exec(ctx, q, jobID, workerID, progress)
	if err != nil {
		return fmt.Errorf("registry: update progress: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return s.mutationError(ctx, jobID, workerID)
	}
	return nil
}

func (s *PostgresStore) Complete(ctx context.Context, jobID, workerID string, result JobResult) error {
	resultJSON, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("registry: marshal result: %w", err)
	}
	const q = `
		UPDATE jobs
		SET    state = 'completed', progress = 100, finished_at = now(), result = $3
		WHERE  id = $1 AND state = 'running' AND worker_id = $2`
	tag, err := s.pool.Exec(ctx, q, jobID, workerID, resultJSON)
	if err != nil {
		return fmt.Errorf("registry: complete job: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return s.mutationError(ctx, jobID, workerID)
	}
	return nil
}

func (s *PostgresStore) Fail(ctx context.Context, jobID, workerID string, jobErr JobError) error {
	errJSON, err := json.Marshal(jobErr)
	if err != nil {
		return fmt.Errorf("registry: marshal error: %w", err)
	}
	state := StateFailed
	if jobErr.Kind == ErrCancelled {
		state = StateCancelled
	}
	const q = `
		UPDATE jobs
		SET    state = $4, finished_at = now(), error = $3
		WHERE  id = $1 AND state = 'running' AND worker_id = $2`
	tag, err := s.pool.Exec(ctx, q, jobID, workerID, errJSON, state)
	if err != nil {
		return fmt.Errorf("registry: fail job: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return s.mutationError(ctx, jobID, workerID)
	}
	return nil
}

func (s *PostgresStore) Cancel(ctx context.Context, jobID string) error {
	// Pending jobs are cancelled outright; running jobs only get the
	// cooperative flag and terminate through the claiming worker.
	const q = `
		UPDATE jobs
		SET    state = CASE WHEN state = 'pending' THEN 'cancelled' ELSE state END,
		       finished_at = CASE WHEN state = 'pending' THEN now() ELSE finished_at END,
		       error = CASE WHEN state = 'pending'
		                    THEN '{"kind":"cancelled","detail":"cancelled before execution"}'::jsonb
		                    ELSE error END,
		       cancel_requested = CASE WHEN state = 'running' THEN TRUE ELSE cancel_requested END
		WHERE  id = $1`
	tag, err := s.pool.Exec(ctx, q, jobID)
	if err != nil {
		return fmt.Errorf("registry: cancel job: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) CancelRequested(ctx context.Context, jobID string) (bool, error) {
	var flag bool
	err := s.pool.QueryRow(ctx, `SELECT cancel_requested FROM jobs WHERE id = $1`, jobID).Scan(&flag)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, ErrNotFound
	}
	if err != nil {
		return false, fmt.Errorf("registry: read cancel flag: %w", err)
	}
	return flag, nil
}

const selectJobQ = `
	SELECT id, user_id, input, config, state, progress, worker_id,
	       cancel_requested, created_at, started_at, finished_at, expires_at,
	       result, error
	FROM   jobs`

func (s *PostgresStore) Get(ctx context.Context, jobID string) (*Job, error) {
	return scanJob(s.pool.QueryRow(ctx, selectJobQ+` WHERE id = $1`, jobID))
}

func (s *PostgresStore) List(ctx context.Context, userID string, filter ListFilter) ([]*Job, error) {
	q := selectJobQ + ` WHERE user_id = $1`
	args := []any{userID}
	if filter.State != "" {
		q += ` AND state = $2`
		args = append(args, filter.State)
	}
	q += ` ORDER BY created_at DESC`
	if filter.Limit > 0 {
		q += fmt.Sprintf(` LIMIT %d`, filter.Limit)
	}

	rows, err := s.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("registry: list jobs: %w", err)
	}
	defer rows.Close()

	var out []*Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, job)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("registry: list jobs: %w", err)
	}
	return out, nil
}

func (s *PostgresStore) SweepExpired(ctx context.Context, now time.Time) ([]*Job, error) {
	rows, err := s.pool.Query(ctx, `
		DELETE FROM jobs
		WHERE  expires_at < $1
		RETURNING id, user_id, input, config, state, progress, worker_id,
		          cancel_requested, created_at, started_at, finished_at, expires_at,
		          result, error`, now)
	if err != nil {
		return nil, fmt.Errorf("registry: sweep expired: %w", err)
	}
	defer rows.Close()

	var swept []*Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		swept = append(swept, job)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("registry: sweep expired: %w", err)
	}
	return swept, nil
}

func (s *PostgresStore) Close() { s.pool.Close() }

// mutationError distinguishes why a guarded UPDATE matched no rows.
func (s *PostgresStore) mutationError(ctx context.Context, jobID, workerID string) error {
	job, err := s.Get(ctx, jobID)
	if err != nil {
		return err
	}
	if job.State.Terminal() {
		return ErrTerminalState
	}
	if job.WorkerID != workerID {
		return ErrWrongWorker
	}
	return ErrWrongWorker
}

// scanJob decodes one row from either a Row or Rows source.
func scanJob(row pgx.Row) (*Job, error) {
	var (
		job                 Job
		inputJSON           []byte
		configJSON          []byte
		resultJSON, errJSON []byte
		startedAt, finishAt *time.Time
	)
	err := row.Scan(&job.ID, &job.UserID, &inputJSON, &configJSON, &job.State,
		&job.Progress, &job.WorkerID, &job.CancelRequested, &job.CreatedAt,
		&startedAt, &finishAt, &job.ExpiresAt, &resultJSON, &errJSON)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("registry: scan job: %w", err)
	}

	if err := json.Unmarshal(inputJSON, &job.Input); err != nil {
		return nil, fmt.Errorf("registry: decode input: %w", err)
	}
	if err := json.Unmarshal(configJSON, &job.Config); err != nil {
		return nil, fmt.Errorf("registry: decode config: %w", err)
	}
	if len(resultJSON) > 0 {
		job.Result = &JobResult{}
		if err := json.Unmarshal(resultJSON, job.Result); err != nil {
			return nil, fmt.Errorf("registry: decode result: %w", err)
		}
	}
	if len(errJSON) > 0 {
		job.Error = &JobError{}
		if err := json.Unmarshal(errJSON, job.Error); err != nil {
			return nil, fmt.Errorf("registry: decode error: %w", err)
		}
	}
	job.StartedAt = startedAt
	job.FinishedAt = finishAt
	return &job, nil
}
