package data

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/stdlib"

	"github.com/Valdrix-AI/valdrix-sub000/internal/core"
	"github.com/Valdrix-AI/valdrix-sub000/internal/data/pgxutil"
	"github.com/Valdrix-AI/valdrix-sub000/internal/domain/model"
	apperrors "github.com/Valdrix-AI/valdrix-sub000/internal/errors"
)

// SQL used by ClaimBatch to atomically lease a batch of due jobs.
const claimBatchSQL = `
  WITH cte AS (
    SELECT id FROM jobs
    WHERE job_type = ANY($1) AND status = 'pending'
      AND scheduled_for <= $2 AND NOT is_deleted
    ORDER BY scheduled_for ASC, created_at ASC
    LIMIT $3
    FOR UPDATE SKIP LOCKED
  )
  UPDATE jobs j
  SET
    status = 'running',
    started_at = $4,
    updated_at = $4
  FROM cte
  WHERE j.id = cte.id
  RETURNING ` + prefixedJobColumns

const prefixedJobColumns = `j.id, j.tenant_scope, j.job_type, j.status, j.payload, j.result,
	j.attempts, j.max_attempts, j.dedup_key, j.last_error,
	j.scheduled_for, j.started_at, j.completed_at, j.is_deleted, j.created_at, j.updated_at`

// Enqueue inserts a job. A dedup-key collision with a live row is not an
// error: the existing job is returned with Duplicate set.
func (r *JobRepo) Enqueue(ctx context.Context, req model.EnqueueRequest) (*core.EnqueueResult, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	scheduledFor := r.clock.Now().UTC()
	if req.ScheduledFor != nil {
		scheduledFor = req.ScheduledFor.UTC()
	}

	var result core.EnqueueResult
	txErr := pgxutil.WithPgxTx(ctx, r.db, pgxutil.TxConfig{
		Fn: func(tx pgx.Tx) error {
			rows, err := tx.Query(ctx, `
			  INSERT INTO jobs (id, tenant_scope, job_type, status, payload, attempts, max_attempts, dedup_key, scheduled_for)
			  VALUES ($1, $2, $3, 'pending', $4, 0, $5, $6, $7)
			  ON CONFLICT (dedup_key) WHERE NOT is_deleted DO NOTHING
			  RETURNING `+jobColumns,
				newJobID(), req.Scope(), req.Type, req.Payload,
				req.EffectiveMaxAttempts(), nullIfEmpty(req.DedupKey), scheduledFor,
			)
			if err != nil {
				return fmt.Errorf("insert job: %w", err)
			}
			job, collectErr := collectJob(rows)
			rows.Close()
			if errors.Is(collectErr, pgx.ErrNoRows) {
				// the partial unique index absorbed the insert
				result.Duplicate = true
				return nil
			}
			if collectErr != nil {
				return fmt.Errorf("collect job: %w", collectErr)
			}

			channel := "job_added_" + string(req.Type)
			if _, notifyErr := tx.Exec(ctx, `SELECT pg_notify($1::text, $2::text)`, channel, job.ID); notifyErr != nil {
				return fmt.Errorf("send job notification: %w", notifyErr)
			}
			result.Job = job
			return nil
		},
	})
	if txErr != nil {
		return nil, apperrors.MapDBError(txErr)
	}

	if result.Duplicate && req.DedupKey != "" {
		existing, err := r.GetByDedupKey(ctx, req.DedupKey)
		if err != nil && !apperrors.IsNotFound(err) {
			return nil, err
		}
		result.Job = existing
	}
	return &result, nil
}

// ClaimBatch atomically moves up to limit due pending jobs of the given
// types to running. Concurrent claimers skip each other's locked rows, so
// no job is ever handed out twice.
func (r *JobRepo) ClaimBatch(ctx context.Context, types []model.JobType, limit int) ([]*model.Job, error) {
	if len(types) == 0 {
		return nil, errors.New("at least one job type is required")
	}
	if limit <= 0 {
		return nil, errors.New("limit must be positive")
	}

	var jobs []*model.Job
	err := pgxutil.WithPgxTx(ctx, r.db, pgxutil.TxConfig{
		Opts: &sql.TxOptions{Isolation: sql.LevelReadCommitted},
		Fn: func(tx pgx.Tx) error {
			now := r.clock.Now().UTC()
			rows, qerr := tx.Query(ctx, claimBatchSQL, jobTypeStrings(types), now, limit, now)
			if qerr != nil {
				return fmt.Errorf("claim jobs: %w", qerr)
			}
			defer rows.Close()
			for rows.Next() {
				job, serr := scanJob(rows)
				if serr != nil {
					return fmt.Errorf("scan claimed job: %w", serr)
				}
				jobs = append(jobs, job)
			}
			return rows.Err()
		},
	})
	if err != nil {
		return nil, apperrors.MapDBError(err)
	}
	return jobs, nil
}

// Complete marks a running job completed and stores its result payload.
func (r *JobRepo) Complete(ctx context.Context, id string, result []byte) error {
	now := r.clock.Now().UTC()
	if len(result) == 0 {
		result = []byte(`{}`)
	}

	res, err := r.db.ExecContext(ctx, `
		UPDATE jobs
		SET status = 'completed',
		    result = $2,
		    completed_at = $3,
		    updated_at = $3,
		    last_error = NULL
		WHERE id = $1 AND status = 'running' AND NOT is_deleted
	`, id, result, now)
	if err != nil {
		return apperrors.MapDBError(fmt.Errorf("complete job: %w", err))
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("complete rows affected: %w", err)
	}
	if affected == 0 {
		return apperrors.NotFound("job is not running")
	}
	return nil
}

// FailForRetry records a failed attempt. The attempt budget decides in SQL
// whether the job goes back to pending at NotifyAt or parks in dead_letter,
// so the check and the transition cannot race.
func (r *JobRepo) FailForRetry(ctx context.Context, p core.FailForRetryParams) (*model.Job, error) {
	now := r.clock.Now().UTC()

	row := r.db.QueryRowContext(ctx, `
	  UPDATE jobs
	  SET
	    last_error = CASE WHEN attempts + 1 >= max_attempts
	                      THEN 'retries exhausted (' || (attempts + 1)::text || '/' || max_attempts::text || '): ' || $2::text
	                      ELSE $2::text END,
	    attempts = attempts + 1,
	    status = CASE WHEN attempts + 1 >= max_attempts THEN 'dead_letter' ELSE 'pending' END,
	    completed_at = CASE WHEN attempts + 1 >= max_attempts THEN $3::timestamptz ELSE NULL END,
	    scheduled_for = CASE WHEN attempts + 1 >= max_attempts THEN scheduled_for
	                         ELSE $4::timestamptz END,
	    updated_at = $3
	  WHERE id = $1 AND status = 'running' AND NOT is_deleted
	  RETURNING `+jobColumns,
		p.ID, truncateError(p.Reason), now, p.NotifyAt.UTC(),
	)
	job, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperrors.NotFound("job is not running")
	}
	if err != nil {
		return nil, apperrors.MapDBError(fmt.Errorf("fail job: %w", err))
	}
	return job, nil
}

// DeadLetter parks a job permanently, bypassing any remaining attempts.
func (r *JobRepo) DeadLetter(ctx context.Context, id string, reason string) error {
	now := r.clock.Now().UTC()
	res, err := r.db.ExecContext(ctx, `
		UPDATE jobs
		SET status = 'dead_letter',
		    last_error = $2,
		    completed_at = $3,
		    updated_at = $3
		WHERE id = $1 AND status = 'running' AND NOT is_deleted
	`, id, truncateError(reason), now)
	if err != nil {
		return apperrors.MapDBError(fmt.Errorf("dead letter job: %w", err))
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("dead letter rows affected: %w", err)
	}
	if affected == 0 {
		return apperrors.NotFound("job is not running")
	}
	return nil
}

// Checkpoint persists partial progress into the running job's payload so a
// retry after a crash resumes instead of restarting.
func (r *JobRepo) Checkpoint(ctx context.Context, id string, checkpoint []byte) error {
	if len(checkpoint) == 0 {
		return errors.New("checkpoint payload is required")
	}
	now := r.clock.Now().UTC()
	res, err := r.db.ExecContext(ctx, `
		UPDATE jobs
		SET payload = jsonb_set(payload, '{checkpoint}', $2::jsonb, true),
		    updated_at = $3
		WHERE id = $1 AND status = 'running' AND NOT is_deleted
	`, id, checkpoint, now)
	if err != nil {
		return apperrors.MapDBError(fmt.Errorf("checkpoint job: %w", err))
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("checkpoint rows affected: %w", err)
	}
	if affected == 0 {
		return apperrors.NotFound("job is not running")
	}
	return nil
}

// GetByID retrieves a job by its ID, including soft-deleted rows.
func (r *JobRepo) GetByID(ctx context.Context, id string) (*model.Job, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT `+jobColumns+`
		FROM jobs
		WHERE id = $1
	`, id)
	job, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperrors.NotFound("job not found")
	}
	if err != nil {
		return nil, apperrors.MapDBError(fmt.Errorf("get job: %w", err))
	}
	return job, nil
}

// GetByDedupKey retrieves the live job holding the given dedup key.
func (r *JobRepo) GetByDedupKey(ctx context.Context, dedupKey string) (*model.Job, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT `+jobColumns+`
		FROM jobs
		WHERE dedup_key = $1 AND NOT is_deleted
	`, dedupKey)
	job, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperrors.NotFound("job not found")
	}
	if err != nil {
		return nil, apperrors.MapDBError(fmt.Errorf("get job by dedup key: %w", err))
	}
	return job, nil
}

// SoftDelete hides a job and releases its dedup key for re-admission.
// Running jobs cannot be deleted while a worker holds them.
func (r *JobRepo) SoftDelete(ctx context.Context, id string) error {
	now := r.clock.Now().UTC()
	res, err := r.db.ExecContext(ctx, `
		UPDATE jobs
		SET is_deleted = TRUE,
		    updated_at = $2
		WHERE id = $1 AND status <> 'running' AND NOT is_deleted
	`, id, now)
	if err != nil {
		return apperrors.MapDBError(fmt.Errorf("soft delete job: %w", err))
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("soft delete rows affected: %w", err)
	}
	if affected > 0 {
		return nil
	}

	job, err := r.GetByID(ctx, id)
	if err != nil {
		return err
	}
	if job.Status == model.JobStatusRunning {
		return apperrors.Conflict("job is running and cannot be deleted")
	}
	if job.IsDeleted {
		return nil
	}
	return apperrors.Internal("job is deletable but delete failed")
}

// collectJob collects a single job from pgx rows.
func collectJob(rows pgx.Rows) (*model.Job, error) {
	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return nil, err
		}
		return nil, pgx.ErrNoRows
	}
	job, err := scanJob(rows)
	if err != nil {
		return nil, err
	}
	if rowsErr := rows.Err(); rowsErr != nil {
		return nil, rowsErr
	}
	return job, nil
}

// WaitForNotification blocks until a job-added notification for any of the
// given types arrives or ctx is done. Callers treat the listen connection
// as disposable and reconnect on error.
func (r *JobRepo) WaitForNotification(ctx context.Context, types []model.JobType) error {
	conn, err := r.db.Conn(ctx)
	if err != nil {
		return fmt.Errorf("get conn from pool: %w", err)
	}
	defer func() {
		if cerr := conn.Close(); cerr != nil {
			_ = cerr
		}
	}()

	for _, t := range types {
		channel := "job_added_" + string(t)
		quoted := pgx.Identifier{channel}.Sanitize()
		if _, execErr := conn.ExecContext(ctx, "LISTEN "+quoted); execErr != nil {
			return fmt.Errorf("listen %s: %w", channel, execErr)
		}
	}
	defer func() {
		if _, execErr := conn.ExecContext(context.Background(), "UNLISTEN *"); execErr != nil {
			_ = execErr
		}
	}()

	return conn.Raw(func(dc any) error {
		sc, ok := dc.(*stdlib.Conn)
		if !ok {
			return errors.New("unexpected driver connection type; expected *stdlib.Conn")
		}
		_, notifyErr := sc.Conn().WaitForNotification(ctx)
		return notifyErr
	})
}
