package data

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/Valdrix-AI/valdrix-sub000/internal/data/pgxutil"
)

// Advisory lock namespace for reaper sweeps. Two-arg
// pg_try_advisory_xact_lock(major, minor) keeps the keys namespaced away
// from other applications sharing the database.
const (
	advisoryLockReaperMajor     = 2100
	advisoryLockReaperFailStale = 1 // minor key for FailStaleRunningJobs
	advisoryLockReaperDelete    = 2 // minor key for DeleteOldJobs
)

const staleRunningBatchSize = 500

// FailStaleRunningJobs marks running jobs whose worker has been silent past
// olderThan as failed. Only one instance sweeps at a time; others get -1 and
// back off. Returns the number of jobs marked.
func (r *JobRepo) FailStaleRunningJobs(ctx context.Context, olderThan time.Duration) (int64, error) {
	if olderThan <= 0 {
		return 0, errors.New("olderThan must be positive")
	}

	var rowsAffected int64
	err := pgxutil.WithSQLTx(ctx, r.db, pgxutil.SQLTxConfig{
		Fn: func(tx *sql.Tx) error {
			var locked bool
			if err := tx.QueryRowContext(ctx, "SELECT pg_try_advisory_xact_lock($1, $2)", advisoryLockReaperMajor, advisoryLockReaperFailStale).Scan(&locked); err != nil {
				return fmt.Errorf("acquire advisory lock: %w", err)
			}
			if !locked {
				rowsAffected = -1
				return nil
			}

			currentTime := r.clock.Now()
			cutoff := currentTime.Add(-olderThan)

			res, err := tx.ExecContext(ctx, `
				UPDATE jobs
				SET status = 'failed',
				    last_error = 'worker lost: no progress past liveness horizon',
				    completed_at = $1,
				    updated_at = $1
				WHERE id IN (
					SELECT id FROM jobs
					WHERE status = 'running'
					  AND started_at < $2
					  AND NOT is_deleted
					ORDER BY started_at
					LIMIT $3
				)
			`, currentTime.UTC(), cutoff.UTC(), staleRunningBatchSize)
			if err != nil {
				return fmt.Errorf("fail stale running jobs: %w", err)
			}

			ra, err := res.RowsAffected()
			if err != nil {
				return fmt.Errorf("rows affected: %w", err)
			}
			rowsAffected = ra
			return nil
		},
	})
	if err != nil {
		return 0, err
	}
	return rowsAffected, nil
}

// DeleteOldJobs purges terminal jobs past the retention window in bounded
// batches to avoid long locks and I/O spikes.
func (r *JobRepo) DeleteOldJobs(ctx context.Context, retention time.Duration) (int64, error) {
	if retention <= 0 {
		return 0, errors.New("retention must be positive")
	}

	var rowsAffected int64
	err := pgxutil.WithSQLTx(ctx, r.db, pgxutil.SQLTxConfig{
		Fn: func(tx *sql.Tx) error {
			var locked bool
			if err := tx.QueryRowContext(ctx, "SELECT pg_try_advisory_xact_lock($1, $2)", advisoryLockReaperMajor, advisoryLockReaperDelete).Scan(&locked); err != nil {
				return fmt.Errorf("acquire advisory lock: %w", err)
			}
			if !locked {
				rowsAffected = -1
				return nil
			}

			cutoff := r.clock.Now().Add(-retention)

			res, err := tx.ExecContext(ctx, `
				DELETE FROM jobs
				WHERE id IN (
					SELECT id FROM jobs
					WHERE status IN ('completed', 'failed', 'dead_letter')
					  AND (completed_at < $1 OR (completed_at IS NULL AND updated_at < $1))
					ORDER BY COALESCE(completed_at, updated_at)
					LIMIT $2
				)
			`, cutoff.UTC(), staleRunningBatchSize)
			if err != nil {
				return fmt.Errorf("delete old jobs: %w", err)
			}

			ra, err := res.RowsAffected()
			if err != nil {
				return fmt.Errorf("rows affected: %w", err)
			}
			rowsAffected = ra
			return nil
		},
	})
	if err != nil {
		return 0, err
	}
	return rowsAffected, nil
}
