package data

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/Valdrix-AI/valdrix-sub000/internal/domain/model"
)

// Backlog reports queue depth by status per job type plus the age of the
// oldest pending row. Soft-deleted rows are excluded.
func (r *JobRepo) Backlog(ctx context.Context) ([]model.BacklogStats, error) {
	now := r.clock.Now().UTC()
	rows, err := r.db.QueryContext(ctx, `
	  SELECT
	    job_type,
	    count(*) FILTER (WHERE status = 'pending')     AS pending,
	    count(*) FILTER (WHERE status = 'running')     AS running,
	    count(*) FILTER (WHERE status = 'completed')   AS completed,
	    count(*) FILTER (WHERE status = 'failed')      AS failed,
	    count(*) FILTER (WHERE status = 'dead_letter') AS dead_letter,
	    min(scheduled_for) FILTER (WHERE status = 'pending' AND scheduled_for <= $1) AS oldest_pending
	  FROM jobs
	  WHERE NOT is_deleted
	  GROUP BY job_type
	  ORDER BY job_type
	`, now)
	if err != nil {
		return nil, fmt.Errorf("query backlog: %w", err)
	}
	defer rows.Close()

	var stats []model.BacklogStats
	for rows.Next() {
		var (
			s             model.BacklogStats
			oldestPending sql.NullTime
		)
		if scanErr := rows.Scan(&s.Type, &s.Pending, &s.Running, &s.Completed, &s.Failed, &s.DeadLetter, &oldestPending); scanErr != nil {
			return nil, fmt.Errorf("scan backlog row: %w", scanErr)
		}
		if oldestPending.Valid {
			s.OldestPendingAge = now.Sub(oldestPending.Time.UTC())
		}
		stats = append(stats, s)
	}
	if rowsErr := rows.Err(); rowsErr != nil {
		return nil, rowsErr
	}
	return stats, nil
}

// SLAReport aggregates terminal jobs per (type, tenant) over the trailing
// window. Only terminal rows count toward the success rate so in-flight work
// cannot dilute it. Duration percentiles cover completed rows, the only ones
// with both timestamps from a real execution.
func (r *JobRepo) SLAReport(ctx context.Context, window time.Duration) ([]model.SLAReport, error) {
	if window <= 0 {
		return nil, errors.New("window must be positive")
	}

	since := r.clock.Now().Add(-window).UTC()
	rows, err := r.db.QueryContext(ctx, `
	  SELECT
	    job_type,
	    tenant_scope,
	    count(*)                                       AS total_terminal,
	    count(*) FILTER (WHERE status = 'completed')   AS succeeded,
	    COALESCE(avg(EXTRACT(EPOCH FROM completed_at - started_at))
	      FILTER (WHERE status = 'completed' AND started_at IS NOT NULL), 0) AS avg_seconds,
	    COALESCE(percentile_cont(0.95) WITHIN GROUP (
	        ORDER BY EXTRACT(EPOCH FROM completed_at - started_at))
	      FILTER (WHERE status = 'completed' AND started_at IS NOT NULL), 0) AS p95_seconds
	  FROM jobs
	  WHERE status IN ('completed', 'failed', 'dead_letter')
	    AND completed_at >= $1
	    AND NOT is_deleted
	  GROUP BY job_type, tenant_scope
	  ORDER BY job_type, tenant_scope
	`, since)
	if err != nil {
		return nil, fmt.Errorf("query sla report: %w", err)
	}
	defer rows.Close()

	var reports []model.SLAReport
	for rows.Next() {
		var (
			rep        model.SLAReport
			avgSeconds float64
			p95Seconds float64
		)
		if scanErr := rows.Scan(&rep.Type, &rep.TenantScope, &rep.TotalTerminal, &rep.Succeeded, &avgSeconds, &p95Seconds); scanErr != nil {
			return nil, fmt.Errorf("scan sla row: %w", scanErr)
		}
		rep.Window = window
		if rep.TotalTerminal > 0 {
			rep.SuccessRate = float64(rep.Succeeded) / float64(rep.TotalTerminal)
		}
		rep.AvgDuration = time.Duration(avgSeconds * float64(time.Second))
		rep.P95Duration = time.Duration(p95Seconds * float64(time.Second))
		reports = append(reports, rep)
	}
	if rowsErr := rows.Err(); rowsErr != nil {
		return nil, rowsErr
	}
	return reports, nil
}
