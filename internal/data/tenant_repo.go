package data

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/Valdrix-AI/valdrix-sub000/internal/core"
	"github.com/Valdrix-AI/valdrix-sub000/internal/data/pgxutil"
	"github.com/Valdrix-AI/valdrix-sub000/internal/domain/cohort"
)

// TenantRepo persists cohort membership for the scheduler.
type TenantRepo struct {
	db    *sql.DB
	clock TimeProvider
}

// NewTenantRepo builds a TenantRepo on the shared pool. A nil clock defaults
// to the real clock.
func NewTenantRepo(db *sql.DB, clock TimeProvider) *TenantRepo {
	if clock == nil {
		clock = RealTimeProvider{}
	}
	return &TenantRepo{db: db, clock: clock}
}

const dueMembersQuery = `
	SELECT id, name, tier
	FROM tenants
	WHERE tier = $1
	  AND NOT is_deleted
	  AND (last_scheduled_at IS NULL OR last_scheduled_at <= $2)
	ORDER BY last_scheduled_at ASC NULLS FIRST
	LIMIT $3
	FOR UPDATE SKIP LOCKED
`

type querier interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

// SweepDue runs one cohort firing inside a transaction. Due members are
// selected FOR UPDATE SKIP LOCKED and stay locked while sweep.Fire admits
// their jobs, so a concurrent scheduler instance skips them instead of
// firing them twice. The tenant IDs Fire returns are stamped as scheduled
// in the same transaction; Fire's own error is reported after the stamps
// commit.
func (r *TenantRepo) SweepDue(ctx context.Context, sweep core.DueSweep) error {
	if !sweep.Tier.Valid() {
		return fmt.Errorf("invalid tier: %s", sweep.Tier)
	}
	if sweep.Limit <= 0 {
		return errors.New("limit must be positive")
	}
	if sweep.Fire == nil {
		return errors.New("fire callback is required")
	}

	cutoff := r.clock.Now().Add(-sweep.Tier.Cadence()).UTC()
	var fireErr error
	txErr := pgxutil.WithSQLTx(ctx, r.db, pgxutil.SQLTxConfig{Fn: func(tx *sql.Tx) error {
		members, err := r.scanDueMembers(ctx, tx, sweep.Tier, cutoff, sweep.Limit)
		if err != nil {
			return err
		}
		if len(members) == 0 {
			return nil
		}

		fired, err := sweep.Fire(ctx, members)
		fireErr = err
		for _, tenantID := range fired {
			if markErr := r.markScheduledTx(ctx, tx, tenantID, sweep.At); markErr != nil {
				return markErr
			}
		}
		return nil
	}})
	return errors.Join(txErr, fireErr)
}

// DueMembers returns tenants of the given tier whose last sweep is at least
// one cadence old. Rows locked by an in-flight SweepDue are skipped.
func (r *TenantRepo) DueMembers(ctx context.Context, tier cohort.Tier, limit int) ([]*cohort.Member, error) {
	if !tier.Valid() {
		return nil, fmt.Errorf("invalid tier: %s", tier)
	}
	if limit <= 0 {
		return nil, errors.New("limit must be positive")
	}

	cutoff := r.clock.Now().Add(-tier.Cadence()).UTC()
	return r.scanDueMembers(ctx, r.db, tier, cutoff, limit)
}

func (r *TenantRepo) scanDueMembers(
	ctx context.Context,
	q querier,
	tier cohort.Tier,
	cutoff time.Time,
	limit int,
) ([]*cohort.Member, error) {
	rows, err := q.QueryContext(ctx, dueMembersQuery, string(tier), cutoff, limit)
	if err != nil {
		return nil, fmt.Errorf("query due members: %w", err)
	}
	defer rows.Close()

	var members []*cohort.Member
	for rows.Next() {
		var m cohort.Member
		if scanErr := rows.Scan(&m.TenantID, &m.Name, &m.Tier); scanErr != nil {
			return nil, fmt.Errorf("scan member: %w", scanErr)
		}
		members = append(members, &m)
	}
	if rowsErr := rows.Err(); rowsErr != nil {
		return nil, rowsErr
	}
	return members, nil
}

// MarkScheduled records that sweeps were admitted for the tenant, moving it
// out of the due window until the next cadence boundary.
func (r *TenantRepo) MarkScheduled(ctx context.Context, tenantID string, at time.Time) error {
	return r.markScheduledTx(ctx, r.db, tenantID, at)
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func (r *TenantRepo) markScheduledTx(ctx context.Context, e execer, tenantID string, at time.Time) error {
	res, err := e.ExecContext(ctx, `
		UPDATE tenants
		SET last_scheduled_at = $2,
		    updated_at = $3
		WHERE id = $1 AND NOT is_deleted
	`, tenantID, at.UTC(), r.clock.Now().UTC())
	if err != nil {
		return fmt.Errorf("mark scheduled: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("mark scheduled rows affected: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("tenant %s not found", tenantID)
	}
	return nil
}
