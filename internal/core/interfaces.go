// Package core declares the ports between the service layer and its
// adapters. Services depend on these interfaces, never on concrete
// repositories, so each side can be mocked independently in tests.
package core

import (
	"context"
	"time"

	"github.com/Valdrix-AI/valdrix-sub000/internal/domain/cohort"
	"github.com/Valdrix-AI/valdrix-sub000/internal/domain/model"
)

// EnqueueResult reports whether an admission attempt created a new row or
// collapsed onto an existing one via the dedup key.
type EnqueueResult struct {
	Job       *model.Job
	Duplicate bool
}

// FailForRetryParams carries everything the repository needs to record a
// retriable failure and compute the next attempt window.
type FailForRetryParams struct {
	ID       string
	Reason   string
	NotifyAt time.Time
}

// JobRepository is the persistence port for the job ledger.
type JobRepository interface {
	// Enqueue inserts a job, treating a dedup-key collision as a no-op.
	Enqueue(ctx context.Context, req model.EnqueueRequest) (*EnqueueResult, error)

	// ClaimBatch atomically leases up to limit due pending jobs of the
	// given types, marking them running.
	ClaimBatch(ctx context.Context, types []model.JobType, limit int) ([]*model.Job, error)

	// Complete marks a running job completed and stores its result.
	Complete(ctx context.Context, id string, result []byte) error

	// FailForRetry increments attempts and either reschedules the job or
	// dead-letters it when the attempt budget is exhausted.
	FailForRetry(ctx context.Context, p FailForRetryParams) (*model.Job, error)

	// DeadLetter parks a job permanently regardless of remaining attempts.
	DeadLetter(ctx context.Context, id string, reason string) error

	// Checkpoint persists partial progress on a running job.
	Checkpoint(ctx context.Context, id string, checkpoint []byte) error

	GetByID(ctx context.Context, id string) (*model.Job, error)
	GetByDedupKey(ctx context.Context, dedupKey string) (*model.Job, error)

	// SoftDelete hides a job from queries and releases its dedup key.
	SoftDelete(ctx context.Context, id string) error

	// FailStaleRunningJobs marks running jobs whose lease expired as failed.
	// Returns the number of rows affected, or -1 when another instance
	// holds the sweep lock.
	FailStaleRunningJobs(ctx context.Context, olderThan time.Duration) (int64, error)

	// DeleteOldJobs purges terminal jobs past the retention window.
	DeleteOldJobs(ctx context.Context, retention time.Duration) (int64, error)

	// Backlog reports per-type queue depth and oldest pending age.
	Backlog(ctx context.Context) ([]model.BacklogStats, error)

	// SLAReport computes latency and outcome statistics over a window.
	SLAReport(ctx context.Context, window time.Duration) ([]model.SLAReport, error)

	// WaitForNotification blocks until a job-added notification for one of
	// the given types arrives or the context is done.
	WaitForNotification(ctx context.Context, types []model.JobType) error
}

// DueSweep is one transactional pass over a tier's due members. Fire runs
// while the selected rows are locked; it returns the tenant IDs whose
// sweeps were admitted, and those are stamped as scheduled before the
// transaction commits.
type DueSweep struct {
	Tier  cohort.Tier
	Limit int
	At    time.Time
	Fire  func(ctx context.Context, members []*cohort.Member) ([]string, error)
}

// TenantRepository is the persistence port for cohort membership used by
// the scheduler.
type TenantRepository interface {
	// SweepDue selects due tenants of the tier with FOR UPDATE SKIP
	// LOCKED, so concurrent scheduler instances partition the cohort
	// instead of double-firing it, then invokes Fire under those locks.
	SweepDue(ctx context.Context, sweep DueSweep) error

	// DueMembers returns tenants whose cohort cadence has elapsed since
	// their last scheduled sweep, skipping rows locked by a concurrent
	// sweep.
	DueMembers(ctx context.Context, tier cohort.Tier, limit int) ([]*cohort.Member, error)

	// MarkScheduled records that sweeps were admitted for the tenant.
	MarkScheduled(ctx context.Context, tenantID string, at time.Time) error
}

// Handler executes the business logic for a single job type. Execute
// returns the result payload to store on completion.
type Handler interface {
	Type() model.JobType
	Execute(ctx context.Context, job *model.Job) ([]byte, error)
}

// SignatureVerifier re-verifies webhook signatures at execution time.
type SignatureVerifier interface {
	Verify(provider string, payload []byte, signature string) error
}
