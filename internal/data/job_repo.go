// Package data implements the Postgres-backed repositories. All queries go
// through database/sql with pgx registered as the driver; operations that
// need pgx-native features (LISTEN/NOTIFY, advisory locks) drop down to a
// raw pgx.Conn via pgxutil.
package data

import (
	"database/sql"

	"github.com/google/uuid"

	"github.com/Valdrix-AI/valdrix-sub000/internal/domain/model"
)

const jobColumns = `id, tenant_scope, job_type, status, payload, result,
	attempts, max_attempts, dedup_key, last_error,
	scheduled_for, started_at, completed_at, is_deleted, created_at, updated_at`

// JobRepo persists jobs to Postgres.
type JobRepo struct {
	db    *sql.DB
	clock TimeProvider
}

// NewJobRepo builds a JobRepo. A nil clock defaults to the real clock.
func NewJobRepo(db *sql.DB, clock TimeProvider) *JobRepo {
	if clock == nil {
		clock = RealTimeProvider{}
	}
	return &JobRepo{db: db, clock: clock}
}

// rowScanner covers *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanJob(row rowScanner) (*model.Job, error) {
	var (
		j           model.Job
		payload     []byte
		result      []byte
		dedupKey    sql.NullString
		lastError   sql.NullString
		startedAt   sql.NullTime
		completedAt sql.NullTime
	)
	err := row.Scan(
		&j.ID, &j.TenantScope, &j.Type, &j.Status, &payload, &result,
		&j.Attempts, &j.MaxAttempts, &dedupKey, &lastError,
		&j.ScheduledFor, &startedAt, &completedAt, &j.IsDeleted, &j.CreatedAt, &j.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	j.Payload = payload
	j.Result = result
	j.DedupKey = dedupKey.String
	if lastError.Valid {
		j.LastError = &lastError.String
	}
	if startedAt.Valid {
		t := startedAt.Time
		j.StartedAt = &t
	}
	if completedAt.Valid {
		t := completedAt.Time
		j.CompletedAt = &t
	}
	return &j, nil
}

func jobTypeStrings(types []model.JobType) []string {
	out := make([]string, len(types))
	for i, t := range types {
		out[i] = string(t)
	}
	return out
}

// nullIfEmpty maps an empty string to SQL NULL so the partial unique index
// on dedup_key ignores keyless jobs.
func nullIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func newJobID() string { return uuid.New().String() }

func truncateError(reason string) string {
	const maxLen = 2048
	if len(reason) > maxLen {
		return reason[:maxLen]
	}
	return reason
}
