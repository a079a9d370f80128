// Package model defines the core data types for the valdrix job ledger.
package model

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// TenantScopeGlobal is the sentinel tenant scope for work that is not bound
// to a single tenant (platform-wide sweeps, webhook ingestion).
const TenantScopeGlobal = "global"

// JobType represents the type of background work to be executed.
//
//nolint:recvcheck // UnmarshalText needs pointer receiver, Valid needs value receiver
type JobType string

// JobStatus represents the current state of a ledger row.
type JobStatus string

const (
	// JobTypeCostIngestion pulls provider billing exports into the cost store.
	JobTypeCostIngestion JobType = "cost_ingestion"
	// JobTypeResourceScan inventories cloud resources for a tenant.
	JobTypeResourceScan JobType = "resource_scan"
	// JobTypeBillingCharge settles a usage charge against a tenant.
	JobTypeBillingCharge JobType = "billing_charge"
	// JobTypeRemediation applies a saved remediation action.
	JobTypeRemediation JobType = "remediation"
	// JobTypeWebhookEvent processes a stored external webhook delivery.
	// Reserved for the webhook intake service; see model.WebhookPayload.
	JobTypeWebhookEvent JobType = "webhook_event"

	// JobStatusPending indicates a job is waiting to be claimed.
	JobStatusPending JobStatus = "pending"
	// JobStatusRunning indicates a job is claimed by a worker.
	JobStatusRunning JobStatus = "running"
	// JobStatusCompleted indicates a job finished successfully.
	JobStatusCompleted JobStatus = "completed"
	// JobStatusFailed indicates a job was force-failed (reaper or external trigger).
	JobStatusFailed JobStatus = "failed"
	// JobStatusDeadLetter indicates retries were exhausted or the job timed out.
	JobStatusDeadLetter JobStatus = "dead_letter"
)

// ErrNoJobsAvailable is returned when no jobs are eligible for claiming.
var ErrNoJobsAvailable = errors.New("no jobs available")

// DefaultMaxAttempts is the attempt budget applied when a request does not
// set one.
const DefaultMaxAttempts = 3

// UnmarshalText implements encoding.TextUnmarshaler for JobType to allow env parsing.
func (t *JobType) UnmarshalText(text []byte) error {
	v := strings.ToLower(strings.TrimSpace(string(text)))
	jt := JobType(v)
	if jt.Valid() {
		*t = jt
		return nil
	}
	return fmt.Errorf("invalid JobType: %q", v)
}

// Valid returns true if the JobType is a member of the closed enumeration.
func (t JobType) Valid() bool {
	switch t {
	case JobTypeCostIngestion, JobTypeResourceScan, JobTypeBillingCharge,
		JobTypeRemediation, JobTypeWebhookEvent:
		return true
	default:
		return false
	}
}

// AllJobTypes returns every member of the closed job type enumeration.
func AllJobTypes() []JobType {
	return []JobType{
		JobTypeCostIngestion,
		JobTypeResourceScan,
		JobTypeBillingCharge,
		JobTypeRemediation,
		JobTypeWebhookEvent,
	}
}

// Valid returns true if the JobStatus is valid.
func (s JobStatus) Valid() bool {
	switch s {
	case JobStatusPending, JobStatusRunning, JobStatusCompleted,
		JobStatusFailed, JobStatusDeadLetter:
		return true
	default:
		return false
	}
}

// Terminal reports whether the status is a terminal state. completed_at is
// set if and only if the row is in a terminal state.
func (s JobStatus) Terminal() bool {
	return s == JobStatusCompleted || s == JobStatusFailed || s == JobStatusDeadLetter
}

// Job is a row in the ledger, the single source of truth for work state.
type Job struct {
	ID           string          `json:"id"                      db:"id"`
	TenantScope  string          `json:"tenant_scope"            db:"tenant_scope"`
	Type         JobType         `json:"type"                    db:"type"`
	Status       JobStatus       `json:"status"                  db:"status"`
	Payload      json.RawMessage `json:"payload"                 db:"payload"`
	Result       json.RawMessage `json:"result,omitempty"        db:"result"`
	Attempts     int             `json:"attempts"                db:"attempts"`
	MaxAttempts  int             `json:"max_attempts"            db:"max_attempts"`
	DedupKey     string          `json:"dedup_key"               db:"dedup_key"`
	LastError    *string         `json:"last_error,omitempty"    db:"last_error"`
	ScheduledFor time.Time       `json:"scheduled_for"           db:"scheduled_for"`
	StartedAt    *time.Time      `json:"started_at,omitempty"    db:"started_at"`
	CompletedAt  *time.Time      `json:"completed_at,omitempty"  db:"completed_at"`
	IsDeleted    bool            `json:"is_deleted"              db:"is_deleted"`
	CreatedAt    time.Time       `json:"created_at"              db:"created_at"`
	UpdatedAt    time.Time       `json:"updated_at"              db:"updated_at"`
}

// Duration returns the execution duration for a terminal job, or zero when
// the row never started or never finished.
func (j *Job) Duration() time.Duration {
	if j.StartedAt == nil || j.CompletedAt == nil {
		return 0
	}
	return j.CompletedAt.UTC().Sub(j.StartedAt.UTC())
}

// EnqueueRequest represents a request to admit a new job into the ledger.
type EnqueueRequest struct {
	Type        JobType         `json:"type"`
	TenantScope string          `json:"tenant_scope,omitempty"`
	Payload     json.RawMessage `json:"payload"`
	MaxAttempts int             `json:"max_attempts,omitempty"`
	// DedupKey uniquely identifies one logical unit of work. When empty the
	// admission service derives one from tenant, type, and scheduled time.
	DedupKey     string     `json:"dedup_key,omitempty"`
	ScheduledFor *time.Time `json:"scheduled_for,omitempty"`
}

// Validate checks structural constraints on the request. Payload schema
// validation per job type happens in the admission service.
func (r *EnqueueRequest) Validate() error {
	if !r.Type.Valid() {
		return fmt.Errorf("invalid job type: %q", r.Type)
	}
	if len(r.Payload) == 0 {
		return errors.New("payload is required")
	}
	if r.MaxAttempts < 0 {
		return errors.New("max attempts must be >= 0")
	}
	return nil
}

// EffectiveMaxAttempts returns the request's attempt budget, defaulting when
// unset.
func (r *EnqueueRequest) EffectiveMaxAttempts() int {
	if r.MaxAttempts > 0 {
		return r.MaxAttempts
	}
	return DefaultMaxAttempts
}

// Scope returns the request's tenant scope, defaulting to the global sentinel.
func (r *EnqueueRequest) Scope() string {
	if s := strings.TrimSpace(r.TenantScope); s != "" {
		return s
	}
	return TenantScopeGlobal
}

// BacklogStats captures the current queue depth by status for one job type
// plus the age of the oldest pending row, the key backpressure signal.
type BacklogStats struct {
	Type             JobType       `json:"type"`
	Pending          int           `json:"pending"`
	Running          int           `json:"running"`
	Completed        int           `json:"completed"`
	Failed           int           `json:"failed"`
	DeadLetter       int           `json:"dead_letter"`
	OldestPendingAge time.Duration `json:"oldest_pending_age"`
}

// SLAReport aggregates terminal jobs for one (type, tenant) pair over a
// rolling window. Success-rate math covers terminal jobs only so in-flight
// work cannot dilute the rate.
type SLAReport struct {
	Type          JobType       `json:"type"`
	TenantScope   string        `json:"tenant_scope"`
	Window        time.Duration `json:"window"`
	TotalTerminal int           `json:"total_terminal"`
	Succeeded     int           `json:"succeeded"`
	SuccessRate   float64       `json:"success_rate"`
	AvgDuration   time.Duration `json:"avg_duration"`
	P95Duration   time.Duration `json:"p95_duration"`
	TargetRate    float64       `json:"target_rate"`
	MeetsTarget   bool          `json:"meets_target"`
}
