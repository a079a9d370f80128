// Package cohort groups tenants into scheduling segments by service tier and
// derives the time-bucketed deduplication keys that make periodic firings
// idempotent.
package cohort

import (
	"fmt"
	"strings"
	"time"

	"github.com/Valdrix-AI/valdrix-sub000/internal/domain/model"
)

// Tier identifies a tenant segment sharing a scheduling cadence.
//
//nolint:recvcheck // UnmarshalText needs pointer receiver, Valid needs value receiver
type Tier string

const (
	// TierEnterprise covers high-value tenants swept most frequently.
	TierEnterprise Tier = "enterprise"
	// TierActive covers tenants with recent activity.
	TierActive Tier = "active"
	// TierDormant covers tenants without recent activity.
	TierDormant Tier = "dormant"
)

// Valid returns true if the tier is a member of the closed enumeration.
func (t Tier) Valid() bool {
	return t == TierEnterprise || t == TierActive || t == TierDormant
}

// UnmarshalText implements encoding.TextUnmarshaler for env parsing.
func (t *Tier) UnmarshalText(text []byte) error {
	v := Tier(strings.ToLower(strings.TrimSpace(string(text))))
	if !v.Valid() {
		return fmt.Errorf("invalid tier: %q", string(text))
	}
	*t = v
	return nil
}

// AllTiers returns every tier, highest value first.
func AllTiers() []Tier {
	return []Tier{TierEnterprise, TierActive, TierDormant}
}

// Cadence returns how often a tier's sweep fires. The cadence doubles as the
// dedup bucket width, so re-running a firing within one cadence window is a
// no-op.
func (t Tier) Cadence() time.Duration {
	switch t {
	case TierEnterprise:
		return 6 * time.Hour
	case TierDormant:
		return 7 * 24 * time.Hour
	default:
		return 24 * time.Hour
	}
}

// SweepJobTypes returns the job types a cohort firing enqueues per member.
func (t Tier) SweepJobTypes() []model.JobType {
	switch t {
	case TierEnterprise:
		return []model.JobType{model.JobTypeCostIngestion, model.JobTypeResourceScan}
	case TierActive:
		return []model.JobType{model.JobTypeCostIngestion, model.JobTypeResourceScan}
	default:
		return []model.JobType{model.JobTypeCostIngestion}
	}
}

// Bucket truncates now to the tier's cadence window. All firings within one
// window share a bucket and therefore a dedup key.
func (t Tier) Bucket(now time.Time) int64 {
	width := int64(t.Cadence() / time.Second)
	if width <= 0 {
		return now.Unix()
	}
	return now.Unix() / width
}

// DedupKey derives the idempotent deduplication key for one (tenant, type)
// pair in the bucket containing now.
func (t Tier) DedupKey(tenantID string, jobType model.JobType, now time.Time) string {
	return fmt.Sprintf("%s:%s:%d", tenantID, jobType, t.Bucket(now))
}

// Member is a cohort member selected for a firing.
type Member struct {
	TenantID string
	Name     string
	Tier     Tier
}
