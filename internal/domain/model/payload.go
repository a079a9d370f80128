package model

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Job payloads are schema-free documents in the ledger; each job type pins a
// typed schema that the admission gateway validates before a row is created.

// CostIngestionPayload describes a provider billing export pull.
type CostIngestionPayload struct {
	Provider   string `json:"provider"`
	AccountID  string `json:"account_id"`
	BillingDay string `json:"billing_day,omitempty"`
	// Checkpoint holds the last processed export cursor, persisted
	// mid-execution so a dead-lettered run remains inspectable.
	Checkpoint string `json:"checkpoint,omitempty"`
}

// ResourceScanPayload describes a resource inventory sweep.
type ResourceScanPayload struct {
	Provider string   `json:"provider"`
	Regions  []string `json:"regions,omitempty"`
}

// BillingChargePayload describes a usage charge settlement.
type BillingChargePayload struct {
	InvoiceID string `json:"invoice_id"`
	AmountUSD string `json:"amount_usd"`
}

// RemediationPayload describes a saved remediation action to apply.
type RemediationPayload struct {
	ActionID   string `json:"action_id"`
	ResourceID string `json:"resource_id"`
	DryRun     bool   `json:"dry_run,omitempty"`
}

// ValidatePayload checks that raw conforms to the payload schema for the
// given job type. Unknown fields are tolerated; required fields are not.
func ValidatePayload(jobType JobType, raw json.RawMessage) error {
	switch jobType {
	case JobTypeCostIngestion:
		var p CostIngestionPayload
		if err := json.Unmarshal(raw, &p); err != nil {
			return fmt.Errorf("decode %s payload: %w", jobType, err)
		}
		return requireFields(map[string]string{
			"provider":   p.Provider,
			"account_id": p.AccountID,
		})
	case JobTypeResourceScan:
		var p ResourceScanPayload
		if err := json.Unmarshal(raw, &p); err != nil {
			return fmt.Errorf("decode %s payload: %w", jobType, err)
		}
		return requireFields(map[string]string{"provider": p.Provider})
	case JobTypeBillingCharge:
		var p BillingChargePayload
		if err := json.Unmarshal(raw, &p); err != nil {
			return fmt.Errorf("decode %s payload: %w", jobType, err)
		}
		return requireFields(map[string]string{
			"invoice_id": p.InvoiceID,
			"amount_usd": p.AmountUSD,
		})
	case JobTypeRemediation:
		var p RemediationPayload
		if err := json.Unmarshal(raw, &p); err != nil {
			return fmt.Errorf("decode %s payload: %w", jobType, err)
		}
		return requireFields(map[string]string{
			"action_id":   p.ActionID,
			"resource_id": p.ResourceID,
		})
	case JobTypeWebhookEvent:
		var p WebhookPayload
		if err := json.Unmarshal(raw, &p); err != nil {
			return fmt.Errorf("decode %s payload: %w", jobType, err)
		}
		return p.Validate()
	default:
		return fmt.Errorf("unknown job type: %q", jobType)
	}
}

func requireFields(fields map[string]string) error {
	for name, value := range fields {
		if strings.TrimSpace(value) == "" {
			return fmt.Errorf("%s is required", name)
		}
	}
	return nil
}
