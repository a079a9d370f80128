package service

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/Valdrix-AI/valdrix-sub000/internal/core"
	"github.com/Valdrix-AI/valdrix-sub000/internal/domain/model"
	apperrors "github.com/Valdrix-AI/valdrix-sub000/internal/errors"
)

// CostIngestionHandler pulls provider billing exports. Progress is
// checkpointed into the job payload so a retried run resumes from the last
// committed cursor instead of re-reading the whole export.
type CostIngestionHandler struct {
	Repo    core.JobRepository
	Fetcher CostExportFetcher
	Logger  *slog.Logger
	Clock   func() time.Time
}

// CostExportFetcher is the provider-facing port for billing export pages.
type CostExportFetcher interface {
	// FetchPage returns the rows after cursor plus the next cursor. An
	// empty next cursor means the export is exhausted.
	FetchPage(ctx context.Context, p model.CostIngestionPayload, cursor string) (rows int, next string, err error)
}

func (h *CostIngestionHandler) Type() model.JobType { return model.JobTypeCostIngestion }

func (h *CostIngestionHandler) Execute(ctx context.Context, job *model.Job) ([]byte, error) {
	var p model.CostIngestionPayload
	if err := json.Unmarshal(job.Payload, &p); err != nil {
		return nil, apperrors.Fatalf("decode cost ingestion payload: %v", err)
	}
	if h.Fetcher == nil {
		return nil, apperrors.Fatalf("cost export fetcher not configured")
	}

	cursor := p.Checkpoint
	totalRows := 0
	for {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		rows, next, err := h.Fetcher.FetchPage(ctx, p, cursor)
		if err != nil {
			return nil, apperrors.Wrapf(err, apperrors.ErrCodeRetriable,
				"fetch export page for %s/%s", p.Provider, p.AccountID)
		}
		totalRows += rows
		if next == "" {
			break
		}
		cursor = next
		if err := h.checkpoint(ctx, job.ID, cursor); err != nil {
			return nil, err
		}
	}

	return json.Marshal(map[string]any{
		"provider":   p.Provider,
		"account_id": p.AccountID,
		"rows":       totalRows,
	})
}

func (h *CostIngestionHandler) checkpoint(ctx context.Context, jobID, cursor string) error {
	raw, err := json.Marshal(cursor)
	if err != nil {
		return fmt.Errorf("marshal checkpoint: %w", err)
	}
	if err := h.Repo.Checkpoint(ctx, jobID, raw); err != nil {
		return fmt.Errorf("persist checkpoint: %w", err)
	}
	if h.Logger != nil {
		h.Logger.DebugContext(ctx, "checkpoint committed", "job_id", jobID, "cursor", cursor)
	}
	return nil
}

// ResourceScanHandler inventories cloud resources for a tenant.
type ResourceScanHandler struct {
	Scanner ResourceScanner
}

// ResourceScanner is the provider-facing port for resource inventory.
type ResourceScanner interface {
	Scan(ctx context.Context, p model.ResourceScanPayload, tenantScope string) (resources int, err error)
}

func (h *ResourceScanHandler) Type() model.JobType { return model.JobTypeResourceScan }

func (h *ResourceScanHandler) Execute(ctx context.Context, job *model.Job) ([]byte, error) {
	var p model.ResourceScanPayload
	if err := json.Unmarshal(job.Payload, &p); err != nil {
		return nil, apperrors.Fatalf("decode resource scan payload: %v", err)
	}
	if h.Scanner == nil {
		return nil, apperrors.Fatalf("resource scanner not configured")
	}
	count, err := h.Scanner.Scan(ctx, p, job.TenantScope)
	if err != nil {
		return nil, apperrors.Wrapf(err, apperrors.ErrCodeRetriable,
			"scan resources for %s", job.TenantScope)
	}
	return json.Marshal(map[string]any{"provider": p.Provider, "resources": count})
}

// BillingChargeHandler settles a usage charge. Charges are not retried on
// ambiguous outcomes: a settlement error from the gateway that may have
// committed is fatal, so a human resolves it instead of a blind retry
// double-charging.
type BillingChargeHandler struct {
	Gateway ChargeGateway
}

// ChargeGateway is the payments-facing port.
type ChargeGateway interface {
	// Settle returns committed=true when the charge definitely reached the
	// processor, even if err is non-nil.
	Settle(ctx context.Context, p model.BillingChargePayload) (committed bool, err error)
}

func (h *BillingChargeHandler) Type() model.JobType { return model.JobTypeBillingCharge }

func (h *BillingChargeHandler) Execute(ctx context.Context, job *model.Job) ([]byte, error) {
	var p model.BillingChargePayload
	if err := json.Unmarshal(job.Payload, &p); err != nil {
		return nil, apperrors.Fatalf("decode billing charge payload: %v", err)
	}
	if h.Gateway == nil {
		return nil, apperrors.Fatalf("charge gateway not configured")
	}
	committed, err := h.Gateway.Settle(ctx, p)
	if err != nil {
		if committed {
			return nil, apperrors.Fatal(err, "charge committed with ambiguous outcome, manual review required")
		}
		return nil, apperrors.Wrapf(err, apperrors.ErrCodeRetriable, "settle invoice %s", p.InvoiceID)
	}
	return json.Marshal(map[string]any{"invoice_id": p.InvoiceID, "amount_usd": p.AmountUSD})
}

// RemediationHandler applies a saved remediation action.
type RemediationHandler struct {
	Applier RemediationApplier
}

// RemediationApplier is the infrastructure-facing port for remediation
// actions.
type RemediationApplier interface {
	Apply(ctx context.Context, p model.RemediationPayload) error
}

func (h *RemediationHandler) Type() model.JobType { return model.JobTypeRemediation }

func (h *RemediationHandler) Execute(ctx context.Context, job *model.Job) ([]byte, error) {
	var p model.RemediationPayload
	if err := json.Unmarshal(job.Payload, &p); err != nil {
		return nil, apperrors.Fatalf("decode remediation payload: %v", err)
	}
	if h.Applier == nil {
		return nil, apperrors.Fatalf("remediation applier not configured")
	}
	if err := h.Applier.Apply(ctx, p); err != nil {
		return nil, apperrors.Wrapf(err, apperrors.ErrCodeRetriable,
			"apply action %s to %s", p.ActionID, p.ResourceID)
	}
	return json.Marshal(map[string]any{
		"action_id":   p.ActionID,
		"resource_id": p.ResourceID,
		"dry_run":     p.DryRun,
	})
}
