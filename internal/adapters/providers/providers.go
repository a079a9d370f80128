// Package providers holds the default implementations of the provider-facing
// execution ports. These are wiring stubs: deployments replace them with
// real cloud and payment integrations.
package providers

import (
	"context"
	"log/slog"

	"github.com/Valdrix-AI/valdrix-sub000/internal/domain/model"
)

// NoopCostExportFetcher reports an already-exhausted export.
type NoopCostExportFetcher struct {
	Logger *slog.Logger
}

func (f *NoopCostExportFetcher) FetchPage(ctx context.Context, p model.CostIngestionPayload, cursor string) (int, string, error) {
	if f.Logger != nil {
		f.Logger.DebugContext(ctx, "noop cost export fetch",
			"provider", p.Provider,
			"account_id", p.AccountID,
			"cursor", cursor,
		)
	}
	return 0, "", nil
}

// NoopResourceScanner reports an empty inventory.
type NoopResourceScanner struct {
	Logger *slog.Logger
}

func (s *NoopResourceScanner) Scan(ctx context.Context, p model.ResourceScanPayload, tenantScope string) (int, error) {
	if s.Logger != nil {
		s.Logger.DebugContext(ctx, "noop resource scan",
			"provider", p.Provider,
			"tenant_scope", tenantScope,
		)
	}
	return 0, nil
}

// NoopChargeGateway settles every charge without side effects.
type NoopChargeGateway struct {
	Logger *slog.Logger
}

func (g *NoopChargeGateway) Settle(ctx context.Context, p model.BillingChargePayload) (bool, error) {
	if g.Logger != nil {
		g.Logger.DebugContext(ctx, "noop charge settle", "invoice_id", p.InvoiceID)
	}
	return true, nil
}

// NoopRemediationApplier accepts every action without side effects.
type NoopRemediationApplier struct {
	Logger *slog.Logger
}

func (a *NoopRemediationApplier) Apply(ctx context.Context, p model.RemediationPayload) error {
	if a.Logger != nil {
		a.Logger.DebugContext(ctx, "noop remediation apply",
			"action_id", p.ActionID,
			"resource_id", p.ResourceID,
			"dry_run", p.DryRun,
		)
	}
	return nil
}
