package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/Valdrix-AI/valdrix-sub000/config"
	"github.com/Valdrix-AI/valdrix-sub000/internal/core"
	"github.com/Valdrix-AI/valdrix-sub000/internal/domain/cohort"
	"github.com/Valdrix-AI/valdrix-sub000/internal/domain/model"
	"github.com/Valdrix-AI/valdrix-sub000/internal/observability/statsd"
)

// SchedulerServiceOptions groups dependencies for SchedulerService.
type SchedulerServiceOptions struct {
	Tenants   core.TenantRepository  // Required
	Admission *AdmissionService      // Required
	Config    config.SchedulerConfig // Required
	Logger    *slog.Logger           // Optional
	Metrics   statsd.Sink            // Optional
	Clock     func() time.Time       // Optional, defaults to time.Now
}

// SchedulerService fires periodic sweeps per cohort tier. Every firing
// derives a time-bucketed dedup key, so a second scheduler instance or a
// restarted tick re-admitting the same (tenant, type, bucket) is a no-op at
// the ledger.
type SchedulerService struct {
	tenants   core.TenantRepository
	admission *AdmissionService
	cfg       config.SchedulerConfig
	logger    *slog.Logger
	metrics   statsd.Sink
	now       func() time.Time
}

// NewSchedulerService constructs a SchedulerService.
func NewSchedulerService(opts SchedulerServiceOptions) (*SchedulerService, error) {
	if opts.Tenants == nil {
		return nil, errors.New("TenantRepository is required")
	}
	if opts.Admission == nil {
		return nil, errors.New("AdmissionService is required")
	}
	opts.Config.Sanitize()

	var logger *slog.Logger
	if opts.Logger != nil {
		logger = opts.Logger.With("component", "scheduler_service")
	}
	now := opts.Clock
	if now == nil {
		now = time.Now
	}
	return &SchedulerService{
		tenants:   opts.Tenants,
		admission: opts.Admission,
		cfg:       opts.Config,
		logger:    logger,
		metrics:   opts.Metrics,
		now:       now,
	}, nil
}

// Run ticks until the context is cancelled. Returns nil on graceful
// shutdown.
func (s *SchedulerService) Run(ctx context.Context) error {
	if s.logger != nil {
		s.logger.InfoContext(ctx, "starting scheduler service", "interval", s.cfg.Interval)
	}

	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()

	if err := s.Tick(ctx); err != nil && !isContextCancellation(err) {
		s.logTickError(ctx, err)
	}

	for {
		select {
		case <-ctx.Done():
			if s.logger != nil {
				s.logger.InfoContext(ctx, "scheduler service stopping", "reason", ctx.Err())
			}
			if errors.Is(ctx.Err(), context.Canceled) {
				return nil
			}
			return ctx.Err()
		case <-ticker.C:
			if err := s.Tick(ctx); err != nil && !isContextCancellation(err) {
				s.logTickError(ctx, err)
			}
		}
	}
}

// Tick fires all due cohort members once.
func (s *SchedulerService) Tick(ctx context.Context) error {
	var errs []error
	for _, tier := range cohort.AllTiers() {
		fired, err := s.fireTier(ctx, tier)
		if err != nil {
			errs = append(errs, fmt.Errorf("tier %s: %w", tier, err))
		}
		if s.metrics != nil && fired > 0 {
			s.metrics.Count("scheduler.fired", int64(fired), map[string]string{"tier": string(tier)})
		}
	}
	return errors.Join(errs...)
}

// fireTier admits sweeps for the tier's due members. The members stay
// row-locked for the duration of the firing, so two scheduler instances
// racing the same tick partition the cohort between them.
func (s *SchedulerService) fireTier(ctx context.Context, tier cohort.Tier) (int, error) {
	now := s.now()
	fired := 0
	err := s.tenants.SweepDue(ctx, core.DueSweep{
		Tier:  tier,
		Limit: s.cfg.BatchSize,
		At:    now,
		Fire: func(ctx context.Context, members []*cohort.Member) ([]string, error) {
			var errs []error
			var firedIDs []string
			for _, m := range members {
				if ctx.Err() != nil {
					errs = append(errs, ctx.Err())
					break
				}
				if err := s.fireMember(ctx, tier, m, now); err != nil {
					errs = append(errs, fmt.Errorf("tenant %s: %w", m.TenantID, err))
					continue
				}
				fired++
				firedIDs = append(firedIDs, m.TenantID)
			}
			return firedIDs, errors.Join(errs...)
		},
	})
	return fired, err
}

// fireMember admits one sweep job per type for the member. Duplicate
// admissions are counted as firings; the work is already queued.
func (s *SchedulerService) fireMember(ctx context.Context, tier cohort.Tier, m *cohort.Member, now time.Time) error {
	for _, jobType := range tier.SweepJobTypes() {
		payload, err := sweepPayload(m, jobType)
		if err != nil {
			return err
		}
		dedupKey := tier.DedupKey(m.TenantID, jobType, now)

		res, err := s.admission.Enqueue(ctx, model.EnqueueRequest{
			Type:        jobType,
			TenantScope: m.TenantID,
			Payload:     payload,
			MaxAttempts: s.cfg.MaxAttempts,
			DedupKey:    dedupKey,
		})
		if err != nil {
			return fmt.Errorf("enqueue %s: %w", jobType, err)
		}
		if res.Duplicate && s.logger != nil {
			s.logger.DebugContext(ctx, "sweep already queued for bucket",
				"tenant_id", m.TenantID,
				"job_type", jobType,
				"dedup_key", dedupKey,
			)
		}
	}
	return nil
}

func sweepPayload(m *cohort.Member, jobType model.JobType) (json.RawMessage, error) {
	var v any
	switch jobType {
	case model.JobTypeCostIngestion:
		v = model.CostIngestionPayload{
			Provider:  "all",
			AccountID: m.TenantID,
		}
	case model.JobTypeResourceScan:
		v = model.ResourceScanPayload{Provider: "all"}
	default:
		return nil, fmt.Errorf("tier sweep does not cover job type %s", jobType)
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("marshal sweep payload: %w", err)
	}
	return raw, nil
}

func (s *SchedulerService) logTickError(ctx context.Context, err error) {
	if s.logger != nil {
		s.logger.ErrorContext(ctx, "scheduler tick failed", "error", err)
	}
}
