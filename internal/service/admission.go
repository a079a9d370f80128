// Package service implements the business logic layered over the
// repositories: admission, execution supervision, cohort scheduling, webhook
// intake, reaping, and SLA aggregation.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/Valdrix-AI/valdrix-sub000/internal/core"
	"github.com/Valdrix-AI/valdrix-sub000/internal/domain/model"
	apperrors "github.com/Valdrix-AI/valdrix-sub000/internal/errors"
	"github.com/Valdrix-AI/valdrix-sub000/internal/observability/metrics"
	"github.com/Valdrix-AI/valdrix-sub000/internal/observability/statsd"
)

// AdmissionServiceOptions groups dependencies for AdmissionService.
type AdmissionServiceOptions struct {
	Repo    core.JobRepository // Required
	Logger  *slog.Logger       // Optional
	Metrics statsd.Sink        // Optional
	Clock   func() time.Time   // Optional, defaults to time.Now
}

// AdmissionService is the single entry point for putting work into the
// ledger. Admission is idempotent: re-submitting a dedup key held by a live
// job returns that job instead of creating a second one.
type AdmissionService struct {
	repo    core.JobRepository
	logger  *slog.Logger
	metrics statsd.Sink
	now     func() time.Time
}

// NewAdmissionService constructs an AdmissionService.
func NewAdmissionService(opts AdmissionServiceOptions) (*AdmissionService, error) {
	if opts.Repo == nil {
		return nil, errors.New("JobRepository is required")
	}
	var logger *slog.Logger
	if opts.Logger != nil {
		logger = opts.Logger.With("component", "admission_service")
	}
	now := opts.Clock
	if now == nil {
		now = time.Now
	}
	return &AdmissionService{
		repo:    opts.Repo,
		logger:  logger,
		metrics: opts.Metrics,
		now:     now,
	}, nil
}

// Enqueue validates and admits a job. The returned result reports whether
// the request created a new row or landed on an existing one.
func (s *AdmissionService) Enqueue(ctx context.Context, req model.EnqueueRequest) (*core.EnqueueResult, error) {
	if err := req.Validate(); err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrCodeValidation, "invalid enqueue request")
	}
	if err := model.ValidatePayload(req.Type, req.Payload); err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrCodeValidation, "invalid payload")
	}
	if req.DedupKey == "" {
		req.DedupKey = defaultDedupKey(&req, s.now())
	}

	res, err := s.repo.Enqueue(ctx, req)
	if err != nil {
		s.emit(string(req.Type), metrics.ResultError, err)
		return nil, err
	}

	if res.Duplicate {
		if s.logger != nil {
			s.logger.DebugContext(ctx, "duplicate admission collapsed",
				"job_type", req.Type,
				"dedup_key", req.DedupKey,
			)
		}
		s.emit(string(req.Type), metrics.ResultNoop, nil)
		return res, nil
	}

	if s.logger != nil {
		s.logger.InfoContext(ctx, "job admitted",
			"job_id", res.Job.ID,
			"job_type", req.Type,
			"tenant_scope", req.Scope(),
		)
	}
	s.emit(string(req.Type), metrics.ResultSuccess, nil)
	return res, nil
}

// defaultDedupKey pins a keyless request to its tenant, type, and scheduled
// second, so blind re-submissions of the same work collapse onto one row.
func defaultDedupKey(req *model.EnqueueRequest, now time.Time) string {
	at := now
	if req.ScheduledFor != nil && !req.ScheduledFor.IsZero() {
		at = *req.ScheduledFor
	}
	return fmt.Sprintf("%s:%s:%d", req.Scope(), req.Type, at.UTC().Unix())
}

// GetJob returns a ledger row by ID.
func (s *AdmissionService) GetJob(ctx context.Context, id string) (*model.Job, error) {
	return s.repo.GetByID(ctx, id)
}

// Cancel soft-deletes a non-running job, releasing its dedup key.
func (s *AdmissionService) Cancel(ctx context.Context, id string) error {
	if err := s.repo.SoftDelete(ctx, id); err != nil {
		return err
	}
	if s.logger != nil {
		s.logger.InfoContext(ctx, "job cancelled", "job_id", id)
	}
	return nil
}

func (s *AdmissionService) emit(jobType, result string, err error) {
	metrics.EmitJobLifecycle(s.metrics, metrics.JobMetric{
		JobType:    jobType,
		Transition: "admitted",
		Result:     result,
		Err:        err,
	})
}
