package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/Valdrix-AI/valdrix-sub000/config"
	"github.com/Valdrix-AI/valdrix-sub000/internal/core"
	"github.com/Valdrix-AI/valdrix-sub000/internal/domain/model"
	apperrors "github.com/Valdrix-AI/valdrix-sub000/internal/errors"
	"github.com/Valdrix-AI/valdrix-sub000/internal/observability/metrics"
	"github.com/Valdrix-AI/valdrix-sub000/internal/observability/statsd"
)

// SupervisorServiceOptions groups dependencies for SupervisorService.
type SupervisorServiceOptions struct {
	Repo    core.JobRepository      // Required
	Config  config.SupervisorConfig // Required
	Logger  *slog.Logger            // Optional
	Metrics statsd.Sink             // Optional
	Clock   func() time.Time        // Optional, defaults to time.Now
}

// SupervisorService owns the execution outcome state machine. It runs a
// claimed job under the hard deadline and translates the handler's outcome
// into exactly one ledger transition:
//
//   - success: completed with the handler's result
//   - deadline exceeded: dead_letter, no retry
//   - fatal error: dead_letter, no retry, error surfaced to the caller
//   - anything else: attempts+1, back to pending with exponential backoff,
//     or dead_letter once the attempt budget is spent
type SupervisorService struct {
	repo    core.JobRepository
	cfg     config.SupervisorConfig
	logger  *slog.Logger
	metrics statsd.Sink
	now     func() time.Time
}

// NewSupervisorService constructs a SupervisorService.
func NewSupervisorService(opts SupervisorServiceOptions) (*SupervisorService, error) {
	if opts.Repo == nil {
		return nil, errors.New("JobRepository is required")
	}
	opts.Config.Sanitize()

	var logger *slog.Logger
	if opts.Logger != nil {
		logger = opts.Logger.With("component", "supervisor_service")
	}
	now := opts.Clock
	if now == nil {
		now = time.Now
	}
	return &SupervisorService{
		repo:    opts.Repo,
		cfg:     opts.Config,
		logger:  logger,
		metrics: opts.Metrics,
		now:     now,
	}, nil
}

// Execute runs one claimed job to a terminal or retried state. The returned
// error is non-nil only for fatal handler errors and for ledger update
// failures; retriable failures and timeouts are fully absorbed here.
func (s *SupervisorService) Execute(ctx context.Context, job *model.Job, handler core.Handler) error {
	if job == nil {
		return errors.New("job is required")
	}
	if handler == nil {
		return s.deadLetter(ctx, job, apperrors.Fatalf("no handler for job type %s", job.Type))
	}

	start := s.now()
	execCtx, cancel := context.WithTimeout(ctx, s.cfg.ExecutionTimeout)
	defer cancel()

	result, execErr := s.runHandler(execCtx, job, handler)
	elapsed := s.now().Sub(start)

	switch {
	case execErr == nil:
		return s.complete(ctx, job, result, elapsed)

	case execCtx.Err() != nil && errors.Is(execCtx.Err(), context.DeadlineExceeded):
		timeoutErr := apperrors.Wrapf(execErr, apperrors.ErrCodeTimeout,
			"exceeded %s execution timeout", s.cfg.ExecutionTimeout)
		return s.deadLetterQuiet(ctx, job, timeoutErr, elapsed)

	case apperrors.IsFatal(execErr):
		if err := s.deadLetterQuiet(ctx, job, execErr, elapsed); err != nil {
			return err
		}
		return execErr

	default:
		return s.retry(ctx, job, execErr, elapsed)
	}
}

// runHandler invokes the handler, converting a panic into a fatal error so
// a misbehaving handler cannot take down the worker without a ledger trace.
func (s *SupervisorService) runHandler(ctx context.Context, job *model.Job, handler core.Handler) (result []byte, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = apperrors.Fatalf("handler panic: %v", r)
		}
	}()
	return handler.Execute(ctx, job)
}

func (s *SupervisorService) complete(ctx context.Context, job *model.Job, result []byte, elapsed time.Duration) error {
	if err := s.repo.Complete(ctx, job.ID, result); err != nil {
		if apperrors.IsNotFound(err) {
			s.leaseLost(ctx, job, "complete", err)
			return nil
		}
		return fmt.Errorf("complete job %s: %w", job.ID, err)
	}
	if s.logger != nil {
		s.logger.InfoContext(ctx, "job completed",
			"job_id", job.ID,
			"job_type", job.Type,
			"elapsed", elapsed,
		)
	}
	s.emit(job, "completed", metrics.ResultSuccess, elapsed, nil)
	return nil
}

func (s *SupervisorService) retry(ctx context.Context, job *model.Job, execErr error, elapsed time.Duration) error {
	notifyAt := s.now().Add(s.backoff(job.Attempts))
	updated, err := s.repo.FailForRetry(ctx, core.FailForRetryParams{
		ID:       job.ID,
		Reason:   execErr.Error(),
		NotifyAt: notifyAt,
	})
	if err != nil {
		if apperrors.IsNotFound(err) {
			s.leaseLost(ctx, job, "retry", err)
			return nil
		}
		return fmt.Errorf("fail job %s: %w", job.ID, err)
	}

	transition := "retried"
	if updated.Status == model.JobStatusDeadLetter {
		transition = "dead_lettered"
	}
	if s.logger != nil {
		s.logger.WarnContext(ctx, "job attempt failed",
			"job_id", job.ID,
			"job_type", job.Type,
			"attempts", updated.Attempts,
			"max_attempts", updated.MaxAttempts,
			"status", updated.Status,
			"error", execErr,
		)
	}
	s.emit(job, transition, metrics.ResultError, elapsed, execErr)
	return nil
}

// deadLetterQuiet parks the job and absorbs ledger success; only the ledger
// update error propagates.
func (s *SupervisorService) deadLetterQuiet(ctx context.Context, job *model.Job, cause error, elapsed time.Duration) error {
	if err := s.repo.DeadLetter(ctx, job.ID, cause.Error()); err != nil {
		if apperrors.IsNotFound(err) {
			s.leaseLost(ctx, job, "dead_letter", err)
			return nil
		}
		return fmt.Errorf("dead letter job %s: %w", job.ID, err)
	}
	if s.logger != nil {
		s.logger.ErrorContext(ctx, "job dead lettered",
			"job_id", job.ID,
			"job_type", job.Type,
			"error", cause,
		)
	}
	s.emit(job, "dead_lettered", metrics.ResultError, elapsed, cause)
	return nil
}

func (s *SupervisorService) deadLetter(ctx context.Context, job *model.Job, cause error) error {
	if err := s.deadLetterQuiet(ctx, job, cause, 0); err != nil {
		return err
	}
	return cause
}

// leaseLost absorbs a terminal transition that found no running row. The
// reaper already force-failed the job while this worker was executing; the
// ledger outcome stands and the worker moves on to the next claim.
func (s *SupervisorService) leaseLost(ctx context.Context, job *model.Job, transition string, err error) {
	if s.logger != nil {
		s.logger.WarnContext(ctx, "job no longer running, dropping outcome",
			"job_id", job.ID,
			"job_type", job.Type,
			"transition", transition,
			"error", err,
		)
	}
	s.emit(job, "lease_lost", metrics.ResultError, 0, err)
}

// backoff returns the delay before the next attempt, doubling per completed
// attempt and capped by configuration.
func (s *SupervisorService) backoff(attempts int) time.Duration {
	delay := s.cfg.RetryBackoffBase
	for i := 0; i < attempts; i++ {
		delay *= 2
		if delay >= s.cfg.RetryBackoffCap {
			return s.cfg.RetryBackoffCap
		}
	}
	return delay
}

func (s *SupervisorService) emit(job *model.Job, transition, result string, elapsed time.Duration, err error) {
	metrics.EmitJobLifecycle(s.metrics, metrics.JobMetric{
		JobType:    string(job.Type),
		Transition: transition,
		Result:     result,
		Duration:   elapsed,
		Err:        err,
	})
}
