package service

import (
	"context"
	"crypto/rand"
	"encoding/binary"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/Valdrix-AI/valdrix-sub000/config"
	"github.com/Valdrix-AI/valdrix-sub000/internal/core"
	"github.com/Valdrix-AI/valdrix-sub000/internal/observability/statsd"
)

// ReaperServiceOptions groups dependencies for ReaperService.
type ReaperServiceOptions struct {
	Repo    core.JobRepository  // Required
	Config  config.ReaperConfig // Required
	Logger  *slog.Logger        // Optional
	Metrics statsd.Sink         // Optional
}

// ReaperService restores liveness invariants the workers cannot uphold on
// their own:
//   - running jobs whose worker died are force-failed past the liveness
//     horizon
//   - terminal jobs past retention are purged to bound table growth
type ReaperService struct {
	repo    core.JobRepository
	cfg     config.ReaperConfig
	logger  *slog.Logger
	metrics statsd.Sink
}

// NewReaperService constructs a ReaperService.
func NewReaperService(opts ReaperServiceOptions) (*ReaperService, error) {
	if opts.Repo == nil {
		return nil, errors.New("JobRepository is required")
	}
	opts.Config.Sanitize()

	var logger *slog.Logger
	if opts.Logger != nil {
		logger = opts.Logger.With("component", "reaper_service")
	}
	return &ReaperService{
		repo:    opts.Repo,
		cfg:     opts.Config,
		logger:  logger,
		metrics: opts.Metrics,
	}, nil
}

// Run sweeps at the configured interval until the context is cancelled.
// Returns nil on graceful shutdown.
func (s *ReaperService) Run(ctx context.Context) error {
	if s.logger != nil {
		s.logger.InfoContext(ctx, "starting reaper service",
			"interval", s.cfg.Interval,
			"liveness_horizon", s.cfg.LivenessHorizon,
			"retention", s.cfg.Retention,
		)
	}

	// Jitter spreads instances started together so one wins the advisory
	// lock cleanly instead of all colliding on the same tick.
	s.waitWithJitter(ctx)

	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()

	if err := s.Sweep(ctx); err != nil && !isContextCancellation(err) {
		s.logSweepError(ctx, err)
	}

	for {
		select {
		case <-ctx.Done():
			if s.logger != nil {
				s.logger.InfoContext(ctx, "reaper service stopping", "reason", ctx.Err())
			}
			if errors.Is(ctx.Err(), context.Canceled) {
				return nil
			}
			return ctx.Err()
		case <-ticker.C:
			if err := s.Sweep(ctx); err != nil && !isContextCancellation(err) {
				s.logSweepError(ctx, err)
			}
		}
	}
}

func (s *ReaperService) waitWithJitter(ctx context.Context) {
	maxJitter := int64(s.cfg.Interval / 10)
	if maxJitter <= 0 {
		return
	}

	var buf [8]byte
	if _, err := rand.Read(buf[:]); err != nil {
		if s.logger != nil {
			s.logger.WarnContext(ctx, "failed to generate jitter, skipping", "error", err)
		}
		return
	}
	jitterNanos := binary.BigEndian.Uint64(buf[:]) % uint64(maxJitter)
	jitter := time.Duration(int64(jitterNanos)) // #nosec G115 - bounded by maxJitter which is int64

	select {
	case <-time.After(jitter):
	case <-ctx.Done():
	}
}

// Sweep runs both cleanup steps once. A sweep skipped because another
// instance holds the advisory lock is not an error.
func (s *ReaperService) Sweep(ctx context.Context) error {
	start := time.Now()
	var errs []error

	reaped, err := s.repo.FailStaleRunningJobs(ctx, s.cfg.LivenessHorizon)
	if err != nil {
		errs = append(errs, fmt.Errorf("fail stale running jobs: %w", err))
	}
	s.emitStep(ctx, "reaped_running", reaped, err)

	purged, err := s.repo.DeleteOldJobs(ctx, s.cfg.Retention)
	if err != nil {
		errs = append(errs, fmt.Errorf("delete old jobs: %w", err))
	}
	s.emitStep(ctx, "purged_terminal", purged, err)

	if s.metrics != nil {
		s.metrics.Timing("reaper.sweep_duration", time.Since(start), nil)
	}
	return errors.Join(errs...)
}

// emitStep logs and counts one sweep step. count -1 means another instance
// held the lock. Reaped running jobs mean a worker died mid-execution, so
// that step alerts at error severity.
func (s *ReaperService) emitStep(ctx context.Context, step string, count int64, err error) {
	if err != nil || count < 0 {
		return
	}
	if count > 0 && s.logger != nil {
		if step == "reaped_running" {
			s.logger.ErrorContext(ctx, "force-failed stale running jobs", "count", count)
		} else {
			s.logger.InfoContext(ctx, "reaper step finished", "step", step, "count", count)
		}
	}
	if s.metrics != nil {
		s.metrics.Count("reaper."+step, count, nil)
	}
}

func (s *ReaperService) logSweepError(ctx context.Context, err error) {
	if s.logger != nil {
		s.logger.ErrorContext(ctx, "reaper sweep failed", "error", err)
	}
}

// isContextCancellation reports whether err is rooted in context
// cancellation or deadline expiry.
func isContextCancellation(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}
