package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/Valdrix-AI/valdrix-sub000/config"
	"github.com/Valdrix-AI/valdrix-sub000/internal/core"
	"github.com/Valdrix-AI/valdrix-sub000/internal/domain/model"
	"github.com/Valdrix-AI/valdrix-sub000/internal/observability/statsd"
)

// SLAServiceOptions groups dependencies for SLAService.
type SLAServiceOptions struct {
	Repo    core.JobRepository // Required
	Config  config.SLAConfig   // Required
	Redis   *redis.Client      // Optional: snapshot cache
	TTL     time.Duration      // Optional: snapshot TTL, defaults to 5m
	Logger  *slog.Logger       // Optional
	Metrics statsd.Sink        // Optional
}

// SLAService aggregates backlog depth and delivery statistics. Reports are
// cached in Redis because the window scan is the most expensive query in
// the system and dashboards poll it aggressively.
type SLAService struct {
	repo    core.JobRepository
	cfg     config.SLAConfig
	redis   *redis.Client
	ttl     time.Duration
	logger  *slog.Logger
	metrics statsd.Sink
}

// NewSLAService constructs an SLAService.
func NewSLAService(opts SLAServiceOptions) (*SLAService, error) {
	if opts.Repo == nil {
		return nil, errors.New("JobRepository is required")
	}
	opts.Config.Sanitize()

	ttl := opts.TTL
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	var logger *slog.Logger
	if opts.Logger != nil {
		logger = opts.Logger.With("component", "sla_service")
	}
	return &SLAService{
		repo:    opts.Repo,
		cfg:     opts.Config,
		redis:   opts.Redis,
		ttl:     ttl,
		logger:  logger,
		metrics: opts.Metrics,
	}, nil
}

// Backlog returns current queue depth per job type and emits it as gauges.
func (s *SLAService) Backlog(ctx context.Context) ([]model.BacklogStats, error) {
	stats, err := s.repo.Backlog(ctx)
	if err != nil {
		return nil, fmt.Errorf("backlog: %w", err)
	}
	if s.metrics != nil {
		for _, st := range stats {
			tags := map[string]string{"job_type": string(st.Type)}
			s.metrics.Gauge("backlog.pending", float64(st.Pending), tags)
			s.metrics.Gauge("backlog.running", float64(st.Running), tags)
			s.metrics.Gauge("backlog.dead_letter", float64(st.DeadLetter), tags)
			s.metrics.Gauge("backlog.oldest_pending_seconds", st.OldestPendingAge.Seconds(), tags)
		}
	}
	return stats, nil
}

// Report returns per (type, tenant) SLA statistics over the configured
// window, served from the snapshot cache when fresh.
func (s *SLAService) Report(ctx context.Context) ([]model.SLAReport, error) {
	if cached, ok := s.cachedReport(ctx); ok {
		return cached, nil
	}

	reports, err := s.repo.SLAReport(ctx, s.cfg.Window)
	if err != nil {
		return nil, fmt.Errorf("sla report: %w", err)
	}
	for i := range reports {
		reports[i].TargetRate = s.cfg.TargetRate
		reports[i].MeetsTarget = reports[i].SuccessRate >= s.cfg.TargetRate
	}

	s.storeReport(ctx, reports)
	return reports, nil
}

func (s *SLAService) cacheKey() string {
	return fmt.Sprintf("sla:report:%s", s.cfg.Window)
}

// cachedReport reads the snapshot. Redis being down degrades to a direct
// query, never an error.
func (s *SLAService) cachedReport(ctx context.Context) ([]model.SLAReport, bool) {
	if s.redis == nil {
		return nil, false
	}
	raw, err := s.redis.Get(ctx, s.cacheKey()).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) && s.logger != nil {
			s.logger.DebugContext(ctx, "sla cache read failed", "error", err)
		}
		return nil, false
	}
	var reports []model.SLAReport
	if err := json.Unmarshal(raw, &reports); err != nil {
		if s.logger != nil {
			s.logger.WarnContext(ctx, "sla cache snapshot corrupt, recomputing", "error", err)
		}
		return nil, false
	}
	return reports, true
}

func (s *SLAService) storeReport(ctx context.Context, reports []model.SLAReport) {
	if s.redis == nil {
		return
	}
	raw, err := json.Marshal(reports)
	if err != nil {
		return
	}
	if err := s.redis.Set(ctx, s.cacheKey(), raw, s.ttl).Err(); err != nil && s.logger != nil {
		s.logger.DebugContext(ctx, "sla cache write failed", "error", err)
	}
}
