package service

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/Valdrix-AI/valdrix-sub000/internal/core"
	"github.com/Valdrix-AI/valdrix-sub000/internal/domain/cohort"
	"github.com/Valdrix-AI/valdrix-sub000/internal/domain/model"
	apperrors "github.com/Valdrix-AI/valdrix-sub000/internal/errors"
)

// mockJobRepo is a hand-rolled JobRepository mock recording calls and
// returning configured results.
type mockJobRepo struct {
	mu sync.Mutex

	enqueueCalls  []model.EnqueueRequest
	enqueueResult *core.EnqueueResult
	enqueueErr    error

	claimJobs []*model.Job
	claimErr  error

	completeIDs     []string
	completeResults [][]byte
	completeErr     error

	failParams []core.FailForRetryParams
	failResult *model.Job
	failErr    error

	deadLetterIDs     []string
	deadLetterReasons []string
	deadLetterErr     error

	checkpoints map[string][]byte

	jobsByID       map[string]*model.Job
	jobsByDedupKey map[string]*model.Job

	softDeletedIDs []string
	softDeleteErr  error

	staleCount   int64
	staleErr     error
	deletedCount int64
	deletedErr   error

	backlog    []model.BacklogStats
	backlogErr error
	slaReports []model.SLAReport
	slaErr     error
}

func (m *mockJobRepo) Enqueue(_ context.Context, req model.EnqueueRequest) (*core.EnqueueResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.enqueueCalls = append(m.enqueueCalls, req)
	if m.enqueueErr != nil {
		return nil, m.enqueueErr
	}
	if m.enqueueResult != nil {
		return m.enqueueResult, nil
	}
	job := &model.Job{
		ID:          "job-" + req.DedupKey,
		TenantScope: req.Scope(),
		Type:        req.Type,
		Status:      model.JobStatusPending,
		Payload:     req.Payload,
		MaxAttempts: req.EffectiveMaxAttempts(),
		DedupKey:    req.DedupKey,
	}
	return &core.EnqueueResult{Job: job}, nil
}

func (m *mockJobRepo) ClaimBatch(_ context.Context, _ []model.JobType, _ int) ([]*model.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.claimErr != nil {
		return nil, m.claimErr
	}
	jobs := m.claimJobs
	m.claimJobs = nil
	return jobs, nil
}

func (m *mockJobRepo) Complete(_ context.Context, id string, result []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.completeIDs = append(m.completeIDs, id)
	m.completeResults = append(m.completeResults, result)
	return m.completeErr
}

func (m *mockJobRepo) FailForRetry(_ context.Context, p core.FailForRetryParams) (*model.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failParams = append(m.failParams, p)
	if m.failErr != nil {
		return nil, m.failErr
	}
	if m.failResult != nil {
		return m.failResult, nil
	}
	return &model.Job{ID: p.ID, Status: model.JobStatusPending, Attempts: 1, MaxAttempts: 3}, nil
}

func (m *mockJobRepo) DeadLetter(_ context.Context, id, reason string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.deadLetterIDs = append(m.deadLetterIDs, id)
	m.deadLetterReasons = append(m.deadLetterReasons, reason)
	return m.deadLetterErr
}

func (m *mockJobRepo) Checkpoint(_ context.Context, id string, checkpoint []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.checkpoints == nil {
		m.checkpoints = make(map[string][]byte)
	}
	m.checkpoints[id] = checkpoint
	return nil
}

func (m *mockJobRepo) GetByID(_ context.Context, id string) (*model.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if job, ok := m.jobsByID[id]; ok {
		return job, nil
	}
	return nil, apperrors.NotFound("job not found")
}

func (m *mockJobRepo) GetByDedupKey(_ context.Context, key string) (*model.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if job, ok := m.jobsByDedupKey[key]; ok {
		return job, nil
	}
	return nil, apperrors.NotFound("job not found")
}

func (m *mockJobRepo) SoftDelete(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.softDeletedIDs = append(m.softDeletedIDs, id)
	return m.softDeleteErr
}

func (m *mockJobRepo) FailStaleRunningJobs(_ context.Context, _ time.Duration) (int64, error) {
	return m.staleCount, m.staleErr
}

func (m *mockJobRepo) DeleteOldJobs(_ context.Context, _ time.Duration) (int64, error) {
	return m.deletedCount, m.deletedErr
}

func (m *mockJobRepo) Backlog(_ context.Context) ([]model.BacklogStats, error) {
	return m.backlog, m.backlogErr
}

func (m *mockJobRepo) SLAReport(_ context.Context, window time.Duration) ([]model.SLAReport, error) {
	if m.slaErr != nil {
		return nil, m.slaErr
	}
	reports := make([]model.SLAReport, len(m.slaReports))
	copy(reports, m.slaReports)
	for i := range reports {
		reports[i].Window = window
	}
	return reports, nil
}

func (m *mockJobRepo) WaitForNotification(ctx context.Context, _ []model.JobType) error {
	<-ctx.Done()
	return ctx.Err()
}

// mockTenantRepo is a hand-rolled TenantRepository mock.
type mockTenantRepo struct {
	mu sync.Mutex

	membersByTier map[cohort.Tier][]*cohort.Member
	dueErr        error

	marked    []string
	markedErr error
}

func (m *mockTenantRepo) SweepDue(ctx context.Context, sweep core.DueSweep) error {
	members, err := m.DueMembers(ctx, sweep.Tier, sweep.Limit)
	if err != nil {
		return err
	}
	if len(members) == 0 {
		return nil
	}
	fired, fireErr := sweep.Fire(ctx, members)
	var errs []error
	if fireErr != nil {
		errs = append(errs, fireErr)
	}
	for _, tenantID := range fired {
		if markErr := m.MarkScheduled(ctx, tenantID, sweep.At); markErr != nil {
			errs = append(errs, markErr)
		}
	}
	return errors.Join(errs...)
}

func (m *mockTenantRepo) DueMembers(_ context.Context, tier cohort.Tier, limit int) ([]*cohort.Member, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.dueErr != nil {
		return nil, m.dueErr
	}
	members := m.membersByTier[tier]
	if len(members) > limit {
		members = members[:limit]
	}
	return members, nil
}

func (m *mockTenantRepo) MarkScheduled(_ context.Context, tenantID string, _ time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.markedErr != nil {
		return m.markedErr
	}
	m.marked = append(m.marked, tenantID)
	return nil
}

// captureHandler is a slog.Handler recording every record for assertions.
type captureHandler struct {
	mu      sync.Mutex
	records []slog.Record
}

func (h *captureHandler) Enabled(context.Context, slog.Level) bool { return true }

func (h *captureHandler) Handle(_ context.Context, r slog.Record) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.records = append(h.records, r)
	return nil
}

func (h *captureHandler) WithAttrs([]slog.Attr) slog.Handler { return h }

func (h *captureHandler) WithGroup(string) slog.Handler { return h }

func (h *captureHandler) all() []slog.Record {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]slog.Record(nil), h.records...)
}

// recordingSink captures emitted metrics for assertions.
type recordingSink struct {
	mu      sync.Mutex
	counts  map[string]int64
	gauges  map[string]float64
	timings map[string]time.Duration
}

func newRecordingSink() *recordingSink {
	return &recordingSink{
		counts:  make(map[string]int64),
		gauges:  make(map[string]float64),
		timings: make(map[string]time.Duration),
	}
}

func (s *recordingSink) Count(name string, value int64, _ map[string]string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.counts[name] += value
}

func (s *recordingSink) Gauge(name string, value float64, _ map[string]string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.gauges[name] = value
}

func (s *recordingSink) Timing(name string, value time.Duration, _ map[string]string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.timings[name] = value
}

func (s *recordingSink) count(name string) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.counts[name]
}
