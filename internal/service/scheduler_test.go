package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Valdrix-AI/valdrix-sub000/config"
	"github.com/Valdrix-AI/valdrix-sub000/internal/core"
	"github.com/Valdrix-AI/valdrix-sub000/internal/domain/cohort"
	"github.com/Valdrix-AI/valdrix-sub000/internal/domain/model"
)

func newTestScheduler(t *testing.T, tenants *mockTenantRepo, jobs *mockJobRepo, clock func() time.Time) *SchedulerService {
	t.Helper()
	admission, err := NewAdmissionService(AdmissionServiceOptions{Repo: jobs})
	require.NoError(t, err)
	svc, err := NewSchedulerService(SchedulerServiceOptions{
		Tenants:   tenants,
		Admission: admission,
		Config:    config.SchedulerConfig{BatchSize: 10, MaxAttempts: 3},
		Clock:     clock,
	})
	require.NoError(t, err)
	return svc
}

func TestSchedulerTick(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	clock := func() time.Time { return now }

	t.Run("fires each sweep type per due member", func(t *testing.T) {
		jobs := &mockJobRepo{}
		tenants := &mockTenantRepo{
			membersByTier: map[cohort.Tier][]*cohort.Member{
				cohort.TierEnterprise: {
					{TenantID: "t1", Name: "Acme", Tier: cohort.TierEnterprise},
				},
			},
		}
		svc := newTestScheduler(t, tenants, jobs, clock)

		require.NoError(t, svc.Tick(context.Background()))

		// enterprise sweeps two job types
		require.Len(t, jobs.enqueueCalls, 2)
		types := []model.JobType{jobs.enqueueCalls[0].Type, jobs.enqueueCalls[1].Type}
		assert.Contains(t, types, model.JobTypeCostIngestion)
		assert.Contains(t, types, model.JobTypeResourceScan)
		assert.Equal(t, []string{"t1"}, tenants.marked)
	})

	t.Run("stamps time-bucketed dedup keys", func(t *testing.T) {
		jobs := &mockJobRepo{}
		tenants := &mockTenantRepo{
			membersByTier: map[cohort.Tier][]*cohort.Member{
				cohort.TierDormant: {
					{TenantID: "t9", Tier: cohort.TierDormant},
				},
			},
		}
		svc := newTestScheduler(t, tenants, jobs, clock)

		require.NoError(t, svc.Tick(context.Background()))

		require.Len(t, jobs.enqueueCalls, 1)
		want := cohort.TierDormant.DedupKey("t9", model.JobTypeCostIngestion, now)
		assert.Equal(t, want, jobs.enqueueCalls[0].DedupKey)
		assert.Equal(t, "t9", jobs.enqueueCalls[0].TenantScope)
	})

	t.Run("same bucket produces identical keys across ticks", func(t *testing.T) {
		jobs := &mockJobRepo{}
		member := &cohort.Member{TenantID: "t1", Tier: cohort.TierActive}
		tenants := &mockTenantRepo{
			membersByTier: map[cohort.Tier][]*cohort.Member{
				cohort.TierActive: {member},
			},
		}
		svc := newTestScheduler(t, tenants, jobs, clock)
		require.NoError(t, svc.Tick(context.Background()))

		// second tick an hour later, still inside the 24h bucket
		later := now.Add(time.Hour)
		svc2 := newTestScheduler(t, tenants, jobs, func() time.Time { return later })
		require.NoError(t, svc2.Tick(context.Background()))

		require.Len(t, jobs.enqueueCalls, 4)
		assert.Equal(t, jobs.enqueueCalls[0].DedupKey, jobs.enqueueCalls[2].DedupKey)
	})

	t.Run("marks tenants even when admission is a duplicate", func(t *testing.T) {
		existing := &model.Job{ID: "j1", Status: model.JobStatusPending}
		jobs := &mockJobRepo{
			enqueueResult: &core.EnqueueResult{Job: existing, Duplicate: true},
		}
		tenants := &mockTenantRepo{
			membersByTier: map[cohort.Tier][]*cohort.Member{
				cohort.TierDormant: {
					{TenantID: "t2", Tier: cohort.TierDormant},
				},
			},
		}
		svc := newTestScheduler(t, tenants, jobs, clock)

		require.NoError(t, svc.Tick(context.Background()))
		assert.Equal(t, []string{"t2"}, tenants.marked)
	})

	t.Run("a member that fails admission stays due", func(t *testing.T) {
		jobs := &mockJobRepo{enqueueErr: assert.AnError}
		tenants := &mockTenantRepo{
			membersByTier: map[cohort.Tier][]*cohort.Member{
				cohort.TierDormant: {
					{TenantID: "t3", Tier: cohort.TierDormant},
				},
			},
		}
		svc := newTestScheduler(t, tenants, jobs, clock)

		err := svc.Tick(context.Background())
		require.Error(t, err)
		assert.Empty(t, tenants.marked)
	})

	t.Run("tenant repo failure does not abort remaining tiers", func(t *testing.T) {
		jobs := &mockJobRepo{}
		tenants := &mockTenantRepo{dueErr: assert.AnError}
		svc := newTestScheduler(t, tenants, jobs, clock)

		err := svc.Tick(context.Background())
		require.Error(t, err)
		assert.Empty(t, jobs.enqueueCalls)
	})
}
