package data

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Valdrix-AI/valdrix-sub000/internal/core"
	"github.com/Valdrix-AI/valdrix-sub000/internal/domain/cohort"
	"github.com/Valdrix-AI/valdrix-sub000/internal/testutil"
)

func insertTenant(t *testing.T, db *sql.DB, id string, tier cohort.Tier, lastScheduled *time.Time) {
	t.Helper()
	_, err := db.ExecContext(context.Background(), `
		INSERT INTO tenants (id, name, tier, last_scheduled_at)
		VALUES ($1, $2, $3, $4)
	`, id, "tenant "+id, string(tier), lastScheduled)
	require.NoError(t, err)
}

func timePtr(v time.Time) *time.Time { return &v }

func TestTenantRepo_DueMembers(t *testing.T) {
	testutil.SkipIfNoTestDB(t)

	t.Run("never-scheduled tenants come first", func(t *testing.T) {
		testutil.WithTestDB(t, func(db *sql.DB) {
			repo := NewTenantRepo(db, nil)

			insertTenant(t, db, "t-old", cohort.TierEnterprise,
				timePtr(time.Now().Add(-12*time.Hour).UTC()))
			insertTenant(t, db, "t-new", cohort.TierEnterprise, nil)

			members, err := repo.DueMembers(context.Background(), cohort.TierEnterprise, 10)
			require.NoError(t, err)
			require.Len(t, members, 2)
			assert.Equal(t, "t-new", members[0].TenantID)
			assert.Equal(t, cohort.TierEnterprise, members[0].Tier)
		})
	})

	t.Run("recently swept tenants are not due", func(t *testing.T) {
		testutil.WithTestDB(t, func(db *sql.DB) {
			repo := NewTenantRepo(db, nil)

			insertTenant(t, db, "t-recent", cohort.TierEnterprise,
				timePtr(time.Now().Add(-time.Hour).UTC()))

			members, err := repo.DueMembers(context.Background(), cohort.TierEnterprise, 10)
			require.NoError(t, err)
			assert.Empty(t, members)
		})
	})

	t.Run("filters by tier and honors the limit", func(t *testing.T) {
		testutil.WithTestDB(t, func(db *sql.DB) {
			repo := NewTenantRepo(db, nil)

			insertTenant(t, db, "t1", cohort.TierEnterprise, nil)
			insertTenant(t, db, "t2", cohort.TierEnterprise, nil)
			insertTenant(t, db, "t3", cohort.TierDormant, nil)

			members, err := repo.DueMembers(context.Background(), cohort.TierEnterprise, 1)
			require.NoError(t, err)
			assert.Len(t, members, 1)

			members, err = repo.DueMembers(context.Background(), cohort.TierDormant, 10)
			require.NoError(t, err)
			require.Len(t, members, 1)
			assert.Equal(t, "t3", members[0].TenantID)
		})
	})

	t.Run("rejects invalid tiers", func(t *testing.T) {
		testutil.WithTestDB(t, func(db *sql.DB) {
			repo := NewTenantRepo(db, nil)
			_, err := repo.DueMembers(context.Background(), "platinum", 10)
			assert.Error(t, err)
		})
	})
}

func TestTenantRepo_SweepDue(t *testing.T) {
	testutil.SkipIfNoTestDB(t)

	t.Run("holds row locks while the firing runs", func(t *testing.T) {
		testutil.WithTestDB(t, func(db *sql.DB) {
			repo := NewTenantRepo(db, nil)

			insertTenant(t, db, "t1", cohort.TierEnterprise, nil)

			err := repo.SweepDue(context.Background(), core.DueSweep{
				Tier:  cohort.TierEnterprise,
				Limit: 10,
				At:    time.Now().UTC(),
				Fire: func(ctx context.Context, members []*cohort.Member) ([]string, error) {
					require.Len(t, members, 1)

					// a concurrent sweep on another connection skips the
					// locked row instead of firing it again
					racing, dueErr := repo.DueMembers(ctx, cohort.TierEnterprise, 10)
					require.NoError(t, dueErr)
					assert.Empty(t, racing)

					return []string{"t1"}, nil
				},
			})
			require.NoError(t, err)

			// the stamp committed, the tenant is no longer due
			members, err := repo.DueMembers(context.Background(), cohort.TierEnterprise, 10)
			require.NoError(t, err)
			assert.Empty(t, members)
		})
	})

	t.Run("firing errors keep unfired tenants due", func(t *testing.T) {
		testutil.WithTestDB(t, func(db *sql.DB) {
			repo := NewTenantRepo(db, nil)

			insertTenant(t, db, "t1", cohort.TierDormant, nil)

			err := repo.SweepDue(context.Background(), core.DueSweep{
				Tier:  cohort.TierDormant,
				Limit: 10,
				At:    time.Now().UTC(),
				Fire: func(_ context.Context, _ []*cohort.Member) ([]string, error) {
					return nil, assert.AnError
				},
			})
			require.Error(t, err)

			members, err := repo.DueMembers(context.Background(), cohort.TierDormant, 10)
			require.NoError(t, err)
			require.Len(t, members, 1)
			assert.Equal(t, "t1", members[0].TenantID)
		})
	})

	t.Run("requires a fire callback", func(t *testing.T) {
		testutil.WithTestDB(t, func(db *sql.DB) {
			repo := NewTenantRepo(db, nil)
			err := repo.SweepDue(context.Background(), core.DueSweep{
				Tier:  cohort.TierDormant,
				Limit: 10,
			})
			assert.Error(t, err)
		})
	})
}

func TestTenantRepo_MarkScheduled(t *testing.T) {
	testutil.SkipIfNoTestDB(t)

	t.Run("moves the tenant out of the due window", func(t *testing.T) {
		testutil.WithTestDB(t, func(db *sql.DB) {
			repo := NewTenantRepo(db, nil)

			insertTenant(t, db, "t1", cohort.TierEnterprise, nil)
			require.NoError(t, repo.MarkScheduled(context.Background(), "t1", time.Now().UTC()))

			members, err := repo.DueMembers(context.Background(), cohort.TierEnterprise, 10)
			require.NoError(t, err)
			assert.Empty(t, members)
		})
	})

	t.Run("unknown tenants error", func(t *testing.T) {
		testutil.WithTestDB(t, func(db *sql.DB) {
			repo := NewTenantRepo(db, nil)
			err := repo.MarkScheduled(context.Background(), "ghost", time.Now())
			assert.ErrorContains(t, err, "not found")
		})
	})
}
