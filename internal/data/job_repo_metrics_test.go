package data

import (
	"context"
	"database/sql"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Valdrix-AI/valdrix-sub000/internal/domain/model"
	"github.com/Valdrix-AI/valdrix-sub000/internal/testutil"
)

func TestJobRepo_Backlog(t *testing.T) {
	testutil.SkipIfNoTestDB(t)

	testutil.WithTestDB(t, func(db *sql.DB) {
		repo := NewJobRepo(db, nil)

		past := time.Now().Add(-10 * time.Minute).UTC()
		req := scanRequest("")
		req.ScheduledFor = &past
		mustEnqueue(t, repo, req)
		mustEnqueue(t, repo, scanRequest(""))

		mustEnqueue(t, repo, model.EnqueueRequest{
			Type:    model.JobTypeBillingCharge,
			Payload: json.RawMessage(`{"invoice_id": "inv_1", "amount_usd": "10.00"}`),
		})
		claimOne(t, repo, model.JobTypeBillingCharge)

		stats, err := repo.Backlog(context.Background())
		require.NoError(t, err)
		require.Len(t, stats, 2)

		byType := map[model.JobType]model.BacklogStats{}
		for _, s := range stats {
			byType[s.Type] = s
		}

		scans := byType[model.JobTypeResourceScan]
		assert.Equal(t, 2, scans.Pending)
		assert.GreaterOrEqual(t, scans.OldestPendingAge, 9*time.Minute)

		charges := byType[model.JobTypeBillingCharge]
		assert.Equal(t, 0, charges.Pending)
		assert.Equal(t, 1, charges.Running)
	})
}

func TestJobRepo_SLAReport(t *testing.T) {
	testutil.SkipIfNoTestDB(t)

	testutil.WithTestDB(t, func(db *sql.DB) {
		repo := NewJobRepo(db, nil)

		// two completions and one dead letter inside the window
		for range 2 {
			mustEnqueue(t, repo, model.EnqueueRequest{
				Type:        model.JobTypeResourceScan,
				TenantScope: "t1",
				Payload:     json.RawMessage(`{"provider": "aws"}`),
			})
			job := claimOne(t, repo, model.JobTypeResourceScan)
			require.NoError(t, repo.Complete(context.Background(), job.ID, nil))
		}
		mustEnqueue(t, repo, model.EnqueueRequest{
			Type:        model.JobTypeResourceScan,
			TenantScope: "t1",
			Payload:     json.RawMessage(`{"provider": "aws"}`),
		})
		job := claimOne(t, repo, model.JobTypeResourceScan)
		require.NoError(t, repo.DeadLetter(context.Background(), job.ID, "gave up"))

		// in-flight work must not dilute the rate
		mustEnqueue(t, repo, model.EnqueueRequest{
			Type:        model.JobTypeResourceScan,
			TenantScope: "t1",
			Payload:     json.RawMessage(`{"provider": "aws"}`),
		})

		reports, err := repo.SLAReport(context.Background(), 24*time.Hour)
		require.NoError(t, err)
		require.Len(t, reports, 1)

		rep := reports[0]
		assert.Equal(t, model.JobTypeResourceScan, rep.Type)
		assert.Equal(t, "t1", rep.TenantScope)
		assert.Equal(t, 3, rep.TotalTerminal)
		assert.Equal(t, 2, rep.Succeeded)
		assert.InDelta(t, 2.0/3.0, rep.SuccessRate, 0.001)
		assert.Equal(t, 24*time.Hour, rep.Window)
	})
}

func TestJobRepo_SLAReport_WindowExcludesOldRows(t *testing.T) {
	testutil.SkipIfNoTestDB(t)

	testutil.WithTestDB(t, func(db *sql.DB) {
		repo := NewJobRepo(db, nil)

		mustEnqueue(t, repo, scanRequest(""))
		job := claimOne(t, repo, model.JobTypeResourceScan)
		require.NoError(t, repo.Complete(context.Background(), job.ID, nil))
		backdateCompleted(t, db, job.ID, 48*time.Hour)

		reports, err := repo.SLAReport(context.Background(), 24*time.Hour)
		require.NoError(t, err)
		assert.Empty(t, reports)
	})
}
