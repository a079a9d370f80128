package service

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Valdrix-AI/valdrix-sub000/internal/domain/model"
	apperrors "github.com/Valdrix-AI/valdrix-sub000/internal/errors"
)

// pagedFetcher serves a fixed sequence of export pages keyed by cursor.
type pagedFetcher struct {
	pages   map[string]fetchPage
	failAt  string
	fetched []string
}

type fetchPage struct {
	rows int
	next string
}

func (f *pagedFetcher) FetchPage(_ context.Context, _ model.CostIngestionPayload, cursor string) (int, string, error) {
	f.fetched = append(f.fetched, cursor)
	if f.failAt != "" && cursor == f.failAt {
		return 0, "", errors.New("export endpoint unavailable")
	}
	page := f.pages[cursor]
	return page.rows, page.next, nil
}

func costJob(t *testing.T, checkpoint string) *model.Job {
	t.Helper()
	p := model.CostIngestionPayload{Provider: "aws", AccountID: "123", Checkpoint: checkpoint}
	payload, err := json.Marshal(p)
	require.NoError(t, err)
	return &model.Job{ID: "j1", Type: model.JobTypeCostIngestion, Status: model.JobStatusRunning, Payload: payload}
}

func TestCostIngestionHandler(t *testing.T) {
	t.Run("walks all pages and checkpoints each cursor", func(t *testing.T) {
		repo := &mockJobRepo{}
		fetcher := &pagedFetcher{pages: map[string]fetchPage{
			"":   {rows: 10, next: "p2"},
			"p2": {rows: 10, next: "p3"},
			"p3": {rows: 5, next: ""},
		}}
		h := &CostIngestionHandler{Repo: repo, Fetcher: fetcher}

		result, err := h.Execute(context.Background(), costJob(t, ""))
		require.NoError(t, err)

		var out map[string]any
		require.NoError(t, json.Unmarshal(result, &out))
		assert.Equal(t, float64(25), out["rows"])

		assert.Equal(t, []string{"", "p2", "p3"}, fetcher.fetched)
		// final page needs no checkpoint, the job completes instead
		assert.JSONEq(t, `"p3"`, string(repo.checkpoints["j1"]))
	})

	t.Run("resumes from a stored checkpoint", func(t *testing.T) {
		repo := &mockJobRepo{}
		fetcher := &pagedFetcher{pages: map[string]fetchPage{
			"p2": {rows: 10, next: ""},
		}}
		h := &CostIngestionHandler{Repo: repo, Fetcher: fetcher}

		_, err := h.Execute(context.Background(), costJob(t, "p2"))
		require.NoError(t, err)
		assert.Equal(t, []string{"p2"}, fetcher.fetched, "must not restart from the first page")
	})

	t.Run("page errors are retriable", func(t *testing.T) {
		repo := &mockJobRepo{}
		fetcher := &pagedFetcher{
			pages:  map[string]fetchPage{"": {rows: 10, next: "p2"}},
			failAt: "p2",
		}
		h := &CostIngestionHandler{Repo: repo, Fetcher: fetcher}

		_, err := h.Execute(context.Background(), costJob(t, ""))
		require.Error(t, err)
		assert.True(t, apperrors.IsRetriable(err))
		assert.JSONEq(t, `"p2"`, string(repo.checkpoints["j1"]), "progress survives the failure")
	})

	t.Run("missing fetcher is fatal", func(t *testing.T) {
		h := &CostIngestionHandler{Repo: &mockJobRepo{}}
		_, err := h.Execute(context.Background(), costJob(t, ""))
		assert.True(t, apperrors.IsFatal(err))
	})

	t.Run("undecodable payload is fatal", func(t *testing.T) {
		h := &CostIngestionHandler{Repo: &mockJobRepo{}, Fetcher: &pagedFetcher{}}
		job := &model.Job{ID: "j1", Payload: []byte("{broken")}
		_, err := h.Execute(context.Background(), job)
		assert.True(t, apperrors.IsFatal(err))
	})
}

type stubScanner struct {
	resources int
	err       error
	scope     string
}

func (s *stubScanner) Scan(_ context.Context, _ model.ResourceScanPayload, tenantScope string) (int, error) {
	s.scope = tenantScope
	return s.resources, s.err
}

func TestResourceScanHandler(t *testing.T) {
	job := &model.Job{
		ID:          "j1",
		TenantScope: "t1",
		Type:        model.JobTypeResourceScan,
		Payload:     []byte(`{"provider":"gcp"}`),
	}

	t.Run("reports the scanned count", func(t *testing.T) {
		scanner := &stubScanner{resources: 17}
		h := &ResourceScanHandler{Scanner: scanner}

		result, err := h.Execute(context.Background(), job)
		require.NoError(t, err)
		assert.Equal(t, "t1", scanner.scope)

		var out map[string]any
		require.NoError(t, json.Unmarshal(result, &out))
		assert.Equal(t, float64(17), out["resources"])
	})

	t.Run("scan errors are retriable", func(t *testing.T) {
		h := &ResourceScanHandler{Scanner: &stubScanner{err: errors.New("rate limited")}}
		_, err := h.Execute(context.Background(), job)
		require.Error(t, err)
		assert.True(t, apperrors.IsRetriable(err))
	})
}

type stubGateway struct {
	committed bool
	err       error
}

func (g *stubGateway) Settle(context.Context, model.BillingChargePayload) (bool, error) {
	return g.committed, g.err
}

func TestBillingChargeHandler(t *testing.T) {
	job := &model.Job{
		ID:      "j1",
		Type:    model.JobTypeBillingCharge,
		Payload: []byte(`{"invoice_id":"inv_1","amount_usd":"10.00"}`),
	}

	t.Run("settled charge completes", func(t *testing.T) {
		h := &BillingChargeHandler{Gateway: &stubGateway{committed: true}}
		result, err := h.Execute(context.Background(), job)
		require.NoError(t, err)
		assert.Contains(t, string(result), "inv_1")
	})

	t.Run("uncommitted failure retries", func(t *testing.T) {
		h := &BillingChargeHandler{Gateway: &stubGateway{err: errors.New("gateway timeout")}}
		_, err := h.Execute(context.Background(), job)
		require.Error(t, err)
		assert.True(t, apperrors.IsRetriable(err))
	})

	t.Run("ambiguous committed failure is fatal", func(t *testing.T) {
		h := &BillingChargeHandler{Gateway: &stubGateway{committed: true, err: errors.New("response lost")}}
		_, err := h.Execute(context.Background(), job)
		require.Error(t, err)
		assert.True(t, apperrors.IsFatal(err), "a possibly-committed charge must never be retried")
	})
}

type stubApplier struct {
	applied []string
	err     error
}

func (a *stubApplier) Apply(_ context.Context, p model.RemediationPayload) error {
	a.applied = append(a.applied, p.ActionID)
	return a.err
}

func TestRemediationHandler(t *testing.T) {
	job := &model.Job{
		ID:      "j1",
		Type:    model.JobTypeRemediation,
		Payload: []byte(`{"action_id":"a1","resource_id":"r1","dry_run":true}`),
	}

	t.Run("applies the action", func(t *testing.T) {
		applier := &stubApplier{}
		h := &RemediationHandler{Applier: applier}

		result, err := h.Execute(context.Background(), job)
		require.NoError(t, err)
		assert.Equal(t, []string{"a1"}, applier.applied)

		var out map[string]any
		require.NoError(t, json.Unmarshal(result, &out))
		assert.Equal(t, true, out["dry_run"])
	})

	t.Run("apply errors are retriable", func(t *testing.T) {
		h := &RemediationHandler{Applier: &stubApplier{err: errors.New("api unavailable")}}
		_, err := h.Execute(context.Background(), job)
		require.Error(t, err)
		assert.True(t, apperrors.IsRetriable(err))
	})
}
