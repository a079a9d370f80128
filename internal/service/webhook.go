package service

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/Valdrix-AI/valdrix-sub000/internal/core"
	"github.com/Valdrix-AI/valdrix-sub000/internal/domain/model"
	apperrors "github.com/Valdrix-AI/valdrix-sub000/internal/errors"
	"github.com/Valdrix-AI/valdrix-sub000/internal/observability/statsd"
)

// Intake outcome values.
const (
	IntakeQueued        = "queued"
	IntakeDuplicate     = "duplicate"
	IntakeAlreadyQueued = "already_queued"
)

// IntakeResult reports how a webhook delivery was absorbed.
type IntakeResult struct {
	Status string     `json:"status"`
	Job    *model.Job `json:"job,omitempty"`
}

// WebhookServiceOptions groups dependencies for WebhookService.
type WebhookServiceOptions struct {
	Repo      core.JobRepository     // Required
	Admission *AdmissionService      // Required
	Verifier  core.SignatureVerifier // Required
	Logger    *slog.Logger           // Optional
	Metrics   statsd.Sink            // Optional
	Clock     func() time.Time       // Optional, defaults to time.Now
}

// WebhookService turns at-least-once external event deliveries into
// exactly-once ledger admissions. The idempotency key is derived from the
// event identity, so redelivered events collapse onto the original job.
type WebhookService struct {
	repo      core.JobRepository
	admission *AdmissionService
	verifier  core.SignatureVerifier
	logger    *slog.Logger
	metrics   statsd.Sink
	now       func() time.Time
}

// NewWebhookService constructs a WebhookService.
func NewWebhookService(opts WebhookServiceOptions) (*WebhookService, error) {
	if opts.Repo == nil {
		return nil, errors.New("JobRepository is required")
	}
	if opts.Admission == nil {
		return nil, errors.New("AdmissionService is required")
	}
	if opts.Verifier == nil {
		return nil, errors.New("SignatureVerifier is required")
	}
	var logger *slog.Logger
	if opts.Logger != nil {
		logger = opts.Logger.With("component", "webhook_service")
	}
	now := opts.Clock
	if now == nil {
		now = time.Now
	}
	return &WebhookService{
		repo:      opts.Repo,
		admission: opts.Admission,
		verifier:  opts.Verifier,
		logger:    logger,
		metrics:   opts.Metrics,
		now:       now,
	}, nil
}

// Intake validates, verifies, and admits a webhook delivery. Redeliveries
// of an event already absorbed report duplicate (terminal original) or
// already_queued (original still in flight) without touching the ledger.
func (s *WebhookService) Intake(ctx context.Context, p model.WebhookPayload) (*IntakeResult, error) {
	if err := p.Validate(); err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrCodeValidation, "invalid webhook payload")
	}

	raw, err := base64.StdEncoding.DecodeString(p.RawPayload)
	if err != nil {
		return nil, apperrors.ValidationField("raw_payload", "raw payload must be base64")
	}
	if err := s.verifier.Verify(p.Provider, raw, p.Signature); err != nil {
		s.count("webhook.rejected", p.Provider)
		return nil, apperrors.Wrap(err, apperrors.ErrCodeValidation, "signature verification failed")
	}

	key := p.IdempotencyKey()
	existing, err := s.repo.GetByDedupKey(ctx, key)
	if err != nil && !apperrors.IsNotFound(err) {
		return nil, err
	}
	if existing != nil {
		return s.classifyExisting(ctx, p, existing), nil
	}

	payload, err := json.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("marshal webhook payload: %w", err)
	}
	res, err := s.admission.Enqueue(ctx, model.EnqueueRequest{
		Type:     model.JobTypeWebhookEvent,
		Payload:  payload,
		DedupKey: key,
	})
	if err != nil {
		return nil, err
	}
	if res.Duplicate {
		// lost the race with a concurrent delivery of the same event
		return &IntakeResult{Status: IntakeAlreadyQueued, Job: res.Job}, nil
	}

	if s.logger != nil {
		s.logger.InfoContext(ctx, "webhook event admitted",
			"provider", p.Provider,
			"event_type", p.EventType,
			"reference", p.Reference,
			"job_id", res.Job.ID,
		)
	}
	s.count("webhook.admitted", p.Provider)
	return &IntakeResult{Status: IntakeQueued, Job: res.Job}, nil
}

func (s *WebhookService) classifyExisting(ctx context.Context, p model.WebhookPayload, existing *model.Job) *IntakeResult {
	status := IntakeAlreadyQueued
	if existing.Status.Terminal() {
		status = IntakeDuplicate
	}
	if s.logger != nil {
		s.logger.DebugContext(ctx, "webhook redelivery absorbed",
			"provider", p.Provider,
			"event_type", p.EventType,
			"reference", p.Reference,
			"job_id", existing.ID,
			"status", status,
		)
	}
	s.count("webhook.redelivered", p.Provider)
	return &IntakeResult{Status: status, Job: existing}
}

func (s *WebhookService) count(name, provider string) {
	if s.metrics != nil {
		s.metrics.Count(name, 1, map[string]string{"provider": provider})
	}
}

// Handler returns the execution-side handler for webhook event jobs.
func (s *WebhookService) Handler() core.Handler {
	return &webhookHandler{svc: s}
}

type webhookHandler struct {
	svc *WebhookService
}

func (h *webhookHandler) Type() model.JobType { return model.JobTypeWebhookEvent }

// Execute re-verifies the stored signature before processing. Verification
// failing at execution time means the stored payload no longer matches what
// the provider signed, so the job is unrecoverable.
func (h *webhookHandler) Execute(ctx context.Context, job *model.Job) ([]byte, error) {
	var p model.WebhookPayload
	if err := json.Unmarshal(job.Payload, &p); err != nil {
		return nil, apperrors.Fatalf("decode webhook payload: %v", err)
	}
	raw, err := base64.StdEncoding.DecodeString(p.RawPayload)
	if err != nil {
		return nil, apperrors.Fatalf("decode raw payload: %v", err)
	}
	if err := h.svc.verifier.Verify(p.Provider, raw, p.Signature); err != nil {
		return nil, apperrors.Fatal(err, "stored payload failed signature re-verification")
	}

	processedAt := h.svc.now().UTC()
	result, err := json.Marshal(map[string]any{
		"provider":     p.Provider,
		"event_type":   p.EventType,
		"reference":    p.Reference,
		"processed_at": processedAt.Format(time.RFC3339Nano),
	})
	if err != nil {
		return nil, fmt.Errorf("marshal webhook result: %w", err)
	}
	return result, nil
}

// HMACVerifier verifies hex-encoded HMAC-SHA256 signatures against
// per-provider shared secrets.
type HMACVerifier struct {
	secrets map[string]string
}

// NewHMACVerifier builds a verifier from a provider-to-secret map.
func NewHMACVerifier(secrets map[string]string) *HMACVerifier {
	cp := make(map[string]string, len(secrets))
	for k, v := range secrets {
		cp[k] = v
	}
	return &HMACVerifier{secrets: cp}
}

var _ core.SignatureVerifier = (*HMACVerifier)(nil)

// Verify checks the signature. Providers without a configured secret are
// rejected outright.
func (v *HMACVerifier) Verify(provider string, payload []byte, signature string) error {
	secret, ok := v.secrets[provider]
	if !ok || secret == "" {
		return fmt.Errorf("no signing secret configured for provider %q", provider)
	}

	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	expected := hex.EncodeToString(mac.Sum(nil))

	got, err := hex.DecodeString(signature)
	if err != nil {
		return fmt.Errorf("signature is not hex encoded")
	}
	want, _ := hex.DecodeString(expected)
	if !hmac.Equal(got, want) {
		return fmt.Errorf("signature mismatch for provider %q", provider)
	}
	return nil
}
