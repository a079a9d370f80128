package model

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"strings"
)

// WebhookPayload is the payload carried by jobs of type webhook_event. The
// generic execution path treats it as opaque; only the webhook intake
// service and its handler interpret these fields.
type WebhookPayload struct {
	Provider  string `json:"provider"`
	EventType string `json:"event_type"`
	// Reference is the provider-side identifier for the logical event
	// (charge id, transfer id). Together with provider and event type it
	// forms the idempotency key.
	Reference string `json:"reference"`
	// RawPayload holds the original delivery bytes, base64-encoded, so the
	// handler acts on what was admitted rather than a fresh copy.
	RawPayload string `json:"raw_payload"`
	// Signature is the provider authenticity signature captured at
	// admission time. Handlers re-verify it against RawPayload and fail
	// closed when it is absent.
	Signature string `json:"signature,omitempty"`
}

// Validate checks the fields that are required for idempotent processing.
func (p *WebhookPayload) Validate() error {
	if strings.TrimSpace(p.Provider) == "" {
		return errors.New("provider is required")
	}
	if strings.TrimSpace(p.EventType) == "" {
		return errors.New("event_type is required")
	}
	if strings.TrimSpace(p.Reference) == "" {
		return errors.New("reference is required")
	}
	if p.RawPayload == "" {
		return errors.New("raw_payload is required")
	}
	return nil
}

// IdempotencyKey derives the content-hash deduplication key for one logical
// provider event. Identical deliveries map to identical keys, so the ledger's
// unique index collapses provider retries into a single job.
func (p *WebhookPayload) IdempotencyKey() string {
	return WebhookIdempotencyKey(p.Provider, p.EventType, p.Reference)
}

// WebhookIdempotencyKey hashes (provider, event_type, reference) into a
// stable dedup key. The "wh:" prefix keeps webhook keys out of the namespace
// used by time-bucketed scheduler keys.
func WebhookIdempotencyKey(provider, eventType, reference string) string {
	sum := sha256.Sum256([]byte(provider + "|" + eventType + "|" + reference))
	return "wh:" + hex.EncodeToString(sum[:])
}
