package webhooks

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/goliatone/go-payhooks/core"
)

type Mode string

const (
	ModeUnspecified Mode = ""
	ModeTest        Mode = "test"
	ModeLive        Mode = "live"
)

func ParseMode(value string) Mode {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "test", "sandbox":
		return ModeTest
	case "live", "production":
		return ModeLive
	default:
		return ModeUnspecified
	}
}

// Matches reports whether an event in mode m may be handled by an
// integration running in active. Unspecified on either side matches.
func (m Mode) Matches(active Mode) bool {
	if m == ModeUnspecified || active == ModeUnspecified {
		return true
	}
	return m == active
}

type Source string

const (
	SourceSignature Source = "signature"
	SourceRemote    Source = "remote"
)

// VerifiedEvent is an event whose authenticity has been proven. It is
// immutable: accessors hand out copies.
type VerifiedEvent struct {
	id            string
	eventType     string
	mode          Mode
	payload       []byte
	receivedAt    time.Time
	integrationID string
	source        Source
}

// EventVerifier proves a delivery authentic and returns its trusted event.
type EventVerifier interface {
	Verify(ctx context.Context, req core.InboundWebhookRequest) (VerifiedEvent, error)
}

func (e VerifiedEvent) ID() string { return e.id }

func (e VerifiedEvent) Type() string { return e.eventType }

func (e VerifiedEvent) Mode() Mode { return e.mode }

func (e VerifiedEvent) ReceivedAt() time.Time { return e.receivedAt }

func (e VerifiedEvent) IntegrationID() string { return e.integrationID }

func (e VerifiedEvent) Source() Source { return e.source }

func (e VerifiedEvent) Payload() []byte {
	return append([]byte(nil), e.payload...)
}

// Decode unmarshals the trusted payload into target.
func (e VerifiedEvent) Decode(target any) error {
	if len(e.payload) == 0 {
		return fmt.Errorf("webhooks: event %s has no payload", e.id)
	}
	return json.Unmarshal(e.payload, target)
}

// IsZero reports whether e was never produced by a verifier.
func (e VerifiedEvent) IsZero() bool {
	return e.id == "" && e.eventType == ""
}

// ClaimKey is the idempotency key for processing e.
func (e VerifiedEvent) ClaimKey() string {
	return ClaimKeyFor(e.integrationID, e.id)
}

func ClaimKeyFor(integrationID string, eventID string) string {
	return strings.TrimSpace(integrationID) + ":" + strings.TrimSpace(eventID)
}

type envelope struct {
	ID       string `json:"id"`
	Type     string `json:"type"`
	Event    string `json:"event"`
	Livemode *bool  `json:"livemode"`
	Mode     string `json:"mode"`
}

func (e envelope) eventMode() Mode {
	if e.Livemode != nil {
		if *e.Livemode {
			return ModeLive
		}
		return ModeTest
	}
	return ParseMode(e.Mode)
}

func (e envelope) eventType() string {
	if value := strings.TrimSpace(e.Type); value != "" {
		return value
	}
	return strings.TrimSpace(e.Event)
}

func decodeEnvelope(body []byte) (envelope, error) {
	var decoded envelope
	if err := json.Unmarshal(body, &decoded); err != nil {
		return envelope{}, fmt.Errorf("webhooks: decode event body: %w", err)
	}
	decoded.ID = strings.TrimSpace(decoded.ID)
	return decoded, nil
}

// eventFromAuthenticatedBody builds the event once the caller has proven body
// authentic.
func eventFromAuthenticatedBody(req core.InboundWebhookRequest, body []byte, source Source, now func() time.Time) (VerifiedEvent, error) {
	decoded, err := decodeEnvelope(body)
	if err != nil {
		return VerifiedEvent{}, malformed(req, err)
	}
	if decoded.ID == "" {
		return VerifiedEvent{}, malformed(req, fmt.Errorf("webhooks: event id is required"))
	}
	eventType := decoded.eventType()
	if eventType == "" {
		return VerifiedEvent{}, malformed(req, fmt.Errorf("webhooks: event type is required"))
	}
	return VerifiedEvent{
		id:            decoded.ID,
		eventType:     eventType,
		mode:          decoded.eventMode(),
		payload:       append([]byte(nil), body...),
		receivedAt:    receivedAt(req, now),
		integrationID: strings.TrimSpace(req.IntegrationID),
		source:        source,
	}, nil
}

func receivedAt(req core.InboundWebhookRequest, now func() time.Time) time.Time {
	if !req.ReceivedAt.IsZero() {
		return req.ReceivedAt.UTC()
	}
	if now != nil {
		return now().UTC()
	}
	return time.Now().UTC()
}

func verificationError(req core.InboundWebhookRequest, reason core.VerificationReason, cause error) *core.VerificationError {
	return &core.VerificationError{
		Reason:        reason,
		IntegrationID: strings.TrimSpace(req.IntegrationID),
		Err:           cause,
	}
}

func malformed(req core.InboundWebhookRequest, cause error) *core.VerificationError {
	return verificationError(req, core.ReasonMalformedEvent, cause)
}
