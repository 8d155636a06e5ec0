package handlers

import (
	"context"
	"testing"
	"time"

	"github.com/goliatone/go-payhooks/core"
	"github.com/goliatone/go-payhooks/webhooks"
)

func verifiedEvent(t *testing.T, integrationID string, body string) webhooks.VerifiedEvent {
	t.Helper()
	verifier, err := webhooks.NewSignatureVerifier(webhooks.GenericHexSHA256("s3cret"))
	if err != nil {
		t.Fatalf("new verifier: %v", err)
	}
	event, err := verifier.Verify(context.Background(), core.InboundWebhookRequest{
		IntegrationID: integrationID,
		Body:          []byte(body),
		Headers:       map[string]string{"X-Signature": verifier.Sign([]byte(body), "", time.Time{})},
	})
	if err != nil {
		t.Fatalf("verify event: %v", err)
	}
	return event
}
