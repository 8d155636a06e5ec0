package inbound

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/goliatone/go-payhooks/core"
	"github.com/goliatone/go-payhooks/handlers"
	"github.com/goliatone/go-payhooks/registry"
	"github.com/goliatone/go-payhooks/webhooks"
)

const (
	testSecret = "s3cret"
	paidBody   = `{"id":"evt_1","type":"order.paid"}`
)

type sideEffects struct {
	calls atomic.Int32
	delay time.Duration
}

func (s *sideEffects) factory() registry.Factory {
	return func() handlers.EventHandler {
		return handlers.Func{
			Name:  "OrderPaid",
			Types: []string{"order.paid"},
			Handle: func(ctx context.Context, _ webhooks.VerifiedEvent) error {
				if s.delay > 0 {
					select {
					case <-time.After(s.delay):
					case <-ctx.Done():
						return ctx.Err()
					}
				}
				s.calls.Add(1)
				return nil
			},
		}
	}
}

func signedIntegration(t *testing.T, id string, effects *sideEffects) Integration {
	t.Helper()
	verifier, err := webhooks.NewSignatureVerifier(webhooks.GenericHexSHA256(testSecret))
	if err != nil {
		t.Fatalf("new verifier: %v", err)
	}
	resolver, err := registry.NewExplicitResolver(map[string]registry.Factory{"order.paid": effects.factory()})
	if err != nil {
		t.Fatalf("new resolver: %v", err)
	}
	return Integration{ID: id, Verifier: verifier, Resolver: resolver}
}

func signedRequest(t *testing.T, integrationID string, secret string, body string) core.InboundWebhookRequest {
	t.Helper()
	verifier, err := webhooks.NewSignatureVerifier(webhooks.GenericHexSHA256(secret))
	if err != nil {
		t.Fatalf("new signer: %v", err)
	}
	return core.InboundWebhookRequest{
		IntegrationID: integrationID,
		Body:          []byte(body),
		Headers:       map[string]string{webhooks.DefaultSignatureHeader: verifier.Sign([]byte(body), "", time.Time{})},
		RemoteAddr:    "203.0.113.7:40123",
	}
}

func newTestDispatcher(t *testing.T, opts ...Option) *Dispatcher {
	t.Helper()
	return NewDispatcher(handlers.NewRunner(handlers.NewMemoryClaimStore(time.Hour)), opts...)
}

type recordingPublisher struct {
	notifications []core.EventNotification
	err           error
}

func (p *recordingPublisher) Publish(_ context.Context, notification core.EventNotification) error {
	p.notifications = append(p.notifications, notification)
	return p.err
}
