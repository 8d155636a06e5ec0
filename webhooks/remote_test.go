package webhooks

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/goliatone/go-payhooks/core"
)

func TestRemoteEventFetcherUsesIssuerPayload(t *testing.T) {
	var requested string
	client := IssuerClientFunc(func(_ context.Context, id string) (IssuerEvent, error) {
		requested = id
		return IssuerEvent{ID: id, Type: "order.paid", Mode: ModeTest, Payload: []byte(`{"id":"evt_2","type":"order.paid","amount":10}`)}, nil
	})
	fetcher, err := NewRemoteEventFetcher(client, time.Second)
	if err != nil {
		t.Fatalf("new fetcher: %v", err)
	}
	event, err := fetcher.Verify(context.Background(), core.InboundWebhookRequest{
		IntegrationID: "shop",
		Body:          []byte(`{"id":"evt_2","type":"order.refunded","amount":999999}`),
	})
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if requested != "evt_2" {
		t.Fatalf("expected lookup by body id, got %q", requested)
	}
	if event.Type() != "order.paid" || event.Source() != SourceRemote || event.Mode() != ModeTest {
		t.Fatalf("expected issuer data to win, got %s/%s/%s", event.Type(), event.Source(), event.Mode())
	}
	if string(event.Payload()) != `{"id":"evt_2","type":"order.paid","amount":10}` {
		t.Fatalf("expected untrusted body to be discarded, got %s", event.Payload())
	}
}

func TestRemoteEventFetcherClassifiesIssuerErrors(t *testing.T) {
	cases := []struct {
		name   string
		err    error
		reason core.VerificationReason
	}{
		{"not found", &IssuerError{Kind: IssuerNotFound, StatusCode: 404}, core.ReasonRemoteLookupNotFound},
		{"unauthenticated", &IssuerError{Kind: IssuerUnauthenticated, StatusCode: 401}, core.ReasonRemoteLookupUnauthenticated},
		{"unreachable", &IssuerError{Kind: IssuerUnreachable, StatusCode: 502}, core.ReasonRemoteLookupUnreachable},
		{"opaque", errors.New("connection reset"), core.ReasonRemoteLookupUnreachable},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			fetcher, _ := NewRemoteEventFetcher(IssuerClientFunc(func(context.Context, string) (IssuerEvent, error) {
				return IssuerEvent{}, tc.err
			}), time.Second)
			_, err := fetcher.Verify(context.Background(), core.InboundWebhookRequest{Body: []byte(`{"id":"evt_2"}`)})
			requireReason(t, err, tc.reason)
			if got := core.Classify(err); got.Retryable() != tc.reason.Transient() {
				t.Fatalf("unexpected classification %s", got)
			}
		})
	}
}

func TestRemoteEventFetcherBoundsLookupTime(t *testing.T) {
	var calls atomic.Int32
	client := IssuerClientFunc(func(ctx context.Context, _ string) (IssuerEvent, error) {
		calls.Add(1)
		<-ctx.Done()
		return IssuerEvent{}, ctx.Err()
	})
	fetcher, _ := NewRemoteEventFetcher(client, 20*time.Millisecond)

	started := time.Now()
	_, err := fetcher.Verify(context.Background(), core.InboundWebhookRequest{Body: []byte(`{"id":"evt_2"}`)})
	requireReason(t, err, core.ReasonRemoteLookupUnreachable)
	if elapsed := time.Since(started); elapsed > 2*time.Second {
		t.Fatalf("expected bounded lookup, took %s", elapsed)
	}
	if calls.Load() != 1 {
		t.Fatalf("expected single lookup, got %d", calls.Load())
	}
}

func TestRemoteEventFetcherRejectsUnusableInput(t *testing.T) {
	fetcher, _ := NewRemoteEventFetcher(IssuerClientFunc(func(_ context.Context, id string) (IssuerEvent, error) {
		return IssuerEvent{ID: "evt_other", Type: "order.paid"}, nil
	}), 0)
	if fetcher.Timeout() != core.DefaultRemoteTimeout {
		t.Fatalf("expected default timeout, got %s", fetcher.Timeout())
	}

	for _, body := range []string{`{}`, `{"id":""}`, `{"id":42}`, `nope`} {
		_, err := fetcher.Verify(context.Background(), core.InboundWebhookRequest{Body: []byte(body)})
		requireReason(t, err, core.ReasonMalformedEvent)
	}

	_, err := fetcher.Verify(context.Background(), core.InboundWebhookRequest{Body: []byte(`{"id":"evt_2"}`)})
	requireReason(t, err, core.ReasonMalformedEvent)

	if _, err := NewRemoteEventFetcher(nil, time.Second); err == nil {
		t.Fatalf("expected nil client to fail construction")
	}
}

func TestAuthenticatedVerifier(t *testing.T) {
	sdkErr := errors.New("no valid signature")
	verifier, err := NewAuthenticatedVerifier(PayloadAuthenticatorFunc(func(_ context.Context, req core.InboundWebhookRequest) error {
		switch req.Header("Issuer-Signature") {
		case "good":
			return nil
		case "":
			return core.NewVerificationError(core.ReasonMissingSignature, nil)
		default:
			return sdkErr
		}
	}))
	if err != nil {
		t.Fatalf("new verifier: %v", err)
	}

	event, err := verifier.Verify(context.Background(), core.InboundWebhookRequest{
		IntegrationID: "stripe",
		Body:          []byte(`{"id":"evt_3","type":"invoice.paid","livemode":false}`),
		Headers:       map[string]string{"Issuer-Signature": "good"},
	})
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if event.ID() != "evt_3" || event.Mode() != ModeTest {
		t.Fatalf("unexpected event %s/%s", event.ID(), event.Mode())
	}

	_, err = verifier.Verify(context.Background(), core.InboundWebhookRequest{IntegrationID: "stripe", Body: []byte(`{}`)})
	requireReason(t, err, core.ReasonMissingSignature)

	_, err = verifier.Verify(context.Background(), core.InboundWebhookRequest{
		Body:    []byte(`{"id":"evt_3","type":"invoice.paid"}`),
		Headers: map[string]string{"Issuer-Signature": "bad"},
	})
	requireReason(t, err, core.ReasonSignatureMismatch)
	if !errors.Is(err, sdkErr) {
		t.Fatalf("expected sdk error to be wrapped")
	}
}
