package stripe

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	stripeapi "github.com/stripe/stripe-go/v76"
	"github.com/stripe/stripe-go/v76/event"

	"github.com/goliatone/go-payhooks/core"
	"github.com/goliatone/go-payhooks/ratelimit"
	"github.com/goliatone/go-payhooks/webhooks"
)

// Client fetches events from the Stripe Events API. SDK retries are disabled;
// redelivery is left to Stripe.
type Client struct {
	events event.Client
	policy *ratelimit.AdaptivePolicy
}

func NewClient(cfg Config) (*Client, error) {
	apiKey := strings.TrimSpace(cfg.APIKey)
	if apiKey == "" {
		return nil, core.NewConfigurationError("remote.api_key", "stripe api key is required")
	}
	baseURL := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if baseURL == "" {
		baseURL = stripeapi.APIURL
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	backend := stripeapi.GetBackendWithConfig(stripeapi.APIBackend, &stripeapi.BackendConfig{
		URL:               stripeapi.String(baseURL),
		HTTPClient:        httpClient,
		MaxNetworkRetries: stripeapi.Int64(0),
		LeveledLogger:     &stripeapi.LeveledLogger{Level: stripeapi.LevelNull},
	})
	return &Client{
		events: event.Client{B: backend, Key: apiKey},
		policy: cfg.Policy,
	}, nil
}

func (c *Client) FetchEvent(ctx context.Context, id string) (webhooks.IssuerEvent, error) {
	if c == nil {
		return webhooks.IssuerEvent{}, core.NewConfigurationError("remote.client", "stripe client is not configured")
	}
	key := ratelimit.BucketKey{Issuer: IssuerID, Bucket: EventsBucket}
	if err := c.policy.BeforeCall(ctx, key); err != nil {
		return webhooks.IssuerEvent{}, &webhooks.IssuerError{Kind: webhooks.IssuerUnreachable, StatusCode: http.StatusTooManyRequests, Err: err}
	}

	ev, err := c.events.Get(id, &stripeapi.EventParams{Params: stripeapi.Params{Context: ctx}})
	if err != nil {
		issuerErr := issuerError(err)
		if issuerErr.StatusCode > 0 {
			_ = c.policy.AfterCall(ctx, key, ratelimit.ResponseMeta{StatusCode: issuerErr.StatusCode})
		}
		return webhooks.IssuerEvent{}, issuerErr
	}
	_ = c.policy.AfterCall(ctx, key, responseMeta(ev.LastResponse))

	payload, err := rawEvent(ev)
	if err != nil {
		return webhooks.IssuerEvent{}, &webhooks.IssuerError{Kind: webhooks.IssuerUnreachable, Err: err}
	}
	mode := webhooks.ModeTest
	if ev.Livemode {
		mode = webhooks.ModeLive
	}
	return webhooks.IssuerEvent{
		ID:      ev.ID,
		Type:    string(ev.Type),
		Mode:    mode,
		Payload: payload,
	}, nil
}

func issuerError(err error) *webhooks.IssuerError {
	var apiErr *stripeapi.Error
	if !errors.As(err, &apiErr) {
		return &webhooks.IssuerError{Kind: webhooks.IssuerUnreachable, Err: err}
	}
	out := &webhooks.IssuerError{StatusCode: apiErr.HTTPStatusCode, Err: err}
	switch apiErr.HTTPStatusCode {
	case http.StatusNotFound:
		out.Kind = webhooks.IssuerNotFound
	case http.StatusUnauthorized, http.StatusForbidden:
		out.Kind = webhooks.IssuerUnauthenticated
	default:
		out.Kind = webhooks.IssuerUnreachable
	}
	return out
}

func responseMeta(res *stripeapi.APIResponse) ratelimit.ResponseMeta {
	if res == nil {
		return ratelimit.ResponseMeta{StatusCode: http.StatusOK}
	}
	meta := ratelimit.ResponseMeta{StatusCode: res.StatusCode, Headers: map[string]string{}}
	for name := range res.Header {
		meta.Headers[strings.ToLower(name)] = res.Header.Get(name)
	}
	return meta
}

func rawEvent(ev *stripeapi.Event) ([]byte, error) {
	if ev.LastResponse != nil && len(ev.LastResponse.RawJSON) > 0 {
		return append([]byte(nil), ev.LastResponse.RawJSON...), nil
	}
	return json.Marshal(ev)
}

var _ webhooks.IssuerClient = (*Client)(nil)
