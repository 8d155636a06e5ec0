package transport

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/goliatone/go-payhooks/core"
	"github.com/goliatone/go-payhooks/ratelimit"
	"github.com/goliatone/go-payhooks/webhooks"
)

const issuerEventsBucket = "events"

// RESTIssuerClient looks events up at GET {base}/events/{id} with a bearer
// credential. It serves issuers without a dedicated SDK.
type RESTIssuerClient struct {
	Issuer  string
	APIKey  string
	Adapter *RESTAdapter
	Policy  *ratelimit.AdaptivePolicy
}

func NewRESTIssuerClient(issuer string, cfg core.RemoteConfig, client HTTPDoer) (*RESTIssuerClient, error) {
	baseURL := strings.TrimSpace(cfg.BaseURL)
	if baseURL == "" {
		return nil, core.NewConfigurationError("remote.base_url", "is required")
	}
	apiKey := strings.TrimSpace(cfg.APIKey)
	if apiKey == "" {
		return nil, core.NewConfigurationError("remote.api_key", "is required")
	}
	adapter, err := NewRESTAdapter(baseURL, client)
	if err != nil {
		return nil, core.WrapConfigurationError(err, "remote.base_url", "is not a valid url")
	}
	return &RESTIssuerClient{
		Issuer:  strings.ToLower(strings.TrimSpace(issuer)),
		APIKey:  apiKey,
		Adapter: adapter,
	}, nil
}

type issuerEventBody struct {
	ID       string `json:"id"`
	Type     string `json:"type"`
	Event    string `json:"event"`
	Mode     string `json:"mode"`
	Livemode *bool  `json:"livemode"`
}

func (c *RESTIssuerClient) FetchEvent(ctx context.Context, id string) (webhooks.IssuerEvent, error) {
	if c == nil || c.Adapter == nil {
		return webhooks.IssuerEvent{}, core.NewConfigurationError("remote.client", "rest issuer client is not configured")
	}
	id = strings.TrimSpace(id)
	if id == "" || id == "." || id == ".." || strings.ContainsAny(id, "/?#\\") {
		return webhooks.IssuerEvent{}, &webhooks.IssuerError{Kind: webhooks.IssuerNotFound, Err: fmt.Errorf("transport: event id %q is not addressable", id)}
	}
	key := ratelimit.BucketKey{Issuer: c.Issuer, Bucket: issuerEventsBucket}
	if err := c.Policy.BeforeCall(ctx, key); err != nil {
		return webhooks.IssuerEvent{}, &webhooks.IssuerError{Kind: webhooks.IssuerUnreachable, StatusCode: http.StatusTooManyRequests, Err: err}
	}

	res, err := c.Adapter.Do(ctx, Call{
		Path:   "events/" + id,
		Bearer: c.APIKey,
	})
	if err != nil {
		return webhooks.IssuerEvent{}, &webhooks.IssuerError{Kind: webhooks.IssuerUnreachable, Err: err}
	}
	_ = c.Policy.AfterCall(ctx, key, ratelimit.ResponseMeta{StatusCode: res.StatusCode, Headers: res.Headers, RetryAfter: res.RetryAfter})

	if kind, failed := kindForStatus(res.StatusCode); failed {
		cause := fmt.Errorf("transport: issuer returned %d", res.StatusCode)
		if res.RetryAfter > 0 {
			cause = fmt.Errorf("transport: issuer returned %d, retry after %s", res.StatusCode, res.RetryAfter)
		}
		return webhooks.IssuerEvent{}, &webhooks.IssuerError{Kind: kind, StatusCode: res.StatusCode, Err: cause}
	}

	var body issuerEventBody
	if err := json.Unmarshal(res.Body, &body); err != nil {
		return webhooks.IssuerEvent{}, &webhooks.IssuerError{
			Kind:       webhooks.IssuerUnreachable,
			StatusCode: res.StatusCode,
			Err:        fmt.Errorf("transport: decode issuer event: %w", err),
		}
	}
	eventType := strings.TrimSpace(body.Type)
	if eventType == "" {
		eventType = strings.TrimSpace(body.Event)
	}
	mode := webhooks.ParseMode(body.Mode)
	if body.Livemode != nil {
		mode = webhooks.ModeTest
		if *body.Livemode {
			mode = webhooks.ModeLive
		}
	}
	return webhooks.IssuerEvent{
		ID:      strings.TrimSpace(body.ID),
		Type:    eventType,
		Mode:    mode,
		Payload: res.Body,
	}, nil
}

func kindForStatus(status int) (webhooks.IssuerErrorKind, bool) {
	switch {
	case status >= 200 && status < 300:
		return "", false
	case status == http.StatusNotFound || status == http.StatusGone:
		return webhooks.IssuerNotFound, true
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return webhooks.IssuerUnauthenticated, true
	default:
		return webhooks.IssuerUnreachable, true
	}
}

var _ webhooks.IssuerClient = (*RESTIssuerClient)(nil)
