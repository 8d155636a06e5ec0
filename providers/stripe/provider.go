// Package stripe verifies Stripe deliveries with the official SDK: either by
// checking the Stripe-Signature header or by fetching the event back from the
// Events API.
package stripe

import (
	"net/http"
	"strings"
	"time"

	stripeapi "github.com/stripe/stripe-go/v76"

	"github.com/goliatone/go-payhooks/core"
	"github.com/goliatone/go-payhooks/ratelimit"
	"github.com/goliatone/go-payhooks/webhooks"
)

const (
	IssuerID         = "stripe"
	SignatureHeader  = "Stripe-Signature"
	DefaultTolerance = 5 * time.Minute
	EventsBucket     = "events"
)

type Config struct {
	APIKey        string
	BaseURL       string
	WebhookSecret string
	Tolerance     time.Duration
	HTTPClient    *http.Client
	Policy        *ratelimit.AdaptivePolicy
}

func DefaultConfig() Config {
	return Config{
		BaseURL:   stripeapi.APIURL,
		Tolerance: DefaultTolerance,
	}
}

// ConfigFromIntegration maps an integration's settings onto a Stripe config.
func ConfigFromIntegration(cfg core.IntegrationConfig) Config {
	out := DefaultConfig()
	out.APIKey = strings.TrimSpace(cfg.Remote.APIKey)
	if base := strings.TrimSpace(cfg.Remote.BaseURL); base != "" {
		out.BaseURL = base
	}
	out.WebhookSecret = strings.TrimSpace(cfg.Signature.Secret)
	if cfg.Signature.Tolerance > 0 {
		out.Tolerance = cfg.Signature.Tolerance
	}
	return out
}

// NewVerifier builds the verifier the integration asks for: a remote Events
// API lookup or SDK signature checking. A nil httpClient gets a default one.
func NewVerifier(cfg core.IntegrationConfig, remoteTimeout time.Duration, policy *ratelimit.AdaptivePolicy, httpClient *http.Client) (webhooks.EventVerifier, error) {
	stripeCfg := ConfigFromIntegration(cfg)
	stripeCfg.Policy = policy
	stripeCfg.HTTPClient = httpClient
	switch strings.ToLower(strings.TrimSpace(cfg.Verification)) {
	case core.VerificationRemote:
		client, err := NewClient(stripeCfg)
		if err != nil {
			return nil, err
		}
		fetcher, err := webhooks.NewRemoteEventFetcher(client, remoteTimeout)
		if err != nil {
			return nil, err
		}
		return fetcher, nil
	default:
		authenticator, err := NewAuthenticator(stripeCfg.WebhookSecret, stripeCfg.Tolerance)
		if err != nil {
			return nil, err
		}
		verifier, err := webhooks.NewAuthenticatedVerifier(authenticator)
		if err != nil {
			return nil, err
		}
		return verifier, nil
	}
}
