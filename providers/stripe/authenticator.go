package stripe

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/stripe/stripe-go/v76/webhook"

	"github.com/goliatone/go-payhooks/core"
	"github.com/goliatone/go-payhooks/webhooks"
)

// Authenticator checks Stripe-Signature with the SDK's validator. The API
// version of the payload is not checked.
type Authenticator struct {
	secret    string
	tolerance time.Duration
}

func NewAuthenticator(secret string, tolerance time.Duration) (*Authenticator, error) {
	secret = strings.TrimSpace(secret)
	if secret == "" {
		return nil, core.NewConfigurationError("signature.secret", "stripe webhook secret is required")
	}
	if tolerance <= 0 {
		tolerance = DefaultTolerance
	}
	return &Authenticator{secret: secret, tolerance: tolerance}, nil
}

func (a *Authenticator) Authenticate(_ context.Context, req core.InboundWebhookRequest) error {
	header := req.Header(SignatureHeader)
	if header == "" {
		return core.NewVerificationError(core.ReasonMissingSignature, webhook.ErrNotSigned)
	}
	err := webhook.ValidatePayloadWithTolerance(req.Body, header, a.secret, a.tolerance)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, webhook.ErrNotSigned):
		return core.NewVerificationError(core.ReasonMissingSignature, err)
	default:
		return core.NewVerificationError(core.ReasonSignatureMismatch, err)
	}
}

var _ webhooks.PayloadAuthenticator = (*Authenticator)(nil)
