package webhooks

import (
	"context"
	"errors"
	"time"

	"github.com/goliatone/go-payhooks/core"
)

// PayloadAuthenticator checks a delivery with an issuer SDK. It returns nil
// only when the body is authentic.
type PayloadAuthenticator interface {
	Authenticate(ctx context.Context, req core.InboundWebhookRequest) error
}

type PayloadAuthenticatorFunc func(ctx context.Context, req core.InboundWebhookRequest) error

func (f PayloadAuthenticatorFunc) Authenticate(ctx context.Context, req core.InboundWebhookRequest) error {
	return f(ctx, req)
}

type AuthenticatedVerifier struct {
	authenticator PayloadAuthenticator
	Now           func() time.Time
}

func NewAuthenticatedVerifier(authenticator PayloadAuthenticator) (*AuthenticatedVerifier, error) {
	if authenticator == nil {
		return nil, core.NewConfigurationError("signature.authenticator", "payload authenticator is required")
	}
	return &AuthenticatedVerifier{
		authenticator: authenticator,
		Now: func() time.Time {
			return time.Now().UTC()
		},
	}, nil
}

func (v *AuthenticatedVerifier) Verify(ctx context.Context, req core.InboundWebhookRequest) (VerifiedEvent, error) {
	if v == nil {
		return VerifiedEvent{}, core.NewConfigurationError("signature", "verifier is not configured")
	}
	if err := v.authenticator.Authenticate(ctx, req); err != nil {
		var verification *core.VerificationError
		if errors.As(err, &verification) {
			if verification.IntegrationID == "" {
				verification.IntegrationID = req.IntegrationID
			}
			return VerifiedEvent{}, verification
		}
		return VerifiedEvent{}, verificationError(req, core.ReasonSignatureMismatch, err)
	}
	return eventFromAuthenticatedBody(req, req.Body, SourceSignature, v.Now)
}

var _ EventVerifier = (*AuthenticatedVerifier)(nil)
