package webhooks

import (
	"context"
	"crypto/hmac"
	"crypto/subtle"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/goliatone/go-payhooks/core"
)

type SignatureVerifier struct {
	scheme SignatureScheme
	Now    func() time.Time
}

// NewSignatureVerifier validates scheme and returns a verifier bound to it.
// Invalid schemes fail here, never during Verify.
func NewSignatureVerifier(scheme SignatureScheme) (*SignatureVerifier, error) {
	validated, err := NewSignatureScheme(scheme)
	if err != nil {
		return nil, err
	}
	return &SignatureVerifier{
		scheme: validated,
		Now: func() time.Time {
			return time.Now().UTC()
		},
	}, nil
}

func (v *SignatureVerifier) Scheme() SignatureScheme {
	if v == nil {
		return SignatureScheme{}
	}
	scheme := v.scheme
	scheme.Secret = core.RedactedValue
	return scheme
}

func (v *SignatureVerifier) Verify(_ context.Context, req core.InboundWebhookRequest) (VerifiedEvent, error) {
	if v == nil {
		return VerifiedEvent{}, core.NewConfigurationError("signature", "verifier is not configured")
	}
	received := req.Header(v.scheme.Header)
	if received == "" {
		return VerifiedEvent{}, verificationError(req, core.ReasonMissingSignature,
			fmt.Errorf("webhooks: %s header is required", v.scheme.Header))
	}

	timestamp := ""
	if v.scheme.TimestampHeader != "" {
		timestamp = req.Header(v.scheme.TimestampHeader)
		if err := v.checkTimestamp(timestamp); err != nil {
			return VerifiedEvent{}, verificationError(req, core.ReasonSignatureMismatch, err)
		}
	}

	expected := v.render(req.Body, req.URL, timestamp)
	if subtle.ConstantTimeCompare([]byte(expected), []byte(received)) != 1 {
		return VerifiedEvent{}, verificationError(req, core.ReasonSignatureMismatch,
			fmt.Errorf("webhooks: signature verification failed"))
	}
	return eventFromAuthenticatedBody(req, req.Body, SourceSignature, v.now)
}

// Sign returns the header value a sender would attach to body. A zero
// timestamp leaves {timestamp} empty; a configured CanonicalURL replaces url.
func (v *SignatureVerifier) Sign(body []byte, url string, timestamp time.Time) string {
	if v == nil {
		return ""
	}
	return v.render(body, url, FormatTimestamp(timestamp))
}

func (v *SignatureVerifier) render(body []byte, url string, timestamp string) string {
	if v.scheme.CanonicalURL != "" {
		url = v.scheme.CanonicalURL
	}
	newHash, _ := v.scheme.Algorithm.hasher()
	mac := hmac.New(newHash, []byte(v.scheme.Secret))
	_, _ = mac.Write(canonicalInput(v.scheme.CanonicalTemplate, body, url, timestamp))
	digest := encodeDigest(v.scheme.Encoding, mac.Sum(nil))
	if v.scheme.ValueTemplate == "" {
		return digest
	}
	return strings.Replace(v.scheme.ValueTemplate, PlaceholderDigest, digest, 1)
}

func (v *SignatureVerifier) checkTimestamp(raw string) error {
	if raw == "" {
		return fmt.Errorf("webhooks: %s header is required", v.scheme.TimestampHeader)
	}
	seconds, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
	if err != nil {
		return fmt.Errorf("webhooks: invalid timestamp: %w", err)
	}
	skew := v.now().Sub(time.Unix(seconds, 0))
	if skew < 0 {
		skew = -skew
	}
	if skew > v.scheme.Tolerance {
		return fmt.Errorf("webhooks: timestamp outside tolerance of %s", v.scheme.Tolerance)
	}
	return nil
}

func (v *SignatureVerifier) now() time.Time {
	if v != nil && v.Now != nil {
		return v.Now().UTC()
	}
	return time.Now().UTC()
}

func FormatTimestamp(ts time.Time) string {
	if ts.IsZero() {
		return ""
	}
	return strconv.FormatInt(ts.Unix(), 10)
}

func canonicalInput(template string, body []byte, url string, timestamp string) []byte {
	if strings.TrimSpace(template) == "" {
		return body
	}
	replacer := strings.NewReplacer(
		PlaceholderURL, url,
		PlaceholderBody, string(body),
		PlaceholderTimestamp, timestamp,
	)
	return []byte(replacer.Replace(template))
}

func encodeDigest(encoding Encoding, digest []byte) string {
	switch encoding {
	case EncodingBase64:
		return base64.StdEncoding.EncodeToString(digest)
	case EncodingBase64URL:
		return base64.RawURLEncoding.EncodeToString(digest)
	default:
		return hex.EncodeToString(digest)
	}
}

var _ EventVerifier = (*SignatureVerifier)(nil)
