package webhooks

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"crypto/sha512"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"strconv"
	"testing"
	"time"

	"github.com/goliatone/go-payhooks/core"
)

const orderPaidBody = `{"id":"evt_1","type":"order.paid"}`

func hexHMAC256(secret string, body string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(body))
	return hex.EncodeToString(mac.Sum(nil))
}

func requireReason(t *testing.T, err error, reason core.VerificationReason) {
	t.Helper()
	var verification *core.VerificationError
	if !errors.As(err, &verification) {
		t.Fatalf("expected verification error, got %v", err)
	}
	if verification.Reason != reason {
		t.Fatalf("expected reason %s, got %s", reason, verification.Reason)
	}
}

func TestSignatureVerifierAcceptsGenericHexSHA256(t *testing.T) {
	verifier, err := NewSignatureVerifier(GenericHexSHA256("s3cret"))
	if err != nil {
		t.Fatalf("new verifier: %v", err)
	}
	event, err := verifier.Verify(context.Background(), core.InboundWebhookRequest{
		IntegrationID: "shop",
		Body:          []byte(orderPaidBody),
		Headers:       map[string]string{"x-signature": hexHMAC256("s3cret", orderPaidBody)},
	})
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if event.ID() != "evt_1" || event.Type() != "order.paid" {
		t.Fatalf("unexpected event %s/%s", event.ID(), event.Type())
	}
	if event.IntegrationID() != "shop" || event.Source() != SourceSignature {
		t.Fatalf("unexpected event metadata %s/%s", event.IntegrationID(), event.Source())
	}
	if event.Mode() != ModeUnspecified {
		t.Fatalf("expected unspecified mode, got %q", event.Mode())
	}
	if event.ClaimKey() != "shop:evt_1" {
		t.Fatalf("unexpected claim key %q", event.ClaimKey())
	}
	if event.ReceivedAt().IsZero() {
		t.Fatalf("expected received time to be set")
	}
}

func TestSignatureVerifierRejectsWrongSecret(t *testing.T) {
	verifier, _ := NewSignatureVerifier(GenericHexSHA256("s3cret"))
	_, err := verifier.Verify(context.Background(), core.InboundWebhookRequest{
		Body:    []byte(orderPaidBody),
		Headers: map[string]string{"X-Signature": hexHMAC256("wrong", orderPaidBody)},
	})
	requireReason(t, err, core.ReasonSignatureMismatch)
}

func TestSignatureVerifierRejectsMissingHeader(t *testing.T) {
	verifier, _ := NewSignatureVerifier(GenericHexSHA256("s3cret"))
	_, err := verifier.Verify(context.Background(), core.InboundWebhookRequest{Body: []byte(orderPaidBody)})
	requireReason(t, err, core.ReasonMissingSignature)
}

func TestSignatureVerifierRejectsTamperedBody(t *testing.T) {
	verifier, _ := NewSignatureVerifier(GenericHexSHA256("s3cret"))
	_, err := verifier.Verify(context.Background(), core.InboundWebhookRequest{
		Body:    []byte(`{"id":"evt_1","type":"order.refunded"}`),
		Headers: map[string]string{"X-Signature": hexHMAC256("s3cret", orderPaidBody)},
	})
	requireReason(t, err, core.ReasonSignatureMismatch)
}

func TestSignatureVerifierEncodingsAndAlgorithms(t *testing.T) {
	body := `{"id":"evt_9","type":"charge.success","livemode":true}`

	mac512 := hmac.New(sha512.New, []byte("key"))
	mac512.Write([]byte(body))
	mac256 := hmac.New(sha256.New, []byte("key"))
	mac256.Write([]byte(body))

	cases := []struct {
		name   string
		scheme SignatureScheme
		value  string
	}{
		{"paystack sha512 hex", PaystackScheme("key"), hex.EncodeToString(mac512.Sum(nil))},
		{"shopify base64", ShopifyScheme("key"), base64.StdEncoding.EncodeToString(mac256.Sum(nil))},
		{"base64url unpadded", SignatureScheme{Secret: "key", Encoding: EncodingBase64URL, Header: "X-Sig"}, base64.RawURLEncoding.EncodeToString(mac256.Sum(nil))},
		{"prefixed", PrefixedScheme("X-Hub-Signature-256", "key"), "sha256=" + hex.EncodeToString(mac256.Sum(nil))},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			verifier, err := NewSignatureVerifier(tc.scheme)
			if err != nil {
				t.Fatalf("new verifier: %v", err)
			}
			header := verifier.scheme.Header
			event, err := verifier.Verify(context.Background(), core.InboundWebhookRequest{
				Body:    []byte(body),
				Headers: map[string]string{header: tc.value},
			})
			if err != nil {
				t.Fatalf("verify: %v", err)
			}
			if event.Mode() != ModeLive {
				t.Fatalf("expected live mode from livemode=true, got %q", event.Mode())
			}
			if got := verifier.Sign([]byte(body), "", time.Time{}); got != tc.value {
				t.Fatalf("expected Sign to produce %q, got %q", tc.value, got)
			}
		})
	}
}

func TestSignatureVerifierBindsURL(t *testing.T) {
	verifier, err := NewSignatureVerifier(SquareScheme("key"))
	if err != nil {
		t.Fatalf("new verifier: %v", err)
	}
	url := "https://hooks.example.com/webhooks/square"
	signature := verifier.Sign([]byte(orderPaidBody), url, time.Time{})

	if _, err := verifier.Verify(context.Background(), core.InboundWebhookRequest{
		URL:     url,
		Body:    []byte(orderPaidBody),
		Headers: map[string]string{"X-Square-Hmacsha256-Signature": signature},
	}); err != nil {
		t.Fatalf("expected url-bound signature to verify: %v", err)
	}

	_, err = verifier.Verify(context.Background(), core.InboundWebhookRequest{
		URL:     "https://evil.example.com/webhooks/square",
		Body:    []byte(orderPaidBody),
		Headers: map[string]string{"X-Square-Hmacsha256-Signature": signature},
	})
	requireReason(t, err, core.ReasonSignatureMismatch)
}

func TestSignatureVerifierTimestampTolerance(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	verifier, err := NewSignatureVerifier(TimestampedScheme("X-Sig", "X-Ts", "key"))
	if err != nil {
		t.Fatalf("new verifier: %v", err)
	}
	verifier.Now = func() time.Time { return now }

	fresh := now.Add(-time.Minute)
	req := core.InboundWebhookRequest{
		Body: []byte(orderPaidBody),
		Headers: map[string]string{
			"X-Sig": verifier.Sign([]byte(orderPaidBody), "", fresh),
			"X-Ts":  strconv.FormatInt(fresh.Unix(), 10),
		},
	}
	if _, err := verifier.Verify(context.Background(), req); err != nil {
		t.Fatalf("expected fresh timestamp to verify: %v", err)
	}

	stale := now.Add(-time.Hour)
	req.Headers = map[string]string{
		"X-Sig": verifier.Sign([]byte(orderPaidBody), "", stale),
		"X-Ts":  strconv.FormatInt(stale.Unix(), 10),
	}
	_, err = verifier.Verify(context.Background(), req)
	requireReason(t, err, core.ReasonSignatureMismatch)

	req.Headers = map[string]string{"X-Sig": verifier.Sign([]byte(orderPaidBody), "", fresh)}
	_, err = verifier.Verify(context.Background(), req)
	requireReason(t, err, core.ReasonSignatureMismatch)
}

func TestSignatureVerifierMalformedAuthenticBody(t *testing.T) {
	verifier, _ := NewSignatureVerifier(GenericHexSHA256("s3cret"))
	for _, body := range []string{`{"type":"order.paid"}`, `{"id":"evt_1"}`, `not-json`} {
		_, err := verifier.Verify(context.Background(), core.InboundWebhookRequest{
			Body:    []byte(body),
			Headers: map[string]string{"X-Signature": hexHMAC256("s3cret", body)},
		})
		requireReason(t, err, core.ReasonMalformedEvent)
	}
}

func TestNewSignatureSchemeRejectsMisconfiguration(t *testing.T) {
	cases := map[string]SignatureScheme{
		"empty secret":       {Header: "X-Sig"},
		"blank secret":       {Secret: "   ", Header: "X-Sig"},
		"unknown algorithm":  {Secret: "k", Header: "X-Sig", Algorithm: "md5"},
		"unknown encoding":   {Secret: "k", Header: "X-Sig", Encoding: "base32"},
		"missing header":     {Secret: "k"},
		"value without slot": {Secret: "k", Header: "X-Sig", ValueTemplate: "v1="},
		"unknown slot":       {Secret: "k", Header: "X-Sig", CanonicalTemplate: "{method}{body}"},
		"timestamp no hdr":   {Secret: "k", Header: "X-Sig", CanonicalTemplate: "{timestamp}.{body}"},
		"literal template":   {Secret: "k", Header: "X-Sig", CanonicalTemplate: "static"},
		"negative tolerance": {Secret: "k", Header: "X-Sig", TimestampHeader: "X-Ts", Tolerance: -time.Second},
		"relative canonical": {Secret: "k", Header: "X-Sig", CanonicalTemplate: "{url}{body}", CanonicalURL: "/webhooks/square"},
	}
	for name, scheme := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := NewSignatureVerifier(scheme)
			var configErr *core.ConfigurationError
			if !errors.As(err, &configErr) {
				t.Fatalf("expected configuration error, got %v", err)
			}
		})
	}
}

func TestSchemeFromConfigAppliesPresetAndOverrides(t *testing.T) {
	scheme, err := SchemeFromConfig(core.SignatureConfig{Preset: "paystack", Secret: "k", Header: "X-Custom"})
	if err != nil {
		t.Fatalf("scheme from config: %v", err)
	}
	if scheme.Algorithm != AlgorithmSHA512 || scheme.Header != "X-Custom" {
		t.Fatalf("unexpected scheme %#v", scheme)
	}

	scheme, err = SchemeFromConfig(core.SignatureConfig{Secret: "k"})
	if err != nil {
		t.Fatalf("scheme from config: %v", err)
	}
	if scheme.Header != DefaultSignatureHeader || scheme.Encoding != EncodingHex {
		t.Fatalf("expected generic defaults, got %#v", scheme)
	}

	if _, err := SchemeFromConfig(core.SignatureConfig{Preset: "nope", Secret: "k"}); err == nil {
		t.Fatalf("expected unknown preset to fail")
	}
}

func TestVerifiedEventIsImmutable(t *testing.T) {
	verifier, _ := NewSignatureVerifier(GenericHexSHA256("s3cret"))
	body := []byte(orderPaidBody)
	event, err := verifier.Verify(context.Background(), core.InboundWebhookRequest{
		Body:    body,
		Headers: map[string]string{"X-Signature": hexHMAC256("s3cret", orderPaidBody)},
	})
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	body[0] = 'X'
	payload := event.Payload()
	payload[1] = 'X'
	if string(event.Payload()) != orderPaidBody {
		t.Fatalf("expected payload to be isolated from caller buffers, got %s", event.Payload())
	}
	var decoded struct {
		Type string `json:"type"`
	}
	if err := event.Decode(&decoded); err != nil || decoded.Type != "order.paid" {
		t.Fatalf("decode payload: %v %#v", err, decoded)
	}
	if verifier.Scheme().Secret == "s3cret" {
		t.Fatalf("expected scheme accessor to mask the secret")
	}
}

func TestModeMatching(t *testing.T) {
	if ParseMode("LIVE") != ModeLive || ParseMode("sandbox") != ModeTest || ParseMode("??") != ModeUnspecified {
		t.Fatalf("unexpected ParseMode results")
	}
	if ModeTest.Matches(ModeLive) {
		t.Fatalf("expected test event to mismatch live integration")
	}
	if !ModeUnspecified.Matches(ModeLive) || !ModeLive.Matches(ModeUnspecified) {
		t.Fatalf("expected unspecified mode to match")
	}
}

func TestSignatureVerifierUsesCanonicalURL(t *testing.T) {
	const canonical = "https://hooks.example.com/webhooks/square"
	scheme := SquareScheme("key")
	scheme.CanonicalURL = canonical
	verifier, err := NewSignatureVerifier(scheme)
	if err != nil {
		t.Fatalf("new verifier: %v", err)
	}
	plain, _ := NewSignatureVerifier(SquareScheme("key"))
	signature := plain.Sign([]byte(orderPaidBody), canonical, time.Time{})

	if got := verifier.Sign([]byte(orderPaidBody), "http://10.0.0.4:8080/webhooks/square", time.Time{}); got != signature {
		t.Fatalf("expected canonical url to replace the signing url")
	}
	if _, err := verifier.Verify(context.Background(), core.InboundWebhookRequest{
		URL:     "http://10.0.0.4:8080/webhooks/square",
		Body:    []byte(orderPaidBody),
		Headers: map[string]string{"X-Square-Hmacsha256-Signature": signature},
	}); err != nil {
		t.Fatalf("expected canonical url to verify behind a proxy: %v", err)
	}

	other, _ := NewSignatureVerifier(SquareScheme("key"))
	_, err = verifier.Verify(context.Background(), core.InboundWebhookRequest{
		URL:     canonical,
		Body:    []byte(orderPaidBody),
		Headers: map[string]string{"X-Square-Hmacsha256-Signature": other.Sign([]byte(orderPaidBody), "https://evil.example.com/", time.Time{})},
	})
	requireReason(t, err, core.ReasonSignatureMismatch)

	fromConfig, err := SchemeFromConfig(core.SignatureConfig{Preset: "square", Secret: "key", CanonicalURL: " " + canonical + " "})
	if err != nil {
		t.Fatalf("scheme from config: %v", err)
	}
	if fromConfig.CanonicalURL != canonical {
		t.Fatalf("expected canonical url from config, got %q", fromConfig.CanonicalURL)
	}
}

func TestSignatureVerifierRejectsEverySingleByteChange(t *testing.T) {
	body := []byte(orderPaidBody)
	schemes := map[Encoding]SignatureScheme{
		EncodingHex:       {Secret: "key", Encoding: EncodingHex, Header: "X-Sig"},
		EncodingBase64:    {Secret: "key", Encoding: EncodingBase64, Header: "X-Sig"},
		EncodingBase64URL: {Secret: "key", Encoding: EncodingBase64URL, Header: "X-Sig"},
	}
	for encoding, scheme := range schemes {
		t.Run(string(encoding), func(t *testing.T) {
			verifier, err := NewSignatureVerifier(scheme)
			if err != nil {
				t.Fatalf("new verifier: %v", err)
			}
			signature := verifier.Sign(body, "", time.Time{})

			for i := range body {
				changed := append([]byte(nil), body...)
				changed[i] ^= 0x01
				_, err := verifier.Verify(context.Background(), core.InboundWebhookRequest{
					Body:    changed,
					Headers: map[string]string{"X-Sig": signature},
				})
				requireReason(t, err, core.ReasonSignatureMismatch)
			}
			for i := range len(signature) {
				changed := []byte(signature)
				changed[i] ^= 0x01
				_, err := verifier.Verify(context.Background(), core.InboundWebhookRequest{
					Body:    body,
					Headers: map[string]string{"X-Sig": string(changed)},
				})
				requireReason(t, err, core.ReasonSignatureMismatch)
			}
		})
	}
}

func TestPresetsRequireSignatureHeader(t *testing.T) {
	names := []string{"generic", "hex_sha256", "paystack", "square", "shopify", "razorpay", "prefixed", "github", "timestamped"}
	for _, name := range names {
		t.Run(name, func(t *testing.T) {
			scheme, ok := Preset(name, "key")
			if !ok {
				t.Fatalf("expected preset %q", name)
			}
			verifier, err := NewSignatureVerifier(scheme)
			if err != nil {
				t.Fatalf("new verifier: %v", err)
			}
			now := time.Now()
			headers := map[string]string{"X-Unrelated": verifier.Sign([]byte(orderPaidBody), "", now)}
			if scheme.TimestampHeader != "" {
				headers[scheme.TimestampHeader] = strconv.FormatInt(now.Unix(), 10)
			}
			_, err = verifier.Verify(context.Background(), core.InboundWebhookRequest{
				URL:     "https://hooks.example.com/webhooks/" + name,
				Body:    []byte(orderPaidBody),
				Headers: headers,
			})
			requireReason(t, err, core.ReasonMissingSignature)
		})
	}
}
