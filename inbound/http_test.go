package inbound

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/goliatone/go-payhooks/registry"
	"github.com/goliatone/go-payhooks/webhooks"
)

func newTestServer(t *testing.T, effects *sideEffects, maxBody int64) *httptest.Server {
	t.Helper()
	dispatcher := newTestDispatcher(t)
	if err := dispatcher.Register(signedIntegration(t, "shop", effects)); err != nil {
		t.Fatalf("register: %v", err)
	}
	mux := http.NewServeMux()
	NewHTTPHandler(dispatcher, maxBody).Mount(mux, "/webhooks")
	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)
	return server
}

func postSigned(t *testing.T, url string, body string, secret string) *http.Response {
	t.Helper()
	req, err := http.NewRequest(http.MethodPost, url, strings.NewReader(body))
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set(webhooks.DefaultSignatureHeader, signedRequest(t, "", secret, body).Headers[webhooks.DefaultSignatureHeader])
	res, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	t.Cleanup(func() { _ = res.Body.Close() })
	return res
}

func TestHTTPHandler_PathAndQuerySelectors(t *testing.T) {
	effects := &sideEffects{}
	server := newTestServer(t, effects, 0)

	res := postSigned(t, server.URL+"/webhooks/shop", paidBody, testSecret)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", res.StatusCode)
	}

	res = postSigned(t, server.URL+"/webhooks/?integration=shop", `{"id":"evt_q","type":"order.paid"}`, testSecret)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("expected 200 with query selector, got %d", res.StatusCode)
	}
	if effects.calls.Load() != 2 {
		t.Fatalf("expected two handled events, got %d", effects.calls.Load())
	}

	res = postSigned(t, server.URL+"/webhooks/shop", paidBody, "wrong")
	if res.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", res.StatusCode)
	}
}

func TestHTTPHandler_RejectsNonPost(t *testing.T) {
	server := newTestServer(t, &sideEffects{}, 0)
	res, err := http.Get(server.URL + "/webhooks/shop")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer res.Body.Close()
	if res.StatusCode != http.StatusMethodNotAllowed {
		t.Fatalf("expected 405, got %d", res.StatusCode)
	}
	if res.Header.Get("Allow") != http.MethodPost {
		t.Fatalf("expected Allow header, got %q", res.Header.Get("Allow"))
	}
}

func TestHTTPHandler_RejectsOversizedBody(t *testing.T) {
	effects := &sideEffects{}
	server := newTestServer(t, effects, 16)
	res := postSigned(t, server.URL+"/webhooks/shop", paidBody, testSecret)
	if res.StatusCode != http.StatusRequestEntityTooLarge {
		t.Fatalf("expected 413, got %d", res.StatusCode)
	}
	if effects.calls.Load() != 0 {
		t.Fatalf("expected no handler call")
	}
}

func TestRequestFromHTTP_BuildsAbsoluteURL(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "http://pay.example.com/webhooks/shop?x=1", nil)
	req.Header.Set("X-Forwarded-Proto", "https")
	req.Header.Set("X-Signature", "abc")
	req.RemoteAddr = "198.51.100.2:5555"
	req.SetPathValue(IntegrationPathValue, "shop")

	inbound := RequestFromHTTP(req, []byte("{}"))
	if inbound.URL != "https://pay.example.com/webhooks/shop?x=1" {
		t.Fatalf("unexpected url %q", inbound.URL)
	}
	if inbound.IntegrationID != "shop" || inbound.Header("x-signature") != "abc" {
		t.Fatalf("unexpected request %+v", inbound)
	}
}

func TestHTTPHandler_CanonicalURLIgnoresHostHeader(t *testing.T) {
	const canonical = "https://hooks.example.com/webhooks/square"
	effects := &sideEffects{}
	resolver, err := registry.NewExplicitResolver(map[string]registry.Factory{"order.paid": effects.factory()})
	if err != nil {
		t.Fatalf("new resolver: %v", err)
	}
	pinned := webhooks.SquareScheme(testSecret)
	pinned.CanonicalURL = canonical
	pinnedVerifier, err := webhooks.NewSignatureVerifier(pinned)
	if err != nil {
		t.Fatalf("new verifier: %v", err)
	}
	hostBound, err := webhooks.NewSignatureVerifier(webhooks.SquareScheme(testSecret))
	if err != nil {
		t.Fatalf("new verifier: %v", err)
	}

	dispatcher := newTestDispatcher(t)
	if err := dispatcher.Register(Integration{ID: "square", Verifier: pinnedVerifier, Resolver: resolver}); err != nil {
		t.Fatalf("register: %v", err)
	}
	if err := dispatcher.Register(Integration{ID: "square-host", Verifier: hostBound, Resolver: resolver}); err != nil {
		t.Fatalf("register: %v", err)
	}
	mux := http.NewServeMux()
	NewHTTPHandler(dispatcher, 0).Mount(mux, "/webhooks")
	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)

	signature := hostBound.Sign([]byte(paidBody), canonical, time.Time{})
	post := func(path string) int {
		req, err := http.NewRequest(http.MethodPost, server.URL+path, strings.NewReader(paidBody))
		if err != nil {
			t.Fatalf("new request: %v", err)
		}
		req.Host = "internal.svc.local:8080"
		req.Header.Set("X-Forwarded-Proto", "http")
		req.Header.Set("X-Square-Hmacsha256-Signature", signature)
		res, err := http.DefaultClient.Do(req)
		if err != nil {
			t.Fatalf("post: %v", err)
		}
		_ = res.Body.Close()
		return res.StatusCode
	}

	if status := post("/webhooks/square"); status != http.StatusOK {
		t.Fatalf("expected canonical url integration to accept, got %d", status)
	}
	if status := post("/webhooks/square-host"); status != http.StatusUnauthorized {
		t.Fatalf("expected host-derived url to mismatch, got %d", status)
	}
	if effects.calls.Load() != 1 {
		t.Fatalf("expected one handled event, got %d", effects.calls.Load())
	}
}
