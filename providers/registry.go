package providers

import (
	"fmt"
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/goliatone/go-payhooks/core"
	"github.com/goliatone/go-payhooks/providers/stripe"
	"github.com/goliatone/go-payhooks/ratelimit"
	"github.com/goliatone/go-payhooks/transport"
	"github.com/goliatone/go-payhooks/webhooks"
)

// Dependencies are shared by every verifier a Registry builds.
type Dependencies struct {
	RemoteTimeout time.Duration
	HTTPClient    transport.HTTPDoer
	Policy        *ratelimit.AdaptivePolicy
}

// VerifierFactory builds the verifier for one integration of an issuer.
type VerifierFactory func(cfg core.IntegrationConfig, deps Dependencies) (webhooks.EventVerifier, error)

type Registry struct {
	mu        sync.RWMutex
	factories map[string]VerifierFactory
}

func NewRegistry() *Registry {
	return &Registry{factories: map[string]VerifierFactory{}}
}

// DefaultRegistry knows the built-in issuers.
func DefaultRegistry() *Registry {
	registry := NewRegistry()
	_ = registry.Register(stripe.IssuerID, StripeVerifier)
	return registry
}

func (r *Registry) Register(issuer string, factory VerifierFactory) error {
	if r == nil {
		return fmt.Errorf("providers: registry is nil")
	}
	issuer = normalizeIssuer(issuer)
	if issuer == "" {
		return fmt.Errorf("providers: issuer is required")
	}
	if factory == nil {
		return fmt.Errorf("providers: factory for %q is nil", issuer)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.factories[issuer]; exists {
		return fmt.Errorf("providers: issuer %q already registered", issuer)
	}
	r.factories[issuer] = factory
	return nil
}

func (r *Registry) Issuers() []string {
	if r == nil {
		return nil
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.factories))
	for issuer := range r.factories {
		out = append(out, issuer)
	}
	sort.Strings(out)
	return out
}

// Build returns the verifier for cfg. A registered issuer factory wins; the
// generic signature and remote verifiers serve the rest. Issuer SDK signature
// verification needs a registered factory.
func (r *Registry) Build(cfg core.IntegrationConfig, deps Dependencies) (webhooks.EventVerifier, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if r != nil {
		r.mu.RLock()
		factory, ok := r.factories[normalizeIssuer(cfg.Issuer)]
		r.mu.RUnlock()
		if ok {
			return factory(cfg, deps)
		}
	}

	switch strings.ToLower(strings.TrimSpace(cfg.Verification)) {
	case core.VerificationSignature:
		return SignatureVerifier(cfg, deps)
	case core.VerificationRemote:
		return RemoteVerifier(cfg, deps)
	default:
		return nil, core.NewConfigurationError(
			fmt.Sprintf("integrations[%s].verification", cfg.ID),
			fmt.Sprintf("issuer %q has no signature authenticator", cfg.Issuer),
		)
	}
}

func SignatureVerifier(cfg core.IntegrationConfig, _ Dependencies) (webhooks.EventVerifier, error) {
	scheme, err := webhooks.SchemeFromConfig(cfg.Signature)
	if err != nil {
		return nil, err
	}
	verifier, err := webhooks.NewSignatureVerifier(scheme)
	if err != nil {
		return nil, err
	}
	return verifier, nil
}

func RemoteVerifier(cfg core.IntegrationConfig, deps Dependencies) (webhooks.EventVerifier, error) {
	client, err := transport.NewRESTIssuerClient(cfg.Issuer, cfg.Remote, deps.HTTPClient)
	if err != nil {
		return nil, err
	}
	client.Policy = deps.Policy
	fetcher, err := webhooks.NewRemoteEventFetcher(client, remoteTimeout(cfg, deps))
	if err != nil {
		return nil, err
	}
	return fetcher, nil
}

// StripeVerifier keeps the generic signature scheme available to Stripe
// integrations and routes the other modes through the SDK.
func StripeVerifier(cfg core.IntegrationConfig, deps Dependencies) (webhooks.EventVerifier, error) {
	if strings.EqualFold(strings.TrimSpace(cfg.Verification), core.VerificationSignature) {
		return SignatureVerifier(cfg, deps)
	}
	// The SDK backend only takes an *http.Client; other doers fall back to its default.
	httpClient, _ := deps.HTTPClient.(*http.Client)
	return stripe.NewVerifier(cfg, remoteTimeout(cfg, deps), deps.Policy, httpClient)
}

func remoteTimeout(cfg core.IntegrationConfig, deps Dependencies) time.Duration {
	if cfg.Remote.Timeout > 0 {
		return cfg.Remote.Timeout
	}
	return deps.RemoteTimeout
}

func normalizeIssuer(issuer string) string {
	return strings.ToLower(strings.TrimSpace(issuer))
}
