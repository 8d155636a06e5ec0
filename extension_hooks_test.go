package payhooks

import (
	"context"
	"testing"

	"github.com/goliatone/go-payhooks/core"
	"github.com/goliatone/go-payhooks/providers"
	"github.com/goliatone/go-payhooks/registry"
	"github.com/goliatone/go-payhooks/webhooks"
)

type fixedVerifier struct{ err error }

func (v fixedVerifier) Verify(context.Context, core.InboundWebhookRequest) (webhooks.VerifiedEvent, error) {
	return webhooks.VerifiedEvent{}, v.err
}

func acmeFactory(core.IntegrationConfig, providers.Dependencies) (webhooks.EventVerifier, error) {
	return fixedVerifier{err: core.NewVerificationError(core.ReasonSignatureMismatch, nil)}, nil
}

func TestExtensionHooks_RegisterAndApplyVerifierPacks(t *testing.T) {
	hooks := NewExtensionHooks()
	pack := VerifierPack{
		Name:      "acme-pack",
		Factories: map[string]providers.VerifierFactory{" ACME ": acmeFactory},
	}
	if err := hooks.RegisterVerifierPack(pack); err != nil {
		t.Fatalf("register verifier pack: %v", err)
	}
	if err := hooks.RegisterVerifierPack(pack); err == nil {
		t.Fatalf("expected duplicate verifier pack registration error")
	}
	if err := hooks.RegisterVerifierPack(VerifierPack{Name: "empty"}); err == nil {
		t.Fatalf("expected empty verifier pack error")
	}

	verifiers := providers.NewRegistry()
	if err := hooks.ApplyVerifierPacks(verifiers); err != nil {
		t.Fatalf("apply verifier packs: %v", err)
	}
	issuers := verifiers.Issuers()
	if len(issuers) != 1 || issuers[0] != "acme" {
		t.Fatalf("expected acme issuer in registry, got %v", issuers)
	}
	if err := hooks.ApplyVerifierPacks(verifiers); err == nil {
		t.Fatalf("expected re-applying a pack to conflict")
	}
}

func TestExtensionHooks_VerifierPackOverridesGenericVerifier(t *testing.T) {
	hooks := NewExtensionHooks()
	if err := hooks.RegisterVerifierPack(VerifierPack{
		Name:      "acme-pack",
		Factories: map[string]providers.VerifierFactory{"acme": acmeFactory},
	}); err != nil {
		t.Fatalf("register verifier pack: %v", err)
	}
	svc, err := NewService(
		Config{Integrations: []core.IntegrationConfig{shopIntegration("")}},
		WithExtensionHooks(hooks),
	)
	if err != nil {
		t.Fatalf("new service: %v", err)
	}

	// A correctly signed body still fails: the pack verifier rejects everything.
	outcome := svc.Handle(context.Background(), signedDelivery("shop", shopSecret, `{"id":"evt_1","type":"order.paid"}`))
	if outcome.Outcome.Reason != string(core.ReasonSignatureMismatch) {
		t.Fatalf("expected pack verifier to run, got %s", outcome.Outcome)
	}
}

func TestExtensionHooks_HandlerPacksAndBundles(t *testing.T) {
	hooks := NewExtensionHooks()
	var calls int32
	if err := hooks.RegisterHandlerPack(HandlerPack{
		Name:          "pack_b",
		IntegrationID: "shop",
		Handlers:      map[string]registry.Factory{"order.refunded": countingFactory(&calls)},
	}); err != nil {
		t.Fatalf("register handler pack b: %v", err)
	}
	if err := hooks.RegisterHandlerPack(HandlerPack{
		Name:          "pack_a",
		IntegrationID: "shop",
		Handlers:      map[string]registry.Factory{"order.paid": countingFactory(&calls)},
	}); err != nil {
		t.Fatalf("register handler pack a: %v", err)
	}
	if err := hooks.RegisterHandlerPack(HandlerPack{Name: "pack_c", Handlers: map[string]registry.Factory{}}); err == nil {
		t.Fatalf("expected missing integration id error")
	}

	packs := hooks.HandlerPacks()
	if len(packs) != 2 || packs[0].Name != "pack_a" || packs[1].Name != "pack_b" {
		t.Fatalf("expected deterministic handler pack ordering, got %#v", packs)
	}
	types := hooks.HandlerTypes("shop")
	if len(types) != 2 || types[0] != "order.paid" || types[1] != "order.refunded" {
		t.Fatalf("unexpected handler types %v", types)
	}

	if err := hooks.RegisterCommandQueryBundle("ops", func(service *Service) (any, error) {
		return service.Queries().ListIntegrations, nil
	}); err != nil {
		t.Fatalf("register bundle: %v", err)
	}
	if err := hooks.RegisterCommandQueryBundle("ops", func(*Service) (any, error) { return nil, nil }); err == nil {
		t.Fatalf("expected duplicate bundle registration error")
	}

	svc, err := NewService(
		Config{Integrations: []core.IntegrationConfig{shopIntegration(core.MappingExplicit)}},
		WithExtensionHooks(hooks),
	)
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	if bundle, ok := svc.Bundle("ops"); !ok || bundle == nil {
		t.Fatalf("expected ops bundle to be built")
	}
	if names := hooks.BundleNames(); len(names) != 1 || names[0] != "ops" {
		t.Fatalf("unexpected bundle names %v", names)
	}

	outcome := svc.Handle(context.Background(), signedDelivery("shop", shopSecret, `{"id":"evt_r","type":"order.refunded"}`))
	if outcome.Outcome.Kind != core.OutcomeSuccess {
		t.Fatalf("expected pack handler to process refund, got %s", outcome.Outcome)
	}
	if calls != 1 {
		t.Fatalf("expected one handler call, got %d", calls)
	}
}

func TestExtensionHooks_ConflictingHandlerPacksFailService(t *testing.T) {
	hooks := NewExtensionHooks()
	var calls int32
	for _, name := range []string{"first", "second"} {
		if err := hooks.RegisterHandlerPack(HandlerPack{
			Name:          name,
			IntegrationID: "shop",
			Handlers:      map[string]registry.Factory{"order.paid": countingFactory(&calls)},
		}); err != nil {
			t.Fatalf("register handler pack %s: %v", name, err)
		}
	}
	if _, err := NewService(Config{}, WithExtensionHooks(hooks)); err == nil {
		t.Fatalf("expected duplicate event type across packs to fail")
	}
}
