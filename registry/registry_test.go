package registry

import (
	"context"
	"errors"
	"reflect"
	"testing"

	"github.com/goliatone/go-payhooks/core"
	"github.com/goliatone/go-payhooks/handlers"
	"github.com/goliatone/go-payhooks/webhooks"
)

type orderPaid struct{}

func (*orderPaid) RequirementsMet(context.Context, webhooks.VerifiedEvent) error { return nil }
func (*orderPaid) Process(context.Context, webhooks.VerifiedEvent) error         { return nil }

func requireDispatchReason(t *testing.T, err error, reason core.DispatchReason) {
	t.Helper()
	var dispatchErr *core.DispatchError
	if !errors.As(err, &dispatchErr) {
		t.Fatalf("expected dispatch error, got %v", err)
	}
	if dispatchErr.Reason != reason {
		t.Fatalf("expected %s, got %s", reason, dispatchErr.Reason)
	}
}

func TestConventionName(t *testing.T) {
	cases := map[string]string{
		"order.paid":                        "OrderPaid",
		"radar.early_fraud_warning.created": "RadarEarlyFraudWarningCreated",
		"charge.success":                    "ChargeSuccess",
		"INVOICE.PAYMENT_FAILED":            "InvoicePaymentFailed",
		"..payment__intent.":                "PaymentIntent",
		"":                                  "",
	}
	for input, expected := range cases {
		if got := ConventionName(input); got != expected {
			t.Fatalf("ConventionName(%q) = %q, want %q", input, got, expected)
		}
	}
}

func TestConventionResolver(t *testing.T) {
	namespace, err := NewNamespace("orders").
		Register("OrderPaid", func() handlers.EventHandler { return &orderPaid{} }).
		Build()
	if err != nil {
		t.Fatalf("build namespace: %v", err)
	}
	resolver := NewConventionResolver(namespace)

	resolution, err := resolver.Resolve("order.paid")
	if err != nil || !resolution.Found || resolution.Name != "OrderPaid" {
		t.Fatalf("expected OrderPaid resolution, got %#v (%v)", resolution, err)
	}
	if _, ok := resolution.Handler.(*orderPaid); !ok {
		t.Fatalf("expected orderPaid handler, got %T", resolution.Handler)
	}

	missing, err := resolver.Resolve("order.refunded")
	if err != nil || missing.Found {
		t.Fatalf("expected silent miss, got %#v (%v)", missing, err)
	}
	if missing.Name != "OrderRefunded" {
		t.Fatalf("expected derived name on miss, got %q", missing.Name)
	}
}

func TestExplicitResolver(t *testing.T) {
	resolver, err := NewExplicitResolver(map[string]Factory{
		"charge.success": func() handlers.EventHandler { return &orderPaid{} },
		"transfer.done":  func() handlers.EventHandler { return &orderPaid{} },
	})
	if err != nil {
		t.Fatalf("new resolver: %v", err)
	}
	if got := resolver.Types(); !reflect.DeepEqual(got, []string{"charge.success", "transfer.done"}) {
		t.Fatalf("unexpected types %v", got)
	}
	resolution, err := resolver.Resolve("charge.success")
	if err != nil || !resolution.Found {
		t.Fatalf("expected resolution, got %#v (%v)", resolution, err)
	}

	_, err = resolver.Resolve("charge.failed")
	requireDispatchReason(t, err, core.ReasonUnregisteredEventType)
	if outcome := core.Classify(err); outcome.Kind != core.OutcomePermanentFailure {
		t.Fatalf("expected permanent outcome, got %s", outcome)
	}
}

func TestCapabilityCheck(t *testing.T) {
	narrow := handlers.Func{Name: "OnlyRefunds", Types: []string{"order.refunded"}}
	resolver, _ := NewExplicitResolver(map[string]Factory{
		"order.paid":   func() handlers.EventHandler { return narrow },
		"order.nil":    func() handlers.EventHandler { return nil },
		"order.typed":  func() handlers.EventHandler { var h *orderPaid; return h },
		"order.panics": func() handlers.EventHandler { panic("bad wiring") },
	})
	for _, eventType := range []string{"order.paid", "order.nil", "order.typed", "order.panics"} {
		_, err := resolver.Resolve(eventType)
		requireDispatchReason(t, err, core.ReasonHandlerNotUsable)
	}
}

func TestRegistryConstructionRejectsBadInput(t *testing.T) {
	factory := func() handlers.EventHandler { return &orderPaid{} }
	if _, err := NewNamespace("x").Register("", factory).Build(); err == nil {
		t.Fatalf("expected empty name to fail")
	}
	if _, err := NewNamespace("x").Register("A", factory).Register("A", factory).Build(); err == nil {
		t.Fatalf("expected duplicate name to fail")
	}
	if _, err := NewNamespace("x").Register("A", nil).Build(); err == nil {
		t.Fatalf("expected nil factory to fail")
	}
	if _, err := NewExplicitResolver(map[string]Factory{" ": factory}); err == nil {
		t.Fatalf("expected empty type to fail")
	}
	if _, err := NewExplicitResolver(map[string]Factory{"a": factory, " a ": factory}); err == nil {
		t.Fatalf("expected duplicate normalized type to fail")
	}

	namespace, err := NewNamespace("x").RegisterType("order.paid", factory).Build()
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	if got := namespace.Names(); !reflect.DeepEqual(got, []string{"OrderPaid"}) {
		t.Fatalf("unexpected names %v", got)
	}
}
