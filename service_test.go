package payhooks

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/goliatone/go-command"

	"github.com/goliatone/go-payhooks/adapters/gocommand"
	payhookscommand "github.com/goliatone/go-payhooks/command"
	"github.com/goliatone/go-payhooks/core"
	"github.com/goliatone/go-payhooks/handlers"
	"github.com/goliatone/go-payhooks/inbound"
	payhooksquery "github.com/goliatone/go-payhooks/query"
	"github.com/goliatone/go-payhooks/registry"
	"github.com/goliatone/go-payhooks/webhooks"
)

const shopSecret = "shop_secret"

func shopIntegration(mapping string) core.IntegrationConfig {
	return core.IntegrationConfig{
		ID:           "shop",
		Issuer:       "acme",
		Verification: core.VerificationSignature,
		Mapping:      mapping,
		Signature:    core.SignatureConfig{Preset: "generic", Secret: shopSecret},
	}
}

func signedDelivery(integrationID string, secret string, body string) core.InboundWebhookRequest {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(body))
	return core.InboundWebhookRequest{
		IntegrationID: integrationID,
		Headers:       map[string]string{webhooks.DefaultSignatureHeader: hex.EncodeToString(mac.Sum(nil))},
		Body:          []byte(body),
		RemoteAddr:    "203.0.113.7:4000",
	}
}

func countingFactory(calls *int32) registry.Factory {
	return func() handlers.EventHandler {
		return handlers.Func{
			Name: "OrderPaid",
			Handle: func(context.Context, webhooks.VerifiedEvent) error {
				atomic.AddInt32(calls, 1)
				return nil
			},
		}
	}
}

func TestNewService_RegistersConfiguredIntegrations(t *testing.T) {
	svc, err := NewService(Config{
		Integrations: []core.IntegrationConfig{
			shopIntegration(core.MappingConvention),
			{
				ID:           "stripe-main",
				Issuer:       "stripe",
				Verification: core.VerificationAuthenticated,
				Signature:    core.SignatureConfig{Secret: "whsec_test"},
			},
		},
	})
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	ids := svc.Dispatcher().IntegrationIDs()
	if len(ids) != 2 || ids[0] != "shop" || ids[1] != "stripe-main" {
		t.Fatalf("unexpected integrations %v", ids)
	}
	if svc.Config().ServiceName != "payhooks" {
		t.Fatalf("expected default service name, got %q", svc.Config().ServiceName)
	}
	if svc.Commands().HandleWebhook == nil || svc.Queries().GetEventClaim == nil {
		t.Fatalf("expected command and query bundle to be wired")
	}
	if svc.TokenValidator() != nil {
		t.Fatalf("expected no token validator without keys")
	}
}

func TestNewService_RejectsInvalidIntegration(t *testing.T) {
	_, err := NewService(Config{
		Integrations: []core.IntegrationConfig{{ID: "shop", Issuer: "acme", Verification: core.VerificationSignature}},
	})
	if err == nil {
		t.Fatalf("expected missing secret to fail")
	}
	if !strings.Contains(err.Error(), "signature.secret") {
		t.Fatalf("expected secret field in error, got %v", err)
	}

	if _, err := NewService(Config{}, WithHandlers("", map[string]registry.Factory{})); err == nil {
		t.Fatalf("expected empty integration id to fail")
	}
}

func TestService_HandlesSignedDeliveryAndNotifies(t *testing.T) {
	var calls int32
	svc, err := NewService(
		Config{Integrations: []core.IntegrationConfig{shopIntegration(core.MappingConvention)}},
		WithHandlers("shop", map[string]registry.Factory{"order.paid": countingFactory(&calls)}),
	)
	if err != nil {
		t.Fatalf("new service: %v", err)
	}

	var notified []core.EventNotification
	unsubscribe, err := svc.Subscribe(inbound.NotificationKey("order.paid"), func(_ context.Context, n core.EventNotification) error {
		notified = append(notified, n)
		return nil
	})
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	defer unsubscribe()

	body := `{"id":"evt_1","type":"order.paid"}`
	outcome := svc.Handle(context.Background(), signedDelivery("shop", shopSecret, body))
	if outcome.Outcome.Kind != core.OutcomeSuccess {
		t.Fatalf("expected success, got %s (%v)", outcome.Outcome, outcome.Err)
	}
	if outcome.Handler != "OrderPaid" {
		t.Fatalf("expected conventional handler name, got %q", outcome.Handler)
	}
	if atomic.LoadInt32(&calls) != 1 {
		t.Fatalf("expected handler once, got %d", calls)
	}
	if len(notified) != 1 || notified[0].EventID != "evt_1" {
		t.Fatalf("expected one notification for evt_1, got %#v", notified)
	}

	redelivery := svc.Handle(context.Background(), signedDelivery("shop", shopSecret, body))
	if !redelivery.Outcome.Acknowledged() {
		t.Fatalf("expected redelivery to be acknowledged, got %s", redelivery.Outcome)
	}
	if atomic.LoadInt32(&calls) != 1 {
		t.Fatalf("expected redelivery to skip the handler, got %d calls", calls)
	}

	claim, err := svc.Queries().GetEventClaim.Query(context.Background(), payhooksquery.GetEventClaimMessage{
		IntegrationID: "shop",
		EventID:       "evt_1",
	})
	if err != nil {
		t.Fatalf("get claim: %v", err)
	}
	if claim.Status != core.ClaimStatusCompleted {
		t.Fatalf("expected completed claim, got %q", claim.Status)
	}
}

func TestService_ExplicitMappingRejectsUnregisteredType(t *testing.T) {
	var calls int32
	svc, err := NewService(
		Config{Integrations: []core.IntegrationConfig{shopIntegration(core.MappingExplicit)}},
		WithHandlers("shop", map[string]registry.Factory{"order.paid": countingFactory(&calls)}),
	)
	if err != nil {
		t.Fatalf("new service: %v", err)
	}

	outcome := svc.Handle(context.Background(), signedDelivery("shop", shopSecret, `{"id":"evt_2","type":"order.refunded"}`))
	if outcome.Outcome.Kind != core.OutcomePermanentFailure {
		t.Fatalf("expected permanent failure, got %s", outcome.Outcome)
	}
	if outcome.Outcome.Reason != string(core.ReasonUnregisteredEventType) {
		t.Fatalf("expected unregistered type reason, got %q", outcome.Outcome.Reason)
	}
	if calls != 0 {
		t.Fatalf("expected no handler call")
	}
}

func TestService_RateLimitsDeliveries(t *testing.T) {
	cfg := Config{Integrations: []core.IntegrationConfig{shopIntegration(core.MappingConvention)}}
	cfg.RateLimit = core.RateLimitConfig{Enabled: true, Limit: 1, Window: time.Minute}
	svc, err := NewService(cfg)
	if err != nil {
		t.Fatalf("new service: %v", err)
	}

	first := svc.Handle(context.Background(), signedDelivery("shop", shopSecret, `{"id":"evt_a","type":"order.paid"}`))
	if !first.Outcome.Acknowledged() {
		t.Fatalf("expected first delivery to pass, got %s", first.Outcome)
	}
	second := svc.Handle(context.Background(), signedDelivery("shop", shopSecret, `{"id":"evt_b","type":"order.paid"}`))
	if second.Outcome.Kind != core.OutcomeTransientFailure || second.Outcome.Reason != core.ReasonRateLimited {
		t.Fatalf("expected rate limited delivery, got %s", second.Outcome)
	}
}

func TestService_ListIntegrationsQueryMasksSecrets(t *testing.T) {
	svc, err := NewService(Config{Integrations: []core.IntegrationConfig{shopIntegration("")}})
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	integrations, err := svc.Queries().ListIntegrations.Query(context.Background(), payhooksquery.ListIntegrationsMessage{})
	if err != nil {
		t.Fatalf("list integrations: %v", err)
	}
	if len(integrations) != 1 || integrations[0].ID != "shop" {
		t.Fatalf("unexpected integrations %#v", integrations)
	}
	if integrations[0].Signature.Secret == shopSecret {
		t.Fatalf("expected secret to be masked")
	}
}

type staticLister []core.IntegrationConfig

func (l staticLister) List(context.Context) ([]core.IntegrationConfig, error) {
	return l, nil
}

type failingLister struct{}

func (failingLister) List(context.Context) ([]core.IntegrationConfig, error) {
	return nil, errors.New("store offline")
}

func TestService_LoadIntegrationsSkipsRegistered(t *testing.T) {
	svc, err := NewService(Config{Integrations: []core.IntegrationConfig{shopIntegration("")}})
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	second := shopIntegration("")
	second.ID = "shop-eu"

	added, err := svc.LoadIntegrations(context.Background(), staticLister{shopIntegration(""), second})
	if err != nil {
		t.Fatalf("load integrations: %v", err)
	}
	if added != 1 {
		t.Fatalf("expected one new integration, got %d", added)
	}
	if _, ok := svc.Dispatcher().Integration("shop-eu"); !ok {
		t.Fatalf("expected shop-eu to be registered")
	}

	if _, err := svc.LoadIntegrations(context.Background(), failingLister{}); err == nil {
		t.Fatalf("expected lister error")
	}
	if _, err := svc.LoadIntegrations(context.Background(), nil); err == nil {
		t.Fatalf("expected nil lister error")
	}
}

func TestService_RegisterCommandsDispatchesThroughGoCommand(t *testing.T) {
	var calls int32
	svc, err := NewService(
		Config{Integrations: []core.IntegrationConfig{shopIntegration("")}},
		WithHandlers("shop", map[string]registry.Factory{"order.paid": countingFactory(&calls)}),
	)
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	subscriptions, err := svc.RegisterCommands(gocommand.NewRegistryAdapter(command.NewRegistry()))
	if err != nil {
		t.Fatalf("register commands: %v", err)
	}
	defer func() {
		for _, subscription := range subscriptions {
			subscription.Unsubscribe()
		}
	}()
	if len(subscriptions) != 4 {
		t.Fatalf("expected four subscriptions, got %d", len(subscriptions))
	}

	collector := command.NewResult[inbound.DispatchOutcome]()
	ctx := command.ContextWithResult(context.Background(), collector)
	err = gocommand.Dispatch(ctx, payhookscommand.HandleWebhookMessage{
		Request: signedDelivery("shop", shopSecret, `{"id":"evt_cmd","type":"order.paid"}`),
	})
	if err != nil {
		t.Fatalf("dispatch webhook command: %v", err)
	}
	outcome, ok := collector.Load()
	if !ok || outcome.EventID != "evt_cmd" {
		t.Fatalf("expected dispatch outcome for evt_cmd, got %#v", outcome)
	}

	if err := gocommand.Dispatch(context.Background(), payhookscommand.ReleaseClaimMessage{
		IntegrationID: "shop",
		EventID:       "evt_cmd",
		Reason:        "operator replay",
	}); err != nil {
		t.Fatalf("release claim: %v", err)
	}
	_, err = gocommand.Query[payhooksquery.GetEventClaimMessage, core.EventClaim](context.Background(), payhooksquery.GetEventClaimMessage{
		IntegrationID: "shop",
		EventID:       "evt_cmd",
	})
	if err == nil {
		t.Fatalf("expected released claim to be gone")
	}
}

func TestSetup_LoadsConfigurationFromProvider(t *testing.T) {
	provider := core.NewCfgxConfigProvider(core.StaticRawConfigLoader{Values: map[string]any{
		"service_name": "billing-hooks",
		"integrations": []any{
			map[string]any{
				"id":           "shop",
				"issuer":       "acme",
				"verification": "signature",
				"signature":    map[string]any{"preset": "generic", "secret": shopSecret},
			},
		},
	}})
	svc, err := Setup(context.Background(), Config{}, provider)
	if err != nil {
		t.Fatalf("setup: %v", err)
	}
	if svc.Config().ServiceName != "billing-hooks" {
		t.Fatalf("expected loaded service name, got %q", svc.Config().ServiceName)
	}
	if _, ok := svc.Dispatcher().Integration("shop"); !ok {
		t.Fatalf("expected loaded integration to be registered")
	}
}

type namedLogs struct {
	mu    sync.Mutex
	lines map[string][]string
}

func (n *namedLogs) GetLogger(name string) core.Logger {
	return &namedLogger{name: name, logs: n}
}

func (n *namedLogs) record(name string, msg string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.lines == nil {
		n.lines = map[string][]string{}
	}
	n.lines[name] = append(n.lines[name], msg)
}

func (n *namedLogs) has(name string, msg string) bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	for _, line := range n.lines[name] {
		if line == msg {
			return true
		}
	}
	return false
}

type namedLogger struct {
	name string
	logs *namedLogs
}

func (l *namedLogger) Trace(msg string, _ ...any) { l.logs.record(l.name, msg) }
func (l *namedLogger) Debug(msg string, _ ...any) { l.logs.record(l.name, msg) }
func (l *namedLogger) Info(msg string, _ ...any)  { l.logs.record(l.name, msg) }
func (l *namedLogger) Warn(msg string, _ ...any)  { l.logs.record(l.name, msg) }
func (l *namedLogger) Error(msg string, _ ...any) { l.logs.record(l.name, msg) }
func (l *namedLogger) Fatal(msg string, _ ...any) { l.logs.record(l.name, msg) }

func (l *namedLogger) WithContext(context.Context) core.Logger { return l }

type singleDelivery struct {
	msg   *core.JobExecutionMessage
	acked bool
}

func (d *singleDelivery) Message() *core.JobExecutionMessage { return d.msg }

func (d *singleDelivery) Ack(context.Context) error {
	d.acked = true
	return nil
}

func (d *singleDelivery) Nack(context.Context, core.JobNackOptions) error { return nil }

type singleDequeuer struct{ delivery *singleDelivery }

func (q *singleDequeuer) Dequeue(context.Context) (core.JobDelivery, error) {
	if q.delivery == nil {
		return nil, errors.New("queue empty")
	}
	next := q.delivery
	q.delivery = nil
	return next, nil
}

func TestService_ComponentLoggersAndFollowUpWorker(t *testing.T) {
	logs := &namedLogs{}
	svc, err := NewService(
		Config{Integrations: []core.IntegrationConfig{shopIntegration(core.MappingExplicit)}},
		WithLoggerProvider(logs),
		WithHandlers("shop", map[string]registry.Factory{"order.paid": countingFactory(new(int32))}),
	)
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	if !logs.has("payhooks", "payhooks service ready") {
		t.Fatalf("expected readiness on the service logger, got %v", logs.lines)
	}
	if svc.JobLogger() == nil {
		t.Fatalf("expected go-job logger bridge")
	}

	delivery := &singleDelivery{msg: &core.JobExecutionMessage{JobID: "ledger.sync"}}
	worker := svc.FollowUpWorker(&singleDequeuer{delivery: delivery})
	var ran bool
	if err := worker.Register("ledger.sync", func(context.Context, *core.JobExecutionMessage) error {
		ran = true
		return nil
	}); err != nil {
		t.Fatalf("register follow-up: %v", err)
	}
	if err := worker.RunOnce(context.Background()); err != nil {
		t.Fatalf("run once: %v", err)
	}
	if !ran || !delivery.acked {
		t.Fatalf("expected follow-up to run and ack")
	}
	if !logs.has("payhooks.followup", "follow-up started") {
		t.Fatalf("expected follow-up lifecycle on the followup logger, got %v", logs.lines)
	}
	if logs.has("payhooks", "follow-up started") {
		t.Fatalf("expected follow-up lines to stay off the service logger")
	}
}
