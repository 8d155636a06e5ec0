package payhooks

import (
	"context"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"

	job "github.com/goliatone/go-job"

	"github.com/goliatone/go-payhooks/adapters/gocommand"
	"github.com/goliatone/go-payhooks/adapters/gojob"
	"github.com/goliatone/go-payhooks/adapters/gologger"
	"github.com/goliatone/go-payhooks/core"
	"github.com/goliatone/go-payhooks/handlers"
	"github.com/goliatone/go-payhooks/inbound"
	"github.com/goliatone/go-payhooks/providers"
	"github.com/goliatone/go-payhooks/query"
	"github.com/goliatone/go-payhooks/ratelimit"
	"github.com/goliatone/go-payhooks/registry"
	"github.com/goliatone/go-payhooks/security"
	"github.com/goliatone/go-payhooks/transport"
	"github.com/goliatone/go-payhooks/webhooks"
)

type Config = core.Config

type IntegrationConfig = core.IntegrationConfig

func DefaultConfig() Config {
	return core.DefaultConfig()
}

// Service assembles the verification pipeline for every configured
// integration and exposes it over HTTP, go-command and direct calls.
type Service struct {
	config     Config
	observer   core.Observer
	loggers    gologger.Loggers
	metrics    core.MetricsRecorder
	claims     core.ClaimStore
	limiter    *ratelimit.FixedWindowLimiter
	policy     *ratelimit.AdaptivePolicy
	publisher  core.NotificationPublisher
	verifiers  *providers.Registry
	httpClient transport.HTTPDoer
	runner     *handlers.Runner
	dispatcher *inbound.Dispatcher
	handler    *inbound.HTTPHandler
	tokens     *ratelimit.TokenValidator
	hooks      *ExtensionHooks

	mu           sync.RWMutex
	integrations map[string]core.IntegrationConfig
	handlers     map[string]map[string]registry.Factory

	commands Commands
	queries  Queries
	bundles  map[string]any
}

type Option func(*serviceBuilder)

type serviceBuilder struct {
	logger         core.Logger
	loggerProvider core.LoggerProvider
	metrics        core.MetricsRecorder
	configProvider core.ConfigProvider
	resolver       core.OptionsResolver
	claims         core.ClaimStore
	windowStore    ratelimit.WindowStore
	bucketStore    ratelimit.BucketStore
	publisher      core.NotificationPublisher
	httpClient     transport.HTTPDoer
	verifiers      *providers.Registry
	mapper         inbound.ResponseMapper
	hooks          *ExtensionHooks
	tokenKeys      *security.KeyRing
	replayLedger   ratelimit.ReplayLedger
	handlers       map[string]map[string]registry.Factory
	errs           []error
}

func WithLogger(logger core.Logger) Option {
	return func(b *serviceBuilder) { b.logger = logger }
}

func WithLoggerProvider(provider core.LoggerProvider) Option {
	return func(b *serviceBuilder) { b.loggerProvider = provider }
}

func WithMetrics(metrics core.MetricsRecorder) Option {
	return func(b *serviceBuilder) { b.metrics = metrics }
}

func WithConfigProvider(provider core.ConfigProvider) Option {
	return func(b *serviceBuilder) { b.configProvider = provider }
}

func WithOptionsResolver(resolver core.OptionsResolver) Option {
	return func(b *serviceBuilder) { b.resolver = resolver }
}

// WithClaimStore replaces the in-memory claim store. Stores that also read
// and release claims back the claim command and query.
func WithClaimStore(store core.ClaimStore) Option {
	return func(b *serviceBuilder) { b.claims = store }
}

// WithWindowStore backs the inbound rate limiter. It has no effect unless
// rate_limit.enabled is set.
func WithWindowStore(store ratelimit.WindowStore) Option {
	return func(b *serviceBuilder) { b.windowStore = store }
}

// WithBucketStore backs the adaptive policy for outbound issuer calls.
func WithBucketStore(store ratelimit.BucketStore) Option {
	return func(b *serviceBuilder) { b.bucketStore = store }
}

func WithPublisher(publisher core.NotificationPublisher) Option {
	return func(b *serviceBuilder) { b.publisher = publisher }
}

func WithHTTPClient(client transport.HTTPDoer) Option {
	return func(b *serviceBuilder) { b.httpClient = client }
}

func WithVerifierRegistry(verifiers *providers.Registry) Option {
	return func(b *serviceBuilder) { b.verifiers = verifiers }
}

func WithResponseMapper(mapper inbound.ResponseMapper) Option {
	return func(b *serviceBuilder) { b.mapper = mapper }
}

func WithExtensionHooks(hooks *ExtensionHooks) Option {
	return func(b *serviceBuilder) { b.hooks = hooks }
}

// WithTokenKeys enables request token validation. A nil ledger keeps nonces
// in memory.
func WithTokenKeys(keys *security.KeyRing, ledger ratelimit.ReplayLedger) Option {
	return func(b *serviceBuilder) {
		b.tokenKeys = keys
		b.replayLedger = ledger
	}
}

// WithHandlers registers handler factories for one integration, keyed by
// event type. Convention-mapped integrations file them under the
// conventional name of the type.
func WithHandlers(integrationID string, factories map[string]registry.Factory) Option {
	return func(b *serviceBuilder) {
		if err := mergeHandlers(b.handlers, integrationID, factories); err != nil {
			b.errs = append(b.errs, err)
		}
	}
}

// NewService resolves cfg as the runtime layer over the loaded configuration
// and registers every configured integration.
func NewService(cfg Config, opts ...Option) (*Service, error) {
	builder := serviceBuilder{handlers: map[string]map[string]registry.Factory{}}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		opt(&builder)
	}
	if len(builder.errs) > 0 {
		return nil, builder.errs[0]
	}

	resolved, err := core.ResolveConfig(context.Background(), cfg, builder.configProvider, builder.resolver)
	if err != nil {
		return nil, err
	}

	loggers := gologger.ResolveComponents(resolved.ServiceName, builder.loggerProvider, builder.logger)
	observer := core.NewObserver(loggers.Service, builder.metrics)

	if builder.claims == nil {
		builder.claims = handlers.NewMemoryClaimStore(resolved.Dispatch.ClaimTTL)
	}
	if builder.publisher == nil {
		builder.publisher = inbound.NewNotificationBus()
	}
	if builder.bucketStore == nil {
		builder.bucketStore = ratelimit.NewMemoryBucketStore()
	}
	if builder.verifiers == nil {
		builder.verifiers = providers.DefaultRegistry()
	}
	if builder.hooks == nil {
		builder.hooks = NewExtensionHooks()
	}
	if err := builder.hooks.ApplyVerifierPacks(builder.verifiers); err != nil {
		return nil, err
	}
	for _, pack := range builder.hooks.HandlerPacks() {
		if err := mergeHandlers(builder.handlers, pack.IntegrationID, pack.Handlers); err != nil {
			return nil, fmt.Errorf("payhooks: handler pack %q: %w", pack.Name, err)
		}
	}

	var limiter *ratelimit.FixedWindowLimiter
	if resolved.RateLimit.Enabled {
		if builder.windowStore == nil {
			builder.windowStore = ratelimit.NewMemoryWindowStore()
		}
		limiter, err = ratelimit.NewLimiterFromConfig(resolved.RateLimit, builder.windowStore)
		if err != nil {
			return nil, err
		}
	}

	var tokens *ratelimit.TokenValidator
	if builder.tokenKeys != nil {
		tokens, err = ratelimit.NewTokenValidator(builder.tokenKeys, builder.replayLedger, resolved.Token.FreshnessWindow)
		if err != nil {
			return nil, err
		}
	}

	runner := handlers.NewRunner(builder.claims,
		handlers.WithProcessTimeout(resolved.ProcessTimeout()),
		handlers.WithClaimLease(resolved.ClaimLease()),
		handlers.WithObserver(core.NewObserver(loggers.Runner, builder.metrics)),
	)
	dispatcherOpts := []inbound.Option{
		inbound.WithPublisher(builder.publisher),
		inbound.WithObserver(core.NewObserver(loggers.Dispatcher, builder.metrics)),
	}
	if limiter != nil {
		dispatcherOpts = append(dispatcherOpts, inbound.WithRateLimiter(limiter))
	}
	if builder.mapper != nil {
		dispatcherOpts = append(dispatcherOpts, inbound.WithResponseMapper(builder.mapper))
	}
	dispatcher := inbound.NewDispatcher(runner, dispatcherOpts...)

	svc := &Service{
		config:       resolved,
		observer:     observer,
		loggers:      loggers,
		metrics:      builder.metrics,
		claims:       builder.claims,
		limiter:      limiter,
		policy:       ratelimit.NewAdaptivePolicy(builder.bucketStore),
		publisher:    builder.publisher,
		verifiers:    builder.verifiers,
		httpClient:   builder.httpClient,
		runner:       runner,
		dispatcher:   dispatcher,
		handler:      inbound.NewHTTPHandler(dispatcher, resolved.MaxBodyBytes()),
		tokens:       tokens,
		hooks:        builder.hooks,
		integrations: map[string]core.IntegrationConfig{},
		handlers:     builder.handlers,
	}

	for _, integration := range resolved.Integrations {
		if err := svc.RegisterIntegration(integration); err != nil {
			return nil, err
		}
	}

	svc.commands, svc.queries = newCommandQueries(svc)
	bundles, err := builder.hooks.BuildCommandQueryBundles(svc)
	if err != nil {
		return nil, err
	}
	svc.bundles = bundles

	observer.Info(context.Background(), "payhooks service ready", map[string]any{
		"service":      resolved.ServiceName,
		"integrations": len(resolved.Integrations),
		"rate_limit":   resolved.RateLimit.Enabled,
	})
	return svc, nil
}

// Setup loads configuration from provider before building the service.
// Options given in opts still apply.
func Setup(ctx context.Context, runtime Config, provider core.ConfigProvider, opts ...Option) (*Service, error) {
	resolved, err := core.ResolveConfig(ctx, runtime, provider, nil)
	if err != nil {
		return nil, err
	}
	return NewService(resolved, opts...)
}

// RegisterIntegration builds the verifier and resolver for cfg and adds it to
// the dispatcher. Registering an id twice is a conflict.
func (s *Service) RegisterIntegration(cfg core.IntegrationConfig) error {
	if s == nil || s.dispatcher == nil {
		return fmt.Errorf("payhooks: service is not initialized")
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	cfg.ID = strings.TrimSpace(cfg.ID)

	verifier, err := s.verifiers.Build(cfg, providers.Dependencies{
		RemoteTimeout: s.config.RemoteTimeoutFor(cfg),
		HTTPClient:    s.httpClient,
		Policy:        s.policy,
	})
	if err != nil {
		return err
	}
	resolver, err := s.resolverFor(cfg)
	if err != nil {
		return err
	}
	if err := s.dispatcher.Register(inbound.Integration{
		ID:       cfg.ID,
		Mode:     webhooks.ParseMode(cfg.Mode),
		Verifier: verifier,
		Resolver: resolver,
	}); err != nil {
		return err
	}

	s.mu.Lock()
	s.integrations[cfg.ID] = cfg
	s.mu.Unlock()

	s.observer.Debug(context.Background(), "integration registered", map[string]any{
		"integration_id": cfg.ID,
		"issuer":         cfg.Issuer,
		"verification":   cfg.Verification,
	})
	return nil
}

// LoadIntegrations registers every integration lister returns that is not
// registered yet, and reports how many were added.
func (s *Service) LoadIntegrations(ctx context.Context, lister query.IntegrationLister) (int, error) {
	if s == nil {
		return 0, fmt.Errorf("payhooks: service is not initialized")
	}
	if lister == nil {
		return 0, fmt.Errorf("payhooks: integration lister is required")
	}
	startedAt := time.Now()
	configs, err := lister.List(ctx)
	if err != nil {
		s.observer.Operation(ctx, startedAt, "integrations.load", "", err, nil)
		return 0, err
	}
	added := 0
	for _, cfg := range configs {
		if _, ok := s.dispatcher.Integration(cfg.ID); ok {
			continue
		}
		if err := s.RegisterIntegration(cfg); err != nil {
			s.observer.Operation(ctx, startedAt, "integrations.load", "", err, map[string]any{
				"integration_id": cfg.ID,
			})
			return added, err
		}
		added++
	}
	s.observer.Operation(ctx, startedAt, "integrations.load", "", nil, map[string]any{"added": added})
	return added, nil
}

// List returns the registered integrations ordered by id, secrets included.
func (s *Service) List(context.Context) ([]core.IntegrationConfig, error) {
	if s == nil {
		return nil, nil
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := make([]string, 0, len(s.integrations))
	for id := range s.integrations {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	out := make([]core.IntegrationConfig, 0, len(ids))
	for _, id := range ids {
		out = append(out, s.integrations[id])
	}
	return out, nil
}

func (s *Service) Handle(ctx context.Context, req core.InboundWebhookRequest) inbound.DispatchOutcome {
	return s.dispatcher.Handle(ctx, req)
}

func (s *Service) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.handler.ServeHTTP(w, r)
}

// Mount serves deliveries for every integration at prefix + "/{integration}".
func (s *Service) Mount(mux *http.ServeMux, prefix string) {
	s.handler.Mount(mux, prefix)
}

// Subscribe attaches fn to notifications with key, or every notification for
// "*". The returned func detaches it.
func (s *Service) Subscribe(key string, fn inbound.NotificationFunc) (func(), error) {
	switch publisher := s.publisher.(type) {
	case *inbound.NotificationBus:
		return publisher.Subscribe(key, fn)
	case *gocommand.CommandPublisher:
		subscription, err := gocommand.SubscribeNotifications(key, fn)
		if err != nil {
			return nil, err
		}
		return subscription.Unsubscribe, nil
	default:
		return nil, fmt.Errorf("payhooks: publisher %T does not support subscriptions", s.publisher)
	}
}

func (s *Service) Config() Config { return s.config }

func (s *Service) Dispatcher() *inbound.Dispatcher { return s.dispatcher }

func (s *Service) HTTPHandler() *inbound.HTTPHandler { return s.handler }

func (s *Service) ClaimStore() core.ClaimStore { return s.claims }

func (s *Service) Policy() *ratelimit.AdaptivePolicy { return s.policy }

// TokenValidator is nil unless WithTokenKeys was given.
func (s *Service) TokenValidator() *ratelimit.TokenValidator { return s.tokens }

// FollowUpWorker returns a worker draining dequeuer that logs through the
// follow-up component logger.
func (s *Service) FollowUpWorker(dequeuer core.JobDequeuer) *handlers.FollowUpWorker {
	worker := handlers.NewFollowUpWorker(dequeuer)
	worker.Observer = core.NewObserver(s.loggers.FollowUp, s.metrics)
	worker.Hook = gojob.ObserverHook{Observer: worker.Observer}
	return worker
}

// JobLogger bridges the follow-up logger into go-job runners.
func (s *Service) JobLogger() job.Logger { return s.loggers.JobLogger() }

func (s *Service) Commands() Commands { return s.commands }

func (s *Service) Queries() Queries { return s.queries }

// Bundle returns the command/query bundle registered under name.
func (s *Service) Bundle(name string) (any, bool) {
	bundle, ok := s.bundles[strings.TrimSpace(name)]
	return bundle, ok
}

func (s *Service) resolverFor(cfg core.IntegrationConfig) (registry.Resolver, error) {
	s.mu.RLock()
	table := s.handlers[cfg.ID]
	s.mu.RUnlock()

	if strings.EqualFold(strings.TrimSpace(cfg.Mapping), core.MappingExplicit) {
		return registry.NewExplicitResolver(table)
	}
	builder := registry.NewNamespace(cfg.ID)
	types := make([]string, 0, len(table))
	for eventType := range table {
		types = append(types, eventType)
	}
	sort.Strings(types)
	for _, eventType := range types {
		builder.RegisterType(eventType, table[eventType])
	}
	namespace, err := builder.Build()
	if err != nil {
		return nil, err
	}
	return registry.NewConventionResolver(namespace), nil
}

func mergeHandlers(tables map[string]map[string]registry.Factory, integrationID string, factories map[string]registry.Factory) error {
	integrationID = strings.TrimSpace(integrationID)
	if integrationID == "" {
		return core.NewConfigurationError("handlers.integration_id", "is required")
	}
	table := tables[integrationID]
	if table == nil {
		table = map[string]registry.Factory{}
		tables[integrationID] = table
	}
	for eventType, factory := range factories {
		eventType = strings.TrimSpace(eventType)
		if eventType == "" || factory == nil {
			return core.NewConfigurationError("handlers."+integrationID, "event type and factory are required")
		}
		if _, exists := table[eventType]; exists {
			return core.NewConfigurationError("handlers."+integrationID, fmt.Sprintf("event type %q registered twice", eventType))
		}
		table[eventType] = factory
	}
	return nil
}

var _ query.IntegrationLister = (*Service)(nil)
