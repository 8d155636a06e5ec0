package inbound

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sort"
	"strings"
	"sync"
	"time"

	goerrors "github.com/goliatone/go-errors"

	"github.com/goliatone/go-payhooks/core"
	"github.com/goliatone/go-payhooks/handlers"
	"github.com/goliatone/go-payhooks/ratelimit"
	"github.com/goliatone/go-payhooks/webhooks"
)

const NotificationKeyPrefix = "payhooks.event."

// DispatchOutcome is the result of one delivery. Response is what the sender
// receives.
type DispatchOutcome struct {
	IntegrationID string
	EventID       string
	EventType     string
	Handler       string
	Outcome       core.Outcome
	Err           error
	Run           *handlers.Result
	Response      Response
	Duration      time.Duration
}

// Handled reports whether a handler processed the event to completion.
func (o DispatchOutcome) Handled() bool {
	return o.Run != nil && o.Run.State == handlers.StateSucceeded
}

type Dispatcher struct {
	Runner    *handlers.Runner
	Limiter   core.RateLimiter
	Publisher core.NotificationPublisher
	Mapper    ResponseMapper
	Observer  core.Observer
	Now       func() time.Time

	mu           sync.RWMutex
	integrations map[string]Integration
}

type Option func(*Dispatcher)

func WithRateLimiter(limiter core.RateLimiter) Option {
	return func(d *Dispatcher) {
		d.Limiter = limiter
	}
}

func WithPublisher(publisher core.NotificationPublisher) Option {
	return func(d *Dispatcher) {
		d.Publisher = publisher
	}
}

func WithResponseMapper(mapper ResponseMapper) Option {
	return func(d *Dispatcher) {
		if mapper != nil {
			d.Mapper = mapper
		}
	}
}

func WithObserver(observer core.Observer) Option {
	return func(d *Dispatcher) {
		d.Observer = observer
	}
}

// NewDispatcher returns a dispatcher with no integrations. A nil runner uses
// an in-memory claim store.
func NewDispatcher(runner *handlers.Runner, opts ...Option) *Dispatcher {
	if runner == nil {
		runner = handlers.NewRunner(nil)
	}
	d := &Dispatcher{
		Runner:       runner,
		Mapper:       DefaultResponseMapper{},
		integrations: map[string]Integration{},
		Now: func() time.Time {
			return time.Now().UTC()
		},
	}
	for _, opt := range opts {
		if opt != nil {
			opt(d)
		}
	}
	return d
}

func (d *Dispatcher) Register(integration Integration) error {
	if d == nil {
		return core.NewError(goerrors.CategoryInternal, "inbound: dispatcher is nil", nil)
	}
	if err := integration.validate(); err != nil {
		return err
	}
	integration.ID = strings.TrimSpace(integration.ID)
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.integrations == nil {
		d.integrations = map[string]Integration{}
	}
	if _, exists := d.integrations[integration.ID]; exists {
		return core.NewError(
			goerrors.CategoryConflict,
			fmt.Sprintf("inbound: integration %q already registered", integration.ID),
			map[string]any{"integration_id": integration.ID},
		)
	}
	d.integrations[integration.ID] = integration
	return nil
}

func (d *Dispatcher) Integration(id string) (Integration, bool) {
	if d == nil {
		return Integration{}, false
	}
	d.mu.RLock()
	defer d.mu.RUnlock()
	integration, ok := d.integrations[strings.TrimSpace(id)]
	return integration, ok
}

func (d *Dispatcher) IntegrationIDs() []string {
	if d == nil {
		return nil
	}
	d.mu.RLock()
	defer d.mu.RUnlock()
	ids := make([]string, 0, len(d.integrations))
	for id := range d.integrations {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Handle processes one delivery. Nothing beyond the integration lookup and
// rate limit runs before verification succeeds.
func (d *Dispatcher) Handle(ctx context.Context, req core.InboundWebhookRequest) DispatchOutcome {
	if ctx == nil {
		ctx = context.Background()
	}
	startedAt := time.Now()
	req.IntegrationID = strings.TrimSpace(req.IntegrationID)
	if req.ReceivedAt.IsZero() {
		req.ReceivedAt = d.now()
	}
	result := DispatchOutcome{IntegrationID: req.IntegrationID}
	if d == nil {
		return d.finish(ctx, startedAt, req, result, fmt.Errorf("inbound: dispatcher is nil"))
	}

	integration, ok := d.Integration(req.IntegrationID)
	if !ok {
		return d.finish(ctx, startedAt, req, result, &core.DispatchError{
			Reason:        core.ReasonUnknownIntegration,
			IntegrationID: req.IntegrationID,
		})
	}

	if d.Limiter != nil {
		if err := d.Limiter.Check(ctx, ratelimit.Identifier(integration.ID, remoteHost(req.RemoteAddr))); err != nil {
			return d.finish(ctx, startedAt, req, result, err)
		}
	}

	event, err := integration.Verifier.Verify(ctx, req)
	if err != nil {
		return d.finish(ctx, startedAt, req, result, err)
	}
	result.EventID = event.ID()
	result.EventType = event.Type()

	resolution, err := integration.Resolver.Resolve(event.Type())
	if err != nil {
		var dispatchErr *core.DispatchError
		if errors.As(err, &dispatchErr) && dispatchErr.IntegrationID == "" {
			dispatchErr.IntegrationID = integration.ID
		}
		return d.finish(ctx, startedAt, req, result, err)
	}
	if !resolution.Found {
		result.Outcome = core.SucceededWithReason(core.ReasonNoHandler, "no handler registered for event type")
		return d.finish(ctx, startedAt, req, result, nil)
	}
	result.Handler = resolution.Name

	run := d.Runner.Run(ctx, resolution.Handler, event, integration.Mode)
	result.Run = &run
	result.Outcome = run.Outcome
	if run.Outcome.Kind == core.OutcomeSuccess {
		d.publish(ctx, event)
		return d.finish(ctx, startedAt, req, result, nil)
	}
	return d.finish(ctx, startedAt, req, result, run.Err)
}

func (d *Dispatcher) publish(ctx context.Context, event webhooks.VerifiedEvent) {
	if d.Publisher == nil {
		return
	}
	notification := core.EventNotification{
		Key:           NotificationKey(event.Type()),
		IntegrationID: event.IntegrationID(),
		EventID:       event.ID(),
		EventType:     event.Type(),
		Mode:          string(event.Mode()),
		Source:        string(event.Source()),
		Payload:       event.Payload(),
		HandledAt:     d.now(),
	}
	if err := d.Publisher.Publish(ctx, notification); err != nil {
		d.Observer.Warn(ctx, "publish event notification failed", map[string]any{
			"integration_id": notification.IntegrationID,
			"event_id":       notification.EventID,
			"event_type":     notification.EventType,
			"key":            notification.Key,
			"error":          err.Error(),
		})
	}
}

func (d *Dispatcher) finish(
	ctx context.Context,
	startedAt time.Time,
	req core.InboundWebhookRequest,
	result DispatchOutcome,
	err error,
) DispatchOutcome {
	if result.Outcome.Kind == "" {
		result.Outcome = core.Classify(err)
	}
	result.Err = err
	mapper := ResponseMapper(DefaultResponseMapper{})
	if d != nil && d.Mapper != nil {
		mapper = d.Mapper
	}
	result.Response = mapper.Map(result.Outcome, err)
	result.Duration = time.Since(startedAt)

	if d == nil {
		return result
	}
	fields := map[string]any{
		"integration_id": result.IntegrationID,
		"event_id":       result.EventID,
		"event_type":     result.EventType,
		"handler":        result.Handler,
		"reason":         result.Outcome.Reason,
		"status_code":    result.Response.StatusCode,
		"remote_addr":    req.RemoteAddr,
	}
	var logErr error
	if result.Outcome.Kind == core.OutcomeTransientFailure || result.Outcome.Kind == core.OutcomePermanentFailure {
		logErr = err
		if logErr == nil {
			logErr = errors.New(result.Outcome.Message)
		}
		fields["payload"] = core.RedactPayload(req.Body)
	}
	d.Observer.Operation(ctx, startedAt, "dispatch", string(result.Outcome.Kind), logErr, fields)
	return result
}

func (d *Dispatcher) now() time.Time {
	if d != nil && d.Now != nil {
		return d.Now().UTC()
	}
	return time.Now().UTC()
}

// NotificationKey is the key notifications for eventType are published under.
func NotificationKey(eventType string) string {
	return NotificationKeyPrefix + strings.ToLower(strings.TrimSpace(eventType))
}

func remoteHost(addr string) string {
	addr = strings.TrimSpace(addr)
	if host, _, err := net.SplitHostPort(addr); err == nil {
		return host
	}
	return addr
}
