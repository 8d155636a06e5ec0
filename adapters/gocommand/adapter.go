package gocommand

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/goliatone/go-command"
	commanddispatcher "github.com/goliatone/go-command/dispatcher"
	"github.com/goliatone/go-command/runner"
	jobqueuecommand "github.com/goliatone/go-job/queue/command"
)

// Namespace prefixes every message type handled through the adapter.
const Namespace = "payhooks."

const (
	KindCommand = "command"
	KindQuery   = "query"
)

// Registration is one message type registered and subscribed through a
// RegistryAdapter.
type Registration struct {
	Type string
	Kind string

	subscription commanddispatcher.Subscription
}

// RegistryAdapter registers payhooks commands and queries on a go-command
// registry and keeps their dispatcher subscriptions so they can be torn down
// together.
type RegistryAdapter struct {
	registry *command.Registry

	mu            sync.Mutex
	registrations map[string]Registration
}

func NewRegistryAdapter(registry *command.Registry) *RegistryAdapter {
	if registry == nil {
		registry = command.NewRegistry()
	}
	return &RegistryAdapter{registry: registry, registrations: map[string]Registration{}}
}

func (a *RegistryAdapter) Registry() *command.Registry {
	if a == nil {
		return nil
	}
	return a.registry
}

// RegisterCommand adds cmd to the registry without subscribing it. Queue
// resolvers still see it on Initialize.
func (a *RegistryAdapter) RegisterCommand(cmd any) error {
	if a == nil || a.registry == nil {
		return fmt.Errorf("gocommand: registry is not configured")
	}
	return a.registry.RegisterCommand(cmd)
}

// AddQueueResolver mirrors registered commands into a go-job queue registry
// so operators can run them as jobs.
func (a *RegistryAdapter) AddQueueResolver(key string, queueRegistry *jobqueuecommand.Registry) error {
	if a == nil || a.registry == nil {
		return fmt.Errorf("gocommand: registry is not configured")
	}
	if queueRegistry == nil {
		return fmt.Errorf("gocommand: queue registry is required")
	}
	key = strings.TrimSpace(key)
	if key == "" {
		return fmt.Errorf("gocommand: resolver key is required")
	}
	return a.registry.AddResolver(key, jobqueuecommand.QueueResolver(queueRegistry))
}

func (a *RegistryAdapter) Initialize() error {
	if a == nil || a.registry == nil {
		return fmt.Errorf("gocommand: registry is not configured")
	}
	return a.registry.Initialize()
}

// Registrations lists subscribed message types ordered by type.
func (a *RegistryAdapter) Registrations() []Registration {
	if a == nil {
		return nil
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]Registration, 0, len(a.registrations))
	for _, registration := range a.registrations {
		out = append(out, Registration{Type: registration.Type, Kind: registration.Kind})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Type < out[j].Type })
	return out
}

// Close unsubscribes every registration made through the adapter. The
// go-command registry itself keeps its entries.
func (a *RegistryAdapter) Close() {
	if a == nil {
		return
	}
	a.mu.Lock()
	registrations := a.registrations
	a.registrations = map[string]Registration{}
	a.mu.Unlock()
	for _, registration := range registrations {
		if registration.subscription != nil {
			registration.subscription.Unsubscribe()
		}
	}
}

func (a *RegistryAdapter) reserve(msgType string, kind string) error {
	if a == nil || a.registry == nil {
		return fmt.Errorf("gocommand: registry is not configured")
	}
	if !strings.HasPrefix(msgType, Namespace) || len(msgType) == len(Namespace) {
		return fmt.Errorf("gocommand: %s type %q must start with %q", kind, msgType, Namespace)
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if _, exists := a.registrations[msgType]; exists {
		return fmt.Errorf("gocommand: %s %q already registered", kind, msgType)
	}
	a.registrations[msgType] = Registration{Type: msgType, Kind: kind}
	return nil
}

func (a *RegistryAdapter) commit(msgType string, subscription commanddispatcher.Subscription) {
	a.mu.Lock()
	defer a.mu.Unlock()
	registration := a.registrations[msgType]
	registration.subscription = subscription
	a.registrations[msgType] = registration
}

// Unregister unsubscribes msgType and forgets it.
func (a *RegistryAdapter) Unregister(msgType string) {
	if a == nil {
		return
	}
	a.mu.Lock()
	registration, ok := a.registrations[msgType]
	delete(a.registrations, msgType)
	a.mu.Unlock()
	if ok && registration.subscription != nil {
		registration.subscription.Unsubscribe()
	}
}

// MessageType returns the go-command type of T, or "" when T does not
// implement command.Message.
func MessageType[T any]() string {
	var zero T
	msg, ok := any(zero).(command.Message)
	if !ok {
		return ""
	}
	return strings.TrimSpace(msg.Type())
}

func Dispatch[T any](ctx context.Context, msg T) error {
	return commanddispatcher.Dispatch(ctx, msg)
}

func Query[T any, R any](ctx context.Context, msg T) (R, error) {
	return commanddispatcher.Query[T, R](ctx, msg)
}

// RegisterAndSubscribe registers cmd and subscribes it to the dispatcher. A
// failed registration leaves neither behind.
func RegisterAndSubscribe[T any](
	adapter *RegistryAdapter,
	cmd command.Commander[T],
	runnerOpts ...runner.Option,
) (commanddispatcher.Subscription, error) {
	if cmd == nil {
		return nil, fmt.Errorf("gocommand: command is required")
	}
	msgType := MessageType[T]()
	if err := adapter.reserve(msgType, KindCommand); err != nil {
		return nil, err
	}
	subscription := commanddispatcher.SubscribeCommand(cmd, runnerOpts...)
	if err := adapter.registry.RegisterCommand(cmd); err != nil {
		if subscription != nil {
			subscription.Unsubscribe()
		}
		adapter.Unregister(msgType)
		return nil, err
	}
	adapter.commit(msgType, subscription)
	return subscription, nil
}

func RegisterAndSubscribeQuery[T any, R any](
	adapter *RegistryAdapter,
	qry command.Querier[T, R],
	runnerOpts ...runner.Option,
) (commanddispatcher.Subscription, error) {
	if qry == nil {
		return nil, fmt.Errorf("gocommand: query is required")
	}
	msgType := MessageType[T]()
	if err := adapter.reserve(msgType, KindQuery); err != nil {
		return nil, err
	}
	subscription := commanddispatcher.SubscribeQuery(qry, runnerOpts...)
	if err := adapter.registry.RegisterCommand(qry); err != nil {
		if subscription != nil {
			subscription.Unsubscribe()
		}
		adapter.Unregister(msgType)
		return nil, err
	}
	adapter.commit(msgType, subscription)
	return subscription, nil
}
