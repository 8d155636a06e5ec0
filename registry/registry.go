package registry

import (
	"fmt"
	"reflect"
	"sort"
	"strings"
	"unicode"

	"github.com/goliatone/go-payhooks/core"
	"github.com/goliatone/go-payhooks/handlers"
)

// Factory builds a fresh handler for one delivery.
type Factory func() handlers.EventHandler

// Resolution is the result of resolving an event type. Found is false when a
// convention resolver has no handler for the type, which is not an error.
type Resolution struct {
	Found   bool
	Name    string
	Handler handlers.EventHandler
}

type Resolver interface {
	Resolve(eventType string) (Resolution, error)
}

// ConventionName derives a handler name from an event type by splitting on
// "." and "_" and title-casing each segment:
// "radar.early_fraud_warning.created" becomes "RadarEarlyFraudWarningCreated".
func ConventionName(eventType string) string {
	segments := strings.FieldsFunc(strings.TrimSpace(eventType), func(r rune) bool {
		return r == '.' || r == '_'
	})
	var b strings.Builder
	for _, segment := range segments {
		segment = strings.TrimSpace(segment)
		if segment == "" {
			continue
		}
		runes := []rune(strings.ToLower(segment))
		runes[0] = unicode.ToUpper(runes[0])
		b.WriteString(string(runes))
	}
	return b.String()
}

// Namespace is an immutable set of named handler factories.
type Namespace struct {
	name      string
	factories map[string]Factory
}

func (n Namespace) Name() string { return n.name }

func (n Namespace) Lookup(name string) (Factory, bool) {
	factory, ok := n.factories[strings.TrimSpace(name)]
	return factory, ok
}

func (n Namespace) Names() []string {
	names := make([]string, 0, len(n.factories))
	for name := range n.factories {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// NamespaceBuilder collects registrations; Build freezes them. Registration
// errors are reported by Build.
type NamespaceBuilder struct {
	name      string
	factories map[string]Factory
	errs      []error
}

func NewNamespace(name string) *NamespaceBuilder {
	return &NamespaceBuilder{name: strings.TrimSpace(name), factories: map[string]Factory{}}
}

func (b *NamespaceBuilder) Register(name string, factory Factory) *NamespaceBuilder {
	name = strings.TrimSpace(name)
	switch {
	case name == "":
		b.errs = append(b.errs, core.NewConfigurationError("registry.name", "handler name is required"))
	case factory == nil:
		b.errs = append(b.errs, core.NewConfigurationError("registry."+name, "factory is required"))
	default:
		if _, exists := b.factories[name]; exists {
			b.errs = append(b.errs, core.NewConfigurationError("registry."+name, "handler already registered"))
			break
		}
		b.factories[name] = factory
	}
	return b
}

// RegisterType registers factory under the conventional name of eventType.
func (b *NamespaceBuilder) RegisterType(eventType string, factory Factory) *NamespaceBuilder {
	return b.Register(ConventionName(eventType), factory)
}

func (b *NamespaceBuilder) Build() (Namespace, error) {
	if len(b.errs) > 0 {
		return Namespace{}, b.errs[0]
	}
	factories := make(map[string]Factory, len(b.factories))
	for name, factory := range b.factories {
		factories[name] = factory
	}
	return Namespace{name: b.name, factories: factories}, nil
}

type ConventionResolver struct {
	namespace Namespace
}

func NewConventionResolver(namespace Namespace) *ConventionResolver {
	return &ConventionResolver{namespace: namespace}
}

func (r *ConventionResolver) Resolve(eventType string) (Resolution, error) {
	name := ConventionName(eventType)
	if r == nil || name == "" {
		return Resolution{Name: name}, nil
	}
	factory, ok := r.namespace.Lookup(name)
	if !ok {
		return Resolution{Name: name}, nil
	}
	return instantiate(name, eventType, factory)
}

type ExplicitResolver struct {
	table map[string]Factory
}

// NewExplicitResolver copies table. Empty types and nil factories are
// configuration errors.
func NewExplicitResolver(table map[string]Factory) (*ExplicitResolver, error) {
	copied := make(map[string]Factory, len(table))
	for eventType, factory := range table {
		normalized := strings.TrimSpace(eventType)
		if normalized == "" {
			return nil, core.NewConfigurationError("registry.type", "event type is required")
		}
		if factory == nil {
			return nil, core.NewConfigurationError("registry."+normalized, "factory is required")
		}
		if _, exists := copied[normalized]; exists {
			return nil, core.NewConfigurationError("registry."+normalized, "event type registered twice")
		}
		copied[normalized] = factory
	}
	return &ExplicitResolver{table: copied}, nil
}

func (r *ExplicitResolver) Types() []string {
	if r == nil {
		return nil
	}
	types := make([]string, 0, len(r.table))
	for eventType := range r.table {
		types = append(types, eventType)
	}
	sort.Strings(types)
	return types
}

func (r *ExplicitResolver) Resolve(eventType string) (Resolution, error) {
	eventType = strings.TrimSpace(eventType)
	var factory Factory
	if r != nil {
		factory = r.table[eventType]
	}
	if factory == nil {
		return Resolution{}, &core.DispatchError{
			Reason:    core.ReasonUnregisteredEventType,
			EventType: eventType,
		}
	}
	return instantiate(eventType, eventType, factory)
}

// instantiate runs the capability check on a freshly built handler.
func instantiate(name string, eventType string, factory Factory) (Resolution, error) {
	handler, err := build(factory)
	if err != nil {
		return Resolution{}, &core.DispatchError{Reason: core.ReasonHandlerNotUsable, EventType: eventType, Err: err}
	}
	if accepter, ok := handler.(handlers.TypeAccepter); ok && !accepter.Accepts(eventType) {
		return Resolution{}, &core.DispatchError{
			Reason:    core.ReasonHandlerNotUsable,
			EventType: eventType,
			Err:       fmt.Errorf("registry: handler %s does not accept %s", name, eventType),
		}
	}
	return Resolution{Found: true, Name: name, Handler: handler}, nil
}

func build(factory Factory) (handler handlers.EventHandler, err error) {
	defer func() {
		if recovered := recover(); recovered != nil {
			err = fmt.Errorf("registry: handler factory panicked: %v", recovered)
		}
	}()
	handler = factory()
	if handler == nil {
		return nil, fmt.Errorf("registry: factory returned no handler")
	}
	if value := reflect.ValueOf(handler); value.Kind() == reflect.Pointer && value.IsNil() {
		return nil, fmt.Errorf("registry: factory returned a nil %T", handler)
	}
	return handler, nil
}

var (
	_ Resolver = (*ConventionResolver)(nil)
	_ Resolver = (*ExplicitResolver)(nil)
)
