package payhooks

import (
	"fmt"
	"maps"
	"slices"
	"strings"
	"sync"

	"github.com/goliatone/go-payhooks/providers"
	"github.com/goliatone/go-payhooks/registry"
)

// VerifierPack contributes verifier factories keyed by issuer.
type VerifierPack struct {
	Name      string
	Factories map[string]providers.VerifierFactory
}

// HandlerPack contributes handler factories for one integration, keyed by
// event type.
type HandlerPack struct {
	Name          string
	IntegrationID string
	Handlers      map[string]registry.Factory
}

type CommandQueryBundleFactory func(service *Service) (any, error)

// ExtensionHooks collects packs and bundles before a Service is built. Every
// listing is ordered by name.
type ExtensionHooks struct {
	mu sync.RWMutex

	verifierPacks named[VerifierPack]
	handlerPacks  named[HandlerPack]
	bundles       named[CommandQueryBundleFactory]
}

func NewExtensionHooks() *ExtensionHooks {
	return &ExtensionHooks{}
}

func (h *ExtensionHooks) RegisterVerifierPack(pack VerifierPack) error {
	if h == nil {
		return errNilHooks
	}
	pack.Name = strings.TrimSpace(pack.Name)
	if pack.Name == "" {
		return fmt.Errorf("payhooks: verifier pack name is required")
	}
	if len(pack.Factories) == 0 {
		return fmt.Errorf("payhooks: verifier pack %q has no factories", pack.Name)
	}
	factories := make(map[string]providers.VerifierFactory, len(pack.Factories))
	for issuer, factory := range pack.Factories {
		issuer = strings.ToLower(strings.TrimSpace(issuer))
		if issuer == "" || factory == nil {
			return fmt.Errorf("payhooks: verifier pack %q has an empty issuer or nil factory", pack.Name)
		}
		factories[issuer] = factory
	}
	pack.Factories = factories

	h.mu.Lock()
	defer h.mu.Unlock()
	return h.verifierPacks.add("verifier pack", pack.Name, pack)
}

func (h *ExtensionHooks) RegisterHandlerPack(pack HandlerPack) error {
	if h == nil {
		return errNilHooks
	}
	pack.Name = strings.TrimSpace(pack.Name)
	pack.IntegrationID = strings.TrimSpace(pack.IntegrationID)
	switch {
	case pack.Name == "":
		return fmt.Errorf("payhooks: handler pack name is required")
	case pack.IntegrationID == "":
		return fmt.Errorf("payhooks: handler pack %q integration id is required", pack.Name)
	case len(pack.Handlers) == 0:
		return fmt.Errorf("payhooks: handler pack %q has no handlers", pack.Name)
	}
	pack.Handlers = maps.Clone(pack.Handlers)

	h.mu.Lock()
	defer h.mu.Unlock()
	return h.handlerPacks.add("handler pack", pack.Name, pack)
}

func (h *ExtensionHooks) RegisterCommandQueryBundle(name string, factory CommandQueryBundleFactory) error {
	if h == nil {
		return errNilHooks
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return fmt.Errorf("payhooks: command/query bundle name is required")
	}
	if factory == nil {
		return fmt.Errorf("payhooks: command/query bundle %q factory is required", name)
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	return h.bundles.add("command/query bundle", name, factory)
}

// ApplyVerifierPacks registers every pack factory in pack then issuer order.
// An issuer the registry already knows fails the whole apply.
func (h *ExtensionHooks) ApplyVerifierPacks(verifiers *providers.Registry) error {
	if h == nil {
		return nil
	}
	if verifiers == nil {
		return fmt.Errorf("payhooks: verifier registry is required")
	}
	for _, pack := range h.VerifierPacks() {
		for _, issuer := range slices.Sorted(maps.Keys(pack.Factories)) {
			if err := verifiers.Register(issuer, pack.Factories[issuer]); err != nil {
				return fmt.Errorf("payhooks: verifier pack %q: %w", pack.Name, err)
			}
		}
	}
	return nil
}

// BuildCommandQueryBundles runs each bundle factory against service. The
// first failing factory aborts the build.
func (h *ExtensionHooks) BuildCommandQueryBundles(service *Service) (map[string]any, error) {
	if h == nil {
		return map[string]any{}, nil
	}
	if service == nil {
		return nil, fmt.Errorf("payhooks: service is required")
	}
	h.mu.RLock()
	names := h.bundles.names()
	factories := maps.Clone(h.bundles.items)
	h.mu.RUnlock()

	built := make(map[string]any, len(names))
	for _, name := range names {
		bundle, err := factories[name](service)
		if err != nil {
			return nil, fmt.Errorf("payhooks: command/query bundle %q: %w", name, err)
		}
		built[name] = bundle
	}
	return built, nil
}

func (h *ExtensionHooks) VerifierPacks() []VerifierPack {
	if h == nil {
		return nil
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.verifierPacks.ordered(func(pack VerifierPack) VerifierPack {
		pack.Factories = maps.Clone(pack.Factories)
		return pack
	})
}

func (h *ExtensionHooks) HandlerPacks() []HandlerPack {
	if h == nil {
		return nil
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.handlerPacks.ordered(func(pack HandlerPack) HandlerPack {
		pack.Handlers = maps.Clone(pack.Handlers)
		return pack
	})
}

// HandlerTypes lists the event types every pack contributes for integrationID.
func (h *ExtensionHooks) HandlerTypes(integrationID string) []string {
	integrationID = strings.TrimSpace(integrationID)
	out := []string{}
	for _, pack := range h.HandlerPacks() {
		if pack.IntegrationID == integrationID {
			out = slices.AppendSeq(out, maps.Keys(pack.Handlers))
		}
	}
	slices.Sort(out)
	return out
}

func (h *ExtensionHooks) BundleNames() []string {
	if h == nil {
		return nil
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.bundles.names()
}

var errNilHooks = fmt.Errorf("payhooks: extension hooks are nil")

// named is a set of entries with unique names.
type named[T any] struct {
	items map[string]T
}

func (n *named[T]) add(kind string, name string, item T) error {
	if _, exists := n.items[name]; exists {
		return fmt.Errorf("payhooks: %s %q already registered", kind, name)
	}
	if n.items == nil {
		n.items = map[string]T{}
	}
	n.items[name] = item
	return nil
}

func (n *named[T]) names() []string {
	return slices.Sorted(maps.Keys(n.items))
}

func (n *named[T]) ordered(copyItem func(T) T) []T {
	out := make([]T, 0, len(n.items))
	for _, name := range n.names() {
		out = append(out, copyItem(n.items[name]))
	}
	return out
}
