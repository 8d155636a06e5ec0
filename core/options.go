package core

import (
	"context"
	"fmt"
	"strings"

	"github.com/goliatone/go-config/cfgx"
	opts "github.com/goliatone/go-options"
)

type ConfigProvider interface {
	Load(ctx context.Context, defaults Config) (Config, error)
}

type RawConfigLoader interface {
	LoadRaw(ctx context.Context) (map[string]any, error)
}

type OptionsResolver interface {
	Resolve(defaults Config, loaded Config, runtime Config) (Config, error)
}

// StaticRawConfigLoader serves a fixed map, typically decoded from a file by
// the host application.
type StaticRawConfigLoader struct {
	Values map[string]any
}

func (l StaticRawConfigLoader) LoadRaw(context.Context) (map[string]any, error) {
	if len(l.Values) == 0 {
		return map[string]any{}, nil
	}
	out := make(map[string]any, len(l.Values))
	for key, value := range l.Values {
		out[key] = value
	}
	return out, nil
}

type CfgxConfigProvider struct {
	Loader RawConfigLoader
}

func NewCfgxConfigProvider(loader RawConfigLoader) *CfgxConfigProvider {
	return &CfgxConfigProvider{Loader: loader}
}

func (p *CfgxConfigProvider) Load(ctx context.Context, defaults Config) (Config, error) {
	if p == nil {
		return defaults, nil
	}
	loader := p.Loader
	if loader == nil {
		loader = StaticRawConfigLoader{}
	}
	raw, err := loader.LoadRaw(ctx)
	if err != nil {
		return Config{}, err
	}
	cfg, err := cfgx.Build[Config](raw,
		cfgx.WithDefaults(defaults),
		cfgx.WithValidator[Config]((*Config).Validate),
	)
	if err != nil {
		return Config{}, err
	}
	return cfg, nil
}

type GoOptionsResolver struct{}

func (GoOptionsResolver) Resolve(defaults Config, loaded Config, runtime Config) (Config, error) {
	defaultLayer := configToLayerMap(defaults, true)
	loadedLayer := configToLayerMap(loaded, false)
	runtimeLayer := configToLayerMap(runtime, false)

	stack, err := opts.NewStack(
		opts.NewLayer(
			opts.NewScope("defaults", 0),
			defaultLayer,
			opts.WithSnapshotID[map[string]any]("defaults"),
		),
		opts.NewLayer(
			opts.NewScope("config", 10),
			loadedLayer,
			opts.WithSnapshotID[map[string]any]("config"),
		),
		opts.NewLayer(
			opts.NewScope("runtime", 20),
			runtimeLayer,
			opts.WithSnapshotID[map[string]any]("runtime"),
		),
	)
	if err != nil {
		return Config{}, fmt.Errorf("core: options stack build failed: %w", err)
	}
	merged, err := stack.Merge()
	if err != nil {
		return Config{}, fmt.Errorf("core: options merge failed: %w", err)
	}
	resolved, err := cfgx.Build[Config](merged.Value,
		cfgx.WithDefaults(defaults),
		cfgx.WithValidator[Config]((*Config).Validate),
	)
	if err != nil {
		return Config{}, err
	}
	if err := resolved.Validate(); err != nil {
		return Config{}, err
	}
	return resolved, nil
}

// ResolveConfig loads configuration through provider and layers runtime
// overrides on top with resolver. Nil collaborators fall back to the cfgx
// provider and the go-options resolver.
func ResolveConfig(ctx context.Context, runtime Config, provider ConfigProvider, resolver OptionsResolver) (Config, error) {
	if provider == nil {
		provider = NewCfgxConfigProvider(nil)
	}
	if resolver == nil {
		resolver = GoOptionsResolver{}
	}
	defaults := DefaultConfig()
	loaded, err := provider.Load(ctx, defaults)
	if err != nil {
		return Config{}, err
	}
	return resolver.Resolve(defaults, loaded, runtime)
}

func configToLayerMap(cfg Config, includeZero bool) map[string]any {
	layer := map[string]any{}
	if includeZero || strings.TrimSpace(cfg.ServiceName) != "" {
		layer["service_name"] = cfg.ServiceName
	}

	dispatch := map[string]any{}
	if includeZero || cfg.Dispatch.RemoteTimeout > 0 {
		dispatch["remote_timeout"] = cfg.Dispatch.RemoteTimeout
	}
	if includeZero || cfg.Dispatch.ProcessTimeout > 0 {
		dispatch["process_timeout"] = cfg.Dispatch.ProcessTimeout
	}
	if includeZero || cfg.Dispatch.ClaimLease > 0 {
		dispatch["claim_lease"] = cfg.Dispatch.ClaimLease
	}
	if includeZero || cfg.Dispatch.ClaimTTL > 0 {
		dispatch["claim_ttl"] = cfg.Dispatch.ClaimTTL
	}
	if includeZero || cfg.Dispatch.MaxBodyBytes > 0 {
		dispatch["max_body_bytes"] = cfg.Dispatch.MaxBodyBytes
	}
	if len(dispatch) > 0 {
		layer["dispatch"] = dispatch
	}

	rateLimit := map[string]any{}
	if includeZero || cfg.RateLimit.Enabled {
		rateLimit["enabled"] = cfg.RateLimit.Enabled
	}
	if includeZero || cfg.RateLimit.Limit > 0 {
		rateLimit["limit"] = cfg.RateLimit.Limit
	}
	if includeZero || cfg.RateLimit.Window > 0 {
		rateLimit["window"] = cfg.RateLimit.Window
	}
	if len(rateLimit) > 0 {
		layer["rate_limit"] = rateLimit
	}

	if includeZero || cfg.Token.FreshnessWindow > 0 {
		layer["token"] = map[string]any{"freshness_window": cfg.Token.FreshnessWindow}
	}

	database := map[string]any{}
	if includeZero || strings.TrimSpace(cfg.Database.Driver) != "" {
		database["driver"] = cfg.Database.Driver
	}
	if includeZero || strings.TrimSpace(cfg.Database.DSN) != "" {
		database["dsn"] = cfg.Database.DSN
	}
	if includeZero || cfg.Database.Debug {
		database["debug"] = cfg.Database.Debug
	}
	if includeZero || cfg.Database.PingTimeout > 0 {
		database["ping_timeout"] = cfg.Database.PingTimeout
	}
	if len(database) > 0 {
		layer["database"] = database
	}

	if includeZero || len(cfg.Integrations) > 0 {
		integrations := make([]any, 0, len(cfg.Integrations))
		for _, integration := range cfg.Integrations {
			integrations = append(integrations, integrationToLayerMap(integration))
		}
		layer["integrations"] = integrations
	}
	return layer
}

func integrationToLayerMap(cfg IntegrationConfig) map[string]any {
	return map[string]any{
		"id":           cfg.ID,
		"issuer":       cfg.Issuer,
		"mode":         cfg.Mode,
		"verification": cfg.Verification,
		"mapping":      cfg.Mapping,
		"signature": map[string]any{
			"preset":             cfg.Signature.Preset,
			"secret":             cfg.Signature.Secret,
			"algorithm":          cfg.Signature.Algorithm,
			"encoding":           cfg.Signature.Encoding,
			"header":             cfg.Signature.Header,
			"canonical_template": cfg.Signature.CanonicalTemplate,
			"value_template":     cfg.Signature.ValueTemplate,
			"timestamp_header":   cfg.Signature.TimestampHeader,
			"tolerance":          cfg.Signature.Tolerance,
			"canonical_url":      cfg.Signature.CanonicalURL,
		},
		"remote": map[string]any{
			"api_key":  cfg.Remote.APIKey,
			"base_url": cfg.Remote.BaseURL,
			"timeout":  cfg.Remote.Timeout,
		},
	}
}
