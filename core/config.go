package core

import (
	"fmt"
	"strings"
	"time"
)

const (
	DefaultRemoteTimeout   = 10 * time.Second
	DefaultProcessTimeout  = 20 * time.Second
	DefaultClaimLease      = 30 * time.Second
	DefaultClaimTTL        = 72 * time.Hour
	DefaultMaxBodyBytes    = int64(1 << 20)
	DefaultRateLimit       = 600
	DefaultRateLimitWindow = time.Minute
	DefaultTokenFreshness  = time.Hour
)

const (
	VerificationSignature     = "signature"
	VerificationRemote        = "remote"
	VerificationAuthenticated = "issuer_signature"

	MappingConvention = "convention"
	MappingExplicit   = "explicit"

	ModeTest        = "test"
	ModeLive        = "live"
	ModeUnspecified = ""
)

type DispatchConfig struct {
	RemoteTimeout  time.Duration `koanf:"remote_timeout" mapstructure:"remote_timeout"`
	ProcessTimeout time.Duration `koanf:"process_timeout" mapstructure:"process_timeout"`
	ClaimLease     time.Duration `koanf:"claim_lease" mapstructure:"claim_lease"`
	ClaimTTL       time.Duration `koanf:"claim_ttl" mapstructure:"claim_ttl"`
	MaxBodyBytes   int64         `koanf:"max_body_bytes" mapstructure:"max_body_bytes"`
}

type RateLimitConfig struct {
	Enabled bool          `koanf:"enabled" mapstructure:"enabled"`
	Limit   int           `koanf:"limit" mapstructure:"limit"`
	Window  time.Duration `koanf:"window" mapstructure:"window"`
}

type TokenConfig struct {
	FreshnessWindow time.Duration `koanf:"freshness_window" mapstructure:"freshness_window"`
}

type DatabaseConfig struct {
	Driver      string        `koanf:"driver" mapstructure:"driver"`
	DSN         string        `koanf:"dsn" mapstructure:"dsn"`
	Debug       bool          `koanf:"debug" mapstructure:"debug"`
	PingTimeout time.Duration `koanf:"ping_timeout" mapstructure:"ping_timeout"`
}

func (c DatabaseConfig) GetDebug() bool { return c.Debug }

func (c DatabaseConfig) GetDriver() string { return strings.TrimSpace(c.Driver) }

func (c DatabaseConfig) GetServer() string { return strings.TrimSpace(c.DSN) }

func (c DatabaseConfig) GetPingTimeout() time.Duration {
	if c.PingTimeout <= 0 {
		return 5 * time.Second
	}
	return c.PingTimeout
}

func (c DatabaseConfig) GetOtelIdentifier() string { return "payhooks" }

type SignatureConfig struct {
	Preset            string        `koanf:"preset" mapstructure:"preset"`
	Secret            string        `koanf:"secret" mapstructure:"secret"`
	Algorithm         string        `koanf:"algorithm" mapstructure:"algorithm"`
	Encoding          string        `koanf:"encoding" mapstructure:"encoding"`
	Header            string        `koanf:"header" mapstructure:"header"`
	CanonicalTemplate string        `koanf:"canonical_template" mapstructure:"canonical_template"`
	ValueTemplate     string        `koanf:"value_template" mapstructure:"value_template"`
	TimestampHeader   string        `koanf:"timestamp_header" mapstructure:"timestamp_header"`
	Tolerance         time.Duration `koanf:"tolerance" mapstructure:"tolerance"`
	CanonicalURL      string        `koanf:"canonical_url" mapstructure:"canonical_url"`
}

type RemoteConfig struct {
	APIKey  string        `koanf:"api_key" mapstructure:"api_key"`
	BaseURL string        `koanf:"base_url" mapstructure:"base_url"`
	Timeout time.Duration `koanf:"timeout" mapstructure:"timeout"`
}

type IntegrationConfig struct {
	ID           string          `koanf:"id" mapstructure:"id"`
	Issuer       string          `koanf:"issuer" mapstructure:"issuer"`
	Mode         string          `koanf:"mode" mapstructure:"mode"`
	Verification string          `koanf:"verification" mapstructure:"verification"`
	Mapping      string          `koanf:"mapping" mapstructure:"mapping"`
	Signature    SignatureConfig `koanf:"signature" mapstructure:"signature"`
	Remote       RemoteConfig    `koanf:"remote" mapstructure:"remote"`
}

func (c IntegrationConfig) Validate() error {
	id := strings.TrimSpace(c.ID)
	if id == "" {
		return NewConfigurationError("integrations.id", "is required")
	}
	field := func(name string) string { return fmt.Sprintf("integrations[%s].%s", id, name) }
	if strings.TrimSpace(c.Issuer) == "" {
		return NewConfigurationError(field("issuer"), "is required")
	}
	switch strings.ToLower(strings.TrimSpace(c.Mode)) {
	case ModeTest, ModeLive, ModeUnspecified:
	default:
		return NewConfigurationError(field("mode"), fmt.Sprintf("unsupported mode %q", c.Mode))
	}
	switch strings.ToLower(strings.TrimSpace(c.Mapping)) {
	case MappingConvention, MappingExplicit, "":
	default:
		return NewConfigurationError(field("mapping"), fmt.Sprintf("unsupported mapping %q", c.Mapping))
	}
	switch strings.ToLower(strings.TrimSpace(c.Verification)) {
	case VerificationSignature, VerificationAuthenticated:
		if strings.TrimSpace(c.Signature.Secret) == "" {
			return NewConfigurationError(field("signature.secret"), "is required")
		}
	case VerificationRemote:
		if strings.TrimSpace(c.Remote.APIKey) == "" {
			return NewConfigurationError(field("remote.api_key"), "is required")
		}
		if c.Remote.Timeout < 0 {
			return NewConfigurationError(field("remote.timeout"), "must not be negative")
		}
	default:
		return NewConfigurationError(field("verification"), fmt.Sprintf("unsupported verification %q", c.Verification))
	}
	return nil
}

type Config struct {
	ServiceName  string              `koanf:"service_name" mapstructure:"service_name"`
	Dispatch     DispatchConfig      `koanf:"dispatch" mapstructure:"dispatch"`
	RateLimit    RateLimitConfig     `koanf:"rate_limit" mapstructure:"rate_limit"`
	Token        TokenConfig         `koanf:"token" mapstructure:"token"`
	Database     DatabaseConfig      `koanf:"database" mapstructure:"database"`
	Integrations []IntegrationConfig `koanf:"integrations" mapstructure:"integrations"`
}

func DefaultConfig() Config {
	return Config{
		ServiceName: "payhooks",
		Dispatch: DispatchConfig{
			RemoteTimeout:  DefaultRemoteTimeout,
			ProcessTimeout: DefaultProcessTimeout,
			ClaimLease:     DefaultClaimLease,
			ClaimTTL:       DefaultClaimTTL,
			MaxBodyBytes:   DefaultMaxBodyBytes,
		},
		RateLimit: RateLimitConfig{
			Enabled: false,
			Limit:   DefaultRateLimit,
			Window:  DefaultRateLimitWindow,
		},
		Token: TokenConfig{FreshnessWindow: DefaultTokenFreshness},
		Database: DatabaseConfig{
			Driver: "sqlite3",
		},
	}
}

func (c Config) Validate() error {
	if strings.TrimSpace(c.ServiceName) == "" {
		return NewConfigurationError("service_name", "is required")
	}
	if c.Dispatch.RemoteTimeout < 0 || c.Dispatch.ProcessTimeout < 0 {
		return NewConfigurationError("dispatch", "timeouts must not be negative")
	}
	if c.Dispatch.ClaimLease < 0 {
		return NewConfigurationError("dispatch.claim_lease", "must not be negative")
	}
	if c.ClaimLease() <= c.ProcessTimeout() {
		return NewConfigurationError("dispatch.claim_lease", fmt.Sprintf(
			"must exceed dispatch.process_timeout (%s), got %s", c.ProcessTimeout(), c.ClaimLease()))
	}
	if c.Dispatch.MaxBodyBytes < 0 {
		return NewConfigurationError("dispatch.max_body_bytes", "must not be negative")
	}
	if c.RateLimit.Enabled {
		if c.RateLimit.Limit <= 0 {
			return NewConfigurationError("rate_limit.limit", "must be positive when enabled")
		}
		if c.RateLimit.Window <= 0 {
			return NewConfigurationError("rate_limit.window", "must be positive when enabled")
		}
	}
	if c.Token.FreshnessWindow < 0 {
		return NewConfigurationError("token.freshness_window", "must not be negative")
	}
	seen := make(map[string]struct{}, len(c.Integrations))
	for _, integration := range c.Integrations {
		if err := integration.Validate(); err != nil {
			return err
		}
		id := strings.TrimSpace(integration.ID)
		if _, ok := seen[id]; ok {
			return NewConfigurationError("integrations.id", fmt.Sprintf("duplicate integration %q", id))
		}
		seen[id] = struct{}{}
	}
	return nil
}

// Integration returns the integration configured under id.
func (c Config) Integration(id string) (IntegrationConfig, bool) {
	id = strings.TrimSpace(id)
	for _, integration := range c.Integrations {
		if strings.TrimSpace(integration.ID) == id {
			return integration, true
		}
	}
	return IntegrationConfig{}, false
}

func durationOr(value time.Duration, fallback time.Duration) time.Duration {
	if value <= 0 {
		return fallback
	}
	return value
}

// RemoteTimeoutFor returns the bounded fetch timeout for an integration.
func (c Config) RemoteTimeoutFor(integration IntegrationConfig) time.Duration {
	if integration.Remote.Timeout > 0 {
		return integration.Remote.Timeout
	}
	return durationOr(c.Dispatch.RemoteTimeout, DefaultRemoteTimeout)
}

func (c Config) ProcessTimeout() time.Duration {
	return durationOr(c.Dispatch.ProcessTimeout, DefaultProcessTimeout)
}

func (c Config) ClaimLease() time.Duration {
	return durationOr(c.Dispatch.ClaimLease, DefaultClaimLease)
}

func (c Config) MaxBodyBytes() int64 {
	if c.Dispatch.MaxBodyBytes <= 0 {
		return DefaultMaxBodyBytes
	}
	return c.Dispatch.MaxBodyBytes
}
