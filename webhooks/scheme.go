package webhooks

import (
	"crypto/sha256"
	"crypto/sha512"
	"fmt"
	"hash"
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/goliatone/go-payhooks/core"
)

type Algorithm string

const (
	AlgorithmSHA256 Algorithm = "sha256"
	AlgorithmSHA512 Algorithm = "sha512"
)

func (a Algorithm) hasher() (func() hash.Hash, bool) {
	switch a {
	case AlgorithmSHA256:
		return sha256.New, true
	case AlgorithmSHA512:
		return sha512.New, true
	default:
		return nil, false
	}
}

type Encoding string

const (
	EncodingHex       Encoding = "hex"
	EncodingBase64    Encoding = "base64"
	EncodingBase64URL Encoding = "base64url"
)

const (
	PlaceholderURL       = "{url}"
	PlaceholderBody      = "{body}"
	PlaceholderTimestamp = "{timestamp}"
	PlaceholderDigest    = "{digest}"

	DefaultTimestampTolerance = 5 * time.Minute
)

var placeholderPattern = regexp.MustCompile(`\{[a-zA-Z_]+\}`)

// SignatureScheme describes how a sender signs deliveries. Build it with
// NewSignatureScheme; a scheme that passed validation cannot fail to sign.
type SignatureScheme struct {
	Secret            string
	Algorithm         Algorithm
	Encoding          Encoding
	Header            string
	CanonicalTemplate string
	ValueTemplate     string
	TimestampHeader   string
	Tolerance         time.Duration
	// CanonicalURL, when set, is what {url} renders to instead of the URL the
	// request arrived on.
	CanonicalURL string
}

func NewSignatureScheme(scheme SignatureScheme) (SignatureScheme, error) {
	normalized := SignatureScheme{
		Secret:            scheme.Secret,
		Algorithm:         Algorithm(strings.ToLower(strings.TrimSpace(string(scheme.Algorithm)))),
		Encoding:          Encoding(strings.ToLower(strings.TrimSpace(string(scheme.Encoding)))),
		Header:            strings.TrimSpace(scheme.Header),
		CanonicalTemplate: scheme.CanonicalTemplate,
		ValueTemplate:     strings.TrimSpace(scheme.ValueTemplate),
		TimestampHeader:   strings.TrimSpace(scheme.TimestampHeader),
		Tolerance:         scheme.Tolerance,
		CanonicalURL:      strings.TrimSpace(scheme.CanonicalURL),
	}
	if strings.TrimSpace(normalized.Secret) == "" {
		return SignatureScheme{}, core.NewConfigurationError("signature.secret", "is required")
	}
	if normalized.Algorithm == "" {
		normalized.Algorithm = AlgorithmSHA256
	}
	if _, ok := normalized.Algorithm.hasher(); !ok {
		return SignatureScheme{}, core.NewConfigurationError("signature.algorithm",
			fmt.Sprintf("unsupported algorithm %q", normalized.Algorithm))
	}
	if normalized.Encoding == "" {
		normalized.Encoding = EncodingHex
	}
	switch normalized.Encoding {
	case EncodingHex, EncodingBase64, EncodingBase64URL:
	default:
		return SignatureScheme{}, core.NewConfigurationError("signature.encoding",
			fmt.Sprintf("unsupported encoding %q", normalized.Encoding))
	}
	if normalized.Header == "" {
		return SignatureScheme{}, core.NewConfigurationError("signature.header", "is required")
	}
	if err := validateCanonicalTemplate(normalized); err != nil {
		return SignatureScheme{}, err
	}
	if normalized.CanonicalURL != "" {
		parsed, err := url.Parse(normalized.CanonicalURL)
		if err != nil || parsed.Scheme == "" || parsed.Host == "" {
			return SignatureScheme{}, core.NewConfigurationError("signature.canonical_url", "must be an absolute url")
		}
	}
	if normalized.ValueTemplate != "" && strings.Count(normalized.ValueTemplate, PlaceholderDigest) != 1 {
		return SignatureScheme{}, core.NewConfigurationError("signature.value_template",
			"must contain {digest} exactly once")
	}
	if normalized.Tolerance < 0 {
		return SignatureScheme{}, core.NewConfigurationError("signature.tolerance", "must not be negative")
	}
	if normalized.TimestampHeader != "" && normalized.Tolerance == 0 {
		normalized.Tolerance = DefaultTimestampTolerance
	}
	return normalized, nil
}

func validateCanonicalTemplate(scheme SignatureScheme) error {
	template := scheme.CanonicalTemplate
	if strings.TrimSpace(template) == "" {
		return nil
	}
	placeholders := placeholderPattern.FindAllString(template, -1)
	if len(placeholders) == 0 {
		return core.NewConfigurationError("signature.canonical_template", "must reference at least one placeholder")
	}
	for _, placeholder := range placeholders {
		switch placeholder {
		case PlaceholderURL, PlaceholderBody:
		case PlaceholderTimestamp:
			if scheme.TimestampHeader == "" {
				return core.NewConfigurationError("signature.canonical_template",
					"{timestamp} requires a timestamp header")
			}
		default:
			return core.NewConfigurationError("signature.canonical_template",
				fmt.Sprintf("unknown placeholder %s", placeholder))
		}
	}
	return nil
}

// SchemeFromConfig builds a scheme from configuration. A preset supplies the
// defaults; explicit fields override it.
func SchemeFromConfig(cfg core.SignatureConfig) (SignatureScheme, error) {
	scheme := SignatureScheme{}
	if preset := strings.TrimSpace(cfg.Preset); preset != "" {
		base, ok := Preset(preset, cfg.Secret)
		if !ok {
			return SignatureScheme{}, core.NewConfigurationError("signature.preset",
				fmt.Sprintf("unknown preset %q", preset))
		}
		scheme = base
	}
	scheme.Secret = cfg.Secret
	if value := strings.TrimSpace(cfg.Algorithm); value != "" {
		scheme.Algorithm = Algorithm(value)
	}
	if value := strings.TrimSpace(cfg.Encoding); value != "" {
		scheme.Encoding = Encoding(value)
	}
	if value := strings.TrimSpace(cfg.Header); value != "" {
		scheme.Header = value
	}
	if value := cfg.CanonicalTemplate; strings.TrimSpace(value) != "" {
		scheme.CanonicalTemplate = value
	}
	if value := strings.TrimSpace(cfg.ValueTemplate); value != "" {
		scheme.ValueTemplate = value
	}
	if value := strings.TrimSpace(cfg.TimestampHeader); value != "" {
		scheme.TimestampHeader = value
	}
	if cfg.Tolerance != 0 {
		scheme.Tolerance = cfg.Tolerance
	}
	if value := strings.TrimSpace(cfg.CanonicalURL); value != "" {
		scheme.CanonicalURL = value
	}
	if scheme.Header == "" {
		scheme.Header = DefaultSignatureHeader
	}
	return NewSignatureScheme(scheme)
}
