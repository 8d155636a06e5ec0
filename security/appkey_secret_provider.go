package security

import (
	"bytes"
	"context"
	"fmt"
	"strings"

	"github.com/goliatone/go-payhooks/core"
)

type Option func(*appKeyOptions)

type appKeyOptions struct {
	keyID    string
	version  int
	window   KeyRotationWindow
	previous []Key
}

func WithKeyID(id string) Option {
	return func(opts *appKeyOptions) {
		if trimmed := strings.TrimSpace(id); trimmed != "" {
			opts.keyID = trimmed
		}
	}
}

func WithVersion(version int) Option {
	return func(opts *appKeyOptions) {
		if version > 0 {
			opts.version = version
		}
	}
}

func WithRotationWindow(window KeyRotationWindow) Option {
	return func(opts *appKeyOptions) {
		opts.window = window
	}
}

// WithPreviousKey keeps an older key available for decrypting values sealed
// before a rotation.
func WithPreviousKey(key Key) Option {
	return func(opts *appKeyOptions) {
		opts.previous = append(opts.previous, key)
	}
}

// AppKeySecretProvider seals integration credentials with AES-GCM. The active
// key of its ring encrypts; any key in service decrypts.
type AppKeySecretProvider struct {
	ring *KeyRing
}

func NewAppKeySecretProvider(keyMaterial []byte, opts ...Option) (*AppKeySecretProvider, error) {
	key := bytes.TrimSpace(keyMaterial)
	if len(key) == 0 {
		return nil, fmt.Errorf("security: key material is required")
	}
	options := appKeyOptions{keyID: "app-key", version: 1}
	for _, opt := range opts {
		if opt != nil {
			opt(&options)
		}
	}
	keys := append([]Key{{
		ID:       options.keyID,
		Version:  options.version,
		Material: key,
		Window:   options.window,
	}}, options.previous...)
	ring, err := NewKeyRing(keys...)
	if err != nil {
		return nil, err
	}
	return &AppKeySecretProvider{ring: ring}, nil
}

func NewAppKeySecretProviderFromString(key string, opts ...Option) (*AppKeySecretProvider, error) {
	return NewAppKeySecretProvider([]byte(key), opts...)
}

// NewKeyRingSecretProvider uses an existing ring, e.g. one shared with the
// token validator's rotation schedule.
func NewKeyRingSecretProvider(ring *KeyRing) (*AppKeySecretProvider, error) {
	if ring == nil || ring.Len() == 0 {
		return nil, fmt.Errorf("security: key ring is required")
	}
	return &AppKeySecretProvider{ring: ring}, nil
}

// Encrypt seals plaintext under the newest key in service.
func (p *AppKeySecretProvider) Encrypt(_ context.Context, plaintext []byte) ([]byte, error) {
	if p == nil || p.ring == nil {
		return nil, fmt.Errorf("security: secret provider is nil")
	}
	if len(plaintext) == 0 {
		return nil, fmt.Errorf("security: plaintext is required")
	}
	key, ok := p.ring.Active()
	if !ok {
		return nil, fmt.Errorf("security: no key is in service")
	}
	return sealWith(key, plaintext)
}

func (p *AppKeySecretProvider) Decrypt(_ context.Context, ciphertext []byte) ([]byte, error) {
	if p == nil || p.ring == nil {
		return nil, fmt.Errorf("security: secret provider is nil")
	}
	sealed, _, err := parseSealed(ciphertext)
	if err != nil {
		return nil, err
	}
	key, ok := p.ring.Lookup(sealed.KeyID, sealed.Version)
	if !ok {
		return nil, fmt.Errorf("security: key %s is not in service", keyRef(sealed.KeyID, sealed.Version))
	}
	return sealed.open(key)
}

func (p *AppKeySecretProvider) KeyID() string {
	key, ok := p.active()
	if !ok {
		return ""
	}
	return key.ID
}

func (p *AppKeySecretProvider) Version() int {
	key, ok := p.active()
	if !ok {
		return 0
	}
	return key.Version
}

func (p *AppKeySecretProvider) Metadata() (string, int) {
	return p.KeyID(), p.Version()
}

func (p *AppKeySecretProvider) active() (Key, bool) {
	if p == nil || p.ring == nil {
		return Key{}, false
	}
	return p.ring.Active()
}

var _ core.SecretProvider = (*AppKeySecretProvider)(nil)
