package security

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"io"
	"strings"
)

const (
	sealedPrefix = "payhooks.secret.v1:"
	algAESGCM    = "aes-256-gcm"
)

// sealedSecret is the stored form of a secret. []byte fields travel as
// base64 in the JSON body. The key reference is bound as additional data,
// so a value cannot be relabelled to another key.
type sealedSecret struct {
	KeyID     string `json:"kid"`
	Version   int    `json:"ver"`
	Algorithm string `json:"alg"`
	Nonce     []byte `json:"nonce"`
	Payload   []byte `json:"ct"`
}

// SealedInfo describes a sealed value without opening it.
type SealedInfo struct {
	Prefixed  bool
	KeyID     string
	Version   int
	Algorithm string
}

// InspectSealed reads the key reference of a sealed value. With
// requirePrefix, bare JSON bodies are rejected.
func InspectSealed(raw []byte, requirePrefix bool) (SealedInfo, error) {
	sealed, prefixed, err := parseSealed(raw)
	if err != nil {
		return SealedInfo{}, err
	}
	if requirePrefix && !prefixed {
		return SealedInfo{}, fmt.Errorf("security: sealed value is missing %q", sealedPrefix)
	}
	return SealedInfo{
		Prefixed:  prefixed,
		KeyID:     sealed.KeyID,
		Version:   sealed.Version,
		Algorithm: sealed.Algorithm,
	}, nil
}

func sealWith(key Key, plaintext []byte) ([]byte, error) {
	gcm, err := newGCM(key.Material)
	if err != nil {
		return nil, err
	}
	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, fmt.Errorf("security: nonce generation failed: %w", err)
	}
	sealed := sealedSecret{
		KeyID:     key.ID,
		Version:   key.Version,
		Algorithm: algAESGCM,
		Nonce:     nonce,
		Payload:   gcm.Seal(nil, nonce, plaintext, []byte(keyRef(key.ID, key.Version))),
	}
	body, err := json.Marshal(sealed)
	if err != nil {
		return nil, fmt.Errorf("security: encode sealed value: %w", err)
	}
	return append([]byte(sealedPrefix), body...), nil
}

func (s sealedSecret) open(key Key) ([]byte, error) {
	if s.Algorithm != algAESGCM {
		return nil, fmt.Errorf("security: unsupported algorithm %q", s.Algorithm)
	}
	gcm, err := newGCM(key.Material)
	if err != nil {
		return nil, err
	}
	if len(s.Nonce) != gcm.NonceSize() {
		return nil, fmt.Errorf("security: nonce must be %d bytes", gcm.NonceSize())
	}
	plaintext, err := gcm.Open(nil, s.Nonce, s.Payload, []byte(keyRef(s.KeyID, s.Version)))
	if err != nil {
		return nil, fmt.Errorf("security: open sealed value: %w", err)
	}
	return plaintext, nil
}

func parseSealed(raw []byte) (sealedSecret, bool, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		return sealedSecret{}, false, fmt.Errorf("security: sealed value is required")
	}
	body, prefixed := bytes.CutPrefix(raw, []byte(sealedPrefix))

	var sealed sealedSecret
	if err := json.Unmarshal(body, &sealed); err != nil {
		return sealedSecret{}, false, fmt.Errorf("security: decode sealed value: %w", err)
	}
	sealed.KeyID = strings.TrimSpace(sealed.KeyID)
	sealed.Algorithm = strings.ToLower(strings.TrimSpace(sealed.Algorithm))
	if sealed.Algorithm == "" {
		sealed.Algorithm = algAESGCM
	}
	if sealed.KeyID == "" || len(sealed.Payload) == 0 {
		return sealedSecret{}, false, fmt.Errorf("security: sealed value has no key id or payload")
	}
	return sealed, prefixed, nil
}

func newGCM(material []byte) (cipher.AEAD, error) {
	block, err := aes.NewCipher(deriveAESKey(material))
	if err != nil {
		return nil, fmt.Errorf("security: create cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("security: create gcm: %w", err)
	}
	return gcm, nil
}

// deriveAESKey uses valid AES key sizes as is and hashes anything else.
func deriveAESKey(material []byte) []byte {
	switch len(material) {
	case 16, 24, 32:
		return bytes.Clone(material)
	}
	sum := sha256.Sum256(material)
	return sum[:]
}
