package ratelimit

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/goliatone/go-payhooks/core"
	"github.com/goliatone/go-payhooks/security"
)

// TokenValidator checks request tokens of the form
// hex(HMAC-SHA256(key, "<unix>:<nonce>")). Any key of the ring that is in
// service validates; a nonce is accepted once per freshness window.
type TokenValidator struct {
	Keys            *security.KeyRing
	Ledger          ReplayLedger
	FreshnessWindow time.Duration
	Now             func() time.Time
}

func NewTokenValidator(keys *security.KeyRing, ledger ReplayLedger, freshness time.Duration) (*TokenValidator, error) {
	if keys == nil || keys.Len() == 0 {
		return nil, core.NewConfigurationError("token.keys", "at least one key is required")
	}
	if freshness < 0 {
		return nil, core.NewConfigurationError("token.freshness_window", "must not be negative")
	}
	if freshness == 0 {
		freshness = core.DefaultTokenFreshness
	}
	if ledger == nil {
		ledger = NewMemoryReplayLedger(2 * freshness)
	}
	return &TokenValidator{
		Keys:            keys,
		Ledger:          ledger,
		FreshnessWindow: freshness,
		Now: func() time.Time {
			return time.Now().UTC()
		},
	}, nil
}

func (v *TokenValidator) ValidateToken(ctx context.Context, token string, timestamp time.Time, nonce string) error {
	if v == nil || v.Keys == nil {
		return core.NewConfigurationError("token", "validator is not configured")
	}
	token = strings.ToLower(strings.TrimSpace(token))
	nonce = strings.TrimSpace(nonce)
	if token == "" || nonce == "" || timestamp.IsZero() {
		return &TokenError{Reason: TokenMissing}
	}

	now := v.now()
	age := now.Sub(timestamp.UTC())
	if age < 0 {
		age = -age
	}
	if age > v.freshness() {
		return &TokenError{Reason: TokenStale, Err: fmt.Errorf("timestamp is %s away from now", age.Truncate(time.Second))}
	}

	received, err := hex.DecodeString(token)
	if err != nil {
		return &TokenError{Reason: TokenInvalid, Err: fmt.Errorf("token is not hex")}
	}
	keys := v.Keys.Usable()
	if len(keys) == 0 {
		return &TokenError{Reason: TokenNoKeyInService}
	}
	matched := false
	message := tokenMessage(timestamp, nonce)
	for _, key := range keys {
		if hmac.Equal(received, tokenMAC(key.Material, message)) {
			matched = true
			break
		}
	}
	if !matched {
		return &TokenError{Reason: TokenInvalid}
	}

	if v.Ledger != nil {
		// The nonce must outlive the whole window the timestamp could be accepted in.
		fresh, err := v.Ledger.Claim(ctx, "token:"+nonce, 2*v.freshness())
		if err != nil {
			return fmt.Errorf("ratelimit: claim nonce: %w", err)
		}
		if !fresh {
			return &TokenError{Reason: TokenReplayed}
		}
	}
	return nil
}

// SignToken produces the token a caller holding key sends with timestamp
// and nonce.
func SignToken(key []byte, timestamp time.Time, nonce string) string {
	return hex.EncodeToString(tokenMAC(key, tokenMessage(timestamp, strings.TrimSpace(nonce))))
}

func tokenMessage(timestamp time.Time, nonce string) []byte {
	return []byte(strconv.FormatInt(timestamp.Unix(), 10) + ":" + nonce)
}

func tokenMAC(key []byte, message []byte) []byte {
	mac := hmac.New(sha256.New, key)
	mac.Write(message)
	return mac.Sum(nil)
}

func (v *TokenValidator) freshness() time.Duration {
	if v != nil && v.FreshnessWindow > 0 {
		return v.FreshnessWindow
	}
	return core.DefaultTokenFreshness
}

func (v *TokenValidator) now() time.Time {
	if v != nil && v.Now != nil {
		return v.Now().UTC()
	}
	return time.Now().UTC()
}

var _ core.TokenValidator = (*TokenValidator)(nil)
