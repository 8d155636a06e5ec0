package ratelimit

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	goerrors "github.com/goliatone/go-errors"

	"github.com/goliatone/go-payhooks/core"
)

var ErrStateNotFound = errors.New("ratelimit: state not found")

// ThrottledError reports that Identifier exhausted its allowance. RetryAfter
// is when the next call is expected to pass.
type ThrottledError struct {
	Identifier string
	Bucket     string
	RetryAfter time.Duration
}

func (e ThrottledError) Error() string {
	msg := fmt.Sprintf("ratelimit: %q throttled for %s", strings.TrimSpace(e.Identifier), e.RetryAfter)
	if bucket := strings.TrimSpace(e.Bucket); bucket != "" {
		msg = fmt.Sprintf("ratelimit: %q bucket %q throttled for %s", strings.TrimSpace(e.Identifier), bucket, e.RetryAfter)
	}
	return msg
}

func (e ThrottledError) RetryAfterHint() time.Duration {
	return e.RetryAfter
}

func (e ThrottledError) ToServiceError() *goerrors.Error {
	metadata := map[string]any{
		"identifier": strings.TrimSpace(e.Identifier),
	}
	if bucket := strings.TrimSpace(e.Bucket); bucket != "" {
		metadata["bucket"] = bucket
	}
	if e.RetryAfter > 0 {
		metadata["retry_after_ms"] = e.RetryAfter.Milliseconds()
	}
	return goerrors.New(e.Error(), goerrors.CategoryRateLimit).
		WithCode(http.StatusTooManyRequests).
		WithTextCode(core.ErrorRateLimited).
		WithMetadata(metadata)
}

type TokenReason string

const (
	TokenMissing        TokenReason = "missing_token"
	TokenStale          TokenReason = "stale_timestamp"
	TokenInvalid        TokenReason = "invalid_token"
	TokenReplayed       TokenReason = "nonce_replayed"
	TokenNoKeyInService TokenReason = "no_key_in_service"
)

// TokenError rejects a request token. It never says which key was tried.
type TokenError struct {
	Reason TokenReason
	Err    error
}

func (e *TokenError) Error() string {
	if e == nil {
		return ""
	}
	msg := "ratelimit: token rejected: " + string(e.Reason)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *TokenError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

func (e *TokenError) ToServiceError() *goerrors.Error {
	if e == nil {
		return nil
	}
	return goerrors.New(e.Error(), goerrors.CategoryAuth).
		WithCode(http.StatusUnauthorized).
		WithTextCode(core.ErrorTokenInvalid).
		WithMetadata(map[string]any{"reason": string(e.Reason)})
}

var _ core.RetryHinter = ThrottledError{}
