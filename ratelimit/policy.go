package ratelimit

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"
)

// ResponseMeta is what the policy reads from an issuer response. A positive
// RetryAfter wins over the Retry-After header.
type ResponseMeta struct {
	StatusCode int
	Headers    map[string]string
	RetryAfter time.Duration
}

// AdaptivePolicy throttles outbound issuer calls from the rate-limit headers
// the issuer returns. BeforeCall refuses while a bucket is known exhausted.
type AdaptivePolicy struct {
	Store            BucketStore
	Now              func() time.Time
	InitialBackoff   time.Duration
	MaxBackoff       time.Duration
	DefaultRetryHint time.Duration
}

func NewAdaptivePolicy(store BucketStore) *AdaptivePolicy {
	if store == nil {
		store = NewMemoryBucketStore()
	}
	return &AdaptivePolicy{
		Store:            store,
		Now:              func() time.Time { return time.Now().UTC() },
		InitialBackoff:   time.Second,
		MaxBackoff:       time.Minute,
		DefaultRetryHint: 5 * time.Second,
	}
}

func (p *AdaptivePolicy) BeforeCall(ctx context.Context, key BucketKey) error {
	if p == nil || p.Store == nil {
		return nil
	}
	key = key.normalized()
	state, err := p.Store.Get(ctx, key)
	switch {
	case errors.Is(err, ErrStateNotFound):
		return nil
	case err != nil:
		return err
	}
	if wait := state.blockedFor(p.now()); wait > 0 {
		return ThrottledError{Identifier: key.Issuer, Bucket: key.Bucket, RetryAfter: wait}
	}
	return nil
}

func (p *AdaptivePolicy) AfterCall(ctx context.Context, key BucketKey, res ResponseMeta) error {
	if p == nil || p.Store == nil {
		return nil
	}
	key = key.normalized()
	now := p.now()
	state, err := p.Store.Get(ctx, key)
	if errors.Is(err, ErrStateNotFound) {
		state, err = BucketState{Key: key}, nil
	}
	if err != nil {
		return err
	}

	signal := readLimitSignal(res, now)
	signal.applyTo(&state)
	state.LastStatus = res.StatusCode
	state.UpdatedAt = now

	if !signal.throttles(res.StatusCode, state.Remaining) {
		state.Attempts = 0
		state.ThrottledUntil = nil
		return p.Store.Upsert(ctx, state)
	}
	state.Attempts++
	delay := signal.retryAfter
	if delay <= 0 {
		delay = p.nextBackoff(state.Attempts)
	}
	until := now.Add(delay)
	state.ThrottledUntil = &until
	return p.Store.Upsert(ctx, state)
}

func (p *AdaptivePolicy) now() time.Time {
	if p != nil && p.Now != nil {
		return p.Now().UTC()
	}
	return time.Now().UTC()
}

// nextBackoff doubles from InitialBackoff per attempt, capped at MaxBackoff.
func (p *AdaptivePolicy) nextBackoff(attempt int) time.Duration {
	base := p.InitialBackoff
	if base <= 0 {
		base = p.DefaultRetryHint
	}
	if base <= 0 {
		base = time.Second
	}
	ceiling := p.MaxBackoff
	if ceiling <= 0 {
		ceiling = time.Minute
	}
	delay := base
	for range max(attempt-1, 0) {
		if delay >= ceiling {
			break
		}
		delay *= 2
	}
	return min(delay, ceiling)
}

// limitSignal is the rate-limit information carried by one response.
type limitSignal struct {
	limit      *int
	remaining  *int
	resetAt    *time.Time
	retryAfter time.Duration
}

func readLimitSignal(res ResponseMeta, now time.Time) limitSignal {
	headers := make(http.Header, len(res.Headers))
	for name, value := range res.Headers {
		headers.Set(strings.TrimSpace(name), strings.TrimSpace(value))
	}
	signal := limitSignal{
		limit:      headerInt(headers, "X-RateLimit-Limit"),
		remaining:  headerInt(headers, "X-RateLimit-Remaining"),
		retryAfter: res.RetryAfter,
	}
	if reset := headerInt(headers, "X-RateLimit-Reset"); reset != nil && *reset > 0 {
		at := time.Unix(int64(*reset), 0).UTC()
		signal.resetAt = &at
	}
	if signal.retryAfter <= 0 {
		signal.retryAfter = retryAfterHeader(headers.Get("Retry-After"), now)
	}
	return signal
}

func (s limitSignal) applyTo(state *BucketState) {
	if s.limit != nil {
		state.Limit = *s.limit
	}
	if s.remaining != nil {
		state.Remaining = *s.remaining
	}
	if s.resetAt != nil {
		state.ResetAt = s.resetAt
	}
}

func (s limitSignal) present() bool {
	return s.limit != nil || s.remaining != nil || s.resetAt != nil || s.retryAfter > 0
}

// throttles: a 429 always does; an exhausted bucket does below 500 when the
// response said anything about limits.
func (s limitSignal) throttles(status int, remaining int) bool {
	if status == http.StatusTooManyRequests {
		return true
	}
	return status < http.StatusInternalServerError && remaining == 0 && s.present()
}

func headerInt(headers http.Header, name string) *int {
	parsed, err := strconv.Atoi(headers.Get(name))
	if err != nil {
		return nil
	}
	return &parsed
}

func retryAfterHeader(raw string, now time.Time) time.Duration {
	if raw == "" {
		return 0
	}
	if seconds, err := strconv.Atoi(raw); err == nil {
		return max(time.Duration(seconds)*time.Second, 0)
	}
	if at, err := http.ParseTime(raw); err == nil && at.After(now) {
		return at.Sub(now)
	}
	return 0
}
