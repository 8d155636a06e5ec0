package ratelimit

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/goliatone/go-payhooks/core"
)

// WindowState is the counter of one identifier within its current window.
type WindowState struct {
	Identifier  string
	WindowStart time.Time
	Count       int
	UpdatedAt   time.Time
}

// ResetAt is when the window closes.
func (s WindowState) ResetAt(window time.Duration) time.Time {
	return s.WindowStart.Add(window)
}

// WindowStore keeps fixed-window counters. Increment must be atomic per
// identifier: it opens a new window when the current one has closed and
// returns the counter after adding the call.
type WindowStore interface {
	Increment(ctx context.Context, identifier string, window time.Duration, now time.Time) (WindowState, error)
	Get(ctx context.Context, identifier string) (WindowState, error)
	Reset(ctx context.Context, identifier string) error
}

// FixedWindowLimiter allows Limit calls per identifier per Window.
type FixedWindowLimiter struct {
	Store  WindowStore
	Limit  int
	Window time.Duration
	Now    func() time.Time
}

func NewFixedWindowLimiter(store WindowStore, limit int, window time.Duration) (*FixedWindowLimiter, error) {
	if limit <= 0 {
		return nil, core.NewConfigurationError("rate_limit.limit", "must be positive")
	}
	if window <= 0 {
		return nil, core.NewConfigurationError("rate_limit.window", "must be positive")
	}
	if store == nil {
		store = NewMemoryWindowStore()
	}
	return &FixedWindowLimiter{
		Store:  store,
		Limit:  limit,
		Window: window,
		Now: func() time.Time {
			return time.Now().UTC()
		},
	}, nil
}

// NewLimiterFromConfig returns nil when rate limiting is disabled.
func NewLimiterFromConfig(cfg core.RateLimitConfig, store WindowStore) (*FixedWindowLimiter, error) {
	if !cfg.Enabled {
		return nil, nil
	}
	limit := cfg.Limit
	if limit == 0 {
		limit = core.DefaultRateLimit
	}
	window := cfg.Window
	if window == 0 {
		window = core.DefaultRateLimitWindow
	}
	return NewFixedWindowLimiter(store, limit, window)
}

func (l *FixedWindowLimiter) Check(ctx context.Context, identifier string) error {
	if l == nil || l.Store == nil {
		return nil
	}
	identifier = normalizeIdentifier(identifier)
	if identifier == "" {
		return fmt.Errorf("ratelimit: identifier is required")
	}
	now := l.now()
	state, err := l.Store.Increment(ctx, identifier, l.Window, now)
	if err != nil {
		return fmt.Errorf("ratelimit: increment %q: %w", identifier, err)
	}
	if state.Count <= l.Limit {
		return nil
	}
	retryAfter := state.ResetAt(l.Window).Sub(now)
	if retryAfter < time.Second {
		retryAfter = time.Second
	}
	return ThrottledError{Identifier: identifier, RetryAfter: retryAfter}
}

func (l *FixedWindowLimiter) now() time.Time {
	if l != nil && l.Now != nil {
		return l.Now().UTC()
	}
	return time.Now().UTC()
}

// Identifier joins the parts that scope a limit, e.g. integration and remote
// address.
func Identifier(parts ...string) string {
	kept := make([]string, 0, len(parts))
	for _, part := range parts {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			kept = append(kept, trimmed)
		}
	}
	return strings.Join(kept, "|")
}

func normalizeIdentifier(identifier string) string {
	return strings.ToLower(strings.TrimSpace(identifier))
}

type MemoryWindowStore struct {
	mu    sync.Mutex
	items map[string]WindowState
}

func NewMemoryWindowStore() *MemoryWindowStore {
	return &MemoryWindowStore{items: map[string]WindowState{}}
}

func (s *MemoryWindowStore) Increment(_ context.Context, identifier string, window time.Duration, now time.Time) (WindowState, error) {
	if s == nil {
		return WindowState{}, fmt.Errorf("ratelimit: window store is nil")
	}
	identifier = normalizeIdentifier(identifier)
	now = now.UTC()

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.items == nil {
		s.items = map[string]WindowState{}
	}
	state, ok := s.items[identifier]
	if !ok || !now.Before(state.ResetAt(window)) {
		state = WindowState{Identifier: identifier, WindowStart: now}
	}
	state.Count++
	state.UpdatedAt = now
	s.items[identifier] = state
	return state, nil
}

func (s *MemoryWindowStore) Get(_ context.Context, identifier string) (WindowState, error) {
	if s == nil {
		return WindowState{}, fmt.Errorf("ratelimit: window store is nil")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	state, ok := s.items[normalizeIdentifier(identifier)]
	if !ok {
		return WindowState{}, ErrStateNotFound
	}
	return state, nil
}

func (s *MemoryWindowStore) Reset(_ context.Context, identifier string) error {
	if s == nil {
		return fmt.Errorf("ratelimit: window store is nil")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.items, normalizeIdentifier(identifier))
	return nil
}

var (
	_ core.RateLimiter = (*FixedWindowLimiter)(nil)
	_ WindowStore      = (*MemoryWindowStore)(nil)
)
