package handlers

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/goliatone/go-payhooks/core"
)

const (
	defaultClaimLease  = 30 * time.Second
	claimSweepInterval = time.Minute
)

// MemoryClaimStore keeps claims in process memory. Every transition happens
// under one mutex, so a key is never accepted twice concurrently.
type MemoryClaimStore struct {
	// TTL bounds how long a completed claim keeps deduplicating.
	TTL time.Duration
	Now func() time.Time

	mu        sync.Mutex
	entries   map[string]core.EventClaim
	claims    map[string]string
	nextSweep time.Time
}

func NewMemoryClaimStore(ttl time.Duration) *MemoryClaimStore {
	if ttl <= 0 {
		ttl = core.DefaultClaimTTL
	}
	return &MemoryClaimStore{
		TTL:     ttl,
		entries: map[string]core.EventClaim{},
		claims:  map[string]string{},
		Now: func() time.Time {
			return time.Now().UTC()
		},
	}
}

func (s *MemoryClaimStore) Claim(_ context.Context, key string, lease time.Duration) (core.ClaimResult, error) {
	if s == nil {
		return core.ClaimResult{}, fmt.Errorf("handlers: claim store is nil")
	}
	key = strings.TrimSpace(key)
	if key == "" {
		return core.ClaimResult{}, fmt.Errorf("handlers: claim key is required")
	}
	if lease <= 0 {
		lease = defaultClaimLease
	}
	now := s.now()

	s.mu.Lock()
	defer s.mu.Unlock()
	s.ensureLocked()
	s.evictExpiredLocked(now)

	entry, exists := s.entries[key]
	if exists && entry.Status == core.ClaimStatusCompleted && !now.Before(entry.LeaseExpiresAt) {
		delete(s.entries, key)
		exists = false
	}
	if exists {
		switch entry.Status {
		case core.ClaimStatusCompleted:
			return core.ClaimResult{Existing: entry}, nil
		case core.ClaimStatusProcessing:
			if now.Before(entry.LeaseExpiresAt) {
				return core.ClaimResult{Existing: entry}, nil
			}
		}
		delete(s.claims, entry.ClaimID)
	} else {
		entry = core.EventClaim{Key: key, CreatedAt: now}
	}

	entry.ClaimID = uuid.NewString()
	entry.Status = core.ClaimStatusProcessing
	entry.Attempts++
	entry.LeaseExpiresAt = now.Add(lease)
	entry.UpdatedAt = now
	s.entries[key] = entry
	s.claims[entry.ClaimID] = key
	return core.ClaimResult{ClaimID: entry.ClaimID, Accepted: true, Existing: entry}, nil
}

func (s *MemoryClaimStore) Complete(_ context.Context, claimID string) error {
	return s.transition(claimID, func(entry *core.EventClaim, now time.Time) {
		entry.Status = core.ClaimStatusCompleted
		entry.LeaseExpiresAt = now.Add(s.ttl())
		entry.LastError = ""
	})
}

func (s *MemoryClaimStore) Fail(_ context.Context, claimID string, cause error) error {
	return s.transition(claimID, func(entry *core.EventClaim, _ time.Time) {
		entry.Status = core.ClaimStatusRetryReady
		entry.LeaseExpiresAt = time.Time{}
		if cause != nil {
			entry.LastError = cause.Error()
		}
	})
}

func (s *MemoryClaimStore) GetClaim(_ context.Context, key string) (core.EventClaim, error) {
	if s == nil {
		return core.EventClaim{}, core.ErrClaimNotFound
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.entries[strings.TrimSpace(key)]
	if !ok {
		return core.EventClaim{}, core.ErrClaimNotFound
	}
	return entry, nil
}

// ReleaseClaim drops a claim regardless of its state so the next delivery is
// processed again.
func (s *MemoryClaimStore) ReleaseClaim(_ context.Context, key string) error {
	if s == nil {
		return core.ErrClaimNotFound
	}
	key = strings.TrimSpace(key)
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.entries[key]
	if !ok {
		return core.ErrClaimNotFound
	}
	delete(s.claims, entry.ClaimID)
	delete(s.entries, key)
	return nil
}

func (s *MemoryClaimStore) transition(claimID string, apply func(entry *core.EventClaim, now time.Time)) error {
	if s == nil {
		return fmt.Errorf("handlers: claim store is nil")
	}
	claimID = strings.TrimSpace(claimID)
	if claimID == "" {
		return fmt.Errorf("handlers: claim id is required")
	}
	now := s.now()

	s.mu.Lock()
	defer s.mu.Unlock()
	s.ensureLocked()
	key, ok := s.claims[claimID]
	if !ok {
		return nil
	}
	delete(s.claims, claimID)
	entry, exists := s.entries[key]
	if !exists || entry.ClaimID != claimID || entry.Status != core.ClaimStatusProcessing {
		return nil
	}
	apply(&entry, now)
	entry.UpdatedAt = now
	s.entries[key] = entry
	return nil
}

func (s *MemoryClaimStore) ensureLocked() {
	if s.entries == nil {
		s.entries = map[string]core.EventClaim{}
	}
	if s.claims == nil {
		s.claims = map[string]string{}
	}
}

// evictExpiredLocked drops expired completed claims at most once per
// claimSweepInterval. Claim checks the requested key's expiry itself.
func (s *MemoryClaimStore) evictExpiredLocked(now time.Time) {
	if now.Before(s.nextSweep) {
		return
	}
	s.nextSweep = now.Add(claimSweepInterval)
	for key, entry := range s.entries {
		if entry.Status != core.ClaimStatusCompleted {
			continue
		}
		if !now.Before(entry.LeaseExpiresAt) {
			delete(s.entries, key)
		}
	}
}

func (s *MemoryClaimStore) ttl() time.Duration {
	if s != nil && s.TTL > 0 {
		return s.TTL
	}
	return core.DefaultClaimTTL
}

func (s *MemoryClaimStore) now() time.Time {
	if s != nil && s.Now != nil {
		return s.Now().UTC()
	}
	return time.Now().UTC()
}

var (
	_ core.ClaimStore    = (*MemoryClaimStore)(nil)
	_ core.ClaimReader   = (*MemoryClaimStore)(nil)
	_ core.ClaimReleaser = (*MemoryClaimStore)(nil)
)
