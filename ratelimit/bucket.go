package ratelimit

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"
)

// BucketKey scopes outbound throttling state to one issuer API bucket.
type BucketKey struct {
	Issuer string
	Bucket string
}

func (k BucketKey) normalized() BucketKey {
	return BucketKey{
		Issuer: strings.ToLower(strings.TrimSpace(k.Issuer)),
		Bucket: strings.ToLower(strings.TrimSpace(k.Bucket)),
	}
}

func (k BucketKey) String() string {
	n := k.normalized()
	return n.Issuer + "|" + n.Bucket
}

type BucketState struct {
	Key            BucketKey
	Limit          int
	Remaining      int
	ResetAt        *time.Time
	ThrottledUntil *time.Time
	LastStatus     int
	Attempts       int
	UpdatedAt      time.Time
}

// blockedFor returns how long calls must wait at now, or zero.
func (s BucketState) blockedFor(now time.Time) time.Duration {
	if s.ThrottledUntil != nil && now.Before(*s.ThrottledUntil) {
		return s.ThrottledUntil.Sub(now)
	}
	if s.Remaining == 0 && s.ResetAt != nil && now.Before(*s.ResetAt) {
		return s.ResetAt.Sub(now)
	}
	return 0
}

type BucketStore interface {
	Get(ctx context.Context, key BucketKey) (BucketState, error)
	Upsert(ctx context.Context, state BucketState) error
}

// MemoryBucketStore keeps bucket state for a single process.
type MemoryBucketStore struct {
	mu    sync.RWMutex
	items map[string]BucketState
}

func NewMemoryBucketStore() *MemoryBucketStore {
	return &MemoryBucketStore{items: map[string]BucketState{}}
}

func (s *MemoryBucketStore) Get(_ context.Context, key BucketKey) (BucketState, error) {
	if s == nil {
		return BucketState{}, fmt.Errorf("ratelimit: bucket store is nil")
	}
	s.mu.RLock()
	state, ok := s.items[key.String()]
	s.mu.RUnlock()
	if !ok {
		return BucketState{}, ErrStateNotFound
	}
	return state, nil
}

func (s *MemoryBucketStore) Upsert(_ context.Context, state BucketState) error {
	if s == nil {
		return fmt.Errorf("ratelimit: bucket store is nil")
	}
	state.Key = state.Key.normalized()
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.items == nil {
		s.items = map[string]BucketState{}
	}
	s.items[state.Key.String()] = state
	return nil
}

var _ BucketStore = (*MemoryBucketStore)(nil)
