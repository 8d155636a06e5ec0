package sqlstore

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	repositorycache "github.com/goliatone/go-repository-cache/cache"

	"github.com/goliatone/go-payhooks/ratelimit"
)

const bucketStateCacheKeyPrefix = "payhooks::ratelimit_bucket::v1"

// CachedBucketStateStore serves bucket reads from a cache and drops the
// cached entry whenever the bucket is written.
type CachedBucketStateStore struct {
	base  ratelimit.BucketStore
	cache repositorycache.CacheService
}

func NewCachedBucketStateStore(
	base ratelimit.BucketStore,
	cacheService repositorycache.CacheService,
) (*CachedBucketStateStore, error) {
	if base == nil {
		return nil, fmt.Errorf("sqlstore: base rate-limit bucket store is required")
	}
	if cacheService == nil {
		return nil, fmt.Errorf("sqlstore: rate-limit cache service is required")
	}
	return &CachedBucketStateStore{base: base, cache: cacheService}, nil
}

// BucketStateCacheKey returns payhooks::ratelimit_bucket::v1::<issuer>::<bucket>
// with each segment path escaped after normalization.
func BucketStateCacheKey(key ratelimit.BucketKey) (string, error) {
	normalized := normalizeBucketKey(key)
	if err := validateBucketKey(normalized); err != nil {
		return "", err
	}
	return strings.Join([]string{
		bucketStateCacheKeyPrefix,
		url.PathEscape(normalized.Issuer),
		url.PathEscape(normalized.Bucket),
	}, "::"), nil
}

func (s *CachedBucketStateStore) Get(ctx context.Context, key ratelimit.BucketKey) (ratelimit.BucketState, error) {
	if s == nil || s.base == nil || s.cache == nil {
		return ratelimit.BucketState{}, fmt.Errorf("sqlstore: cached rate-limit bucket store is not configured")
	}
	normalized := normalizeBucketKey(key)
	cacheKey, err := BucketStateCacheKey(normalized)
	if err != nil {
		return ratelimit.BucketState{}, err
	}
	state, err := repositorycache.GetOrFetch(ctx, s.cache, cacheKey, func(ctx context.Context) (ratelimit.BucketState, error) {
		fetched, fetchErr := s.base.Get(ctx, normalized)
		if fetchErr != nil {
			return ratelimit.BucketState{}, fetchErr
		}
		return cloneBucketState(fetched), nil
	})
	if err != nil {
		return ratelimit.BucketState{}, err
	}
	return cloneBucketState(state), nil
}

func (s *CachedBucketStateStore) Upsert(ctx context.Context, state ratelimit.BucketState) error {
	if s == nil || s.base == nil || s.cache == nil {
		return fmt.Errorf("sqlstore: cached rate-limit bucket store is not configured")
	}
	state.Key = normalizeBucketKey(state.Key)
	cacheKey, err := BucketStateCacheKey(state.Key)
	if err != nil {
		return err
	}
	if err := s.base.Upsert(ctx, state); err != nil {
		return err
	}
	return s.cache.Delete(ctx, cacheKey)
}

func cloneBucketState(state ratelimit.BucketState) ratelimit.BucketState {
	cloned := state
	cloned.Key = normalizeBucketKey(state.Key)
	cloned.ResetAt = copyTimePointer(state.ResetAt)
	cloned.ThrottledUntil = copyTimePointer(state.ThrottledUntil)
	return cloned
}
