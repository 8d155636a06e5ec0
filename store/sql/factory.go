package sqlstore

import (
	"fmt"
	"time"

	persistence "github.com/goliatone/go-persistence-bun"
	repositorycache "github.com/goliatone/go-repository-cache/cache"
	"github.com/uptrace/bun"

	"github.com/goliatone/go-payhooks/core"
	"github.com/goliatone/go-payhooks/ratelimit"
)

// StoreOption tunes the stores a RepositoryFactory opens.
type StoreOption func(*storeSettings)

type storeSettings struct {
	claimTTL    time.Duration
	secrets     core.SecretProvider
	bucketCache repositorycache.CacheService
}

// WithClaimTTL sets how long event claims stay fresh. Zero keeps the default.
func WithClaimTTL(ttl time.Duration) StoreOption {
	return func(s *storeSettings) {
		if ttl > 0 {
			s.claimTTL = ttl
		}
	}
}

// WithSecrets enables the integration store, which seals signing secrets.
func WithSecrets(secrets core.SecretProvider) StoreOption {
	return func(s *storeSettings) {
		s.secrets = secrets
	}
}

// WithBucketCache fronts bucket reads with a repository cache.
func WithBucketCache(cacheService repositorycache.CacheService) StoreOption {
	return func(s *storeSettings) {
		s.bucketCache = cacheService
	}
}

// RepositoryFactory holds the payhooks SQL stores opened over one bun database.
type RepositoryFactory struct {
	db *bun.DB

	claims       *EventClaimStore
	windows      *RateLimitWindowStore
	buckets      ratelimit.BucketStore
	integrations *IntegrationStore
}

// OpenStores accepts a *bun.DB, a go-persistence-bun client, or anything
// exposing DB() *bun.DB.
func OpenStores(handle any, opts ...StoreOption) (*RepositoryFactory, error) {
	db, err := resolveBunDB(handle)
	if err != nil {
		return nil, err
	}
	settings := storeSettings{claimTTL: core.DefaultClaimTTL}
	for _, opt := range opts {
		if opt != nil {
			opt(&settings)
		}
	}

	factory := &RepositoryFactory{db: db}
	if factory.claims, err = NewEventClaimStore(db, settings.claimTTL); err != nil {
		return nil, err
	}
	if factory.windows, err = NewRateLimitWindowStore(db); err != nil {
		return nil, err
	}
	buckets, err := NewBucketStateStore(db)
	if err != nil {
		return nil, err
	}
	factory.buckets = buckets
	if settings.bucketCache != nil {
		cached, err := NewCachedBucketStateStore(buckets, settings.bucketCache)
		if err != nil {
			return nil, err
		}
		factory.buckets = cached
	}
	if settings.secrets != nil {
		if factory.integrations, err = NewIntegrationStore(db, settings.secrets); err != nil {
			return nil, err
		}
	}
	return factory, nil
}

// NewRepositoryFactoryFromPersistence is OpenStores with only a secret provider.
func NewRepositoryFactoryFromPersistence(client *persistence.Client, secrets core.SecretProvider) (*RepositoryFactory, error) {
	if client == nil {
		return nil, fmt.Errorf("sqlstore: persistence client is required")
	}
	return OpenStores(client, WithSecrets(secrets))
}

func (f *RepositoryFactory) DB() *bun.DB {
	if f == nil {
		return nil
	}
	return f.db
}

func (f *RepositoryFactory) ClaimStore() *EventClaimStore {
	if f == nil {
		return nil
	}
	return f.claims
}

func (f *RepositoryFactory) WindowStore() *RateLimitWindowStore {
	if f == nil {
		return nil
	}
	return f.windows
}

// BucketStore is cache-backed when WithBucketCache was given.
func (f *RepositoryFactory) BucketStore() ratelimit.BucketStore {
	if f == nil {
		return nil
	}
	return f.buckets
}

// IntegrationStore is nil unless WithSecrets was given.
func (f *RepositoryFactory) IntegrationStore() *IntegrationStore {
	if f == nil {
		return nil
	}
	return f.integrations
}

func resolveBunDB(handle any) (*bun.DB, error) {
	switch typed := handle.(type) {
	case nil:
		return nil, fmt.Errorf("sqlstore: database handle is required")
	case *bun.DB:
		if typed == nil {
			return nil, fmt.Errorf("sqlstore: database handle is required")
		}
		return typed, nil
	case interface{ DB() *bun.DB }:
		if db := typed.DB(); db != nil {
			return db, nil
		}
		return nil, fmt.Errorf("sqlstore: %T returned a nil bun db", handle)
	default:
		return nil, fmt.Errorf("sqlstore: unsupported database handle %T", handle)
	}
}
