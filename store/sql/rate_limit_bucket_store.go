package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	repository "github.com/goliatone/go-repository-bun"
	"github.com/google/uuid"
	"github.com/uptrace/bun"

	"github.com/goliatone/go-payhooks/ratelimit"
)

// BucketStateStore persists outbound issuer throttling state, one row per
// (issuer, bucket).
type BucketStateStore struct {
	db   *bun.DB
	repo repository.Repository[*rateLimitBucketRecord]
}

func NewBucketStateStore(db *bun.DB) (*BucketStateStore, error) {
	if db == nil {
		return nil, fmt.Errorf("sqlstore: bun db is required")
	}
	repo := repository.NewRepository[*rateLimitBucketRecord](db, rateLimitBucketHandlers())
	if validator, ok := repo.(repository.Validator); ok {
		if err := validator.Validate(); err != nil {
			return nil, fmt.Errorf("sqlstore: invalid rate-limit bucket repository wiring: %w", err)
		}
	}
	return &BucketStateStore{db: db, repo: repo}, nil
}

func (s *BucketStateStore) Get(ctx context.Context, key ratelimit.BucketKey) (ratelimit.BucketState, error) {
	if s == nil || s.repo == nil {
		return ratelimit.BucketState{}, fmt.Errorf("sqlstore: rate-limit bucket store is not configured")
	}
	key = normalizeBucketKey(key)
	if err := validateBucketKey(key); err != nil {
		return ratelimit.BucketState{}, err
	}
	records, _, err := s.repo.List(ctx,
		repository.SelectBy("issuer", "=", key.Issuer),
		repository.SelectBy("bucket", "=", key.Bucket),
		repository.OrderBy("updated_at DESC"),
		repository.SelectPaginate(1, 0),
	)
	if err != nil {
		return ratelimit.BucketState{}, err
	}
	if len(records) == 0 {
		return ratelimit.BucketState{}, ratelimit.ErrStateNotFound
	}
	return records[0].toDomain(), nil
}

func (s *BucketStateStore) Upsert(ctx context.Context, state ratelimit.BucketState) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("sqlstore: rate-limit bucket store is not configured")
	}
	state.Key = normalizeBucketKey(state.Key)
	if err := validateBucketKey(state.Key); err != nil {
		return err
	}
	if state.UpdatedAt.IsZero() {
		state.UpdatedAt = time.Now().UTC()
	}

	return s.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		record, err := findBucketTx(ctx, tx, state.Key)
		if err != nil {
			return err
		}
		created := record == nil
		if created {
			record = &rateLimitBucketRecord{
				ID:     uuid.NewString(),
				Issuer: state.Key.Issuer,
				Bucket: state.Key.Bucket,
			}
		}
		record.Limit = state.Limit
		record.Remaining = state.Remaining
		record.ResetAt = copyTimePointer(state.ResetAt)
		record.ThrottledUntil = copyTimePointer(state.ThrottledUntil)
		record.LastStatus = state.LastStatus
		record.Attempts = state.Attempts
		record.UpdatedAt = state.UpdatedAt.UTC()

		if created {
			_, err = tx.NewInsert().Model(record).Exec(ctx)
			return err
		}
		_, err = tx.NewUpdate().
			Model(record).
			WherePK().
			Exec(ctx)
		return err
	})
}

func findBucketTx(ctx context.Context, tx bun.Tx, key ratelimit.BucketKey) (*rateLimitBucketRecord, error) {
	record := &rateLimitBucketRecord{}
	err := tx.NewSelect().
		Model(record).
		Where("?TableAlias.issuer = ?", key.Issuer).
		Where("?TableAlias.bucket = ?", key.Bucket).
		Limit(1).
		Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return record, nil
}

func (r *rateLimitBucketRecord) toDomain() ratelimit.BucketState {
	if r == nil {
		return ratelimit.BucketState{}
	}
	return ratelimit.BucketState{
		Key:            ratelimit.BucketKey{Issuer: r.Issuer, Bucket: r.Bucket},
		Limit:          r.Limit,
		Remaining:      r.Remaining,
		ResetAt:        copyTimePointer(r.ResetAt),
		ThrottledUntil: copyTimePointer(r.ThrottledUntil),
		LastStatus:     r.LastStatus,
		Attempts:       r.Attempts,
		UpdatedAt:      r.UpdatedAt.UTC(),
	}
}

func normalizeBucketKey(key ratelimit.BucketKey) ratelimit.BucketKey {
	return ratelimit.BucketKey{
		Issuer: strings.ToLower(strings.TrimSpace(key.Issuer)),
		Bucket: strings.ToLower(strings.TrimSpace(key.Bucket)),
	}
}

func validateBucketKey(key ratelimit.BucketKey) error {
	if key.Issuer == "" {
		return fmt.Errorf("sqlstore: rate-limit issuer is required")
	}
	if key.Bucket == "" {
		return fmt.Errorf("sqlstore: rate-limit bucket is required")
	}
	return nil
}

func copyTimePointer(input *time.Time) *time.Time {
	if input == nil {
		return nil
	}
	value := input.UTC()
	return &value
}
