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

	"github.com/goliatone/go-payhooks/core"
)

const defaultClaimLease = 30 * time.Second

// EventClaimStore persists event claims. Claim inserts the row and lets the
// unique claim_key index arbitrate racing deliveries; an expired or released
// claim is taken over with a compare-and-swap on the previous claim id.
type EventClaimStore struct {
	db   *bun.DB
	repo repository.Repository[*eventClaimRecord]

	TTL time.Duration
	Now func() time.Time
}

func NewEventClaimStore(db *bun.DB, ttl time.Duration) (*EventClaimStore, error) {
	if db == nil {
		return nil, fmt.Errorf("sqlstore: bun db is required")
	}
	repo := repository.NewRepository[*eventClaimRecord](db, eventClaimHandlers())
	if validator, ok := repo.(repository.Validator); ok {
		if err := validator.Validate(); err != nil {
			return nil, fmt.Errorf("sqlstore: invalid event claim repository wiring: %w", err)
		}
	}
	if ttl <= 0 {
		ttl = core.DefaultClaimTTL
	}
	return &EventClaimStore{
		db:   db,
		repo: repo,
		TTL:  ttl,
		Now: func() time.Time {
			return time.Now().UTC()
		},
	}, nil
}

func (s *EventClaimStore) Claim(ctx context.Context, key string, lease time.Duration) (core.ClaimResult, error) {
	if s == nil || s.db == nil {
		return core.ClaimResult{}, fmt.Errorf("sqlstore: event claim store is not configured")
	}
	key = strings.TrimSpace(key)
	if key == "" {
		return core.ClaimResult{}, fmt.Errorf("sqlstore: claim key is required")
	}
	if lease <= 0 {
		lease = defaultClaimLease
	}
	now := s.now()
	expires := now.Add(lease)
	record := &eventClaimRecord{
		ID:             uuid.NewString(),
		ClaimKey:       key,
		ClaimID:        uuid.NewString(),
		Status:         string(core.ClaimStatusProcessing),
		Attempts:       1,
		LeaseExpiresAt: &expires,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if _, err := s.db.NewInsert().Model(record).Exec(ctx); err != nil {
		if !isUniqueViolation(err) {
			return core.ClaimResult{}, err
		}
		return s.takeOver(ctx, key, lease, now)
	}
	claim := eventClaimToDomain(record)
	return core.ClaimResult{ClaimID: claim.ClaimID, Accepted: true, Existing: claim}, nil
}

// takeOver reclaims a row that no longer blocks processing. Only the caller
// whose update matches the previous claim id wins.
func (s *EventClaimStore) takeOver(ctx context.Context, key string, lease time.Duration, now time.Time) (core.ClaimResult, error) {
	existing, err := s.find(ctx, key)
	if err != nil {
		return core.ClaimResult{}, err
	}
	if blocksProcessing(existing, now) {
		return core.ClaimResult{Existing: eventClaimToDomain(existing)}, nil
	}

	claimID := uuid.NewString()
	expires := now.Add(lease)
	res, err := s.db.NewUpdate().
		Model((*eventClaimRecord)(nil)).
		Set("claim_id = ?", claimID).
		Set("status = ?", string(core.ClaimStatusProcessing)).
		Set("attempts = attempts + 1").
		Set("lease_expires_at = ?", expires).
		Set("last_error = ?", "").
		Set("updated_at = ?", now).
		Where("claim_key = ?", key).
		Where("claim_id = ?", existing.ClaimID).
		Exec(ctx)
	if err != nil {
		return core.ClaimResult{}, err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return core.ClaimResult{}, err
	}
	current, err := s.find(ctx, key)
	if err != nil {
		return core.ClaimResult{}, err
	}
	claim := eventClaimToDomain(current)
	if affected != 1 || current.ClaimID != claimID {
		return core.ClaimResult{Existing: claim}, nil
	}
	return core.ClaimResult{ClaimID: claimID, Accepted: true, Existing: claim}, nil
}

func (s *EventClaimStore) Complete(ctx context.Context, claimID string) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("sqlstore: event claim store is not configured")
	}
	claimID = strings.TrimSpace(claimID)
	if claimID == "" {
		return fmt.Errorf("sqlstore: claim id is required")
	}
	now := s.now()
	_, err := s.db.NewUpdate().
		Model((*eventClaimRecord)(nil)).
		Set("status = ?", string(core.ClaimStatusCompleted)).
		Set("lease_expires_at = ?", now.Add(s.ttl())).
		Set("last_error = ?", "").
		Set("updated_at = ?", now).
		Where("claim_id = ?", claimID).
		Where("status = ?", string(core.ClaimStatusProcessing)).
		Exec(ctx)
	return err
}

func (s *EventClaimStore) Fail(ctx context.Context, claimID string, cause error) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("sqlstore: event claim store is not configured")
	}
	claimID = strings.TrimSpace(claimID)
	if claimID == "" {
		return fmt.Errorf("sqlstore: claim id is required")
	}
	lastError := ""
	if cause != nil {
		lastError = cause.Error()
	}
	_, err := s.db.NewUpdate().
		Model((*eventClaimRecord)(nil)).
		Set("status = ?", string(core.ClaimStatusRetryReady)).
		Set("lease_expires_at = NULL").
		Set("last_error = ?", lastError).
		Set("updated_at = ?", s.now()).
		Where("claim_id = ?", claimID).
		Where("status = ?", string(core.ClaimStatusProcessing)).
		Exec(ctx)
	return err
}

func (s *EventClaimStore) GetClaim(ctx context.Context, key string) (core.EventClaim, error) {
	if s == nil || s.repo == nil {
		return core.EventClaim{}, fmt.Errorf("sqlstore: event claim store is not configured")
	}
	records, _, err := s.repo.List(ctx,
		repository.SelectBy("claim_key", "=", strings.TrimSpace(key)),
		repository.SelectPaginate(1, 0),
	)
	if err != nil {
		return core.EventClaim{}, err
	}
	if len(records) == 0 {
		return core.EventClaim{}, core.ErrClaimNotFound
	}
	return eventClaimToDomain(records[0]), nil
}

func (s *EventClaimStore) ReleaseClaim(ctx context.Context, key string) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("sqlstore: event claim store is not configured")
	}
	res, err := s.db.NewDelete().
		Model((*eventClaimRecord)(nil)).
		Where("claim_key = ?", strings.TrimSpace(key)).
		Exec(ctx)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return core.ErrClaimNotFound
	}
	return nil
}

func (s *EventClaimStore) find(ctx context.Context, key string) (*eventClaimRecord, error) {
	record := &eventClaimRecord{}
	err := s.db.NewSelect().
		Model(record).
		Where("?TableAlias.claim_key = ?", key).
		Limit(1).
		Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, core.ErrClaimNotFound
		}
		return nil, err
	}
	return record, nil
}

// blocksProcessing reports whether a stored claim still rejects new
// deliveries: completed within its TTL or processing within its lease.
func blocksProcessing(record *eventClaimRecord, now time.Time) bool {
	switch core.ClaimStatus(record.Status) {
	case core.ClaimStatusCompleted, core.ClaimStatusProcessing:
		return record.LeaseExpiresAt != nil && now.Before(*record.LeaseExpiresAt)
	default:
		return false
	}
}

func eventClaimToDomain(record *eventClaimRecord) core.EventClaim {
	if record == nil {
		return core.EventClaim{}
	}
	claim := core.EventClaim{
		Key:       record.ClaimKey,
		ClaimID:   record.ClaimID,
		Status:    core.ClaimStatus(record.Status),
		Attempts:  record.Attempts,
		LastError: record.LastError,
		CreatedAt: record.CreatedAt.UTC(),
		UpdatedAt: record.UpdatedAt.UTC(),
	}
	if record.LeaseExpiresAt != nil {
		claim.LeaseExpiresAt = record.LeaseExpiresAt.UTC()
	}
	return claim
}

func (s *EventClaimStore) ttl() time.Duration {
	if s != nil && s.TTL > 0 {
		return s.TTL
	}
	return core.DefaultClaimTTL
}

func (s *EventClaimStore) now() time.Time {
	if s != nil && s.Now != nil {
		return s.Now().UTC()
	}
	return time.Now().UTC()
}
