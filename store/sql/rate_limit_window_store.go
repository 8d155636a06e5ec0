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

const maxWindowSwapAttempts = 16

// RateLimitWindowStore keeps fixed-window counters in SQL. Every increment is
// a compare-and-swap on the row version, retried while other callers win the
// race.
type RateLimitWindowStore struct {
	db   *bun.DB
	repo repository.Repository[*rateLimitWindowRecord]
}

func NewRateLimitWindowStore(db *bun.DB) (*RateLimitWindowStore, error) {
	if db == nil {
		return nil, fmt.Errorf("sqlstore: bun db is required")
	}
	repo := repository.NewRepository[*rateLimitWindowRecord](db, rateLimitWindowHandlers())
	if validator, ok := repo.(repository.Validator); ok {
		if err := validator.Validate(); err != nil {
			return nil, fmt.Errorf("sqlstore: invalid rate-limit window repository wiring: %w", err)
		}
	}
	return &RateLimitWindowStore{db: db, repo: repo}, nil
}

func (s *RateLimitWindowStore) Increment(
	ctx context.Context,
	identifier string,
	window time.Duration,
	now time.Time,
) (ratelimit.WindowState, error) {
	if s == nil || s.db == nil {
		return ratelimit.WindowState{}, fmt.Errorf("sqlstore: rate-limit window store is not configured")
	}
	identifier = normalizeWindowIdentifier(identifier)
	if identifier == "" {
		return ratelimit.WindowState{}, fmt.Errorf("sqlstore: rate-limit identifier is required")
	}
	if window <= 0 {
		return ratelimit.WindowState{}, fmt.Errorf("sqlstore: rate-limit window must be positive")
	}
	now = now.UTC()

	for range maxWindowSwapAttempts {
		current, err := s.find(ctx, identifier)
		if err != nil && !errors.Is(err, ratelimit.ErrStateNotFound) {
			return ratelimit.WindowState{}, err
		}
		if current == nil {
			record := &rateLimitWindowRecord{
				ID:          uuid.NewString(),
				Identifier:  identifier,
				WindowStart: now,
				Count:       1,
				UpdatedAt:   now,
			}
			if _, insertErr := s.db.NewInsert().Model(record).Exec(ctx); insertErr != nil {
				if isUniqueViolation(insertErr) {
					continue
				}
				return ratelimit.WindowState{}, insertErr
			}
			return windowToDomain(record), nil
		}

		next := *current
		if !now.Before(current.WindowStart.Add(window)) {
			next.WindowStart = now
			next.Count = 1
		} else {
			next.Count++
		}
		next.UpdatedAt = now
		next.Version++

		res, err := s.db.NewUpdate().
			Model((*rateLimitWindowRecord)(nil)).
			Set("window_start = ?", next.WindowStart).
			Set("count = ?", next.Count).
			Set("version = ?", next.Version).
			Set("updated_at = ?", now).
			Where("id = ?", current.ID).
			Where("version = ?", current.Version).
			Exec(ctx)
		if err != nil {
			return ratelimit.WindowState{}, err
		}
		if affected, _ := res.RowsAffected(); affected == 1 {
			return windowToDomain(&next), nil
		}
	}
	return ratelimit.WindowState{}, fmt.Errorf("sqlstore: rate-limit window %q is contended", identifier)
}

func (s *RateLimitWindowStore) Get(ctx context.Context, identifier string) (ratelimit.WindowState, error) {
	if s == nil || s.db == nil {
		return ratelimit.WindowState{}, fmt.Errorf("sqlstore: rate-limit window store is not configured")
	}
	records, _, err := s.repo.List(ctx,
		repository.SelectBy("identifier", "=", normalizeWindowIdentifier(identifier)),
		repository.SelectPaginate(1, 0),
	)
	if err != nil {
		return ratelimit.WindowState{}, err
	}
	if len(records) == 0 {
		return ratelimit.WindowState{}, ratelimit.ErrStateNotFound
	}
	return windowToDomain(records[0]), nil
}

func (s *RateLimitWindowStore) Reset(ctx context.Context, identifier string) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("sqlstore: rate-limit window store is not configured")
	}
	_, err := s.db.NewDelete().
		Model((*rateLimitWindowRecord)(nil)).
		Where("identifier = ?", normalizeWindowIdentifier(identifier)).
		Exec(ctx)
	return err
}

func (s *RateLimitWindowStore) find(ctx context.Context, identifier string) (*rateLimitWindowRecord, error) {
	record := &rateLimitWindowRecord{}
	err := s.db.NewSelect().
		Model(record).
		Where("?TableAlias.identifier = ?", identifier).
		Limit(1).
		Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ratelimit.ErrStateNotFound
		}
		return nil, err
	}
	return record, nil
}

func windowToDomain(record *rateLimitWindowRecord) ratelimit.WindowState {
	if record == nil {
		return ratelimit.WindowState{}
	}
	return ratelimit.WindowState{
		Identifier:  record.Identifier,
		WindowStart: record.WindowStart.UTC(),
		Count:       record.Count,
		UpdatedAt:   record.UpdatedAt.UTC(),
	}
}

func normalizeWindowIdentifier(identifier string) string {
	return strings.ToLower(strings.TrimSpace(identifier))
}
