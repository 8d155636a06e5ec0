package sqlstore

import (
	"time"

	"github.com/uptrace/bun"
)

type eventClaimRecord struct {
	bun.BaseModel `bun:"table:payhooks_event_claims,alias:pec"`

	ID             string     `bun:"id,pk"`
	ClaimKey       string     `bun:"claim_key,notnull"`
	ClaimID        string     `bun:"claim_id,notnull"`
	Status         string     `bun:"status,notnull"`
	Attempts       int        `bun:"attempts,notnull"`
	LeaseExpiresAt *time.Time `bun:"lease_expires_at,nullzero"`
	LastError      string     `bun:"last_error,notnull"`
	CreatedAt      time.Time  `bun:"created_at,nullzero,notnull,default:current_timestamp"`
	UpdatedAt      time.Time  `bun:"updated_at,nullzero,notnull,default:current_timestamp"`
}

type rateLimitWindowRecord struct {
	bun.BaseModel `bun:"table:payhooks_rate_limit_windows,alias:prw"`

	ID          string    `bun:"id,pk"`
	Identifier  string    `bun:"identifier,notnull"`
	WindowStart time.Time `bun:"window_start,notnull"`
	Count       int       `bun:"count,notnull"`
	Version     int       `bun:"version,notnull"`
	UpdatedAt   time.Time `bun:"updated_at,nullzero,notnull,default:current_timestamp"`
}

type rateLimitBucketRecord struct {
	bun.BaseModel `bun:"table:payhooks_rate_limit_buckets,alias:prb"`

	ID             string     `bun:"id,pk"`
	Issuer         string     `bun:"issuer,notnull"`
	Bucket         string     `bun:"bucket,notnull"`
	Limit          int        `bun:"limit_value,notnull"`
	Remaining      int        `bun:"remaining,notnull"`
	ResetAt        *time.Time `bun:"reset_at,nullzero"`
	ThrottledUntil *time.Time `bun:"throttled_until,nullzero"`
	LastStatus     int        `bun:"last_status,notnull"`
	Attempts       int        `bun:"attempts,notnull"`
	UpdatedAt      time.Time  `bun:"updated_at,nullzero,notnull,default:current_timestamp"`
}

type integrationRecord struct {
	bun.BaseModel `bun:"table:payhooks_integrations,alias:pi"`

	ID               string         `bun:"id,pk"`
	IntegrationID    string         `bun:"integration_id,notnull"`
	Issuer           string         `bun:"issuer,notnull"`
	Mode             string         `bun:"mode,notnull"`
	Verification     string         `bun:"verification,notnull"`
	Mapping          string         `bun:"mapping,notnull"`
	Settings         map[string]any `bun:"settings,type:jsonb,notnull"`
	SecretCiphertext []byte         `bun:"secret_ciphertext"`
	CreatedAt        time.Time      `bun:"created_at,nullzero,notnull,default:current_timestamp"`
	UpdatedAt        time.Time      `bun:"updated_at,nullzero,notnull,default:current_timestamp"`
}
