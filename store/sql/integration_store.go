package sqlstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	repository "github.com/goliatone/go-repository-bun"
	"github.com/google/uuid"
	"github.com/uptrace/bun"

	"github.com/goliatone/go-payhooks/core"
)

var ErrIntegrationNotFound = errors.New("sqlstore: integration not found")

// sealedSecrets is the plaintext sealed into secret_ciphertext.
type sealedSecrets struct {
	SignatureSecret string `json:"signature_secret,omitempty"`
	RemoteAPIKey    string `json:"remote_api_key,omitempty"`
}

// IntegrationStore persists integration configuration. Shared secrets and
// issuer API keys never reach the settings column; they are sealed with the
// secret provider and opened again on read.
type IntegrationStore struct {
	db      *bun.DB
	repo    repository.Repository[*integrationRecord]
	secrets core.SecretProvider
	Now     func() time.Time
}

func NewIntegrationStore(db *bun.DB, secrets core.SecretProvider) (*IntegrationStore, error) {
	if db == nil {
		return nil, fmt.Errorf("sqlstore: bun db is required")
	}
	if secrets == nil {
		return nil, fmt.Errorf("sqlstore: secret provider is required")
	}
	repo := repository.NewRepository[*integrationRecord](db, integrationHandlers())
	if validator, ok := repo.(repository.Validator); ok {
		if err := validator.Validate(); err != nil {
			return nil, fmt.Errorf("sqlstore: invalid integration repository wiring: %w", err)
		}
	}
	return &IntegrationStore{
		db:      db,
		repo:    repo,
		secrets: secrets,
		Now: func() time.Time {
			return time.Now().UTC()
		},
	}, nil
}

// Save inserts or replaces the integration with the same id.
func (s *IntegrationStore) Save(ctx context.Context, cfg core.IntegrationConfig) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("sqlstore: integration store is not configured")
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	sealed, err := s.seal(ctx, cfg)
	if err != nil {
		return err
	}
	now := s.now()
	id := strings.TrimSpace(cfg.ID)

	return s.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		record := &integrationRecord{}
		err := tx.NewSelect().
			Model(record).
			Where("?TableAlias.integration_id = ?", id).
			Limit(1).
			Scan(ctx)
		created := false
		if err != nil {
			if !errors.Is(err, sql.ErrNoRows) {
				return err
			}
			created = true
			record = &integrationRecord{
				ID:            uuid.NewString(),
				IntegrationID: id,
				CreatedAt:     now,
			}
		}
		record.Issuer = strings.ToLower(strings.TrimSpace(cfg.Issuer))
		record.Mode = strings.ToLower(strings.TrimSpace(cfg.Mode))
		record.Verification = strings.ToLower(strings.TrimSpace(cfg.Verification))
		record.Mapping = strings.ToLower(strings.TrimSpace(cfg.Mapping))
		record.Settings = integrationSettings(cfg)
		record.SecretCiphertext = sealed
		record.UpdatedAt = now

		if created {
			_, err = tx.NewInsert().Model(record).Exec(ctx)
			return err
		}
		_, err = tx.NewUpdate().Model(record).WherePK().Exec(ctx)
		return err
	})
}

func (s *IntegrationStore) Get(ctx context.Context, integrationID string) (core.IntegrationConfig, error) {
	if s == nil || s.repo == nil {
		return core.IntegrationConfig{}, fmt.Errorf("sqlstore: integration store is not configured")
	}
	records, _, err := s.repo.List(ctx,
		repository.SelectBy("integration_id", "=", strings.TrimSpace(integrationID)),
		repository.SelectPaginate(1, 0),
	)
	if err != nil {
		return core.IntegrationConfig{}, err
	}
	if len(records) == 0 {
		return core.IntegrationConfig{}, ErrIntegrationNotFound
	}
	return s.toDomain(ctx, records[0])
}

func (s *IntegrationStore) List(ctx context.Context) ([]core.IntegrationConfig, error) {
	if s == nil || s.repo == nil {
		return nil, fmt.Errorf("sqlstore: integration store is not configured")
	}
	records, _, err := s.repo.List(ctx, repository.OrderBy("integration_id ASC"))
	if err != nil {
		return nil, err
	}
	out := make([]core.IntegrationConfig, 0, len(records))
	for _, record := range records {
		cfg, err := s.toDomain(ctx, record)
		if err != nil {
			return nil, err
		}
		out = append(out, cfg)
	}
	return out, nil
}

func (s *IntegrationStore) Delete(ctx context.Context, integrationID string) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("sqlstore: integration store is not configured")
	}
	res, err := s.db.NewDelete().
		Model((*integrationRecord)(nil)).
		Where("integration_id = ?", strings.TrimSpace(integrationID)).
		Exec(ctx)
	if err != nil {
		return err
	}
	if affected, _ := res.RowsAffected(); affected == 0 {
		return ErrIntegrationNotFound
	}
	return nil
}

func (s *IntegrationStore) seal(ctx context.Context, cfg core.IntegrationConfig) ([]byte, error) {
	plain := sealedSecrets{
		SignatureSecret: cfg.Signature.Secret,
		RemoteAPIKey:    cfg.Remote.APIKey,
	}
	if plain.SignatureSecret == "" && plain.RemoteAPIKey == "" {
		return nil, nil
	}
	payload, err := json.Marshal(plain)
	if err != nil {
		return nil, err
	}
	sealed, err := s.secrets.Encrypt(ctx, payload)
	if err != nil {
		return nil, fmt.Errorf("sqlstore: seal integration secrets: %w", err)
	}
	return sealed, nil
}

func (s *IntegrationStore) toDomain(ctx context.Context, record *integrationRecord) (core.IntegrationConfig, error) {
	raw := map[string]any{
		"id":           record.IntegrationID,
		"issuer":       record.Issuer,
		"mode":         record.Mode,
		"verification": record.Verification,
		"mapping":      record.Mapping,
	}
	for _, section := range []string{"signature", "remote"} {
		if value, ok := record.Settings[section]; ok {
			raw[section] = value
		}
	}

	var cfg core.IntegrationConfig
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		DecodeHook:       mapstructure.StringToTimeDurationHookFunc(),
		WeaklyTypedInput: true,
		Result:           &cfg,
	})
	if err != nil {
		return core.IntegrationConfig{}, err
	}
	if err := decoder.Decode(raw); err != nil {
		return core.IntegrationConfig{}, fmt.Errorf("sqlstore: decode integration %s: %w", record.IntegrationID, err)
	}

	if len(record.SecretCiphertext) > 0 {
		payload, err := s.secrets.Decrypt(ctx, record.SecretCiphertext)
		if err != nil {
			return core.IntegrationConfig{}, fmt.Errorf("sqlstore: open integration %s secrets: %w", record.IntegrationID, err)
		}
		var opened sealedSecrets
		if err := json.Unmarshal(payload, &opened); err != nil {
			return core.IntegrationConfig{}, fmt.Errorf("sqlstore: decode integration %s secrets: %w", record.IntegrationID, err)
		}
		cfg.Signature.Secret = opened.SignatureSecret
		cfg.Remote.APIKey = opened.RemoteAPIKey
	}
	return cfg, nil
}

func integrationSettings(cfg core.IntegrationConfig) map[string]any {
	return map[string]any{
		"signature": map[string]any{
			"preset":             cfg.Signature.Preset,
			"algorithm":          cfg.Signature.Algorithm,
			"encoding":           cfg.Signature.Encoding,
			"header":             cfg.Signature.Header,
			"canonical_template": cfg.Signature.CanonicalTemplate,
			"value_template":     cfg.Signature.ValueTemplate,
			"timestamp_header":   cfg.Signature.TimestampHeader,
			"tolerance":          cfg.Signature.Tolerance.String(),
		},
		"remote": map[string]any{
			"base_url": cfg.Remote.BaseURL,
			"timeout":  cfg.Remote.Timeout.String(),
		},
	}
}

func (s *IntegrationStore) now() time.Time {
	if s != nil && s.Now != nil {
		return s.Now().UTC()
	}
	return time.Now().UTC()
}
