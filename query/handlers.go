package query

import (
	"context"
	"errors"
	"strings"

	goerrors "github.com/goliatone/go-errors"

	"github.com/goliatone/go-payhooks/core"
)

type IntegrationLister interface {
	List(ctx context.Context) ([]core.IntegrationConfig, error)
}

type GetEventClaimQuery struct {
	reader core.ClaimReader
}

func NewGetEventClaimQuery(reader core.ClaimReader) *GetEventClaimQuery {
	return &GetEventClaimQuery{reader: reader}
}

func (q *GetEventClaimQuery) Query(ctx context.Context, msg GetEventClaimMessage) (core.EventClaim, error) {
	if q == nil || q.reader == nil {
		return core.EventClaim{}, core.NewError(goerrors.CategoryInternal, "query: claim reader is required", nil)
	}
	if err := msg.Validate(); err != nil {
		return core.EventClaim{}, err
	}
	claim, err := q.reader.GetClaim(ctx, msg.ClaimKey())
	if errors.Is(err, core.ErrClaimNotFound) {
		return core.EventClaim{}, core.NewError(goerrors.CategoryNotFound, "query: event claim not found", map[string]any{
			"integration_id": msg.IntegrationID,
			"event_id":       msg.EventID,
		})
	}
	return claim, err
}

// ListIntegrationsQuery returns configured integrations with shared secrets
// and API keys masked.
type ListIntegrationsQuery struct {
	lister IntegrationLister
}

func NewListIntegrationsQuery(lister IntegrationLister) *ListIntegrationsQuery {
	return &ListIntegrationsQuery{lister: lister}
}

func (q *ListIntegrationsQuery) Query(ctx context.Context, msg ListIntegrationsMessage) ([]core.IntegrationConfig, error) {
	if q == nil || q.lister == nil {
		return nil, core.NewError(goerrors.CategoryInternal, "query: integration lister is required", nil)
	}
	items, err := q.lister.List(ctx)
	if err != nil {
		return nil, err
	}
	issuer := strings.TrimSpace(msg.Issuer)
	out := make([]core.IntegrationConfig, 0, len(items))
	for _, item := range items {
		if issuer != "" && !strings.EqualFold(item.Issuer, issuer) {
			continue
		}
		out = append(out, maskSecrets(item))
	}
	return out, nil
}

const maskedValue = "[REDACTED]"

func maskSecrets(cfg core.IntegrationConfig) core.IntegrationConfig {
	if cfg.Signature.Secret != "" {
		cfg.Signature.Secret = maskedValue
	}
	if cfg.Remote.APIKey != "" {
		cfg.Remote.APIKey = maskedValue
	}
	return cfg
}
