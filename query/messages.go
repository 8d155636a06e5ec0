package query

import (
	"strings"

	"github.com/goliatone/go-payhooks/core"
	"github.com/goliatone/go-payhooks/webhooks"
)

const (
	TypeGetEventClaim    = "payhooks.query.claim.get"
	TypeListIntegrations = "payhooks.query.integration.list"
)

type GetEventClaimMessage struct {
	IntegrationID string
	EventID       string
}

func (GetEventClaimMessage) Type() string { return TypeGetEventClaim }

func (m GetEventClaimMessage) Validate() error {
	if strings.TrimSpace(m.IntegrationID) == "" {
		return core.NewFieldError("query", "integration_id", "is required")
	}
	if strings.TrimSpace(m.EventID) == "" {
		return core.NewFieldError("query", "event_id", "is required")
	}
	return nil
}

func (m GetEventClaimMessage) ClaimKey() string {
	return webhooks.ClaimKeyFor(m.IntegrationID, m.EventID)
}

// ListIntegrationsMessage filters by issuer when Issuer is set.
type ListIntegrationsMessage struct {
	Issuer string
}

func (ListIntegrationsMessage) Type() string { return TypeListIntegrations }
