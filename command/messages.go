package command

import (
	"strings"

	"github.com/goliatone/go-payhooks/core"
	"github.com/goliatone/go-payhooks/webhooks"
)

const (
	TypeHandleWebhook = "payhooks.command.webhook.handle"
	TypeReleaseClaim  = "payhooks.command.claim.release"
)

// HandleWebhookMessage carries one raw delivery into the dispatcher.
type HandleWebhookMessage struct {
	Request core.InboundWebhookRequest
}

func (HandleWebhookMessage) Type() string { return TypeHandleWebhook }

func (m HandleWebhookMessage) Validate() error {
	if strings.TrimSpace(m.Request.IntegrationID) == "" {
		return core.NewFieldError("command", "integration_id", "is required")
	}
	if len(m.Request.Body) == 0 {
		return core.NewFieldError("command", "body", "is required")
	}
	return nil
}

// ReleaseClaimMessage removes the claim for one event so the next delivery
// processes it again.
type ReleaseClaimMessage struct {
	IntegrationID string
	EventID       string
	Reason        string
}

func (ReleaseClaimMessage) Type() string { return TypeReleaseClaim }

func (m ReleaseClaimMessage) Validate() error {
	if strings.TrimSpace(m.IntegrationID) == "" {
		return core.NewFieldError("command", "integration_id", "is required")
	}
	if strings.TrimSpace(m.EventID) == "" {
		return core.NewFieldError("command", "event_id", "is required")
	}
	return nil
}

func (m ReleaseClaimMessage) ClaimKey() string {
	return webhooks.ClaimKeyFor(m.IntegrationID, m.EventID)
}
