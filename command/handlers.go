package command

import (
	"context"
	"time"

	gocmd "github.com/goliatone/go-command"
	goerrors "github.com/goliatone/go-errors"

	"github.com/goliatone/go-payhooks/core"
	"github.com/goliatone/go-payhooks/inbound"
)

type WebhookDispatcher interface {
	Handle(ctx context.Context, req core.InboundWebhookRequest) inbound.DispatchOutcome
}

type HandleWebhookCommand struct {
	dispatcher WebhookDispatcher
}

func NewHandleWebhookCommand(dispatcher WebhookDispatcher) *HandleWebhookCommand {
	return &HandleWebhookCommand{dispatcher: dispatcher}
}

// Execute runs the delivery and stores the DispatchOutcome in the result
// collector. Delivery failures are part of the outcome, not command errors.
func (c *HandleWebhookCommand) Execute(ctx context.Context, msg HandleWebhookMessage) error {
	if c == nil || c.dispatcher == nil {
		return core.NewError(goerrors.CategoryInternal, "command: webhook dispatcher is required", nil)
	}
	if err := msg.Validate(); err != nil {
		return err
	}
	req := msg.Request
	if req.ReceivedAt.IsZero() {
		req.ReceivedAt = time.Now().UTC()
	}
	storeResult(ctx, c.dispatcher.Handle(ctx, req))
	return nil
}

type ReleaseClaimCommand struct {
	claims   core.ClaimReleaser
	Observer core.Observer
}

func NewReleaseClaimCommand(claims core.ClaimReleaser) *ReleaseClaimCommand {
	return &ReleaseClaimCommand{claims: claims}
}

func (c *ReleaseClaimCommand) Execute(ctx context.Context, msg ReleaseClaimMessage) error {
	if c == nil || c.claims == nil {
		return core.NewError(goerrors.CategoryInternal, "command: claim releaser is required", nil)
	}
	if err := msg.Validate(); err != nil {
		return err
	}
	startedAt := time.Now().UTC()
	err := c.claims.ReleaseClaim(ctx, msg.ClaimKey())
	status := "released"
	if err != nil {
		status = "failed"
	}
	c.Observer.Operation(ctx, startedAt, "claim.release", status, err, map[string]any{
		"integration_id": msg.IntegrationID,
		"event_id":       msg.EventID,
		"reason":         msg.Reason,
	})
	return err
}

func storeResult[T any](ctx context.Context, value T) {
	collector := gocmd.ResultFromContext[T](ctx)
	if collector == nil {
		return
	}
	collector.Store(value)
}
