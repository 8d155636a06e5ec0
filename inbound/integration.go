package inbound

import (
	"strings"

	goerrors "github.com/goliatone/go-errors"

	"github.com/goliatone/go-payhooks/core"
	"github.com/goliatone/go-payhooks/registry"
	"github.com/goliatone/go-payhooks/webhooks"
)

// Integration is one configured webhook endpoint: how its deliveries are
// authenticated, how event types map to handlers, and the mode it runs in.
type Integration struct {
	ID       string
	Mode     webhooks.Mode
	Verifier webhooks.EventVerifier
	Resolver registry.Resolver
}

func (i Integration) validate() error {
	id := strings.TrimSpace(i.ID)
	if id == "" {
		return core.NewError(goerrors.CategoryBadInput, "inbound: integration id is required", nil)
	}
	if i.Verifier == nil {
		return core.NewError(goerrors.CategoryBadInput, "inbound: integration verifier is required", map[string]any{"integration_id": id})
	}
	if i.Resolver == nil {
		return core.NewError(goerrors.CategoryBadInput, "inbound: integration resolver is required", map[string]any{"integration_id": id})
	}
	return nil
}
