package query

import (
	gocmd "github.com/goliatone/go-command"

	"github.com/goliatone/go-payhooks/core"
)

var (
	_ gocmd.Querier[GetEventClaimMessage, core.EventClaim]             = (*GetEventClaimQuery)(nil)
	_ gocmd.Querier[ListIntegrationsMessage, []core.IntegrationConfig] = (*ListIntegrationsQuery)(nil)
)
