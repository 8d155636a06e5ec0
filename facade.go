package payhooks

import (
	"fmt"

	commanddispatcher "github.com/goliatone/go-command/dispatcher"

	"github.com/goliatone/go-payhooks/adapters/gocommand"
	payhookscommand "github.com/goliatone/go-payhooks/command"
	"github.com/goliatone/go-payhooks/core"
	payhooksquery "github.com/goliatone/go-payhooks/query"
)

type Commands struct {
	HandleWebhook *payhookscommand.HandleWebhookCommand
	ReleaseClaim  *payhookscommand.ReleaseClaimCommand
}

type Queries struct {
	GetEventClaim    *payhooksquery.GetEventClaimQuery
	ListIntegrations *payhooksquery.ListIntegrationsQuery
}

// newCommandQueries builds the bundle over svc. Claim commands and queries
// report a dependency error when the claim store cannot read or release.
func newCommandQueries(svc *Service) (Commands, Queries) {
	releaser, _ := svc.claims.(core.ClaimReleaser)
	reader, _ := svc.claims.(core.ClaimReader)

	release := payhookscommand.NewReleaseClaimCommand(releaser)
	release.Observer = svc.observer

	commands := Commands{
		HandleWebhook: payhookscommand.NewHandleWebhookCommand(svc.dispatcher),
		ReleaseClaim:  release,
	}
	queries := Queries{
		GetEventClaim:    payhooksquery.NewGetEventClaimQuery(reader),
		ListIntegrations: payhooksquery.NewListIntegrationsQuery(svc),
	}
	return commands, queries
}

// RegisterCommands adds the bundle to adapter and subscribes it to the
// go-command dispatcher. Callers own the returned subscriptions.
func (s *Service) RegisterCommands(adapter *gocommand.RegistryAdapter) ([]commanddispatcher.Subscription, error) {
	if s == nil {
		return nil, fmt.Errorf("payhooks: service is not initialized")
	}
	if adapter == nil {
		return nil, fmt.Errorf("payhooks: command registry adapter is required")
	}

	subscriptions := []commanddispatcher.Subscription{}
	registered := []string{}
	add := func(msgType string, subscription commanddispatcher.Subscription, err error) error {
		if err != nil {
			for _, done := range registered {
				adapter.Unregister(done)
			}
			return err
		}
		registered = append(registered, msgType)
		subscriptions = append(subscriptions, subscription)
		return nil
	}

	sub, err := gocommand.RegisterAndSubscribe[payhookscommand.HandleWebhookMessage](adapter, s.commands.HandleWebhook)
	if err = add(gocommand.MessageType[payhookscommand.HandleWebhookMessage](), sub, err); err != nil {
		return nil, err
	}
	sub, err = gocommand.RegisterAndSubscribe[payhookscommand.ReleaseClaimMessage](adapter, s.commands.ReleaseClaim)
	if err = add(gocommand.MessageType[payhookscommand.ReleaseClaimMessage](), sub, err); err != nil {
		return nil, err
	}
	sub, err = gocommand.RegisterAndSubscribeQuery[payhooksquery.GetEventClaimMessage, core.EventClaim](adapter, s.queries.GetEventClaim)
	if err = add(gocommand.MessageType[payhooksquery.GetEventClaimMessage](), sub, err); err != nil {
		return nil, err
	}
	sub, err = gocommand.RegisterAndSubscribeQuery[payhooksquery.ListIntegrationsMessage, []core.IntegrationConfig](adapter, s.queries.ListIntegrations)
	if err = add(gocommand.MessageType[payhooksquery.ListIntegrationsMessage](), sub, err); err != nil {
		return nil, err
	}
	return subscriptions, nil
}
