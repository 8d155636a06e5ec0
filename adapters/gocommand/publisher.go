package gocommand

import (
	"context"
	"fmt"
	"strings"

	"github.com/goliatone/go-command"
	commanddispatcher "github.com/goliatone/go-command/dispatcher"
	"github.com/goliatone/go-command/runner"

	"github.com/goliatone/go-payhooks/core"
)

// CommandPublisher sends event notifications through the go-command
// dispatcher, so any subscribed EventNotification command receives them.
type CommandPublisher struct{}

func NewCommandPublisher() *CommandPublisher {
	return &CommandPublisher{}
}

func (*CommandPublisher) Publish(ctx context.Context, notification core.EventNotification) error {
	if err := validateNotification(notification); err != nil {
		return err
	}
	return commanddispatcher.Dispatch(ctx, notification)
}

func validateNotification(notification core.EventNotification) error {
	if err := command.ValidateMessage(notification); err != nil {
		return err
	}
	if !strings.HasPrefix(notification.Type(), Namespace) {
		return fmt.Errorf("gocommand: notification key %q must start with %q", notification.Type(), Namespace)
	}
	return nil
}

// SubscribeNotifications registers fn for notifications whose key matches
// key, or for every notification when key is "*".
func SubscribeNotifications(
	key string,
	fn func(ctx context.Context, notification core.EventNotification) error,
	runnerOpts ...runner.Option,
) (commanddispatcher.Subscription, error) {
	key = strings.ToLower(strings.TrimSpace(key))
	if key == "" || fn == nil {
		return nil, fmt.Errorf("gocommand: notification key and func are required")
	}
	handler := command.CommandFunc[core.EventNotification](func(ctx context.Context, notification core.EventNotification) error {
		if key != "*" && !strings.EqualFold(notification.Type(), key) {
			return nil
		}
		return fn(ctx, notification)
	})
	return commanddispatcher.SubscribeCommand[core.EventNotification](handler, runnerOpts...), nil
}

var _ core.NotificationPublisher = (*CommandPublisher)(nil)
