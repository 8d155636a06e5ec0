package gocommand

import (
	"context"
	"testing"

	"github.com/goliatone/go-command"
	jobqueuecommand "github.com/goliatone/go-job/queue/command"
)

type replayMessage struct {
	EventID string
}

func (replayMessage) Type() string { return "payhooks.command.test.replay" }

type lookupMessage struct {
	EventID string
}

func (lookupMessage) Type() string { return "payhooks.query.test.lookup" }

type foreignMessage struct{}

func (foreignMessage) Type() string { return "billing.command.charge" }

type untypedMessage struct{}

type queueMessage struct{}

func (queueMessage) Type() string { return "payhooks.command.test.queue" }

func TestMessageType(t *testing.T) {
	if got := MessageType[replayMessage](); got != "payhooks.command.test.replay" {
		t.Fatalf("unexpected message type %q", got)
	}
	if got := MessageType[untypedMessage](); got != "" {
		t.Fatalf("expected empty type for plain struct, got %q", got)
	}
}

func TestRegisterAndSubscribeTracksRegistrations(t *testing.T) {
	adapter := NewRegistryAdapter(command.NewRegistry())
	defer adapter.Close()

	replayed := []string{}
	if _, err := RegisterAndSubscribe(adapter, command.CommandFunc[replayMessage](func(_ context.Context, msg replayMessage) error {
		replayed = append(replayed, msg.EventID)
		return nil
	})); err != nil {
		t.Fatalf("register command: %v", err)
	}
	if _, err := RegisterAndSubscribeQuery(adapter, command.QueryFunc[lookupMessage, string](func(_ context.Context, msg lookupMessage) (string, error) {
		return "claim:" + msg.EventID, nil
	})); err != nil {
		t.Fatalf("register query: %v", err)
	}
	if err := adapter.Initialize(); err != nil {
		t.Fatalf("initialize registry: %v", err)
	}

	registrations := adapter.Registrations()
	if len(registrations) != 2 ||
		registrations[0].Type != "payhooks.command.test.replay" || registrations[0].Kind != KindCommand ||
		registrations[1].Type != "payhooks.query.test.lookup" || registrations[1].Kind != KindQuery {
		t.Fatalf("unexpected registrations %#v", registrations)
	}

	if err := Dispatch(context.Background(), replayMessage{EventID: "evt_1"}); err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if len(replayed) != 1 || replayed[0] != "evt_1" {
		t.Fatalf("expected one replay, got %v", replayed)
	}
	got, err := Query[lookupMessage, string](context.Background(), lookupMessage{EventID: "evt_1"})
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if got != "claim:evt_1" {
		t.Fatalf("unexpected query result %q", got)
	}

	adapter.Unregister("payhooks.command.test.replay")
	if len(adapter.Registrations()) != 1 {
		t.Fatalf("expected unregister to drop the command")
	}
	_ = Dispatch(context.Background(), replayMessage{EventID: "evt_2"})
	if len(replayed) != 1 {
		t.Fatalf("expected unsubscribed command to stay silent, got %v", replayed)
	}
}

func TestRegisterAndSubscribeRejectsInvalidTypes(t *testing.T) {
	adapter := NewRegistryAdapter(nil)
	defer adapter.Close()

	noop := command.CommandFunc[replayMessage](func(context.Context, replayMessage) error { return nil })
	if _, err := RegisterAndSubscribe(adapter, noop); err != nil {
		t.Fatalf("register command: %v", err)
	}
	if _, err := RegisterAndSubscribe(adapter, noop); err == nil {
		t.Fatalf("expected duplicate type to fail")
	}
	if _, err := RegisterAndSubscribe(adapter, command.CommandFunc[foreignMessage](func(context.Context, foreignMessage) error { return nil })); err == nil {
		t.Fatalf("expected foreign namespace to fail")
	}
	if _, err := RegisterAndSubscribe(adapter, command.CommandFunc[untypedMessage](func(context.Context, untypedMessage) error { return nil })); err == nil {
		t.Fatalf("expected untyped message to fail")
	}
	if _, err := RegisterAndSubscribe[replayMessage](nil, noop); err == nil {
		t.Fatalf("expected nil adapter to fail")
	}
	if len(adapter.Registrations()) != 1 {
		t.Fatalf("expected failed registrations to leave nothing behind, got %#v", adapter.Registrations())
	}
}

func TestQueueResolverMirrorsCommands(t *testing.T) {
	adapter := NewRegistryAdapter(command.NewRegistry())
	queueRegistry := jobqueuecommand.NewRegistry()

	if err := adapter.AddQueueResolver(" ", queueRegistry); err == nil {
		t.Fatalf("expected empty resolver key to fail")
	}
	if err := adapter.AddQueueResolver("queue", nil); err == nil {
		t.Fatalf("expected nil queue registry to fail")
	}
	if err := adapter.AddQueueResolver("queue", queueRegistry); err != nil {
		t.Fatalf("add queue resolver: %v", err)
	}
	if err := adapter.RegisterCommand(command.CommandFunc[queueMessage](func(context.Context, queueMessage) error { return nil })); err != nil {
		t.Fatalf("register command: %v", err)
	}
	if err := adapter.Initialize(); err != nil {
		t.Fatalf("initialize registry: %v", err)
	}
	if _, ok := queueRegistry.Get("payhooks.command.test.queue"); !ok {
		t.Fatalf("expected command to be mirrored into queue registry")
	}
}
