package handlers

import (
	"context"
	"strings"

	"github.com/goliatone/go-payhooks/webhooks"
)

// EventHandler reacts to one verified event type. Process must be idempotent:
// the runner prevents concurrent duplicates, but a crash after the side
// effect and before the claim completes leads to a redelivery.
type EventHandler interface {
	RequirementsMet(ctx context.Context, event webhooks.VerifiedEvent) error
	Process(ctx context.Context, event webhooks.VerifiedEvent) error
}

// ModeVerifier overrides the default test/live comparison.
type ModeVerifier interface {
	VerifyMode(event webhooks.VerifiedEvent, active webhooks.Mode) bool
}

// TypeAccepter lets a handler refuse event types it was not written for.
type TypeAccepter interface {
	Accepts(eventType string) bool
}

type Named interface {
	HandlerName() string
}

// Func builds an EventHandler from plain functions. A nil Requirements is
// always met.
type Func struct {
	Name         string
	Types        []string
	Requirements func(ctx context.Context, event webhooks.VerifiedEvent) error
	Handle       func(ctx context.Context, event webhooks.VerifiedEvent) error
}

func (f Func) RequirementsMet(ctx context.Context, event webhooks.VerifiedEvent) error {
	if f.Requirements == nil {
		return nil
	}
	return f.Requirements(ctx, event)
}

func (f Func) Process(ctx context.Context, event webhooks.VerifiedEvent) error {
	if f.Handle == nil {
		return nil
	}
	return f.Handle(ctx, event)
}

func (f Func) HandlerName() string {
	return strings.TrimSpace(f.Name)
}

// Accepts returns true for any type when Types is empty.
func (f Func) Accepts(eventType string) bool {
	if len(f.Types) == 0 {
		return true
	}
	for _, candidate := range f.Types {
		if strings.EqualFold(strings.TrimSpace(candidate), strings.TrimSpace(eventType)) {
			return true
		}
	}
	return false
}

func handlerName(handler EventHandler) string {
	if named, ok := handler.(Named); ok {
		if name := strings.TrimSpace(named.HandlerName()); name != "" {
			return name
		}
	}
	return "handler"
}

var (
	_ EventHandler = Func{}
	_ TypeAccepter = Func{}
	_ Named        = Func{}
)
