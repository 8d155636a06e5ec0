package inbound

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/goliatone/go-payhooks/core"
)

const WildcardKey = "*"

type NotificationFunc func(ctx context.Context, notification core.EventNotification) error

// NotificationBus delivers notifications in process. Subscribers for the
// exact key run before wildcard subscribers; every subscriber runs even when
// an earlier one fails.
type NotificationBus struct {
	mu          sync.RWMutex
	nextID      int
	subscribers map[string]map[int]NotificationFunc
}

func NewNotificationBus() *NotificationBus {
	return &NotificationBus{subscribers: map[string]map[int]NotificationFunc{}}
}

// Subscribe registers fn for key and returns a function that removes it.
func (b *NotificationBus) Subscribe(key string, fn NotificationFunc) (func(), error) {
	if b == nil {
		return nil, fmt.Errorf("inbound: notification bus is nil")
	}
	key = strings.ToLower(strings.TrimSpace(key))
	if key == "" || fn == nil {
		return nil, fmt.Errorf("inbound: subscription key and func are required")
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.subscribers == nil {
		b.subscribers = map[string]map[int]NotificationFunc{}
	}
	if b.subscribers[key] == nil {
		b.subscribers[key] = map[int]NotificationFunc{}
	}
	b.nextID++
	id := b.nextID
	b.subscribers[key][id] = fn
	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		delete(b.subscribers[key], id)
	}, nil
}

func (b *NotificationBus) Publish(ctx context.Context, notification core.EventNotification) error {
	if b == nil {
		return nil
	}
	key := strings.ToLower(notification.Type())
	b.mu.RLock()
	targets := make([]NotificationFunc, 0)
	for _, bucket := range []string{key, WildcardKey} {
		for _, fn := range b.subscribers[bucket] {
			targets = append(targets, fn)
		}
	}
	b.mu.RUnlock()

	var errs []error
	for _, fn := range targets {
		if err := invokeSubscriber(ctx, fn, notification); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func invokeSubscriber(ctx context.Context, fn NotificationFunc, notification core.EventNotification) (err error) {
	defer func() {
		if recovered := recover(); recovered != nil {
			err = fmt.Errorf("inbound: notification subscriber panicked: %v", recovered)
		}
	}()
	notification.Payload = append([]byte(nil), notification.Payload...)
	return fn(ctx, notification)
}

var _ core.NotificationPublisher = (*NotificationBus)(nil)
