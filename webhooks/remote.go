package webhooks

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/goliatone/go-payhooks/core"
)

type IssuerErrorKind string

const (
	IssuerNotFound        IssuerErrorKind = "not_found"
	IssuerUnauthenticated IssuerErrorKind = "unauthenticated"
	IssuerUnreachable     IssuerErrorKind = "unreachable"
)

// IssuerError is returned by issuer clients. Kind decides whether the failure
// is permanent for the delivery.
type IssuerError struct {
	Kind       IssuerErrorKind
	StatusCode int
	Err        error
}

func (e *IssuerError) Error() string {
	if e == nil {
		return ""
	}
	msg := fmt.Sprintf("webhooks: issuer %s", e.Kind)
	if e.StatusCode > 0 {
		msg += fmt.Sprintf(" (status %d)", e.StatusCode)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *IssuerError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// IssuerEvent is an event as returned by the issuer's authenticated API.
type IssuerEvent struct {
	ID      string
	Type    string
	Mode    Mode
	Payload []byte
}

type IssuerClient interface {
	FetchEvent(ctx context.Context, id string) (IssuerEvent, error)
}

// IssuerClientFunc adapts a function to IssuerClient.
type IssuerClientFunc func(ctx context.Context, id string) (IssuerEvent, error)

func (f IssuerClientFunc) FetchEvent(ctx context.Context, id string) (IssuerEvent, error) {
	return f(ctx, id)
}

// RemoteEventFetcher verifies a delivery by looking its id up at the issuer.
// Only the id is read from the untrusted body; the issuer response becomes
// the event.
type RemoteEventFetcher struct {
	client  IssuerClient
	timeout time.Duration
	Now     func() time.Time
}

func NewRemoteEventFetcher(client IssuerClient, timeout time.Duration) (*RemoteEventFetcher, error) {
	if client == nil {
		return nil, core.NewConfigurationError("remote.client", "issuer client is required")
	}
	if timeout < 0 {
		return nil, core.NewConfigurationError("remote.timeout", "must not be negative")
	}
	if timeout == 0 {
		timeout = core.DefaultRemoteTimeout
	}
	return &RemoteEventFetcher{
		client:  client,
		timeout: timeout,
		Now: func() time.Time {
			return time.Now().UTC()
		},
	}, nil
}

func (f *RemoteEventFetcher) Timeout() time.Duration {
	if f == nil {
		return 0
	}
	return f.timeout
}

func (f *RemoteEventFetcher) Verify(ctx context.Context, req core.InboundWebhookRequest) (VerifiedEvent, error) {
	if f == nil {
		return VerifiedEvent{}, core.NewConfigurationError("remote", "fetcher is not configured")
	}
	if ctx == nil {
		ctx = context.Background()
	}
	id, err := untrustedEventID(req.Body)
	if err != nil {
		return VerifiedEvent{}, malformed(req, err)
	}

	fetchCtx, cancel := context.WithTimeout(ctx, f.timeout)
	defer cancel()

	fetched, err := f.client.FetchEvent(fetchCtx, id)
	if err != nil {
		if fetchCtx.Err() != nil || errors.Is(err, context.DeadlineExceeded) {
			return VerifiedEvent{}, verificationError(req, core.ReasonRemoteLookupUnreachable, err)
		}
		return VerifiedEvent{}, verificationError(req, remoteReason(err), err)
	}

	if strings.TrimSpace(fetched.ID) != id {
		return VerifiedEvent{}, malformed(req, fmt.Errorf("webhooks: issuer returned event %q for %q", fetched.ID, id))
	}
	eventType := strings.TrimSpace(fetched.Type)
	if eventType == "" {
		return VerifiedEvent{}, malformed(req, fmt.Errorf("webhooks: issuer event %s has no type", id))
	}
	return VerifiedEvent{
		id:            id,
		eventType:     eventType,
		mode:          fetched.Mode,
		payload:       append([]byte(nil), fetched.Payload...),
		receivedAt:    receivedAt(req, f.Now),
		integrationID: strings.TrimSpace(req.IntegrationID),
		source:        SourceRemote,
	}, nil
}

func remoteReason(err error) core.VerificationReason {
	var issuerErr *IssuerError
	if errors.As(err, &issuerErr) {
		switch issuerErr.Kind {
		case IssuerNotFound:
			return core.ReasonRemoteLookupNotFound
		case IssuerUnauthenticated:
			return core.ReasonRemoteLookupUnauthenticated
		}
	}
	return core.ReasonRemoteLookupUnreachable
}

func untrustedEventID(body []byte) (string, error) {
	var envelope struct {
		ID json.RawMessage `json:"id"`
	}
	if err := json.Unmarshal(body, &envelope); err != nil {
		return "", fmt.Errorf("webhooks: decode event id: %w", err)
	}
	var id string
	if len(envelope.ID) == 0 || json.Unmarshal(envelope.ID, &id) != nil {
		return "", fmt.Errorf("webhooks: event id is required")
	}
	id = strings.TrimSpace(id)
	if id == "" {
		return "", fmt.Errorf("webhooks: event id is required")
	}
	return id, nil
}

var _ EventVerifier = (*RemoteEventFetcher)(nil)
