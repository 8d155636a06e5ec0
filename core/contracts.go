package core

import (
	"context"
	"errors"
	"strings"
	"time"

	glog "github.com/goliatone/go-logger/glog"
)

type Logger = glog.Logger

type LoggerProvider = glog.LoggerProvider

type FieldsLogger = glog.FieldsLogger

// InboundWebhookRequest is a single delivery as received from the sender.
// Every field is untrusted until a verifier has produced a verified event.
type InboundWebhookRequest struct {
	IntegrationID string
	URL           string
	Headers       map[string]string
	Body          []byte
	DeclaredType  string
	RemoteAddr    string
	ReceivedAt    time.Time
	Metadata      map[string]any
}

// Header returns the first header matching key, ignoring case.
func (r InboundWebhookRequest) Header(key string) string {
	return HeaderValue(r.Headers, key)
}

func HeaderValue(headers map[string]string, key string) string {
	if len(headers) == 0 {
		return ""
	}
	key = strings.TrimSpace(key)
	for existing, value := range headers {
		if strings.EqualFold(strings.TrimSpace(existing), key) {
			return strings.TrimSpace(value)
		}
	}
	return ""
}

type ClaimStatus string

const (
	ClaimStatusProcessing ClaimStatus = "processing"
	ClaimStatusRetryReady ClaimStatus = "retry_ready"
	ClaimStatusCompleted  ClaimStatus = "completed"
)

var ErrClaimNotFound = errors.New("core: event claim not found")

type EventClaim struct {
	Key            string
	ClaimID        string
	Status         ClaimStatus
	Attempts       int
	LeaseExpiresAt time.Time
	LastError      string
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// ClaimResult reports whether the caller owns the claim. When Accepted is
// false, Existing describes the claim that blocked it.
type ClaimResult struct {
	ClaimID  string
	Accepted bool
	Existing EventClaim
}

// ClaimStore is the check-before-act record for event processing. Claim must
// be a single atomic insert-if-absent: two racing callers for the same key
// never both receive Accepted.
type ClaimStore interface {
	Claim(ctx context.Context, key string, lease time.Duration) (ClaimResult, error)
	Complete(ctx context.Context, claimID string) error
	Fail(ctx context.Context, claimID string, cause error) error
}

type ClaimReader interface {
	GetClaim(ctx context.Context, key string) (EventClaim, error)
}

type ClaimReleaser interface {
	ReleaseClaim(ctx context.Context, key string) error
}

type JobExecutionMessage struct {
	JobID          string
	ScriptPath     string
	Parameters     map[string]any
	IdempotencyKey string
	DedupPolicy    string
}

type JobEnqueuer interface {
	Enqueue(ctx context.Context, msg *JobExecutionMessage) error
}

type JobNackOptions struct {
	Delay      time.Duration
	Requeue    bool
	DeadLetter bool
	Reason     string
}

type JobDelivery interface {
	Message() *JobExecutionMessage
	Ack(ctx context.Context) error
	Nack(ctx context.Context, opts JobNackOptions) error
}

type JobDequeuer interface {
	Dequeue(ctx context.Context) (JobDelivery, error)
}

type JobWorkerEvent struct {
	Message   *JobExecutionMessage
	Attempt   int
	Delay     time.Duration
	Err       error
	StartedAt time.Time
	Duration  time.Duration
}

type JobWorkerHook interface {
	OnStart(ctx context.Context, event JobWorkerEvent)
	OnSuccess(ctx context.Context, event JobWorkerEvent)
	OnFailure(ctx context.Context, event JobWorkerEvent)
	OnRetry(ctx context.Context, event JobWorkerEvent)
}

// RateLimiter caps delivery volume per identifier. A nil error means the
// delivery may proceed.
type RateLimiter interface {
	Check(ctx context.Context, identifier string) error
}

type TokenValidator interface {
	ValidateToken(ctx context.Context, token string, timestamp time.Time, nonce string) error
}

type SecretProvider interface {
	Encrypt(ctx context.Context, plaintext []byte) ([]byte, error)
	Decrypt(ctx context.Context, ciphertext []byte) ([]byte, error)
}

type MetricsRecorder interface {
	IncCounter(ctx context.Context, name string, value int64, tags map[string]string)
	ObserveHistogram(ctx context.Context, name string, value float64, tags map[string]string)
}

type NopMetricsRecorder struct{}

func (NopMetricsRecorder) IncCounter(context.Context, string, int64, map[string]string) {}

func (NopMetricsRecorder) ObserveHistogram(context.Context, string, float64, map[string]string) {}

var _ MetricsRecorder = NopMetricsRecorder{}

// EventNotification is published after an event was handled successfully.
// Payload holds the verified bytes only.
type EventNotification struct {
	Key           string
	IntegrationID string
	EventID       string
	EventType     string
	Mode          string
	Source        string
	Payload       []byte
	HandledAt     time.Time
}

func (n EventNotification) Type() string {
	if key := strings.TrimSpace(n.Key); key != "" {
		return key
	}
	return "payhooks.event"
}

type NotificationPublisher interface {
	Publish(ctx context.Context, notification EventNotification) error
}
