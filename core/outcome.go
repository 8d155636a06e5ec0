package core

import (
	"strings"
	"time"
)

type OutcomeKind string

const (
	OutcomeSuccess          OutcomeKind = "success"
	OutcomeSkipped          OutcomeKind = "skipped"
	OutcomeTransientFailure OutcomeKind = "transient_failure"
	OutcomePermanentFailure OutcomeKind = "permanent_failure"
)

// Outcome is produced exactly once per delivery. Reason is a stable machine
// code; Message is for logs only and never reaches the sender.
type Outcome struct {
	Kind       OutcomeKind
	Reason     string
	Message    string
	RetryAfter time.Duration
}

func Succeeded(message string) Outcome {
	return Outcome{Kind: OutcomeSuccess, Message: strings.TrimSpace(message)}
}

// SucceededWithReason acknowledges a delivery that needed no processing.
func SucceededWithReason(reason string, message string) Outcome {
	return Outcome{Kind: OutcomeSuccess, Reason: strings.TrimSpace(reason), Message: strings.TrimSpace(message)}
}

func SkippedOutcome(reason string, message string) Outcome {
	return Outcome{Kind: OutcomeSkipped, Reason: strings.TrimSpace(reason), Message: strings.TrimSpace(message)}
}

func TransientOutcome(reason string, message string) Outcome {
	return Outcome{Kind: OutcomeTransientFailure, Reason: strings.TrimSpace(reason), Message: strings.TrimSpace(message)}
}

func PermanentOutcome(reason string, message string) Outcome {
	return Outcome{Kind: OutcomePermanentFailure, Reason: strings.TrimSpace(reason), Message: strings.TrimSpace(message)}
}

// Acknowledged reports whether the sender should stop redelivering.
func (o Outcome) Acknowledged() bool {
	return o.Kind == OutcomeSuccess || o.Kind == OutcomeSkipped
}

// Retryable reports whether the sender is expected to redeliver.
func (o Outcome) Retryable() bool {
	return o.Kind == OutcomeTransientFailure
}

func (o Outcome) WithRetryAfter(delay time.Duration) Outcome {
	if delay > 0 {
		o.RetryAfter = delay
	}
	return o
}

func (o Outcome) String() string {
	if o.Reason == "" {
		return string(o.Kind)
	}
	return string(o.Kind) + ":" + o.Reason
}
