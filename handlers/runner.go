package handlers

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/goliatone/go-payhooks/core"
	"github.com/goliatone/go-payhooks/webhooks"
)

type State string

const (
	StateConstructed         State = "constructed"
	StateModeChecked         State = "mode_checked"
	StateRequirementsChecked State = "requirements_checked"
	StateProcessed           State = "processed"
	StateSkipped             State = "skipped"
	StateSucceeded           State = "succeeded"
	StateFailed              State = "failed"
)

func (s State) Terminal() bool {
	return s == StateSkipped || s == StateSucceeded || s == StateFailed
}

// Result is the terminal state of one handler run. Trail lists every state
// the run passed through, starting at StateConstructed.
type Result struct {
	State   State
	Outcome core.Outcome
	Err     error
	Trail   []State
	Claim   core.ClaimResult
}

type Runner struct {
	Claims         core.ClaimStore
	ProcessTimeout time.Duration
	ClaimLease     time.Duration
	Observer       core.Observer
}

type RunnerOption func(*Runner)

func WithProcessTimeout(timeout time.Duration) RunnerOption {
	return func(r *Runner) {
		r.ProcessTimeout = timeout
	}
}

func WithClaimLease(lease time.Duration) RunnerOption {
	return func(r *Runner) {
		r.ClaimLease = lease
	}
}

func WithObserver(observer core.Observer) RunnerOption {
	return func(r *Runner) {
		r.Observer = observer
	}
}

// NewRunner returns a runner backed by claims, or by an in-memory claim store
// when claims is nil.
func NewRunner(claims core.ClaimStore, opts ...RunnerOption) *Runner {
	if claims == nil {
		claims = NewMemoryClaimStore(core.DefaultClaimTTL)
	}
	runner := &Runner{
		Claims:         claims,
		ProcessTimeout: core.DefaultProcessTimeout,
		ClaimLease:     core.DefaultClaimLease,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(runner)
		}
	}
	return runner
}

type run struct {
	handler EventHandler
	event   webhooks.VerifiedEvent
	name    string
	result  Result
}

func (r *run) advance(state State) {
	r.result.State = state
	r.result.Trail = append(r.result.Trail, state)
}

func (r *run) skip(reason string, message string) Result {
	r.advance(StateSkipped)
	r.result.Outcome = core.SkippedOutcome(reason, message)
	r.result.Err = &core.HandlerError{
		Reason:  core.ReasonSkipped,
		Handler: r.name,
		EventID: r.event.ID(),
		Err:     errors.New(message),
	}
	return r.result
}

func (r *run) fail(reason core.HandlerReason, permanent bool, cause error) Result {
	r.advance(StateFailed)
	err := &core.HandlerError{
		Reason:    reason,
		Handler:   r.name,
		EventID:   r.event.ID(),
		Permanent: permanent,
		Err:       cause,
	}
	r.result.Err = err
	r.result.Outcome = core.Classify(err)
	return r.result
}

// Run drives handler through its lifecycle for event. active is the mode the
// owning integration runs in.
func (r *Runner) Run(ctx context.Context, handler EventHandler, event webhooks.VerifiedEvent, active webhooks.Mode) Result {
	if ctx == nil {
		ctx = context.Background()
	}
	current := &run{handler: handler, event: event, name: handlerName(handler)}
	current.advance(StateConstructed)

	if r == nil || r.Claims == nil {
		return current.fail(core.ReasonProcessingFailed, false, fmt.Errorf("handlers: runner has no claim store"))
	}
	if handler == nil {
		return current.fail(core.ReasonProcessingFailed, true, fmt.Errorf("handlers: handler is nil"))
	}
	if event.IsZero() {
		return current.fail(core.ReasonProcessingFailed, true, fmt.Errorf("handlers: event was not verified"))
	}
	fields := map[string]any{
		"handler":        current.name,
		"integration_id": event.IntegrationID(),
		"event_id":       event.ID(),
		"event_type":     event.Type(),
	}

	if !modeMatches(handler, event, active) {
		r.Observer.Info(ctx, "event mode does not match integration mode", withFields(fields, map[string]any{
			"event_mode":  string(event.Mode()),
			"active_mode": string(active),
		}))
		return current.skip(core.ReasonModeMismatch, fmt.Sprintf("event mode %q, integration mode %q", event.Mode(), active))
	}
	current.advance(StateModeChecked)

	if err := handler.RequirementsMet(ctx, event); err != nil {
		var requirement *RequirementError
		if errors.As(err, &requirement) {
			if requirement.Unrecoverable {
				r.Observer.Warn(ctx, "event requirements unrecoverable", withFields(fields, map[string]any{"reason": requirement.Reason}))
				return current.fail(core.ReasonRequirementsUnrecoverable, true, err)
			}
			r.Observer.Info(ctx, "event requirements not met", withFields(fields, map[string]any{"reason": requirement.Reason}))
			return current.skip(core.ReasonRequirementsUnmet, requirement.Reason)
		}
		return current.fail(core.ReasonProcessingFailed, IsPermanent(err), err)
	}
	current.advance(StateRequirementsChecked)

	claim, err := r.Claims.Claim(ctx, event.ClaimKey(), r.claimLease())
	if err != nil {
		return current.fail(core.ReasonProcessingFailed, false, fmt.Errorf("handlers: claim event: %w", err))
	}
	current.result.Claim = claim
	if !claim.Accepted {
		return r.duplicate(ctx, current, claim.Existing, fields)
	}

	processErr := r.process(ctx, handler, event)
	current.advance(StateProcessed)

	var skipErr *SkipError
	switch {
	case processErr == nil:
		r.complete(ctx, claim.ClaimID, fields)
		current.advance(StateSucceeded)
		current.result.Outcome = core.Succeeded("processed")
		return current.result
	case errors.As(processErr, &skipErr):
		r.complete(ctx, claim.ClaimID, fields)
		r.Observer.Info(ctx, "handler discarded event", withFields(fields, map[string]any{"reason": skipErr.Reason}))
		return current.skip(string(core.ReasonSkipped), skipErr.Reason)
	default:
		if failErr := r.Claims.Fail(ctx, claim.ClaimID, processErr); failErr != nil {
			r.Observer.Error(ctx, "release event claim failed", withFields(fields, map[string]any{"error": failErr.Error()}))
		}
		return current.fail(core.ReasonProcessingFailed, IsPermanent(processErr), processErr)
	}
}

func (r *Runner) duplicate(ctx context.Context, current *run, existing core.EventClaim, fields map[string]any) Result {
	if existing.Status == core.ClaimStatusCompleted {
		r.Observer.Info(ctx, "duplicate event already processed", fields)
		return current.skip(core.ReasonDuplicate, "event already processed")
	}
	retryAfter := time.Until(existing.LeaseExpiresAt)
	if retryAfter < time.Second {
		retryAfter = time.Second
	}
	r.Observer.Info(ctx, "duplicate event in flight", fields)
	current.advance(StateFailed)
	current.result.Outcome = core.TransientOutcome(core.ReasonDuplicateInFlight, "event is being processed").WithRetryAfter(retryAfter)
	current.result.Err = &core.HandlerError{
		Reason:  core.ReasonProcessingFailed,
		Handler: current.name,
		EventID: current.event.ID(),
		Err:     errors.New("handlers: event is being processed by another delivery"),
	}
	return current.result
}

// process runs Process under the process timeout and turns panics into
// errors so the claim is released.
func (r *Runner) process(ctx context.Context, handler EventHandler, event webhooks.VerifiedEvent) (err error) {
	processCtx, cancel := context.WithTimeout(ctx, r.processTimeout())
	defer cancel()
	defer func() {
		if recovered := recover(); recovered != nil {
			err = fmt.Errorf("handlers: handler panicked: %v", recovered)
		}
	}()
	return handler.Process(processCtx, event)
}

func (r *Runner) complete(ctx context.Context, claimID string, fields map[string]any) {
	if err := r.Claims.Complete(ctx, claimID); err != nil {
		r.Observer.Error(ctx, "complete event claim failed", withFields(fields, map[string]any{"error": err.Error()}))
	}
}

const claimLeaseMargin = 5 * time.Second

func (r *Runner) processTimeout() time.Duration {
	if r != nil && r.ProcessTimeout > 0 {
		return r.ProcessTimeout
	}
	return core.DefaultProcessTimeout
}

// claimLease never ends before an attempt's process timeout can fire, so a
// redelivery cannot take over a claim that is still being processed.
func (r *Runner) claimLease() time.Duration {
	lease := core.DefaultClaimLease
	if r != nil && r.ClaimLease > 0 {
		lease = r.ClaimLease
	}
	return max(lease, r.processTimeout()+claimLeaseMargin)
}

func modeMatches(handler EventHandler, event webhooks.VerifiedEvent, active webhooks.Mode) bool {
	if verifier, ok := handler.(ModeVerifier); ok {
		return verifier.VerifyMode(event, active)
	}
	return event.Mode().Matches(active)
}

func withFields(base map[string]any, extra map[string]any) map[string]any {
	out := make(map[string]any, len(base)+len(extra))
	for key, value := range base {
		out[key] = value
	}
	for key, value := range extra {
		out[key] = value
	}
	return out
}
