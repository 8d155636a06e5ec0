package handlers

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/goliatone/go-payhooks/core"
	"github.com/goliatone/go-payhooks/webhooks"
)

const (
	FollowUpScriptPrefix = "payhooks.followup."
	DedupPolicyDrop      = "drop"
)

// EnqueueFollowUp queues out-of-band work for event. The idempotency key is
// derived from the event so redeliveries enqueue the same job.
func EnqueueFollowUp(
	ctx context.Context,
	enqueuer core.JobEnqueuer,
	event webhooks.VerifiedEvent,
	jobID string,
	parameters map[string]any,
) error {
	if enqueuer == nil {
		return fmt.Errorf("handlers: job enqueuer is not configured")
	}
	jobID = strings.TrimSpace(jobID)
	if jobID == "" {
		return fmt.Errorf("handlers: follow-up job id is required")
	}
	if event.IsZero() {
		return fmt.Errorf("handlers: follow-up requires a verified event")
	}
	params := make(map[string]any, len(parameters)+4)
	for key, value := range parameters {
		params[key] = value
	}
	params["integration_id"] = event.IntegrationID()
	params["event_id"] = event.ID()
	params["event_type"] = event.Type()
	params["mode"] = string(event.Mode())

	return enqueuer.Enqueue(ctx, &core.JobExecutionMessage{
		JobID:          jobID,
		ScriptPath:     FollowUpScriptPrefix + jobID,
		Parameters:     params,
		IdempotencyKey: "payhooks:" + event.ClaimKey() + ":" + jobID,
		DedupPolicy:    DedupPolicyDrop,
	})
}

type FollowUpFunc func(ctx context.Context, msg *core.JobExecutionMessage) error

// FollowUpWorker executes queued follow-up jobs by job id.
type FollowUpWorker struct {
	Dequeuer   core.JobDequeuer
	Hook       core.JobWorkerHook
	RetryDelay time.Duration
	Observer   core.Observer

	mu       sync.RWMutex
	handlers map[string]FollowUpFunc
}

func NewFollowUpWorker(dequeuer core.JobDequeuer) *FollowUpWorker {
	return &FollowUpWorker{
		Dequeuer:   dequeuer,
		RetryDelay: 5 * time.Second,
		handlers:   map[string]FollowUpFunc{},
	}
}

func (w *FollowUpWorker) Register(jobID string, fn FollowUpFunc) error {
	if w == nil {
		return fmt.Errorf("handlers: follow-up worker is nil")
	}
	jobID = strings.TrimSpace(jobID)
	if jobID == "" || fn == nil {
		return fmt.Errorf("handlers: follow-up job id and func are required")
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.handlers == nil {
		w.handlers = map[string]FollowUpFunc{}
	}
	if _, exists := w.handlers[jobID]; exists {
		return fmt.Errorf("handlers: follow-up %q already registered", jobID)
	}
	w.handlers[jobID] = fn
	return nil
}

// RunOnce dequeues and executes a single job. Failed jobs are requeued with
// RetryDelay; unknown job ids are dead-lettered.
func (w *FollowUpWorker) RunOnce(ctx context.Context) error {
	if w == nil || w.Dequeuer == nil {
		return fmt.Errorf("handlers: follow-up worker has no dequeuer")
	}
	delivery, err := w.Dequeuer.Dequeue(ctx)
	if err != nil {
		return err
	}
	if delivery == nil {
		return nil
	}
	msg := delivery.Message()
	if msg == nil {
		return delivery.Nack(ctx, core.JobNackOptions{DeadLetter: true, Reason: "empty message"})
	}

	w.mu.RLock()
	fn := w.handlers[strings.TrimSpace(msg.JobID)]
	w.mu.RUnlock()
	if fn == nil {
		w.Observer.Warn(ctx, "no follow-up registered", map[string]any{"job_id": msg.JobID})
		return delivery.Nack(ctx, core.JobNackOptions{DeadLetter: true, Reason: "unknown job " + msg.JobID})
	}

	event := core.JobWorkerEvent{Message: msg, Attempt: 1, StartedAt: time.Now().UTC()}
	w.hook(func(h core.JobWorkerHook) { h.OnStart(ctx, event) })
	runErr := fn(ctx, msg)
	event.Duration = time.Since(event.StartedAt)
	if runErr == nil {
		w.hook(func(h core.JobWorkerHook) { h.OnSuccess(ctx, event) })
		return delivery.Ack(ctx)
	}

	event.Err = runErr
	if IsPermanent(runErr) {
		w.hook(func(h core.JobWorkerHook) { h.OnFailure(ctx, event) })
		return errors.Join(runErr, delivery.Nack(ctx, core.JobNackOptions{DeadLetter: true, Reason: runErr.Error()}))
	}
	event.Delay = w.RetryDelay
	w.hook(func(h core.JobWorkerHook) { h.OnRetry(ctx, event) })
	return errors.Join(runErr, delivery.Nack(ctx, core.JobNackOptions{Requeue: true, Delay: w.RetryDelay, Reason: runErr.Error()}))
}

func (w *FollowUpWorker) hook(call func(core.JobWorkerHook)) {
	if w.Hook != nil {
		call(w.Hook)
	}
}
