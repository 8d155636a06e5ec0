package gojob

import (
	"context"
	"fmt"
	"strings"
	"time"

	job "github.com/goliatone/go-job"
	"github.com/goliatone/go-job/queue"
	"github.com/goliatone/go-job/queue/worker"

	"github.com/goliatone/go-payhooks/core"
	"github.com/goliatone/go-payhooks/handlers"
)

// RetryPolicy bounds follow-up redeliveries. Zero values mean unbounded.
type RetryPolicy struct {
	MaxAttempts     int
	MaxDelay        time.Duration
	DeadLetterOnMax bool
}

func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{MaxAttempts: 5, MaxDelay: 15 * time.Minute, DeadLetterOnMax: true}
}

// nackFor turns a worker nack into go-job options for attempt. Once
// MaxAttempts is reached the job is no longer requeued.
func (p RetryPolicy) nackFor(opts core.JobNackOptions, attempt int) queue.NackOptions {
	out := queue.NackOptions{
		Delay:      max(opts.Delay, 0),
		Requeue:    opts.Requeue,
		DeadLetter: opts.DeadLetter,
		Reason:     strings.TrimSpace(opts.Reason),
	}
	if p.MaxDelay > 0 && out.Delay > p.MaxDelay {
		out.Delay = p.MaxDelay
	}
	if out.DeadLetter {
		out.Requeue = false
	}
	if p.MaxAttempts > 0 && attempt >= p.MaxAttempts {
		out.Requeue = false
		out.DeadLetter = out.DeadLetter || p.DeadLetterOnMax
	}
	if !out.Requeue && !out.DeadLetter {
		out.Requeue = true
	}
	return out
}

// Enqueuer puts follow-up jobs on a go-job queue. Every job must carry an
// idempotency key and live under handlers.FollowUpScriptPrefix.
type Enqueuer struct {
	queue queue.Enqueuer
}

func NewEnqueuer(q queue.Enqueuer) *Enqueuer {
	return &Enqueuer{queue: q}
}

func (e *Enqueuer) Enqueue(ctx context.Context, msg *core.JobExecutionMessage) error {
	if e == nil || e.queue == nil {
		return fmt.Errorf("gojob: enqueuer is not configured")
	}
	execution, err := toExecution(msg)
	if err != nil {
		return err
	}
	return e.queue.Enqueue(ctx, execution)
}

func toExecution(msg *core.JobExecutionMessage) (*job.ExecutionMessage, error) {
	if msg == nil {
		return nil, fmt.Errorf("gojob: follow-up message is required")
	}
	jobID := strings.TrimSpace(msg.JobID)
	if jobID == "" {
		return nil, fmt.Errorf("gojob: job id is required")
	}
	scriptPath := strings.TrimSpace(msg.ScriptPath)
	if scriptPath == "" {
		scriptPath = handlers.FollowUpScriptPrefix + jobID
	}
	if scriptPath != handlers.FollowUpScriptPrefix+jobID {
		return nil, fmt.Errorf("gojob: script path %q does not match follow-up %q", scriptPath, jobID)
	}
	key := strings.TrimSpace(msg.IdempotencyKey)
	if key == "" {
		return nil, fmt.Errorf("gojob: follow-up %q needs an idempotency key", jobID)
	}
	policy := strings.TrimSpace(msg.DedupPolicy)
	if policy == "" {
		policy = handlers.DedupPolicyDrop
	}
	params := make(map[string]any, len(msg.Parameters))
	for k, v := range msg.Parameters {
		params[k] = v
	}
	return &job.ExecutionMessage{
		JobID:          jobID,
		ScriptPath:     scriptPath,
		Parameters:     params,
		IdempotencyKey: key,
		DedupPolicy:    job.DeduplicationPolicy(policy),
	}, nil
}

// fromExecution maps a go-job message back. Messages queued by other
// producers may carry only the script path; the job id is derived from it.
func fromExecution(msg *job.ExecutionMessage) *core.JobExecutionMessage {
	if msg == nil {
		return nil
	}
	scriptPath := strings.TrimSpace(msg.ScriptPath)
	jobID := strings.TrimSpace(msg.JobID)
	if jobID == "" && strings.HasPrefix(scriptPath, handlers.FollowUpScriptPrefix) {
		jobID = strings.TrimPrefix(scriptPath, handlers.FollowUpScriptPrefix)
	}
	params := make(map[string]any, len(msg.Parameters))
	for k, v := range msg.Parameters {
		params[k] = v
	}
	return &core.JobExecutionMessage{
		JobID:          jobID,
		ScriptPath:     scriptPath,
		Parameters:     params,
		IdempotencyKey: strings.TrimSpace(msg.IdempotencyKey),
		DedupPolicy:    string(msg.DedupPolicy),
	}
}

// Dequeuer feeds a handlers.FollowUpWorker from a go-job queue.
type Dequeuer struct {
	queue  queue.Dequeuer
	policy RetryPolicy
}

func NewDequeuer(q queue.Dequeuer, policy RetryPolicy) *Dequeuer {
	return &Dequeuer{queue: q, policy: policy}
}

func (d *Dequeuer) Dequeue(ctx context.Context) (core.JobDelivery, error) {
	if d == nil || d.queue == nil {
		return nil, fmt.Errorf("gojob: dequeuer is not configured")
	}
	raw, err := d.queue.Dequeue(ctx)
	if err != nil {
		return nil, err
	}
	if raw == nil {
		return nil, nil
	}
	return &Delivery{raw: raw, policy: d.policy}, nil
}

// Delivery is one go-job delivery seen as a core.JobDelivery.
type Delivery struct {
	raw    queue.Delivery
	policy RetryPolicy
}

func (d *Delivery) Message() *core.JobExecutionMessage {
	if d == nil || d.raw == nil {
		return nil
	}
	return fromExecution(d.raw.Message())
}

func (d *Delivery) Ack(ctx context.Context) error {
	if d == nil || d.raw == nil {
		return fmt.Errorf("gojob: delivery is not configured")
	}
	return d.raw.Ack(ctx)
}

func (d *Delivery) Nack(ctx context.Context, opts core.JobNackOptions) error {
	return d.NackForAttempt(ctx, opts, 0)
}

// NackForAttempt applies the retry policy as if attempt deliveries already
// happened.
func (d *Delivery) NackForAttempt(ctx context.Context, opts core.JobNackOptions, attempt int) error {
	if d == nil || d.raw == nil {
		return fmt.Errorf("gojob: delivery is not configured")
	}
	return d.raw.Nack(ctx, d.policy.nackFor(opts, attempt))
}

// WorkerHook reports go-job worker events to a core.JobWorkerHook, usually
// an ObserverHook.
type WorkerHook struct {
	hook core.JobWorkerHook
}

func NewWorkerHook(hook core.JobWorkerHook) *WorkerHook {
	return &WorkerHook{hook: hook}
}

func (h *WorkerHook) OnStart(ctx context.Context, event worker.Event) {
	h.forward(func(hook core.JobWorkerHook) { hook.OnStart(ctx, workerEvent(event)) })
}

func (h *WorkerHook) OnSuccess(ctx context.Context, event worker.Event) {
	h.forward(func(hook core.JobWorkerHook) { hook.OnSuccess(ctx, workerEvent(event)) })
}

func (h *WorkerHook) OnFailure(ctx context.Context, event worker.Event) {
	h.forward(func(hook core.JobWorkerHook) { hook.OnFailure(ctx, workerEvent(event)) })
}

func (h *WorkerHook) OnRetry(ctx context.Context, event worker.Event) {
	h.forward(func(hook core.JobWorkerHook) { hook.OnRetry(ctx, workerEvent(event)) })
}

func (h *WorkerHook) forward(call func(core.JobWorkerHook)) {
	if h != nil && h.hook != nil {
		call(h.hook)
	}
}

func workerEvent(event worker.Event) core.JobWorkerEvent {
	message := event.Message
	if message == nil && event.Delivery != nil {
		message = event.Delivery.Message()
	}
	return core.JobWorkerEvent{
		Message:   fromExecution(message),
		Attempt:   event.Attempt,
		Delay:     event.Delay,
		Err:       event.Err,
		StartedAt: event.StartedAt,
		Duration:  event.Duration,
	}
}

// ObserverHook logs follow-up job lifecycle events.
type ObserverHook struct {
	Observer core.Observer
}

func (h ObserverHook) OnStart(ctx context.Context, event core.JobWorkerEvent) {
	h.Observer.Debug(ctx, "follow-up started", jobFields(event))
}

func (h ObserverHook) OnSuccess(ctx context.Context, event core.JobWorkerEvent) {
	h.Observer.Operation(ctx, event.StartedAt, "followup."+jobID(event), "success", nil, jobFields(event))
}

func (h ObserverHook) OnFailure(ctx context.Context, event core.JobWorkerEvent) {
	h.Observer.Operation(ctx, event.StartedAt, "followup."+jobID(event), "failure", event.Err, jobFields(event))
}

func (h ObserverHook) OnRetry(ctx context.Context, event core.JobWorkerEvent) {
	fields := jobFields(event)
	fields["retry_in_ms"] = event.Delay.Milliseconds()
	h.Observer.Warn(ctx, "follow-up will retry", fields)
}

func jobID(event core.JobWorkerEvent) string {
	if event.Message == nil {
		return ""
	}
	return event.Message.JobID
}

func jobFields(event core.JobWorkerEvent) map[string]any {
	fields := map[string]any{"attempt": event.Attempt}
	if event.Message != nil {
		fields["job_id"] = event.Message.JobID
		fields["idempotency_key"] = event.Message.IdempotencyKey
		if eventID, ok := event.Message.Parameters["event_id"]; ok {
			fields["event_id"] = eventID
		}
	}
	if event.Err != nil {
		fields["error"] = event.Err.Error()
	}
	return fields
}

var (
	_ core.JobEnqueuer   = (*Enqueuer)(nil)
	_ core.JobDequeuer   = (*Dequeuer)(nil)
	_ core.JobDelivery   = (*Delivery)(nil)
	_ worker.Hook        = (*WorkerHook)(nil)
	_ core.JobWorkerHook = ObserverHook{}
)
