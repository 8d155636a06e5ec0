// Package inbound receives webhook deliveries. The dispatcher verifies a
// delivery with its integration's verifier, resolves a handler for the
// trusted event type, runs it under an idempotency claim and maps the outcome
// to the status code that drives the sender's retry behavior.
package inbound
