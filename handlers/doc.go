// Package handlers runs event handlers through their lifecycle: mode check,
// requirements check, then idempotent processing under a claim.
package handlers
