package handlers

import (
	"errors"
	"strings"

	"github.com/goliatone/go-payhooks/webhooks"
)

// RequirementError is returned from RequirementsMet when the event cannot be
// handled. Unrecoverable requirements fail the delivery; the rest skip it.
type RequirementError struct {
	Reason        string
	Unrecoverable bool
}

func (e *RequirementError) Error() string {
	if e == nil {
		return ""
	}
	if e.Unrecoverable {
		return "handlers: unrecoverable requirement: " + e.Reason
	}
	return "handlers: requirement not met: " + e.Reason
}

func Unmet(reason string) error {
	return &RequirementError{Reason: strings.TrimSpace(reason)}
}

func Unrecoverable(reason string) error {
	return &RequirementError{Reason: strings.TrimSpace(reason), Unrecoverable: true}
}

// SkipError is returned from Process to discard an event, typically one that
// arrived after newer state was already applied.
type SkipError struct {
	Reason string
}

func (e *SkipError) Error() string {
	if e == nil {
		return ""
	}
	return "handlers: skipped: " + e.Reason
}

func Skip(reason string) error {
	return &SkipError{Reason: strings.TrimSpace(reason)}
}

type permanentError struct {
	err error
}

func (e *permanentError) Error() string {
	if e == nil || e.err == nil {
		return "handlers: permanent failure"
	}
	return e.err.Error()
}

func (e *permanentError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.err
}

// Permanent marks err as a failure that redelivery cannot fix.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// IsPermanent reports whether err should stop redelivery. Issuer credential
// rejections are permanent; everything else is assumed transient.
func IsPermanent(err error) bool {
	if err == nil {
		return false
	}
	var permanent *permanentError
	if errors.As(err, &permanent) {
		return true
	}
	var issuerErr *webhooks.IssuerError
	if errors.As(err, &issuerErr) {
		return issuerErr.Kind == webhooks.IssuerUnauthenticated
	}
	return false
}
