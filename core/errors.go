package core

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	goerrors "github.com/goliatone/go-errors"
)

const (
	ErrorConfiguration         = "PAYHOOKS_CONFIGURATION_ERROR"
	ErrorVerificationFailed    = "PAYHOOKS_VERIFICATION_FAILED"
	ErrorRemoteUnreachable     = "PAYHOOKS_REMOTE_UNREACHABLE"
	ErrorUnregisteredEventType = "PAYHOOKS_UNREGISTERED_EVENT_TYPE"
	ErrorHandlerNotUsable      = "PAYHOOKS_HANDLER_NOT_USABLE"
	ErrorUnknownIntegration    = "PAYHOOKS_UNKNOWN_INTEGRATION"
	ErrorProcessingFailed      = "PAYHOOKS_PROCESSING_FAILED"
	ErrorRequirementsNotMet    = "PAYHOOKS_REQUIREMENTS_NOT_MET"
	ErrorRateLimited           = "PAYHOOKS_RATE_LIMITED"
	ErrorBadInput              = "PAYHOOKS_BAD_INPUT"
	ErrorNotFound              = "PAYHOOKS_NOT_FOUND"
	ErrorConflict              = "PAYHOOKS_CONFLICT"
	ErrorUnauthorized          = "PAYHOOKS_UNAUTHORIZED"
	ErrorExternalFailure       = "PAYHOOKS_EXTERNAL_FAILURE"
	ErrorOperationFailed       = "PAYHOOKS_OPERATION_FAILED"
	ErrorInternal              = "PAYHOOKS_INTERNAL_ERROR"
	ErrorTokenInvalid          = "PAYHOOKS_TOKEN_INVALID"
	ErrorDuplicateInFlight     = "PAYHOOKS_DUPLICATE_IN_FLIGHT"
)

// Outcome reasons that are not backed by an error value.
const (
	ReasonRateLimited       = "rate_limited"
	ReasonDuplicate         = "duplicate"
	ReasonDuplicateInFlight = "duplicate_in_flight"
	ReasonModeMismatch      = "mode_mismatch"
	ReasonRequirementsUnmet = "requirements_unmet"
	ReasonNoHandler         = "no_handler"
	ReasonInternal          = "internal"
)

type VerificationReason string

const (
	ReasonMissingSignature            VerificationReason = "missing_signature"
	ReasonSignatureMismatch           VerificationReason = "signature_mismatch"
	ReasonMalformedEvent              VerificationReason = "malformed_event"
	ReasonRemoteLookupNotFound        VerificationReason = "remote_lookup_not_found"
	ReasonRemoteLookupUnauthenticated VerificationReason = "remote_lookup_unauthenticated"
	ReasonRemoteLookupUnreachable     VerificationReason = "remote_lookup_unreachable"
)

// Transient reports whether a delivery failing for this reason may succeed
// when redelivered.
func (r VerificationReason) Transient() bool {
	return r == ReasonRemoteLookupUnreachable
}

type VerificationError struct {
	Reason        VerificationReason
	IntegrationID string
	Err           error
}

func NewVerificationError(reason VerificationReason, cause error) *VerificationError {
	return &VerificationError{Reason: reason, Err: cause}
}

func (e *VerificationError) Error() string {
	if e == nil {
		return ""
	}
	msg := fmt.Sprintf("payhooks: verification failed (%s)", e.Reason)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *VerificationError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

func (e *VerificationError) ToServiceError() *goerrors.Error {
	metadata := map[string]any{"reason": string(e.Reason)}
	if e.IntegrationID != "" {
		metadata["integration_id"] = e.IntegrationID
	}
	if e.Reason.Transient() {
		return goerrors.New(e.Error(), goerrors.CategoryExternal).
			WithCode(http.StatusServiceUnavailable).
			WithTextCode(ErrorRemoteUnreachable).
			WithMetadata(metadata)
	}
	return goerrors.New(e.Error(), goerrors.CategoryAuth).
		WithCode(http.StatusUnauthorized).
		WithTextCode(ErrorVerificationFailed).
		WithMetadata(metadata)
}

type DispatchReason string

const (
	ReasonUnregisteredEventType DispatchReason = "unregistered_event_type"
	ReasonHandlerNotUsable      DispatchReason = "handler_not_usable"
	ReasonUnknownIntegration    DispatchReason = "unknown_integration"
)

// DispatchError is always permanent: retrying the same delivery cannot change
// how it resolves.
type DispatchError struct {
	Reason        DispatchReason
	EventType     string
	IntegrationID string
	Err           error
}

func (e *DispatchError) Error() string {
	if e == nil {
		return ""
	}
	msg := fmt.Sprintf("payhooks: dispatch failed (%s)", e.Reason)
	if e.EventType != "" {
		msg += fmt.Sprintf(" for event type %q", e.EventType)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *DispatchError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

func (e *DispatchError) ToServiceError() *goerrors.Error {
	metadata := map[string]any{"reason": string(e.Reason)}
	if e.EventType != "" {
		metadata["event_type"] = e.EventType
	}
	if e.IntegrationID != "" {
		metadata["integration_id"] = e.IntegrationID
	}
	switch e.Reason {
	case ReasonUnknownIntegration:
		return goerrors.New(e.Error(), goerrors.CategoryNotFound).
			WithCode(http.StatusNotFound).
			WithTextCode(ErrorUnknownIntegration).
			WithMetadata(metadata)
	case ReasonHandlerNotUsable:
		return goerrors.New(e.Error(), goerrors.CategoryBadInput).
			WithCode(http.StatusBadRequest).
			WithTextCode(ErrorHandlerNotUsable).
			WithMetadata(metadata)
	default:
		return goerrors.New(e.Error(), goerrors.CategoryBadInput).
			WithCode(http.StatusBadRequest).
			WithTextCode(ErrorUnregisteredEventType).
			WithMetadata(metadata)
	}
}

type HandlerReason string

const (
	ReasonSkipped                   HandlerReason = "skipped"
	ReasonProcessingFailed          HandlerReason = "processing_failed"
	ReasonRequirementsUnrecoverable HandlerReason = "requirements_unrecoverable"
)

type HandlerError struct {
	Reason    HandlerReason
	Handler   string
	EventID   string
	Permanent bool
	Err       error
}

func (e *HandlerError) Error() string {
	if e == nil {
		return ""
	}
	msg := fmt.Sprintf("payhooks: handler %s", e.Reason)
	if e.Handler != "" {
		msg = fmt.Sprintf("payhooks: handler %s %s", e.Handler, e.Reason)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *HandlerError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

func (e *HandlerError) ToServiceError() *goerrors.Error {
	metadata := map[string]any{"reason": string(e.Reason)}
	if e.Handler != "" {
		metadata["handler"] = e.Handler
	}
	if e.EventID != "" {
		metadata["event_id"] = e.EventID
	}
	switch {
	case e.Reason == ReasonSkipped:
		return goerrors.New(e.Error(), goerrors.CategoryOperation).
			WithCode(http.StatusOK).
			WithTextCode(ErrorRequirementsNotMet).
			WithMetadata(metadata)
	case e.Permanent:
		return goerrors.New(e.Error(), goerrors.CategoryAuthz).
			WithCode(http.StatusBadRequest).
			WithTextCode(ErrorProcessingFailed).
			WithMetadata(metadata)
	default:
		return goerrors.New(e.Error(), goerrors.CategoryOperation).
			WithCode(http.StatusInternalServerError).
			WithTextCode(ErrorProcessingFailed).
			WithMetadata(metadata)
	}
}

// ConfigurationError is raised while building verifiers, resolvers, and
// integrations. It must surface at startup, before any delivery is verified.
type ConfigurationError struct {
	Field   string
	Message string
	Err     error
}

func NewConfigurationError(field string, message string) *ConfigurationError {
	return &ConfigurationError{Field: strings.TrimSpace(field), Message: strings.TrimSpace(message)}
}

func WrapConfigurationError(err error, field string, message string) *ConfigurationError {
	return &ConfigurationError{Field: strings.TrimSpace(field), Message: strings.TrimSpace(message), Err: err}
}

func (e *ConfigurationError) Error() string {
	if e == nil {
		return ""
	}
	msg := "payhooks: invalid configuration"
	if e.Field != "" {
		msg += " " + e.Field
	}
	if e.Message != "" {
		msg += ": " + e.Message
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *ConfigurationError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

func (e *ConfigurationError) ToServiceError() *goerrors.Error {
	err := goerrors.New(e.Error(), goerrors.CategoryValidation).
		WithCode(http.StatusInternalServerError).
		WithTextCode(ErrorConfiguration)
	if e.Field != "" {
		err = err.WithMetadata(map[string]any{"field": e.Field})
	}
	return err
}

// RetryHinter is implemented by throttling errors that know when the caller
// may try again.
type RetryHinter interface {
	RetryAfterHint() time.Duration
}

// Classify maps an error from any pipeline stage onto the outcome the sender
// should observe. Unknown errors are transient.
func Classify(err error) Outcome {
	if err == nil {
		return Succeeded("")
	}

	var verification *VerificationError
	if errors.As(err, &verification) {
		if verification.Reason.Transient() {
			return TransientOutcome(string(verification.Reason), err.Error())
		}
		return PermanentOutcome(string(verification.Reason), err.Error())
	}

	var dispatch *DispatchError
	if errors.As(err, &dispatch) {
		return PermanentOutcome(string(dispatch.Reason), err.Error())
	}

	var handler *HandlerError
	if errors.As(err, &handler) {
		switch {
		case handler.Reason == ReasonSkipped:
			return SkippedOutcome(string(handler.Reason), err.Error())
		case handler.Permanent:
			return PermanentOutcome(string(handler.Reason), err.Error())
		default:
			return TransientOutcome(string(handler.Reason), err.Error())
		}
	}

	var hinter RetryHinter
	if errors.As(err, &hinter) {
		return TransientOutcome(ReasonRateLimited, err.Error()).WithRetryAfter(hinter.RetryAfterHint())
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return TransientOutcome(string(ReasonProcessingFailed), err.Error())
	}
	return TransientOutcome(ReasonInternal, err.Error())
}

// ToServiceError normalizes any pipeline error into a go-errors envelope.
func ToServiceError(err error) *goerrors.Error {
	if err == nil {
		return nil
	}
	var convertible interface{ ToServiceError() *goerrors.Error }
	if errors.As(err, &convertible) {
		return convertible.ToServiceError()
	}
	var rich *goerrors.Error
	if goerrors.As(err, &rich) {
		return ensureErrorEnvelope(rich)
	}
	return ensureErrorEnvelope(goerrors.MapToError(err, goerrors.DefaultErrorMappers()))
}

func ensureErrorEnvelope(err *goerrors.Error) *goerrors.Error {
	if err == nil {
		return nil
	}
	if err.Code == 0 {
		err.Code = httpStatusForCategory(err.Category)
	}
	if strings.TrimSpace(err.TextCode) == "" {
		err.TextCode = TextCodeForCategory(err.Category)
	}
	if err.Category == goerrors.CategoryInternal && strings.TrimSpace(err.Message) == "" {
		err.Message = "An unexpected error occurred"
	}
	return err
}

func TextCodeForCategory(category goerrors.Category) string {
	switch category {
	case goerrors.CategoryBadInput, goerrors.CategoryValidation:
		return ErrorBadInput
	case goerrors.CategoryNotFound:
		return ErrorNotFound
	case goerrors.CategoryAuth, goerrors.CategoryAuthz:
		return ErrorUnauthorized
	case goerrors.CategoryConflict:
		return ErrorConflict
	case goerrors.CategoryRateLimit:
		return ErrorRateLimited
	case goerrors.CategoryOperation:
		return ErrorOperationFailed
	case goerrors.CategoryExternal:
		return ErrorExternalFailure
	default:
		return ErrorInternal
	}
}

func httpStatusForCategory(category goerrors.Category) int {
	switch category {
	case goerrors.CategoryBadInput, goerrors.CategoryValidation:
		return http.StatusBadRequest
	case goerrors.CategoryNotFound:
		return http.StatusNotFound
	case goerrors.CategoryAuth:
		return http.StatusUnauthorized
	case goerrors.CategoryAuthz:
		return http.StatusForbidden
	case goerrors.CategoryConflict:
		return http.StatusConflict
	case goerrors.CategoryRateLimit:
		return http.StatusTooManyRequests
	case goerrors.CategoryExternal:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// NewError builds an envelope whose status and text code follow category.
func NewError(category goerrors.Category, message string, metadata map[string]any) *goerrors.Error {
	err := goerrors.New(message, category).
		WithCode(httpStatusForCategory(category)).
		WithTextCode(TextCodeForCategory(category))
	if len(metadata) > 0 {
		err = err.WithMetadata(metadata)
	}
	return err
}

// NewFieldError reports one invalid message field; scope prefixes the message.
func NewFieldError(scope string, field string, message string) *goerrors.Error {
	return goerrors.NewValidation(scope+": validation failed", goerrors.FieldError{
		Field:   field,
		Message: message,
	}).
		WithCode(http.StatusBadRequest).
		WithTextCode(ErrorBadInput).
		WithSeverity(goerrors.SeverityError)
}
