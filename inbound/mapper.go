package inbound

import (
	"encoding/json"
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/goliatone/go-payhooks/core"
)

const (
	StatusOK       = "ok"
	StatusSkipped  = "skipped"
	StatusRejected = "rejected"
	StatusRetry    = "retry"
)

// Response is what the sender sees. Bodies are terse and never echo payload
// or error detail.
type Response struct {
	StatusCode int
	Headers    map[string]string
	Body       []byte
}

type ResponseMapper interface {
	Map(outcome core.Outcome, err error) Response
}

type ResponseMapperFunc func(outcome core.Outcome, err error) Response

func (f ResponseMapperFunc) Map(outcome core.Outcome, err error) Response {
	return f(outcome, err)
}

// DefaultResponseMapper acknowledges success and skips with 200, rejects
// permanent failures with 4xx so the sender stops, and asks for a retry on
// transient failures with 5xx.
type DefaultResponseMapper struct{}

type responseBody struct {
	Status string `json:"status"`
	Reason string `json:"reason,omitempty"`
}

func (DefaultResponseMapper) Map(outcome core.Outcome, _ error) Response {
	switch outcome.Kind {
	case core.OutcomeSuccess:
		return jsonResponse(http.StatusOK, responseBody{Status: StatusOK}, nil)
	case core.OutcomeSkipped:
		return jsonResponse(http.StatusOK, responseBody{Status: StatusSkipped}, nil)
	case core.OutcomePermanentFailure:
		return jsonResponse(permanentStatus(outcome.Reason), responseBody{Status: StatusRejected, Reason: outcome.Reason}, nil)
	default:
		status := transientStatus(outcome)
		var headers map[string]string
		if wantsRetryAfter(outcome) {
			headers = map[string]string{"Retry-After": retryAfterSeconds(outcome.RetryAfter)}
		}
		return jsonResponse(status, responseBody{Status: StatusRetry}, headers)
	}
}

func permanentStatus(reason string) int {
	switch reason {
	case string(core.ReasonMissingSignature),
		string(core.ReasonSignatureMismatch),
		string(core.ReasonRemoteLookupUnauthenticated):
		return http.StatusUnauthorized
	case string(core.ReasonRemoteLookupNotFound),
		string(core.ReasonUnknownIntegration):
		return http.StatusNotFound
	default:
		return http.StatusBadRequest
	}
}

func transientStatus(outcome core.Outcome) int {
	if outcome.RetryAfter > 0 {
		return http.StatusServiceUnavailable
	}
	switch outcome.Reason {
	case core.ReasonRateLimited,
		core.ReasonDuplicateInFlight,
		string(core.ReasonRemoteLookupUnreachable):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// wantsRetryAfter is true for outcomes that carry or imply a short wait. An
// unreachable issuer gets no hint.
func wantsRetryAfter(outcome core.Outcome) bool {
	if outcome.RetryAfter > 0 {
		return true
	}
	return outcome.Reason == core.ReasonRateLimited || outcome.Reason == core.ReasonDuplicateInFlight
}

func retryAfterSeconds(delay time.Duration) string {
	seconds := int64(math.Ceil(delay.Seconds()))
	if seconds < 1 {
		seconds = 1
	}
	return strconv.FormatInt(seconds, 10)
}

func jsonResponse(status int, body responseBody, headers map[string]string) Response {
	payload, err := json.Marshal(body)
	if err != nil {
		payload = []byte(`{"status":"` + body.Status + `"}`)
	}
	out := map[string]string{"Content-Type": "application/json"}
	for key, value := range headers {
		out[key] = value
	}
	return Response{StatusCode: status, Headers: out, Body: payload}
}
