package inbound

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/goliatone/go-payhooks/core"
)

const (
	IntegrationPathValue  = "integration"
	IntegrationQueryParam = "integration"
)

// DeliveryHandler is what the HTTP surface hands requests to.
type DeliveryHandler interface {
	Handle(ctx context.Context, req core.InboundWebhookRequest) DispatchOutcome
}

// HTTPHandler serves POST /webhooks/{integration}. The integration may also
// be selected with ?integration=.
type HTTPHandler struct {
	Dispatcher   DeliveryHandler
	MaxBodyBytes int64
	Mapper       ResponseMapper
}

func NewHTTPHandler(dispatcher DeliveryHandler, maxBodyBytes int64) *HTTPHandler {
	if maxBodyBytes <= 0 {
		maxBodyBytes = core.DefaultMaxBodyBytes
	}
	return &HTTPHandler{
		Dispatcher:   dispatcher,
		MaxBodyBytes: maxBodyBytes,
		Mapper:       DefaultResponseMapper{},
	}
}

// Mount registers the handler under prefix, e.g. "/webhooks".
func (h *HTTPHandler) Mount(mux *http.ServeMux, prefix string) {
	prefix = "/" + strings.Trim(strings.TrimSpace(prefix), "/")
	if prefix == "/" {
		prefix = ""
	}
	mux.Handle(prefix+"/{"+IntegrationPathValue+"}", h)
	mux.Handle(prefix+"/{$}", h)
}

func (h *HTTPHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		writeResponse(w, jsonResponse(http.StatusMethodNotAllowed, responseBody{Status: StatusRejected, Reason: "method_not_allowed"}, nil))
		return
	}
	if h == nil || h.Dispatcher == nil {
		writeResponse(w, jsonResponse(http.StatusInternalServerError, responseBody{Status: StatusRetry}, nil))
		return
	}

	limit := h.MaxBodyBytes
	if limit <= 0 {
		limit = core.DefaultMaxBodyBytes
	}
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, limit))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeResponse(w, jsonResponse(http.StatusRequestEntityTooLarge, responseBody{Status: StatusRejected, Reason: "body_too_large"}, nil))
			return
		}
		writeResponse(w, jsonResponse(http.StatusBadRequest, responseBody{Status: StatusRejected, Reason: "unreadable_body"}, nil))
		return
	}

	outcome := h.Dispatcher.Handle(r.Context(), RequestFromHTTP(r, body))
	response := outcome.Response
	if response.StatusCode == 0 {
		mapper := h.Mapper
		if mapper == nil {
			mapper = DefaultResponseMapper{}
		}
		response = mapper.Map(outcome.Outcome, outcome.Err)
	}
	writeResponse(w, response)
}

// RequestFromHTTP builds the untrusted delivery from an HTTP request and its
// already-read body.
func RequestFromHTTP(r *http.Request, body []byte) core.InboundWebhookRequest {
	integrationID := strings.TrimSpace(r.PathValue(IntegrationPathValue))
	if integrationID == "" {
		integrationID = strings.TrimSpace(r.URL.Query().Get(IntegrationQueryParam))
	}
	headers := make(map[string]string, len(r.Header))
	for key, values := range r.Header {
		if len(values) > 0 {
			headers[key] = values[0]
		}
	}
	return core.InboundWebhookRequest{
		IntegrationID: integrationID,
		URL:           requestURL(r),
		Headers:       headers,
		Body:          body,
		RemoteAddr:    r.RemoteAddr,
	}
}

func requestURL(r *http.Request) string {
	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	} else if forwarded := strings.TrimSpace(r.Header.Get("X-Forwarded-Proto")); forwarded != "" {
		scheme = strings.ToLower(forwarded)
	}
	return scheme + "://" + r.Host + r.URL.RequestURI()
}

func writeResponse(w http.ResponseWriter, response Response) {
	for key, value := range response.Headers {
		w.Header().Set(key, value)
	}
	status := response.StatusCode
	if status == 0 {
		status = http.StatusInternalServerError
	}
	w.WriteHeader(status)
	_, _ = w.Write(response.Body)
}
