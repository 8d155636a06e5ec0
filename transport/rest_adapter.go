package transport

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	goerrors "github.com/goliatone/go-errors"
)

const (
	defaultClientTimeout    = 30 * time.Second
	defaultResponseBodySize = int64(1 << 20)
	defaultUserAgent        = "go-payhooks"
)

// Call is one issuer API request. Path is resolved against the adapter base
// URL; Bearer, when set, becomes the Authorization header.
type Call struct {
	Method  string
	Path    string
	Query   url.Values
	Bearer  string
	Headers map[string]string
	Body    []byte
	Timeout time.Duration
}

// Response carries lowercased headers and the Retry-After hint, if any.
type Response struct {
	StatusCode int
	Headers    map[string]string
	Body       []byte
	RetryAfter time.Duration
	Duration   time.Duration
}

func (r Response) OK() bool { return r.StatusCode >= 200 && r.StatusCode < 300 }

type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// RESTAdapter talks JSON to one issuer API.
type RESTAdapter struct {
	BaseURL              *url.URL
	Client               HTTPDoer
	UserAgent            string
	MaxResponseBodyBytes int64
	Now                  func() time.Time
}

func NewRESTAdapter(baseURL string, client HTTPDoer) (*RESTAdapter, error) {
	base, err := url.Parse(strings.TrimRight(strings.TrimSpace(baseURL), "/"))
	if err != nil {
		return nil, transportError(err, goerrors.CategoryBadInput, http.StatusBadRequest,
			"transport: invalid base url", map[string]any{"base_url": baseURL})
	}
	if base.Scheme == "" || base.Host == "" {
		return nil, transportError(nil, goerrors.CategoryBadInput, http.StatusBadRequest,
			"transport: base url must be absolute", map[string]any{"base_url": baseURL})
	}
	if client == nil {
		client = &http.Client{Timeout: defaultClientTimeout}
	}
	return &RESTAdapter{
		BaseURL:              base,
		Client:               client,
		UserAgent:            defaultUserAgent,
		MaxResponseBodyBytes: defaultResponseBodySize,
		Now:                  time.Now,
	}, nil
}

func (a *RESTAdapter) Do(ctx context.Context, call Call) (Response, error) {
	if a == nil || a.Client == nil || a.BaseURL == nil {
		return Response{}, transportError(nil, goerrors.CategoryInternal, http.StatusInternalServerError,
			"transport: rest adapter is not configured", nil)
	}
	if ctx == nil {
		ctx = context.Background()
	}
	method := strings.ToUpper(strings.TrimSpace(call.Method))
	if method == "" {
		method = http.MethodGet
	}
	target := a.resolve(call)

	if call.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, call.Timeout)
		defer cancel()
	}
	req, err := http.NewRequestWithContext(ctx, method, target, bytes.NewReader(call.Body))
	if err != nil {
		return Response{}, transportError(err, goerrors.CategoryBadInput, http.StatusBadRequest,
			"transport: build request", map[string]any{"method": method, "url": target})
	}
	req.Header.Set("Accept", "application/json")
	if a.UserAgent != "" {
		req.Header.Set("User-Agent", a.UserAgent)
	}
	if len(call.Body) > 0 {
		req.Header.Set("Content-Type", "application/json")
	}
	if bearer := strings.TrimSpace(call.Bearer); bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}
	for key, value := range call.Headers {
		if key = strings.TrimSpace(key); key != "" {
			req.Header.Set(key, strings.TrimSpace(value))
		}
	}

	now := a.now()
	res, err := a.Client.Do(req)
	if err != nil {
		return Response{}, transportError(err, goerrors.CategoryExternal, http.StatusBadGateway,
			"transport: issuer request failed", map[string]any{"method": method, "url": target, "timeout": IsTimeout(err)})
	}
	defer res.Body.Close()

	limit := a.MaxResponseBodyBytes
	if limit <= 0 {
		limit = defaultResponseBodySize
	}
	body, err := io.ReadAll(io.LimitReader(res.Body, limit+1))
	if err != nil {
		return Response{}, transportError(err, goerrors.CategoryExternal, http.StatusBadGateway,
			"transport: read issuer response", map[string]any{"status_code": res.StatusCode, "timeout": IsTimeout(err)})
	}
	if int64(len(body)) > limit {
		return Response{}, transportError(nil, goerrors.CategoryExternal, http.StatusBadGateway,
			fmt.Sprintf("transport: issuer response exceeds %d bytes", limit),
			map[string]any{"status_code": res.StatusCode})
	}

	headers := make(map[string]string, len(res.Header))
	for key, values := range res.Header {
		headers[strings.ToLower(key)] = strings.Join(values, ",")
	}
	return Response{
		StatusCode: res.StatusCode,
		Headers:    headers,
		Body:       body,
		RetryAfter: parseRetryAfter(headers["retry-after"], a.now()),
		Duration:   a.now().Sub(now),
	}, nil
}

func (a *RESTAdapter) resolve(call Call) string {
	target := *a.BaseURL
	if path := strings.Trim(strings.TrimSpace(call.Path), "/"); path != "" {
		target.Path = strings.TrimRight(target.Path, "/") + "/" + path
	}
	if len(call.Query) > 0 {
		target.RawQuery = call.Query.Encode()
	}
	return target.String()
}

func (a *RESTAdapter) now() time.Time {
	if a.Now != nil {
		return a.Now()
	}
	return time.Now()
}

// IsTimeout reports whether err came from a deadline or a network timeout.
func IsTimeout(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

// parseRetryAfter accepts delay seconds or an HTTP date.
func parseRetryAfter(value string, now time.Time) time.Duration {
	value = strings.TrimSpace(value)
	if value == "" {
		return 0
	}
	if seconds, err := strconv.Atoi(value); err == nil {
		if seconds < 0 {
			return 0
		}
		return time.Duration(seconds) * time.Second
	}
	if at, err := http.ParseTime(value); err == nil && at.After(now) {
		return at.Sub(now)
	}
	return 0
}
