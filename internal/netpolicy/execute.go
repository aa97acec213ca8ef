package netpolicy

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"golang.org/x/time/rate"
)

// Request is the request executed on behalf of untrusted code's fetch()
// call (spec.md §4.3, §4.7).
type Request struct {
	Method  string
	URL     string
	Headers map[string]string
	Body    []byte
}

// Response is the JSON-serializable result handed back to the isolate.
type Response struct {
	Status     int               `json:"status"`
	StatusText string            `json:"status_text"`
	Headers    map[string]string `json:"headers"`
	Body       []byte            `json:"body"`
}

// ResourceExhaustion indicates a request/response size cap was exceeded.
type ResourceExhaustion struct {
	Reason string
}

func (e *ResourceExhaustion) Error() string { return e.Reason }

// Executor performs policy-governed HTTP requests, enforcing size and
// timeout limits per spec.md §4.3.
type Executor struct {
	client  *http.Client
	limiter *rate.Limiter
}

// NewExecutor creates an Executor. ratePerSecond bounds the number of
// outbound connection attempts per second — an ambient DoS guard layered
// on top of the mandatory timeout/size caps (see SPEC_FULL.md §4.3); pass
// 0 to disable rate limiting.
func NewExecutor(ratePerSecond float64) *Executor {
	var limiter *rate.Limiter
	if ratePerSecond > 0 {
		limiter = rate.NewLimiter(rate.Limit(ratePerSecond), int(ratePerSecond)+1)
	}
	return &Executor{
		client:  &http.Client{},
		limiter: limiter,
	}
}

// Execute validates the request body size, enforces the timeout and
// response-size caps, and performs the HTTP call.
func (x *Executor) Execute(ctx context.Context, req Request, policy Policy) (*Response, error) {
	if policy.MaxRequestBytes > 0 && int64(len(req.Body)) > policy.MaxRequestBytes {
		return nil, &ResourceExhaustion{Reason: fmt.Sprintf("request body %d bytes exceeds max_request_bytes %d", len(req.Body), policy.MaxRequestBytes)}
	}

	if x.limiter != nil {
		if err := x.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("rate limit wait: %w", err)
		}
	}

	timeout := time.Duration(policy.TimeoutMs) * time.Millisecond
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	method := req.Method
	if method == "" {
		method = http.MethodGet
	}

	httpReq, err := http.NewRequestWithContext(callCtx, method, req.URL, bytes.NewReader(req.Body))
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	for k, v := range req.Headers {
		httpReq.Header.Set(k, v)
	}

	resp, err := x.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if policy.MaxResponseBytes > 0 && resp.ContentLength > policy.MaxResponseBytes {
		return nil, &ResourceExhaustion{Reason: fmt.Sprintf("declared content-length %d exceeds max_response_bytes %d", resp.ContentLength, policy.MaxResponseBytes)}
	}

	var limited io.Reader = resp.Body
	var cap int64 = -1
	if policy.MaxResponseBytes > 0 {
		cap = policy.MaxResponseBytes
		limited = io.LimitReader(resp.Body, cap+1)
	}

	body, err := io.ReadAll(limited)
	if err != nil {
		return nil, fmt.Errorf("read response body: %w", err)
	}
	if cap >= 0 && int64(len(body)) > cap {
		return nil, &ResourceExhaustion{Reason: fmt.Sprintf("response body exceeds max_response_bytes %d", cap)}
	}

	headers := make(map[string]string, len(resp.Header))
	for k := range resp.Header {
		headers[k] = resp.Header.Get(k)
	}

	return &Response{
		Status:     resp.StatusCode,
		StatusText: resp.Status,
		Headers:    headers,
		Body:       body,
	}, nil
}
