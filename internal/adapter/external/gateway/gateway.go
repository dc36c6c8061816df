// Package gateway is the request layer every provider client goes through:
// one HTTP call, a JSON decode, a caller-supplied validation of the decoded
// result, and a bounded retry budget with jittered backoff between attempts.
package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/sethvargo/go-retry"

	"github.com/monscodex/spot-and-block/internal/entity"
)

// Validator checks a decoded provider response before it is handed back to
// the client. A non-nil error marks the attempt as failed and retryable:
// caches are known to echo back records for a different key than the one we
// asked for.
type Validator func(body json.RawMessage) error

// FieldEquals validates that the response's top-level field echoes the value
// we requested.
func FieldEquals(field, want string) Validator {
	return func(body json.RawMessage) error {
		var top map[string]json.RawMessage
		if err := json.Unmarshal(body, &top); err != nil {
			return &entity.ValidationError{Reason: fmt.Sprintf("response is not a JSON object: %v", err)}
		}
		raw, ok := top[field]
		if !ok {
			return &entity.ValidationError{Reason: fmt.Sprintf("field %q missing from response", field)}
		}
		var got string
		if err := json.Unmarshal(raw, &got); err != nil {
			return &entity.ValidationError{Reason: fmt.Sprintf("field %q is not a string", field)}
		}
		if got != want {
			return &entity.ValidationError{Reason: fmt.Sprintf("field %q is %q, requested %q", field, got, want)}
		}
		return nil
	}
}

// Predicate validates with an arbitrary check. desc names the contract in
// the resulting error.
func Predicate(desc string, fn func(body json.RawMessage) bool) Validator {
	return func(body json.RawMessage) error {
		if !fn(body) {
			return &entity.ValidationError{Reason: desc}
		}
		return nil
	}
}

// Request describes one provider call. Every retry reuses it unchanged.
type Request struct {
	Method      string
	URL         string
	Header      http.Header
	Body        []byte
	Validate    Validator // optional
	MaxAttempts int       // defaults to the gateway's budget
}

// Gateway performs validated provider calls.
type Gateway struct {
	httpClient  *http.Client
	logger      *slog.Logger
	baseBackoff time.Duration
	maxAttempts int
}

// Config holds gateway construction options.
type Config struct {
	Timeout     time.Duration
	BaseBackoff time.Duration // first retry delay, doubled per attempt with jitter
	MaxAttempts int           // default attempt budget for requests that don't set one
	Logger      *slog.Logger
}

// New creates a gateway with the given configuration.
func New(cfg Config) *Gateway {
	if cfg.Timeout == 0 {
		cfg.Timeout = 15 * time.Second
	}
	if cfg.BaseBackoff == 0 {
		cfg.BaseBackoff = 250 * time.Millisecond
	}
	if cfg.MaxAttempts < 1 {
		cfg.MaxAttempts = 3
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Gateway{
		httpClient:  &http.Client{Timeout: cfg.Timeout},
		logger:      cfg.Logger,
		baseBackoff: cfg.BaseBackoff,
		maxAttempts: cfg.MaxAttempts,
	}
}

// Do executes the request, retrying up to req.MaxAttempts times. Transport
// failures, non-2xx statuses, 204 and validation mismatches are all
// retryable; on exhaustion the LAST underlying error is returned so callers
// can branch on what finally went wrong (status code vs transport vs
// validation).
func (g *Gateway) Do(ctx context.Context, req Request) (json.RawMessage, error) {
	attempts := req.MaxAttempts
	if attempts < 1 {
		attempts = g.maxAttempts
	}

	backoff := retry.WithJitterPercent(20, retry.NewExponential(g.baseBackoff))

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		if attempt > 1 {
			delay, _ := backoff.Next()
			if err := sleep(ctx, delay); err != nil {
				return nil, err
			}
		}

		body, err := g.once(ctx, req)
		if err == nil {
			return body, nil
		}
		lastErr = err
		g.logger.Debug("[GATE] attempt failed",
			"url", req.URL,
			"attempt", attempt,
			"of", attempts,
			"error", err,
		)
	}

	return nil, lastErr
}

// once performs a single attempt.
func (g *Gateway) once(ctx context.Context, req Request) (json.RawMessage, error) {
	method := req.Method
	if method == "" {
		method = http.MethodGet
	}

	var reader io.Reader
	if len(req.Body) > 0 {
		reader = bytes.NewReader(req.Body)
	}

	httpReq, err := http.NewRequestWithContext(ctx, method, req.URL, reader)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	for key, values := range req.Header {
		for _, v := range values {
			httpReq.Header.Add(key, v)
		}
	}

	resp, err := g.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("execute request: %w", err)
	}
	defer resp.Body.Close()

	// 204 carries no decodable result and is treated like a failed attempt.
	if resp.StatusCode < 200 || resp.StatusCode >= 300 || resp.StatusCode == http.StatusNoContent {
		io.Copy(io.Discard, resp.Body)
		return nil, &entity.StatusError{Code: resp.StatusCode, URL: req.URL}
	}

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response body: %w", err)
	}
	if !json.Valid(raw) {
		return nil, &entity.ValidationError{Reason: "response body is not valid JSON"}
	}

	if req.Validate != nil {
		if err := req.Validate(raw); err != nil {
			return nil, err
		}
	}

	return json.RawMessage(raw), nil
}

func sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
