package globus

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"flowrunner/flows"
	"flowrunner/internal/logging"
)

const (
	defaultRetryMaxAttempts    = 4
	defaultRetryInitialBackoff = 500 * time.Millisecond
	defaultRetryMaxBackoff     = 8 * time.Second
	defaultHTTPTimeout         = 60 * time.Second
	maxErrorBody               = 64 << 10
)

// RetryOptions bound the retries of a single remote call.
type RetryOptions struct {
	MaxAttempts    int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
}

func (o RetryOptions) normalize() RetryOptions {
	out := o
	if out.MaxAttempts <= 0 {
		out.MaxAttempts = defaultRetryMaxAttempts
	}
	if out.InitialBackoff <= 0 {
		out.InitialBackoff = defaultRetryInitialBackoff
	}
	if out.MaxBackoff <= 0 {
		out.MaxBackoff = defaultRetryMaxBackoff
	}
	if out.MaxBackoff < out.InitialBackoff {
		out.MaxBackoff = out.InitialBackoff
	}
	return out
}

// Option configures the REST clients of this package.
type Option func(*restClient)

func WithHTTPClient(client *http.Client) Option {
	return func(c *restClient) {
		c.http = client
	}
}

func WithRetry(retry RetryOptions) Option {
	return func(c *restClient) {
		c.retry = retry.normalize()
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(c *restClient) {
		c.logger = logger
	}
}

// restClient issues JSON requests authorised with a token from the store.
type restClient struct {
	baseURL string
	tokens  *TokenStore
	http    *http.Client
	retry   RetryOptions
	logger  *slog.Logger
	sleep   func(context.Context, time.Duration) error
}

func newRestClient(baseURL string, tokens *TokenStore, opts []Option) *restClient {
	c := &restClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		tokens:  tokens,
		http:    &http.Client{Timeout: defaultHTTPTimeout},
		retry:   RetryOptions{}.normalize(),
		logger:  logging.Discard(),
		sleep:   sleepWithContext,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// APIError is the decoded error document of a failed call.
type APIError struct {
	StatusCode int
	Code       string
	Message    string
	RequestID  string
}

func (e *APIError) Error() string {
	if e.Code == "" {
		return fmt.Sprintf("http %d: %s", e.StatusCode, e.Message)
	}
	return fmt.Sprintf("http %d %s: %s", e.StatusCode, e.Code, e.Message)
}

// do sends the request, retrying transient failures with exponential backoff.
func (c *restClient) do(ctx context.Context, method, path string, query url.Values, scope string, body, out any) error {
	token, err := c.tokens.Token(scope)
	if err != nil {
		return err
	}
	var payload []byte
	if body != nil {
		if payload, err = json.Marshal(body); err != nil {
			return flows.Validationf("failed to encode %s %s request", method, path).WithCause(err)
		}
	}
	endpoint := c.baseURL + path
	if len(query) > 0 {
		endpoint += "?" + query.Encode()
	}

	backoff := c.retry.InitialBackoff
	for attempt := 1; ; attempt++ {
		err := c.once(ctx, method, endpoint, token.Type(), token.AccessToken, payload, out)
		if err == nil {
			return nil
		}
		if attempt >= c.retry.MaxAttempts || !flows.IsRetryable(err) {
			return err
		}
		c.logger.Warn("retrying request", "method", method, "path", path, "attempt", attempt, "backoff", backoff, "error", err)
		if err := c.sleep(ctx, backoff); err != nil {
			return err
		}
		backoff = nextBackoff(backoff, c.retry.MaxBackoff)
	}
}

func (c *restClient) once(ctx context.Context, method, endpoint, tokenType, accessToken string, payload []byte, out any) error {
	var reader io.Reader
	if payload != nil {
		reader = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return flows.Validationf("failed to build request %s %s", method, endpoint).WithCause(err)
	}
	req.Header.Set("Authorization", tokenType+" "+accessToken)
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return flows.Transientf("%s %s did not complete", method, endpoint).WithCause(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return classify(method, endpoint, decodeAPIError(resp, data))
	}
	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return flows.Transientf("failed to decode response of %s %s", method, endpoint).WithCause(err)
	}
	return nil
}

func decodeAPIError(resp *http.Response, data []byte) *APIError {
	apiErr := &APIError{StatusCode: resp.StatusCode, Message: strings.TrimSpace(string(data))}
	var doc struct {
		Code        string `json:"code"`
		Message     string `json:"message"`
		Description string `json:"description"`
		RequestID   string `json:"request_id"`
		Error       *struct {
			Code   string `json:"code"`
			Detail any    `json:"detail"`
		} `json:"error"`
	}
	if err := json.Unmarshal(data, &doc); err != nil {
		return apiErr
	}
	apiErr.Code = doc.Code
	apiErr.RequestID = doc.RequestID
	switch {
	case doc.Message != "":
		apiErr.Message = doc.Message
	case doc.Description != "":
		apiErr.Message = doc.Description
	}
	if doc.Error != nil {
		if apiErr.Code == "" {
			apiErr.Code = doc.Error.Code
		}
		if detail, ok := doc.Error.Detail.(string); ok && detail != "" {
			apiErr.Message = detail
		}
	}
	return apiErr
}

func classify(method, endpoint string, apiErr *APIError) error {
	var out *flows.Error
	switch {
	case apiErr.StatusCode == http.StatusUnauthorized || apiErr.StatusCode == http.StatusForbidden:
		out = flows.Authorizationf("%s %s was not authorised; consent may be required", method, endpoint)
	case apiErr.StatusCode == http.StatusNotFound:
		out = flows.NotFoundf("%s %s: resource not found", method, endpoint)
	case apiErr.StatusCode == http.StatusConflict || strings.HasSuffix(apiErr.Code, "Exists"):
		out = flows.Conflictf("%s %s: resource already exists", method, endpoint)
	case apiErr.StatusCode == http.StatusTooManyRequests || apiErr.StatusCode >= http.StatusInternalServerError:
		out = flows.Transientf("%s %s failed with status %d", method, endpoint, apiErr.StatusCode)
	default:
		out = flows.Validationf("%s %s was rejected", method, endpoint)
	}
	return out.WithCause(apiErr)
}

// AsAPIError extracts the remote error document from err.
func AsAPIError(err error) (*APIError, bool) {
	var target *APIError
	if errors.As(err, &target) {
		return target, true
	}
	return nil, false
}

func nextBackoff(current, maxBackoff time.Duration) time.Duration {
	next := current * 2
	if next > maxBackoff {
		return maxBackoff
	}
	return next
}

func sleepWithContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
