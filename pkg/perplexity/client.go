// Package perplexity is the outbound client for the Perplexity
// chat-completions API. It handles bearer authentication, request pacing,
// retries with exponential backoff, and classification of transport and
// HTTP failures into the server's error taxonomy.
package perplexity

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/time/rate"

	"github.com/asksonar/perplexity-mcp/pkg/faults"
	"github.com/asksonar/perplexity-mcp/pkg/ratelimit"
	"github.com/asksonar/perplexity-mcp/pkg/reqctx"
)

const chatCompletionsPath = "/chat/completions"

// Config configures a Client.
type Config struct {
	// BaseURL is the API root, e.g. https://api.perplexity.ai.
	BaseURL string

	// TokenSource supplies the bearer credential. Use APIKeyTokenSource
	// for a static key.
	TokenSource oauth2.TokenSource

	// Timeout bounds one call including retries. Zero means 120s.
	Timeout time.Duration

	// MaxRetries is the number of retry attempts on retryable failures.
	MaxRetries int

	// RequestsPerSecond smooths outgoing requests when positive.
	RequestsPerSecond float64

	// Backoff overrides retry delays. Zero value means defaults.
	Backoff BackoffConfig

	// HTTPClient overrides the underlying transport. Used in tests.
	HTTPClient *http.Client
}

// APIKeyTokenSource wraps a static Perplexity API key as a token source.
func APIKeyTokenSource(key string) oauth2.TokenSource {
	return oauth2.StaticTokenSource(&oauth2.Token{AccessToken: key})
}

// Client calls the Perplexity API. Safe for concurrent use.
type Client struct {
	baseURL  string
	tokens   oauth2.TokenSource
	http     *http.Client
	retries  int
	backoff  BackoffConfig
	smoother *rate.Limiter
	tracker  *ratelimit.Tracker
}

// NewClient creates a Client from the config.
func NewClient(cfg Config) *Client {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 120 * time.Second
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: timeout}
	}
	backoff := cfg.Backoff
	if backoff.BaseDelay == 0 {
		backoff = DefaultBackoffConfig()
	}

	var smoother *rate.Limiter
	if cfg.RequestsPerSecond > 0 {
		smoother = rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), 1)
	}

	return &Client{
		baseURL:  cfg.BaseURL,
		tokens:   cfg.TokenSource,
		http:     httpClient,
		retries:  cfg.MaxRetries,
		backoff:  backoff,
		smoother: smoother,
		tracker:  ratelimit.NewTracker(),
	}
}

// RateLimits exposes the server-reported rate-limit state captured from
// response headers.
func (c *Client) RateLimits() *ratelimit.Tracker {
	return c.tracker
}

// CreateChatCompletion performs one chat-completions call. Failures are
// returned as classified errors; success responses are decoded as-is.
func (c *Client) CreateChatCompletion(ctx context.Context, req ChatRequest) (*ChatResponse, error) {
	if req.Model == "" {
		return nil, faults.New(faults.CodeValidation, "model must not be empty", reqctx.Context{})
	}
	if len(req.Messages) == 0 {
		return nil, faults.New(faults.CodeValidation, "messages must not be empty", reqctx.Context{})
	}

	if c.smoother != nil {
		if err := c.smoother.Wait(ctx); err != nil {
			return nil, classifyTransportErr(err)
		}
	}

	body, err := json.Marshal(req)
	if err != nil {
		return nil, faults.Wrap(err, faults.CodeInternal, "encoding chat request", reqctx.Context{})
	}

	var lastErr error
	for attempt := 0; attempt <= c.retries; attempt++ {
		if attempt > 0 {
			if err := c.sleepBeforeRetry(ctx, req.Model, attempt); err != nil {
				return nil, err
			}
		}

		resp, retryable, err := c.doOnce(ctx, req.Model, body)
		if err == nil {
			return resp, nil
		}
		lastErr = err
		if !retryable {
			return nil, err
		}
	}
	return nil, lastErr
}

// doOnce performs a single HTTP exchange. The second return value reports
// whether the failure is worth retrying.
func (c *Client) doOnce(ctx context.Context, model string, body []byte) (*ChatResponse, bool, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.baseURL+chatCompletionsPath, bytes.NewReader(body))
	if err != nil {
		return nil, false, faults.Wrap(err, faults.CodeInternal, "building chat request", reqctx.Context{})
	}
	httpReq.Header.Set("Content-Type", "application/json")

	token, err := c.tokens.Token()
	if err != nil {
		return nil, false, faults.Wrap(err, faults.CodeUnauthorized, "obtaining API credential", reqctx.Context{})
	}
	token.SetAuthHeader(httpReq)

	httpResp, err := c.http.Do(httpReq)
	if err != nil {
		classified := classifyTransportErr(err)
		return nil, faults.IsCode(classified, faults.CodeExternalService), classified
	}
	defer httpResp.Body.Close()

	c.tracker.Update(ratelimit.ParseHeaders(httpResp.Header, model))

	payload, err := io.ReadAll(io.LimitReader(httpResp.Body, 10<<20))
	if err != nil {
		return nil, true, faults.Wrap(err, faults.CodeExternalService, "reading chat response", reqctx.Context{})
	}

	if httpResp.StatusCode != http.StatusOK {
		code := faults.ClassifyHTTPStatus(httpResp.StatusCode)
		retryable := code == faults.CodeRateLimited || code == faults.CodeExternalService
		return nil, retryable, faults.New(code, apiErrorMessage(httpResp.StatusCode, payload), reqctx.Context{})
	}

	var resp ChatResponse
	if err := json.Unmarshal(payload, &resp); err != nil {
		return nil, false, faults.Wrap(err, faults.CodeExternalService, "decoding chat response", reqctx.Context{})
	}
	return &resp, false, nil
}

// sleepBeforeRetry waits out the backoff delay, preferring the server's
// Retry-After when one was reported.
func (c *Client) sleepBeforeRetry(ctx context.Context, model string, attempt int) error {
	delay := backoffDelay(c.backoff, attempt)
	if wait := c.tracker.WaitTime(model); wait > delay {
		delay = wait
	}
	if delay > c.backoff.MaxDelay {
		delay = c.backoff.MaxDelay
	}

	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return classifyTransportErr(ctx.Err())
	}
}

func apiErrorMessage(status int, payload []byte) string {
	var body apiError
	if err := json.Unmarshal(payload, &body); err == nil && body.Error.Message != "" {
		return fmt.Sprintf("perplexity API returned %d: %s", status, body.Error.Message)
	}
	return fmt.Sprintf("perplexity API returned %d", status)
}

func classifyTransportErr(err error) error {
	var netErr net.Error
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return faults.Wrap(err, faults.CodeTimeout, "chat request deadline exceeded", reqctx.Context{})
	case errors.As(err, &netErr) && netErr.Timeout():
		return faults.Wrap(err, faults.CodeTimeout, "chat request timed out", reqctx.Context{})
	case errors.Is(err, context.Canceled):
		return faults.Wrap(err, faults.CodeInternal, "chat request canceled", reqctx.Context{})
	default:
		return faults.Wrap(err, faults.CodeExternalService, "chat request failed", reqctx.Context{})
	}
}
