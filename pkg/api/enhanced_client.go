package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"maps"
	"net/http"
	"time"

	httputil "github.com/lepinkainen/bookforge/pkg/http"
)

// EnhancedClientConfig configures the enhanced HTTP client
type EnhancedClientConfig struct {
	BaseClient     *http.Client
	RateLimiter    RateLimiter
	RetryPolicy    *RetryPolicy
	UserAgent      string
	DefaultHeaders map[string]string
}

// EnhancedClient is a JSON API client with rate limiting, retries and standard headers
type EnhancedClient struct {
	client         *http.Client
	rateLimiter    RateLimiter
	retryPolicy    *RetryPolicy
	userAgent      string
	defaultHeaders map[string]string
}

// NewEnhancedClient creates a new enhanced HTTP client with the provided configuration
func NewEnhancedClient(config *EnhancedClientConfig) *EnhancedClient {
	if config.BaseClient == nil {
		config.BaseClient = &http.Client{Timeout: 30 * time.Second}
	}
	if config.RateLimiter == nil {
		config.RateLimiter = NewNoOpRateLimiter()
	}
	if config.RetryPolicy == nil {
		config.RetryPolicy = DefaultRetryPolicy()
	}
	if config.UserAgent == "" {
		config.UserAgent = "bookforge/1.0"
	}
	if config.DefaultHeaders == nil {
		config.DefaultHeaders = make(map[string]string)
	}

	return &EnhancedClient{
		client:         config.BaseClient,
		rateLimiter:    config.RateLimiter,
		retryPolicy:    config.RetryPolicy,
		userAgent:      config.UserAgent,
		defaultHeaders: maps.Clone(config.DefaultHeaders),
	}
}

// PostAndDecode sends body as JSON and decodes the JSON response into target
func (ec *EnhancedClient) PostAndDecode(ctx context.Context, url string, body, target any, headers map[string]string) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("failed to encode request body: %w", err)
	}
	return ec.doJSON(ctx, http.MethodPost, url, payload, target, headers)
}

func (ec *EnhancedClient) doJSON(ctx context.Context, method, url string, payload []byte, target any, headers map[string]string) error {
	operation := func(ctx context.Context) error {
		if err := ec.rateLimiter.Wait(ctx); err != nil {
			return err
		}

		var body io.Reader
		if payload != nil {
			body = bytes.NewReader(payload)
		}

		req, err := http.NewRequestWithContext(ctx, method, url, body)
		if err != nil {
			return fmt.Errorf("failed to create request: %w", err)
		}

		req.Header.Set("User-Agent", ec.userAgent)
		req.Header.Set("Accept", "application/json")
		if payload != nil {
			req.Header.Set("Content-Type", "application/json")
		}
		for key, value := range ec.defaultHeaders {
			req.Header.Set(key, value)
		}
		// per-call headers override defaults
		for key, value := range headers {
			req.Header.Set(key, value)
		}

		start := time.Now()
		res, err := ec.client.Do(req)
		duration := time.Since(start)

		if err != nil {
			ec.logAPICall(method, url, duration, err)
			return fmt.Errorf("failed to perform %s request: %w", method, err)
		}
		defer httputil.DrainAndClose(res)

		if err := httputil.EnsureSuccess(res); err != nil {
			ec.logAPICall(method, url, duration, err)
			return &HTTPError{
				StatusCode: res.StatusCode,
				Message:    err.Error(),
			}
		}

		if err := json.NewDecoder(res.Body).Decode(target); err != nil {
			ec.logAPICall(method, url, duration, err)
			return fmt.Errorf("failed to decode json response: %w", err)
		}

		ec.logAPICall(method, url, duration, nil)
		return nil
	}

	return ExecuteWithRetry(ctx, operation, ec.retryPolicy, method+" "+url)
}

// CanProceed returns true if a request can be made without rate limiting delay
func (ec *EnhancedClient) CanProceed() bool {
	return ec.rateLimiter.CanProceed()
}

// SetDefaultHeader sets a header included in all requests
func (ec *EnhancedClient) SetDefaultHeader(key, value string) {
	ec.defaultHeaders[key] = value
}

func (ec *EnhancedClient) logAPICall(method, url string, duration time.Duration, err error) {
	if err != nil {
		slog.Warn("API call failed", "method", method, "url", url, "duration", duration, "error", err)
		return
	}
	slog.Debug("API call completed", "method", method, "url", url, "duration", duration)
}
