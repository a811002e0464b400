// Package requester wraps outbound API calls with bearer attachment,
// refresh-and-retry on 401, and escalation of terminal auth failures.
package requester

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/suhailma1ik/clipify/internal/auth/autherr"
	"github.com/suhailma1ik/clipify/internal/auth/refresh"
	"github.com/suhailma1ik/clipify/internal/auth/store"
	"github.com/suhailma1ik/clipify/internal/config"
	"github.com/suhailma1ik/clipify/internal/logger"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// TokenRefresher renews the stored access token.
type TokenRefresher interface {
	Refresh(ctx context.Context) error
}

// FailureHandler receives terminal authentication failures.
type FailureHandler interface {
	Handle(ctx context.Context, err error, where string)
}

// Options tune a single request. The zero value is an authenticated GET
// with no body.
type Options struct {
	Method  string
	Body    interface{} // JSON-marshaled when non-nil
	Headers map[string]string
	// SkipAuth omits the bearer header for the few public endpoints.
	SkipAuth bool
}

// Response is a fully read API response.
type Response struct {
	StatusCode int
	Body       []byte
	Headers    http.Header
}

// Client executes API calls against the configured base URL.
type Client struct {
	client    *http.Client
	store     *store.Store
	refresher TokenRefresher
	failures  FailureHandler
	baseURL   string
}

type Params struct {
	fx.In

	Store     *store.Store
	Refresher TokenRefresher
	Failures  FailureHandler
	Config    *config.Config
}

// NewClient creates a new authenticated API client.
func NewClient(params Params) *Client {
	timeout := params.Config.API.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		client:    &http.Client{Timeout: timeout},
		store:     params.Store,
		refresher: params.Refresher,
		failures:  params.Failures,
		baseURL:   params.Config.API.BaseURL,
	}
}

// SetTimeout sets the timeout for the HTTP client
func (c *Client) SetTimeout(timeout time.Duration) {
	c.client.Timeout = timeout
}

// Get performs an authenticated GET against the endpoint.
func (c *Client) Get(ctx context.Context, endpoint string) (*Response, error) {
	return c.Do(ctx, endpoint, Options{Method: http.MethodGet})
}

// Post performs an authenticated POST with a JSON body.
func (c *Client) Post(ctx context.Context, endpoint string, body interface{}) (*Response, error) {
	return c.Do(ctx, endpoint, Options{Method: http.MethodPost, Body: body})
}

// Do executes the request. On a 401 it refreshes the token once and retries
// the request once; a second 401, or a failed refresh, is terminal and is
// escalated to the failure handler.
func (c *Client) Do(ctx context.Context, endpoint string, opts Options) (*Response, error) {
	token := ""
	if !opts.SkipAuth {
		token = c.store.GetAccessToken()
		if token == "" {
			// No network call without a credential to attach.
			return nil, autherr.New(autherr.KindTokenExpired, "request",
				fmt.Errorf("no valid access token for %s", endpoint))
		}
	}

	resp, err := c.execute(ctx, endpoint, opts, token)
	if err != nil {
		return nil, err
	}

	if resp.StatusCode == http.StatusUnauthorized && !opts.SkipAuth {
		logger.Info("Request got 401, attempting token refresh", zap.String("endpoint", endpoint))

		if refreshErr := c.refresher.Refresh(ctx); refreshErr != nil {
			terminal := autherr.New(autherr.KindRefreshFailed, "request", refreshErr)
			c.failures.Handle(ctx, terminal, "requester.refresh")
			return nil, terminal
		}

		token = c.store.GetAccessToken()
		if token == "" {
			terminal := autherr.New(autherr.KindTokenExpired, "request",
				fmt.Errorf("refresh succeeded but no token is stored"))
			c.failures.Handle(ctx, terminal, "requester.retry")
			return nil, terminal
		}

		resp, err = c.execute(ctx, endpoint, opts, token)
		if err != nil {
			return nil, err
		}
		if resp.StatusCode == http.StatusUnauthorized {
			// Fresh token, still rejected: do not loop, force re-auth.
			terminal := autherr.New(autherr.KindUnauthorized, "request",
				fmt.Errorf("endpoint %s rejected a freshly refreshed token", endpoint))
			c.failures.Handle(ctx, terminal, "requester.retry")
			return nil, terminal
		}
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &APIError{
			StatusCode: resp.StatusCode,
			Status:     http.StatusText(resp.StatusCode),
			Body:       resp.Body,
			Category:   categoryFor(resp.StatusCode),
		}
	}
	return resp, nil
}

func (c *Client) execute(ctx context.Context, endpoint string, opts Options, token string) (*Response, error) {
	method := opts.Method
	if method == "" {
		method = http.MethodGet
	}

	var body io.Reader
	if opts.Body != nil {
		raw, err := json.Marshal(opts.Body)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal request body: %w", err)
		}
		body = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+endpoint, body)
	if err != nil {
		return nil, fmt.Errorf("failed to create HTTP request: %w", err)
	}
	for key, value := range opts.Headers {
		req.Header.Set(key, value)
	}
	if opts.Body != nil && req.Header.Get("Content-Type") == "" {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer func() {
		if closeErr := resp.Body.Close(); closeErr != nil {
			logger.Error("Failed to close response body", zap.Error(closeErr))
		}
	}()

	bodyBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}

	return &Response{
		StatusCode: resp.StatusCode,
		Body:       bodyBytes,
		Headers:    resp.Header,
	}, nil
}

// Module provides the requester module dependencies
var Module = fx.Module("requester",
	fx.Provide(
		NewClient,
		func(r *refresh.Refresher) TokenRefresher { return r },
		func(h *autherr.Handler) FailureHandler { return h },
	),
)
