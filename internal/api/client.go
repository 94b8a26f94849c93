// Package api wraps catalog network calls with bearer authentication and a
// single transparent refresh-and-retry on token expiry.
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/matteo-lafrancesca/streamlayer/internal/auth"
	"github.com/matteo-lafrancesca/streamlayer/internal/domain"
)

const (
	defaultTimeout = 30 * time.Second
	userAgent      = "streamlayer/1.0"

	// AuthQueryParam carries the access token on URLs fetched by native
	// media/image pipelines, which cannot set request headers.
	AuthQueryParam = "authorization"
)

// Client issues authenticated requests against the catalog API.
type Client struct {
	baseURL    string
	httpClient *http.Client
	tokens     *auth.Manager
	logger     *slog.Logger
}

// NewClient creates a catalog API client rooted at baseURL.
func NewClient(baseURL string, tokens *auth.Manager, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: defaultTimeout,
		},
		tokens: tokens,
		logger: logger,
	}
}

// BaseURL returns the API root the client was created with.
func (c *Client) BaseURL() string { return c.baseURL }

// FetchJSON GETs endpoint with a bearer header and decodes the JSON body
// into out. On 401/403 it performs exactly one refresh-and-retry through
// the token manager; any remaining non-2xx response becomes *domain.APIError.
func (c *Client) FetchJSON(ctx context.Context, endpoint string, out any) error {
	body, err := c.doAuthorized(ctx, endpoint, c.tokens.AccessToken())
	if domain.IsTokenExpired(err) {
		token, refreshErr := c.tokens.Refresh(ctx)
		if refreshErr != nil {
			return refreshErr
		}
		body, err = c.doAuthorized(ctx, endpoint, token)
	}
	if err != nil {
		return err
	}

	if out == nil {
		return nil
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("failed to parse response: %w", err)
	}
	return nil
}

func (c *Client) doAuthorized(ctx context.Context, endpoint, accessToken string) ([]byte, error) {
	reqURL := c.baseURL + endpoint

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", userAgent)
	if accessToken != "" {
		req.Header.Set("Authorization", "Bearer "+accessToken)
	}

	c.logger.Debug("catalog request", "url", reqURL)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.Error("catalog request failed", "url", reqURL, "error", err)
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		c.logger.Warn("catalog request error", "url", reqURL, "status", resp.StatusCode)
		return nil, &domain.APIError{
			Status:     resp.StatusCode,
			StatusText: http.StatusText(resp.StatusCode),
		}
	}

	return body, nil
}

// FetchBytes GETs an absolute URL carrying its credentials in the
// authorization query parameter (manifest, segment, and image URLs).
// Non-2xx responses become *domain.APIError; token recovery is the
// caller's responsibility.
func (c *Client) FetchBytes(ctx context.Context, rawURL string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &domain.APIError{
			Status:     resp.StatusCode,
			StatusText: http.StatusText(resp.StatusCode),
		}
	}

	return body, nil
}

// WithAuthParam returns rawURL with the access token attached as the
// authorization query parameter, replacing any previous value.
func WithAuthParam(rawURL, accessToken string) (string, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", fmt.Errorf("invalid url: %w", err)
	}
	q := u.Query()
	q.Set(AuthQueryParam, accessToken)
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// WithAuthRetry runs fn and, when it fails with a token-expiry error,
// refreshes once through tokens and runs fn a second time. Any other
// failure, including the second one, propagates unchanged.
func WithAuthRetry(ctx context.Context, tokens *auth.Manager, fn func(ctx context.Context) error) error {
	err := fn(ctx)
	if err == nil || !domain.IsTokenExpired(err) {
		return err
	}
	if _, refreshErr := tokens.Refresh(ctx); refreshErr != nil {
		return refreshErr
	}
	return fn(ctx)
}
