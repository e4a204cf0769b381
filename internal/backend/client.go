// Package backend is the typed client for the QuantPulse portfolio API:
// authentication, the async dashboard refresh job, and portfolio reads.
package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/pulse-agent/internal/holdings"
	"github.com/pulse-agent/internal/logging"
)

// Config configures a Client.
type Config struct {
	// BaseURL is the backend root, e.g. http://localhost:8000. Required.
	BaseURL string

	// HTTPClient carries the authenticated transport. Defaults to a plain
	// client with a 15s timeout.
	HTTPClient *http.Client

	Logger *logrus.Logger
}

// Client calls the QuantPulse backend.
type Client struct {
	baseURL    string
	httpClient *http.Client
	logger     *logrus.Entry
}

// NewClient creates a backend client.
func NewClient(cfg Config) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("backend base URL is required")
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 15 * time.Second}
	}

	logger := cfg.Logger
	if logger == nil {
		logger = logrus.StandardLogger()
	}

	return &Client{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		httpClient: httpClient,
		logger:     logging.WithComponent(logger, "backend"),
	}, nil
}

// Login exchanges credentials for a token pair. The token endpoint is
// OAuth2 form-encoded, unlike the rest of the API.
func (c *Client) Login(ctx context.Context, username, password string) (*TokenPair, error) {
	form := url.Values{}
	form.Set("username", username)
	form.Set("password", password)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.baseURL+"/auth/token", strings.NewReader(form.Encode()))
	if err != nil {
		return nil, fmt.Errorf("failed to build login request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	var pair TokenPair
	if err := c.do(req, &pair); err != nil {
		return nil, err
	}
	return &pair, nil
}

// Register creates an account and returns its first token pair. The
// password policy is checked locally first.
func (c *Client) Register(ctx context.Context, email, password string) (*TokenPair, error) {
	if err := ValidatePassword(password); err != nil {
		return nil, err
	}

	body := map[string]string{"email": email, "password": password}
	var pair TokenPair
	if err := c.postJSON(ctx, "/auth/register", body, &pair); err != nil {
		return nil, err
	}
	return &pair, nil
}

// Refresh exchanges a refresh token for a rotated token pair.
func (c *Client) Refresh(ctx context.Context, refreshToken string) (*TokenPair, error) {
	body := map[string]string{"refresh_token": refreshToken}
	var pair TokenPair
	if err := c.postJSON(ctx, "/auth/refresh", body, &pair); err != nil {
		return nil, err
	}
	return &pair, nil
}

// RefreshTokens adapts Refresh to the transport's refresher contract.
func (c *Client) RefreshTokens(ctx context.Context, refreshToken string) (string, string, error) {
	pair, err := c.Refresh(ctx, refreshToken)
	if err != nil {
		return "", "", err
	}
	return pair.AccessToken, pair.RefreshToken, nil
}

// Me returns the authenticated account.
func (c *Client) Me(ctx context.Context) (*User, error) {
	var user User
	if err := c.getJSON(ctx, "/users/me", &user); err != nil {
		return nil, err
	}
	return &user, nil
}

// StartRefresh asks the backend to launch the async dashboard refresh.
// A cooldown rejection comes back as an APIError with RetryAfter set.
func (c *Client) StartRefresh(ctx context.Context) (*RefreshStarted, error) {
	var started RefreshStarted
	if err := c.postJSON(ctx, "/dashboard/refresh", nil, &started); err != nil {
		return nil, err
	}
	return &started, nil
}

// TaskStatus polls one refresh job.
func (c *Client) TaskStatus(ctx context.Context, taskID string) (*TaskStatusResponse, error) {
	var status TaskStatusResponse
	if err := c.getJSON(ctx, "/dashboard/status/"+url.PathEscape(taskID), &status); err != nil {
		return nil, err
	}
	return &status, nil
}

// SyncStatus returns the server's view of the sync lifecycle: cooldown,
// active job, last sync time, and the auto-sync interval.
func (c *Client) SyncStatus(ctx context.Context) (*SyncStatus, error) {
	var status SyncStatus
	if err := c.getJSON(ctx, "/dashboard/sync-status", &status); err != nil {
		return nil, err
	}
	return &status, nil
}

// Holdings returns the raw per-integration holding rows. Rows that cannot
// participate in aggregation fail the fetch with their position named.
func (c *Client) Holdings(ctx context.Context) ([]holdings.Holding, error) {
	var rows []holdings.Holding
	if err := c.getJSON(ctx, "/dashboard/assets", &rows); err != nil {
		return nil, err
	}
	for i := range rows {
		if err := rows[i].Validate(); err != nil {
			return nil, fmt.Errorf("invalid holding at index %d: %w", i, err)
		}
	}
	return rows, nil
}

// Summary returns the dashboard summary.
func (c *Client) Summary(ctx context.Context) (*Summary, error) {
	var summary Summary
	if err := c.getJSON(ctx, "/dashboard/summary", &summary); err != nil {
		return nil, err
	}
	return &summary, nil
}

// Integrations lists the connected accounts.
func (c *Client) Integrations(ctx context.Context) ([]Integration, error) {
	var integrations []Integration
	if err := c.getJSON(ctx, "/integrations", &integrations); err != nil {
		return nil, err
	}
	return integrations, nil
}

func (c *Client) getJSON(ctx context.Context, path string, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	return c.do(req, out)
}

func (c *Client) postJSON(ctx context.Context, path string, body, out interface{}) error {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to encode request: %w", err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(req, out)
}

// do executes the request and decodes the response. Non-2xx responses
// become APIErrors.
func (c *Client) do(req *http.Request, out interface{}) error {
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Request-ID", uuid.NewString())

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("backend request failed: %w", err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		apiErr := decodeError(resp)
		c.logger.WithFields(logrus.Fields{
			"method": req.Method,
			"path":   req.URL.Path,
			"status": resp.StatusCode,
		}).Debug("Backend request rejected")
		return apiErr
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}
