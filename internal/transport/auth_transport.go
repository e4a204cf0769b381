// Package transport provides the authenticated HTTP transport. It injects
// the bearer token on outbound requests, transparently refreshes it once
// when a request comes back 401, and paces calls to the backend.
package transport

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"

	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"github.com/pulse-agent/internal/logging"
	"github.com/pulse-agent/internal/session"
)

// TokenRefresher exchanges a refresh token for a new token pair. The
// refresh call itself targets an auth path, which this transport never
// decorates or retries, so routing it through the same client is safe.
type TokenRefresher interface {
	RefreshTokens(ctx context.Context, refreshToken string) (access, refresh string, err error)
}

// authPaths receive no bearer token and no 401 retry.
var authPaths = []string{"/auth/token", "/auth/register", "/auth/refresh"}

// Config configures an AuthTransport.
type Config struct {
	// Session supplies and stores the token pair. Required.
	Session *session.Manager

	// Base is the underlying transport, http.DefaultTransport when nil.
	Base http.RoundTripper

	// RequestsPerSec paces outbound requests; non-positive disables pacing.
	RequestsPerSec int

	// OnAuthExpired runs after a terminal refresh failure, once stored
	// credentials are cleared. This is the forced-login hook.
	OnAuthExpired func()

	Logger *logrus.Logger
}

// AuthTransport is an http.RoundTripper owning bearer authentication.
//
// A 401 on a non-auth request triggers one token refresh and one replay
// of the original request. Concurrent 401s share a single refresh call;
// whichever goroutine performs it publishes the outcome to the rest. If
// the refresh fails, credentials are wiped, OnAuthExpired fires, and the
// caller sees the original 401 response.
type AuthTransport struct {
	base      http.RoundTripper
	session   *session.Manager
	limiter   *rate.Limiter
	onExpired func()
	logger    *logrus.Entry

	mu        sync.Mutex
	refresher TokenRefresher
	inflight  *refreshCall
}

// refreshCall carries the shared outcome of one refresh round.
type refreshCall struct {
	done chan struct{}
	err  error
}

// New creates an AuthTransport.
func New(cfg Config) (*AuthTransport, error) {
	if cfg.Session == nil {
		return nil, fmt.Errorf("session manager is required")
	}

	base := cfg.Base
	if base == nil {
		base = http.DefaultTransport
	}

	logger := cfg.Logger
	if logger == nil {
		logger = logrus.StandardLogger()
	}

	var limiter *rate.Limiter
	if cfg.RequestsPerSec > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.RequestsPerSec), cfg.RequestsPerSec)
	}

	return &AuthTransport{
		base:      base,
		session:   cfg.Session,
		limiter:   limiter,
		onExpired: cfg.OnAuthExpired,
		logger:    logging.WithComponent(logger, "transport"),
	}, nil
}

// SetRefresher wires the refresher after construction. The backend client
// needs this transport to exist first, so the hookup is deferred.
func (t *AuthTransport) SetRefresher(r TokenRefresher) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.refresher = r
}

// RoundTrip implements http.RoundTripper.
func (t *AuthTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	ctx := req.Context()

	if t.limiter != nil {
		if err := t.limiter.Wait(ctx); err != nil {
			return nil, err
		}
	}

	if isAuthPath(req.URL.Path) {
		return t.base.RoundTrip(req)
	}

	attempt := req.Clone(ctx)
	if token := t.session.AccessToken(); token != "" {
		attempt.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := t.base.RoundTrip(attempt)
	if err != nil || resp.StatusCode != http.StatusUnauthorized {
		return resp, err
	}

	// Single refresh-and-replay. Anything that goes wrong from here on
	// surfaces the original 401 to the caller.
	if refreshErr := t.refresh(ctx); refreshErr != nil {
		t.logger.WithError(refreshErr).Warn("Token refresh failed")
		return resp, nil
	}

	token := t.session.AccessToken()
	if token == "" {
		return resp, nil
	}

	retry, cloneErr := cloneForRetry(req, token)
	if cloneErr != nil {
		t.logger.WithError(cloneErr).Warn("Cannot replay request after refresh")
		return resp, nil
	}

	drainAndClose(resp)
	return t.base.RoundTrip(retry)
}

// refresh performs one shared token refresh. Late arrivals wait on the
// in-flight call instead of issuing their own.
func (t *AuthTransport) refresh(ctx context.Context) error {
	t.mu.Lock()
	if call := t.inflight; call != nil {
		t.mu.Unlock()
		select {
		case <-call.done:
			return call.err
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	call := &refreshCall{done: make(chan struct{})}
	t.inflight = call
	refresher := t.refresher
	t.mu.Unlock()

	call.err = t.doRefresh(ctx, refresher)

	t.mu.Lock()
	t.inflight = nil
	t.mu.Unlock()
	close(call.done)

	return call.err
}

// doRefresh exchanges the stored refresh token and persists the new pair
// before any replay happens. A terminal failure logs the session out.
func (t *AuthTransport) doRefresh(ctx context.Context, refresher TokenRefresher) error {
	refreshToken := t.session.RefreshToken()
	if refresher == nil || refreshToken == "" {
		t.expire(ctx)
		return fmt.Errorf("no refresh token available")
	}

	access, refresh, err := refresher.RefreshTokens(ctx, refreshToken)
	if err != nil {
		t.expire(ctx)
		return fmt.Errorf("token refresh rejected: %w", err)
	}

	creds := session.Credentials{AccessToken: access, RefreshToken: refresh}
	if err := t.session.SetCredentials(ctx, creds); err != nil {
		// The pair is live in memory; only persistence failed.
		t.logger.WithError(err).Warn("Failed to persist refreshed tokens")
	}

	t.logger.Debug("Access token refreshed")
	return nil
}

// expire wipes stored credentials and fires the auth-expired hook.
func (t *AuthTransport) expire(ctx context.Context) {
	if err := t.session.Clear(ctx); err != nil {
		t.logger.WithError(err).Warn("Failed to clear credentials")
	}
	if t.onExpired != nil {
		t.onExpired()
	}
}

// cloneForRetry rebuilds the request with a fresh body and the new token.
// Requests without a rewindable body are not replayed.
func cloneForRetry(req *http.Request, token string) (*http.Request, error) {
	clone := req.Clone(req.Context())
	clone.Header.Set("Authorization", "Bearer "+token)

	if req.Body != nil {
		if req.GetBody == nil {
			return nil, fmt.Errorf("request body cannot be replayed")
		}
		body, err := req.GetBody()
		if err != nil {
			return nil, fmt.Errorf("failed to rewind request body: %w", err)
		}
		clone.Body = body
	}

	return clone, nil
}

func isAuthPath(path string) bool {
	for _, p := range authPaths {
		if strings.HasSuffix(path, p) {
			return true
		}
	}
	return false
}

func drainAndClose(resp *http.Response) {
	if resp == nil || resp.Body == nil {
		return
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	_ = resp.Body.Close()
}
