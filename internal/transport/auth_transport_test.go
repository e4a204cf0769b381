package transport

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pulse-agent/internal/config"
	"github.com/pulse-agent/internal/session"
	"github.com/pulse-agent/internal/statestore"
)

type fakeRefresher struct {
	mu      sync.Mutex
	calls   int
	access  string
	refresh string
	err     error
	delay   time.Duration
}

func (f *fakeRefresher) RefreshTokens(ctx context.Context, refreshToken string) (string, string, error) {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()

	if f.delay > 0 {
		time.Sleep(f.delay)
	}
	if f.err != nil {
		return "", "", f.err
	}
	return f.access, f.refresh, nil
}

func (f *fakeRefresher) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func setupSession(t *testing.T, creds session.Credentials) *session.Manager {
	t.Helper()

	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	store, err := statestore.NewRedisStore(&config.RedisConfig{
		Host: mr.Host(),
		Port: mr.Port(),
	})
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = store.Close()
	})

	mgr, err := session.NewManager(context.Background(), store)
	require.NoError(t, err)
	if creds.AccessToken != "" || creds.RefreshToken != "" {
		require.NoError(t, mgr.SetCredentials(context.Background(), creds))
	}

	return mgr
}

func setupClient(t *testing.T, sess *session.Manager, refresher TokenRefresher, onExpired func()) *http.Client {
	t.Helper()

	at, err := New(Config{
		Session:       sess,
		OnAuthExpired: onExpired,
	})
	require.NoError(t, err)
	if refresher != nil {
		at.SetRefresher(refresher)
	}

	return &http.Client{Transport: at, Timeout: 10 * time.Second}
}

func TestNew_RequiresSession(t *testing.T) {
	_, err := New(Config{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "session manager is required")
}

func TestAuthTransport_InjectsBearer(t *testing.T) {
	sess := setupSession(t, session.Credentials{AccessToken: "acc-1", RefreshToken: "ref-1"})

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer acc-1", r.Header.Get("Authorization"))
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	client := setupClient(t, sess, nil, nil)
	resp, err := client.Get(server.URL + "/users/me")
	require.NoError(t, err)
	defer func() {
		_ = resp.Body.Close()
	}()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestAuthTransport_NoTokenNoHeader(t *testing.T) {
	sess := setupSession(t, session.Credentials{})

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Empty(t, r.Header.Get("Authorization"))
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	client := setupClient(t, sess, nil, nil)
	resp, err := client.Get(server.URL + "/dashboard/summary")
	require.NoError(t, err)
	defer func() {
		_ = resp.Body.Close()
	}()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestAuthTransport_RefreshAndReplay(t *testing.T) {
	sess := setupSession(t, session.Credentials{AccessToken: "stale", RefreshToken: "ref-1"})
	refresher := &fakeRefresher{access: "fresh", refresh: "ref-2"}

	var attempts int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&attempts, 1)
		if r.Header.Get("Authorization") != "Bearer fresh" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		_, _ = w.Write([]byte(`{"ok":true}`))
	}))
	defer server.Close()

	client := setupClient(t, sess, refresher, nil)
	resp, err := client.Get(server.URL + "/dashboard/summary")
	require.NoError(t, err)
	defer func() {
		_ = resp.Body.Close()
	}()

	// The caller sees only the replayed success.
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, int32(2), atomic.LoadInt32(&attempts))
	assert.Equal(t, 1, refresher.callCount())

	// Both tokens rotated and persisted.
	assert.Equal(t, "fresh", sess.AccessToken())
	assert.Equal(t, "ref-2", sess.RefreshToken())
}

func TestAuthTransport_RefreshFailure(t *testing.T) {
	sess := setupSession(t, session.Credentials{AccessToken: "stale", RefreshToken: "ref-1"})
	refresher := &fakeRefresher{err: fmt.Errorf("refresh token revoked")}

	var expired int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer server.Close()

	client := setupClient(t, sess, refresher, func() {
		atomic.AddInt32(&expired, 1)
	})

	resp, err := client.Get(server.URL + "/dashboard/summary")
	require.NoError(t, err)
	defer func() {
		_ = resp.Body.Close()
	}()

	// Original 401 surfaces, credentials are wiped, hook fires once.
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.Equal(t, 1, refresher.callCount())
	assert.Equal(t, int32(1), atomic.LoadInt32(&expired))
	assert.False(t, sess.LoggedIn())
	assert.Empty(t, sess.RefreshToken())
}

func TestAuthTransport_NoRefreshToken(t *testing.T) {
	sess := setupSession(t, session.Credentials{AccessToken: "stale"})
	refresher := &fakeRefresher{access: "fresh", refresh: "ref-2"}

	var expired int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer server.Close()

	client := setupClient(t, sess, refresher, func() {
		atomic.AddInt32(&expired, 1)
	})

	resp, err := client.Get(server.URL + "/dashboard/summary")
	require.NoError(t, err)
	defer func() {
		_ = resp.Body.Close()
	}()

	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.Equal(t, 0, refresher.callCount())
	assert.Equal(t, int32(1), atomic.LoadInt32(&expired))
}

func TestAuthTransport_AuthPathBypass(t *testing.T) {
	sess := setupSession(t, session.Credentials{AccessToken: "acc-1", RefreshToken: "ref-1"})
	refresher := &fakeRefresher{access: "fresh", refresh: "ref-2"}

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Auth endpoints are reached bare even while logged in.
		assert.Empty(t, r.Header.Get("Authorization"))
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer server.Close()

	client := setupClient(t, sess, refresher, nil)

	for _, path := range []string{"/auth/token", "/auth/register", "/auth/refresh"} {
		t.Run(path, func(t *testing.T) {
			resp, err := client.Post(server.URL+path, "application/json", strings.NewReader(`{}`))
			require.NoError(t, err)
			defer func() {
				_ = resp.Body.Close()
			}()

			// A 401 here means bad credentials, never a retry.
			assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
			assert.Equal(t, 0, refresher.callCount())
		})
	}
}

func TestAuthTransport_ReplaysRequestBody(t *testing.T) {
	sess := setupSession(t, session.Credentials{AccessToken: "stale", RefreshToken: "ref-1"})
	refresher := &fakeRefresher{access: "fresh", refresh: "ref-2"}

	var bodies []string
	var mu sync.Mutex
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		mu.Lock()
		bodies = append(bodies, string(body))
		mu.Unlock()

		if r.Header.Get("Authorization") != "Bearer fresh" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	client := setupClient(t, sess, refresher, nil)
	resp, err := client.Post(server.URL+"/dashboard/refresh", "application/json", strings.NewReader(`{"scope":"all"}`))
	require.NoError(t, err)
	defer func() {
		_ = resp.Body.Close()
	}()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	require.Len(t, bodies, 2)
	assert.Equal(t, `{"scope":"all"}`, bodies[0])
	assert.Equal(t, `{"scope":"all"}`, bodies[1])
}

func TestAuthTransport_NoSecondRetry(t *testing.T) {
	sess := setupSession(t, session.Credentials{AccessToken: "stale", RefreshToken: "ref-1"})
	refresher := &fakeRefresher{access: "still-rejected", refresh: "ref-2"}

	var attempts int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&attempts, 1)
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer server.Close()

	client := setupClient(t, sess, refresher, nil)
	resp, err := client.Get(server.URL + "/dashboard/summary")
	require.NoError(t, err)
	defer func() {
		_ = resp.Body.Close()
	}()

	// One refresh, one replay, then the 401 stands.
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.Equal(t, int32(2), atomic.LoadInt32(&attempts))
	assert.Equal(t, 1, refresher.callCount())
}

func TestAuthTransport_ConcurrentSingleFlight(t *testing.T) {
	const workers = 8

	sess := setupSession(t, session.Credentials{AccessToken: "stale", RefreshToken: "ref-1"})
	refresher := &fakeRefresher{access: "fresh", refresh: "ref-2", delay: 20 * time.Millisecond}

	// Hold every stale-token request until all workers have arrived, so
	// each of them observes the 401 and races into the refresh path.
	var arrived sync.WaitGroup
	arrived.Add(workers)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") == "Bearer stale" {
			arrived.Done()
			arrived.Wait()
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	client := setupClient(t, sess, refresher, nil)

	var wg sync.WaitGroup
	errs := make(chan error, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			resp, err := client.Get(server.URL + "/dashboard/summary")
			if err != nil {
				errs <- err
				return
			}
			defer func() {
				_ = resp.Body.Close()
			}()
			if resp.StatusCode != http.StatusOK {
				errs <- fmt.Errorf("unexpected status %d", resp.StatusCode)
			}
		}()
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		t.Errorf("request failed: %v", err)
	}

	assert.Equal(t, 1, refresher.callCount())
	assert.Equal(t, "fresh", sess.AccessToken())
}
