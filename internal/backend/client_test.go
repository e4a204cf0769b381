package backend

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()

	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	client, err := NewClient(Config{BaseURL: server.URL})
	require.NoError(t, err)
	return client
}

func TestNewClient_RequiresBaseURL(t *testing.T) {
	_, err := NewClient(Config{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "base URL is required")
}

func TestClient_Login(t *testing.T) {
	client := setupClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/auth/token", r.URL.Path)
		assert.Equal(t, "application/x-www-form-urlencoded", r.Header.Get("Content-Type"))
		assert.NotEmpty(t, r.Header.Get("X-Request-ID"))

		require.NoError(t, r.ParseForm())
		assert.Equal(t, "user@example.com", r.PostForm.Get("username"))
		assert.Equal(t, "Passw0rd1", r.PostForm.Get("password"))

		_ = json.NewEncoder(w).Encode(TokenPair{
			AccessToken:  "acc",
			RefreshToken: "ref",
			TokenType:    "bearer",
		})
	})

	pair, err := client.Login(context.Background(), "user@example.com", "Passw0rd1")
	require.NoError(t, err)
	assert.Equal(t, "acc", pair.AccessToken)
	assert.Equal(t, "ref", pair.RefreshToken)
	assert.Equal(t, "bearer", pair.TokenType)
}

func TestClient_Login_Rejected(t *testing.T) {
	client := setupClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"detail":"Incorrect username or password"}`))
	})

	_, err := client.Login(context.Background(), "user@example.com", "wrong")
	require.Error(t, err)

	apiErr, ok := AsAPIError(err)
	require.True(t, ok)
	assert.Equal(t, http.StatusUnauthorized, apiErr.StatusCode)
	assert.Equal(t, "Incorrect username or password", apiErr.Message)
	assert.True(t, IsUnauthorized(err))
}

func TestClient_Register(t *testing.T) {
	client := setupClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/auth/register", r.URL.Path)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))

		var body map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "new@example.com", body["email"])
		assert.Equal(t, "Str0ngPass", body["password"])

		_ = json.NewEncoder(w).Encode(TokenPair{AccessToken: "acc", RefreshToken: "ref"})
	})

	pair, err := client.Register(context.Background(), "new@example.com", "Str0ngPass")
	require.NoError(t, err)
	assert.Equal(t, "acc", pair.AccessToken)
}

func TestClient_Register_WeakPasswordNeverSent(t *testing.T) {
	requested := false
	client := setupClient(t, func(w http.ResponseWriter, r *http.Request) {
		requested = true
	})

	_, err := client.Register(context.Background(), "new@example.com", "weak")
	require.Error(t, err)
	assert.False(t, requested)
}

func TestClient_Refresh(t *testing.T) {
	client := setupClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/auth/refresh", r.URL.Path)

		var body map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "old-refresh", body["refresh_token"])

		_ = json.NewEncoder(w).Encode(TokenPair{AccessToken: "new-acc", RefreshToken: "new-ref"})
	})

	access, refresh, err := client.RefreshTokens(context.Background(), "old-refresh")
	require.NoError(t, err)
	assert.Equal(t, "new-acc", access)
	assert.Equal(t, "new-ref", refresh)
}

func TestClient_StartRefresh(t *testing.T) {
	client := setupClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/dashboard/refresh", r.URL.Path)
		_, _ = w.Write([]byte(`{"status":"started","task_id":"task-123"}`))
	})

	started, err := client.StartRefresh(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "started", started.Status)
	assert.Equal(t, "task-123", started.TaskID)
}

func TestClient_StartRefresh_Cooldown(t *testing.T) {
	client := setupClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = w.Write([]byte(`{"detail":{"message":"Sync cooldown active","retry_after":42}}`))
	})

	_, err := client.StartRefresh(context.Background())
	require.Error(t, err)

	apiErr, ok := AsAPIError(err)
	require.True(t, ok)
	assert.True(t, apiErr.IsCooldown())
	assert.Equal(t, 42, apiErr.RetryAfter)
	assert.Equal(t, "Sync cooldown active", apiErr.Message)
}

func TestClient_TaskStatus(t *testing.T) {
	tests := []struct {
		name string
		body string
		want TaskStatusResponse
	}{
		{
			name: "progress object info",
			body: `{"task_id":"t1","status":"PROGRESS","info":{"current":60,"total":100,"stage":"FETCHING_BALANCES","message":"Fetching balances"}}`,
			want: TaskStatusResponse{
				TaskID: "t1",
				State:  TaskProgress,
				Info:   &TaskInfo{Current: 60, Total: 100, Stage: StageFetchingBalances, Message: "Fetching balances"},
			},
		},
		{
			name: "string info",
			body: `{"task_id":"t2","status":"PENDING","info":"waiting for worker"}`,
			want: TaskStatusResponse{
				TaskID: "t2",
				State:  TaskPending,
				Info:   &TaskInfo{Message: "waiting for worker"},
			},
		},
		{
			name: "error object info",
			body: `{"task_id":"t3","status":"FAILURE","info":{"error":"provider timeout"}}`,
			want: TaskStatusResponse{
				TaskID: "t3",
				State:  TaskFailure,
				Info:   &TaskInfo{Error: "provider timeout"},
			},
		},
		{
			name: "unknown info shape is dropped, not fatal",
			body: `{"task_id":"t4","status":"STARTED","info":[1,2,3]}`,
			want: TaskStatusResponse{
				TaskID: "t4",
				State:  TaskStarted,
				Info:   &TaskInfo{},
			},
		},
		{
			name: "success with result",
			body: `{"task_id":"t5","status":"SUCCESS","result":{"status":"completed","synced_integrations":3}}`,
			want: TaskStatusResponse{
				TaskID: "t5",
				State:  TaskSuccess,
				Result: &TaskResult{Status: "completed", SyncedIntegrations: 3},
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := setupClient(t, func(w http.ResponseWriter, r *http.Request) {
				assert.Contains(t, r.URL.Path, "/dashboard/status/")
				_, _ = w.Write([]byte(tt.body))
			})

			status, err := client.TaskStatus(context.Background(), "task")
			require.NoError(t, err)
			assert.Equal(t, tt.want, *status)
		})
	}
}

func TestClient_SyncStatus(t *testing.T) {
	client := setupClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/dashboard/sync-status", r.URL.Path)
		_, _ = w.Write([]byte(`{
			"remaining_cooldown": 17,
			"active_task_id": "task-9",
			"last_sync_time": "2026-08-23T10:15:30.123456",
			"auto_sync_interval": 60
		}`))
	})

	status, err := client.SyncStatus(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 17, status.RemainingCooldown)
	assert.Equal(t, "task-9", status.ActiveTaskID)
	assert.Equal(t, 60, status.AutoSyncInterval)

	// Offset-less timestamps parse as UTC.
	require.NotNil(t, status.LastSyncTime)
	want := time.Date(2026, 8, 23, 10, 15, 30, 123456000, time.UTC)
	assert.True(t, status.LastSyncTime.Equal(want))
}

func TestClient_SyncStatus_NullLastSync(t *testing.T) {
	client := setupClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"remaining_cooldown":0,"active_task_id":null,"last_sync_time":null,"auto_sync_interval":60}`))
	})

	status, err := client.SyncStatus(context.Background())
	require.NoError(t, err)
	assert.Nil(t, status.LastSyncTime)
	assert.Empty(t, status.ActiveTaskID)
}

func TestClient_Holdings(t *testing.T) {
	client := setupClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/dashboard/assets", r.URL.Path)
		_, _ = w.Write([]byte(`[
			{"symbol":"BTC","name":"Bitcoin","balance":0.5,"value_usd":30000,"change_24h":5,"provider":"binance","integration_name":"Binance"},
			{"symbol":"ETH","name":"Ethereum","balance":2,"value_usd":4000,"change_24h":-1,"provider":"ledger","integration_name":"Ledger"}
		]`))
	})

	rows, err := client.Holdings(context.Background())
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, "BTC", rows[0].Symbol)
	assert.InDelta(t, 30000.0, rows[0].ValueUSD, 1e-9)
	assert.Equal(t, "Ledger", rows[1].IntegrationName)
}

func TestClient_Holdings_InvalidRow(t *testing.T) {
	client := setupClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`[
			{"symbol":"BTC","value_usd":1},
			{"symbol":"","value_usd":2}
		]`))
	})

	_, err := client.Holdings(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "index 1")
}

func TestClient_Summary(t *testing.T) {
	client := setupClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/dashboard/summary", r.URL.Path)
		_, _ = w.Write([]byte(`{
			"net_worth": 52000.5,
			"daily_change": 1.25,
			"allocation": [{"name":"BTC","value":45000},{"name":"Other","value":7000.5}],
			"history": [{"date":"2026-08-22","value":51000}]
		}`))
	})

	summary, err := client.Summary(context.Background())
	require.NoError(t, err)
	assert.InDelta(t, 52000.5, summary.NetWorth, 1e-9)
	require.Len(t, summary.Allocation, 2)
	assert.Equal(t, "Other", summary.Allocation[1].Name)
	require.Len(t, summary.History, 1)
}

func TestClient_Integrations(t *testing.T) {
	client := setupClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/integrations", r.URL.Path)
		_, _ = w.Write([]byte(`[{"id":1,"name":"Binance Main","provider_id":"binance","is_active":true}]`))
	})

	integrations, err := client.Integrations(context.Background())
	require.NoError(t, err)
	require.Len(t, integrations, 1)
	assert.Equal(t, "binance", integrations[0].ProviderID)
	assert.True(t, integrations[0].IsActive)
}

func TestTaskState_Terminal(t *testing.T) {
	assert.False(t, TaskPending.Terminal())
	assert.False(t, TaskStarted.Terminal())
	assert.False(t, TaskProgress.Terminal())
	assert.True(t, TaskSuccess.Terminal())
	assert.True(t, TaskFailure.Terminal())
	assert.True(t, TaskRevoked.Terminal())
}

func TestTaskInfo_Percent(t *testing.T) {
	assert.Equal(t, 0, TaskInfo{}.Percent())
	assert.Equal(t, 60, TaskInfo{Current: 60, Total: 100}.Percent())
	assert.Equal(t, 100, TaskInfo{Current: 150, Total: 100}.Percent())
	assert.Equal(t, 0, TaskInfo{Current: -5, Total: 100}.Percent())
}

func TestValidatePassword(t *testing.T) {
	tests := []struct {
		name     string
		password string
		wantErr  string
	}{
		{"valid", "Str0ngPass", ""},
		{"too short", "Ab1", "at least 8 characters"},
		{"no lowercase", "PASSWORD1", "lowercase"},
		{"no uppercase", "password1", "uppercase"},
		{"no digit", "Passwords", "digit"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidatePassword(tt.password)
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}
