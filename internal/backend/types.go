package backend

import (
	"encoding/json"
	"fmt"
	"time"
)

// TokenPair is issued by every auth endpoint.
type TokenPair struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	TokenType    string `json:"token_type"`
}

// User is the authenticated account.
type User struct {
	ID        int      `json:"id"`
	Email     string   `json:"email"`
	CreatedAt FlexTime `json:"created_at"`
}

// TaskState is the lifecycle state of a backend refresh job.
type TaskState string

const (
	// TaskPending means the job is queued but no worker has picked it up.
	TaskPending TaskState = "PENDING"
	// TaskStarted means a worker has accepted the job.
	TaskStarted TaskState = "STARTED"
	// TaskProgress means the job is running and reporting progress.
	TaskProgress TaskState = "PROGRESS"
	// TaskSuccess means the job completed and data is refreshed.
	TaskSuccess TaskState = "SUCCESS"
	// TaskFailure means the job errored out.
	TaskFailure TaskState = "FAILURE"
	// TaskRevoked means the job was cancelled server-side.
	TaskRevoked TaskState = "REVOKED"
)

// Terminal reports whether the job has finished, successfully or not.
func (s TaskState) Terminal() bool {
	switch s {
	case TaskSuccess, TaskFailure, TaskRevoked:
		return true
	}
	return false
}

// Progress stages reported by the refresh job.
const (
	StageInit             = "INIT"
	StageConnecting       = "CONNECTING"
	StageFetchingBalances = "FETCHING_BALANCES"
	StageFetchingPrices   = "FETCHING_PRICES"
	StageProcessing       = "PROCESSING"
	StageSaving           = "SAVING"
	StageDone             = "DONE"
)

// RefreshStarted is the acceptance response for a refresh request.
type RefreshStarted struct {
	Status string `json:"status"`
	TaskID string `json:"task_id"`
}

// TaskInfo is the free-form info attached to a job status. While the job
// runs it is a progress object, on failure an error object, and some
// broker states collapse it to a bare string. Decoding is tolerant: an
// unrecognized shape yields an empty TaskInfo, never a failed poll.
type TaskInfo struct {
	Current int
	Total   int
	Stage   string
	Message string
	Error   string
}

// UnmarshalJSON accepts the object, string, and error-object forms.
func (i *TaskInfo) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		i.Message = s
		return nil
	}

	var obj struct {
		Current int    `json:"current"`
		Total   int    `json:"total"`
		Stage   string `json:"stage"`
		Message string `json:"message"`
		Error   string `json:"error"`
	}
	if err := json.Unmarshal(data, &obj); err != nil {
		// Unknown shape; drop it rather than failing the poll.
		return nil
	}

	i.Current = obj.Current
	i.Total = obj.Total
	i.Stage = obj.Stage
	i.Message = obj.Message
	i.Error = obj.Error
	return nil
}

// Percent converts the progress counters to 0-100, clamped.
func (i TaskInfo) Percent() int {
	if i.Total <= 0 {
		return 0
	}
	p := i.Current * 100 / i.Total
	if p < 0 {
		return 0
	}
	if p > 100 {
		return 100
	}
	return p
}

// TaskResult is the payload attached to a finished job.
type TaskResult struct {
	Status             string `json:"status"`
	SyncedIntegrations int    `json:"synced_integrations"`
	Timestamp          string `json:"timestamp"`
}

// UnmarshalJSON tolerates the bare-string form some failure paths emit.
func (r *TaskResult) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		r.Status = s
		return nil
	}

	type alias TaskResult
	var a alias
	if err := json.Unmarshal(data, &a); err != nil {
		return nil
	}
	*r = TaskResult(a)
	return nil
}

// TaskStatusResponse is one poll of the refresh job.
type TaskStatusResponse struct {
	TaskID string      `json:"task_id"`
	State  TaskState   `json:"status"`
	Result *TaskResult `json:"result,omitempty"`
	Info   *TaskInfo   `json:"info,omitempty"`
}

// SyncStatus is the server's view of the sync lifecycle.
type SyncStatus struct {
	RemainingCooldown int       `json:"remaining_cooldown"`
	ActiveTaskID      string    `json:"active_task_id"`
	LastSyncTime      *FlexTime `json:"last_sync_time"`
	AutoSyncInterval  int       `json:"auto_sync_interval"` // seconds
}

// AllocationSlice is one entry of the summary's allocation breakdown.
type AllocationSlice struct {
	Name  string  `json:"name"`
	Value float64 `json:"value"`
}

// HistoryPoint is one point of the net worth history series.
type HistoryPoint struct {
	Date  string  `json:"date"`
	Value float64 `json:"value"`
}

// Summary is the dashboard summary payload.
type Summary struct {
	NetWorth    float64           `json:"net_worth"`
	DailyChange float64           `json:"daily_change"`
	Allocation  []AllocationSlice `json:"allocation"`
	History     []HistoryPoint    `json:"history"`
}

// Integration is one connected account.
type Integration struct {
	ID         int    `json:"id"`
	Name       string `json:"name"`
	ProviderID string `json:"provider_id"`
	IsActive   bool   `json:"is_active"`
}

// FlexTime parses the backend's ISO 8601 timestamps, which may omit the
// UTC offset. Offset-less values are taken as UTC.
type FlexTime struct {
	time.Time
}

var flexTimeLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05.999999",
	"2006-01-02T15:04:05",
}

// UnmarshalJSON implements json.Unmarshaler.
func (t *FlexTime) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	if s == "" {
		return nil
	}
	for _, layout := range flexTimeLayouts {
		if ts, err := time.Parse(layout, s); err == nil {
			t.Time = ts
			return nil
		}
	}
	return fmt.Errorf("unrecognized timestamp: %s", s)
}

// MarshalJSON implements json.Marshaler.
func (t FlexTime) MarshalJSON() ([]byte, error) {
	if t.IsZero() {
		return []byte(`null`), nil
	}
	return json.Marshal(t.UTC().Format(time.RFC3339))
}
