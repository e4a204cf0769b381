package syncer

import "time"

// State is the orchestrator's visible sync state.
type State string

const (
	// StateIdle means no job is running; the auto-sync countdown may be
	// armed.
	StateIdle State = "idle"
	// StateSyncing means a refresh job is active and being polled.
	StateSyncing State = "syncing"
	// StateSuccess is the short completion window after a finished job,
	// before the orchestrator settles back to idle or cooldown.
	StateSuccess State = "success"
	// StateCooldown means the server refused a refresh and told us when
	// to come back.
	StateCooldown State = "cooldown"
	// StateError is the short failure window before reverting to idle.
	StateError State = "error"
)

// Snapshot is an immutable view of the orchestrator. Times are absolute;
// consumers derive countdowns from them with the helper methods.
type Snapshot struct {
	State         State         `json:"state"`
	TaskID        string        `json:"task_id,omitempty"`
	Progress      int           `json:"progress"`
	Stage         string        `json:"stage,omitempty"`
	Message       string        `json:"message,omitempty"`
	CooldownUntil time.Time     `json:"cooldown_until,omitzero"`
	NextSyncAt    time.Time     `json:"next_sync_at,omitzero"`
	LastSync      time.Time     `json:"last_sync,omitzero"`
	Interval      time.Duration `json:"interval"`
}

// CooldownRemaining is the time left before the server accepts another
// sync, zero outside cooldown.
func (s Snapshot) CooldownRemaining(now time.Time) time.Duration {
	if s.CooldownUntil.IsZero() || !s.CooldownUntil.After(now) {
		return 0
	}
	return s.CooldownUntil.Sub(now)
}

// NextSyncIn is the time until the next scheduled auto-sync, zero when
// none is armed.
func (s Snapshot) NextSyncIn(now time.Time) time.Duration {
	if s.NextSyncAt.IsZero() || !s.NextSyncAt.After(now) {
		return 0
	}
	return s.NextSyncAt.Sub(now)
}
