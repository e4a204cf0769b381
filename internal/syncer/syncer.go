// Package syncer drives the backend's async dashboard refresh job from
// the client side. One state machine owns the whole lifecycle: manual
// triggers, job polling, cooldown handling, and the epoch-aligned
// auto-sync schedule.
package syncer

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/pulse-agent/internal/backend"
	"github.com/pulse-agent/internal/logging"
	"github.com/pulse-agent/internal/session"
)

var (
	// ErrSyncRunning means a job is active or a finished sync is still
	// being displayed.
	ErrSyncRunning = errors.New("sync already running")
	// ErrCoolingDown means the server cooldown has not elapsed.
	ErrCoolingDown = errors.New("sync cooldown active")
	// ErrStopped means the orchestrator is not running.
	ErrStopped = errors.New("syncer stopped")
)

// Backend is the slice of the API the orchestrator drives.
type Backend interface {
	StartRefresh(ctx context.Context) (*backend.RefreshStarted, error)
	TaskStatus(ctx context.Context, taskID string) (*backend.TaskStatusResponse, error)
	SyncStatus(ctx context.Context) (*backend.SyncStatus, error)
}

// Config configures a Syncer.
type Config struct {
	// Backend executes the sync API calls. Required.
	Backend Backend

	// Session persists sync hints between runs. Optional.
	Session *session.Manager

	Logger *logrus.Logger

	// PollInterval is the job status poll cadence (default: 800ms).
	PollInterval time.Duration

	// PendingLimit is how many consecutive PENDING polls to tolerate
	// before declaring the job stuck (default: 12).
	PendingLimit int

	// Tick drives the idle and cooldown countdowns (default: 1s).
	Tick time.Duration

	// ErrorDisplay is how long a failure stays visible before the
	// orchestrator reverts to idle (default: 3s).
	ErrorDisplay time.Duration

	// SuccessDisplay is how long a finished sync stays visible before
	// settling against the server (default: 1.5s).
	SuccessDisplay time.Duration

	// CooldownAsIdle bounces cooldown rejections straight back to idle
	// instead of entering the cooldown state.
	CooldownAsIdle bool

	// OnStateChange runs on the orchestrator goroutine after every
	// published snapshot. Keep it fast; hand off for slow work.
	OnStateChange func(Snapshot)

	// OnDataRefreshed runs after every successful sync. Consumers
	// re-fetch holdings on it.
	OnDataRefreshed func()
}

// Validate checks required fields and fills defaults.
func (c *Config) Validate() error {
	if c.Backend == nil {
		return fmt.Errorf("backend client is required")
	}
	if c.PollInterval <= 0 {
		c.PollInterval = 800 * time.Millisecond
	}
	if c.PendingLimit <= 0 {
		c.PendingLimit = 12
	}
	if c.Tick <= 0 {
		c.Tick = time.Second
	}
	if c.ErrorDisplay <= 0 {
		c.ErrorDisplay = 3 * time.Second
	}
	if c.SuccessDisplay <= 0 {
		c.SuccessDisplay = 1500 * time.Millisecond
	}
	return nil
}

// Syncer is the sync orchestrator. All transitions happen on its run
// loop goroutine; readers get consistent views through Snapshot.
type Syncer struct {
	cfg    Config
	logger *logrus.Entry

	ctx    context.Context
	cancel context.CancelFunc

	commands chan func()
	stopCh   chan struct{}
	doneCh   chan struct{}
	stopOnce sync.Once

	mu   sync.RWMutex
	snap Snapshot

	// Run-loop-owned. Start touches them only before the loop exists.
	state         State
	taskID        string
	progress      int
	stage         string
	message       string
	pendingStreak int
	cooldownUntil time.Time
	nextSyncAt    time.Time
	lastSync      time.Time
	interval      time.Duration
	settleTimer   *time.Timer
	pollTicker    *time.Ticker
}

// New creates a Syncer.
func New(cfg Config) (*Syncer, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	logger := cfg.Logger
	if logger == nil {
		logger = logrus.StandardLogger()
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Syncer{
		cfg:      cfg,
		logger:   logging.WithComponent(logger, "syncer"),
		ctx:      ctx,
		cancel:   cancel,
		commands: make(chan func(), 8),
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
		state:    StateIdle,
	}, nil
}

// Start brings the orchestrator online. It loads cached hints, reconciles
// against the server's sync status (resuming a job already in flight or
// an active cooldown), arms the auto-sync schedule, and launches the run
// loop. Call it once; every other method requires it.
func (s *Syncer) Start(ctx context.Context) error {
	if s.cfg.Session != nil {
		hints := s.cfg.Session.LoadHints(ctx)
		s.lastSync = hints.LastSync
		s.interval = hints.Interval
	}

	status, err := s.cfg.Backend.SyncStatus(ctx)
	if err != nil {
		// The cached hints carry the display until the next reconcile.
		s.logger.WithError(err).Warn("Could not fetch sync status on startup")
	} else {
		s.applySyncStatus(ctx, status)
	}

	if s.state == StateIdle && s.interval > 0 {
		s.nextSyncAt = NextSyncTime(time.Now(), s.interval)
	}
	s.publish()

	go s.run()

	s.logger.WithFields(logrus.Fields{
		"state":    string(s.state),
		"interval": s.interval.String(),
	}).Info("Sync orchestrator started")
	return nil
}

// Stop halts the run loop and waits for it to exit. In-flight backend
// calls are cancelled.
func (s *Syncer) Stop() {
	s.stopOnce.Do(func() {
		s.cancel()
		close(s.stopCh)
	})

	select {
	case <-s.doneCh:
	case <-time.After(10 * time.Second):
		s.logger.Warn("Run loop did not exit in time")
	}
}

// Snapshot returns the current orchestrator view.
func (s *Syncer) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snap
}

// TriggerSync requests a manual sync. An idle or failed orchestrator
// starts one: ErrCoolingDown reports an active cooldown, ErrSyncRunning
// covers a running job and the brief success display window.
func (s *Syncer) TriggerSync() error {
	var result error
	err := s.do(func() {
		switch s.state {
		case StateCooldown:
			result = ErrCoolingDown
		case StateIdle:
			s.startSync("manual")
		case StateError:
			// A failed sync may be retried right away; nobody has to
			// wait out the failure display.
			if s.settleTimer != nil {
				s.settleTimer.Stop()
				s.settleTimer = nil
			}
			s.startSync("manual")
		default:
			result = ErrSyncRunning
		}
	})
	if err != nil {
		return err
	}
	return result
}

// do runs fn on the orchestrator goroutine and waits for it.
func (s *Syncer) do(fn func()) error {
	done := make(chan struct{})
	wrapped := func() {
		defer close(done)
		fn()
	}

	select {
	case s.commands <- wrapped:
	case <-s.stopCh:
		return ErrStopped
	}

	select {
	case <-done:
		return nil
	case <-s.doneCh:
		return ErrStopped
	}
}

// run is the orchestrator event loop. It owns every state transition.
func (s *Syncer) run() {
	defer close(s.doneCh)

	tick := time.NewTicker(s.cfg.Tick)
	defer tick.Stop()
	defer func() {
		if s.pollTicker != nil {
			s.pollTicker.Stop()
		}
	}()

	for {
		// The poll ticker exists only while a job is being watched.
		if s.state == StateSyncing && s.pollTicker == nil {
			s.pollTicker = time.NewTicker(s.cfg.PollInterval)
		} else if s.state != StateSyncing && s.pollTicker != nil {
			s.pollTicker.Stop()
			s.pollTicker = nil
		}

		var pollC <-chan time.Time
		if s.pollTicker != nil {
			pollC = s.pollTicker.C
		}
		var settleC <-chan time.Time
		if s.settleTimer != nil {
			settleC = s.settleTimer.C
		}

		select {
		case <-s.stopCh:
			if s.settleTimer != nil {
				s.settleTimer.Stop()
			}
			return
		case fn := <-s.commands:
			fn()
		case <-tick.C:
			s.onTick()
		case <-pollC:
			s.onPoll()
		case <-settleC:
			s.settleTimer = nil
			s.onSettle()
		}
	}
}

// onTick advances the countdowns: cooldown expiry and auto-sync firing.
func (s *Syncer) onTick() {
	now := time.Now()

	switch s.state {
	case StateCooldown:
		if !s.cooldownUntil.After(now) {
			s.toIdle("")
			return
		}
		s.publish()
	case StateIdle:
		if s.interval > 0 && !s.nextSyncAt.IsZero() && !now.Before(s.nextSyncAt) {
			s.startSync("auto")
		}
	}
}

// onPoll asks the backend how the active job is doing.
func (s *Syncer) onPoll() {
	if s.state != StateSyncing || s.taskID == "" {
		return
	}

	status, err := s.cfg.Backend.TaskStatus(s.ctx, s.taskID)
	if err != nil {
		// Transient; the next poll will catch up.
		s.logger.WithError(err).Debug("Status poll failed")
		return
	}

	switch status.State {
	case backend.TaskPending:
		s.pendingStreak++
		if s.pendingStreak >= s.cfg.PendingLimit {
			s.logger.WithFields(logrus.Fields{
				"task_id": s.taskID,
				"polls":   s.pendingStreak,
			}).Warn("Job never left PENDING, giving up")
			s.toError("Sync did not start, please try again")
		}
	case backend.TaskStarted:
		s.pendingStreak = 0
		if s.message == "" {
			s.message = "Sync started"
		}
		s.publish()
	case backend.TaskProgress:
		s.pendingStreak = 0
		if status.Info != nil && status.Info.Stage == backend.StageDone {
			// The worker's final update is PROGRESS with stage DONE; the
			// SUCCESS status may never be observable once the task result
			// expires.
			s.completeSync()
			return
		}
		if status.Info != nil {
			s.progress = status.Info.Percent()
			s.stage = status.Info.Stage
			s.message = status.Info.Message
		}
		s.publish()
	case backend.TaskSuccess:
		s.completeSync()
	case backend.TaskFailure, backend.TaskRevoked:
		message := "Sync failed"
		if status.State == backend.TaskRevoked {
			message = "Sync was cancelled"
		}
		if status.Info != nil && status.Info.Error != "" {
			message = status.Info.Error
		}
		s.toError(message)
	default:
		s.logger.WithField("state", string(status.State)).Debug("Unknown task state")
	}
}

// onSettle closes a display window: errors revert to idle, successes
// reconcile against the server before settling.
func (s *Syncer) onSettle() {
	switch s.state {
	case StateError:
		s.toIdle("")
	case StateSuccess:
		s.reconcile()
	}
}

// startSync asks the backend for a new refresh job.
func (s *Syncer) startSync(origin string) {
	started, err := s.cfg.Backend.StartRefresh(s.ctx)
	if err != nil {
		if apiErr, ok := backend.AsAPIError(err); ok && apiErr.IsCooldown() {
			s.enterCooldown(apiErr)
			return
		}
		s.logger.WithError(err).WithField("origin", origin).Error("Failed to start sync")
		s.toError("Failed to start sync")
		return
	}

	s.state = StateSyncing
	s.taskID = started.TaskID
	s.progress = 0
	s.stage = ""
	s.message = "Starting sync"
	s.pendingStreak = 0
	s.logger.WithFields(logrus.Fields{
		"task_id": started.TaskID,
		"origin":  origin,
	}).Info("Sync started")
	s.publish()
}

// enterCooldown records a server cooldown rejection.
func (s *Syncer) enterCooldown(apiErr *backend.APIError) {
	retry := time.Duration(apiErr.RetryAfter) * time.Second
	s.logger.WithField("retry_after", apiErr.RetryAfter).Info("Sync refused by cooldown")

	if s.cfg.CooldownAsIdle {
		// Legacy behavior: stay idle, surface the message, and let the
		// next trigger bounce again.
		s.message = apiErr.Message
		s.publish()
		return
	}

	s.state = StateCooldown
	s.cooldownUntil = time.Now().Add(retry)
	s.message = apiErr.Message
	s.taskID = ""
	s.publish()
}

// completeSync handles the SUCCESS terminal: lock in the result, arm the
// next auto-sync boundary, notify consumers, then display briefly before
// reconciling.
func (s *Syncer) completeSync() {
	now := time.Now()

	s.state = StateSuccess
	s.progress = 100
	s.stage = backend.StageDone
	s.message = "Sync complete"
	s.taskID = ""
	s.pendingStreak = 0
	s.lastSync = now
	if s.interval > 0 {
		s.nextSyncAt = NextSyncTime(now.Add(s.cfg.Tick), s.interval)
	}
	s.persistHints()
	s.logger.Info("Sync completed")
	s.publish()

	if s.cfg.OnDataRefreshed != nil {
		s.cfg.OnDataRefreshed()
	}

	s.armSettle(s.cfg.SuccessDisplay)
}

// reconcile settles the post-success state against the server: a fresh
// server cooldown keeps us out of idle, and confirmed sync facts replace
// the local ones.
func (s *Syncer) reconcile() {
	status, err := s.cfg.Backend.SyncStatus(s.ctx)
	if err != nil {
		s.logger.WithError(err).Debug("Post-sync status fetch failed")
		s.toIdle("")
		return
	}

	s.applySyncFacts(status)
	s.persistHints()

	if !s.cfg.CooldownAsIdle && status.RemainingCooldown > 0 {
		s.state = StateCooldown
		s.cooldownUntil = time.Now().Add(time.Duration(status.RemainingCooldown) * time.Second)
		s.message = ""
		s.publish()
		return
	}

	s.toIdle("")
}

// toIdle resets to the idle state and re-arms the auto-sync boundary.
func (s *Syncer) toIdle(message string) {
	now := time.Now()

	s.state = StateIdle
	s.taskID = ""
	s.progress = 0
	s.stage = ""
	s.message = message
	s.pendingStreak = 0
	s.cooldownUntil = time.Time{}
	if s.interval > 0 && (s.nextSyncAt.IsZero() || !s.nextSyncAt.After(now)) {
		s.nextSyncAt = NextSyncTime(now, s.interval)
	}
	s.publish()
}

// toError enters the short failure display; the settle timer reverts it.
func (s *Syncer) toError(message string) {
	s.state = StateError
	s.taskID = ""
	s.message = message
	s.publish()
	s.armSettle(s.cfg.ErrorDisplay)
}

// applySyncStatus ingests a startup sync-status response: resume an
// active job or cooldown, and adopt the server's sync facts.
func (s *Syncer) applySyncStatus(ctx context.Context, status *backend.SyncStatus) {
	s.applySyncFacts(status)
	s.persistHintsCtx(ctx)

	switch {
	case status.ActiveTaskID != "":
		s.state = StateSyncing
		s.taskID = status.ActiveTaskID
		s.message = "Sync in progress"
		s.pendingStreak = 0
	case !s.cfg.CooldownAsIdle && status.RemainingCooldown > 0:
		s.state = StateCooldown
		s.cooldownUntil = time.Now().Add(time.Duration(status.RemainingCooldown) * time.Second)
	}
}

// applySyncFacts adopts interval and last-sync from the server.
func (s *Syncer) applySyncFacts(status *backend.SyncStatus) {
	if status.AutoSyncInterval > 0 {
		s.interval = time.Duration(status.AutoSyncInterval) * time.Second
	}
	if status.LastSyncTime != nil && !status.LastSyncTime.IsZero() {
		s.lastSync = status.LastSyncTime.Time
	}
}

func (s *Syncer) persistHints() {
	s.persistHintsCtx(s.ctx)
}

func (s *Syncer) persistHintsCtx(ctx context.Context) {
	if s.cfg.Session == nil {
		return
	}
	err := s.cfg.Session.SaveHints(ctx, session.Hints{
		LastSync: s.lastSync,
		Interval: s.interval,
	})
	if err != nil {
		s.logger.WithError(err).Warn("Failed to persist sync hints")
	}
}

// armSettle (re)starts the display-window timer.
func (s *Syncer) armSettle(d time.Duration) {
	if s.settleTimer != nil {
		s.settleTimer.Stop()
	}
	s.settleTimer = time.NewTimer(d)
}

// publish stores the current snapshot for readers and notifies the
// state-change hook.
func (s *Syncer) publish() {
	snap := Snapshot{
		State:         s.state,
		TaskID:        s.taskID,
		Progress:      s.progress,
		Stage:         s.stage,
		Message:       s.message,
		CooldownUntil: s.cooldownUntil,
		NextSyncAt:    s.nextSyncAt,
		LastSync:      s.lastSync,
		Interval:      s.interval,
	}

	s.mu.Lock()
	s.snap = snap
	s.mu.Unlock()

	if s.cfg.OnStateChange != nil {
		s.cfg.OnStateChange(snap)
	}
}
