package api

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/pulse-agent/internal/holdings"
	"github.com/pulse-agent/internal/syncer"
)

// allocationTopN caps the number of named slices in the summary
// allocation; everything smaller lands in the Other bucket.
const allocationTopN = 8

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{
		"status":  "healthy",
		"service": "pulse-agent",
	})
}

// syncView is a sync snapshot with the countdowns pre-derived so views do
// not need synchronized clocks.
type syncView struct {
	syncer.Snapshot
	CooldownRemaining int `json:"cooldown_remaining"`
	NextSyncIn        int `json:"next_sync_in"`
	IntervalSeconds   int `json:"interval_seconds"`
}

func newSyncView(snap syncer.Snapshot) syncView {
	now := time.Now()
	return syncView{
		Snapshot:          snap,
		CooldownRemaining: int(snap.CooldownRemaining(now).Round(time.Second).Seconds()),
		NextSyncIn:        int(snap.NextSyncIn(now).Round(time.Second).Seconds()),
		IntervalSeconds:   int(snap.Interval.Seconds()),
	}
}

func (s *Server) handleSyncState(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, newSyncView(s.orch.Snapshot()))
}

// handleRefresh triggers a manual sync. Refusals carry the reason: a job
// already running is a conflict, an active cooldown a rate limit.
func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	err := s.orch.TriggerSync()
	switch {
	case err == nil:
		respondJSON(w, http.StatusAccepted, newSyncView(s.orch.Snapshot()))
	case errors.Is(err, syncer.ErrSyncRunning):
		respondError(w, http.StatusConflict, ErrCodeSyncInProgress, "A sync is already running", nil)
	case errors.Is(err, syncer.ErrCoolingDown):
		remaining := s.orch.Snapshot().CooldownRemaining(time.Now())
		respondError(w, http.StatusTooManyRequests, ErrCodeCooldownActive, "Sync cooldown is active", map[string]interface{}{
			"retry_after": int(remaining.Round(time.Second).Seconds()),
		})
	case errors.Is(err, syncer.ErrStopped):
		respondError(w, http.StatusServiceUnavailable, ErrCodeUnavailable, "Sync orchestrator is not running", nil)
	default:
		respondError(w, http.StatusInternalServerError, ErrCodeInternalError, "Failed to trigger sync", nil)
	}
}

// portfolioResponse is the aggregated portfolio view.
type portfolioResponse struct {
	Holdings      []holdings.Holding       `json:"holdings,omitempty"`
	Groups        []holdings.ProviderGroup `json:"groups,omitempty"`
	TotalValueUSD float64                  `json:"total_value_usd"`
	AsOf          time.Time                `json:"as_of,omitzero"`
}

// handlePortfolio serves the cached holdings, filtered per query and
// either aggregated across integrations or grouped by provider.
func (s *Server) handlePortfolio(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()

	opts := holdings.Options{
		Query:    query.Get("q"),
		Provider: query.Get("provider"),
	}
	if raw := query.Get("min_value"); raw != "" {
		minValue, err := strconv.ParseFloat(raw, 64)
		if err != nil || minValue < 0 {
			respondError(w, http.StatusBadRequest, ErrCodeInvalidInput, "min_value must be a non-negative number", nil)
			return
		}
		opts.MinValueUSD = minValue
	}
	groupBy := query.Get("group_by")
	if groupBy != "" && groupBy != "provider" {
		respondError(w, http.StatusBadRequest, ErrCodeInvalidInput, "group_by supports only \"provider\"", nil)
		return
	}

	if s.cache.Empty() {
		if err := s.cache.Refresh(r.Context()); err != nil {
			s.logger.WithError(err).Warn("Holdings fetch failed")
			respondError(w, http.StatusBadGateway, ErrCodeBackendError, "Could not fetch holdings from the backend", nil)
			return
		}
	}

	rows, fetchedAt := s.cache.Rows()
	rows = holdings.Filter(rows, opts)

	resp := portfolioResponse{AsOf: fetchedAt}
	if groupBy == "provider" {
		resp.Groups = holdings.GroupByProvider(rows)
		resp.TotalValueUSD = holdings.TotalValueUSD(rows)
	} else {
		resp.Holdings = holdings.Aggregate(rows)
		resp.TotalValueUSD = holdings.TotalValueUSD(resp.Holdings)
	}

	respondJSON(w, http.StatusOK, resp)
}

// summaryResponse merges the backend summary with the allocation computed
// from the rows the agent is actually holding.
type summaryResponse struct {
	NetWorth    float64          `json:"net_worth"`
	DailyChange float64          `json:"daily_change"`
	Allocation  []holdings.Slice `json:"allocation"`
	History     interface{}      `json:"history,omitempty"`
}

func (s *Server) handleSummary(w http.ResponseWriter, r *http.Request) {
	summary, err := s.summaries.Summary(r.Context())
	if err != nil {
		s.logger.WithError(err).Warn("Summary fetch failed")
		respondError(w, http.StatusBadGateway, ErrCodeBackendError, "Could not fetch summary from the backend", nil)
		return
	}

	resp := summaryResponse{
		NetWorth:    summary.NetWorth,
		DailyChange: summary.DailyChange,
		History:     summary.History,
	}

	// Prefer the allocation derived from cached rows: it reflects the
	// same data the portfolio view renders. The backend's breakdown is
	// the fallback before the first fetch.
	if !s.cache.Empty() {
		rows, _ := s.cache.Rows()
		resp.Allocation = holdings.Allocation(rows, allocationTopN)
	} else {
		resp.Allocation = make([]holdings.Slice, 0, len(summary.Allocation))
		for _, slice := range summary.Allocation {
			resp.Allocation = append(resp.Allocation, holdings.Slice{Name: slice.Name, ValueUSD: slice.Value})
		}
	}

	respondJSON(w, http.StatusOK, resp)
}
