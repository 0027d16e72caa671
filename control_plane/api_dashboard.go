package main

import (
	"net/http"
	"strconv"
)

// AppSummary is one application's worker directory as seen by this node.
type AppSummary struct {
	AppID     int64  `json:"app_id"`
	Owned     bool   `json:"owned"`
	Workers   int    `json:"workers"`
	Alive     int    `json:"alive"`
	Dead      int    `json:"dead"`
	TopWorker string `json:"top_worker,omitempty"`
	TopScore  int    `json:"top_score,omitempty"`
}

// FleetSummary represents the complete dashboard state.
type FleetSummary struct {
	// Ownership
	NodeID               string `json:"node_id"`
	Backend              string `json:"backend"`
	OwnedApps            int    `json:"owned_apps"`
	OwnershipTransitions int64  `json:"ownership_transitions"`

	// Registry
	WorkerTimeoutSeconds float64      `json:"worker_timeout_seconds"`
	TotalWorkers         int          `json:"total_workers"`
	AliveWorkers         int          `json:"alive_workers"`
	Apps                 []AppSummary `json:"apps"`

	// Timestamp
	Timestamp int64 `json:"timestamp"`
}

// dashboardAppFilter reads the optional appId query parameter. 0 means all.
func dashboardAppFilter(r *http.Request) (int64, bool) {
	raw := r.URL.Query().Get("appId")
	if raw == "" {
		return 0, true
	}
	appID, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || appID < 0 {
		return 0, false
	}
	return appID, true
}

// handleGetDashboard returns the current fleet summary.
func (a *API) handleGetDashboard(w http.ResponseWriter, r *http.Request) {
	appID, ok := dashboardAppFilter(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid_query", "invalid appId")
		return
	}

	summary, err := a.dashboardService.GetFleetSummary(r.Context(), appID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal", "Failed to fetch fleet summary")
		return
	}
	writeJSON(w, http.StatusOK, summary)
}
