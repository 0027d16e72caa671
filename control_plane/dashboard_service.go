package main

import (
	"context"
	"time"

	"golang.org/x/exp/slices"

	"github.com/itskum47/FleetForge/control_plane/cluster"
	"github.com/itskum47/FleetForge/control_plane/coordination"
	"github.com/itskum47/FleetForge/control_plane/selection"
)

// DashboardService aggregates the local registry and ownership state for the dashboard.
// It only reports what this node holds; it never redirects.
type DashboardService struct {
	registry  *cluster.Registry
	ownership *coordination.OwnershipManager
}

// NewDashboardService creates a new DashboardService.
func NewDashboardService(registry *cluster.Registry, ownership *coordination.OwnershipManager) *DashboardService {
	return &DashboardService{
		registry:  registry,
		ownership: ownership,
	}
}

// GetFleetSummary collects the fleet state on this node. appID 0 means every application.
func (s *DashboardService) GetFleetSummary(ctx context.Context, appID int64) (FleetSummary, error) {
	summary := FleetSummary{
		WorkerTimeoutSeconds: s.registry.WorkerTimeout().Seconds(),
		Timestamp:            time.Now().Unix(),
	}

	// 1. Ownership
	var owned []int64
	if s.ownership != nil {
		state := s.ownership.GetState()
		summary.NodeID = state.NodeID
		summary.Backend = state.Backend
		summary.OwnershipTransitions = state.Transitions
		owned = state.OwnedApps
	}
	summary.OwnedApps = len(owned)

	// 2. Registry
	ids := s.registry.AppIDs()
	if appID != 0 {
		ids = slices.DeleteFunc(ids, func(id int64) bool { return id != appID })
	}

	for _, id := range ids {
		if err := ctx.Err(); err != nil {
			return summary, err
		}
		holder, ok := s.registry.Get(id)
		if !ok {
			continue
		}

		all := holder.AllWorkers()
		alive := holder.AliveWorkers()
		app := AppSummary{
			AppID:   id,
			Owned:   s.ownership == nil || slices.Contains(owned, id),
			Workers: len(all),
			Alive:   len(alive),
			Dead:    len(all) - len(alive),
		}
		if best := selection.Select(alive, 1); len(best) == 1 {
			app.TopWorker = best[0].Address
			app.TopScore = best[0].Score()
		}

		summary.Apps = append(summary.Apps, app)
		summary.TotalWorkers += app.Workers
		summary.AliveWorkers += app.Alive
	}
	return summary, nil
}
