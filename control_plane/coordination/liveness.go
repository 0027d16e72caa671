package coordination

import (
	"context"
	"log"
	"strconv"
	"time"

	"github.com/itskum47/FleetForge/control_plane/cluster"
	"github.com/itskum47/FleetForge/control_plane/observability"
)

// LivenessMonitor periodically publishes per-application worker liveness and,
// when a retention window is set, purges workers dead for longer than it.
type LivenessMonitor struct {
	registry  *cluster.Registry
	interval  time.Duration
	retention time.Duration

	onPurge func(appID int64, address string)
}

// LivenessReport summarizes one sweep.
type LivenessReport struct {
	Apps   int `json:"apps"`
	Alive  int `json:"alive"`
	Dead   int `json:"dead"`
	Purged int `json:"purged"`
}

// NewLivenessMonitor creates a monitor. A zero retention never purges.
func NewLivenessMonitor(r *cluster.Registry, interval, retention time.Duration) *LivenessMonitor {
	if interval <= 0 {
		interval = 10 * time.Second
	}
	return &LivenessMonitor{
		registry:  r,
		interval:  interval,
		retention: retention,
	}
}

// SetOnPurge registers a callback run for every purged worker. Call before Start.
func (m *LivenessMonitor) SetOnPurge(fn func(appID int64, address string)) {
	m.onPurge = fn
}

func (m *LivenessMonitor) Start(ctx context.Context) {
	go m.loop(ctx)
}

func (m *LivenessMonitor) loop(ctx context.Context) {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	log.Printf("[LIVENESS] Starting worker liveness monitor (Interval: %v, Timeout: %v, Retention: %v)",
		m.interval, m.registry.WorkerTimeout(), m.retention)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.Sweep()
		}
	}
}

// Sweep runs one liveness pass over every registered application.
func (m *LivenessMonitor) Sweep() LivenessReport {
	var report LivenessReport

	ids := m.registry.AppIDs()
	report.Apps = len(ids)
	observability.RegisteredApps.Set(float64(len(ids)))

	for _, appID := range ids {
		holder, ok := m.registry.Get(appID)
		if !ok {
			continue
		}

		if m.retention > 0 {
			if purged := holder.Purge(m.retention); len(purged) > 0 {
				log.Printf("[LIVENESS] Purged %d workers of app %d silent for over %v", len(purged), appID, m.retention)
				observability.PurgedWorkers.Add(float64(len(purged)))
				report.Purged += len(purged)
				if m.onPurge != nil {
					for _, addr := range purged {
						m.onPurge(appID, addr)
					}
				}
			}
		}

		alive := len(holder.AliveWorkers())
		dead := holder.Len() - alive
		if dead < 0 {
			dead = 0
		}
		label := strconv.FormatInt(appID, 10)
		observability.AliveWorkers.WithLabelValues(label).Set(float64(alive))
		observability.DeadWorkers.WithLabelValues(label).Set(float64(dead))

		report.Alive += alive
		report.Dead += dead
	}
	return report
}
