package store

import (
	"time"

	"github.com/itskum47/FleetForge/control_plane/observability"
)

// AppOwnership describes who serves an application's worker directory.
type AppOwnership struct {
	AppID int64 `json:"app_id" db:"id"`

	// Owner is the node address holding a live lease, empty if none.
	Owner string `json:"owner" db:"current_server"`

	// Known is true once any node has ever claimed the application.
	Known bool `json:"known"`

	ExpiresAt time.Time `json:"expires_at,omitempty" db:"lease_expires_at"`
}

// observe starts a latency measurement for one store roundtrip.
func observe(backend, op string) func() {
	start := time.Now()
	return func() {
		observability.StoreLatency.WithLabelValues(backend, op).Observe(time.Since(start).Seconds())
	}
}
