package redirect

import (
	"github.com/itskum47/FleetForge/control_plane/cluster"
)

// Op names a cluster query operation.
type Op string

const (
	OpSuitableWorkers    Op = "suitable_workers"
	OpAllWorkers         Op = "all_workers"
	OpAliveWorkers       Op = "alive_workers"
	OpWorkerByAddress    Op = "worker_by_address"
	OpDeployedContainers Op = "deployed_containers"
)

// Query is the descriptor forwarded to the owning node.
type Query struct {
	Op          Op               `json:"op"`
	AppID       int64            `json:"app_id"`
	Address     string           `json:"address,omitempty"`
	ContainerID int64            `json:"container_id,omitempty"`
	Job         *cluster.JobInfo `json:"job,omitempty"`
}
