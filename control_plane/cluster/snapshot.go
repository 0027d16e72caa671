package cluster

import (
	"time"

	"golang.org/x/exp/slices"
)

// SystemMetrics holds the health signals a worker reports with every heartbeat.
type SystemMetrics struct {
	CPUProcessors int     `json:"cpu_processors"`
	CPULoad       float64 `json:"cpu_load"` // negative when the platform cannot report it
	MemoryUsedGB  float64 `json:"memory_used_gb"`
	MemoryMaxGB   float64 `json:"memory_max_gb"`
	DiskUsedGB    float64 `json:"disk_used_gb"`
	DiskTotalGB   float64 `json:"disk_total_gb"`
	QueueDepth    int     `json:"queue_depth"`

	// Score overrides the computed score when positive.
	Score int `json:"score,omitempty"`
}

// CalculateScore returns the composite health score. Higher is healthier.
// Free memory counts double, free CPU counts once, and every queued task costs one point.
func (m SystemMetrics) CalculateScore() int {
	if m.Score > 0 {
		return m.Score
	}

	memScore := (m.MemoryMaxGB - m.MemoryUsedGB) * 2
	cpuScore := float64(m.CPUProcessors) - m.CPULoad
	if m.CPULoad < 0 {
		cpuScore = 1
	}
	return int(memScore+cpuScore) - m.QueueDepth
}

// Available reports whether the worker can satisfy the given minimum resources.
func (m SystemMetrics) Available(minCPUCores, minMemoryGB, minDiskGB float64) bool {
	freeMemory := m.MemoryMaxGB - m.MemoryUsedGB
	freeDisk := m.DiskTotalGB - m.DiskUsedGB
	if freeMemory < minMemoryGB || freeDisk < minDiskGB {
		return false
	}
	if minCPUCores <= 0 || m.CPULoad < 0 {
		return true
	}
	return minCPUCores < float64(m.CPUProcessors)-m.CPULoad
}

// DeployedContainer is a dynamically deployed artifact running on a worker.
type DeployedContainer struct {
	ContainerID int64     `json:"container_id"`
	Version     string    `json:"version"`
	DeployedAt  time.Time `json:"deployed_at"`
}

// DeployedContainerInfo is a read-only projection of one container on one worker.
type DeployedContainerInfo struct {
	ContainerID   int64     `json:"container_id"`
	WorkerAddress string    `json:"worker_address"`
	Version       string    `json:"version"`
	DeployedAt    time.Time `json:"deployed_at"`
	LastContact   time.Time `json:"last_contact"`
}

// WorkerSnapshot is one worker process as last observed.
// Snapshots are never mutated after ingestion; Containers must be treated as read-only.
type WorkerSnapshot struct {
	AppID         int64               `json:"app_id"`
	Address       string              `json:"address"`
	Metrics       SystemMetrics       `json:"metrics"`
	LastContact   time.Time           `json:"last_contact"`
	Containers    []DeployedContainer `json:"containers,omitempty"`
	Tag           string              `json:"tag,omitempty"`
	Protocol      string              `json:"protocol,omitempty"`
	ClientVersion string              `json:"client_version,omitempty"`
	Overloading   bool                `json:"overloading"`
}

// NewWorkerSnapshot builds a snapshot that owns its container list.
func NewWorkerSnapshot(appID int64, address string, metrics SystemMetrics, lastContact time.Time, containers []DeployedContainer) WorkerSnapshot {
	return WorkerSnapshot{
		AppID:       appID,
		Address:     address,
		Metrics:     metrics,
		LastContact: lastContact,
		Containers:  slices.Clone(containers),
	}
}

// Score is shorthand for Metrics.CalculateScore.
func (w WorkerSnapshot) Score() int {
	return w.Metrics.CalculateScore()
}

// TimedOut reports whether the worker missed its liveness window.
// A worker exactly at the boundary is dead.
func (w WorkerSnapshot) TimedOut(now time.Time, timeout time.Duration) bool {
	return now.Sub(w.LastContact) >= timeout
}

// Runs returns the container with the given id if the worker reports running it.
func (w WorkerSnapshot) Runs(containerID int64) (DeployedContainer, bool) {
	for _, c := range w.Containers {
		if c.ContainerID == containerID {
			return c, true
		}
	}
	return DeployedContainer{}, false
}
