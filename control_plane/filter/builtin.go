package filter

import (
	"fmt"
	"strings"
	"time"

	"github.com/itskum47/FleetForge/control_plane/cluster"
)

// Clock is the part of the registry the liveness filter needs.
type Clock interface {
	Now() time.Time
	WorkerTimeout() time.Duration
}

// DefaultChain returns the standard dispatch chain.
func DefaultChain(clock Clock) Chain {
	return Chain{
		DisconnectedFilter{Clock: clock},
		OverloadFilter{},
		SystemMetricsFilter{},
		DesignatedFilter{},
	}
}

// DisconnectedFilter excludes workers that missed the liveness window.
type DisconnectedFilter struct {
	Clock Clock
}

func (DisconnectedFilter) Name() string { return "disconnected" }

func (f DisconnectedFilter) Exclude(w cluster.WorkerSnapshot, _ *cluster.JobInfo) (bool, error) {
	return w.TimedOut(f.Clock.Now(), f.Clock.WorkerTimeout()), nil
}

// OverloadFilter excludes workers reporting themselves overloaded.
type OverloadFilter struct{}

func (OverloadFilter) Name() string { return "overload" }

func (OverloadFilter) Exclude(w cluster.WorkerSnapshot, _ *cluster.JobInfo) (bool, error) {
	return w.Overloading, nil
}

// SystemMetricsFilter excludes workers below the job's minimum resources.
type SystemMetricsFilter struct{}

func (SystemMetricsFilter) Name() string { return "system_metrics" }

func (SystemMetricsFilter) Exclude(w cluster.WorkerSnapshot, job *cluster.JobInfo) (bool, error) {
	if job == nil {
		return false, fmt.Errorf("nil job descriptor")
	}
	if job.MinCPUCores < 0 || job.MinMemoryGB < 0 || job.MinDiskGB < 0 {
		return false, fmt.Errorf("negative resource requirement (cpu=%v mem=%v disk=%v)",
			job.MinCPUCores, job.MinMemoryGB, job.MinDiskGB)
	}
	return !w.Metrics.Available(job.MinCPUCores, job.MinMemoryGB, job.MinDiskGB), nil
}

// DesignatedFilter restricts a job to the listed worker addresses or tags.
type DesignatedFilter struct{}

func (DesignatedFilter) Name() string { return "designated" }

func (DesignatedFilter) Exclude(w cluster.WorkerSnapshot, job *cluster.JobInfo) (bool, error) {
	if job == nil {
		return false, fmt.Errorf("nil job descriptor")
	}
	if strings.TrimSpace(job.DesignatedWorkers) == "" {
		return false, nil
	}
	for _, entry := range strings.Split(job.DesignatedWorkers, ",") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		if entry == w.Address || (w.Tag != "" && entry == w.Tag) {
			return false, nil
		}
	}
	return true, nil
}
