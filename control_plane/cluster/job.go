package cluster

// JobInfo carries the job descriptor fields the selection path consumes.
type JobInfo struct {
	JobID          int64 `json:"job_id"`
	AppID          int64 `json:"app_id"`
	MaxWorkerCount int   `json:"max_worker_count"` // 0 = unlimited

	// DesignatedWorkers is a comma separated list of worker addresses or tags.
	// Empty means any worker may run the job.
	DesignatedWorkers string `json:"designated_workers,omitempty"`

	MinCPUCores float64 `json:"min_cpu_cores,omitempty"`
	MinMemoryGB float64 `json:"min_memory_gb,omitempty"`
	MinDiskGB   float64 `json:"min_disk_gb,omitempty"`
}
