package cluster

import (
	"sync"
	"time"

	"golang.org/x/exp/slices"
)

// DefaultWorkerTimeout is how long a worker stays alive after its last heartbeat.
const DefaultWorkerTimeout = 60 * time.Second

// Registry maps application ids to their ClusterStatusHolder.
// Holders are created on first heartbeat and live as long as the registry.
type Registry struct {
	holders sync.Map // int64 -> *ClusterStatusHolder
	timeout time.Duration
	now     func() time.Time
}

// Option configures a Registry.
type Option func(*Registry)

// WithWorkerTimeout sets the process-wide liveness window.
func WithWorkerTimeout(d time.Duration) Option {
	return func(r *Registry) {
		if d > 0 {
			r.timeout = d
		}
	}
}

// WithClock replaces time.Now, mostly for tests.
func WithClock(now func() time.Time) Option {
	return func(r *Registry) {
		if now != nil {
			r.now = now
		}
	}
}

// NewRegistry creates an empty registry.
func NewRegistry(opts ...Option) *Registry {
	r := &Registry{
		timeout: DefaultWorkerTimeout,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// HolderFor returns the holder for appID, creating it if needed.
// Concurrent first heartbeats race through LoadOrStore, so exactly one holder wins.
func (r *Registry) HolderFor(appID int64) *ClusterStatusHolder {
	if h, ok := r.holders.Load(appID); ok {
		return h.(*ClusterStatusHolder)
	}
	h, _ := r.holders.LoadOrStore(appID, newClusterStatusHolder(appID, r.timeout, r.now))
	return h.(*ClusterStatusHolder)
}

// Get returns the holder for appID if any heartbeat was ever seen for it.
func (r *Registry) Get(appID int64) (*ClusterStatusHolder, bool) {
	h, ok := r.holders.Load(appID)
	if !ok {
		return nil, false
	}
	return h.(*ClusterStatusHolder), true
}

// Ingest records a heartbeat snapshot.
func (r *Registry) Ingest(snapshot WorkerSnapshot) {
	r.HolderFor(snapshot.AppID).Ingest(snapshot)
}

// AppIDs returns every application with a holder, sorted.
func (r *Registry) AppIDs() []int64 {
	var ids []int64
	r.holders.Range(func(key, _ any) bool {
		ids = append(ids, key.(int64))
		return true
	})
	slices.Sort(ids)
	return ids
}

// WorkerTimeout returns the liveness window.
func (r *Registry) WorkerTimeout() time.Duration {
	return r.timeout
}

// Now returns the registry clock's current time.
func (r *Registry) Now() time.Time {
	return r.now()
}
