package cluster

import (
	"sync"
	"time"

	"golang.org/x/exp/slices"
)

// ClusterStatusHolder is the live view of one application's workers on this node.
//
// Readers take the shared lock only long enough to copy; a heartbeat holds the
// exclusive lock only for the single-address replacement.
type ClusterStatusHolder struct {
	appID   int64
	timeout time.Duration
	now     func() time.Time

	mu      sync.RWMutex
	workers map[string]WorkerSnapshot
	order   []string // insertion order of addresses; replacement keeps position
}

func newClusterStatusHolder(appID int64, timeout time.Duration, now func() time.Time) *ClusterStatusHolder {
	return &ClusterStatusHolder{
		appID:   appID,
		timeout: timeout,
		now:     now,
		workers: make(map[string]WorkerSnapshot),
	}
}

// AppID returns the owning application.
func (h *ClusterStatusHolder) AppID() int64 {
	return h.appID
}

// Ingest inserts or replaces the snapshot for its address. Last write wins.
func (h *ClusterStatusHolder) Ingest(snapshot WorkerSnapshot) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, exists := h.workers[snapshot.Address]; !exists {
		h.order = append(h.order, snapshot.Address)
	}
	h.workers[snapshot.Address] = snapshot
}

// AllWorkers returns a point-in-time copy of every known worker in insertion order.
func (h *ClusterStatusHolder) AllWorkers() []WorkerSnapshot {
	h.mu.RLock()
	defer h.mu.RUnlock()

	result := make([]WorkerSnapshot, 0, len(h.order))
	for _, addr := range h.order {
		result = append(result, h.workers[addr])
	}
	return result
}

// AliveWorkers returns the workers whose last contact is inside the timeout window.
func (h *ClusterStatusHolder) AliveWorkers() []WorkerSnapshot {
	now := h.now()
	all := h.AllWorkers()

	alive := make([]WorkerSnapshot, 0, len(all))
	for _, w := range all {
		if !w.TimedOut(now, h.timeout) {
			alive = append(alive, w)
		}
	}
	return alive
}

// Worker looks up one worker by address.
func (h *ClusterStatusHolder) Worker(address string) (WorkerSnapshot, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	w, ok := h.workers[address]
	return w, ok
}

// DeployedContainerInfos lists every current worker reporting the container.
func (h *ClusterStatusHolder) DeployedContainerInfos(containerID int64) []DeployedContainerInfo {
	infos := make([]DeployedContainerInfo, 0)
	for _, w := range h.AllWorkers() {
		c, ok := w.Runs(containerID)
		if !ok {
			continue
		}
		infos = append(infos, DeployedContainerInfo{
			ContainerID:   c.ContainerID,
			WorkerAddress: w.Address,
			Version:       c.Version,
			DeployedAt:    c.DeployedAt,
			LastContact:   w.LastContact,
		})
	}
	return infos
}

// Len returns the number of known workers, alive or not.
func (h *ClusterStatusHolder) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.order)
}

// Purge drops workers whose last contact is older than olderThan and returns their
// addresses. The holder itself always stays registered.
func (h *ClusterStatusHolder) Purge(olderThan time.Duration) []string {
	now := h.now()

	h.mu.Lock()
	defer h.mu.Unlock()

	var purged []string
	h.order = slices.DeleteFunc(h.order, func(addr string) bool {
		if h.workers[addr].TimedOut(now, olderThan) {
			delete(h.workers, addr)
			purged = append(purged, addr)
			return true
		}
		return false
	})
	return purged
}
