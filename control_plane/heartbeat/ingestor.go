// Package heartbeat turns worker heartbeats into registry snapshots.
package heartbeat

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strconv"
	"strings"

	"github.com/itskum47/FleetForge/control_plane/cluster"
	"github.com/itskum47/FleetForge/control_plane/observability"
)

var (
	// ErrInvalid rejects malformed heartbeats.
	ErrInvalid = errors.New("invalid heartbeat")

	// ErrRateLimited rejects a worker heartbeating faster than allowed.
	ErrRateLimited = errors.New("heartbeat rate limited")
)

// NotOwnerError tells the worker which node owns its application.
type NotOwnerError struct {
	AppID int64
	Owner string
}

func (e *NotOwnerError) Error() string {
	return fmt.Sprintf("app %d is owned by %s", e.AppID, e.Owner)
}

// ErrNotOwner matches any *NotOwnerError.
var ErrNotOwner = errors.New("not the owner of this application")

func (e *NotOwnerError) Is(target error) bool { return target == ErrNotOwner }

// Heartbeat is what a worker sends every few seconds.
type Heartbeat struct {
	AppID         int64                       `json:"app_id"`
	WorkerAddress string                      `json:"worker_address"`
	SystemMetrics cluster.SystemMetrics       `json:"system_metrics"`
	Containers    []cluster.DeployedContainer `json:"containers,omitempty"`
	Tag           string                      `json:"tag,omitempty"`
	Protocol      string                      `json:"protocol,omitempty"`
	ClientVersion string                      `json:"client_version,omitempty"`
	Overloading   bool                        `json:"overloading"`
}

// Validate checks the fields the registry depends on.
func (h Heartbeat) Validate() error {
	if h.AppID <= 0 {
		return fmt.Errorf("%w: app_id must be positive", ErrInvalid)
	}
	if strings.TrimSpace(h.WorkerAddress) == "" {
		return fmt.Errorf("%w: worker_address is required", ErrInvalid)
	}
	m := h.SystemMetrics
	if m.CPUProcessors < 0 || m.MemoryMaxGB < 0 || m.DiskTotalGB < 0 || m.QueueDepth < 0 {
		return fmt.Errorf("%w: negative system metrics", ErrInvalid)
	}
	return nil
}

// Owner decides whether this node may accept heartbeats for an application.
type Owner interface {
	NodeID() string
	Ensure(ctx context.Context, appID int64) (string, error)
}

// Ingestor validates heartbeats and records them in the registry.
type Ingestor struct {
	registry *cluster.Registry
	owner    Owner
	limiter  *TokenBucketLimiter
}

// NewIngestor creates an ingestor. A nil owner accepts every application,
// and a nil limiter disables per-worker rate limiting.
func NewIngestor(r *cluster.Registry, owner Owner, limiter *TokenBucketLimiter) *Ingestor {
	return &Ingestor{
		registry: r,
		owner:    owner,
		limiter:  limiter,
	}
}

// Ingest records hb. The receive time on this node becomes the worker's last contact.
func (i *Ingestor) Ingest(ctx context.Context, hb Heartbeat) error {
	if err := hb.Validate(); err != nil {
		observability.HeartbeatsTotal.WithLabelValues("invalid").Inc()
		return err
	}

	if i.limiter != nil && !i.limiter.Allow(workerKey(hb.AppID, hb.WorkerAddress)) {
		observability.HeartbeatsTotal.WithLabelValues("rate_limited").Inc()
		return ErrRateLimited
	}

	if i.owner != nil {
		owner, err := i.owner.Ensure(ctx, hb.AppID)
		if err != nil {
			observability.HeartbeatsTotal.WithLabelValues("error").Inc()
			return fmt.Errorf("ensure ownership of app %d: %w", hb.AppID, err)
		}
		if owner != i.owner.NodeID() {
			observability.HeartbeatsTotal.WithLabelValues("not_owner").Inc()
			return &NotOwnerError{AppID: hb.AppID, Owner: owner}
		}
	}

	_, known := i.registry.Get(hb.AppID)

	snapshot := cluster.NewWorkerSnapshot(hb.AppID, hb.WorkerAddress, hb.SystemMetrics, i.registry.Now(), hb.Containers)
	snapshot.Tag = hb.Tag
	snapshot.Protocol = hb.Protocol
	snapshot.ClientVersion = hb.ClientVersion
	snapshot.Overloading = hb.Overloading
	i.registry.Ingest(snapshot)

	if !known {
		log.Printf("[INGEST] First heartbeat for app %d from %s", hb.AppID, hb.WorkerAddress)
	}
	observability.HeartbeatsTotal.WithLabelValues("accepted").Inc()
	return nil
}

// Forget releases the per-worker state kept for a worker the registry purged.
func (i *Ingestor) Forget(appID int64, address string) {
	if i.limiter != nil {
		i.limiter.Forget(workerKey(appID, address))
	}
}

func workerKey(appID int64, address string) string {
	return strconv.FormatInt(appID, 10) + "/" + address
}
