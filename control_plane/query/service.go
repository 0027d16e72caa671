// Package query is the public face of the worker directory: the five read
// operations the dispatch path and admin tooling call. Every operation is routed
// through the redirector so it is answered by the node that owns the application.
package query

import (
	"context"
	"errors"
	"fmt"
	"log"

	"github.com/itskum47/FleetForge/control_plane/cluster"
	"github.com/itskum47/FleetForge/control_plane/filter"
	"github.com/itskum47/FleetForge/control_plane/redirect"
	"github.com/itskum47/FleetForge/control_plane/selection"
)

var (
	// ErrUnknownOp is returned by Execute for an op it does not implement.
	ErrUnknownOp = errors.New("unknown query op")

	// ErrInvalidQuery rejects malformed query input.
	ErrInvalidQuery = errors.New("invalid query")
)

// Service answers worker directory queries.
type Service struct {
	registry   *cluster.Registry
	chain      filter.Chain
	redirector *redirect.Redirector
}

// NewService wires the registry, the eligibility chain and the redirector.
func NewService(r *cluster.Registry, chain filter.Chain, redirector *redirect.Redirector) *Service {
	return &Service{
		registry:   r,
		chain:      chain,
		redirector: redirector,
	}
}

// GetSuitableWorkers returns the eligible workers for job, best first, bounded by
// job.MaxWorkerCount (0 means unlimited).
func (s *Service) GetSuitableWorkers(ctx context.Context, job *cluster.JobInfo) ([]cluster.WorkerSnapshot, error) {
	if err := validateJob(job); err != nil {
		return nil, err
	}
	q := redirect.Query{Op: redirect.OpSuitableWorkers, AppID: job.AppID, Job: job}
	return redirect.Do(ctx, s.redirector, q, func(context.Context) ([]cluster.WorkerSnapshot, error) {
		return s.suitableWorkers(job)
	})
}

// GetAllWorkers returns every known worker ranked by score, dead ones included.
func (s *Service) GetAllWorkers(ctx context.Context, appID int64) ([]cluster.WorkerSnapshot, error) {
	q := redirect.Query{Op: redirect.OpAllWorkers, AppID: appID}
	return redirect.Do(ctx, s.redirector, q, func(context.Context) ([]cluster.WorkerSnapshot, error) {
		return s.allWorkers(appID), nil
	})
}

// GetAllAliveWorkers returns workers inside the liveness window in registration order.
func (s *Service) GetAllAliveWorkers(ctx context.Context, appID int64) ([]cluster.WorkerSnapshot, error) {
	q := redirect.Query{Op: redirect.OpAliveWorkers, AppID: appID}
	return redirect.Do(ctx, s.redirector, q, func(context.Context) ([]cluster.WorkerSnapshot, error) {
		return s.aliveWorkers(appID), nil
	})
}

// GetWorkerInfoByAddress looks up one worker. The bool is false when the
// application or the address is unknown.
func (s *Service) GetWorkerInfoByAddress(ctx context.Context, appID int64, address string) (cluster.WorkerSnapshot, bool, error) {
	q := redirect.Query{Op: redirect.OpWorkerByAddress, AppID: appID, Address: address}
	w, err := redirect.Do(ctx, s.redirector, q, func(context.Context) (*cluster.WorkerSnapshot, error) {
		return s.workerByAddress(appID, address), nil
	})
	if err != nil || w == nil {
		return cluster.WorkerSnapshot{}, false, err
	}
	return *w, true, nil
}

// GetDeployedContainerInfos lists the workers running containerID.
func (s *Service) GetDeployedContainerInfos(ctx context.Context, appID, containerID int64) ([]cluster.DeployedContainerInfo, error) {
	q := redirect.Query{Op: redirect.OpDeployedContainers, AppID: appID, ContainerID: containerID}
	return redirect.Do(ctx, s.redirector, q, func(context.Context) ([]cluster.DeployedContainerInfo, error) {
		return s.deployedContainers(appID, containerID), nil
	})
}

// Execute answers q from the local registry. It is the receiving side of a
// forwarded query and never redirects again.
func (s *Service) Execute(ctx context.Context, q redirect.Query) (any, error) {
	switch q.Op {
	case redirect.OpSuitableWorkers:
		if err := validateJob(q.Job); err != nil {
			return nil, err
		}
		return s.suitableWorkers(q.Job)
	case redirect.OpAllWorkers:
		return s.allWorkers(q.AppID), nil
	case redirect.OpAliveWorkers:
		return s.aliveWorkers(q.AppID), nil
	case redirect.OpWorkerByAddress:
		return s.workerByAddress(q.AppID, q.Address), nil
	case redirect.OpDeployedContainers:
		return s.deployedContainers(q.AppID, q.ContainerID), nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownOp, q.Op)
	}
}

func (s *Service) holder(appID int64) (*cluster.ClusterStatusHolder, bool) {
	h, ok := s.registry.Get(appID)
	if !ok {
		log.Printf("[QUERY] WARN: no cluster status for app %d on this node", appID)
	}
	return h, ok
}

func (s *Service) suitableWorkers(job *cluster.JobInfo) ([]cluster.WorkerSnapshot, error) {
	h, ok := s.holder(job.AppID)
	if !ok {
		return []cluster.WorkerSnapshot{}, nil
	}
	eligible, err := s.chain.Apply(h.AllWorkers(), job)
	if err != nil {
		return nil, err
	}
	return selection.Select(eligible, job.MaxWorkerCount), nil
}

func (s *Service) allWorkers(appID int64) []cluster.WorkerSnapshot {
	h, ok := s.holder(appID)
	if !ok {
		return []cluster.WorkerSnapshot{}
	}
	return selection.Rank(h.AllWorkers())
}

func (s *Service) aliveWorkers(appID int64) []cluster.WorkerSnapshot {
	h, ok := s.holder(appID)
	if !ok {
		return []cluster.WorkerSnapshot{}
	}
	return h.AliveWorkers()
}

func (s *Service) workerByAddress(appID int64, address string) *cluster.WorkerSnapshot {
	h, ok := s.holder(appID)
	if !ok {
		return nil
	}
	w, ok := h.Worker(address)
	if !ok {
		return nil
	}
	return &w
}

func (s *Service) deployedContainers(appID, containerID int64) []cluster.DeployedContainerInfo {
	h, ok := s.holder(appID)
	if !ok {
		return []cluster.DeployedContainerInfo{}
	}
	return h.DeployedContainerInfos(containerID)
}

func validateJob(job *cluster.JobInfo) error {
	if job == nil {
		return fmt.Errorf("%w: job is required", ErrInvalidQuery)
	}
	if job.MaxWorkerCount < 0 {
		return fmt.Errorf("%w: max_worker_count must not be negative", ErrInvalidQuery)
	}
	return nil
}
