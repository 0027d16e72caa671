// Package filter decides per-job worker eligibility.
//
// A Filter returns true to exclude a worker. A Chain evaluates its filters in order
// and stops at the first exclusion. Filters must not mutate the worker or the job.
package filter

import (
	"errors"
	"fmt"

	"github.com/itskum47/FleetForge/control_plane/cluster"
	"github.com/itskum47/FleetForge/control_plane/observability"
)

// ErrFilterFault marks a filter that could not decide.
var ErrFilterFault = errors.New("filter fault")

// Filter is one eligibility rule.
type Filter interface {
	Name() string
	Exclude(w cluster.WorkerSnapshot, job *cluster.JobInfo) (bool, error)
}

// Func adapts a plain function to the Filter interface.
type Func struct {
	FilterName string
	Fn         func(w cluster.WorkerSnapshot, job *cluster.JobInfo) (bool, error)
}

func (f Func) Name() string { return f.FilterName }

func (f Func) Exclude(w cluster.WorkerSnapshot, job *cluster.JobInfo) (bool, error) {
	return f.Fn(w, job)
}

// FaultError reports which filter failed on which worker.
type FaultError struct {
	Filter  string
	Address string
	Err     error
}

func (e *FaultError) Error() string {
	return fmt.Sprintf("filter %s failed on worker %s: %v", e.Filter, e.Address, e.Err)
}

func (e *FaultError) Unwrap() error { return e.Err }

func (e *FaultError) Is(target error) bool { return target == ErrFilterFault }

// Chain is an ordered list of filters.
type Chain []Filter

// Excludes reports whether any filter excludes the worker. Filters after the first
// exclusion are not consulted.
func (c Chain) Excludes(w cluster.WorkerSnapshot, job *cluster.JobInfo) (bool, error) {
	for _, f := range c {
		excluded, err := f.Exclude(w, job)
		if err != nil {
			observability.FilterFaults.WithLabelValues(f.Name()).Inc()
			return false, &FaultError{Filter: f.Name(), Address: w.Address, Err: err}
		}
		if excluded {
			observability.FilterExclusions.WithLabelValues(f.Name()).Inc()
			return true, nil
		}
	}
	return false, nil
}

// Apply returns the workers that survive every filter, in their original order.
func (c Chain) Apply(workers []cluster.WorkerSnapshot, job *cluster.JobInfo) ([]cluster.WorkerSnapshot, error) {
	result := make([]cluster.WorkerSnapshot, 0, len(workers))
	for _, w := range workers {
		excluded, err := c.Excludes(w, job)
		if err != nil {
			return nil, err
		}
		if !excluded {
			result = append(result, w)
		}
	}
	return result, nil
}
