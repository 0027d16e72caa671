// Package selection ranks and bounds candidate worker lists.
// It knows nothing about liveness or eligibility; callers filter first.
package selection

import (
	"cmp"

	"golang.org/x/exp/slices"

	"github.com/itskum47/FleetForge/control_plane/cluster"
)

type scored struct {
	worker cluster.WorkerSnapshot
	score  int
	index  int
}

// Rank returns a new slice sorted by score, highest first.
// Equal scores keep their original enumeration order; the index comparison makes
// that explicit instead of leaning on sort stability.
func Rank(workers []cluster.WorkerSnapshot) []cluster.WorkerSnapshot {
	items := make([]scored, len(workers))
	for i, w := range workers {
		items[i] = scored{worker: w, score: w.Score(), index: i}
	}

	slices.SortStableFunc(items, func(a, b scored) int {
		if c := cmp.Compare(b.score, a.score); c != 0 {
			return c
		}
		return cmp.Compare(a.index, b.index)
	})

	ranked := make([]cluster.WorkerSnapshot, len(items))
	for i, it := range items {
		ranked[i] = it.worker
	}
	return ranked
}

// Truncate keeps the first limit workers. A limit of 0 means unlimited.
func Truncate(workers []cluster.WorkerSnapshot, limit int) []cluster.WorkerSnapshot {
	if limit <= 0 || len(workers) <= limit {
		return workers
	}
	return workers[:limit:limit]
}

// Select ranks the workers and bounds the result to limit.
func Select(workers []cluster.WorkerSnapshot, limit int) []cluster.WorkerSnapshot {
	return Truncate(Rank(workers), limit)
}
