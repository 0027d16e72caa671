package redirect

import (
	"context"
	"fmt"

	"github.com/itskum47/FleetForge/control_plane/store"
)

// LeaseResolver resolves owners from the ownership store.
//
// An application no node has ever claimed resolves to Self, so queries for it
// are answered locally with an empty result. A claimed application whose lease
// has lapsed yields ErrNoOwner.
type LeaseResolver struct {
	Store store.OwnershipStore
	Self  string
}

func (r *LeaseResolver) ResolveOwner(ctx context.Context, appID int64) (string, error) {
	rec, err := r.Store.AppOwner(ctx, appID)
	if err != nil {
		return "", fmt.Errorf("resolve owner of app %d: %w", appID, err)
	}
	if !rec.Known {
		return r.Self, nil
	}
	if rec.Owner == "" {
		return "", ErrNoOwner
	}
	return rec.Owner, nil
}

// StaticResolver maps every application to the same node. Useful for single-node
// deployments and tests.
type StaticResolver string

func (s StaticResolver) ResolveOwner(ctx context.Context, appID int64) (string, error) {
	return string(s), nil
}
