package store

import (
	"context"
	"time"
)

// OwnershipStore records which server node is authoritative for each application.
// It abstracts over Redis, Postgres and etcd (shared, leased) and the in-process
// memory and static ring variants.
type OwnershipStore interface {
	// ClaimApp makes nodeID the owner if the application is unowned, its lease has
	// expired, or nodeID already holds it. Returns false if another node owns it.
	ClaimApp(ctx context.Context, appID int64, nodeID string, ttl time.Duration) (bool, error)

	// RenewApp extends a held lease. Returns false if nodeID no longer owns the app.
	RenewApp(ctx context.Context, appID int64, nodeID string, ttl time.Duration) (bool, error)

	// ReleaseApp gives up ownership if held by nodeID.
	ReleaseApp(ctx context.Context, appID int64, nodeID string) error

	// AppOwner returns the current ownership record.
	AppOwner(ctx context.Context, appID int64) (AppOwnership, error)

	// Backend names the implementation for logs and metrics.
	Backend() string
}
