package store

import (
	"fmt"
)

// AppOwnerKey is the leased key naming the node that owns an application.
// Format: fleetforge:apps:{appID}:owner
func AppOwnerKey(appID int64) string {
	return fmt.Sprintf("fleetforge:apps:%d:owner", appID)
}

// AppSeenKey is a persistent marker set the first time an application is claimed.
// Format: fleetforge:apps:{appID}:seen
func AppSeenKey(appID int64) string {
	return fmt.Sprintf("fleetforge:apps:%d:seen", appID)
}

// etcdOwnerKey and etcdSeenKey mirror the Redis layout in etcd's path style.
func etcdOwnerKey(appID int64) string {
	return fmt.Sprintf("/fleetforge/apps/%d/owner", appID)
}

func etcdSeenKey(appID int64) string {
	return fmt.Sprintf("/fleetforge/apps/%d/seen", appID)
}
