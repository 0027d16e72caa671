package store

import (
	"context"
	"fmt"
	"sync"
	"time"

	clientv3 "go.etcd.io/etcd/client/v3"
)

// EtcdStore implements OwnershipStore with etcd leases: the owner key is bound to a
// lease and disappears when the lease is not kept alive.
type EtcdStore struct {
	client *clientv3.Client

	mu     sync.Mutex
	leases map[int64]clientv3.LeaseID // leases this process granted for claimed apps
}

// NewEtcdStore connects to the given endpoints.
func NewEtcdStore(endpoints []string) (*EtcdStore, error) {
	client, err := clientv3.New(clientv3.Config{
		Endpoints:   endpoints,
		DialTimeout: 5 * time.Second,
	})
	if err != nil {
		return nil, err
	}
	return &EtcdStore{
		client: client,
		leases: make(map[int64]clientv3.LeaseID),
	}, nil
}

// Close closes the etcd client.
func (s *EtcdStore) Close() error {
	return s.client.Close()
}

func (s *EtcdStore) Backend() string { return "etcd" }

func ttlSeconds(ttl time.Duration) int64 {
	secs := int64(ttl / time.Second)
	if secs < 1 {
		secs = 1
	}
	return secs
}

func (s *EtcdStore) ClaimApp(ctx context.Context, appID int64, nodeID string, ttl time.Duration) (bool, error) {
	defer observe("etcd", "claim")()

	s.mu.Lock()
	_, held := s.leases[appID]
	s.mu.Unlock()
	if held {
		return s.RenewApp(ctx, appID, nodeID, ttl)
	}

	grant, err := s.client.Grant(ctx, ttlSeconds(ttl))
	if err != nil {
		return false, fmt.Errorf("grant lease for app %d: %w", appID, err)
	}

	ownerKey := etcdOwnerKey(appID)
	resp, err := s.client.Txn(ctx).
		If(clientv3.Compare(clientv3.CreateRevision(ownerKey), "=", 0)).
		Then(
			clientv3.OpPut(ownerKey, nodeID, clientv3.WithLease(grant.ID)),
			clientv3.OpPut(etcdSeenKey(appID), "1"),
		).
		Commit()
	if err != nil {
		s.client.Revoke(context.Background(), grant.ID)
		return false, fmt.Errorf("claim app %d: %w", appID, err)
	}
	if !resp.Succeeded {
		s.client.Revoke(context.Background(), grant.ID)
		return false, nil
	}

	s.mu.Lock()
	s.leases[appID] = grant.ID
	s.mu.Unlock()
	return true, nil
}

func (s *EtcdStore) RenewApp(ctx context.Context, appID int64, nodeID string, ttl time.Duration) (bool, error) {
	defer observe("etcd", "renew")()

	s.mu.Lock()
	leaseID, ok := s.leases[appID]
	s.mu.Unlock()
	if !ok {
		return false, nil
	}

	if _, err := s.client.KeepAliveOnce(ctx, leaseID); err != nil {
		// The lease is gone if the owner key no longer names us.
		rec, lookupErr := s.AppOwner(ctx, appID)
		if lookupErr == nil && rec.Owner != nodeID {
			s.forget(appID)
			return false, nil
		}
		return false, fmt.Errorf("keepalive for app %d: %w", appID, err)
	}
	return true, nil
}

func (s *EtcdStore) ReleaseApp(ctx context.Context, appID int64, nodeID string) error {
	defer observe("etcd", "release")()

	s.mu.Lock()
	leaseID, ok := s.leases[appID]
	s.mu.Unlock()
	if !ok {
		return nil
	}
	s.forget(appID)

	// Revoking the lease deletes the owner key bound to it.
	_, err := s.client.Revoke(ctx, leaseID)
	return err
}

func (s *EtcdStore) AppOwner(ctx context.Context, appID int64) (AppOwnership, error) {
	defer observe("etcd", "owner")()

	rec := AppOwnership{AppID: appID}

	owner, err := s.client.Get(ctx, etcdOwnerKey(appID))
	if err != nil {
		return rec, fmt.Errorf("lookup owner of app %d: %w", appID, err)
	}
	if len(owner.Kvs) > 0 {
		rec.Owner = string(owner.Kvs[0].Value)
		rec.Known = true
		return rec, nil
	}

	seen, err := s.client.Get(ctx, etcdSeenKey(appID), clientv3.WithCountOnly())
	if err != nil {
		return rec, fmt.Errorf("lookup app %d: %w", appID, err)
	}
	rec.Known = seen.Count > 0
	return rec, nil
}

func (s *EtcdStore) forget(appID int64) {
	s.mu.Lock()
	delete(s.leases, appID)
	s.mu.Unlock()
}
