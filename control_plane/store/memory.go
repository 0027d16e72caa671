package store

import (
	"context"
	"sync"
	"time"
)

type memoryLease struct {
	owner     string
	expiresAt time.Time
}

// MemoryStore keeps ownership leases in process memory.
// It is only safe for single-node deployments and tests.
type MemoryStore struct {
	mu     sync.RWMutex
	leases map[int64]*memoryLease
	now    func() time.Time
}

// NewMemoryStore initializes a new MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		leases: make(map[int64]*memoryLease),
		now:    time.Now,
	}
}

// SetClock replaces time.Now for lease expiry checks.
func (s *MemoryStore) SetClock(now func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = now
}

func (s *MemoryStore) Backend() string { return "memory" }

func (s *MemoryStore) ClaimApp(ctx context.Context, appID int64, nodeID string, ttl time.Duration) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	lease, ok := s.leases[appID]
	if ok && lease.owner != "" && lease.owner != nodeID && now.Before(lease.expiresAt) {
		return false, nil
	}
	s.leases[appID] = &memoryLease{owner: nodeID, expiresAt: now.Add(ttl)}
	return true, nil
}

func (s *MemoryStore) RenewApp(ctx context.Context, appID int64, nodeID string, ttl time.Duration) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	lease, ok := s.leases[appID]
	if !ok || lease.owner != nodeID || !now.Before(lease.expiresAt) {
		return false, nil
	}
	lease.expiresAt = now.Add(ttl)
	return true, nil
}

func (s *MemoryStore) ReleaseApp(ctx context.Context, appID int64, nodeID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if lease, ok := s.leases[appID]; ok && lease.owner == nodeID {
		lease.owner = ""
	}
	return nil
}

func (s *MemoryStore) AppOwner(ctx context.Context, appID int64) (AppOwnership, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	lease, ok := s.leases[appID]
	if !ok {
		return AppOwnership{AppID: appID}, nil
	}
	rec := AppOwnership{AppID: appID, Known: true, ExpiresAt: lease.expiresAt}
	if s.now().Before(lease.expiresAt) {
		rec.Owner = lease.owner
	}
	return rec, nil
}
