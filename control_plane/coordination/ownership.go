package coordination

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"

	"golang.org/x/exp/slices"

	"github.com/itskum47/FleetForge/control_plane/observability"
	"github.com/itskum47/FleetForge/control_plane/store"
	"github.com/itskum47/FleetForge/control_plane/streaming"
)

// ErrOwnerUnknown is returned when a claim fails but no other owner is visible,
// which happens when a lease lapses between the two calls.
var ErrOwnerUnknown = errors.New("application owner unknown")

// DefaultLeaseTTL is how long an application lease lasts without renewal.
const DefaultLeaseTTL = 15 * time.Second

// OwnershipManager claims applications for this node and keeps their leases alive.
//
// An application is claimed on the first heartbeat this node receives for it.
// Held leases are renewed every ttl/3; after maxRenewFailures consecutive errors
// on one application the node steps down from it. A lease not renewed within ttl
// is never trusted, whatever the failure count, since another node may already
// have claimed it.
type OwnershipManager struct {
	store  store.OwnershipStore
	nodeID string
	ttl    time.Duration

	now    func() time.Time

	mu       sync.RWMutex
	held     map[int64]time.Time // appID -> acquired at
	renewed  map[int64]time.Time // appID -> start of the last successful claim or renew
	failures map[int64]int

	// Callbacks
	onLost    func(appID int64)
	publisher streaming.Publisher

	transitions int64
	cancel      context.CancelFunc
}

// OwnershipState is the manager's view for the dashboard.
type OwnershipState struct {
	NodeID      string  `json:"node_id"`
	Backend     string  `json:"backend"`
	OwnedApps   []int64 `json:"owned_apps"`
	Transitions int64   `json:"transitions"`
}

const maxRenewFailures = 3

func NewOwnershipManager(s store.OwnershipStore, nodeID string, ttl time.Duration) *OwnershipManager {
	if ttl <= 0 {
		ttl = DefaultLeaseTTL
	}
	return &OwnershipManager{
		store:    s,
		nodeID:   nodeID,
		ttl:      ttl,
		now:      time.Now,
		held:     make(map[int64]time.Time),
		renewed:  make(map[int64]time.Time),
		failures: make(map[int64]int),
	}
}

// SetOnLost registers a callback run when this node loses an application.
func (m *OwnershipManager) SetOnLost(fn func(appID int64)) {
	m.onLost = fn
}

// SetPublisher sends every ownership transition to p.
func (m *OwnershipManager) SetPublisher(p streaming.Publisher) {
	m.publisher = p
}

// NodeID returns this node's id.
func (m *OwnershipManager) NodeID() string {
	return m.nodeID
}

// Ensure returns the owner of appID, claiming it for this node if it is free.
func (m *OwnershipManager) Ensure(ctx context.Context, appID int64) (string, error) {
	held, fresh := m.lease(appID)
	if fresh {
		return m.nodeID, nil
	}
	if held {
		m.stepDown(appID, "expired")
	}

	start := m.now()
	acquired, err := m.store.ClaimApp(ctx, appID, m.nodeID, m.ttl)
	if err != nil {
		return "", err
	}
	if acquired {
		m.acquire(appID, start)
		return m.nodeID, nil
	}

	rec, err := m.store.AppOwner(ctx, appID)
	if err != nil {
		return "", err
	}
	if rec.Owner == "" {
		return "", ErrOwnerUnknown
	}
	return rec.Owner, nil
}

// Holds reports whether this node currently owns appID with a lease that has not
// lapsed.
func (m *OwnershipManager) Holds(appID int64) bool {
	_, fresh := m.lease(appID)
	return fresh
}

// lease reports whether appID is in the held set and whether its last successful
// renew is still within ttl.
func (m *OwnershipManager) lease(appID int64) (held, fresh bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if _, held = m.held[appID]; !held {
		return false, false
	}
	return true, m.now().Sub(m.renewed[appID]) < m.ttl
}

// Held returns the owned application ids, sorted.
func (m *OwnershipManager) Held() []int64 {
	m.mu.RLock()
	defer m.mu.RUnlock()

	ids := make([]int64, 0, len(m.held))
	for id := range m.held {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}

// GetState returns the internal state for the dashboard.
func (m *OwnershipManager) GetState() OwnershipState {
	held := m.Held()
	m.mu.RLock()
	defer m.mu.RUnlock()
	return OwnershipState{
		NodeID:      m.nodeID,
		Backend:     m.store.Backend(),
		OwnedApps:   held,
		Transitions: m.transitions,
	}
}

func (m *OwnershipManager) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	m.mu.Lock()
	m.cancel = cancel
	m.mu.Unlock()
	go m.loop(ctx)
}

// Stop ends the renew loop and releases every held lease.
func (m *OwnershipManager) Stop() {
	m.mu.RLock()
	cancel := m.cancel
	m.mu.RUnlock()
	if cancel != nil {
		cancel()
	}
	m.releaseAll()
}

func (m *OwnershipManager) loop(ctx context.Context) {
	interval := m.ttl / 3
	minInterval := m.ttl / 3
	maxInterval := m.ttl / 2 // retry before the lease lapses

	timer := time.NewTimer(interval)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
			err := m.RenewAll(ctx)

			// Backoff Logic
			if err != nil {
				interval *= 2
				if interval > maxInterval {
					interval = maxInterval
				}
				log.Printf("[OWNERSHIP] Renew errors, backing off for %v", interval)
			} else {
				interval = minInterval
			}

			timer.Reset(interval)
		}
	}
}

// RenewAll extends every held lease once. It returns the last renew error seen.
func (m *OwnershipManager) RenewAll(ctx context.Context) error {
	var lastErr error
	for _, appID := range m.Held() {
		start := m.now()
		renewed, err := m.store.RenewApp(ctx, appID, m.nodeID, m.ttl)
		if err != nil {
			lastErr = err
			m.mu.Lock()
			m.failures[appID]++
			n := m.failures[appID]
			m.mu.Unlock()

			log.Printf("[OWNERSHIP] Renew of app %d failed (%d/%d): %v", appID, n, maxRenewFailures, err)
			if _, fresh := m.lease(appID); !fresh {
				log.Printf("[OWNERSHIP] Lease of app %d lapsed without renewal. Stepping down.", appID)
				m.stepDown(appID, "expired")
			} else if n >= maxRenewFailures {
				log.Printf("[OWNERSHIP] Too many renew failures for app %d. Stepping down for safety.", appID)
				m.stepDown(appID, "lost")
			}
			continue
		}

		m.mu.Lock()
		delete(m.failures, appID)
		if renewed {
			if _, ok := m.held[appID]; ok {
				m.renewed[appID] = start
			}
		}
		m.mu.Unlock()
		if !renewed {
			m.stepDown(appID, "lost")
		}
	}
	return lastErr
}

func (m *OwnershipManager) acquire(appID int64, claimedAt time.Time) {
	m.mu.Lock()
	m.renewed[appID] = claimedAt
	if _, ok := m.held[appID]; ok {
		m.mu.Unlock()
		return
	}
	m.held[appID] = m.now()
	m.transitions++
	n := len(m.held)
	m.mu.Unlock()

	observability.OwnershipTransitions.WithLabelValues("acquired").Inc()
	observability.OwnedApps.Set(float64(n))
	log.Printf("[OWNERSHIP] Node %s acquired app %d (%s)", m.nodeID, appID, m.store.Backend())
	m.publish(appID, "acquired")
}

func (m *OwnershipManager) stepDown(appID int64, event string) {
	m.mu.Lock()
	acquiredAt, ok := m.held[appID]
	if !ok {
		m.mu.Unlock()
		return
	}
	delete(m.held, appID)
	delete(m.renewed, appID)
	delete(m.failures, appID)
	m.transitions++
	n := len(m.held)
	m.mu.Unlock()

	observability.OwnershipTransitions.WithLabelValues(event).Inc()
	observability.OwnedApps.Set(float64(n))
	log.Printf("[OWNERSHIP] Node %s %s app %d after %v", m.nodeID, event, appID, m.now().Sub(acquiredAt).Round(time.Second))

	m.publish(appID, event)

	if event != "released" && m.onLost != nil {
		m.onLost(appID)
	}
}

func (m *OwnershipManager) publish(appID int64, event string) {
	if m.publisher == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	err := m.publisher.Publish(ctx, streaming.TopicOwnership, streaming.OwnershipEvent{
		AppID:  appID,
		NodeID: m.nodeID,
		Event:  event,
	})
	if err != nil {
		log.Printf("[OWNERSHIP] Publish %s for app %d failed: %v", event, appID, err)
	}
}

func (m *OwnershipManager) releaseAll() {
	// Use a fresh timeout context, ignoring outer context cancellation
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	for _, appID := range m.Held() {
		if err := m.store.ReleaseApp(ctx, appID, m.nodeID); err != nil {
			log.Printf("[OWNERSHIP] Release of app %d failed: %v", appID, err)
		}
		m.stepDown(appID, "released")
	}
}
