package coordination

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/itskum47/FleetForge/control_plane/store"
	"github.com/itskum47/FleetForge/control_plane/streaming"
)

// flakyStore fails renewals on demand.
type flakyStore struct {
	*store.MemoryStore
	renewErr error
}

func (f *flakyStore) RenewApp(ctx context.Context, appID int64, nodeID string, ttl time.Duration) (bool, error) {
	if f.renewErr != nil {
		return false, f.renewErr
	}
	return f.MemoryStore.RenewApp(ctx, appID, nodeID, ttl)
}

// recordingPublisher keeps every published ownership event.
type recordingPublisher struct {
	mu     sync.Mutex
	events []streaming.OwnershipEvent
}

func (p *recordingPublisher) Publish(_ context.Context, topic string, payload any) error {
	if topic != streaming.TopicOwnership {
		return errors.New("unexpected topic " + topic)
	}
	p.mu.Lock()
	p.events = append(p.events, payload.(streaming.OwnershipEvent))
	p.mu.Unlock()
	return nil
}

func (p *recordingPublisher) Close() error { return nil }

func TestOwnershipManager_EnsureClaimsFreeApp(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemoryStore()
	a := NewOwnershipManager(s, "http://a", time.Minute)
	b := NewOwnershipManager(s, "http://b", time.Minute)

	owner, err := a.Ensure(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, "http://a", owner)
	assert.True(t, a.Holds(1))

	owner, err = b.Ensure(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, "http://a", owner, "second node learns the existing owner")
	assert.False(t, b.Holds(1))

	assert.Equal(t, []int64{1}, a.Held())
	assert.Empty(t, b.Held())
}

func TestOwnershipManager_StepsDownWhenLeaseTaken(t *testing.T) {
	ctx := context.Background()
	now := time.Unix(1_700_000_000, 0)
	s := store.NewMemoryStore()
	s.SetClock(func() time.Time { return now })

	a := NewOwnershipManager(s, "http://a", 10*time.Second)
	var lost []int64
	a.SetOnLost(func(appID int64) { lost = append(lost, appID) })

	_, err := a.Ensure(ctx, 3)
	require.NoError(t, err)

	// Lease lapses and another node takes over before a renews.
	now = now.Add(11 * time.Second)
	ok, err := s.ClaimApp(ctx, 3, "http://b", 10*time.Second)
	require.NoError(t, err)
	require.True(t, ok)

	require.NoError(t, a.RenewAll(ctx))
	assert.False(t, a.Holds(3))
	assert.Equal(t, []int64{3}, lost)
}

func TestOwnershipManager_StepsDownAfterRepeatedErrors(t *testing.T) {
	ctx := context.Background()
	s := &flakyStore{MemoryStore: store.NewMemoryStore()}
	a := NewOwnershipManager(s, "http://a", time.Minute)

	_, err := a.Ensure(ctx, 9)
	require.NoError(t, err)

	s.renewErr = errors.New("store down")
	for i := 0; i < maxRenewFailures-1; i++ {
		assert.Error(t, a.RenewAll(ctx))
		assert.True(t, a.Holds(9), "transient errors keep the lease")
	}
	assert.Error(t, a.RenewAll(ctx))
	assert.False(t, a.Holds(9))
}

func TestOwnershipManager_LapsedLeaseIsNotTrusted(t *testing.T) {
	ctx := context.Background()
	now := time.Unix(1_700_000_000, 0)
	clock := func() time.Time { return now }
	mem := store.NewMemoryStore()
	mem.SetClock(clock)
	s := &flakyStore{MemoryStore: mem}

	a := NewOwnershipManager(s, "http://a", 10*time.Second)
	a.now = clock
	b := NewOwnershipManager(mem, "http://b", 10*time.Second)
	b.now = clock
	var lost []int64
	a.SetOnLost(func(appID int64) { lost = append(lost, appID) })

	owner, err := a.Ensure(ctx, 4)
	require.NoError(t, err)
	require.Equal(t, "http://a", owner)

	// One failed renew inside the lease keeps it
	s.renewErr = errors.New("store down")
	now = now.Add(4 * time.Second)
	assert.Error(t, a.RenewAll(ctx))
	assert.True(t, a.Holds(4))

	// Past the ttl the lease is gone in the store and b takes the app
	now = now.Add(7 * time.Second)
	assert.False(t, a.Holds(4), "lapsed lease is not held even before the failure limit")
	owner, err = b.Ensure(ctx, 4)
	require.NoError(t, err)
	require.Equal(t, "http://b", owner)

	// a now redirects heartbeats to b instead of accepting them
	owner, err = a.Ensure(ctx, 4)
	require.NoError(t, err)
	assert.Equal(t, "http://b", owner)
	assert.Empty(t, a.Held())
	assert.Equal(t, []int64{4}, lost)
}

func TestOwnershipManager_RenewStepsDownOnLapse(t *testing.T) {
	ctx := context.Background()
	now := time.Unix(1_700_000_000, 0)
	clock := func() time.Time { return now }
	mem := store.NewMemoryStore()
	mem.SetClock(clock)
	s := &flakyStore{MemoryStore: mem}

	a := NewOwnershipManager(s, "http://a", 10*time.Second)
	a.now = clock

	_, err := a.Ensure(ctx, 6)
	require.NoError(t, err)

	s.renewErr = errors.New("store down")
	now = now.Add(10 * time.Second)
	assert.Error(t, a.RenewAll(ctx))
	assert.Empty(t, a.Held(), "first failure after the lease lapsed steps down")
}

func TestOwnershipManager_StopReleases(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemoryStore()
	a := NewOwnershipManager(s, "http://a", time.Minute)
	a.Start(ctx)

	_, err := a.Ensure(ctx, 1)
	require.NoError(t, err)
	_, err = a.Ensure(ctx, 2)
	require.NoError(t, err)

	a.Stop()
	assert.Empty(t, a.Held())

	for _, id := range []int64{1, 2} {
		rec, err := s.AppOwner(ctx, id)
		require.NoError(t, err)
		assert.True(t, rec.Known)
		assert.Empty(t, rec.Owner)
	}

	state := a.GetState()
	assert.Equal(t, "memory", state.Backend)
	assert.EqualValues(t, 4, state.Transitions)
}

func TestOwnershipManager_RingPlacement(t *testing.T) {
	ctx := context.Background()
	ring := store.NewRingStore([]string{"http://a", "http://b"})
	a := NewOwnershipManager(ring, "http://a", time.Minute)

	for appID := int64(0); appID < 20; appID++ {
		want, _ := ring.AppOwner(ctx, appID)
		owner, err := a.Ensure(ctx, appID)
		require.NoError(t, err)
		assert.Equal(t, want.Owner, owner)
		assert.Equal(t, want.Owner == "http://a", a.Holds(appID))
	}
}

func TestOwnershipManager_PublishesTransitions(t *testing.T) {
	ctx := context.Background()
	pub := &recordingPublisher{}
	m := NewOwnershipManager(store.NewMemoryStore(), "http://a", time.Minute)
	m.SetPublisher(pub)

	_, err := m.Ensure(ctx, 5)
	require.NoError(t, err)
	_, err = m.Ensure(ctx, 5)
	require.NoError(t, err)
	m.Stop()

	require.Len(t, pub.events, 2)
	assert.Equal(t, streaming.OwnershipEvent{AppID: 5, NodeID: "http://a", Event: "acquired"}, pub.events[0])
	assert.Equal(t, "released", pub.events[1].Event)
}
