package heartbeat

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/itskum47/FleetForge/control_plane/cluster"
	"github.com/itskum47/FleetForge/control_plane/coordination"
	"github.com/itskum47/FleetForge/control_plane/store"
)

func newRegistry(now *time.Time) *cluster.Registry {
	return cluster.NewRegistry(cluster.WithClock(func() time.Time { return *now }))
}

func TestIngest_RecordsReceiveTime(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	reg := newRegistry(&now)
	in := NewIngestor(reg, nil, nil)

	hb := Heartbeat{
		AppID:         1,
		WorkerAddress: "10.0.0.1:7000",
		SystemMetrics: cluster.SystemMetrics{CPUProcessors: 4, MemoryMaxGB: 8},
		Containers:    []cluster.DeployedContainer{{ContainerID: 5, Version: "v1"}},
		Tag:           "gpu",
		Overloading:   true,
	}
	require.NoError(t, in.Ingest(context.Background(), hb))

	h, ok := reg.Get(1)
	require.True(t, ok)
	w, ok := h.Worker("10.0.0.1:7000")
	require.True(t, ok)
	assert.Equal(t, now, w.LastContact)
	assert.Equal(t, "gpu", w.Tag)
	assert.True(t, w.Overloading)
	assert.Len(t, w.Containers, 1)

	// Mutating the heartbeat afterwards must not leak into the registry.
	hb.Containers[0].Version = "v2"
	w, _ = h.Worker("10.0.0.1:7000")
	assert.Equal(t, "v1", w.Containers[0].Version)
}

func TestIngest_Invalid(t *testing.T) {
	now := time.Now()
	in := NewIngestor(newRegistry(&now), nil, nil)

	cases := []Heartbeat{
		{AppID: 0, WorkerAddress: "a"},
		{AppID: 1, WorkerAddress: "  "},
		{AppID: 1, WorkerAddress: "a", SystemMetrics: cluster.SystemMetrics{MemoryMaxGB: -1}},
	}
	for _, hb := range cases {
		assert.ErrorIs(t, in.Ingest(context.Background(), hb), ErrInvalid)
	}
}

func TestIngest_RateLimitedPerWorker(t *testing.T) {
	now := time.Now()
	in := NewIngestor(newRegistry(&now), nil, NewTokenBucketLimiter(0.001, 1))

	require.NoError(t, in.Ingest(context.Background(), Heartbeat{AppID: 1, WorkerAddress: "a"}))
	assert.ErrorIs(t, in.Ingest(context.Background(), Heartbeat{AppID: 1, WorkerAddress: "a"}), ErrRateLimited)
	assert.NoError(t, in.Ingest(context.Background(), Heartbeat{AppID: 1, WorkerAddress: "b"}), "buckets are per worker")
}

func TestIngest_PurgedWorkerReleasesBucket(t *testing.T) {
	ctx := context.Background()
	now := time.Unix(1_700_000_000, 0)
	reg := newRegistry(&now)
	limiter := NewTokenBucketLimiter(0.001, 1)
	in := NewIngestor(reg, nil, limiter)

	require.NoError(t, in.Ingest(ctx, Heartbeat{AppID: 1, WorkerAddress: "a"}))
	now = now.Add(2 * time.Hour)
	require.NoError(t, in.Ingest(ctx, Heartbeat{AppID: 1, WorkerAddress: "b"}))
	require.Equal(t, 2, limiter.Len())

	monitor := coordination.NewLivenessMonitor(reg, time.Second, time.Hour)
	monitor.SetOnPurge(in.Forget)
	assert.Equal(t, 1, monitor.Sweep().Purged)
	assert.Equal(t, 1, limiter.Len(), "purged worker keeps no bucket")

	assert.NoError(t, in.Ingest(ctx, Heartbeat{AppID: 1, WorkerAddress: "a"}), "returning worker starts with a full bucket")
}

func TestIngest_NotOwner(t *testing.T) {
	ctx := context.Background()
	now := time.Now()
	s := store.NewMemoryStore()

	regA := newRegistry(&now)
	regB := newRegistry(&now)
	a := NewIngestor(regA, coordination.NewOwnershipManager(s, "http://a", time.Minute), nil)
	b := NewIngestor(regB, coordination.NewOwnershipManager(s, "http://b", time.Minute), nil)

	require.NoError(t, a.Ingest(ctx, Heartbeat{AppID: 7, WorkerAddress: "w1"}))

	err := b.Ingest(ctx, Heartbeat{AppID: 7, WorkerAddress: "w2"})
	require.ErrorIs(t, err, ErrNotOwner)
	var notOwner *NotOwnerError
	require.ErrorAs(t, err, &notOwner)
	assert.Equal(t, "http://a", notOwner.Owner)

	_, ok := regB.Get(7)
	assert.False(t, ok, "rejected heartbeat must not create a holder")
}
