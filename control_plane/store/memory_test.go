package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryStore_ClaimLifecycle(t *testing.T) {
	ctx := context.Background()
	now := time.Unix(1_700_000_000, 0)
	s := NewMemoryStore()
	s.SetClock(func() time.Time { return now })

	rec, err := s.AppOwner(ctx, 7)
	require.NoError(t, err)
	assert.False(t, rec.Known, "never claimed app should be unknown")
	assert.Empty(t, rec.Owner)

	ok, err := s.ClaimApp(ctx, 7, "node-a", 10*time.Second)
	require.NoError(t, err)
	assert.True(t, ok)

	// Reclaim by the holder succeeds, competitor is refused.
	ok, _ = s.ClaimApp(ctx, 7, "node-a", 10*time.Second)
	assert.True(t, ok)
	ok, _ = s.ClaimApp(ctx, 7, "node-b", 10*time.Second)
	assert.False(t, ok)

	rec, _ = s.AppOwner(ctx, 7)
	assert.True(t, rec.Known)
	assert.Equal(t, "node-a", rec.Owner)

	ok, _ = s.RenewApp(ctx, 7, "node-b", 10*time.Second)
	assert.False(t, ok, "non-owner cannot renew")
	ok, _ = s.RenewApp(ctx, 7, "node-a", 10*time.Second)
	assert.True(t, ok)
}

func TestMemoryStore_Expiry(t *testing.T) {
	ctx := context.Background()
	now := time.Unix(1_700_000_000, 0)
	s := NewMemoryStore()
	s.SetClock(func() time.Time { return now })

	_, err := s.ClaimApp(ctx, 1, "node-a", 5*time.Second)
	require.NoError(t, err)

	now = now.Add(5 * time.Second)

	rec, _ := s.AppOwner(ctx, 1)
	assert.True(t, rec.Known)
	assert.Empty(t, rec.Owner, "expired lease has no owner")

	ok, _ := s.RenewApp(ctx, 1, "node-a", 5*time.Second)
	assert.False(t, ok)

	ok, _ = s.ClaimApp(ctx, 1, "node-b", 5*time.Second)
	assert.True(t, ok, "expired lease can be taken over")
}

func TestMemoryStore_Release(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	_, _ = s.ClaimApp(ctx, 3, "node-a", time.Minute)
	require.NoError(t, s.ReleaseApp(ctx, 3, "node-b"))
	rec, _ := s.AppOwner(ctx, 3)
	assert.Equal(t, "node-a", rec.Owner, "release by non-owner is a no-op")

	require.NoError(t, s.ReleaseApp(ctx, 3, "node-a"))
	rec, _ = s.AppOwner(ctx, 3)
	assert.True(t, rec.Known)
	assert.Empty(t, rec.Owner)

	ok, _ := s.ClaimApp(ctx, 3, "node-b", time.Minute)
	assert.True(t, ok)
}

func TestRingStore_DeterministicOwner(t *testing.T) {
	ctx := context.Background()
	nodes := []string{"http://a:8080", "http://b:8080", "http://c:8080"}
	r1 := NewRingStore(nodes)
	r2 := NewRingStore(nodes)

	for appID := int64(0); appID < 50; appID++ {
		o1, err := r1.AppOwner(ctx, appID)
		require.NoError(t, err)
		o2, _ := r2.AppOwner(ctx, appID)
		assert.Equal(t, o1.Owner, o2.Owner)
		assert.True(t, o1.Known)
		assert.Contains(t, nodes, o1.Owner)

		for _, n := range nodes {
			ok, _ := r1.ClaimApp(ctx, appID, n, time.Second)
			assert.Equal(t, n == o1.Owner, ok)
		}
	}
}

func TestRingStore_Empty(t *testing.T) {
	rec, err := NewRingStore(nil).AppOwner(context.Background(), 1)
	require.NoError(t, err)
	assert.Empty(t, rec.Owner)
}
