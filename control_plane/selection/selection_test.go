package selection

import (
	"fmt"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/itskum47/FleetForge/control_plane/cluster"
)

func w(addr string, score int) cluster.WorkerSnapshot {
	return cluster.WorkerSnapshot{Address: addr, Metrics: cluster.SystemMetrics{Score: score}}
}

func addresses(ws []cluster.WorkerSnapshot) []string {
	out := make([]string, len(ws))
	for i, x := range ws {
		out[i] = x.Address
	}
	return out
}

func TestRankDescendingWithStableTies(t *testing.T) {
	in := []cluster.WorkerSnapshot{w("c", 50), w("t1", 70), w("a", 90), w("t2", 70), w("t3", 70)}

	ranked := Rank(in)
	assert.Equal(t, []string{"a", "t1", "t2", "t3", "c"}, addresses(ranked))
	assert.Equal(t, "c", in[0].Address, "input must not be reordered")
}

func TestTruncate(t *testing.T) {
	in := []cluster.WorkerSnapshot{w("a", 3), w("b", 2), w("c", 1)}

	assert.Len(t, Truncate(in, 0), 3)
	assert.Len(t, Truncate(in, 5), 3)
	assert.Equal(t, []string{"a", "b"}, addresses(Truncate(in, 2)))
	assert.Empty(t, Truncate(nil, 2))
}

func TestSelectScenario(t *testing.T) {
	in := []cluster.WorkerSnapshot{w("C", 50), w("A", 90), w("B", 70)}
	assert.Equal(t, []string{"A", "B"}, addresses(Select(in, 2)))
}

func TestSelectProperties(t *testing.T) {
	rng := rand.New(rand.NewSource(7))

	for round := 0; round < 50; round++ {
		n := rng.Intn(20)
		in := make([]cluster.WorkerSnapshot, n)
		for i := range in {
			in[i] = w(fmt.Sprintf("w%d", i), rng.Intn(10)+1)
		}

		assert.Len(t, Select(in, 0), n, "limit 0 never truncates")

		k := rng.Intn(5) + 1
		out := Select(in, k)
		require.LessOrEqual(t, len(out), k)

		ranked := Rank(in)
		for _, kept := range out {
			for _, dropped := range ranked[len(out):] {
				assert.GreaterOrEqual(t, kept.Score(), dropped.Score())
			}
		}
	}
}
