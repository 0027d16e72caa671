package coordination

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/itskum47/FleetForge/control_plane/cluster"
)

func TestLivenessMonitor_Sweep(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	reg := cluster.NewRegistry(cluster.WithWorkerTimeout(time.Minute), cluster.WithClock(func() time.Time { return now }))

	reg.Ingest(cluster.NewWorkerSnapshot(1, "w-fresh", cluster.SystemMetrics{}, now, nil))
	reg.Ingest(cluster.NewWorkerSnapshot(1, "w-dead", cluster.SystemMetrics{}, now.Add(-2*time.Minute), nil))
	reg.Ingest(cluster.NewWorkerSnapshot(2, "w-ancient", cluster.SystemMetrics{}, now.Add(-time.Hour), nil))

	report := NewLivenessMonitor(reg, time.Second, 0).Sweep()
	assert.Equal(t, LivenessReport{Apps: 2, Alive: 1, Dead: 2}, report)

	h, _ := reg.Get(2)
	assert.Equal(t, 1, h.Len(), "no retention keeps dead workers listed")
}

func TestLivenessMonitor_PurgesPastRetention(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	reg := cluster.NewRegistry(cluster.WithWorkerTimeout(time.Minute), cluster.WithClock(func() time.Time { return now }))

	reg.Ingest(cluster.NewWorkerSnapshot(1, "w-fresh", cluster.SystemMetrics{}, now, nil))
	reg.Ingest(cluster.NewWorkerSnapshot(1, "w-dead", cluster.SystemMetrics{}, now.Add(-2*time.Minute), nil))
	reg.Ingest(cluster.NewWorkerSnapshot(1, "w-ancient", cluster.SystemMetrics{}, now.Add(-time.Hour), nil))

	monitor := NewLivenessMonitor(reg, time.Second, 10*time.Minute)
	var forgotten []string
	monitor.SetOnPurge(func(appID int64, address string) {
		forgotten = append(forgotten, fmt.Sprintf("%d/%s", appID, address))
	})

	report := monitor.Sweep()
	assert.Equal(t, 1, report.Purged)
	assert.Equal(t, []string{"1/w-ancient"}, forgotten)
	assert.Equal(t, 1, report.Alive)
	assert.Equal(t, 1, report.Dead)

	h, ok := reg.Get(1)
	assert.True(t, ok, "holder survives purge")
	_, found := h.Worker("w-ancient")
	assert.False(t, found)
}
