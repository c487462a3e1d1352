package consumer

import (
	"testing"
	"time"

	"aquaflow/internal/discovery"
	"aquaflow/internal/livecache"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestHub_ListActiveSensors(t *testing.T) {
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	clock := func() time.Time { return now }
	cache := livecache.New(livecache.WithClock(clock))
	registry := discovery.NewRegistry()
	router := NewRouter(DefaultTopics(), cache, registry, nil, nil, zap.NewNop())
	hub := NewHub(cache, registry)

	require.NoError(t, router.HandleMessage("sensors/data", []byte(`{"S10": 1, "S2": 2}`)))
	now = now.Add(6 * time.Second)
	require.NoError(t, router.HandleMessage("sensors/temperature", []byte(`{"S1": 20}`)))
	now = now.Add(3 * time.Second)

	var active []string
	for _, rec := range hub.ListActiveSensors() {
		active = append(active, rec.SensorID)
	}
	assert.Equal(t, []string{"S1"}, active, "S2 and S10 are older than the active timeout")

	var all []string
	for _, rec := range hub.Sensors() {
		all = append(all, rec.SensorID)
	}
	assert.Equal(t, []string{"S1", "S2", "S10"}, all)

	assert.Len(t, hub.Snapshot().Bucket("generic"), 3)
}
