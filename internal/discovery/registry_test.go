package discovery

import (
	"sync"
	"testing"
	"time"

	"aquaflow/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func ids(records []models.DiscoveryRecord) []string {
	out := make([]string, 0, len(records))
	for _, r := range records {
		out = append(out, r.SensorID)
	}
	return out
}

func TestTouch_CreatesThenUpdates(t *testing.T) {
	r := NewRegistry()
	t0 := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

	r.Touch("S1", 10, t0)
	r.Touch("S1", 12, t0.Add(time.Second))

	rec, ok := r.Get("S1")
	require.True(t, ok)
	assert.Equal(t, models.UncategorizedCategory, rec.SuggestedCategory)
	assert.Equal(t, t0, rec.FirstSeenAt)
	assert.Equal(t, t0.Add(time.Second), rec.LastSeenAt)
	assert.Equal(t, 12.0, rec.LastValue)
	assert.Equal(t, int64(2), rec.DataCount)

	_, ok = r.Get("missing")
	assert.False(t, ok)
}

func TestAll_NaturalOrder(t *testing.T) {
	r := NewRegistry()
	now := time.Now()
	for _, id := range []string{"S10", "S2", "S1", "T1", "S100", "S9"} {
		r.Touch(id, 1, now)
	}

	assert.Equal(t, []string{"S1", "S2", "S9", "S10", "S100", "T1"}, ids(r.All()))
	assert.Equal(t, 6, r.Len())
}

func TestListActive(t *testing.T) {
	r := NewRegistry()
	now := time.Now()
	r.TouchAll(map[string]float64{"S10": 1, "S2": 2, "S1": 3}, now)

	active := map[string]bool{"S10": true, "S1": true}
	got := r.ListActive(func(id string) bool { return active[id] })

	assert.Equal(t, []string{"S1", "S10"}, ids(got))
	assert.Empty(t, r.ListActive(func(string) bool { return false }))
	assert.Empty(t, r.ListActive(nil))
	assert.Equal(t, 3, r.Len(), "inactive sensors stay in the ledger")
}

func TestGet_ReturnsCopy(t *testing.T) {
	r := NewRegistry()
	r.Touch("S1", 1, time.Now())

	rec, _ := r.Get("S1")
	rec.DataCount = 100

	again, _ := r.Get("S1")
	assert.Equal(t, int64(1), again.DataCount)
}

func TestTouch_Concurrent(t *testing.T) {
	r := NewRegistry()
	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				r.Touch("S1", float64(j), time.Now())
			}
		}()
	}
	wg.Wait()

	rec, ok := r.Get("S1")
	require.True(t, ok)
	assert.Equal(t, int64(1000), rec.DataCount)
}
