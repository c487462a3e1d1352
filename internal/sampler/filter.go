package sampler

import (
	"sort"
	"time"

	"aquaflow/internal/models"
)

// selectReadings applies filter to snap and stamps every row with tickID and tickAt.
// Only readings the snapshot reports active are copied. With the "all" filter each
// sensor is emitted once: typed buckets first, then sensors that only exist in generic.
func selectReadings(snap models.Snapshot, filter models.CategoryFilter, tickID string, userID int64, tickAt time.Time) []models.SampledReading {
	var rows []models.SampledReading
	emit := func(b models.Bucket, id string, r models.SensorReading) {
		rows = append(rows, models.SampledReading{
			TickID:     tickID,
			UserID:     userID,
			Category:   b,
			SensorID:   id,
			Value:      r.Value,
			ReceivedAt: r.ReceivedAt,
			SampledAt:  tickAt,
		})
	}

	if filter.All {
		seen := make(map[string]struct{})
		for _, b := range models.TypedBuckets {
			readings := snap.Bucket(b)
			for _, id := range sortedIDs(readings) {
				if r := readings[id]; r.Status == models.StatusActive {
					emit(b, id, r)
					seen[id] = struct{}{}
				}
			}
		}
		generic := snap.Bucket(models.BucketGeneric)
		for _, id := range sortedIDs(generic) {
			if _, dup := seen[id]; dup {
				continue
			}
			if r := generic[id]; r.Status == models.StatusActive {
				emit(models.BucketGeneric, id, r)
			}
		}
		return rows
	}

	for _, b := range filter.Buckets() {
		sel := filter.Categories[b]
		readings := snap.Bucket(b)

		ids := sel.SensorIDs
		if sel.All {
			ids = sortedIDs(readings)
		}
		for _, id := range ids {
			if r, ok := readings[id]; ok && r.Status == models.StatusActive {
				emit(b, id, r)
			}
		}
	}
	return rows
}

func sortedIDs(readings map[string]models.SensorReading) []string {
	ids := make([]string, 0, len(readings))
	for id := range readings {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
