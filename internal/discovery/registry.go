// Package discovery keeps a ledger of every sensor ID the service ever accepted.
// Records survive inactivity; only the process lifetime bounds them.
package discovery

import (
	"sort"
	"sync"
	"time"

	"aquaflow/internal/models"
)

// Registry discovery ledger
type Registry struct {
	mu      sync.Mutex
	records map[string]*models.DiscoveryRecord
}

// NewRegistry creates an empty registry
func NewRegistry() *Registry {
	return &Registry{records: make(map[string]*models.DiscoveryRecord)}
}

// Touch records one accepted value for sensorID. The first call creates the record,
// later calls only move lastSeenAt, lastValue and dataCount.
func (r *Registry) Touch(sensorID string, value float64, at time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec, ok := r.records[sensorID]
	if !ok {
		r.records[sensorID] = &models.DiscoveryRecord{
			SensorID:          sensorID,
			SuggestedCategory: models.UncategorizedCategory,
			FirstSeenAt:       at,
			LastSeenAt:        at,
			LastValue:         value,
			DataCount:         1,
		}
		return
	}

	if at.After(rec.LastSeenAt) {
		rec.LastSeenAt = at
	}
	rec.LastValue = value
	rec.DataCount++
}

// TouchAll records every value of one message under the same timestamp
func (r *Registry) TouchAll(values map[string]float64, at time.Time) {
	for id, v := range values {
		r.Touch(id, v, at)
	}
}

// Get returns a copy of the record for sensorID
func (r *Registry) Get(sensorID string) (models.DiscoveryRecord, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec, ok := r.records[sensorID]
	if !ok {
		return models.DiscoveryRecord{}, false
	}
	return *rec, true
}

// Len number of known sensors
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.records)
}

// All returns every record in natural order of sensor ID
func (r *Registry) All() []models.DiscoveryRecord {
	return r.filter(nil)
}

// ListActive returns the records whose sensor isActive accepts, in natural order
func (r *Registry) ListActive(isActive func(sensorID string) bool) []models.DiscoveryRecord {
	if isActive == nil {
		return []models.DiscoveryRecord{}
	}
	return r.filter(isActive)
}

func (r *Registry) filter(keep func(string) bool) []models.DiscoveryRecord {
	r.mu.Lock()
	all := make([]models.DiscoveryRecord, 0, len(r.records))
	for _, rec := range r.records {
		all = append(all, *rec)
	}
	r.mu.Unlock()

	// keep may take other locks; call it outside ours
	out := all[:0]
	for _, rec := range all {
		if keep == nil || keep(rec.SensorID) {
			out = append(out, rec)
		}
	}

	sort.Slice(out, func(i, j int) bool {
		return NaturalLess(out[i].SensorID, out[j].SensorID)
	})
	return out
}
