package consumer

import (
	"aquaflow/internal/discovery"
	"aquaflow/internal/livecache"
	"aquaflow/internal/models"
)

// Hub read side of the ingestion core
type Hub struct {
	cache    *livecache.LiveCache
	registry *discovery.Registry
}

// NewHub creates a hub over the cache and registry the router writes to
func NewHub(cache *livecache.LiveCache, registry *discovery.Registry) *Hub {
	return &Hub{cache: cache, registry: registry}
}

// Snapshot staleness-corrected copy of the cache
func (h *Hub) Snapshot() models.Snapshot {
	return h.cache.Snapshot()
}

// Sensors every sensor ever accepted, in natural order
func (h *Hub) Sensors() []models.DiscoveryRecord {
	return h.registry.All()
}

// ListActiveSensors discovery records of sensors with a fresh active reading
func (h *Hub) ListActiveSensors() []models.DiscoveryRecord {
	active := h.cache.ActiveSensorIDs()
	return h.registry.ListActive(func(id string) bool {
		_, ok := active[id]
		return ok
	})
}
