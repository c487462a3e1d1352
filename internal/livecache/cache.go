// Package livecache keeps the latest reading of every sensor, per bucket, together
// with the valve singleton and the global last-update time.
package livecache

import (
	"fmt"
	"sync"
	"time"

	"aquaflow/internal/models"
)

const (
	DefaultActiveTimeout = 8 * time.Second
	DefaultExpiryTTL     = 30 * time.Second
)

// Option configures a LiveCache
type Option func(*LiveCache)

// WithClock replaces time.Now
func WithClock(now func() time.Time) Option {
	return func(c *LiveCache) {
		if now != nil {
			c.now = now
		}
	}
}

// WithActiveTimeout sets the age after which the sweep demotes a reading
func WithActiveTimeout(d time.Duration) Option {
	return func(c *LiveCache) {
		if d > 0 {
			c.activeTimeout = d
		}
	}
}

// WithExpiryTTL sets the age after which snapshots report a reading as inactive
func WithExpiryTTL(d time.Duration) Option {
	return func(c *LiveCache) {
		if d > 0 {
			c.expiryTTL = d
		}
	}
}

// LiveCache in-memory liveness cache
type LiveCache struct {
	mu         sync.RWMutex
	buckets    map[models.Bucket]map[string]models.SensorReading
	valve      *models.ValveStatus
	lastUpdate time.Time

	activeTimeout time.Duration
	expiryTTL     time.Duration
	now           func() time.Time
}

// New creates an empty cache
func New(opts ...Option) *LiveCache {
	c := &LiveCache{
		buckets:       make(map[models.Bucket]map[string]models.SensorReading, len(models.AllBuckets)),
		activeTimeout: DefaultActiveTimeout,
		expiryTTL:     DefaultExpiryTTL,
		now:           time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	for _, b := range models.AllBuckets {
		c.buckets[b] = make(map[string]models.SensorReading)
	}
	return c
}

// Now current time on the cache clock
func (c *LiveCache) Now() time.Time {
	return c.now()
}

// ActiveTimeout age limit of an active reading
func (c *LiveCache) ActiveTimeout() time.Duration {
	return c.activeTimeout
}

// Upsert stores accepted values in bucket with status active and mirrors them into
// the generic bucket. All values of one message land in a single critical section.
func (c *LiveCache) Upsert(bucket models.Bucket, values map[string]float64, at time.Time) error {
	if !bucket.Valid() {
		return fmt.Errorf("unknown bucket %q", bucket)
	}
	if len(values) == 0 {
		return nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	target := c.buckets[bucket]
	generic := c.buckets[models.BucketGeneric]
	for id, v := range values {
		reading := models.SensorReading{Value: v, ReceivedAt: at, Status: models.StatusActive}
		target[id] = reading
		if bucket != models.BucketGeneric {
			generic[id] = reading
		}
	}
	return nil
}

// SetValve replaces the valve singleton
func (c *LiveCache) SetValve(status models.ValveStatus) {
	copied := copyValve(&status)

	c.mu.Lock()
	c.valve = copied
	c.mu.Unlock()
}

// Valve returns a copy of the valve singleton, nil if never reported
func (c *LiveCache) Valve() *models.ValveStatus {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return copyValve(c.valve)
}

// MarkUpdated records that a message was routed at t
func (c *LiveCache) MarkUpdated(t time.Time) {
	c.mu.Lock()
	if t.After(c.lastUpdate) {
		c.lastUpdate = t
	}
	c.mu.Unlock()
}

// LastUpdate zero if nothing was ever routed
func (c *LiveCache) LastUpdate() time.Time {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.lastUpdate
}

// Sweep demotes every active reading older than the active timeout and returns
// how many entries changed
func (c *LiveCache) Sweep() int {
	now := c.now()

	c.mu.Lock()
	defer c.mu.Unlock()

	demoted := 0
	for _, readings := range c.buckets {
		for id, r := range readings {
			if r.Status == models.StatusActive && now.Sub(r.ReceivedAt) > c.activeTimeout {
				r.Status = models.StatusInactive
				readings[id] = r
				demoted++
			}
		}
	}
	return demoted
}

// Snapshot returns a deep copy. Readings older than the expiry TTL are reported
// inactive in the copy whether or not the sweep has demoted them.
func (c *LiveCache) Snapshot() models.Snapshot {
	now := c.now()

	c.mu.RLock()
	defer c.mu.RUnlock()

	snap := models.Snapshot{
		Buckets:     make(map[models.Bucket]map[string]models.SensorReading, len(c.buckets)),
		ValveStatus: copyValve(c.valve),
		TakenAt:     now,
	}
	for b, readings := range c.buckets {
		out := make(map[string]models.SensorReading, len(readings))
		for id, r := range readings {
			if now.Sub(r.ReceivedAt) > c.expiryTTL {
				r.Status = models.StatusInactive
			}
			out[id] = r
		}
		snap.Buckets[b] = out
	}
	if !c.lastUpdate.IsZero() {
		lu := c.lastUpdate
		snap.LastUpdate = &lu
	}
	return snap
}

// IsActive reports whether sensorID has an active, fresh reading in any bucket
func (c *LiveCache) IsActive(sensorID string) bool {
	now := c.now()

	c.mu.RLock()
	defer c.mu.RUnlock()

	for _, readings := range c.buckets {
		if r, ok := readings[sensorID]; ok && c.fresh(r, now) {
			return true
		}
	}
	return false
}

// ActiveSensorIDs set of sensor IDs that IsActive would accept
func (c *LiveCache) ActiveSensorIDs() map[string]struct{} {
	now := c.now()

	c.mu.RLock()
	defer c.mu.RUnlock()

	ids := make(map[string]struct{})
	for _, readings := range c.buckets {
		for id, r := range readings {
			if c.fresh(r, now) {
				ids[id] = struct{}{}
			}
		}
	}
	return ids
}

func (c *LiveCache) fresh(r models.SensorReading, now time.Time) bool {
	return r.Status == models.StatusActive && now.Sub(r.ReceivedAt) <= c.activeTimeout
}

func copyValve(v *models.ValveStatus) *models.ValveStatus {
	if v == nil {
		return nil
	}
	out := *v
	if v.Level != nil {
		level := *v.Level
		out.Level = &level
	}
	if v.Distance != nil {
		distance := *v.Distance
		out.Distance = &distance
	}
	return &out
}
