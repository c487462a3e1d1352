package service

import (
	"context"
	"time"

	"aquaflow/internal/models"
	"aquaflow/internal/store"

	"go.uber.org/zap"
)

// LiveStateSource what the mirror copies
type LiveStateSource interface {
	Snapshot() models.Snapshot
	ListActiveSensors() []models.DiscoveryRecord
}

// MirrorDocument JSON stored under the mirror key
type MirrorDocument struct {
	Snapshot      models.Snapshot `json:"snapshot"`
	ActiveSensors []string        `json:"active_sensors"`
}

// SnapshotMirror periodically copies live state into Redis for other services
type SnapshotMirror struct {
	source   LiveStateSource
	kv       store.KV
	key      string
	ttl      time.Duration
	interval time.Duration
	logger   *zap.Logger
}

func NewSnapshotMirror(source LiveStateSource, kv store.KV, key string, ttl, interval time.Duration, logger *zap.Logger) *SnapshotMirror {
	if interval <= 0 {
		interval = 2 * time.Second
	}
	return &SnapshotMirror{
		source:   source,
		kv:       kv,
		key:      key,
		ttl:      ttl,
		interval: interval,
		logger:   logger,
	}
}

// Run writes on every interval until ctx is cancelled; failures are logged and retried next round
func (m *SnapshotMirror) Run(ctx context.Context) {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	m.logger.Info("Snapshot mirror started", zap.String("key", m.key), zap.Duration("interval", m.interval))

	for {
		select {
		case <-ctx.Done():
			m.logger.Info("Snapshot mirror stopped")
			return
		case <-ticker.C:
			if err := m.WriteOnce(ctx); err != nil {
				m.logger.Warn("Failed to mirror snapshot", zap.String("key", m.key), zap.Error(err))
			}
		}
	}
}

// WriteOnce stores the current state
func (m *SnapshotMirror) WriteOnce(ctx context.Context) error {
	active := m.source.ListActiveSensors()
	doc := MirrorDocument{
		Snapshot:      m.source.Snapshot(),
		ActiveSensors: make([]string, 0, len(active)),
	}
	for _, rec := range active {
		doc.ActiveSensors = append(doc.ActiveSensors, rec.SensorID)
	}

	if err := store.SetJSON(ctx, m.kv, m.key, doc, m.ttl); err != nil {
		return err
	}

	m.logger.Debug("Mirrored snapshot", zap.String("key", m.key), zap.Int("active_sensors", len(doc.ActiveSensors)))
	return nil
}
