package repository

import (
	"context"
	"errors"
	"fmt"
	"math"

	"aquaflow/internal/models"
	"aquaflow/internal/store"
)

// DefaultThresholdKey Redis key of the valve thresholds
const DefaultThresholdKey = "aquaflow:valve:thresholds"

var ErrInvalidThresholds = errors.New("invalid thresholds")

// ThresholdStore Redis-backed valve threshold store
type ThresholdStore struct {
	kv  store.KV
	key string
}

// NewThresholdStore creates a threshold store under key
func NewThresholdStore(kv store.KV, key string) *ThresholdStore {
	if key == "" {
		key = DefaultThresholdKey
	}
	return &ThresholdStore{kv: kv, key: key}
}

// Read returns the stored thresholds, nil when none are stored
func (s *ThresholdStore) Read(ctx context.Context) (*models.Thresholds, error) {
	var t models.Thresholds
	if err := store.GetJSON(ctx, s.kv, s.key, &t); err != nil {
		if errors.Is(err, store.ErrMiss) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read thresholds: %w", err)
	}
	return &t, nil
}

// Save stores thresholds without expiry
func (s *ThresholdStore) Save(ctx context.Context, t models.Thresholds) error {
	if err := ValidateThresholds(t); err != nil {
		return err
	}
	if err := store.SetJSON(ctx, s.kv, s.key, t, 0); err != nil {
		return fmt.Errorf("failed to save thresholds: %w", err)
	}
	return nil
}

// ValidateThresholds both values must be finite and non-negative
func ValidateThresholds(t models.Thresholds) error {
	for name, v := range map[string]float64{"onThreshold": t.OnThreshold, "offThreshold": t.OffThreshold} {
		if math.IsNaN(v) || math.IsInf(v, 0) || v < 0 {
			return fmt.Errorf("%w: %s=%v", ErrInvalidThresholds, name, v)
		}
	}
	return nil
}
