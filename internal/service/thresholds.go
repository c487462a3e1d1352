package service

import (
	"context"
	"fmt"

	"aquaflow/internal/consumer"
	"aquaflow/internal/models"
	"aquaflow/internal/repository"
)

// ThresholdStore persisted valve thresholds
type ThresholdStore interface {
	Read(ctx context.Context) (*models.Thresholds, error)
	Save(ctx context.Context, t models.Thresholds) error
}

// ThresholdPublisher outbound set_thresholds command
type ThresholdPublisher interface {
	Publish(t models.Thresholds, reason string) error
}

// ThresholdService manual threshold management
type ThresholdService struct {
	store     ThresholdStore
	publisher ThresholdPublisher
}

func NewThresholdService(store ThresholdStore, publisher ThresholdPublisher) *ThresholdService {
	return &ThresholdService{store: store, publisher: publisher}
}

func (s *ThresholdService) Thresholds(ctx context.Context) (*models.Thresholds, error) {
	return s.store.Read(ctx)
}

// UpdateThresholds stores t, then publishes it to the valve without cooldown
func (s *ThresholdService) UpdateThresholds(ctx context.Context, t models.Thresholds) error {
	if err := repository.ValidateThresholds(t); err != nil {
		return err
	}
	if err := s.store.Save(ctx, t); err != nil {
		return err
	}
	if err := s.publisher.Publish(t, consumer.ReasonManualUpdate); err != nil {
		return fmt.Errorf("thresholds stored but not delivered: %w", err)
	}
	return nil
}
