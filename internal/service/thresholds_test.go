package service

import (
	"context"
	"errors"
	"testing"

	"aquaflow/internal/consumer"
	"aquaflow/internal/models"
	"aquaflow/internal/repository"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memThresholds struct {
	t   *models.Thresholds
	err error
}

func (m *memThresholds) Read(ctx context.Context) (*models.Thresholds, error) {
	return m.t, m.err
}

func (m *memThresholds) Save(ctx context.Context, t models.Thresholds) error {
	if m.err != nil {
		return m.err
	}
	m.t = &t
	return nil
}

type recordingPublisher struct {
	reasons []string
	err     error
}

func (p *recordingPublisher) Publish(t models.Thresholds, reason string) error {
	p.reasons = append(p.reasons, reason)
	return p.err
}

func TestThresholdService_Update(t *testing.T) {
	st := &memThresholds{}
	pub := &recordingPublisher{}
	svc := NewThresholdService(st, pub)
	ctx := context.Background()

	got, err := svc.Thresholds(ctx)
	require.NoError(t, err)
	assert.Nil(t, got)

	require.NoError(t, svc.UpdateThresholds(ctx, models.Thresholds{OnThreshold: 25, OffThreshold: 75}))
	assert.Equal(t, []string{consumer.ReasonManualUpdate}, pub.reasons)

	got, err = svc.Thresholds(ctx)
	require.NoError(t, err)
	assert.Equal(t, 75.0, got.OffThreshold)
}

func TestThresholdService_Invalid(t *testing.T) {
	pub := &recordingPublisher{}
	svc := NewThresholdService(&memThresholds{}, pub)

	err := svc.UpdateThresholds(context.Background(), models.Thresholds{OnThreshold: -5, OffThreshold: 75})
	assert.ErrorIs(t, err, repository.ErrInvalidThresholds)
	assert.Empty(t, pub.reasons)
}

func TestThresholdService_PublishFailure(t *testing.T) {
	st := &memThresholds{}
	svc := NewThresholdService(st, &recordingPublisher{err: errors.New("offline")})

	err := svc.UpdateThresholds(context.Background(), models.Thresholds{OnThreshold: 1, OffThreshold: 2})
	require.Error(t, err)
	assert.NotNil(t, st.t, "thresholds are stored even when delivery fails")
}
