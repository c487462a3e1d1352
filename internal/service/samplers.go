package service

import (
	"context"
	"time"

	"aquaflow/internal/models"
	"aquaflow/internal/sampler"

	"go.uber.org/zap"
)

// SettingsStore persisted sampler settings
type SettingsStore interface {
	Save(ctx context.Context, s models.SamplerSettings) error
	Disable(ctx context.Context, userID int64) error
	ListEnabled(ctx context.Context) ([]models.SamplerSettings, error)
}

// SamplerService scheduler plus best-effort settings persistence
type SamplerService struct {
	scheduler *sampler.Scheduler
	settings  SettingsStore
	logger    *zap.Logger
}

// NewSamplerService settings may be nil when nothing is persisted
func NewSamplerService(scheduler *sampler.Scheduler, settings SettingsStore, logger *zap.Logger) *SamplerService {
	return &SamplerService{
		scheduler: scheduler,
		settings:  settings,
		logger:    logger,
	}
}

func (s *SamplerService) StartSampler(ctx context.Context, req sampler.StartRequest) (sampler.Status, error) {
	st, err := s.scheduler.Start(ctx, req)
	if err != nil {
		return sampler.Status{}, err
	}
	s.save(ctx, st)
	return st, nil
}

func (s *SamplerService) StopSampler(ctx context.Context, userID int64) error {
	if err := s.scheduler.Stop(userID); err != nil {
		return err
	}
	if s.settings != nil {
		if err := s.settings.Disable(ctx, userID); err != nil {
			s.logger.Warn("Failed to persist sampler stop", zap.Int64("user_id", userID), zap.Error(err))
		}
	}
	return nil
}

func (s *SamplerService) ReconfigureSampler(ctx context.Context, userID int64, req sampler.ReconfigureRequest) (sampler.Status, error) {
	st, err := s.scheduler.Reconfigure(ctx, userID, req)
	if err != nil {
		return sampler.Status{}, err
	}
	s.save(ctx, st)
	return st, nil
}

func (s *SamplerService) SamplerStatus(userID int64) (sampler.Status, error) {
	return s.scheduler.Status(userID)
}

func (s *SamplerService) ListSamplers() []sampler.Status {
	return s.scheduler.List()
}

// Restore re-arms every enabled sampler; rows that no longer validate are skipped
func (s *SamplerService) Restore(ctx context.Context) (int, error) {
	if s.settings == nil {
		return 0, nil
	}

	all, err := s.settings.ListEnabled(ctx)
	if err != nil {
		return 0, err
	}

	restored := 0
	for _, st := range all {
		_, err := s.scheduler.Start(ctx, sampler.StartRequest{
			UserID:   st.UserID,
			Username: st.Username,
			Interval: st.Interval,
			Filter:   st.Filter,
		})
		if err != nil {
			s.logger.Warn("Skipping stored sampler",
				zap.Int64("user_id", st.UserID),
				zap.Duration("interval", st.Interval),
				zap.Error(err),
			)
			continue
		}
		restored++
	}

	s.logger.Info("Restored samplers", zap.Int("restored", restored), zap.Int("stored", len(all)))
	return restored, nil
}

// Close stops every timer and waits for in-flight writes; settings stay enabled for the next boot
func (s *SamplerService) Close() {
	s.scheduler.Close()
}

func (s *SamplerService) save(ctx context.Context, st sampler.Status) {
	if s.settings == nil || st.Filter == nil {
		return
	}
	err := s.settings.Save(ctx, models.SamplerSettings{
		UserID:    st.UserID,
		Username:  st.Username,
		Interval:  st.Interval,
		Filter:    *st.Filter,
		Enabled:   true,
		UpdatedAt: time.Now(),
	})
	if err != nil {
		s.logger.Warn("Failed to persist sampler settings", zap.Int64("user_id", st.UserID), zap.Error(err))
	}
}
