package consumer

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"aquaflow/internal/metrics"
	"aquaflow/internal/models"

	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

const (
	DefaultRepublishCooldown = 5 * time.Second

	ReasonNoThresholds = "device_reported_no_thresholds"
	ReasonManualUpdate = "manual_update"
)

// Publisher outbound broker side
type Publisher interface {
	Publish(topic string, qos byte, retained bool, payload []byte) error
}

// ThresholdReader source of the stored thresholds; nil, nil means none stored
type ThresholdReader interface {
	Read(ctx context.Context) (*models.Thresholds, error)
}

// RepublisherOption configures a Republisher
type RepublisherOption func(*Republisher)

// WithRepublishClock replaces time.Now for the cooldown gate
func WithRepublishClock(now func() time.Time) RepublisherOption {
	return func(r *Republisher) {
		if now != nil {
			r.now = now
		}
	}
}

// WithPublishTimeout bounds the store read plus publish of one trigger
func WithPublishTimeout(d time.Duration) RepublisherOption {
	return func(r *Republisher) {
		if d > 0 {
			r.timeout = d
		}
	}
}

// Republisher pushes the stored thresholds back to the valve controller, at most
// once per cooldown window
type Republisher struct {
	store     ThresholdReader
	publisher Publisher
	topic     string
	qos       byte
	limiter   *rate.Limiter
	timeout   time.Duration
	now       func() time.Time
	metrics   *metrics.Metrics
	logger    *zap.Logger

	wg sync.WaitGroup
}

// NewRepublisher creates a republisher publishing on topic
func NewRepublisher(
	store ThresholdReader,
	publisher Publisher,
	topic string,
	qos byte,
	cooldown time.Duration,
	m *metrics.Metrics,
	logger *zap.Logger,
	opts ...RepublisherOption,
) *Republisher {
	if cooldown <= 0 {
		cooldown = DefaultRepublishCooldown
	}
	r := &Republisher{
		store:     store,
		publisher: publisher,
		topic:     topic,
		qos:       qos,
		limiter:   rate.NewLimiter(rate.Every(cooldown), 1),
		timeout:   10 * time.Second,
		now:       time.Now,
		metrics:   m,
		logger:    logger,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Trigger schedules a republish unless one happened within the cooldown.
// It never blocks the caller; the read and publish run in the background.
func (r *Republisher) Trigger() bool {
	if !r.limiter.AllowN(r.now(), 1) {
		r.metrics.Republish(metrics.ResultSuppressed)
		r.logger.Debug("Threshold republish suppressed by cooldown")
		return false
	}

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()

		ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
		defer cancel()

		t, err := r.store.Read(ctx)
		if err != nil {
			r.metrics.Republish(metrics.ResultFailed)
			r.logger.Error("Failed to read stored thresholds", zap.Error(err))
			return
		}
		if t == nil {
			r.metrics.Republish(metrics.ResultMissing)
			r.logger.Warn("No stored thresholds to republish")
			return
		}

		if err := r.Publish(*t, ReasonNoThresholds); err != nil {
			r.logger.Error("Failed to republish thresholds", zap.Error(err))
		}
	}()
	return true
}

// Publish sends a set_thresholds command immediately, bypassing the cooldown
func (r *Republisher) Publish(t models.Thresholds, reason string) error {
	payload, err := json.Marshal(models.ThresholdCommand{
		Command:      models.CommandSetThresholds,
		OnThreshold:  t.OnThreshold,
		OffThreshold: t.OffThreshold,
		Reason:       reason,
	})
	if err != nil {
		return fmt.Errorf("failed to encode threshold command: %w", err)
	}

	if err := r.publisher.Publish(r.topic, r.qos, false, payload); err != nil {
		r.metrics.Republish(metrics.ResultFailed)
		return fmt.Errorf("failed to publish threshold command: %w", err)
	}

	r.metrics.Republish(metrics.ResultPublished)
	r.logger.Info("Published valve thresholds",
		zap.String("topic", r.topic),
		zap.Float64("on_threshold", t.OnThreshold),
		zap.Float64("off_threshold", t.OffThreshold),
		zap.String("reason", reason),
	)
	return nil
}

// Wait blocks until background publishes finish
func (r *Republisher) Wait() {
	r.wg.Wait()
}
