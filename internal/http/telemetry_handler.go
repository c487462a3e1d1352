package httpapi

import (
	"context"
	"errors"
	"net/http"

	"aquaflow/internal/consumer"
	"aquaflow/internal/models"
	"aquaflow/internal/repository"

	"go.uber.org/zap"
)

// TelemetryReader read side of the liveness cache
type TelemetryReader interface {
	Snapshot() models.Snapshot
	Sensors() []models.DiscoveryRecord
	ListActiveSensors() []models.DiscoveryRecord
}

// Ingestor synchronous ingest path
type Ingestor interface {
	HandleMessage(topic string, payload []byte) error
}

// ThresholdManager stored valve thresholds
type ThresholdManager interface {
	Thresholds(ctx context.Context) (*models.Thresholds, error)
	UpdateThresholds(ctx context.Context, t models.Thresholds) error
}

// TelemetryHandler live telemetry endpoints
type TelemetryHandler struct {
	reader     TelemetryReader
	ingestor   Ingestor
	thresholds ThresholdManager
	logger     *zap.Logger
}

func NewTelemetryHandler(reader TelemetryReader, ingestor Ingestor, thresholds ThresholdManager, logger *zap.Logger) *TelemetryHandler {
	return &TelemetryHandler{
		reader:     reader,
		ingestor:   ingestor,
		thresholds: thresholds,
		logger:     logger,
	}
}

// GetSnapshot staleness-corrected copy of the live cache
func (h *TelemetryHandler) GetSnapshot(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, Ok(h.reader.Snapshot()))
}

func (h *TelemetryHandler) ListSensors(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, Ok(h.reader.Sensors()))
}

func (h *TelemetryHandler) ListActiveSensors(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, Ok(h.reader.ListActiveSensors()))
}

// Ingest feeds one payload through the same router the broker uses.
// POST /api/v1/telemetry/ingest?topic=sensors/temperature
func (h *TelemetryHandler) Ingest(w http.ResponseWriter, r *http.Request) {
	topic := r.URL.Query().Get("topic")
	if topic == "" {
		writeError(w, http.StatusBadRequest, "topic is required")
		return
	}

	body, err := readBody(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	if err := h.ingestor.HandleMessage(topic, body); err != nil {
		if errors.Is(err, consumer.ErrUnknownTopic) || errors.Is(err, consumer.ErrMalformedPayload) {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		h.logger.Error("Ingest failed", zap.String("topic", topic), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "ingest failed")
		return
	}

	writeJSON(w, http.StatusOK, Ok(map[string]any{"topic": topic, "accepted": true}))
}

func (h *TelemetryHandler) GetThresholds(w http.ResponseWriter, r *http.Request) {
	t, err := h.thresholds.Thresholds(r.Context())
	if err != nil {
		h.logger.Error("Failed to read thresholds", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to read thresholds")
		return
	}
	if t == nil {
		writeError(w, http.StatusNotFound, "no thresholds stored")
		return
	}
	writeJSON(w, http.StatusOK, Ok(t))
}

// PutThresholds stores new thresholds and pushes them to the valve controller
func (h *TelemetryHandler) PutThresholds(w http.ResponseWriter, r *http.Request) {
	var body struct {
		OnThreshold  *float64 `json:"onThreshold"`
		OffThreshold *float64 `json:"offThreshold"`
	}
	if err := readBodyJSON(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid body")
		return
	}
	if body.OnThreshold == nil || body.OffThreshold == nil {
		writeError(w, http.StatusBadRequest, "onThreshold and offThreshold are required")
		return
	}

	t := models.Thresholds{OnThreshold: *body.OnThreshold, OffThreshold: *body.OffThreshold}
	if err := h.thresholds.UpdateThresholds(r.Context(), t); err != nil {
		if errors.Is(err, repository.ErrInvalidThresholds) {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		h.logger.Error("Failed to update thresholds", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to update thresholds")
		return
	}
	writeJSON(w, http.StatusOK, Ok(t))
}
