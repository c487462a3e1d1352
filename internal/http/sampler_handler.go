package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"aquaflow/internal/models"
	"aquaflow/internal/sampler"

	"go.uber.org/zap"
)

// SamplerControl sampler operations exposed over HTTP
type SamplerControl interface {
	StartSampler(ctx context.Context, req sampler.StartRequest) (sampler.Status, error)
	StopSampler(ctx context.Context, userID int64) error
	ReconfigureSampler(ctx context.Context, userID int64, req sampler.ReconfigureRequest) (sampler.Status, error)
	SamplerStatus(userID int64) (sampler.Status, error)
	ListSamplers() []sampler.Status
}

// SamplerHandler per-user sampler endpoints
type SamplerHandler struct {
	control SamplerControl
	logger  *zap.Logger
}

func NewSamplerHandler(control SamplerControl, logger *zap.Logger) *SamplerHandler {
	return &SamplerHandler{control: control, logger: logger}
}

type startBody struct {
	Username   string                 `json:"username"`
	IntervalMS int64                  `json:"interval_ms"`
	Filter     *models.CategoryFilter `json:"filter"`
}

type reconfigureBody struct {
	IntervalMS *int64                 `json:"interval_ms"`
	Filter     *models.CategoryFilter `json:"filter"`
}

func (h *SamplerHandler) List(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, Ok(h.control.ListSamplers()))
}

func (h *SamplerHandler) Status(w http.ResponseWriter, r *http.Request, userID int64) {
	st, err := h.control.SamplerStatus(userID)
	if err != nil {
		h.writeSamplerError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, Ok(st))
}

// Start body: {"username": "ops", "interval_ms": 5000, "filter": "all"}
func (h *SamplerHandler) Start(w http.ResponseWriter, r *http.Request, userID int64) {
	var body startBody
	if err := readBodyJSON(r, &body); err != nil {
		h.writeSamplerError(w, err)
		return
	}

	interval, err := sampler.IntervalFromMillis(body.IntervalMS)
	if err != nil {
		h.writeSamplerError(w, err)
		return
	}

	req := sampler.StartRequest{
		UserID:   userID,
		Username: body.Username,
		Interval: interval,
	}
	if body.Filter != nil {
		req.Filter = *body.Filter
	}

	st, err := h.control.StartSampler(r.Context(), req)
	if err != nil {
		h.writeSamplerError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, Ok(st))
}

func (h *SamplerHandler) Stop(w http.ResponseWriter, r *http.Request, userID int64) {
	if err := h.control.StopSampler(r.Context(), userID); err != nil {
		h.writeSamplerError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, Ok(map[string]any{"user_id": userID, "running": false}))
}

// Reconfigure body: any of {"interval_ms": 1000, "filter": {...}}
func (h *SamplerHandler) Reconfigure(w http.ResponseWriter, r *http.Request, userID int64) {
	var body reconfigureBody
	if err := readBodyJSON(r, &body); err != nil {
		h.writeSamplerError(w, err)
		return
	}

	var req sampler.ReconfigureRequest
	if body.IntervalMS != nil {
		d, err := sampler.IntervalFromMillis(*body.IntervalMS)
		if err != nil {
			h.writeSamplerError(w, err)
			return
		}
		req.Interval = &d
	}
	req.Filter = body.Filter

	st, err := h.control.ReconfigureSampler(r.Context(), userID, req)
	if err != nil {
		h.writeSamplerError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, Ok(st))
}

func (h *SamplerHandler) writeSamplerError(w http.ResponseWriter, err error) {
	var syntaxErr *json.SyntaxError
	var typeErr *json.UnmarshalTypeError
	switch {
	case errors.Is(err, sampler.ErrNotRunning):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, sampler.ErrInvalidInterval),
		errors.Is(err, sampler.ErrInvalidUser),
		errors.Is(err, sampler.ErrEmptyFilter),
		errors.Is(err, models.ErrInvalidFilter),
		errors.Is(err, errEmptyBody),
		errors.As(err, &syntaxErr),
		errors.As(err, &typeErr):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, sampler.ErrClosed):
		writeError(w, http.StatusServiceUnavailable, err.Error())
	default:
		h.logger.Error("Sampler request failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "sampler request failed")
	}
}
