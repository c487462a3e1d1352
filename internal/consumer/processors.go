package consumer

import (
	"encoding/json"
	"math"
	"strings"
	"time"

	"aquaflow/internal/metrics"
	"aquaflow/internal/models"
	"aquaflow/internal/validator"

	"go.uber.org/zap"
)

// valveKeys never name a sensor on the water-level topic
var valveKeys = map[string]struct{}{
	"valve":        {},
	"status":       {},
	"mode":         {},
	"level":        {},
	"distance":     {},
	"onThreshold":  {},
	"offThreshold": {},
}

func bucketOf(route Route) models.Bucket {
	switch route {
	case RouteTemperature:
		return models.BucketTemperature
	case RouteHumidity:
		return models.BucketHumidity
	case RouteWaterLevel:
		return models.BucketWaterLevel
	case RouteWaterWeight:
		return models.BucketWaterWeight
	default:
		return models.BucketGeneric
	}
}

// processValues validates every key independently and applies the accepted ones
func (r *Router) processValues(bucket models.Bucket, fields map[string]any, now time.Time) int {
	accepted := make(map[string]float64, len(fields))
	for sensorID, raw := range fields {
		value, err := validator.Validate(bucket, sensorID, raw)
		if err != nil {
			r.metrics.Reading(string(bucket), metrics.ResultRejected)
			r.logger.Debug("Rejected sensor value",
				zap.String("bucket", string(bucket)),
				zap.String("sensor_id", sensorID),
				zap.Any("value", raw),
				zap.Error(err),
			)
			continue
		}
		accepted[sensorID] = value
	}

	if len(accepted) == 0 {
		return 0
	}

	if err := r.cache.Upsert(bucket, accepted, now); err != nil {
		r.logger.Error("Failed to apply readings", zap.String("bucket", string(bucket)), zap.Error(err))
		return 0
	}
	r.registry.TouchAll(accepted, now)

	for range accepted {
		r.metrics.Reading(string(bucket), metrics.ResultAccepted)
	}
	return len(accepted)
}

// processWaterLevel handles the combined water-level topic: an embedded valve object or
// a top-level valve shape goes to the valve processor, everything else is a level reading
func (r *Router) processWaterLevel(fields map[string]any, now time.Time) {
	if nested, ok := fields["valve"].(map[string]any); ok {
		r.processValve(nested, now)
	} else if _, ok := fields["status"]; ok {
		r.processValve(fields, now)
	} else if hasThresholds(fields) {
		r.processValve(fields, now)
	}

	levels := make(map[string]any, len(fields))
	for k, v := range fields {
		if _, reserved := valveKeys[k]; reserved {
			continue
		}
		levels[k] = v
	}
	r.processValues(models.BucketWaterLevel, levels, now)
}

func hasThresholds(fields map[string]any) bool {
	_, on := fields["onThreshold"]
	_, off := fields["offThreshold"]
	return on || off
}

// processValve applies a valve status report and checks for missing thresholds
func (r *Router) processValve(fields map[string]any, now time.Time) {
	if raw, ok := fields["status"]; ok {
		if state, valid := parseValveState(raw); valid {
			status := models.ValveStatus{
				Status:     state,
				Mode:       parseValveMode(fields["mode"]),
				Level:      optionalNumber(fields["level"]),
				Distance:   optionalNumber(fields["distance"]),
				ReceivedAt: now,
			}
			r.cache.SetValve(status)
			r.logger.Debug("Valve status updated",
				zap.String("status", string(status.Status)),
				zap.String("mode", string(status.Mode)),
			)
		} else {
			r.logger.Debug("Ignoring valve report with unknown status", zap.Any("status", raw))
		}
	}

	on, onOK := number(fields["onThreshold"])
	off, offOK := number(fields["offThreshold"])
	if onOK && offOK && (on < 0 || off < 0) && r.trigger != nil {
		r.logger.Info("Valve reported no thresholds",
			zap.Float64("on_threshold", on),
			zap.Float64("off_threshold", off),
		)
		r.trigger.Trigger()
	}
}

func parseValveState(raw any) (models.ValveState, bool) {
	s, ok := raw.(string)
	if !ok {
		return "", false
	}
	switch models.ValveState(strings.ToLower(strings.TrimSpace(s))) {
	case models.ValveOpen:
		return models.ValveOpen, true
	case models.ValveClosed:
		return models.ValveClosed, true
	}
	return "", false
}

func parseValveMode(raw any) models.ValveMode {
	s, _ := raw.(string)
	switch models.ValveMode(strings.ToLower(strings.TrimSpace(s))) {
	case models.ValveModeAuto:
		return models.ValveModeAuto
	case models.ValveModeManual:
		return models.ValveModeManual
	}
	return models.ValveModeUnknown
}

// number accepts finite JSON numbers only
func number(raw any) (float64, bool) {
	var v float64
	switch n := raw.(type) {
	case json.Number:
		f, err := n.Float64()
		if err != nil {
			return 0, false
		}
		v = f
	case float64:
		v = n
	default:
		return 0, false
	}
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, false
	}
	return v, true
}

func optionalNumber(raw any) *float64 {
	v, ok := number(raw)
	if !ok {
		return nil
	}
	return &v
}
