// Package consumer turns inbound telemetry messages into liveness cache updates.
package consumer

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"aquaflow/internal/discovery"
	"aquaflow/internal/livecache"
	"aquaflow/internal/metrics"

	"go.uber.org/zap"
)

var (
	ErrUnknownTopic     = errors.New("unknown topic")
	ErrMalformedPayload = errors.New("malformed payload")
)

// Route processor a topic is dispatched to
type Route string

const (
	RouteGeneric     Route = "generic"
	RouteTemperature Route = "temperature"
	RouteHumidity    Route = "humidity"
	RouteWaterLevel  Route = "waterLevel"
	RouteWaterWeight Route = "waterWeight"
	RouteValve       Route = "valve"
)

// Topics inbound topic names
type Topics struct {
	Generic     string `yaml:"generic"`
	Temperature string `yaml:"temperature"`
	Humidity    string `yaml:"humidity"`
	WaterLevel  string `yaml:"water_level"`
	WaterWeight string `yaml:"water_weight"`
	ValveStatus string `yaml:"valve_status"`
}

// DefaultTopics broker topics used when nothing is configured
func DefaultTopics() Topics {
	return Topics{
		Generic:     "sensors/data",
		Temperature: "sensors/temperature",
		Humidity:    "sensors/humidity",
		WaterLevel:  "sensors/water_level",
		WaterWeight: "sensors/water_weight",
		ValveStatus: "valve/status",
	}
}

// Table exact topic table; empty names are left out
func (t Topics) Table() map[string]Route {
	table := make(map[string]Route, 6)
	for topic, route := range map[string]Route{
		t.Generic:     RouteGeneric,
		t.Temperature: RouteTemperature,
		t.Humidity:    RouteHumidity,
		t.WaterLevel:  RouteWaterLevel,
		t.WaterWeight: RouteWaterWeight,
		t.ValveStatus: RouteValve,
	} {
		if topic != "" {
			table[topic] = route
		}
	}
	return table
}

// List topics to subscribe
func (t Topics) List() []string {
	var out []string
	for _, topic := range []string{t.Generic, t.Temperature, t.Humidity, t.WaterLevel, t.WaterWeight, t.ValveStatus} {
		if topic != "" {
			out = append(out, topic)
		}
	}
	return out
}

// keywordRoutes fallback for topics outside the table, checked in order
var keywordRoutes = []struct {
	route    Route
	keywords []string
}{
	{RouteValve, []string{"valve", "valvula", "válvula"}},
	{RouteWaterLevel, []string{"water_level", "waterlevel", "water-level", "nivel", "level"}},
	{RouteWaterWeight, []string{"water_weight", "waterweight", "water-weight", "weight", "peso"}},
	{RouteHumidity, []string{"humidity", "humedad", "umidade", "humid"}},
	{RouteTemperature, []string{"temperature", "temperatura", "temp"}},
}

// resolveRoute exact match first, then keyword substring fallback
func resolveRoute(table map[string]Route, topic string) (Route, bool) {
	if route, ok := table[topic]; ok {
		return route, true
	}

	lower := strings.ToLower(topic)
	for _, kr := range keywordRoutes {
		for _, kw := range kr.keywords {
			if strings.Contains(lower, kw) {
				return kr.route, true
			}
		}
	}
	return "", false
}

// ThresholdTrigger receives device reports that carry no usable thresholds
type ThresholdTrigger interface {
	Trigger() bool
}

// Router dispatches one message to its category processor
type Router struct {
	routes   map[string]Route
	cache    *livecache.LiveCache
	registry *discovery.Registry
	trigger  ThresholdTrigger
	metrics  *metrics.Metrics
	logger   *zap.Logger
}

// NewRouter creates a router; trigger may be nil when no control topic is wired
func NewRouter(
	topics Topics,
	cache *livecache.LiveCache,
	registry *discovery.Registry,
	trigger ThresholdTrigger,
	m *metrics.Metrics,
	logger *zap.Logger,
) *Router {
	return &Router{
		routes:   topics.Table(),
		cache:    cache,
		registry: registry,
		trigger:  trigger,
		metrics:  m,
		logger:   logger,
	}
}

// HandleMessage routes one payload. The error only reports why a message was dropped;
// the cache is never left half-written and the caller may keep consuming.
func (r *Router) HandleMessage(topic string, payload []byte) error {
	route, ok := resolveRoute(r.routes, topic)
	if !ok {
		r.metrics.Message(metrics.ResultUnknownTopic)
		r.logger.Warn("Dropping message on unknown topic",
			zap.String("topic", topic),
			zap.Int("payload_size", len(payload)),
		)
		return fmt.Errorf("%w: %s", ErrUnknownTopic, topic)
	}

	fields, err := decodeObject(sanitizeNonFinite(payload))
	if err != nil {
		r.metrics.Message(metrics.ResultMalformed)
		r.logger.Warn("Dropping malformed payload",
			zap.String("topic", topic),
			zap.String("route", string(route)),
			zap.Error(err),
		)
		return fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}

	now := r.cache.Now()
	switch route {
	case RouteValve:
		r.processValve(fields, now)
	case RouteWaterLevel:
		r.processWaterLevel(fields, now)
	default:
		r.processValues(bucketOf(route), fields, now)
	}

	r.cache.MarkUpdated(now)
	r.metrics.Message(metrics.ResultRouted)
	return nil
}

func decodeObject(payload []byte) (map[string]any, error) {
	dec := json.NewDecoder(bytes.NewReader(payload))
	dec.UseNumber()

	var fields map[string]any
	if err := dec.Decode(&fields); err != nil {
		return nil, err
	}
	if fields == nil {
		return nil, errors.New("payload is not a JSON object")
	}
	if dec.More() {
		return nil, errors.New("trailing data after JSON object")
	}
	return fields, nil
}
