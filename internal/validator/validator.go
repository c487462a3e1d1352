// Package validator decides whether a raw sensor value is a plausible reading
// for the bucket it arrived on.
package validator

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strings"

	"aquaflow/internal/models"
)

var (
	ErrEmptySensorID = errors.New("empty sensor id")
	ErrNotNumber     = errors.New("value is not a number")
	ErrNotFinite     = errors.New("value is not finite")
	ErrOutOfRange    = errors.New("value out of range")
)

// Range closed interval of plausible physical values
type Range struct {
	Min float64
	Max float64
}

// Contains reports whether v lies inside the range
func (r Range) Contains(v float64) bool {
	return v >= r.Min && v <= r.Max
}

var ranges = map[models.Bucket]Range{
	models.BucketTemperature: {Min: -40, Max: 80},
	models.BucketHumidity:    {Min: 0, Max: 100},
	models.BucketWaterLevel:  {Min: 0, Max: 100},
}

// RangeFor returns the plausible range for a bucket; ok is false for unranged buckets
func RangeFor(bucket models.Bucket) (Range, bool) {
	r, ok := ranges[bucket]
	return r, ok
}

// Validate returns the accepted value or the reason it was rejected.
// raw is a value as produced by encoding/json: float64, json.Number,
// string, bool, nil, map or slice. Only numbers are accepted.
func Validate(bucket models.Bucket, sensorID string, raw any) (float64, error) {
	if strings.TrimSpace(sensorID) == "" {
		return 0, ErrEmptySensorID
	}

	var value float64
	switch v := raw.(type) {
	case float64:
		value = v
	case float32:
		value = float64(v)
	case int:
		value = float64(v)
	case int64:
		value = float64(v)
	case json.Number:
		f, err := v.Float64()
		if err != nil {
			return 0, fmt.Errorf("%w: %q", ErrNotNumber, v.String())
		}
		value = f
	default:
		return 0, fmt.Errorf("%w: %T", ErrNotNumber, raw)
	}

	if math.IsNaN(value) || math.IsInf(value, 0) {
		return 0, ErrNotFinite
	}

	if r, ok := ranges[bucket]; ok && !r.Contains(value) {
		return 0, fmt.Errorf("%w: %v not in [%v, %v] for %s", ErrOutOfRange, value, r.Min, r.Max, bucket)
	}

	return value, nil
}
