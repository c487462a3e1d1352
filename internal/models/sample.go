package models

import "time"

// SampledReading one row produced by a sampler tick
type SampledReading struct {
	TickID     string    `json:"tick_id"`
	UserID     int64     `json:"user_id"`
	Category   Bucket    `json:"category"`
	SensorID   string    `json:"sensor_id"`
	Value      float64   `json:"value"`
	ReceivedAt time.Time `json:"received_at"`
	SampledAt  time.Time `json:"sampled_at"`
}
