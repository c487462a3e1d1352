package models

import "time"

// Bucket names one slot of the liveness cache
type Bucket string

const (
	BucketTemperature Bucket = "temperature"
	BucketHumidity    Bucket = "humidity"
	BucketWaterLevel  Bucket = "waterLevel"
	BucketWaterWeight Bucket = "waterWeight"
	BucketGeneric     Bucket = "generic"
)

// TypedBuckets are the category buckets, generic excluded
var TypedBuckets = []Bucket{BucketTemperature, BucketHumidity, BucketWaterLevel, BucketWaterWeight}

// AllBuckets lists every bucket, generic last
var AllBuckets = []Bucket{BucketTemperature, BucketHumidity, BucketWaterLevel, BucketWaterWeight, BucketGeneric}

// Valid reports whether b is a known bucket
func (b Bucket) Valid() bool {
	for _, known := range AllBuckets {
		if b == known {
			return true
		}
	}
	return false
}

// ReadingStatus liveness of a cached reading
type ReadingStatus string

const (
	StatusActive   ReadingStatus = "active"
	StatusInactive ReadingStatus = "inactive"
)

// UncategorizedCategory is the only suggested category the discovery ledger ever assigns
const UncategorizedCategory = "uncategorized"

// SensorReading latest accepted value of one sensor in one bucket
type SensorReading struct {
	Value      float64       `json:"value"`
	ReceivedAt time.Time     `json:"received_at"`
	Status     ReadingStatus `json:"status"`
}

// DiscoveryRecord ledger entry for every sensor ID ever accepted
type DiscoveryRecord struct {
	SensorID          string    `json:"sensor_id"`
	SuggestedCategory string    `json:"suggested_category"`
	FirstSeenAt       time.Time `json:"first_seen_at"`
	LastSeenAt        time.Time `json:"last_seen_at"`
	LastValue         float64   `json:"last_value"`
	DataCount         int64     `json:"data_count"`
}

// Snapshot consistent copy of the liveness cache
type Snapshot struct {
	Buckets     map[Bucket]map[string]SensorReading `json:"buckets"`
	ValveStatus *ValveStatus                        `json:"valve_status"`
	LastUpdate  *time.Time                          `json:"last_update"`
	TakenAt     time.Time                           `json:"taken_at"`
}

// Bucket returns the readings of b, never nil
func (s Snapshot) Bucket(b Bucket) map[string]SensorReading {
	if readings, ok := s.Buckets[b]; ok {
		return readings
	}
	return map[string]SensorReading{}
}
