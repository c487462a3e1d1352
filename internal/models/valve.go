package models

import "time"

// ValveState open/closed
type ValveState string

const (
	ValveOpen   ValveState = "open"
	ValveClosed ValveState = "closed"
)

// ValveMode auto/manual/unknown
type ValveMode string

const (
	ValveModeAuto    ValveMode = "auto"
	ValveModeManual  ValveMode = "manual"
	ValveModeUnknown ValveMode = "unknown"
)

// ValveStatus singleton actuator record; replaced wholesale on every valid status
type ValveStatus struct {
	Status     ValveState `json:"status"`
	Mode       ValveMode  `json:"mode"`
	Level      *float64   `json:"level"`
	Distance   *float64   `json:"distance"`
	ReceivedAt time.Time  `json:"received_at"`
}

// Thresholds valve on/off switching points
type Thresholds struct {
	OnThreshold  float64 `json:"onThreshold"`
	OffThreshold float64 `json:"offThreshold"`
}

// ThresholdCommand outbound control message
type ThresholdCommand struct {
	Command      string  `json:"command"`
	OnThreshold  float64 `json:"onThreshold"`
	OffThreshold float64 `json:"offThreshold"`
	Reason       string  `json:"reason"`
}

// CommandSetThresholds command name on the control topic
const CommandSetThresholds = "set_thresholds"
