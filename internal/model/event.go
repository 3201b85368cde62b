package model

import "time"

type WateringAction string

const (
	WateringOn  WateringAction = "on"
	WateringOff WateringAction = "off"
)

// WateringEvent is emitted on every relay edge and kept as watering history.
type WateringEvent struct {
	SessionID string         `json:"session_id"`
	DeviceID  DeviceID       `json:"device_id"`
	Mode      Mode           `json:"mode"`
	Action    WateringAction `json:"action"`
	StartedAt time.Time      `json:"started_at"`
	Elapsed   time.Duration  `json:"elapsed"`
	Reason    string         `json:"reason"` // "manual" | "schedule" | "duration" | "max-run" | "override"
	Timestamp time.Time      `json:"timestamp"`
}
