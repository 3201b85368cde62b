package model

import "time"

// SprinklerConfig is the mutable watering configuration received from the broker.
// An empty expression or a zero duration means the value was never set.
type SprinklerConfig struct {
	TriggerExpression  string `json:"trigger_expression"`
	WateringDurationMs uint32 `json:"watering_duration_ms"`
}

// Configured reports whether both values are present and the duration is positive.
func (c SprinklerConfig) Configured() bool {
	return c.TriggerExpression != "" && c.WateringDurationMs > 0
}

func (c SprinklerConfig) Duration() time.Duration {
	return time.Duration(c.WateringDurationMs) * time.Millisecond
}
