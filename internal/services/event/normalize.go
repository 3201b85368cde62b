package event

import (
	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api/write"

	"github.com/LeonardoBeccarini/sdcc_sprinkler/internal/model"
)

const measurement = "watering_event"

// EventToPoint maps a watering edge onto a single InfluxDB point.
func EventToPoint(evt model.WateringEvent) *write.Point {
	tags := map[string]string{
		"device_id": string(evt.DeviceID),
		"mode":      evt.Mode.String(),
		"action":    string(evt.Action),
	}
	if evt.Reason != "" {
		tags["reason"] = evt.Reason
	}

	fields := map[string]interface{}{
		"session_id": evt.SessionID,
		"elapsed_ms": evt.Elapsed.Milliseconds(),
		"count":      int64(1),
	}
	if !evt.StartedAt.IsZero() {
		fields["started_at"] = evt.StartedAt.UTC().Unix()
	}
	return influxdb2.NewPoint(measurement, tags, fields, evt.Timestamp)
}
