// Package health reports the node's liveness and readiness over HTTP and
// the standard gRPC health protocol.
package health

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/LeonardoBeccarini/sdcc_sprinkler/internal/services/connectivity"
	"github.com/LeonardoBeccarini/sdcc_sprinkler/internal/services/device"
)

// Source yields the device state published by the driving loop.
type Source interface {
	Snapshot() device.Snapshot
}

// ErrorAger reports how long ago the history writer last failed.
type ErrorAger interface {
	LastErrorAge() time.Duration
}

type healthHandler struct {
	src    Source
	writer ErrorAger
}

func NewHealthHandler(src Source, w ErrorAger) http.Handler {
	return &healthHandler{src: src, writer: w}
}

type status struct {
	Status          string  `json:"status"`
	DeviceID        string  `json:"device_id"`
	BrokerConnected bool    `json:"broker_connected"`
	TimeSynced      bool    `json:"time_synced"`
	Configured      bool    `json:"configured"`
	Watering        string  `json:"watering"`
	DeviceStatus    string  `json:"device_status"`
	NextWatering    string  `json:"next_watering,omitempty"`
	LastWriteErrorS float64 `json:"last_write_error_age_sec,omitempty"`
}

func (h *healthHandler) ServeHTTP(w http.ResponseWriter, _ *http.Request) {
	snap := h.src.Snapshot()
	st := status{
		DeviceID:        string(snap.DeviceID),
		BrokerConnected: snap.Session == connectivity.Connected,
		TimeSynced:      snap.TimeSynced,
		Configured:      snap.Configured,
		Watering:        snap.Mode.String(),
		DeviceStatus:    string(snap.Status),
	}
	if !snap.NextWatering.IsZero() {
		st.NextWatering = snap.NextWatering.Format(time.RFC3339)
	}
	writerOK := true
	if h.writer != nil {
		st.LastWriteErrorS = h.writer.LastErrorAge().Seconds()
		writerOK = h.writer.LastErrorAge() > 30*time.Second
	}

	switch {
	case st.BrokerConnected && st.TimeSynced && writerOK:
		st.Status = "ok"
	case st.BrokerConnected || st.TimeSynced:
		st.Status = "degraded"
	default:
		st.Status = "down"
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(st)
}

// ready reports whether the node can take commands: a broker session is up.
func ready(snap device.Snapshot) bool {
	return snap.Session == connectivity.Connected
}

type readyHandler struct {
	src Source
}

func NewReadyHandler(src Source) http.Handler {
	return &readyHandler{src: src}
}

func (h *readyHandler) ServeHTTP(w http.ResponseWriter, _ *http.Request) {
	ok := ready(h.src.Snapshot())
	w.Header().Set("Content-Type", "application/json")
	if !ok {
		w.WriteHeader(http.StatusServiceUnavailable)
	}
	type resp struct {
		Ready bool `json:"ready"`
	}
	_ = json.NewEncoder(w).Encode(resp{Ready: ok})
}
