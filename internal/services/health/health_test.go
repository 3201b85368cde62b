package health

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/LeonardoBeccarini/sdcc_sprinkler/internal/model"
	"github.com/LeonardoBeccarini/sdcc_sprinkler/internal/services/connectivity"
	"github.com/LeonardoBeccarini/sdcc_sprinkler/internal/services/device"
)

type staticSource struct{ snap device.Snapshot }

func (s *staticSource) Snapshot() device.Snapshot { return s.snap }

type fixedAge time.Duration

func (a fixedAge) LastErrorAge() time.Duration { return time.Duration(a) }

func get(t *testing.T, h http.Handler) (int, map[string]interface{}) {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	var body map[string]interface{}
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	return rec.Code, body
}

func TestHealthStatus(t *testing.T) {
	tests := []struct {
		name   string
		snap   device.Snapshot
		writer ErrorAger
		want   string
	}{
		{"ok", device.Snapshot{Session: connectivity.Connected, TimeSynced: true}, nil, "ok"},
		{"recent write error", device.Snapshot{Session: connectivity.Connected, TimeSynced: true}, fixedAge(time.Second), "degraded"},
		{"offline but synced", device.Snapshot{TimeSynced: true}, nil, "degraded"},
		{"down", device.Snapshot{Session: connectivity.Connecting}, nil, "down"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, body := get(t, NewHealthHandler(&staticSource{snap: tt.snap}, tt.writer))
			if body["status"] != tt.want {
				t.Errorf("status = %v, want %s", body["status"], tt.want)
			}
		})
	}
}

func TestHealthReportsDeviceState(t *testing.T) {
	src := &staticSource{snap: device.Snapshot{
		DeviceID: "dev1",
		Session:  connectivity.Connected,
		Mode:     model.ModeAuto,
		Status:   model.StatusWateringAuto,
	}}
	_, body := get(t, NewHealthHandler(src, nil))
	if body["device_id"] != "dev1" || body["watering"] != "auto" || body["device_status"] != "WATERING.AUTO" {
		t.Errorf("body = %v", body)
	}
	if _, ok := body["next_watering"]; ok {
		t.Errorf("next_watering present without a job: %v", body)
	}

	src.snap.NextWatering = time.Date(2026, 4, 2, 6, 30, 0, 0, time.UTC)
	_, body = get(t, NewHealthHandler(src, nil))
	if body["next_watering"] != "2026-04-02T06:30:00Z" {
		t.Errorf("next_watering = %v", body["next_watering"])
	}
}

func TestReadyFollowsBrokerSession(t *testing.T) {
	src := &staticSource{}
	code, body := get(t, NewReadyHandler(src))
	if code != http.StatusServiceUnavailable || body["ready"] != false {
		t.Errorf("offline: code %d body %v", code, body)
	}

	src.snap.Session = connectivity.Connected
	code, body = get(t, NewReadyHandler(src))
	if code != http.StatusOK || body["ready"] != true {
		t.Errorf("online: code %d body %v", code, body)
	}
}

func TestGRPCHealth(t *testing.T) {
	src := &staticSource{}
	g := NewGRPC(src)
	check := func() healthpb.HealthCheckResponse_ServingStatus {
		resp, err := g.server.Check(context.Background(), &healthpb.HealthCheckRequest{Service: ServiceName})
		if err != nil {
			t.Fatalf("Check() error = %v", err)
		}
		return resp.GetStatus()
	}

	if got := check(); got != healthpb.HealthCheckResponse_NOT_SERVING {
		t.Errorf("offline status = %s", got)
	}
	src.snap.Session = connectivity.Connected
	g.update()
	if got := check(); got != healthpb.HealthCheckResponse_SERVING {
		t.Errorf("online status = %s", got)
	}
}
