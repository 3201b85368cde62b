// Package event records watering history in InfluxDB and serves it back.
package event

import (
	"sync"
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api"
	"github.com/sirupsen/logrus"

	"github.com/LeonardoBeccarini/sdcc_sprinkler/internal/model"
)

// Writer hands watering events to the async InfluxDB write API and tracks
// the last write error for readiness.
type Writer struct {
	api api.WriteAPI
	log *logrus.Entry

	mu      sync.RWMutex
	lastErr time.Time
	counts  map[model.WateringAction]int64
}

func NewWriter(w api.WriteAPI, log *logrus.Entry) *Writer {
	ww := &Writer{
		api:     w,
		log:     log,
		lastErr: time.Now().Add(-24 * time.Hour),
		counts:  make(map[model.WateringAction]int64),
	}
	go ww.watchErrors(w.Errors())
	return ww
}

func (w *Writer) watchErrors(errs <-chan error) {
	for err := range errs {
		if err == nil {
			continue
		}
		w.mu.Lock()
		w.lastErr = time.Now()
		w.mu.Unlock()
		w.log.Warnf("influx write error: %v", err)
	}
}

// Record queues evt without blocking the caller.
func (w *Writer) Record(evt model.WateringEvent) {
	w.api.WritePoint(EventToPoint(evt))
	w.mu.Lock()
	w.counts[evt.Action]++
	w.mu.Unlock()
}

// LastErrorAge reports how long ago the last write failed.
func (w *Writer) LastErrorAge() time.Duration {
	if w == nil {
		return 99999 * time.Hour
	}
	w.mu.RLock()
	t := w.lastErr
	w.mu.RUnlock()
	return time.Since(t)
}

func (w *Writer) Count(action model.WateringAction) int64 {
	if w == nil {
		return 0
	}
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.counts[action]
}

// Flush forces buffered points out, used on shutdown.
func (w *Writer) Flush() { w.api.Flush() }

// Nop drops every event. It is used when no InfluxDB is configured.
type Nop struct{}

func (Nop) Record(model.WateringEvent) {}
