package event

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api"
)

// Session is one completed watering session as served by the history endpoint.
type Session struct {
	Mode    string  `json:"mode"`
	Reason  string  `json:"reason,omitempty"`
	Seconds float64 `json:"seconds"`
	EndedAt string  `json:"ended_at"` // RFC3339
}

type historyParams struct {
	Minutes   int
	Limit     int
	TimeoutMS int
}

func parseHistory(r *http.Request, defMin, defLim, defTOms int) historyParams {
	q := r.URL.Query()
	get := func(k string, def, min, max int) int {
		if v := strings.TrimSpace(q.Get(k)); v != "" {
			if n, err := strconv.Atoi(v); err == nil {
				if n < min {
					return min
				}
				if max > 0 && n > max {
					return max
				}
				return n
			}
		}
		return def
	}
	return historyParams{
		Minutes:   get("minutes", defMin, 1, 30*24*60),
		Limit:     get("limit", defLim, 1, 500),
		TimeoutMS: get("timeout_ms", defTOms, 200, 5000),
	}
}

func buildFlux(bucket, deviceID string, minutes, limit int) string {
	return fmt.Sprintf(`
from(bucket: %q)
  |> range(start: -%dm)
  |> filter(fn: (r) => r._measurement == %q and r.device_id == %q and r.action == "off")
  |> filter(fn: (r) => r._field == "elapsed_ms")
  |> keep(columns: ["_time","_value","mode","reason"])
  |> sort(columns: ["_time"], desc: true)
  |> limit(n:%d)
`, bucket, minutes, measurement, deviceID, limit)
}

// NewHistoryHandler serves GET /history?minutes=1440&limit=20 with the most
// recent completed sessions of deviceID.
func NewHistoryHandler(q api.QueryAPI, bucket, deviceID string) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		p := parseHistory(r, 1440, 20, 2000)

		ctx, cancel := context.WithTimeout(r.Context(), time.Duration(p.TimeoutMS)*time.Millisecond)
		defer cancel()

		w.Header().Set("Content-Type", "application/json")
		res, err := q.Query(ctx, buildFlux(bucket, deviceID, p.Minutes, p.Limit))
		if err != nil {
			w.Header().Set("X-Error", "influx-query-error")
			_, _ = w.Write([]byte("[]"))
			return
		}
		defer res.Close()

		out := make([]Session, 0, p.Limit)
		for res.Next() {
			rec := res.Record()
			var ms float64
			switch v := rec.Value().(type) {
			case int64:
				ms = float64(v)
			case float64:
				ms = v
			}
			s := Session{
				Seconds: ms / 1000,
				EndedAt: rec.Time().UTC().Format(time.RFC3339),
			}
			if v, ok := rec.ValueByKey("mode").(string); ok {
				s.Mode = v
			}
			if v, ok := rec.ValueByKey("reason").(string); ok {
				s.Reason = v
			}
			out = append(out, s)
		}
		if res.Err() != nil {
			w.Header().Set("X-Error", "influx-iter-error")
		}
		_ = json.NewEncoder(w).Encode(out)
	})
}
