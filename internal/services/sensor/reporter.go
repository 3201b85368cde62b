// Package sensor publishes periodic environment readings of the node.
package sensor

import (
	"strconv"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/LeonardoBeccarini/sdcc_sprinkler/internal/model"
)

const (
	// DefaultSchedule reports once a minute.
	DefaultSchedule = "0 * * * * *"

	// DefaultSampleSchedule samples every ten seconds between reports.
	DefaultSampleSchedule = "*/10 * * * * *"
)

type Reading struct {
	TemperatureC float64
	HumidityPct  float64
}

// Reader returns the current reading. It is called from the driving loop and
// must return quickly.
type Reader interface {
	Read() (Reading, error)
}

type Publisher interface {
	Publish(topic string, payload []byte, retained bool) error
}

type Reporter struct {
	reader    Reader
	publisher Publisher
	topics    model.Topics
	log       *logrus.Entry

	window window
}

func NewReporter(reader Reader, pub Publisher, topics model.Topics, log *logrus.Entry) *Reporter {
	return &Reporter{reader: reader, publisher: pub, topics: topics, log: log}
}

// Sample buffers one reading for the next report.
func (r *Reporter) Sample(_ time.Time) {
	rd, err := r.reader.Read()
	if err != nil {
		r.log.Warnf("sensor read failed: %v", err)
		return
	}
	r.window.add(rd)
}

// Report publishes the mean of the samples taken since the last report, or a
// fresh reading when there are none. Publish failures are logged and the
// values dropped.
func (r *Reporter) Report(now time.Time) {
	if r.window.len() == 0 {
		r.Sample(now)
		if r.window.len() == 0 {
			return
		}
	}
	rd := r.window.mean()
	r.publish(r.topics.SensorTemperature(), rd.TemperatureC)
	r.publish(r.topics.SensorHumidity(), rd.HumidityPct)
}

func (r *Reporter) publish(topic string, v float64) {
	payload := strconv.FormatFloat(v, 'f', 2, 64)
	if err := r.publisher.Publish(topic, []byte(payload), false); err != nil {
		r.log.Debugf("reading %s not published: %v", topic, err)
	}
}
