package sensor

import (
	"errors"
	"testing"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/LeonardoBeccarini/sdcc_sprinkler/internal/model"
)

type recordingPublisher struct {
	topics   []string
	payloads []string
	err      error
}

func (p *recordingPublisher) Publish(topic string, payload []byte, _ bool) error {
	if p.err != nil {
		return p.err
	}
	p.topics = append(p.topics, topic)
	p.payloads = append(p.payloads, string(payload))
	return nil
}

type staticReader struct {
	r   Reading
	err error
}

func (s staticReader) Read() (Reading, error) { return s.r, s.err }

func TestReporterPublishesBothReadings(t *testing.T) {
	pub := &recordingPublisher{}
	topics := model.NewTopics("dev1")
	r := NewReporter(staticReader{r: Reading{TemperatureC: 21.456, HumidityPct: 40}}, pub, topics, logrus.NewEntry(logrus.New()))

	r.Report(time.Now())

	if len(pub.topics) != 2 {
		t.Fatalf("published %d messages, want 2", len(pub.topics))
	}
	if pub.topics[0] != topics.SensorTemperature() || pub.payloads[0] != "21.46" {
		t.Errorf("temperature = %s %q", pub.topics[0], pub.payloads[0])
	}
	if pub.topics[1] != topics.SensorHumidity() || pub.payloads[1] != "40.00" {
		t.Errorf("humidity = %s %q", pub.topics[1], pub.payloads[1])
	}
}

func TestReporterSkipsFailedRead(t *testing.T) {
	pub := &recordingPublisher{}
	r := NewReporter(staticReader{err: errors.New("bus error")}, pub, model.NewTopics("dev1"), logrus.NewEntry(logrus.New()))
	r.Report(time.Now())
	if len(pub.topics) != 0 {
		t.Errorf("published %v after a failed read", pub.topics)
	}
}

func TestSimulatedHumidityDrift(t *testing.T) {
	now := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	watering := false
	g := NewSimulatedReader(0.1, func() bool { return watering })
	g.now = func() time.Time { return now }

	first, _ := g.Read()
	now = now.Add(10 * time.Minute)
	dry, _ := g.Read()
	if dry.HumidityPct >= first.HumidityPct {
		t.Errorf("humidity did not decay: %.2f -> %.2f", first.HumidityPct, dry.HumidityPct)
	}

	watering = true
	now = now.Add(10 * time.Minute)
	wet, _ := g.Read()
	if wet.HumidityPct <= dry.HumidityPct {
		t.Errorf("humidity did not rise while watering: %.2f -> %.2f", dry.HumidityPct, wet.HumidityPct)
	}
}

func TestSimulatedHumidityBounded(t *testing.T) {
	now := time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)
	g := NewSimulatedReader(5, nil)
	g.now = func() time.Time { return now }
	g.Read()
	now = now.Add(48 * time.Hour)
	r, _ := g.Read()
	if r.HumidityPct != 0 {
		t.Errorf("humidity = %.2f, want 0", r.HumidityPct)
	}
}

type sequenceReader struct {
	readings []Reading
	i        int
}

func (s *sequenceReader) Read() (Reading, error) {
	r := s.readings[s.i%len(s.readings)]
	s.i++
	return r, nil
}

func TestReporterPublishesSampleMean(t *testing.T) {
	pub := &recordingPublisher{}
	reader := &sequenceReader{readings: []Reading{{10, 40}, {20, 50}, {30, 60}}}
	r := NewReporter(reader, pub, model.NewTopics("dev1"), logrus.NewEntry(logrus.New()))

	for i := 0; i < 3; i++ {
		r.Sample(time.Now())
	}
	r.Report(time.Now())

	if len(pub.payloads) != 2 || pub.payloads[0] != "20.00" || pub.payloads[1] != "50.00" {
		t.Fatalf("payloads = %v, want mean 20.00/50.00", pub.payloads)
	}
	if reader.i != 3 {
		t.Errorf("reader called %d times, want 3", reader.i)
	}

	// the window was emptied: the next report reads afresh
	r.Report(time.Now())
	if reader.i != 4 || pub.payloads[2] != "10.00" {
		t.Errorf("second report payloads = %v after %d reads", pub.payloads, reader.i)
	}
}

func TestWindowKeepsNewestSamples(t *testing.T) {
	var w window
	for i := 0; i < maxSamples+10; i++ {
		w.add(Reading{TemperatureC: float64(i)})
	}
	if w.len() != maxSamples {
		t.Fatalf("len() = %d, want %d", w.len(), maxSamples)
	}
	// samples 10..369 remain
	if got, want := w.mean().TemperatureC, 189.5; got != want {
		t.Errorf("mean = %v, want %v", got, want)
	}
}
