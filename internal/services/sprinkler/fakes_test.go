package sprinkler

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/LeonardoBeccarini/sdcc_sprinkler/internal/model"
	"github.com/LeonardoBeccarini/sdcc_sprinkler/internal/services/scheduler"
)

type fakeRelay struct {
	active bool
	calls  []bool
	err    error
}

func (r *fakeRelay) SetActive(active bool) error {
	if r.err != nil {
		return r.err
	}
	r.active = active
	r.calls = append(r.calls, active)
	return nil
}

type published struct {
	topic    string
	payload  string
	retained bool
}

type fakePublisher struct {
	msgs []published
	err  error
}

func (p *fakePublisher) Publish(topic string, payload []byte, retained bool) error {
	if p.err != nil {
		return p.err
	}
	p.msgs = append(p.msgs, published{topic: topic, payload: string(payload), retained: retained})
	return nil
}

func (p *fakePublisher) payloads(topic string) []string {
	var out []string
	for _, m := range p.msgs {
		if m.topic == topic {
			out = append(out, m.payload)
		}
	}
	return out
}

type fixedDuration struct {
	d  time.Duration
	ok bool
}

func (f fixedDuration) Duration() (time.Duration, bool) { return f.d, f.ok }

type fakeRecorder struct{ events []model.WateringEvent }

func (r *fakeRecorder) Record(evt model.WateringEvent) { r.events = append(r.events, evt) }

type registration struct {
	id         scheduler.JobID
	expression string
	action     func(time.Time)
}

type fakeScheduler struct {
	next       scheduler.JobID
	registered []registration
	cancelled  []scheduler.JobID
}

func (s *fakeScheduler) Register(expression string, action func(time.Time)) (scheduler.JobID, error) {
	if err := scheduler.Validate(expression); err != nil {
		return 0, err
	}
	s.next++
	s.registered = append(s.registered, registration{id: s.next, expression: expression, action: action})
	return s.next, nil
}

func (s *fakeScheduler) Cancel(id scheduler.JobID) { s.cancelled = append(s.cancelled, id) }

type memorySettings struct {
	cfg   model.SprinklerConfig
	saves int
}

func (m *memorySettings) Save(_ context.Context, cfg model.SprinklerConfig) error {
	m.cfg = cfg
	m.saves++
	return nil
}

func (m *memorySettings) Load(context.Context) (model.SprinklerConfig, error) { return m.cfg, nil }

func testLog() *logrus.Entry { return logrus.NewEntry(logrus.New()) }
