package sprinkler

import (
	"errors"
	"reflect"
	"testing"
	"time"

	"github.com/LeonardoBeccarini/sdcc_sprinkler/internal/model"
)

var (
	testTopics = model.NewTopics("dev1")
	t0         = time.Date(2026, 5, 1, 6, 0, 0, 0, time.UTC)
)

func newTestController(d time.Duration, opts ...Option) (*Controller, *fakeRelay, *fakePublisher) {
	relay := &fakeRelay{}
	pub := &fakePublisher{}
	c := NewController(relay, pub, fixedDuration{d: d, ok: d > 0}, testTopics, testLog(), opts...)
	return c, relay, pub
}

func TestManualOnIsIdempotent(t *testing.T) {
	c, relay, pub := newTestController(time.Minute)

	for i := 0; i < 3; i++ {
		if err := c.OnManualCommand(true, t0.Add(time.Duration(i)*time.Second)); err != nil {
			t.Fatalf("OnManualCommand(true) error = %v", err)
		}
		if got := c.State().Mode; got != model.ModeManual {
			t.Fatalf("call %d: Mode = %s, want manual", i, got)
		}
	}
	if !relay.active {
		t.Error("relay inactive during manual watering")
	}
	if got := c.State().WateringStartedAt; !got.Equal(t0) {
		t.Errorf("WateringStartedAt = %s, want first command time %s", got, t0)
	}
	for _, p := range pub.payloads(testTopics.Status()) {
		if p != string(model.StatusWateringMan) {
			t.Errorf("status payload = %q, want WATERING.MAN", p)
		}
	}
}

func TestManualOff(t *testing.T) {
	c, relay, pub := newTestController(time.Minute)
	c.OnManualCommand(true, t0)
	if err := c.OnManualCommand(false, t0.Add(time.Minute)); err != nil {
		t.Fatalf("OnManualCommand(false) error = %v", err)
	}
	if st := c.State(); st.Mode != model.ModeIdle || !st.WateringStartedAt.IsZero() {
		t.Errorf("State() = %+v, want idle with zero start", st)
	}
	if relay.active {
		t.Error("relay still active")
	}
	want := []string{"WATERING.MAN", "ALIVE"}
	if got := pub.payloads(testTopics.Status()); !reflect.DeepEqual(got, want) {
		t.Errorf("status payloads = %v, want %v", got, want)
	}
}

func TestScheduledTriggerDuringManualIsIgnored(t *testing.T) {
	c, relay, pub := newTestController(time.Minute)
	c.OnManualCommand(true, t0)
	before := c.State()
	calls := len(relay.calls)
	msgs := len(pub.msgs)

	c.OnScheduledTrigger(t0.Add(time.Second))

	if c.State() != before {
		t.Errorf("State() = %+v, want unchanged %+v", c.State(), before)
	}
	if len(relay.calls) != calls {
		t.Error("relay touched by scheduled trigger during manual watering")
	}
	if len(pub.msgs) != msgs {
		t.Error("scheduled trigger during manual watering published")
	}
}

func TestScheduledTriggerFromIdle(t *testing.T) {
	rec := &fakeRecorder{}
	c, relay, pub := newTestController(time.Minute, WithRecorder(rec))

	c.OnScheduledTrigger(t0)

	st := c.State()
	if st.Mode != model.ModeAuto {
		t.Fatalf("Mode = %s, want auto", st.Mode)
	}
	if !st.WateringStartedAt.Equal(t0) {
		t.Errorf("WateringStartedAt = %s, want %s", st.WateringStartedAt, t0)
	}
	if !relay.active {
		t.Error("relay inactive after scheduled trigger")
	}
	if got := pub.payloads(testTopics.Status()); !reflect.DeepEqual(got, []string{"WATERING.AUTO"}) {
		t.Errorf("status payloads = %v", got)
	}
	if got := pub.payloads(testTopics.Trigger()); !reflect.DeepEqual(got, []string{"AUTO.ON"}) {
		t.Errorf("trigger payloads = %v", got)
	}
	if len(rec.events) != 1 || rec.events[0].Action != model.WateringOn || rec.events[0].SessionID == "" {
		t.Errorf("recorded events = %+v", rec.events)
	}

	c.OnScheduledTrigger(t0.Add(time.Second))
	if !c.State().WateringStartedAt.Equal(t0) {
		t.Error("second trigger restarted the session")
	}
}

func TestAutoStopsExactlyOnceAtDuration(t *testing.T) {
	c, relay, pub := newTestController(10 * time.Second)
	c.OnScheduledTrigger(t0)

	for ms := 0; ms < 10000; ms += 250 {
		c.Tick(t0.Add(time.Duration(ms) * time.Millisecond))
		if c.State().Mode != model.ModeAuto {
			t.Fatalf("stopped early at %dms", ms)
		}
	}
	c.Tick(t0.Add(10 * time.Second))
	if c.State().Mode != model.ModeIdle {
		t.Fatal("still watering at elapsed == duration")
	}
	c.Tick(t0.Add(11 * time.Second))

	if !reflect.DeepEqual(relay.calls, []bool{true, false}) {
		t.Errorf("relay calls = %v, want [true false]", relay.calls)
	}
	if got := pub.payloads(testTopics.Trigger()); !reflect.DeepEqual(got, []string{"AUTO.ON", "AUTO.OFF"}) {
		t.Errorf("trigger payloads = %v", got)
	}
	if got := pub.payloads(testTopics.Status()); !reflect.DeepEqual(got, []string{"WATERING.AUTO", "ALIVE"}) {
		t.Errorf("status payloads = %v", got)
	}
}

func TestManualOverridesAuto(t *testing.T) {
	rec := &fakeRecorder{}
	c, relay, pub := newTestController(time.Hour, WithRecorder(rec))
	c.OnScheduledTrigger(t0)

	if err := c.OnManualCommand(true, t0.Add(time.Minute)); err != nil {
		t.Fatalf("OnManualCommand(true) error = %v", err)
	}
	st := c.State()
	if st.Mode != model.ModeManual || !st.WateringStartedAt.Equal(t0.Add(time.Minute)) {
		t.Errorf("State() = %+v, want manual started at override", st)
	}
	if !relay.active {
		t.Error("relay inactive after override")
	}
	if got := pub.payloads(testTopics.Trigger()); !reflect.DeepEqual(got, []string{"AUTO.ON", "AUTO.OFF"}) {
		t.Errorf("trigger payloads = %v", got)
	}
	// the auto duration no longer applies
	c.Tick(t0.Add(2 * time.Hour))
	if c.State().Mode != model.ModeManual {
		t.Error("manual session stopped by automatic duration")
	}
	if n := len(rec.events); n != 3 {
		t.Errorf("recorded %d events, want 3 (auto on, auto off, manual on)", n)
	}
}

func TestManualOffEndsAuto(t *testing.T) {
	c, relay, pub := newTestController(time.Hour)
	c.OnScheduledTrigger(t0)
	c.OnManualCommand(false, t0.Add(time.Minute))

	if c.State().Mode != model.ModeIdle || relay.active {
		t.Errorf("State() = %+v relay=%v, want idle and off", c.State(), relay.active)
	}
	if got := pub.payloads(testTopics.Trigger()); !reflect.DeepEqual(got, []string{"AUTO.ON", "AUTO.OFF"}) {
		t.Errorf("trigger payloads = %v", got)
	}
}

func TestActuatorFaultRefusesTransition(t *testing.T) {
	c, relay, pub := newTestController(time.Minute)
	relay.err = errors.New("gpio busy")

	err := c.OnManualCommand(true, t0)
	if !errors.Is(err, ErrActuatorFault) {
		t.Fatalf("OnManualCommand() error = %v, want ErrActuatorFault", err)
	}
	c.OnScheduledTrigger(t0)
	if c.State().Mode != model.ModeIdle {
		t.Errorf("Mode = %s after faults, want idle", c.State().Mode)
	}
	if len(pub.msgs) != 0 {
		t.Errorf("published %v despite fault", pub.msgs)
	}
}

func TestFaultOnStopKeepsAuto(t *testing.T) {
	c, relay, _ := newTestController(time.Second)
	c.OnScheduledTrigger(t0)
	relay.err = errors.New("gpio busy")

	c.Tick(t0.Add(2 * time.Second))
	if c.State().Mode != model.ModeAuto {
		t.Fatal("state left auto although relay could not be switched off")
	}
	relay.err = nil
	c.Tick(t0.Add(3 * time.Second))
	if c.State().Mode != model.ModeIdle || relay.active {
		t.Error("auto session not stopped once relay recovered")
	}
}

func TestMaxManualRun(t *testing.T) {
	c, relay, pub := newTestController(time.Minute, WithMaxManualRun(30*time.Minute))
	c.OnManualCommand(true, t0)

	c.Tick(t0.Add(29 * time.Minute))
	if c.State().Mode != model.ModeManual {
		t.Fatal("manual session stopped before limit")
	}
	c.Tick(t0.Add(30 * time.Minute))
	if c.State().Mode != model.ModeIdle || relay.active {
		t.Fatal("manual session not stopped at limit")
	}
	if got := pub.payloads(testTopics.Status()); !reflect.DeepEqual(got, []string{"WATERING.MAN", "ALIVE"}) {
		t.Errorf("status payloads = %v", got)
	}
}

func TestTriggerWithoutDurationIsSkipped(t *testing.T) {
	c, relay, _ := newTestController(0)
	c.OnScheduledTrigger(t0)
	if c.State().Mode != model.ModeIdle || len(relay.calls) != 0 {
		t.Error("unconfigured trigger started watering")
	}
}

func TestPublishFailureDoesNotChangeState(t *testing.T) {
	c, relay, pub := newTestController(time.Minute)
	pub.err = errors.New("not connected")

	c.OnScheduledTrigger(t0)
	if c.State().Mode != model.ModeAuto || !relay.active {
		t.Error("publish failure blocked the transition")
	}
}

func TestShutdownClosesRelay(t *testing.T) {
	rec := &fakeRecorder{}
	c, relay, pub := newTestController(time.Minute, WithRecorder(rec))
	c.OnScheduledTrigger(t0)
	before := len(pub.msgs)

	if err := c.Shutdown(t0.Add(10 * time.Second)); err != nil {
		t.Fatalf("Shutdown() error = %v", err)
	}
	if relay.active || c.State().Watering() {
		t.Error("still watering after shutdown")
	}
	if len(pub.msgs) != before {
		t.Errorf("shutdown published %v", pub.msgs[before:])
	}
	last := rec.events[len(rec.events)-1]
	if last.Action != model.WateringOff || last.Reason != "shutdown" {
		t.Errorf("last event = %+v, want off/shutdown", last)
	}
}
