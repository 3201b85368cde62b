// Package sprinkler holds the actuator state machine and the watering
// configuration that drives it.
package sprinkler

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/LeonardoBeccarini/sdcc_sprinkler/internal/model"
)

var ErrActuatorFault = errors.New("actuator fault")

// Actuator switches the physical relay.
type Actuator interface {
	SetActive(active bool) error
}

// Publisher is the best-effort outbound side of the broker session.
type Publisher interface {
	Publish(topic string, payload []byte, retained bool) error
}

// Recorder keeps watering history. Implementations must not block.
type Recorder interface {
	Record(evt model.WateringEvent)
}

// DurationSource yields the configured automatic watering duration.
type DurationSource interface {
	Duration() (time.Duration, bool)
}

// Metrics receives controller observations; nil disables them.
type Metrics interface {
	RelayChanged(active bool)
	SessionStarted(mode model.Mode)
	PublishFailed(topic string)
}

// Controller arbitrates the single relay between manual commands and
// scheduled triggers. Manual and automatic watering are mutually exclusive;
// a manual command always takes over an automatic session.
type Controller struct {
	state     model.SprinklerState
	sessionID string

	relay     Actuator
	publisher Publisher
	recorder  Recorder
	durations DurationSource
	metrics   Metrics
	topics    model.Topics
	log       *logrus.Entry

	// maxManualRun stops a manual session after this long; zero disables it.
	maxManualRun time.Duration
}

type Option func(*Controller)

func WithRecorder(r Recorder) Option { return func(c *Controller) { c.recorder = r } }

func WithMetrics(m Metrics) Option { return func(c *Controller) { c.metrics = m } }

func WithMaxManualRun(d time.Duration) Option { return func(c *Controller) { c.maxManualRun = d } }

func NewController(relay Actuator, pub Publisher, durations DurationSource, topics model.Topics, log *logrus.Entry, opts ...Option) *Controller {
	c := &Controller{
		relay:     relay,
		publisher: pub,
		durations: durations,
		topics:    topics,
		log:       log,
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

func (c *Controller) State() model.SprinklerState { return c.state }

// Status is the externally visible projection of the current state.
func (c *Controller) Status() model.Status { return c.state.Status() }

// OnScheduledTrigger starts an automatic session from Idle. It does nothing
// while a manual session runs, while already in Auto, or when no duration
// is configured.
func (c *Controller) OnScheduledTrigger(now time.Time) {
	switch c.state.Mode {
	case model.ModeManual:
		c.log.Info("scheduled watering cancelled: manual watering in progress")
		return
	case model.ModeAuto:
		c.log.Debug("scheduled watering ignored: already watering")
		return
	}
	if _, ok := c.durations.Duration(); !ok {
		c.log.Warn("scheduled watering skipped: watering duration not configured")
		return
	}
	if err := c.setRelay(true); err != nil {
		c.log.Errorf("scheduled watering not started: %v", err)
		return
	}
	c.begin(model.ModeAuto, now, "schedule")
	c.publishStatus()
	c.publishTrigger(model.TriggerAutoOn)
}

// OnManualCommand switches manual watering on or off. An automatic session
// in progress is ended first.
func (c *Controller) OnManualCommand(on bool, now time.Time) error {
	if on {
		if c.state.Mode == model.ModeManual {
			c.publishStatus()
			return nil
		}
		if err := c.setRelay(true); err != nil {
			return err
		}
		if c.state.Mode == model.ModeAuto {
			c.end(now, "override")
			c.publishTrigger(model.TriggerAutoOff)
		}
		c.begin(model.ModeManual, now, "manual")
		c.publishStatus()
		return nil
	}

	if err := c.setRelay(false); err != nil {
		return err
	}
	wasAuto := c.state.Mode == model.ModeAuto
	if c.state.Watering() {
		c.end(now, "manual")
	}
	c.publishStatus()
	if wasAuto {
		c.publishTrigger(model.TriggerAutoOff)
	}
	return nil
}

// Tick ends an automatic session once the configured duration elapsed and a
// manual one once the maximum manual run time elapsed.
func (c *Controller) Tick(now time.Time) {
	elapsed := now.Sub(c.state.WateringStartedAt)
	switch c.state.Mode {
	case model.ModeAuto:
		limit, ok := c.durations.Duration()
		if ok && elapsed < limit {
			return
		}
		if err := c.setRelay(false); err != nil {
			c.log.Errorf("automatic watering not stopped: %v", err)
			return
		}
		c.end(now, "duration")
		c.publishStatus()
		c.publishTrigger(model.TriggerAutoOff)
	case model.ModeManual:
		if c.maxManualRun <= 0 || elapsed < c.maxManualRun {
			return
		}
		if err := c.setRelay(false); err != nil {
			c.log.Errorf("manual watering not stopped: %v", err)
			return
		}
		c.log.Warnf("manual watering stopped after maximum run time %s", c.maxManualRun)
		c.end(now, "max-run")
		c.publishStatus()
	}
}

// Shutdown closes the relay and ends any running session. Nothing is
// published; the broker session is going away.
func (c *Controller) Shutdown(now time.Time) error {
	if err := c.setRelay(false); err != nil {
		return err
	}
	if c.state.Watering() {
		c.end(now, "shutdown")
	}
	return nil
}

func (c *Controller) setRelay(active bool) error {
	if err := c.relay.SetActive(active); err != nil {
		return fmt.Errorf("%w: set relay %v: %v", ErrActuatorFault, active, err)
	}
	if c.metrics != nil {
		c.metrics.RelayChanged(active)
	}
	return nil
}

func (c *Controller) begin(mode model.Mode, now time.Time, reason string) {
	c.state = model.SprinklerState{Mode: mode, WateringStartedAt: now}
	c.sessionID = uuid.NewString()
	c.log.Infof("%s watering started", mode)
	if c.metrics != nil {
		c.metrics.SessionStarted(mode)
	}
	c.record(model.WateringOn, now, reason)
}

func (c *Controller) end(now time.Time, reason string) {
	c.log.Infof("%s watering stopped after %s (%s)", c.state.Mode, now.Sub(c.state.WateringStartedAt), reason)
	c.record(model.WateringOff, now, reason)
	c.state = model.SprinklerState{Mode: model.ModeIdle}
	c.sessionID = ""
}

func (c *Controller) record(action model.WateringAction, now time.Time, reason string) {
	if c.recorder == nil {
		return
	}
	c.recorder.Record(model.WateringEvent{
		SessionID: c.sessionID,
		DeviceID:  c.topics.DeviceID(),
		Mode:      c.state.Mode,
		Action:    action,
		StartedAt: c.state.WateringStartedAt,
		Elapsed:   now.Sub(c.state.WateringStartedAt),
		Reason:    reason,
		Timestamp: now,
	})
}

func (c *Controller) publishStatus() {
	c.publish(c.topics.Status(), string(c.Status()), true)
}

func (c *Controller) publishTrigger(evt model.TriggerEvent) {
	c.publish(c.topics.Trigger(), string(evt), false)
}

func (c *Controller) publish(topic, payload string, retained bool) {
	if err := c.publisher.Publish(topic, []byte(payload), retained); err != nil {
		c.log.Warnf("publish %s to %s dropped: %v", payload, topic, err)
		if c.metrics != nil {
			c.metrics.PublishFailed(topic)
		}
	}
}
