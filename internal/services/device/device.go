// Package device wires the node's components into a single aggregate driven
// by one goroutine. Every state mutation happens inside Tick.
package device

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/LeonardoBeccarini/sdcc_sprinkler/internal/clock"
	"github.com/LeonardoBeccarini/sdcc_sprinkler/internal/metrics"
	"github.com/LeonardoBeccarini/sdcc_sprinkler/internal/model"
	"github.com/LeonardoBeccarini/sdcc_sprinkler/internal/services/connectivity"
	"github.com/LeonardoBeccarini/sdcc_sprinkler/internal/services/router"
	"github.com/LeonardoBeccarini/sdcc_sprinkler/internal/services/scheduler"
	"github.com/LeonardoBeccarini/sdcc_sprinkler/internal/services/sensor"
	"github.com/LeonardoBeccarini/sdcc_sprinkler/internal/services/sprinkler"
)

const DefaultTickInterval = 200 * time.Millisecond

type Options struct {
	ID            model.DeviceID
	FirmwareTopic string

	Transport  connectivity.Transport
	TimeSource clock.Source
	Relay      sprinkler.Actuator

	// Optional collaborators.
	Settings sprinkler.SettingsStore
	Recorder sprinkler.Recorder
	Updater  router.Updater
	Sensors  sensor.Reader
	Metrics  *metrics.Collector

	Location       *time.Location
	SyncInterval   time.Duration
	SyncRetry      time.Duration
	RetryDelay     time.Duration
	AttemptTimeout time.Duration
	TickInterval   time.Duration
	SensorSchedule string
	SampleSchedule string
	MaxManualRun   time.Duration
}

// Snapshot is a read-only view of the device published after every tick.
type Snapshot struct {
	DeviceID   model.DeviceID
	Session    connectivity.SessionStatus
	Mode       model.Mode
	Status     model.Status
	Configured bool
	TimeSynced bool
	UpdatedAt  time.Time

	// NextWatering is zero when no watering job is installed.
	NextWatering time.Time
}

type Device struct {
	id     model.DeviceID
	topics model.Topics
	log    *logrus.Entry

	clock    *clock.Clock
	conn     *connectivity.Manager
	sched    *scheduler.Engine
	config   *sprinkler.ConfigStore
	ctrl     *sprinkler.Controller
	router   *router.Router
	reporter *sensor.Reporter

	tickInterval   time.Duration
	sensorSchedule string
	sampleSchedule string
	reportJob      scheduler.JobID

	snapshot atomic.Pointer[Snapshot]
}

func New(opts Options, log *logrus.Entry) (*Device, error) {
	if opts.Transport == nil || opts.TimeSource == nil || opts.Relay == nil {
		return nil, errors.New("device: transport, time source and relay are required")
	}
	if opts.TickInterval <= 0 {
		opts.TickInterval = DefaultTickInterval
	}
	if opts.SensorSchedule == "" {
		opts.SensorSchedule = sensor.DefaultSchedule
	}
	if opts.SampleSchedule == "" {
		opts.SampleSchedule = sensor.DefaultSampleSchedule
	}
	if opts.FirmwareTopic == "" {
		opts.FirmwareTopic = model.DefaultFirmwareTopic
	}

	d := &Device{
		id:             opts.ID,
		topics:         model.NewTopics(opts.ID),
		log:            log,
		tickInterval:   opts.TickInterval,
		sensorSchedule: opts.SensorSchedule,
		sampleSchedule: opts.SampleSchedule,
	}
	component := func(name string) *logrus.Entry { return log.WithField("component", name) }

	d.clock = clock.New(opts.TimeSource, opts.SyncInterval, opts.SyncRetry, opts.Location, component("clock"))
	d.sched = scheduler.New(component("scheduler"))
	d.conn = connectivity.NewManager(connectivity.Config{
		Topics:         d.topics,
		FirmwareTopic:  opts.FirmwareTopic,
		RetryDelay:     opts.RetryDelay,
		AttemptTimeout: opts.AttemptTimeout,
	}, opts.Transport, d.clock, component("connectivity"))

	d.config = sprinkler.NewConfigStore(d.sched, opts.Settings,
		func(now time.Time) { d.ctrl.OnScheduledTrigger(now) },
		d.publishStatus,
		component("config"))

	ctrlOpts := []sprinkler.Option{sprinkler.WithMaxManualRun(opts.MaxManualRun)}
	if opts.Recorder != nil {
		ctrlOpts = append(ctrlOpts, sprinkler.WithRecorder(opts.Recorder))
	}
	if opts.Metrics != nil {
		ctrlOpts = append(ctrlOpts, sprinkler.WithMetrics(opts.Metrics))
	}
	d.ctrl = sprinkler.NewController(opts.Relay, d.conn, d.config, d.topics, component("sprinkler"), ctrlOpts...)

	d.router = router.New(d.topics, opts.FirmwareTopic, d.config, d.ctrl, opts.Updater, component("router"))

	if opts.Sensors != nil {
		d.reporter = sensor.NewReporter(opts.Sensors, d.conn, d.topics, component("sensor"))
	}

	if m := opts.Metrics; m != nil {
		d.conn.SetMetrics(m)
		d.router.SetMetrics(m)
		d.sched.OnFire = func(scheduler.JobID) { m.JobFired() }
	}
	d.conn.OnConnected(d.onConnected)
	d.publishSnapshot()
	return d, nil
}

func (d *Device) ID() model.DeviceID { return d.id }

// Snapshot returns the state published by the last tick.
func (d *Device) Snapshot() Snapshot { return *d.snapshot.Load() }

// Start restores the stored configuration, installs the watering job when
// complete and registers the sensor jobs.
func (d *Device) Start(ctx context.Context) error {
	if err := d.config.Restore(ctx); err != nil {
		d.log.Warnf("stored configuration not loaded: %v", err)
	}
	if _, err := d.config.TryActivate(); err != nil {
		d.log.Errorf("stored configuration not activated: %v", err)
	}
	if d.reporter != nil {
		if _, err := d.sched.Register(d.sampleSchedule, d.reporter.Sample); err != nil {
			return fmt.Errorf("sensor sample schedule: %w", err)
		}
		id, err := d.sched.Register(d.sensorSchedule, d.reporter.Report)
		if err != nil {
			return fmt.Errorf("sensor schedule: %w", err)
		}
		d.reportJob = id
	}
	d.log.Infof("device %s started", d.id)
	return nil
}

// Run starts the device and drives it until ctx is cancelled.
func (d *Device) Run(ctx context.Context) error {
	if err := d.Start(ctx); err != nil {
		return err
	}
	ticker := time.NewTicker(d.tickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			d.shutdown()
			return nil
		case <-ticker.C:
			d.Tick(ctx)
		}
	}
}

// Tick runs one driving iteration. Connectivity is handled before inbound
// messages are routed so a fresh session is fully subscribed first.
func (d *Device) Tick(ctx context.Context) {
	d.clock.Tick(ctx)
	now := d.clock.Now()

	d.conn.Tick(ctx, now)
	if d.reportJob != 0 {
		// samples keep accumulating while reports are paused
		d.sched.SetEnabled(d.reportJob, d.conn.IsConnected())
	}
	d.conn.Drain(func(topic string, payload []byte) {
		d.router.Route(ctx, topic, payload, now)
	})
	d.sched.Tick(now)
	d.ctrl.Tick(now)

	d.publishSnapshot()
}

// onConnected announces the device on every new session.
func (d *Device) onConnected() {
	if !d.config.Configured() {
		d.publish(d.topics.Status(), model.StatusInit)
		return
	}
	d.publishStatus()
}

func (d *Device) publishStatus() {
	d.publish(d.topics.Status(), d.ctrl.Status())
}

func (d *Device) publish(topic string, status model.Status) {
	if err := d.conn.Publish(topic, []byte(status), true); err != nil {
		d.log.Debugf("status %s not published: %v", status, err)
	}
}

func (d *Device) shutdown() {
	if err := d.ctrl.Shutdown(d.clock.Now()); err != nil {
		d.log.Errorf("relay not closed on shutdown: %v", err)
	}
	if d.conn.IsConnected() {
		d.publish(d.topics.Status(), model.StatusDead)
	}
	d.conn.Close()
	d.log.Info("device stopped")
}

func (d *Device) publishSnapshot() {
	st := d.ctrl.State()
	now := d.clock.Now()
	snap := &Snapshot{
		DeviceID:   d.id,
		Session:    d.conn.State().Session,
		Mode:       st.Mode,
		Status:     st.Status(),
		Configured: d.config.Configured(),
		TimeSynced: d.clock.Synced(),
		UpdatedAt:  now,
	}
	if id, ok := d.config.JobID(); ok {
		snap.NextWatering, _ = d.sched.Next(id, now)
	}
	d.snapshot.Store(snap)
}
