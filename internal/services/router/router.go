// Package router turns inbound broker messages into configuration updates
// and actuator commands through a route table built once at startup.
package router

import (
	"context"
	"strings"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/LeonardoBeccarini/sdcc_sprinkler/internal/model"
)

type Route int

const (
	RouteUnknown Route = iota
	RouteConfigCron
	RouteConfigDuration
	RouteTrigger
	RouteFirmwareUpdate
)

func (r Route) String() string {
	switch r {
	case RouteConfigCron:
		return "config/cron"
	case RouteConfigDuration:
		return "config/duration"
	case RouteTrigger:
		return "trigger"
	case RouteFirmwareUpdate:
		return "firmware-update"
	default:
		return "unknown"
	}
}

// Config is the configuration side of the device.
type Config interface {
	SetTriggerExpression(expression string) error
	SetDuration(payload string) error
	TryActivate() (bool, error)
}

// Actuator receives manual commands.
type Actuator interface {
	OnManualCommand(on bool, now time.Time) error
}

type UpdateResult int

const (
	UpdateNone UpdateResult = iota
	UpdateApplied
	UpdateFailed
)

func (r UpdateResult) String() string {
	switch r {
	case UpdateApplied:
		return "applied"
	case UpdateFailed:
		return "failed"
	default:
		return "none"
	}
}

// Updater checks for and applies a firmware update.
type Updater interface {
	CheckAndApply(ctx context.Context) (UpdateResult, error)
}

// Metrics receives routing observations; nil disables them.
type Metrics interface {
	Routed(route string)
}

type handler func(ctx context.Context, payload string, now time.Time)

type Router struct {
	routes   map[string]Route
	handlers map[Route]handler

	config   Config
	actuator Actuator
	updater  Updater
	metrics  Metrics
	log      *logrus.Entry

	updating atomic.Bool

	// updateDone, when set, runs after every background update.
	updateDone func()
}

func New(topics model.Topics, firmwareTopic string, cfg Config, act Actuator, upd Updater, log *logrus.Entry) *Router {
	if firmwareTopic == "" {
		firmwareTopic = model.DefaultFirmwareTopic
	}
	r := &Router{
		config:   cfg,
		actuator: act,
		updater:  upd,
		log:      log,
	}
	r.routes = map[string]Route{
		topics.ConfigCron():     RouteConfigCron,
		topics.ConfigDuration(): RouteConfigDuration,
		topics.Trigger():        RouteTrigger,
		firmwareTopic:           RouteFirmwareUpdate,
	}
	r.handlers = map[Route]handler{
		RouteConfigCron:     r.onCron,
		RouteConfigDuration: r.onDuration,
		RouteTrigger:        r.onTrigger,
		RouteFirmwareUpdate: r.onFirmwareUpdate,
	}
	return r
}

func (r *Router) SetMetrics(m Metrics) { r.metrics = m }

// Lookup returns the route for topic, RouteUnknown when none matches.
func (r *Router) Lookup(topic string) Route { return r.routes[topic] }

// Route dispatches one inbound message. Unknown topics are ignored.
func (r *Router) Route(ctx context.Context, topic string, payload []byte, now time.Time) Route {
	route := r.Lookup(topic)
	h, ok := r.handlers[route]
	if !ok {
		r.log.Debugf("ignoring message on %s", topic)
		return RouteUnknown
	}
	if r.metrics != nil {
		r.metrics.Routed(route.String())
	}
	h(ctx, string(payload), now)
	return route
}

func (r *Router) onCron(_ context.Context, payload string, _ time.Time) {
	if err := r.config.SetTriggerExpression(payload); err != nil {
		r.log.Warnf("cron config rejected: %v", err)
		return
	}
	r.activate()
}

func (r *Router) onDuration(_ context.Context, payload string, _ time.Time) {
	if err := r.config.SetDuration(payload); err != nil {
		r.log.Warnf("duration config rejected: %v", err)
		return
	}
	r.activate()
}

func (r *Router) activate() {
	if _, err := r.config.TryActivate(); err != nil {
		r.log.Errorf("watering schedule not installed: %v", err)
	}
}

func (r *Router) onTrigger(_ context.Context, payload string, now time.Time) {
	var on bool
	switch strings.TrimSpace(payload) {
	case model.CommandManualOn:
		on = true
	case model.CommandManualOff:
		on = false
	default:
		// includes the device's own AUTO.ON/AUTO.OFF echoes
		return
	}
	if err := r.actuator.OnManualCommand(on, now); err != nil {
		r.log.Errorf("manual command %s failed: %v", payload, err)
	}
}

// onFirmwareUpdate runs the updater in the background; a request arriving
// while a check is running is dropped.
func (r *Router) onFirmwareUpdate(ctx context.Context, _ string, _ time.Time) {
	if r.updater == nil {
		r.log.Info("firmware update requested but no updater configured")
		return
	}
	if !r.updating.CompareAndSwap(false, true) {
		r.log.Info("firmware update already in progress")
		return
	}
	go func() {
		if r.updateDone != nil {
			defer r.updateDone()
		}
		defer r.updating.Store(false)
		res, err := r.updater.CheckAndApply(ctx)
		if err != nil {
			r.log.Errorf("firmware update %s: %v", res, err)
			return
		}
		r.log.Infof("firmware update finished: %s", res)
	}()
}
