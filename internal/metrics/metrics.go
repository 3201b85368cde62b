// Package metrics exposes the node's Prometheus collectors. A Collector
// satisfies the metrics hooks of the controller, the connectivity manager and
// the router.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/LeonardoBeccarini/sdcc_sprinkler/internal/model"
)

const namespace = "sprinkler"

type Collector struct {
	registry *prometheus.Registry

	reconnects     *prometheus.CounterVec
	connected      prometheus.Gauge
	inboundDropped prometheus.Counter
	routed         *prometheus.CounterVec
	relay          prometheus.Gauge
	sessions       *prometheus.CounterVec
	publishFailed  *prometheus.CounterVec
	jobFires       prometheus.Counter
}

func New() *Collector {
	c := &Collector{
		reconnects: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "broker",
			Name:      "connect_attempts_total",
			Help:      "Broker session attempts by outcome.",
		}, []string{"outcome"}),
		connected: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "broker",
			Name:      "connected",
			Help:      "1 while a broker session is established.",
		}),
		inboundDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "broker",
			Name:      "inbound_dropped_total",
			Help:      "Inbound messages dropped because the queue was full.",
		}),
		routed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "router",
			Name:      "messages_total",
			Help:      "Inbound messages by route.",
		}, []string{"route"}),
		relay: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "relay",
			Name:      "active",
			Help:      "1 while the relay is open.",
		}),
		sessions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "watering",
			Name:      "sessions_total",
			Help:      "Watering sessions started by mode.",
		}, []string{"mode"}),
		publishFailed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "broker",
			Name:      "publish_failures_total",
			Help:      "Dropped publishes by topic.",
		}, []string{"topic"}),
		jobFires: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "scheduler",
			Name:      "fires_total",
			Help:      "Scheduled job executions.",
		}),
	}
	c.registry = prometheus.NewRegistry()
	c.registry.MustRegister(
		c.reconnects, c.connected, c.inboundDropped, c.routed,
		c.relay, c.sessions, c.publishFailed, c.jobFires,
		collectors.NewGoCollector(),
	)
	return c
}

// Handler serves the collectors in the Prometheus text format.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{Registry: c.registry})
}

func (c *Collector) ReconnectAttempt(ok bool) {
	if ok {
		c.reconnects.WithLabelValues("success").Inc()
		return
	}
	c.reconnects.WithLabelValues("failure").Inc()
}

func (c *Collector) Connected(up bool) { c.connected.Set(boolToFloat(up)) }

func (c *Collector) InboundDropped() { c.inboundDropped.Inc() }

func (c *Collector) Routed(route string) { c.routed.WithLabelValues(route).Inc() }

func (c *Collector) RelayChanged(active bool) { c.relay.Set(boolToFloat(active)) }

func (c *Collector) SessionStarted(mode model.Mode) { c.sessions.WithLabelValues(mode.String()).Inc() }

func (c *Collector) PublishFailed(topic string) { c.publishFailed.WithLabelValues(topic).Inc() }

func (c *Collector) JobFired() { c.jobFires.Inc() }

func boolToFloat(b bool) float64 {
	if b {
		return 1
	}
	return 0
}
