// Package connectivity owns the broker session lifecycle: last-will
// registration, subscriptions, loss detection and fixed-delay reconnection.
//
// Every exported method except DeliverInbound must be called from the single
// goroutine that drives the device. Session attempts run on a helper
// goroutine and report back through a channel consumed by Poll.
package connectivity

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/sirupsen/logrus"

	"github.com/LeonardoBeccarini/sdcc_sprinkler/internal/model"
	"github.com/LeonardoBeccarini/sdcc_sprinkler/pkg/broker"
	"github.com/LeonardoBeccarini/sdcc_sprinkler/pkg/dedup"
)

var (
	ErrNotConnected = errors.New("not connected to broker")
	ErrConnection   = errors.New("broker connection failed")
)

const (
	DefaultRetryDelay     = 5 * time.Second
	DefaultAttemptTimeout = 15 * time.Second
	inboundBuffer         = 64
)

// Transport is the publish/subscribe session the manager drives.
type Transport interface {
	Connect(ctx context.Context, will broker.Will) error
	Subscribe(ctx context.Context, topics []string, handler func(broker.Message)) error
	Publish(topic string, payload []byte, retained bool) error
	IsConnected() bool
	Disconnect()
}

// Resyncer is asked for a fresh time sync after every new session.
type Resyncer interface {
	ForceResync()
}

// Metrics receives connection observations; nil disables them.
type Metrics interface {
	ReconnectAttempt(ok bool)
	Connected(up bool)
	InboundDropped()
}

type SessionStatus int

const (
	Disconnected SessionStatus = iota
	Connecting
	Connected
)

func (s SessionStatus) String() string {
	switch s {
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	default:
		return "disconnected"
	}
}

// State is the connection state owned by the manager.
type State struct {
	Session             SessionStatus
	ReconnectInProgress bool
}

type Config struct {
	Topics        model.Topics
	FirmwareTopic string

	// RetryDelay is the fixed wait after a failed attempt.
	RetryDelay     time.Duration
	AttemptTimeout time.Duration
}

type Manager struct {
	transport Transport
	clock     Resyncer
	metrics   Metrics
	log       *logrus.Entry

	will          broker.Will
	subscriptions []string
	retry         backoff.BackOff
	timeout       time.Duration

	state       State
	nextAttempt time.Time
	results     chan error
	cancel      context.CancelFunc

	inbound chan broker.Message
	dedup   *dedup.Deduper

	onConnected func()
}

func NewManager(cfg Config, transport Transport, clock Resyncer, log *logrus.Entry) *Manager {
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = DefaultRetryDelay
	}
	if cfg.AttemptTimeout <= 0 {
		cfg.AttemptTimeout = DefaultAttemptTimeout
	}
	if cfg.FirmwareTopic == "" {
		cfg.FirmwareTopic = model.DefaultFirmwareTopic
	}
	return &Manager{
		transport: transport,
		clock:     clock,
		log:       log,
		will: broker.Will{
			Topic:    cfg.Topics.Status(),
			Payload:  []byte(model.StatusDead),
			QoS:      1,
			Retained: true,
		},
		subscriptions: []string{
			cfg.Topics.Trigger(),
			cfg.Topics.ConfigWildcard(),
			cfg.FirmwareTopic,
		},
		retry:   backoff.NewConstantBackOff(cfg.RetryDelay),
		timeout: cfg.AttemptTimeout,
		results: make(chan error, 1),
		inbound: make(chan broker.Message, inboundBuffer),
		dedup:   dedup.New(2*time.Minute, 256),
	}
}

func (m *Manager) SetMetrics(metrics Metrics) { m.metrics = metrics }

// OnConnected registers a hook run on the owner goroutine after every new session.
func (m *Manager) OnConnected(fn func()) { m.onConnected = fn }

func (m *Manager) State() State { return m.state }

// IsConnected reports whether a session is established and the transport is alive.
func (m *Manager) IsConnected() bool {
	return m.state.Session == Connected && m.transport.IsConnected()
}

// Tick applies finished attempts, detects a lost session and starts a new
// attempt when one is due.
func (m *Manager) Tick(ctx context.Context, now time.Time) {
	m.Poll(now)
	if !m.IsConnected() {
		m.AttemptReconnect(ctx, now)
	}
}

// AttemptReconnect starts a session attempt unless already connected, an
// attempt is in flight, or the retry delay after the last failure has not
// passed. It returns the connection status at the time of the call; the
// outcome of a started attempt is applied by a later Poll.
func (m *Manager) AttemptReconnect(ctx context.Context, now time.Time) bool {
	if m.IsConnected() || m.state.ReconnectInProgress {
		return m.IsConnected()
	}
	if now.Before(m.nextAttempt) {
		return false
	}

	m.state.ReconnectInProgress = true
	m.state.Session = Connecting
	m.log.Infof("attempting broker connection (will on %s)", m.will.Topic)

	actx, cancel := context.WithTimeout(ctx, m.timeout)
	m.cancel = cancel
	go m.open(actx)
	return false
}

// open runs on its own goroutine and always reports exactly one result.
func (m *Manager) open(ctx context.Context) {
	var err error
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: transport panic: %v", ErrConnection, r)
		}
		m.results <- err
	}()

	if err = m.transport.Connect(ctx, m.will); err != nil {
		err = fmt.Errorf("%w: %v", ErrConnection, err)
		return
	}
	if err = m.transport.Subscribe(ctx, m.subscriptions, m.DeliverInbound); err != nil {
		m.transport.Disconnect()
		err = fmt.Errorf("%w: %v", ErrConnection, err)
	}
}

// Poll applies the result of a finished attempt and notices session loss.
func (m *Manager) Poll(now time.Time) {
	select {
	case err := <-m.results:
		m.finish(err, now)
	default:
	}

	if m.state.Session == Connected && !m.transport.IsConnected() {
		m.state.Session = Disconnected
		m.log.Warn("broker session lost")
		if m.metrics != nil {
			m.metrics.Connected(false)
		}
	}
}

func (m *Manager) finish(err error, now time.Time) {
	m.state.ReconnectInProgress = false
	if m.cancel != nil {
		m.cancel()
		m.cancel = nil
	}
	if m.metrics != nil {
		m.metrics.ReconnectAttempt(err == nil)
	}

	if err != nil {
		m.state.Session = Disconnected
		delay := m.retry.NextBackOff()
		if delay == backoff.Stop {
			delay = DefaultRetryDelay
		}
		m.nextAttempt = now.Add(delay)
		m.log.Warnf("failed to connect, retrying in %s: %v", delay, err)
		return
	}

	m.state.Session = Connected
	m.retry.Reset()
	m.log.Info("broker connected")
	if m.metrics != nil {
		m.metrics.Connected(true)
	}
	if m.clock != nil {
		m.clock.ForceResync()
	}
	if m.onConnected != nil {
		m.onConnected()
	}
}

// Publish is best effort: it fails with ErrNotConnected while offline.
func (m *Manager) Publish(topic string, payload []byte, retained bool) error {
	if !m.IsConnected() {
		return fmt.Errorf("%w: %s", ErrNotConnected, topic)
	}
	return m.transport.Publish(topic, payload, retained)
}

// DeliverInbound is the transport callback. It queues the message unchanged
// for the owner goroutine and drops broker redeliveries already queued.
func (m *Manager) DeliverInbound(msg broker.Message) {
	if msg.ID != 0 {
		seen := !m.dedup.ShouldProcess(fmt.Sprintf("%s|%d", msg.Topic, msg.ID))
		if seen && msg.Duplicate {
			return
		}
	}
	select {
	case m.inbound <- msg:
	default:
		m.log.Warnf("inbound queue full, dropped message on %s", msg.Topic)
		if m.metrics != nil {
			m.metrics.InboundDropped()
		}
	}
}

// Drain hands every queued message to fn without blocking.
func (m *Manager) Drain(fn func(topic string, payload []byte)) int {
	n := 0
	for {
		select {
		case msg := <-m.inbound:
			fn(msg.Topic, msg.Payload)
			n++
		default:
			return n
		}
	}
}

// Close abandons an in-flight attempt and ends the session.
func (m *Manager) Close() {
	if m.cancel != nil {
		m.cancel()
	}
	m.transport.Disconnect()
	m.state = State{}
}
