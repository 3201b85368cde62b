// Package broker adapts the paho MQTT client to the device's transport needs:
// one session at a time, a last-will per session and no automatic reconnect
// (reconnection is driven by the connectivity manager).
package broker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/sirupsen/logrus"
)

var (
	ErrTimeout      = errors.New("broker: operation timed out")
	ErrNoSession    = errors.New("broker: no session")
	ErrPublish      = errors.New("broker: publish failed")
	ErrSubscription = errors.New("broker: subscribe failed")
)

type Config struct {
	Host           string
	Port           int
	User           string
	Password       string
	ClientID       string
	ConnectTimeout time.Duration
	PublishTimeout time.Duration
	KeepAlive      time.Duration

	// OnPublishError, when set, receives publishes that fail after Publish returned.
	OnPublishError func(topic string, err error)
}

// Will is the last-will registered with every new session.
type Will struct {
	Topic    string
	Payload  []byte
	QoS      byte
	Retained bool
}

// Message is an inbound publish, copied out of the paho message.
type Message struct {
	Topic     string
	Payload   []byte
	ID        uint16
	Duplicate bool
}

// Client owns at most one paho session. Connect may run on a different
// goroutine than Publish and IsConnected.
type Client struct {
	cfg Config
	log *logrus.Entry

	newClient func(*mqtt.ClientOptions) mqtt.Client

	mu     sync.RWMutex
	client mqtt.Client
}

func NewClient(cfg Config, log *logrus.Entry) *Client {
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = 10 * time.Second
	}
	if cfg.PublishTimeout <= 0 {
		cfg.PublishTimeout = 2 * time.Second
	}
	if cfg.KeepAlive <= 0 {
		cfg.KeepAlive = 15 * time.Second
	}
	return &Client{cfg: cfg, log: log, newClient: mqtt.NewClient}
}

func (c *Client) options(will Will) *mqtt.ClientOptions {
	opts := mqtt.NewClientOptions()
	opts.AddBroker(fmt.Sprintf("tcp://%s:%d", c.cfg.Host, c.cfg.Port))
	opts.SetUsername(c.cfg.User)
	opts.SetPassword(c.cfg.Password)
	opts.SetClientID(c.cfg.ClientID)
	opts.SetCleanSession(true)
	opts.SetAutoReconnect(false)
	opts.SetConnectRetry(false)
	opts.SetConnectTimeout(c.cfg.ConnectTimeout)
	opts.SetKeepAlive(c.cfg.KeepAlive)
	opts.SetOrderMatters(true)
	if will.Topic != "" {
		opts.SetBinaryWill(will.Topic, will.Payload, will.QoS, will.Retained)
	}
	opts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		c.log.Warnf("connection lost: %v", err)
	})
	return opts
}

// Connect opens a fresh session, replacing any previous one.
func (c *Client) Connect(ctx context.Context, will Will) error {
	c.Disconnect()

	cl := c.newClient(c.options(will))
	if err := wait(ctx, cl.Connect(), c.cfg.ConnectTimeout); err != nil {
		// abandon the attempt so a late CONNACK cannot leave a stray session
		cl.Disconnect(0)
		return fmt.Errorf("connect tcp://%s:%d: %w", c.cfg.Host, c.cfg.Port, err)
	}

	c.mu.Lock()
	c.client = cl
	c.mu.Unlock()
	c.log.Infof("connected to tcp://%s:%d as %s", c.cfg.Host, c.cfg.Port, c.cfg.ClientID)
	return nil
}

func (c *Client) IsConnected() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.client != nil && c.client.IsConnectionOpen()
}

// Disconnect closes the session, if any. The broker does not publish the will.
func (c *Client) Disconnect() {
	c.mu.Lock()
	cl := c.client
	c.client = nil
	c.mu.Unlock()
	if cl != nil && cl.IsConnected() {
		cl.Disconnect(250)
		c.log.Info("disconnected")
	}
}

func (c *Client) current() (mqtt.Client, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.client == nil {
		return nil, ErrNoSession
	}
	return c.client, nil
}

// wait blocks until the token completes, ctx ends or timeout elapses.
func wait(ctx context.Context, tok mqtt.Token, timeout time.Duration) error {
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-tok.Done():
		return tok.Error()
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return ErrTimeout
	}
}
