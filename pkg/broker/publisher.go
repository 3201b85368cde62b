package broker

import (
	"context"
	"fmt"
	"strings"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

// qosFor gives the retained status topic at-least-once delivery; everything
// else the device publishes is fire-and-forget.
func qosFor(topic string) byte {
	if strings.HasSuffix(strings.TrimSpace(topic), "/status") {
		return 1
	}
	return 0
}

// Publish hands payload to the session and returns without waiting for the
// broker acknowledgement. Errors already known are returned; later failures
// are logged and reported to OnPublishError.
func (c *Client) Publish(topic string, payload []byte, retained bool) error {
	cl, err := c.current()
	if err != nil {
		return fmt.Errorf("%w: %s: %v", ErrPublish, topic, err)
	}
	tok := cl.Publish(topic, qosFor(topic), retained, payload)
	select {
	case <-tok.Done():
		if err := tok.Error(); err != nil {
			return fmt.Errorf("%w: %s: %v", ErrPublish, topic, err)
		}
		c.log.Debugf("published '%s' to '%s' (retained=%v)", payload, topic, retained)
	default:
		go c.await(tok, topic, payload, retained)
	}
	return nil
}

func (c *Client) await(tok mqtt.Token, topic string, payload []byte, retained bool) {
	if err := wait(context.Background(), tok, c.cfg.PublishTimeout); err != nil {
		c.log.Warnf("publish to '%s' failed: %v", topic, err)
		if c.cfg.OnPublishError != nil {
			c.cfg.OnPublishError(topic, fmt.Errorf("%w: %s: %v", ErrPublish, topic, err))
		}
		return
	}
	c.log.Debugf("published '%s' to '%s' (retained=%v)", payload, topic, retained)
}
