package broker

import (
	"context"
	"fmt"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

// Subscribe registers handler for every topic filter at QoS 1. The handler
// runs on paho's delivery goroutine and must not block.
func (c *Client) Subscribe(ctx context.Context, topics []string, handler func(Message)) error {
	cl, err := c.current()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrSubscription, err)
	}
	filters := make(map[string]byte, len(topics))
	for _, t := range topics {
		filters[t] = 1
	}
	tok := cl.SubscribeMultiple(filters, func(_ mqtt.Client, m mqtt.Message) {
		handler(toMessage(m))
	})
	if err := wait(ctx, tok, c.cfg.ConnectTimeout); err != nil {
		return fmt.Errorf("%w: %v: %v", ErrSubscription, topics, err)
	}
	for _, t := range topics {
		c.log.Infof("subscribed to topic %s", t)
	}
	return nil
}

func toMessage(m mqtt.Message) Message {
	payload := make([]byte, len(m.Payload()))
	copy(payload, m.Payload())
	return Message{
		Topic:     m.Topic(),
		Payload:   payload,
		ID:        m.MessageID(),
		Duplicate: m.Duplicate(),
	}
}
