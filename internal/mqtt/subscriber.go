package mqtt

import (
	"context"
	"fmt"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"go.uber.org/zap"
	"pv-simulator/internal/models"
)

// subscriptionBuffer is sized for a burst of unthrottled ticks
const subscriptionBuffer = 4096

// Subscribe registers a handler for the topic and returns the decoded stream.
// Paho delivers in order because the client is created with SetOrderMatters(true);
// the handler blocks while the buffer is full instead of dropping.
func (c *Client) Subscribe(ctx context.Context, topic models.Topic) (<-chan models.BrokerMessage, error) {
	name := formatTopic(c.config.TopicPrefix, topic)
	out := make(chan models.BrokerMessage, subscriptionBuffer)

	handler := func(_ mqtt.Client, msg mqtt.Message) {
		c.deliver(ctx, msg, out)
	}

	token := c.client.Subscribe(name, qos, handler)
	if token.Wait() && token.Error() != nil {
		return nil, fmt.Errorf("failed to subscribe to %s: %w", name, token.Error())
	}

	c.mu.Lock()
	c.subscriptions[name] = handler
	c.mu.Unlock()

	c.logger.Info("Subscribed to topic", zap.String("topic", name))

	go func() {
		select {
		case <-ctx.Done():
		case <-c.done:
			return
		}
		c.mu.Lock()
		delete(c.subscriptions, name)
		c.mu.Unlock()
		if token := c.client.Unsubscribe(name); token.Wait() && token.Error() != nil {
			c.logger.Warn("Unsubscribe failed", zap.String("topic", name), zap.Error(token.Error()))
		}
	}()

	return out, nil
}

// deliver decodes one MQTT message onto out. Undecodable payloads are logged and
// skipped. It reports whether the message was handed over.
func (c *Client) deliver(ctx context.Context, msg mqtt.Message, out chan<- models.BrokerMessage) bool {
	decoded, err := models.DecodeMessage(msg.Payload())
	if err != nil {
		c.logger.Warn("Error decoding message", zap.String("topic", msg.Topic()), zap.Error(err))
		return false
	}

	select {
	case out <- decoded:
		return true
	case <-ctx.Done():
	case <-c.done:
	}
	return false
}
