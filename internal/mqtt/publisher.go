package mqtt

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"
	"pv-simulator/internal/models"
)

// qos 1 gives at-least-once delivery
const qos = 1

// Publish sends one message to the topic and waits for the broker acknowledgement
func (c *Client) Publish(ctx context.Context, topic models.Topic, msg models.BrokerMessage) error {
	payload, err := models.EncodeMessage(msg)
	if err != nil {
		return err
	}

	name := formatTopic(c.config.TopicPrefix, topic)
	token := c.client.Publish(name, qos, false, payload)

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-token.Done():
	}
	if token.Error() != nil {
		return fmt.Errorf("failed to publish to %s: %w", name, token.Error())
	}

	c.logger.Debug("Published message", zap.String("topic", name), zap.Bool("end", msg.IsEnd()))
	return nil
}

// formatTopic joins the configured prefix and the topic identifier
func formatTopic(prefix string, topic models.Topic) string {
	if prefix == "" {
		return string(topic)
	}
	if !strings.HasSuffix(prefix, "/") {
		prefix += "/"
	}
	return prefix + string(topic)
}
