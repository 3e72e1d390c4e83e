// Package broker defines the minimal publish/subscribe contract the simulation
// needs and the transports that implement it.
package broker

import (
	"context"

	"pv-simulator/internal/models"
)

// Channel is an ordered, at-least-once, topic-scoped message channel.
//
// Publish is fire-and-forget from the caller's point of view: it returns once the
// transport accepted the message. Subscribe returns a stream that preserves the
// per-topic publish order; it stays open until ctx is cancelled or the channel is
// closed. Implementations must be safe for concurrent use.
type Channel interface {
	Publish(ctx context.Context, topic models.Topic, msg models.BrokerMessage) error
	Subscribe(ctx context.Context, topic models.Topic) (<-chan models.BrokerMessage, error)
	Close() error
}
