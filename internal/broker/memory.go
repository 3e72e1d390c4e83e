package broker

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"pv-simulator/internal/models"
)

// ErrClosed is returned when publishing to or subscribing on a closed channel
var ErrClosed = errors.New("broker channel closed")

// MemoryChannel is an in-process Channel. Each topic is an append-only log of
// encoded payloads and every subscription tracks its own offset, starting at the
// beginning of the log.
type MemoryChannel struct {
	mu     sync.Mutex
	logs   map[models.Topic][][]byte
	wake   map[models.Topic]chan struct{}
	done   chan struct{}
	closed bool
}

// NewMemoryChannel creates an empty in-process channel
func NewMemoryChannel() *MemoryChannel {
	return &MemoryChannel{
		logs: make(map[models.Topic][][]byte),
		wake: make(map[models.Topic]chan struct{}),
		done: make(chan struct{}),
	}
}

func (m *MemoryChannel) Publish(ctx context.Context, topic models.Topic, msg models.BrokerMessage) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	payload, err := models.EncodeMessage(msg)
	if err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return fmt.Errorf("publish to %s: %w", topic, ErrClosed)
	}
	m.logs[topic] = append(m.logs[topic], payload)
	if wake, ok := m.wake[topic]; ok {
		close(wake)
		delete(m.wake, topic)
	}
	return nil
}

func (m *MemoryChannel) Subscribe(ctx context.Context, topic models.Topic) (<-chan models.BrokerMessage, error) {
	m.mu.Lock()
	closed := m.closed
	m.mu.Unlock()
	if closed {
		return nil, fmt.Errorf("subscribe to %s: %w", topic, ErrClosed)
	}

	out := make(chan models.BrokerMessage)
	go m.feed(ctx, topic, out)
	return out, nil
}

// feed copies the topic log onto out, waiting for new entries at the tail
func (m *MemoryChannel) feed(ctx context.Context, topic models.Topic, out chan<- models.BrokerMessage) {
	defer close(out)

	offset := 0
	for {
		payload, wait := m.next(topic, offset)
		if payload == nil {
			select {
			case <-ctx.Done():
				return
			case <-m.done:
				return
			case <-wait:
				continue
			}
		}
		offset++

		msg, err := models.DecodeMessage(payload)
		if err != nil {
			continue
		}
		select {
		case <-ctx.Done():
			return
		case <-m.done:
			return
		case out <- msg:
		}
	}
}

// next returns the payload at offset, or a channel that is closed on the next append
func (m *MemoryChannel) next(topic models.Topic, offset int) ([]byte, <-chan struct{}) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if log := m.logs[topic]; offset < len(log) {
		return log[offset], nil
	}
	wake, ok := m.wake[topic]
	if !ok {
		wake = make(chan struct{})
		m.wake[topic] = wake
	}
	return nil, wake
}

// Len returns the number of messages published to a topic
func (m *MemoryChannel) Len(topic models.Topic) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.logs[topic])
}

func (m *MemoryChannel) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return nil
	}
	m.closed = true
	close(m.done)
	return nil
}
