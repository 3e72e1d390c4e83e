package broker

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"
	"pv-simulator/internal/models"
)

// natsPendingMessages bounds the per-subscription buffer; NATS drops messages
// for a subscriber whose buffer is full.
const natsPendingMessages = 1 << 16

// NATSConfig holds NATS connection settings
type NATSConfig struct {
	URL            string
	Name           string
	SubjectPrefix  string
	ConnectTimeout time.Duration
}

// NATSChannel is a Channel backed by core NATS subjects
type NATSChannel struct {
	conn          *nats.Conn
	subjectPrefix string
	logger        *zap.Logger

	mu     sync.Mutex
	subs   []*nats.Subscription
	done   chan struct{}
	closed bool
}

// NewNATSChannel connects to a NATS server
func NewNATSChannel(cfg NATSConfig, logger *zap.Logger) (*NATSChannel, error) {
	logger = logger.Named("nats")
	opts := []nats.Option{
		nats.Name(cfg.Name),
		nats.Timeout(cfg.ConnectTimeout),
		nats.MaxReconnects(5),
		nats.ReconnectWait(time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.Warn("Connection lost", zap.Error(err))
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Info("Reconnected", zap.String("url", nc.ConnectedUrl()))
		}),
	}

	conn, err := nats.Connect(cfg.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}
	logger.Info("Connected to broker", zap.String("url", conn.ConnectedUrl()))

	return &NATSChannel{
		conn:          conn,
		subjectPrefix: cfg.SubjectPrefix,
		logger:        logger,
		done:          make(chan struct{}),
	}, nil
}

func (n *NATSChannel) subject(topic models.Topic) string {
	return n.subjectPrefix + string(topic)
}

func (n *NATSChannel) Publish(ctx context.Context, topic models.Topic, msg models.BrokerMessage) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	payload, err := models.EncodeMessage(msg)
	if err != nil {
		return err
	}
	if err := n.conn.Publish(n.subject(topic), payload); err != nil {
		return fmt.Errorf("failed to publish to %s: %w", n.subject(topic), err)
	}
	if msg.IsEnd() {
		// the marker is the last message of a stream, push everything out
		if err := n.conn.FlushWithContext(ctx); err != nil {
			return fmt.Errorf("failed to flush %s: %w", n.subject(topic), err)
		}
	}
	return nil
}

func (n *NATSChannel) Subscribe(ctx context.Context, topic models.Topic) (<-chan models.BrokerMessage, error) {
	raw := make(chan *nats.Msg, natsPendingMessages)
	sub, err := n.conn.ChanSubscribe(n.subject(topic), raw)
	if err != nil {
		return nil, fmt.Errorf("failed to subscribe to %s: %w", n.subject(topic), err)
	}
	// make sure the server knows the interest before anyone publishes
	if err := n.conn.Flush(); err != nil {
		_ = sub.Unsubscribe()
		return nil, fmt.Errorf("failed to register subscription on %s: %w", n.subject(topic), err)
	}

	n.mu.Lock()
	n.subs = append(n.subs, sub)
	n.mu.Unlock()

	out := make(chan models.BrokerMessage)
	go func() {
		defer close(out)
		for {
			select {
			case <-ctx.Done():
				return
			case <-n.done:
				return
			case m, ok := <-raw:
				if !ok {
					return
				}
				msg, err := models.DecodeMessage(m.Data)
				if err != nil {
					n.logger.Warn("Discarding undecodable message", zap.String("subject", m.Subject), zap.Error(err))
					continue
				}
				select {
				case <-ctx.Done():
					return
				case <-n.done:
					return
				case out <- msg:
				}
			}
		}
	}()
	return out, nil
}

func (n *NATSChannel) Close() error {
	n.mu.Lock()
	if n.closed {
		n.mu.Unlock()
		return nil
	}
	n.closed = true
	close(n.done)
	for _, sub := range n.subs {
		_ = sub.Unsubscribe()
	}
	n.subs = nil
	n.mu.Unlock()

	if err := n.conn.Flush(); err != nil && err != nats.ErrConnectionClosed {
		n.logger.Warn("Flush before close failed", zap.Error(err))
	}
	n.conn.Close()
	n.logger.Info("Disconnected")
	return nil
}
