package broker

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"
	"pv-simulator/internal/models"
)

const (
	// amqpExchange routes readings to queues by topic name
	amqpExchange = "pvsim"
	// amqpPrefetch bounds unacknowledged deliveries per subscription
	amqpPrefetch = 256
)

// AMQPConfig holds RabbitMQ connection settings
type AMQPConfig struct {
	URL            string
	Name           string
	Exchange       string
	ConnectTimeout time.Duration
}

// AMQPChannel is a Channel backed by a direct exchange on RabbitMQ. Each topic is
// a routing key; each subscription owns an exclusive queue bound to it.
// Publishes wait for the broker's confirm and deliveries are acked only after
// they were decoded and handed over.
type AMQPChannel struct {
	conn     *amqp.Connection
	pub      *amqp.Channel
	exchange string
	logger   *zap.Logger

	mu     sync.Mutex
	subs   []*amqp.Channel
	done   chan struct{}
	closed bool
}

// NewAMQPChannel connects to a RabbitMQ broker and declares the exchange
func NewAMQPChannel(cfg AMQPConfig, logger *zap.Logger) (*AMQPChannel, error) {
	logger = logger.Named("amqp")
	if cfg.Exchange == "" {
		cfg.Exchange = amqpExchange
	}

	amqpCfg := amqp.Config{Properties: amqp.Table{"connection_name": cfg.Name}}
	if cfg.ConnectTimeout > 0 {
		amqpCfg.Dial = amqp.DefaultDial(cfg.ConnectTimeout)
	}
	conn, err := amqp.DialConfig(cfg.URL, amqpCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to AMQP broker: %w", err)
	}

	pub, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to open channel: %w", err)
	}
	if err := pub.ExchangeDeclare(cfg.Exchange, amqp.ExchangeDirect, true, false, false, false, nil); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to declare exchange %s: %w", cfg.Exchange, err)
	}
	if err := pub.Confirm(false); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to enable publisher confirms: %w", err)
	}

	a := &AMQPChannel{
		conn:     conn,
		pub:      pub,
		exchange: cfg.Exchange,
		logger:   logger,
		done:     make(chan struct{}),
	}

	closed := conn.NotifyClose(make(chan *amqp.Error, 1))
	go func() {
		if err, ok := <-closed; ok && err != nil {
			logger.Warn("Connection lost", zap.Error(err))
		}
	}()

	logger.Info("Connected to broker", zap.String("exchange", cfg.Exchange))
	return a, nil
}

func (a *AMQPChannel) Publish(ctx context.Context, topic models.Topic, msg models.BrokerMessage) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	payload, err := models.EncodeMessage(msg)
	if err != nil {
		return err
	}

	confirm, err := a.pub.PublishWithDeferredConfirmWithContext(ctx, a.exchange, string(topic), false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    uuid.NewString(),
		Timestamp:    time.Now().UTC(),
		Body:         payload,
	})
	if err != nil {
		return fmt.Errorf("failed to publish to %s: %w", topic, err)
	}
	acked, err := confirm.WaitContext(ctx)
	if err != nil {
		return fmt.Errorf("failed to confirm publish to %s: %w", topic, err)
	}
	if !acked {
		return fmt.Errorf("broker rejected publish to %s", topic)
	}
	return nil
}

func (a *AMQPChannel) Subscribe(ctx context.Context, topic models.Topic) (<-chan models.BrokerMessage, error) {
	ch, err := a.conn.Channel()
	if err != nil {
		return nil, fmt.Errorf("failed to open channel for %s: %w", topic, err)
	}
	fail := func(step string, err error) (<-chan models.BrokerMessage, error) {
		_ = ch.Close()
		return nil, fmt.Errorf("failed to %s for %s: %w", step, topic, err)
	}

	if err := ch.Qos(amqpPrefetch, 0, false); err != nil {
		return fail("set prefetch", err)
	}
	// server-named, gone with the subscription
	queue, err := ch.QueueDeclare("", false, true, true, false, nil)
	if err != nil {
		return fail("declare queue", err)
	}
	if err := ch.QueueBind(queue.Name, string(topic), a.exchange, false, nil); err != nil {
		return fail("bind queue", err)
	}
	deliveries, err := ch.Consume(queue.Name, "", false, true, false, false, nil)
	if err != nil {
		return fail("consume", err)
	}

	a.mu.Lock()
	a.subs = append(a.subs, ch)
	a.mu.Unlock()

	a.logger.Info("Subscribed to topic", zap.String("topic", string(topic)), zap.String("queue", queue.Name))

	out := make(chan models.BrokerMessage)
	go func() {
		defer close(out)
		for {
			select {
			case <-ctx.Done():
				return
			case <-a.done:
				return
			case d, ok := <-deliveries:
				if !ok {
					return
				}
				a.deliver(ctx, d, out)
			}
		}
	}()
	return out, nil
}

// deliver decodes one delivery onto out and settles it. Undecodable payloads are
// rejected without requeue. It reports whether the message was handed over.
func (a *AMQPChannel) deliver(ctx context.Context, d amqp.Delivery, out chan<- models.BrokerMessage) bool {
	msg, err := models.DecodeMessage(d.Body)
	if err != nil {
		a.logger.Warn("Discarding undecodable message", zap.String("routing_key", d.RoutingKey), zap.Error(err))
		if err := d.Nack(false, false); err != nil {
			a.logger.Warn("Nack failed", zap.Error(err))
		}
		return false
	}

	select {
	case out <- msg:
		if err := d.Ack(false); err != nil {
			a.logger.Warn("Ack failed", zap.String("routing_key", d.RoutingKey), zap.Error(err))
		}
		return true
	case <-ctx.Done():
	case <-a.done:
	}
	if err := d.Nack(false, true); err != nil {
		a.logger.Debug("Requeue failed", zap.Error(err))
	}
	return false
}

func (a *AMQPChannel) Close() error {
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return nil
	}
	a.closed = true
	close(a.done)
	subs := a.subs
	a.subs = nil
	a.mu.Unlock()

	for _, ch := range subs {
		_ = ch.Close()
	}
	_ = a.pub.Close()
	if err := a.conn.Close(); err != nil && err != amqp.ErrClosed {
		a.logger.Warn("Close failed", zap.Error(err))
	}
	a.logger.Info("Disconnected")
	return nil
}
