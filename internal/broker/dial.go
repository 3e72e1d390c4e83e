package broker

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"
	"pv-simulator/internal/models"
	"pv-simulator/internal/mqtt"
)

// Options carries transport settings that do not fit in the endpoint URI
type Options struct {
	ClientID       string
	Username       string
	Password       string
	TopicPrefix    string
	ConnectTimeout time.Duration
}

// ErrUnsupportedScheme is returned for endpoints no transport understands
var ErrUnsupportedScheme = errors.New("unsupported endpoint scheme")

// natsSubjectPrefix namespaces the topics on a shared NATS server
const natsSubjectPrefix = "pvsim."

// Dialer opens a Channel for an endpoint
type Dialer func(ctx context.Context, endpoint string) (Channel, error)

// NewDialer binds transport options and a logger into a Dialer
func NewDialer(opts Options, logger *zap.Logger) Dialer {
	return func(ctx context.Context, endpoint string) (Channel, error) {
		return Dial(ctx, endpoint, opts, logger)
	}
}

// Dial picks a transport by the endpoint's URI scheme. Every failure wraps
// models.ErrBroker.
func Dial(ctx context.Context, endpoint string, opts Options, logger *zap.Logger) (Channel, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", models.ErrBroker, err)
	}

	u, err := url.Parse(endpoint)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid endpoint %q: %v", models.ErrBroker, endpoint, err)
	}

	switch strings.ToLower(u.Scheme) {
	case "mem":
		return NewMemoryChannel(), nil

	case "nats":
		ch, err := NewNATSChannel(NATSConfig{
			URL:            endpoint,
			Name:           opts.ClientID,
			SubjectPrefix:  natsSubjectPrefix,
			ConnectTimeout: opts.ConnectTimeout,
		}, logger)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", models.ErrBroker, err)
		}
		return ch, nil

	case "amqp", "amqps":
		ch, err := NewAMQPChannel(AMQPConfig{
			URL:            endpoint,
			Name:           opts.ClientID,
			Exchange:       amqpExchange,
			ConnectTimeout: opts.ConnectTimeout,
		}, logger)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", models.ErrBroker, err)
		}
		return ch, nil

	case "tcp", "mqtt", "ssl", "ws", "wss":
		client, err := mqtt.NewClient(mqtt.ClientConfig{
			Broker:         endpoint,
			ClientID:       opts.ClientID,
			Username:       opts.Username,
			Password:       opts.Password,
			TopicPrefix:    opts.TopicPrefix,
			ConnectTimeout: opts.ConnectTimeout,
		}, logger)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", models.ErrBroker, err)
		}
		return client, nil

	default:
		return nil, fmt.Errorf("%w: %w %q", models.ErrBroker, ErrUnsupportedScheme, u.Scheme)
	}
}

// DialWithRetry dials once and, on failure, once more after backoff.
// An unsupported scheme is not retried.
func DialWithRetry(ctx context.Context, dial Dialer, endpoint string, backoff time.Duration, logger *zap.Logger) (Channel, error) {
	ch, err := dial(ctx, endpoint)
	if err == nil {
		return ch, nil
	}
	if errors.Is(err, ErrUnsupportedScheme) {
		return nil, err
	}

	logger.Warn("Broker connect failed, retrying once",
		zap.String("endpoint", endpoint),
		zap.Duration("backoff", backoff),
		zap.Error(err))

	timer := time.NewTimer(backoff)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("%w: %v", models.ErrBroker, ctx.Err())
	case <-timer.C:
	}

	ch, err = dial(ctx, endpoint)
	if err != nil {
		if !errors.Is(err, models.ErrBroker) {
			err = fmt.Errorf("%w: %v", models.ErrBroker, err)
		}
		return nil, fmt.Errorf("after retry: %w", err)
	}
	return ch, nil
}
