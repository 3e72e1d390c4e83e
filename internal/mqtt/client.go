package mqtt

import (
	"fmt"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"go.uber.org/zap"
)

// Client manages the MQTT connection and implements the broker channel contract
// (see publisher.go and subscriber.go).
type Client struct {
	client mqtt.Client
	config ClientConfig
	logger *zap.Logger
	done   chan struct{}

	// subscriptions are restored on every reconnect because the session is clean
	mu            sync.Mutex
	subscriptions map[string]mqtt.MessageHandler
}

// ClientConfig holds MQTT client configuration
type ClientConfig struct {
	Broker         string
	ClientID       string
	Username       string
	Password       string
	TopicPrefix    string        // e.g. "pvsim/" -> "pvsim/meter"
	ConnectTimeout time.Duration // 0 uses the paho default
}

// NewClient creates a new MQTT client connection
func NewClient(config ClientConfig, logger *zap.Logger) (*Client, error) {
	c := newClient(nil, config, logger)

	opts := mqtt.NewClientOptions()
	opts.AddBroker(config.Broker)
	opts.SetClientID(config.ClientID)
	opts.SetUsername(config.Username)
	opts.SetPassword(config.Password)
	opts.SetOrderMatters(true)
	opts.SetCleanSession(true)
	opts.SetDefaultPublishHandler(func(_ mqtt.Client, msg mqtt.Message) {
		c.logger.Debug("Unrouted message", zap.String("topic", msg.Topic()))
	})
	opts.SetOnConnectHandler(func(_ mqtt.Client) {
		c.logger.Info("Connection established")
		c.resubscribe()
	})
	opts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		c.logger.Warn("Connection lost", zap.Error(err))
	})
	opts.SetAutoReconnect(true)
	opts.SetKeepAlive(60 * time.Second)
	opts.SetPingTimeout(10 * time.Second)
	if config.ConnectTimeout > 0 {
		opts.SetConnectTimeout(config.ConnectTimeout)
	}

	c.client = mqtt.NewClient(opts)

	if token := c.client.Connect(); token.Wait() && token.Error() != nil {
		return nil, fmt.Errorf("failed to connect to MQTT broker: %w", token.Error())
	}

	c.logger.Info("Connected to broker", zap.String("broker", config.Broker))
	return c, nil
}

func newClient(client mqtt.Client, config ClientConfig, logger *zap.Logger) *Client {
	return &Client{
		client:        client,
		config:        config,
		logger:        logger.Named("mqtt"),
		done:          make(chan struct{}),
		subscriptions: make(map[string]mqtt.MessageHandler),
	}
}

// resubscribe restores the recorded subscriptions after a reconnect.
// On the first connect there is nothing recorded yet.
func (c *Client) resubscribe() {
	c.mu.Lock()
	subs := make(map[string]mqtt.MessageHandler, len(c.subscriptions))
	for name, handler := range c.subscriptions {
		subs[name] = handler
	}
	c.mu.Unlock()

	for name, handler := range subs {
		if token := c.client.Subscribe(name, qos, handler); token.Wait() && token.Error() != nil {
			c.logger.Error("Resubscribe failed", zap.String("topic", name), zap.Error(token.Error()))
			continue
		}
		c.logger.Info("Resubscribed", zap.String("topic", name))
	}
}

// Close closes the MQTT client connection
func (c *Client) Close() error {
	select {
	case <-c.done:
		return nil
	default:
		close(c.done)
	}
	c.client.Disconnect(250)
	c.logger.Info("Disconnected")
	return nil
}
