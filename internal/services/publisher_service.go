package services

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
	"pv-simulator/internal/broker"
	"pv-simulator/internal/generator"
	"pv-simulator/internal/metrics"
	"pv-simulator/internal/models"
	"pv-simulator/internal/simclock"
)

// PublisherService samples one generator on every tick and publishes the reading
type PublisherService struct {
	topic     models.Topic
	generator *generator.Generator
	clock     *simclock.Clock
	channel   broker.Channel
	metrics   *metrics.Metrics
	logger    *zap.Logger

	// tickDelay paces ticks in real time; zero runs as fast as the broker accepts
	tickDelay time.Duration

	published int
}

// PublisherServiceConfig holds configuration for a publisher
type PublisherServiceConfig struct {
	Topic     models.Topic
	TickDelay time.Duration
}

// NewPublisherService creates a publisher for one topic
func NewPublisherService(
	config PublisherServiceConfig,
	gen *generator.Generator,
	clock *simclock.Clock,
	channel broker.Channel,
	m *metrics.Metrics,
	logger *zap.Logger,
) *PublisherService {
	return &PublisherService{
		topic:     config.Topic,
		generator: gen,
		clock:     clock,
		channel:   channel,
		metrics:   m,
		logger:    logger.Named("publisher").With(zap.String("topic", string(config.Topic))),
		tickDelay: config.TickDelay,
	}
}

// Run publishes one reading per tick followed by the end-of-stream marker.
// A publish failure is fatal and is not retried.
func (p *PublisherService) Run(ctx context.Context) error {
	ticks := p.clock.Ticks()
	p.logger.Info("Starting", zap.Int("ticks", ticks), zap.Duration("interval", p.clock.Interval()))

	var pace <-chan time.Time
	if p.tickDelay > 0 {
		ticker := time.NewTicker(p.tickDelay)
		defer ticker.Stop()
		pace = ticker.C
	}

	for tick := 0; !p.clock.Done(tick); tick++ {
		if tick > 0 && pace != nil {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-pace:
			}
		}

		at := p.clock.At(tick)
		reading, err := models.NewReading(p.topic, at, p.generator.Sample(at))
		if err != nil {
			return fmt.Errorf("tick %d produced an invalid reading: %w", tick, err)
		}

		if err := p.publish(ctx, models.NewReadingMessage(reading)); err != nil {
			return fmt.Errorf("tick %d: %w", tick, err)
		}
		p.published++
		p.metrics.ReadingPublished(p.topic)

		p.logger.Debug("Published reading",
			zap.Int("tick", tick),
			zap.Time("time_stamp", reading.Timestamp),
			zap.Float64("watts", reading.ValueWatts))
	}

	if err := p.publish(ctx, models.NewEndMessage()); err != nil {
		return fmt.Errorf("end of stream: %w", err)
	}

	p.logger.Info("Finished", zap.Int("published", p.published))
	return nil
}

func (p *PublisherService) publish(ctx context.Context, msg models.BrokerMessage) error {
	if err := p.channel.Publish(ctx, p.topic, msg); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		return fmt.Errorf("%w: publish to %s: %v", models.ErrBroker, p.topic, err)
	}
	return nil
}

// Published returns the number of readings published so far
func (p *PublisherService) Published() int {
	return p.published
}

// Topic returns the topic the publisher writes to
func (p *PublisherService) Topic() models.Topic {
	return p.topic
}
