package services

import (
	"context"
	"fmt"
	"sort"
	"time"

	"go.uber.org/zap"
	"pv-simulator/internal/broker"
	"pv-simulator/internal/metrics"
	"pv-simulator/internal/models"
)

// RecordSink receives correlated records in timestamp order
type RecordSink interface {
	Append(record models.PowerObservationRecord)
}

// CorrelationResult summarises a finished correlation
type CorrelationResult struct {
	Records int
	Dropped []models.CorrelationDrop
}

// CorrelatorService fans in the meter and PV streams and pairs readings that
// share a timestamp.
//
// Both streams are ordered, so once a topic has moved past an instant the other
// topic's reading for that instant can never be completed and is dropped. A
// reading at or before the topic's high-water mark is a redelivery and is ignored.
type CorrelatorService struct {
	channel    broker.Channel
	sink       RecordSink
	metrics    *metrics.Metrics
	logger     *zap.Logger
	drainGrace time.Duration

	streams   map[models.Topic]<-chan models.BrokerMessage
	pending   map[models.Topic]map[int64]models.Reading
	highWater map[models.Topic]time.Time
	ended     map[models.Topic]bool

	records int
	dropped []models.CorrelationDrop
}

// CorrelatorServiceConfig holds configuration for the correlator
type CorrelatorServiceConfig struct {
	// DrainGrace is how long the correlator waits for further deliveries once the
	// publishers are done
	DrainGrace time.Duration
}

// NewCorrelatorService creates a correlator writing records to sink
func NewCorrelatorService(
	config CorrelatorServiceConfig,
	channel broker.Channel,
	sink RecordSink,
	m *metrics.Metrics,
	logger *zap.Logger,
) *CorrelatorService {
	c := &CorrelatorService{
		channel:    channel,
		sink:       sink,
		metrics:    m,
		logger:     logger.Named("correlator"),
		drainGrace: config.DrainGrace,
		streams:    make(map[models.Topic]<-chan models.BrokerMessage),
		pending:    make(map[models.Topic]map[int64]models.Reading),
		highWater:  make(map[models.Topic]time.Time),
		ended:      make(map[models.Topic]bool),
	}
	for _, topic := range models.Topics() {
		c.pending[topic] = make(map[int64]models.Reading)
	}
	return c
}

// Subscribe opens both topic streams. It must complete before any publisher starts.
func (c *CorrelatorService) Subscribe(ctx context.Context) error {
	for _, topic := range models.Topics() {
		stream, err := c.channel.Subscribe(ctx, topic)
		if err != nil {
			return fmt.Errorf("%w: subscribe to %s: %v", models.ErrBroker, topic, err)
		}
		c.streams[topic] = stream
	}
	c.logger.Info("Subscribed", zap.Int("topics", len(c.streams)))
	return nil
}

// Run correlates until both streams have ended, or until drain has been closed and
// no delivery arrived for the drain grace period. Readings still unmatched at
// that point are dropped.
func (c *CorrelatorService) Run(ctx context.Context, drain <-chan struct{}) (CorrelationResult, error) {
	if len(c.streams) != len(models.Topics()) {
		return CorrelationResult{}, fmt.Errorf("%w: correlator is not subscribed", models.ErrBroker)
	}

	meter := c.streams[models.TopicMeter]
	pv := c.streams[models.TopicPV]

	idle := time.NewTimer(c.drainGrace)
	idle.Stop()
	defer idle.Stop()
	draining := false

	resetIdle := func() {
		if !draining {
			return
		}
		if !idle.Stop() {
			select {
			case <-idle.C:
			default:
			}
		}
		idle.Reset(c.drainGrace)
	}

	for !c.allEnded() {
		var (
			topic models.Topic
			msg   models.BrokerMessage
			ok    bool
		)

		select {
		case <-ctx.Done():
			return c.result(), ctx.Err()

		case <-drain:
			drain = nil
			draining = true
			c.logger.Debug("Draining", zap.Duration("grace", c.drainGrace))
			resetIdle()
			continue

		case <-idle.C:
			c.logger.Warn("Drain grace expired before both streams ended",
				zap.Bool("meter_ended", c.ended[models.TopicMeter]),
				zap.Bool("pv_ended", c.ended[models.TopicPV]))
			c.dropPending()
			return c.result(), nil

		case msg, ok = <-meter:
			topic = models.TopicMeter
			if !ok {
				meter = nil
			}

		case msg, ok = <-pv:
			topic = models.TopicPV
			if !ok {
				pv = nil
			}
		}

		if !ok {
			if !c.ended[topic] {
				return c.result(), fmt.Errorf("%w: %s stream closed before end of stream", models.ErrBroker, topic)
			}
			continue
		}

		resetIdle()
		c.handle(models.Delivery{Topic: topic, Message: msg})
	}

	c.dropPending()
	return c.result(), nil
}

// handle applies one delivery to the correlation state
func (c *CorrelatorService) handle(d models.Delivery) {
	if d.Message.IsEnd() {
		if !c.ended[d.Topic] {
			c.ended[d.Topic] = true
			c.logger.Debug("Stream ended", zap.String("topic", string(d.Topic)))
		}
		return
	}
	if c.ended[d.Topic] {
		c.metrics.Redelivered(d.Topic)
		return
	}

	reading, err := d.Message.Reading(d.Topic)
	if err != nil {
		c.logger.Warn("Discarding malformed message", zap.String("topic", string(d.Topic)), zap.Error(err))
		return
	}

	if mark, seen := c.highWater[d.Topic]; seen && !reading.Timestamp.After(mark) {
		c.metrics.Redelivered(d.Topic)
		c.logger.Debug("Ignoring redelivery",
			zap.String("topic", string(d.Topic)),
			zap.Time("time_stamp", reading.Timestamp))
		return
	}
	c.highWater[d.Topic] = reading.Timestamp

	other := partner(d.Topic)
	key := reading.Timestamp.Unix()

	// the other topic's readings before this instant can no longer be matched
	c.dropBefore(other, key)

	match, found := c.pending[other][key]
	if !found {
		c.pending[d.Topic][key] = reading
		return
	}
	delete(c.pending[other], key)

	var record models.PowerObservationRecord
	if d.Topic == models.TopicMeter {
		record = models.NewPowerObservationRecord(reading.Timestamp, reading.ValueWatts, match.ValueWatts)
	} else {
		record = models.NewPowerObservationRecord(reading.Timestamp, match.ValueWatts, reading.ValueWatts)
	}
	c.sink.Append(record)
	c.records++
	c.metrics.RecordCorrelated()
}

func (c *CorrelatorService) dropBefore(topic models.Topic, key int64) {
	var stale []int64
	for k := range c.pending[topic] {
		if k < key {
			stale = append(stale, k)
		}
	}
	sort.Slice(stale, func(i, j int) bool { return stale[i] < stale[j] })
	for _, k := range stale {
		c.drop(c.pending[topic][k])
		delete(c.pending[topic], k)
	}
}

// dropPending discards everything still waiting for a partner, oldest first
func (c *CorrelatorService) dropPending() {
	var rest []models.Reading
	for _, topic := range models.Topics() {
		for k, reading := range c.pending[topic] {
			rest = append(rest, reading)
			delete(c.pending[topic], k)
		}
	}
	sort.Slice(rest, func(i, j int) bool {
		if !rest[i].Timestamp.Equal(rest[j].Timestamp) {
			return rest[i].Timestamp.Before(rest[j].Timestamp)
		}
		return rest[i].Topic < rest[j].Topic
	})
	for _, reading := range rest {
		c.drop(reading)
	}
}

func (c *CorrelatorService) drop(reading models.Reading) {
	d := models.CorrelationDrop{
		Topic:      reading.Topic,
		Timestamp:  reading.Timestamp,
		ValueWatts: reading.ValueWatts,
	}
	c.dropped = append(c.dropped, d)
	c.metrics.SampleDropped(reading.Topic)
	c.logger.Warn("Correlation drop", zap.Stringer("drop", d))
}

func (c *CorrelatorService) allEnded() bool {
	for _, topic := range models.Topics() {
		if !c.ended[topic] {
			return false
		}
	}
	return true
}

func (c *CorrelatorService) result() CorrelationResult {
	dropped := make([]models.CorrelationDrop, len(c.dropped))
	copy(dropped, c.dropped)
	return CorrelationResult{Records: c.records, Dropped: dropped}
}

func partner(topic models.Topic) models.Topic {
	if topic == models.TopicMeter {
		return models.TopicPV
	}
	return models.TopicMeter
}
