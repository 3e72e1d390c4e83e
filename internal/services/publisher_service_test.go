package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"pv-simulator/internal/broker"
	"pv-simulator/internal/generator"
	"pv-simulator/internal/metrics"
	"pv-simulator/internal/models"
	"pv-simulator/internal/simclock"
)

var origin = time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)

// failingChannel accepts a fixed number of publishes and then fails
type failingChannel struct {
	broker.Channel
	accept int
}

func (f *failingChannel) Publish(ctx context.Context, topic models.Topic, msg models.BrokerMessage) error {
	if f.accept == 0 {
		return errors.New("connection reset by peer")
	}
	f.accept--
	return f.Channel.Publish(ctx, topic, msg)
}

func drainStream(t *testing.T, ch *broker.MemoryChannel, topic models.Topic) []models.BrokerMessage {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	stream, err := ch.Subscribe(ctx, topic)
	require.NoError(t, err)

	var out []models.BrokerMessage
	for i := ch.Len(topic); i > 0; i-- {
		select {
		case msg := <-stream:
			out = append(out, msg)
		case <-time.After(time.Second):
			t.Fatal("timed out reading stream")
		}
	}
	return out
}

func TestPublisherPublishesEveryTickThenEnd(t *testing.T) {
	clock, err := simclock.New(origin, 5*time.Second, 20*time.Second)
	require.NoError(t, err)

	ch := broker.NewMemoryChannel()
	defer ch.Close()
	m := metrics.New()

	p := NewPublisherService(
		PublisherServiceConfig{Topic: models.TopicMeter},
		generator.New(generator.DefaultMeterModel(), 7),
		clock, ch, m, zap.NewNop(),
	)
	require.NoError(t, p.Run(context.Background()))
	assert.Equal(t, 4, p.Published())

	msgs := drainStream(t, ch, models.TopicMeter)
	require.Len(t, msgs, 5)
	for i, msg := range msgs[:4] {
		reading, err := msg.Reading(models.TopicMeter)
		require.NoError(t, err)
		assert.True(t, clock.At(i).Equal(reading.Timestamp))
		assert.GreaterOrEqual(t, reading.ValueWatts, 0.0)
		assert.LessOrEqual(t, reading.ValueWatts, generator.DefaultMaxConsumption)
	}
	assert.True(t, msgs[4].IsEnd())
	assert.Zero(t, ch.Len(models.TopicPV))
}

func TestPublisherSingleTick(t *testing.T) {
	clock, err := simclock.New(origin, 5*time.Second, simclock.HoursToDuration(1.0/720))
	require.NoError(t, err)

	ch := broker.NewMemoryChannel()
	defer ch.Close()

	p := NewPublisherService(
		PublisherServiceConfig{Topic: models.TopicPV},
		generator.New(generator.DefaultPVModel(), 1),
		clock, ch, metrics.New(), zap.NewNop(),
	)
	require.NoError(t, p.Run(context.Background()))

	msgs := drainStream(t, ch, models.TopicPV)
	require.Len(t, msgs, 2)
	assert.True(t, origin.Equal(*msgs[0].TimeStamp))
	// midnight is outside daylight
	assert.Equal(t, 0.0, *msgs[0].Value)
	assert.True(t, msgs[1].IsEnd())
}

func TestPublisherFailureIsBrokerError(t *testing.T) {
	clock, err := simclock.New(origin, time.Second, 10*time.Second)
	require.NoError(t, err)

	mem := broker.NewMemoryChannel()
	defer mem.Close()
	ch := &failingChannel{Channel: mem, accept: 3}

	p := NewPublisherService(
		PublisherServiceConfig{Topic: models.TopicMeter},
		generator.New(generator.DefaultMeterModel(), 7),
		clock, ch, metrics.New(), zap.NewNop(),
	)
	err = p.Run(context.Background())
	require.Error(t, err)
	assert.True(t, errors.Is(err, models.ErrBroker))
	assert.Equal(t, 3, p.Published())
	assert.Equal(t, 3, mem.Len(models.TopicMeter))
}

func TestPublisherHonoursCancellation(t *testing.T) {
	clock, err := simclock.New(origin, time.Second, time.Hour)
	require.NoError(t, err)

	ch := broker.NewMemoryChannel()
	defer ch.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	p := NewPublisherService(
		PublisherServiceConfig{Topic: models.TopicMeter, TickDelay: 10 * time.Millisecond},
		generator.New(generator.DefaultMeterModel(), 7),
		clock, ch, metrics.New(), zap.NewNop(),
	)
	err = p.Run(ctx)
	assert.True(t, errors.Is(err, context.DeadlineExceeded))
	assert.Less(t, p.Published(), clock.Ticks())
}
