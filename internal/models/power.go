package models

import (
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"
)

// Topic identifies one generator's stream on the broker
type Topic string

const (
	TopicMeter Topic = "meter"
	TopicPV    Topic = "pv"
)

// Topics lists every topic the simulation publishes, in a stable order
func Topics() []Topic {
	return []Topic{TopicMeter, TopicPV}
}

// Valid reports whether t is one of the fixed topic identifiers
func (t Topic) Valid() bool {
	return t == TopicMeter || t == TopicPV
}

// Reading is one generator sample stamped with its simulated instant
type Reading struct {
	Topic      Topic     `json:"topic"`
	Timestamp  time.Time `json:"timestamp"`
	ValueWatts float64   `json:"value_watts"`
}

// NewReading validates the value and truncates the timestamp to second resolution
func NewReading(topic Topic, timestamp time.Time, valueWatts float64) (Reading, error) {
	if !topic.Valid() {
		return Reading{}, fmt.Errorf("unknown topic %q", topic)
	}
	if math.IsNaN(valueWatts) || math.IsInf(valueWatts, 0) || valueWatts < 0 {
		return Reading{}, fmt.Errorf("%v is not a non-negative finite number", valueWatts)
	}
	return Reading{
		Topic:      topic,
		Timestamp:  timestamp.UTC().Truncate(time.Second),
		ValueWatts: valueWatts,
	}, nil
}

// BrokerMessage is the payload carried on a topic.
// A message with End set marks the end of a publisher's stream and carries no reading.
type BrokerMessage struct {
	ID        uuid.UUID  `json:"id"`
	TimeStamp *time.Time `json:"time_stamp,omitempty"`
	Value     *float64   `json:"value,omitempty"`
	End       bool       `json:"end,omitempty"`
}

// NewReadingMessage wraps a reading for publishing
func NewReadingMessage(r Reading) BrokerMessage {
	ts := r.Timestamp
	value := r.ValueWatts
	return BrokerMessage{
		ID:        uuid.New(),
		TimeStamp: &ts,
		Value:     &value,
	}
}

// NewEndMessage returns the end-of-stream marker
func NewEndMessage() BrokerMessage {
	return BrokerMessage{ID: uuid.New(), End: true}
}

// IsEnd reports whether the message closes the stream
func (m BrokerMessage) IsEnd() bool {
	return m.End
}

// Reading converts the payload back into a Reading for the given topic
func (m BrokerMessage) Reading(topic Topic) (Reading, error) {
	if m.End {
		return Reading{}, fmt.Errorf("message %s is an end-of-stream marker", m.ID)
	}
	if m.TimeStamp == nil {
		return Reading{}, fmt.Errorf("message %s has no time stamp", m.ID)
	}
	if m.Value == nil {
		return Reading{}, fmt.Errorf("message %s has no value", m.ID)
	}
	return NewReading(topic, *m.TimeStamp, *m.Value)
}

// Delivery is a message received from a topic
type Delivery struct {
	Topic   Topic
	Message BrokerMessage
}

// PowerObservationRecord combines the meter and PV readings of one instant
type PowerObservationRecord struct {
	TimeStamp             time.Time `json:"time_stamp"`
	MeterPowerConsumption float64   `json:"meter_power_consumption"`
	PVPowerOutput         float64   `json:"pv_power_output"`
	TotalPowerOutput      float64   `json:"total_power_output"`
}

// NewPowerObservationRecord builds a record; consumption and output have opposite
// signs, so the total is output minus consumption.
func NewPowerObservationRecord(timeStamp time.Time, meterConsumption, pvOutput float64) PowerObservationRecord {
	return PowerObservationRecord{
		TimeStamp:             timeStamp.UTC(),
		MeterPowerConsumption: meterConsumption,
		PVPowerOutput:         pvOutput,
		TotalPowerOutput:      pvOutput - meterConsumption,
	}
}

// CorrelationDrop records a reading discarded because its partner never arrived
type CorrelationDrop struct {
	Topic      Topic     `json:"topic"`
	Timestamp  time.Time `json:"timestamp"`
	ValueWatts float64   `json:"value_watts"`
}

func (d CorrelationDrop) String() string {
	return fmt.Sprintf("dropped %s sample at %s (%.2f W)", d.Topic, d.Timestamp.Format(time.RFC3339), d.ValueWatts)
}
