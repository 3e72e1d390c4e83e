package models

import (
	"encoding/json"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewReading(t *testing.T) {
	at := time.Date(2024, 6, 1, 12, 0, 0, 750_000_000, time.FixedZone("CEST", 2*3600))

	r, err := NewReading(TopicMeter, at, 120.5)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2024, 6, 1, 10, 0, 0, 0, time.UTC), r.Timestamp)
	assert.Equal(t, time.UTC, r.Timestamp.Location())

	for _, bad := range []float64{-1, math.NaN(), math.Inf(1)} {
		_, err := NewReading(TopicPV, at, bad)
		assert.Error(t, err, "%v", bad)
	}
	_, err = NewReading(Topic("battery"), at, 1)
	assert.Error(t, err)
}

func TestRecordTotal(t *testing.T) {
	rec := NewPowerObservationRecord(time.Unix(0, 0), 412.3, 0)
	assert.Equal(t, -412.3, rec.TotalPowerOutput)

	rec = NewPowerObservationRecord(time.Unix(0, 0), 0.1, 0.3)
	assert.Equal(t, 0.3-0.1, rec.TotalPowerOutput)
}

func TestRecordJSONFields(t *testing.T) {
	rec := NewPowerObservationRecord(time.Date(2024, 1, 1, 0, 0, 5, 0, time.UTC), 405.1, 0)
	raw, err := json.Marshal(rec)
	require.NoError(t, err)
	assert.JSONEq(t,
		`{"time_stamp":"2024-01-01T00:00:05Z","meter_power_consumption":405.1,"pv_power_output":0,"total_power_output":-405.1}`,
		string(raw))
}

func TestBrokerMessageRoundTrip(t *testing.T) {
	r, err := NewReading(TopicPV, time.Date(2024, 1, 1, 13, 0, 0, 0, time.UTC), 2999.25)
	require.NoError(t, err)

	payload, err := EncodeMessage(NewReadingMessage(r))
	require.NoError(t, err)
	msg, err := DecodeMessage(payload)
	require.NoError(t, err)

	back, err := msg.Reading(TopicPV)
	require.NoError(t, err)
	assert.Equal(t, r, back)
}

func TestEndMessage(t *testing.T) {
	payload, err := EncodeMessage(NewEndMessage())
	require.NoError(t, err)
	assert.NotContains(t, string(payload), "time_stamp")

	msg, err := DecodeMessage(payload)
	require.NoError(t, err)
	assert.True(t, msg.IsEnd())
	_, err = msg.Reading(TopicMeter)
	assert.Error(t, err)
}

func TestDecodeGarbage(t *testing.T) {
	_, err := DecodeMessage([]byte("{not json"))
	assert.Error(t, err)

	msg, err := DecodeMessage([]byte(`{"id":"00000000-0000-0000-0000-000000000000"}`))
	require.NoError(t, err)
	_, err = msg.Reading(TopicMeter)
	assert.Error(t, err)
}

func TestDropString(t *testing.T) {
	d := CorrelationDrop{Topic: TopicPV, Timestamp: time.Date(2024, 1, 1, 0, 0, 55, 0, time.UTC), ValueWatts: 12}
	assert.Equal(t, "dropped pv sample at 2024-01-01T00:00:55Z (12.00 W)", d.String())
}
