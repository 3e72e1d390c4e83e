package models

import (
	"encoding/json"
	"fmt"
)

// EncodeMessage serialises a message for the wire
func EncodeMessage(msg BrokerMessage) ([]byte, error) {
	payload, err := json.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal broker message: %w", err)
	}
	return payload, nil
}

// DecodeMessage parses a wire payload
func DecodeMessage(payload []byte) (BrokerMessage, error) {
	var msg BrokerMessage
	if err := json.Unmarshal(payload, &msg); err != nil {
		return BrokerMessage{}, fmt.Errorf("failed to unmarshal broker message: %w", err)
	}
	return msg, nil
}
