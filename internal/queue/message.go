package queue

import (
	"encoding/json"
	"time"
)

// CurrentVersion is the message schema version written by NewMessage.
const CurrentVersion = 1

// Message asks a worker to run the analysis for one entrepreneur.
type Message struct {
	EmprendedorID string `json:"emprendedorId"`
	RequestID     string `json:"requestId"`
	EnqueuedAt    string `json:"enqueuedAt"`
	Version       int    `json:"version"`
}

// NewMessage builds a job message stamped with now.
func NewMessage(emprendedorID, requestID string, now time.Time) Message {
	return Message{
		EmprendedorID: emprendedorID,
		RequestID:     requestID,
		EnqueuedAt:    now.UTC().Format(time.RFC3339),
		Version:       CurrentVersion,
	}
}

// EncodeMessage returns the JSON representation of a message.
func EncodeMessage(msg Message) ([]byte, error) {
	return json.Marshal(msg)
}

// DecodeMessage parses a JSON payload into a Message.
func DecodeMessage(payload []byte) (Message, error) {
	var msg Message
	if err := json.Unmarshal(payload, &msg); err != nil {
		return Message{}, err
	}
	return msg, nil
}
