package relay

import (
	"encoding/json"
	"fmt"
	"time"
)

// Envelope is the payload broadcast to every member of a room.
type Envelope struct {
	SenderID  string `json:"senderId"`
	Text      string `json:"text"`
	Timestamp int64  `json:"timestamp"`
}

// NewEnvelope stamps text from senderID with at in epoch milliseconds.
func NewEnvelope(senderID, text string, at time.Time) Envelope {
	return Envelope{
		SenderID:  senderID,
		Text:      text,
		Timestamp: at.UnixMilli(),
	}
}

// inboundMessage is the client -> server frame. Unknown fields are ignored.
type inboundMessage struct {
	Text *string `json:"text"`
}

// ParseMessage extracts the text field from a raw client frame. Any failure is
// wrapped in ErrMalformedMessage.
func ParseMessage(raw []byte) (string, error) {
	var msg inboundMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		return "", fmt.Errorf("%w: %v", ErrMalformedMessage, err)
	}
	if msg.Text == nil {
		return "", fmt.Errorf("%w: missing text field", ErrMalformedMessage)
	}
	return *msg.Text, nil
}
