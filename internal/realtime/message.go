package realtime

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/tessro/atelier/internal/output"
	"github.com/tessro/atelier/internal/session"
)

// Message is the envelope for every websocket frame.
type Message struct {
	Type      string          `json:"type"`
	SessionID string          `json:"session_id,omitempty"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
}

// Server to client frame types.
const (
	TypeSessionChange = "session.change"
	TypeSessionEvents = "session.events"
	TypeSubscribed    = "subscribed"
	TypeError         = "error"
)

// Client to server frame types.
const (
	TypeSubscribe   = "subscribe"
	TypeUnsubscribe = "unsubscribe"
)

// ChangePayload is carried by session.change frames.
type ChangePayload struct {
	Old session.Status `json:"old,omitempty"`
	New session.Status `json:"new"`
}

// EventsPayload is carried by session.events frames.
type EventsPayload struct {
	Raw    []string       `json:"raw"`
	Events []output.Event `json:"events"`
}

// ErrorPayload is carried by error frames.
type ErrorPayload struct {
	Message string `json:"message"`
}

// NewMessage creates a server frame stamped with the current time.
func NewMessage(msgType, sessionID string, payload any) (*Message, error) {
	m := &Message{
		Type:      msgType,
		SessionID: sessionID,
		Timestamp: time.Now().UTC(),
	}
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("marshal payload: %w", err)
		}
		m.Payload = data
	}
	return m, nil
}
