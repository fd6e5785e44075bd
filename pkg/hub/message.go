// Package hub pushes live voice-session events to websocket listeners.
package hub

import (
	"encoding/json"
	"time"
)

// Event kinds on /ws/events.
const (
	EventState        = "state"
	EventTurn         = "turn"
	EventLevel        = "level"
	EventNotification = "notification"
	EventSpeaking     = "speaking"
	EventTranscript   = "transcript"
	EventLatency      = "latency"
)

// MessageType selects the websocket frame type.
type MessageType int

const (
	JSONMessage MessageType = iota
	BinaryMessage
)

// Message is one frame queued for delivery.
type Message struct {
	Type MessageType
	Data []byte
}

func NewJSONMessage(data []byte) Message   { return Message{Type: JSONMessage, Data: data} }
func NewBinaryMessage(data []byte) Message { return Message{Type: BinaryMessage, Data: data} }

// Event is the JSON envelope every listener receives.
type Event struct {
	Type string    `json:"type"`
	Data any       `json:"data"`
	Time time.Time `json:"time"`
}

func NewEvent(kind string, data any) Event {
	return Event{Type: kind, Data: data, Time: time.Now()}
}

// EncodeEvent marshals e into a text frame.
func EncodeEvent(e Event) (Message, error) {
	data, err := json.Marshal(e)
	if err != nil {
		return Message{}, err
	}
	return NewJSONMessage(data), nil
}
