// Package protocol defines the chat message model and the STOMP destinations
// shared by the room directory client and the messaging session.
package protocol

import (
	"encoding/json"
	"fmt"
	"time"
)

// TimeLayout is the layout of client generated timestamps: UTC with
// millisecond precision and a Z suffix.
const TimeLayout = "2006-01-02T15:04:05.000Z07:00"

// localLayout matches timestamps serialized without a zone.
const localLayout = "2006-01-02T15:04:05.999999999"

// Message represents a chat message
type Message struct {
	Sender    string
	Content   string
	RoomID    string
	Timestamp string
}

// Key identifies a message across the history fetch and the live stream.
type Key struct {
	Sender    string
	Timestamp string
	Content   string
}

// wireMessage is the JSON shape on the wire. Outbound messages carry
// messageTime; the server echoes the same instant back as timeStamp.
type wireMessage struct {
	Sender      string `json:"sender"`
	Content     string `json:"content"`
	RoomID      string `json:"roomId,omitempty"`
	MessageTime string `json:"messageTime,omitempty"`
	TimeStamp   string `json:"timeStamp,omitempty"`
	Timestamp   string `json:"timestamp,omitempty"`
}

// Encode encodes the message into its JSON wire form
func (m *Message) Encode() ([]byte, error) {
	data, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("failed to encode message: %w", err)
	}
	return data, nil
}

// Decode decodes a JSON payload into the message
func (m *Message) Decode(data []byte) error {
	if err := json.Unmarshal(data, m); err != nil {
		return fmt.Errorf("failed to decode message: %w", err)
	}
	return nil
}

// MarshalJSON implements json.Marshaler.
func (m Message) MarshalJSON() ([]byte, error) {
	return json.Marshal(wireMessage{
		Sender:      m.Sender,
		Content:     m.Content,
		RoomID:      m.RoomID,
		MessageTime: m.Timestamp,
	})
}

// UnmarshalJSON implements json.Unmarshaler.
func (m *Message) UnmarshalJSON(data []byte) error {
	var w wireMessage
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	m.Sender = w.Sender
	m.Content = w.Content
	m.RoomID = w.RoomID
	switch {
	case w.MessageTime != "":
		m.Timestamp = w.MessageTime
	case w.TimeStamp != "":
		m.Timestamp = w.TimeStamp
	default:
		m.Timestamp = w.Timestamp
	}
	return nil
}

// Key returns the composite identity of the message.
func (m Message) Key() Key {
	return Key{Sender: m.Sender, Timestamp: m.Timestamp, Content: m.Content}
}

// Time parses the timestamp. Zone-less values are read as UTC.
func (m Message) Time() (time.Time, bool) {
	if m.Timestamp == "" {
		return time.Time{}, false
	}
	if t, err := time.Parse(time.RFC3339Nano, m.Timestamp); err == nil {
		return t, true
	}
	if t, err := time.ParseInLocation(localLayout, m.Timestamp, time.UTC); err == nil {
		return t, true
	}
	return time.Time{}, false
}

// Stamp formats t as a message timestamp.
func Stamp(t time.Time) string {
	return t.UTC().Format(TimeLayout)
}
