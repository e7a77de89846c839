package client

import "errors"

var (
	ErrHandshake       = errors.New("messaging handshake failed")
	ErrTransportClosed = errors.New("messaging transport closed")
	ErrNotSubscribed   = errors.New("not subscribed to a room")
	ErrEmptyMessage    = errors.New("message is empty")
	ErrSuperseded      = errors.New("open superseded by a newer request")
	ErrNoRoom          = errors.New("room id is empty")
)

// EventKind identifies a transient session notification.
type EventKind int

const (
	EventConnected EventKind = iota + 1
	EventFailed
	EventTransportClosed
)

func (k EventKind) String() string {
	switch k {
	case EventConnected:
		return "connected"
	case EventFailed:
		return "failed"
	case EventTransportClosed:
		return "transport closed"
	default:
		return "unknown"
	}
}

// Event is a transient notification for the UI layer.
type Event struct {
	Kind   EventKind
	RoomID string
	Err    error
}
