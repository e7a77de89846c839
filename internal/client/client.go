// Package client implements the room messaging session: one STOMP
// connection and one topic subscription for the active room.
package client

import (
	"context"

	"github.com/omochice/roomchat/pkg/protocol"
)

// Client defines the messaging session contract consumed by the chat view.
type Client interface {
	Open(ctx context.Context, roomID string) error
	Close() error
	Send(msg protocol.Message) error
	Messages() <-chan protocol.Message
	OnMessage(handler func(protocol.Message))
	Events() <-chan Event
	State() State
	RoomID() string
}

var _ Client = (*Session)(nil)
