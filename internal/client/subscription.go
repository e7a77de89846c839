package client

import (
	"context"
	"sync"
	"time"

	"github.com/go-stomp/stomp/v3"
	"github.com/rs/zerolog"

	"github.com/omochice/roomchat/pkg/protocol"
)

// subscription is one live connection scoped to one room.
type subscription struct {
	roomID string
	stream *watchedConn
	conn   *stomp.Conn
	sub    *stomp.Subscription

	ctx    context.Context
	cancel context.CancelFunc
	out    chan protocol.Message
	done   chan struct{}

	// started and dispatching are guarded by Session.mu.
	started     bool
	dispatching bool

	disconnectTimeout time.Duration
	logger            zerolog.Logger
	once              sync.Once
}

// start launches the pump, and a dispatcher when handler is set. The caller
// holds Session.mu.
func (sub *subscription) start(s *Session, handler func(protocol.Message)) {
	sub.started = true
	go sub.pump(s)
	if handler != nil {
		sub.dispatching = true
		go s.dispatch(sub, handler)
	}
}

// pump delivers frames in arrival order until teardown or a broker drop.
func (sub *subscription) pump(s *Session) {
	defer close(sub.done)
	defer close(sub.out)

	for {
		select {
		case <-sub.ctx.Done():
			return
		case <-sub.stream.Broken():
			if sub.ctx.Err() != nil {
				return
			}
			if !sub.drain() {
				return
			}
			s.lost(sub, sub.stream.Err())
			return
		case msg, ok := <-sub.sub.C:
			if sub.ctx.Err() != nil {
				return
			}
			if !ok {
				s.lost(sub, sub.stream.Err())
				return
			}
			if msg.Err != nil {
				s.lost(sub, msg.Err)
				return
			}
			if !sub.deliver(msg.Body) {
				return
			}
		}
	}
}

// drain delivers frames that were already queued when the transport broke.
// It reports false if the subscription was torn down meanwhile.
func (sub *subscription) drain() bool {
	for {
		select {
		case msg, ok := <-sub.sub.C:
			if !ok || msg.Err != nil {
				return true
			}
			if !sub.deliver(msg.Body) {
				return false
			}
		default:
			return true
		}
	}
}

// deliver decodes body onto the feed. Undecodable bodies are skipped. It
// reports false once the subscription is torn down.
func (sub *subscription) deliver(body []byte) bool {
	var m protocol.Message
	if err := m.Decode(body); err != nil {
		sub.logger.Warn().Err(err).Msg("failed to decode message")
		return true
	}
	if m.RoomID == "" {
		m.RoomID = sub.roomID
	}

	select {
	case sub.out <- m:
		return true
	case <-sub.ctx.Done():
		return false
	}
}

// teardown disconnects and closes the transport exactly once. A graceful
// DISCONNECT waits for its receipt up to disconnectTimeout; after that the
// transport is closed underneath it.
func (sub *subscription) teardown() {
	sub.once.Do(func() {
		sub.cancel()

		disconnected := make(chan error, 1)
		go func() { disconnected <- sub.conn.Disconnect() }()

		select {
		case err := <-disconnected:
			if err != nil {
				sub.logger.Debug().Err(err).Msg("disconnect")
			}
		case <-time.After(sub.disconnectTimeout):
			sub.logger.Debug().Msg("disconnect receipt timed out, closing transport")
		}
		sub.stream.Close()

		if sub.started {
			<-sub.done
		}
		for range sub.out {
		}
	})
}
