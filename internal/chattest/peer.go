package chattest

import (
	"io"
	"strings"
	"sync"

	"github.com/go-stomp/stomp/v3/frame"
	"github.com/google/uuid"

	"github.com/omochice/roomchat/internal/log"
	"github.com/omochice/roomchat/pkg/protocol"
)

// peer is one STOMP client connection.
type peer struct {
	id        string
	stream    io.ReadWriteCloser
	outgoing  chan *frame.Frame
	closeOnce sync.Once
}

func newPeer(stream io.ReadWriteCloser) *peer {
	return &peer{
		id:       uuid.NewString(),
		stream:   stream,
		outgoing: make(chan *frame.Frame, 64),
	}
}

func (p *peer) close() {
	p.closeOnce.Do(func() {
		p.stream.Close()
	})
}

// serve runs the peer until the stream ends. It returns after the write
// loop has drained.
func (s *Server) serve(p *peer) {
	s.track(p, true)
	defer s.track(p, false)

	written := make(chan struct{})
	go func() {
		defer close(written)
		s.writeLoop(p)
	}()

	s.readLoop(p)
	s.hub.Unregister(p)
	close(p.outgoing)
	<-written
	p.close()
}

func (s *Server) writeLoop(p *peer) {
	w := frame.NewWriter(p.stream)
	for f := range p.outgoing {
		if err := w.Write(f); err != nil {
			s.logger.Debug().Err(err).Str("peer", p.id).Msg("failed to write frame")
			p.close()
			for range p.outgoing {
			}
			return
		}
	}
}

func (s *Server) readLoop(p *peer) {
	r := frame.NewReader(p.stream)
	connected := false

	for {
		f, err := r.Read()
		if err != nil {
			s.logger.Debug().Err(err).Str("peer", p.id).Msg("peer stream ended")
			return
		}
		if f == nil {
			continue
		}

		switch f.Command {
		case "CONNECT", "STOMP":
			if !s.connect(p) {
				return
			}
			connected = true
			continue
		case "DISCONNECT":
			s.receipt(p, f)
			return
		}

		if !connected {
			s.sendError(p, "not connected")
			return
		}

		switch f.Command {
		case "SUBSCRIBE":
			s.hub.Subscribe(p, f.Header.Get("destination"), f.Header.Get("id"))
		case "UNSUBSCRIBE":
			s.hub.Unsubscribe(p, f.Header.Get("id"))
		case "SEND":
			s.handleSend(f.Header.Get("destination"), f.Body)
		}
		s.receipt(p, f)
	}
}

func (s *Server) connect(p *peer) bool {
	n := s.countConnect()
	if s.onConnect != nil {
		s.onConnect(n)
	}
	if s.rejectConnect != "" {
		s.sendError(p, s.rejectConnect)
		return false
	}
	p.outgoing <- frame.New("CONNECTED",
		"version", "1.2",
		"heart-beat", "0,0",
		"server", "chattest",
	)
	if s.hangUp != nil && s.hangUp(n) {
		s.logger.Debug().Str("peer", p.id).Msg("hanging up after CONNECTED")
		return false
	}
	return true
}

func (s *Server) receipt(p *peer, f *frame.Frame) {
	if id := f.Header.Get("receipt"); id != "" {
		p.outgoing <- frame.New("RECEIPT", "receipt-id", id)
	}
}

func (s *Server) sendError(p *peer, msg string) {
	p.outgoing <- frame.New("ERROR", "message", msg)
}

// handleSend stores the message in the room named by the body and echoes it
// to the room topic. Messages for unknown rooms are dropped.
func (s *Server) handleSend(destination string, body []byte) {
	if !strings.HasPrefix(destination, protocol.SendPrefix) {
		return
	}

	var m protocol.Message
	if err := m.Decode(body); err != nil {
		s.logger.Debug().Err(err).Msg("failed to decode SEND body")
		return
	}
	s.recordSend(m)

	roomID := strings.TrimSpace(m.RoomID)
	if roomID == "" {
		roomID = strings.TrimPrefix(destination, protocol.SendPrefix)
	}
	if !s.appendHistory(roomID, m) {
		s.logger.Debug().Str(log.FieldRoomID, roomID).Msg("room not found, dropping message")
		return
	}
	s.Publish(strings.TrimPrefix(destination, protocol.SendPrefix), m)
}
