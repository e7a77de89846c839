package client

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/go-stomp/stomp/v3"
	"github.com/rs/zerolog"

	"github.com/omochice/roomchat/internal/log"
	"github.com/omochice/roomchat/internal/transport"
	"github.com/omochice/roomchat/pkg/protocol"
)

const eventBuffer = 16

// Config holds the session's connection settings.
type Config struct {
	Endpoint          string
	HandshakeTimeout  time.Duration
	DisconnectTimeout time.Duration
	HeartBeat         time.Duration
	Buffer            int
}

// Option configures a Session.
type Option func(*Session)

// WithDialer replaces the scheme-selecting dialer.
func WithDialer(d transport.Dialer) Option {
	return func(s *Session) { s.dialer = d }
}

// WithLogger sets the logger.
func WithLogger(l zerolog.Logger) Option {
	return func(s *Session) { s.logger = l }
}

// WithClock sets the clock used to stamp outgoing messages.
func WithClock(now func() time.Time) Option {
	return func(s *Session) { s.now = now }
}

// Session manages at most one live room subscription. Open and Close may be
// called from any goroutine; the most recent call wins.
type Session struct {
	cfg    Config
	dialer transport.Dialer
	logger zerolog.Logger
	now    func() time.Time

	mu      sync.Mutex
	state   State
	roomID  string
	gen     uint64
	pending *attempt
	sub     *subscription
	handler func(protocol.Message)

	// dispatchMu serializes handler calls across subscriptions.
	dispatchMu sync.Mutex
	events     chan Event
}

// attempt is an in-flight Open.
type attempt struct {
	roomID string
	cancel context.CancelFunc
	done   chan struct{}
	err    error
}

func (a *attempt) finish(err error) {
	a.err = err
	close(a.done)
}

// NewSession creates an idle Session.
func NewSession(cfg Config, opts ...Option) *Session {
	if cfg.Buffer <= 0 {
		cfg.Buffer = 64
	}
	if cfg.DisconnectTimeout <= 0 {
		cfg.DisconnectTimeout = 2 * time.Second
	}
	s := &Session{
		cfg:    cfg,
		logger: log.L(),
		now:    time.Now,
		events: make(chan Event, eventBuffer),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.dialer == nil {
		s.dialer = transport.NewDialer(cfg.HandshakeTimeout)
	}
	s.logger = s.logger.With().Str(log.FieldComponent, "session").Logger()
	return s
}

// Open subscribes to roomID. It is a no-op while already subscribed to the
// same room and joins a pending attempt for the same room. Any other
// subscription or attempt is torn down first.
func (s *Session) Open(ctx context.Context, roomID string) error {
	roomID = strings.TrimSpace(roomID)
	if roomID == "" {
		return ErrNoRoom
	}

	s.mu.Lock()
	if err := ctx.Err(); err != nil {
		s.mu.Unlock()
		return err
	}
	if s.sub != nil && s.sub.roomID == roomID {
		s.mu.Unlock()
		return nil
	}
	if p := s.pending; p != nil && p.roomID == roomID {
		s.mu.Unlock()
		select {
		case <-p.done:
			return p.err
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	s.gen++
	gen := s.gen
	prev := s.detachLocked()

	var (
		hctx   context.Context
		cancel context.CancelFunc
	)
	if s.cfg.HandshakeTimeout > 0 {
		hctx, cancel = context.WithTimeout(ctx, s.cfg.HandshakeTimeout)
	} else {
		hctx, cancel = context.WithCancel(ctx)
	}
	p := &attempt{roomID: roomID, cancel: cancel, done: make(chan struct{})}
	s.pending = p
	s.state = StateConnecting
	s.roomID = roomID
	s.mu.Unlock()
	defer cancel()

	logger := s.logger.With().Str(log.FieldRoomID, roomID).Uint64(log.FieldGeneration, gen).Logger()
	if prev != nil {
		prev.teardown()
	}

	logger.Debug().Str(log.FieldEndpoint, s.cfg.Endpoint).Msg("connecting")
	sub, err := s.connect(hctx, roomID)

	s.mu.Lock()
	if s.gen != gen {
		s.mu.Unlock()
		if sub != nil {
			sub.teardown()
		}
		logger.Debug().Msg("open superseded")
		p.finish(ErrSuperseded)
		return ErrSuperseded
	}
	s.pending = nil

	if err != nil {
		s.state = StateFailed
		s.mu.Unlock()
		err = fmt.Errorf("%w: %w", ErrHandshake, err)
		logger.Warn().Err(err).Msg("failed to open session")
		s.emit(Event{Kind: EventFailed, RoomID: roomID, Err: err})
		p.finish(err)
		return err
	}

	s.sub = sub
	s.state = StateSubscribed
	sub.start(s, s.handler)
	s.mu.Unlock()

	logger.Info().Stringer(log.FieldState, StateSubscribed).Msg("subscribed")
	s.emit(Event{Kind: EventConnected, RoomID: roomID})
	p.finish(nil)
	return nil
}

// connect dials, performs the STOMP handshake and subscribes. Cancelling ctx
// closes the transport, which abandons a handshake in progress.
func (s *Session) connect(ctx context.Context, roomID string) (*subscription, error) {
	raw, err := s.dialer.Dial(ctx, s.cfg.Endpoint)
	if err != nil {
		return nil, err
	}
	stream := watch(raw)
	stop := context.AfterFunc(ctx, func() { stream.Close() })

	opts := []func(*stomp.Conn) error{
		stomp.ConnOpt.HeartBeat(s.cfg.HeartBeat, s.cfg.HeartBeat),
	}
	if host := endpointHost(s.cfg.Endpoint); host != "" {
		opts = append(opts, stomp.ConnOpt.Host(host))
	}

	conn, err := stomp.Connect(stream, opts...)
	if err != nil {
		stop()
		stream.Close()
		return nil, fmt.Errorf("stomp connect: %w", err)
	}

	destination := protocol.Topic(roomID)
	ssub, err := conn.Subscribe(destination, stomp.AckAuto)
	if err != nil {
		stop()
		conn.MustDisconnect()
		stream.Close()
		return nil, fmt.Errorf("subscribe %s: %w", destination, err)
	}

	if !stop() {
		// ctx fired and the transport is already closed.
		conn.MustDisconnect()
		return nil, ctx.Err()
	}

	subCtx, cancel := context.WithCancel(context.Background())
	return &subscription{
		roomID:            roomID,
		stream:            stream,
		conn:              conn,
		sub:               ssub,
		ctx:               subCtx,
		cancel:            cancel,
		out:               make(chan protocol.Message, s.cfg.Buffer),
		done:              make(chan struct{}),
		disconnectTimeout: s.cfg.DisconnectTimeout,
		logger:            s.logger.With().Str(log.FieldRoomID, roomID).Logger(),
	}, nil
}

// detachLocked cancels a pending attempt and unlinks the live subscription.
// The caller tears the returned subscription down after releasing s.mu.
func (s *Session) detachLocked() *subscription {
	if s.pending != nil {
		s.pending.cancel()
		s.pending = nil
	}
	sub := s.sub
	s.sub = nil
	return sub
}

// Close tears down the subscription and abandons any pending handshake.
// Calling it again is a no-op.
func (s *Session) Close() error {
	s.mu.Lock()
	s.gen++
	prev := s.detachLocked()
	if s.state != StateIdle {
		s.state = StateClosed
	}
	s.mu.Unlock()

	if prev != nil {
		prev.teardown()
		s.logger.Debug().Str(log.FieldRoomID, prev.roomID).Msg("session closed")
	}
	return nil
}

// Send publishes msg to the current room. The session fills in the room id
// and a fresh timestamp. No receipt is awaited.
func (s *Session) Send(msg protocol.Message) error {
	if strings.TrimSpace(msg.Content) == "" {
		return ErrEmptyMessage
	}

	s.mu.Lock()
	sub := s.sub
	s.mu.Unlock()
	if sub == nil {
		return ErrNotSubscribed
	}

	msg.RoomID = sub.roomID
	msg.Timestamp = protocol.Stamp(s.now())
	data, err := msg.Encode()
	if err != nil {
		return fmt.Errorf("failed to encode message: %w", err)
	}

	if err := sub.conn.Send(protocol.SendDestination(sub.roomID), protocol.ContentTypeJSON, data); err != nil {
		if errors.Is(err, stomp.ErrAlreadyClosed) {
			s.lost(sub, err)
		}
		return fmt.Errorf("failed to send message: %w", err)
	}
	return nil
}

// Messages returns the live feed of the current subscription. The channel is
// closed on teardown. With no subscription it returns a closed channel.
func (s *Session) Messages() <-chan protocol.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sub == nil {
		ch := make(chan protocol.Message)
		close(ch)
		return ch
	}
	return s.sub.out
}

// OnMessage registers handler for every subscription from now on, including
// the current one. Handlers never run concurrently.
func (s *Session) OnMessage(handler func(protocol.Message)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.handler = handler
	if s.sub != nil && handler != nil && !s.sub.dispatching {
		s.sub.dispatching = true
		go s.dispatch(s.sub, handler)
	}
}

// Events returns the notification channel.
func (s *Session) Events() <-chan Event {
	return s.events
}

func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// RoomID returns the room of the current or pending subscription.
func (s *Session) RoomID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.roomID
}

func (s *Session) emit(ev Event) {
	select {
	case s.events <- ev:
	default:
		s.logger.Warn().Str(log.FieldRoomID, ev.RoomID).Stringer("kind", ev.Kind).Msg("event queue full, dropping event")
	}
}

// lost handles a broker-side drop of sub.
func (s *Session) lost(sub *subscription, cause error) {
	s.mu.Lock()
	current := s.sub == sub
	if current {
		s.sub = nil
		s.state = StateFailed
	}
	s.mu.Unlock()

	go sub.teardown()
	if !current {
		return
	}

	err := ErrTransportClosed
	if cause != nil {
		err = fmt.Errorf("%w: %w", ErrTransportClosed, cause)
	}
	sub.logger.Warn().Err(err).Msg("connection lost")
	s.emit(Event{Kind: EventTransportClosed, RoomID: sub.roomID, Err: err})
}

func (s *Session) dispatch(sub *subscription, handler func(protocol.Message)) {
	for m := range sub.out {
		s.dispatchMu.Lock()
		if sub.ctx.Err() == nil {
			handler(m)
		}
		s.dispatchMu.Unlock()
	}
}

func endpointHost(endpoint string) string {
	u, err := url.Parse(endpoint)
	if err != nil {
		return ""
	}
	return u.Hostname()
}
