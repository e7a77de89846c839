// Package chat drives the messaging session and the room transcript from
// the session state store. It is the contract the terminal UI consumes.
package chat

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/omochice/roomchat/internal/client"
	"github.com/omochice/roomchat/internal/log"
	"github.com/omochice/roomchat/internal/state"
	"github.com/omochice/roomchat/internal/transcript"
	"github.com/omochice/roomchat/pkg/protocol"
)

// ErrNotJoined is returned by Send while no room is joined.
var ErrNotJoined = errors.New("not joined to a room")

// Directory loads room history.
type Directory interface {
	FetchHistory(ctx context.Context, roomID string) ([]protocol.Message, error)
}

// Messenger is the live messaging session.
type Messenger interface {
	Open(ctx context.Context, roomID string) error
	Close() error
	Send(msg protocol.Message) error
	Messages() <-chan protocol.Message
	Events() <-chan client.Event
}

// UpdateKind identifies what changed.
type UpdateKind int

const (
	// UpdateTranscript means Transcript() has new content.
	UpdateTranscript UpdateKind = iota + 1
	// UpdateNotice carries a transient notification.
	UpdateNotice
	// UpdateRedirect means the session is not connected and the chat view
	// must not be shown.
	UpdateRedirect
)

// Update is a change the view should render.
type Update struct {
	Kind   UpdateKind
	RoomID string
	Notice string
	// Err is set for error notices.
	Err error
	// Event is the session event behind a notice, if any.
	Event client.EventKind
}

// Option configures a Room.
type Option func(*Room)

// WithLogger sets the logger.
func WithLogger(l zerolog.Logger) Option {
	return func(r *Room) { r.logger = l }
}

// WithUpdateBuffer sets the capacity of the Updates channel.
func WithUpdateBuffer(n int) Option {
	return func(r *Room) {
		if n > 0 {
			r.updates = make(chan Update, n)
		}
	}
}

// Room connects the state store, the room directory and the messaging
// session.
type Room struct {
	store  *state.Store
	dir    Directory
	msgr   Messenger
	logger zerolog.Logger

	updates chan Update

	mu         sync.RWMutex
	transcript *transcript.Transcript
}

// NewRoom creates a Room. Call Run to start it.
func NewRoom(store *state.Store, dir Directory, msgr Messenger, opts ...Option) *Room {
	r := &Room{
		store:      store,
		dir:        dir,
		msgr:       msgr,
		logger:     log.L(),
		updates:    make(chan Update, 64),
		transcript: transcript.New(""),
	}
	for _, opt := range opts {
		opt(r)
	}
	r.logger = r.logger.With().Str(log.FieldComponent, "chat").Logger()
	return r
}

type loadKind int

const (
	loadOpened loadKind = iota
	loadHistory
)

// loadResult reports one half of loading a room. seq identifies the load so
// results for a superseded room are ignored.
type loadResult struct {
	seq     int
	roomID  string
	kind    loadKind
	history []protocol.Message
	err     error
}

// Run reacts to store changes until ctx is done. A room change closes the
// session, resets the transcript and loads the new room. A cleared
// connection flag closes the session and emits UpdateRedirect.
func (r *Room) Run(ctx context.Context) error {
	sessions, stop := r.store.Watch()
	defer stop()
	defer r.msgr.Close()

	results := make(chan loadResult)
	var (
		active     string
		seq        int
		feed       <-chan protocol.Message
		cancelLoad context.CancelFunc = func() {}
	)
	defer func() { cancelLoad() }()

	for {
		select {
		case <-ctx.Done():
			return nil

		case sess, ok := <-sessions:
			if !ok {
				return nil
			}
			if !sess.Connected || sess.RoomID == "" {
				if active != "" {
					cancelLoad()
					r.msgr.Close()
					r.logger.Info().Str(log.FieldRoomID, active).Msg("left room")
					active, feed = "", nil
					seq++
					r.reset("")
				}
				r.publish(Update{Kind: UpdateRedirect})
				continue
			}
			if sess.RoomID == active {
				continue
			}

			// A load still running for the previous room must not reopen it.
			cancelLoad()
			r.msgr.Close()
			active, feed = sess.RoomID, nil
			seq++
			r.reset(active)
			r.publish(Update{Kind: UpdateTranscript, RoomID: active})
			r.logger.Info().Str(log.FieldRoomID, active).Str(log.FieldUser, sess.UserName).Msg("entering room")

			var loadCtx context.Context
			loadCtx, cancelLoad = context.WithCancel(ctx)
			go r.load(loadCtx, seq, active, results)

		case res := <-results:
			if res.seq != seq {
				continue
			}
			r.apply(res, &feed)

		case m, ok := <-feed:
			if !ok {
				feed = nil
				continue
			}
			if r.current().Append(m) {
				r.publish(Update{Kind: UpdateTranscript, RoomID: active})
			}

		case ev := <-r.msgr.Events():
			if ev.RoomID != active {
				continue
			}
			r.notify(ev)
		}
	}
}

// load opens the session and fetches history concurrently.
func (r *Room) load(ctx context.Context, seq int, roomID string, results chan<- loadResult) {
	deliver := func(res loadResult) {
		select {
		case results <- res:
		case <-ctx.Done():
		}
	}

	var g errgroup.Group
	g.Go(func() error {
		err := r.msgr.Open(ctx, roomID)
		deliver(loadResult{seq: seq, roomID: roomID, kind: loadOpened, err: err})
		return err
	})
	g.Go(func() error {
		history, err := r.dir.FetchHistory(ctx, roomID)
		deliver(loadResult{seq: seq, roomID: roomID, kind: loadHistory, history: history, err: err})
		return err
	})
	if err := g.Wait(); err != nil {
		r.logger.Debug().Err(err).Str(log.FieldRoomID, roomID).Msg("room load incomplete")
	}
}

func (r *Room) apply(res loadResult, feed *<-chan protocol.Message) {
	switch res.kind {
	case loadOpened:
		if res.err != nil {
			// The session reports handshake failures through its events.
			r.logger.Debug().Err(res.err).Str(log.FieldRoomID, res.roomID).Msg("open failed")
			return
		}
		*feed = r.msgr.Messages()

	case loadHistory:
		history := res.history
		if res.err != nil {
			r.logger.Warn().Err(res.err).Str(log.FieldRoomID, res.roomID).Msg("failed to load history")
			r.publish(Update{
				Kind:   UpdateNotice,
				RoomID: res.roomID,
				Notice: "Failed to load message history",
				Err:    res.err,
			})
			history = nil
		}
		r.current().Init(history)
		r.publish(Update{Kind: UpdateTranscript, RoomID: res.roomID})
	}
}

func (r *Room) notify(ev client.Event) {
	u := Update{Kind: UpdateNotice, RoomID: ev.RoomID, Err: ev.Err, Event: ev.Kind}
	switch ev.Kind {
	case client.EventConnected:
		u.Notice = fmt.Sprintf("Connected to room %s", ev.RoomID)
	case client.EventFailed:
		u.Notice = "Could not connect to the chat server"
	case client.EventTransportClosed:
		u.Notice = "Connection to the chat server was lost"
	default:
		return
	}
	r.publish(u)
}

// Send posts content as the current user.
func (r *Room) Send(content string) error {
	sess := r.store.Snapshot()
	if !sess.Connected || sess.RoomID == "" {
		return ErrNotJoined
	}
	return r.msgr.Send(protocol.Message{Sender: sess.UserName, Content: content})
}

// Leave clears the session. Run closes the messaging session in response.
func (r *Room) Leave() {
	r.store.Leave()
}

// Transcript returns a snapshot of the current room's messages.
func (r *Room) Transcript() []protocol.Message {
	return r.current().Messages()
}

// RoomID returns the room the transcript belongs to.
func (r *Room) RoomID() string {
	return r.current().RoomID()
}

// Updates returns the change feed. Updates are dropped when the buffer is
// full; Transcript always reflects the latest state.
func (r *Room) Updates() <-chan Update {
	return r.updates
}

func (r *Room) current() *transcript.Transcript {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.transcript
}

func (r *Room) reset(roomID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.transcript = transcript.New(roomID)
}

func (r *Room) publish(u Update) {
	select {
	case r.updates <- u:
	default:
		r.logger.Warn().Int("kind", int(u.Kind)).Msg("update queue full, dropping update")
	}
}
