package chat_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/omochice/roomchat/internal/chat"
	"github.com/omochice/roomchat/internal/client"
	"github.com/omochice/roomchat/internal/state"
	"github.com/omochice/roomchat/pkg/protocol"
)

const wait = 2 * time.Second

type fakeDirectory struct {
	mu      sync.Mutex
	history map[string][]protocol.Message
	err     error
	gate    chan struct{}
}

func (d *fakeDirectory) FetchHistory(ctx context.Context, roomID string) ([]protocol.Message, error) {
	if d.gate != nil {
		select {
		case <-d.gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.err != nil {
		return nil, d.err
	}
	return append([]protocol.Message(nil), d.history[roomID]...), nil
}

type fakeMessenger struct {
	mu      sync.Mutex
	opens   []string
	closes  int
	sent    []protocol.Message
	current string
	feeds   map[string]chan protocol.Message
	events  chan client.Event
}

func newFakeMessenger() *fakeMessenger {
	return &fakeMessenger{
		feeds:  make(map[string]chan protocol.Message),
		events: make(chan client.Event, 8),
	}
}

func (m *fakeMessenger) feed(roomID string) chan protocol.Message {
	m.mu.Lock()
	defer m.mu.Unlock()
	ch, ok := m.feeds[roomID]
	if !ok {
		ch = make(chan protocol.Message, 16)
		m.feeds[roomID] = ch
	}
	return ch
}

func (m *fakeMessenger) Open(ctx context.Context, roomID string) error {
	m.feed(roomID)
	m.mu.Lock()
	defer m.mu.Unlock()
	m.opens = append(m.opens, roomID)
	m.current = roomID
	return nil
}

func (m *fakeMessenger) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closes++
	m.current = ""
	return nil
}

func (m *fakeMessenger) Send(msg protocol.Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sent = append(m.sent, msg)
	return nil
}

func (m *fakeMessenger) Messages() <-chan protocol.Message {
	m.mu.Lock()
	current := m.current
	m.mu.Unlock()
	return m.feed(current)
}

func (m *fakeMessenger) Events() <-chan client.Event {
	return m.events
}

func (m *fakeMessenger) openCalls() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.opens...)
}

func start(t *testing.T, r *chat.Room) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		r.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
}

func waitUpdate(t *testing.T, r *chat.Room, match func(chat.Update) bool) chat.Update {
	t.Helper()
	timeout := time.After(wait)
	for {
		select {
		case u := <-r.Updates():
			if match(u) {
				return u
			}
		case <-timeout:
			t.Fatal("timeout waiting for update")
		}
	}
}

func kind(k chat.UpdateKind) func(chat.Update) bool {
	return func(u chat.Update) bool { return u.Kind == k }
}

func eventually(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(wait)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timeout waiting for %s", what)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func contents(msgs []protocol.Message) string {
	out := make([]string, len(msgs))
	for i, m := range msgs {
		out[i] = m.Content
	}
	return fmt.Sprint(out)
}

func TestRoom_RedirectWhenNotConnected(t *testing.T) {
	store := state.NewStore()
	msgr := newFakeMessenger()
	r := chat.NewRoom(store, &fakeDirectory{}, msgr)
	start(t, r)

	waitUpdate(t, r, kind(chat.UpdateRedirect))
	if calls := msgr.openCalls(); len(calls) != 0 {
		t.Errorf("Open() calls = %v, want none", calls)
	}
}

func TestRoom_JoinLoadsHistory(t *testing.T) {
	store := state.NewStore()
	dir := &fakeDirectory{history: map[string][]protocol.Message{
		"demo": {
			{Sender: "a", Content: "one", Timestamp: "t1"},
			{Sender: "b", Content: "two", Timestamp: "t2"},
		},
	}}
	msgr := newFakeMessenger()
	r := chat.NewRoom(store, dir, msgr)
	start(t, r)

	store.Join("demo", "Alice")

	eventually(t, "history", func() bool { return len(r.Transcript()) == 2 })
	if got := contents(r.Transcript()); got != "[one two]" {
		t.Errorf("Transcript() = %s", got)
	}
	if r.RoomID() != "demo" {
		t.Errorf("RoomID() = %q, want demo", r.RoomID())
	}
	if calls := msgr.openCalls(); len(calls) != 1 || calls[0] != "demo" {
		t.Errorf("Open() calls = %v, want [demo]", calls)
	}

	msgr.feed("demo") <- protocol.Message{Sender: "c", Content: "three", Timestamp: "t3"}
	eventually(t, "live message", func() bool { return len(r.Transcript()) == 3 })
}

func TestRoom_EarlyLiveFramesReconciled(t *testing.T) {
	store := state.NewStore()
	gate := make(chan struct{})
	dir := &fakeDirectory{
		gate: gate,
		history: map[string][]protocol.Message{
			"demo": {
				{Sender: "a", Content: "one", Timestamp: "t1"},
				{Sender: "a", Content: "two", Timestamp: "t2"},
			},
		},
	}
	msgr := newFakeMessenger()
	r := chat.NewRoom(store, dir, msgr)
	start(t, r)

	store.Join("demo", "Alice")
	eventually(t, "open", func() bool { return len(msgr.openCalls()) == 1 })

	feed := msgr.feed("demo")
	feed <- protocol.Message{Sender: "a", Content: "two", Timestamp: "t2"}
	feed <- protocol.Message{Sender: "b", Content: "three", Timestamp: "t3"}
	eventually(t, "live frames consumed", func() bool { return len(feed) == 0 })

	if n := len(r.Transcript()); n != 0 {
		t.Errorf("Transcript() before history has %d messages, want 0", n)
	}

	close(gate)
	eventually(t, "history", func() bool { return len(r.Transcript()) == 3 })
	if got := contents(r.Transcript()); got != "[one two three]" {
		t.Errorf("Transcript() = %s, want [one two three]", got)
	}
}

func TestRoom_SwitchRoom(t *testing.T) {
	store := state.NewStore()
	dir := &fakeDirectory{history: map[string][]protocol.Message{
		"a": {{Sender: "x", Content: "in a"}},
		"b": {{Sender: "x", Content: "in b"}},
	}}
	msgr := newFakeMessenger()
	r := chat.NewRoom(store, dir, msgr)
	start(t, r)

	store.Join("a", "Alice")
	eventually(t, "room a", func() bool { return contents(r.Transcript()) == "[in a]" })

	store.SetRoomID("b")
	eventually(t, "room b", func() bool { return contents(r.Transcript()) == "[in b]" })

	if calls := msgr.openCalls(); fmt.Sprint(calls) != "[a b]" {
		t.Errorf("Open() calls = %v, want [a b]", calls)
	}

	// A frame on the old feed must not reach the new transcript.
	msgr.feed("a") <- protocol.Message{Sender: "x", Content: "stale"}
	time.Sleep(50 * time.Millisecond)
	if got := contents(r.Transcript()); got != "[in b]" {
		t.Errorf("Transcript() = %s", got)
	}
}

func TestRoom_LeaveRedirects(t *testing.T) {
	store := state.NewStore()
	msgr := newFakeMessenger()
	r := chat.NewRoom(store, &fakeDirectory{}, msgr)
	start(t, r)

	store.Join("demo", "Alice")
	eventually(t, "open", func() bool { return len(msgr.openCalls()) == 1 })
	waitUpdate(t, r, kind(chat.UpdateTranscript))

	r.Leave()

	waitUpdate(t, r, kind(chat.UpdateRedirect))
	if store.Connected() {
		t.Error("store still connected after Leave")
	}
	if r.RoomID() != "" || len(r.Transcript()) != 0 {
		t.Error("transcript not reset after Leave")
	}
	if err := r.Send("hi"); !errors.Is(err, chat.ErrNotJoined) {
		t.Errorf("Send() after Leave error = %v, want ErrNotJoined", err)
	}
}

func TestRoom_HistoryFailureIsNotice(t *testing.T) {
	store := state.NewStore()
	boom := errors.New("boom")
	msgr := newFakeMessenger()
	r := chat.NewRoom(store, &fakeDirectory{err: boom}, msgr)
	start(t, r)

	store.Join("demo", "Alice")

	u := waitUpdate(t, r, kind(chat.UpdateNotice))
	if !errors.Is(u.Err, boom) {
		t.Errorf("notice error = %v, want %v", u.Err, boom)
	}
	if !store.Connected() {
		t.Error("a history failure must not change the session")
	}

	msgr.feed("demo") <- protocol.Message{Sender: "a", Content: "live"}
	eventually(t, "live message", func() bool { return contents(r.Transcript()) == "[live]" })
}

func TestRoom_SessionEventsBecomeNotices(t *testing.T) {
	store := state.NewStore()
	msgr := newFakeMessenger()
	r := chat.NewRoom(store, &fakeDirectory{}, msgr)
	start(t, r)

	store.Join("demo", "Alice")
	eventually(t, "open", func() bool { return len(msgr.openCalls()) == 1 })

	msgr.events <- client.Event{Kind: client.EventFailed, RoomID: "other", Err: client.ErrHandshake}
	msgr.events <- client.Event{Kind: client.EventTransportClosed, RoomID: "demo", Err: client.ErrTransportClosed}

	u := waitUpdate(t, r, kind(chat.UpdateNotice))
	if u.RoomID != "demo" || u.Event != client.EventTransportClosed || !errors.Is(u.Err, client.ErrTransportClosed) {
		t.Errorf("notice = %+v", u)
	}
	if !store.Connected() {
		t.Error("a session error must not change the session")
	}
}

func TestRoom_SendUsesStoreName(t *testing.T) {
	store := state.NewStore()
	msgr := newFakeMessenger()
	r := chat.NewRoom(store, &fakeDirectory{}, msgr)

	if err := r.Send("hi"); !errors.Is(err, chat.ErrNotJoined) {
		t.Errorf("Send() before join error = %v, want ErrNotJoined", err)
	}

	store.Join("demo", "Alice")
	if err := r.Send("hi"); err != nil {
		t.Fatalf("Send() error = %v", err)
	}

	msgr.mu.Lock()
	defer msgr.mu.Unlock()
	if len(msgr.sent) != 1 || msgr.sent[0].Sender != "Alice" || msgr.sent[0].Content != "hi" {
		t.Errorf("sent = %+v", msgr.sent)
	}
}
