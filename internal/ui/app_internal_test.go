package ui

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rivo/tview"

	"github.com/omochice/roomchat/internal/chat"
	"github.com/omochice/roomchat/internal/client"
	"github.com/omochice/roomchat/internal/rooms"
	"github.com/omochice/roomchat/internal/state"
	"github.com/omochice/roomchat/pkg/protocol"
)

type stubDirectory struct {
	mu      sync.Mutex
	err     error
	created []string
	joined  []string
}

func (d *stubDirectory) CreateRoom(ctx context.Context, roomID string) (rooms.Room, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.created = append(d.created, roomID)
	if d.err != nil {
		return rooms.Room{}, d.err
	}
	return rooms.Room{ID: roomID}, nil
}

func (d *stubDirectory) JoinRoom(ctx context.Context, roomID string) (rooms.Room, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.joined = append(d.joined, roomID)
	if d.err != nil {
		return rooms.Room{}, d.err
	}
	return rooms.Room{ID: roomID}, nil
}

func (d *stubDirectory) FetchHistory(ctx context.Context, roomID string) ([]protocol.Message, error) {
	return nil, nil
}

func (d *stubDirectory) calls() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.created) + len(d.joined)
}

type stubMessenger struct {
	mu   sync.Mutex
	sent []protocol.Message
}

func (m *stubMessenger) Open(ctx context.Context, roomID string) error { return nil }
func (m *stubMessenger) Close() error                                  { return nil }

func (m *stubMessenger) Send(msg protocol.Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sent = append(m.sent, msg)
	return nil
}

func (m *stubMessenger) Messages() <-chan protocol.Message { return nil }
func (m *stubMessenger) Events() <-chan client.Event       { return nil }

func newTestApp(dir *stubDirectory, msgr *stubMessenger) (*App, *state.Store) {
	store := state.NewStore()
	room := chat.NewRoom(store, dir, msgr)
	return New(store, dir, room, "", WithRequestTimeout(time.Second), WithLocation(time.UTC)), store
}

func frontPage(a *App) string {
	name, _ := a.pages.GetFrontPage()
	return name
}

func setField(a *App, label, text string) {
	field, ok := a.form.GetFormItemByLabel(label).(*tview.InputField)
	if !ok {
		panic("no input field " + label)
	}
	field.SetText(text)
}

func eventually(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timeout waiting for %s", what)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestApp_TranscriptNeedsConnection(t *testing.T) {
	a, store := newTestApp(&stubDirectory{}, &stubMessenger{})

	a.apply(chat.Update{Kind: chat.UpdateTranscript})
	if got := frontPage(a); got != pageJoin {
		t.Fatalf("front page = %q while disconnected, want %q", got, pageJoin)
	}

	store.Join("demo", "Alice")
	a.apply(chat.Update{Kind: chat.UpdateTranscript, RoomID: "demo"})
	if got := frontPage(a); got != pageChat {
		t.Fatalf("front page = %q, want %q", got, pageChat)
	}
	header := a.header.GetText(true)
	if !strings.Contains(header, "demo") || !strings.Contains(header, "Alice") {
		t.Errorf("header = %q", header)
	}
}

func TestApp_RedirectShowsJoinPage(t *testing.T) {
	a, store := newTestApp(&stubDirectory{}, &stubMessenger{})
	store.Join("demo", "Alice")
	a.apply(chat.Update{Kind: chat.UpdateTranscript, RoomID: "demo"})

	a.apply(chat.Update{Kind: chat.UpdateRedirect})
	if got := frontPage(a); got != pageJoin {
		t.Errorf("front page = %q, want %q", got, pageJoin)
	}
}

func TestApp_NoticeShownInStatusLine(t *testing.T) {
	a, _ := newTestApp(&stubDirectory{}, &stubMessenger{})

	a.apply(chat.Update{Kind: chat.UpdateNotice, Notice: "Connected to room demo"})
	if got := a.status.GetText(true); !strings.Contains(got, "Connected to room demo") {
		t.Errorf("status = %q", got)
	}
}

func TestApp_Submit(t *testing.T) {
	tests := []struct {
		name   string
		create bool
	}{
		{name: "join", create: false},
		{name: "create", create: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := &stubDirectory{}
			a, store := newTestApp(dir, &stubMessenger{})
			setField(a, "Room ID", " demo ")
			setField(a, "Your name", "Alice")

			a.submit(tt.create)

			eventually(t, "join", store.Connected)
			want := state.Session{RoomID: "demo", UserName: "Alice", Connected: true}
			if got := store.Snapshot(); got != want {
				t.Errorf("Snapshot() = %+v, want %+v", got, want)
			}

			dir.mu.Lock()
			defer dir.mu.Unlock()
			if tt.create && (len(dir.created) != 1 || len(dir.joined) != 0) {
				t.Errorf("created = %v, joined = %v", dir.created, dir.joined)
			}
			if !tt.create && (len(dir.joined) != 1 || len(dir.created) != 0) {
				t.Errorf("created = %v, joined = %v", dir.created, dir.joined)
			}
		})
	}
}

func TestApp_SubmitRejectsBlankInput(t *testing.T) {
	dir := &stubDirectory{}
	a, store := newTestApp(dir, &stubMessenger{})
	setField(a, "Room ID", "  ")
	setField(a, "Your name", "Alice")

	a.submit(false)

	if got := a.status.GetText(true); !strings.Contains(got, "Invalid input") {
		t.Errorf("status = %q", got)
	}
	if dir.calls() != 0 || store.Connected() {
		t.Error("blank input must not reach the directory or the store")
	}
}

func TestApp_SubmitFailureStaysDisconnected(t *testing.T) {
	dir := &stubDirectory{err: rooms.ErrNotFound}
	a, store := newTestApp(dir, &stubMessenger{})
	setField(a, "Room ID", "nope")
	setField(a, "Your name", "Alice")

	a.submit(false)

	eventually(t, "join request", func() bool { return dir.calls() == 1 })
	time.Sleep(20 * time.Millisecond)
	if store.Connected() {
		t.Error("a failed join must not connect the session")
	}
}

func TestApp_HandleInput(t *testing.T) {
	dir := &stubDirectory{}
	msgr := &stubMessenger{}
	a, store := newTestApp(dir, msgr)
	store.Join("demo", "Alice")

	a.handleInput("hello")
	msgr.mu.Lock()
	if len(msgr.sent) != 1 || msgr.sent[0].Content != "hello" || msgr.sent[0].Sender != "Alice" {
		t.Errorf("sent = %+v", msgr.sent)
	}
	msgr.mu.Unlock()

	a.handleInput("/room other")
	eventually(t, "room switch", func() bool { return store.RoomID() == "other" })
	if !store.Connected() || store.UserName() != "Alice" {
		t.Errorf("Snapshot() = %+v after switching rooms", store.Snapshot())
	}

	a.handleInput("/leave")
	if store.Connected() {
		t.Error("/leave must clear the session")
	}
}

func TestRoomErrorText(t *testing.T) {
	tests := []struct {
		err    error
		create bool
		want   string
	}{
		{err: rooms.ErrAlreadyExists, create: true, want: "Room already exists"},
		{err: rooms.ErrNotFound, want: "Room not found"},
		{err: rooms.ErrInvalidRoomID, want: "Invalid input: room id is required"},
		{err: errors.New("boom"), create: true, want: "Error in creating room"},
		{err: &rooms.ServerError{StatusCode: 500}, want: "Error in joining room"},
	}
	for _, tt := range tests {
		if got := roomErrorText(tt.err, tt.create); got != tt.want {
			t.Errorf("roomErrorText(%v, %v) = %q, want %q", tt.err, tt.create, got, tt.want)
		}
	}
}
