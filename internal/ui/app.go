// Package ui is the terminal front end: a join page and a chat page built
// with tview. It holds no session logic of its own.
package ui

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/gdamore/tcell/v2"
	"github.com/rivo/tview"
	"github.com/rs/zerolog"

	"github.com/omochice/roomchat/internal/chat"
	"github.com/omochice/roomchat/internal/log"
	"github.com/omochice/roomchat/internal/rooms"
	"github.com/omochice/roomchat/internal/state"
)

const (
	pageJoin = "join"
	pageChat = "chat"

	noticeDuration = 3 * time.Second
)

// Directory creates and checks rooms.
type Directory interface {
	CreateRoom(ctx context.Context, roomID string) (rooms.Room, error)
	JoinRoom(ctx context.Context, roomID string) (rooms.Room, error)
}

// Option configures an App.
type Option func(*App)

// WithLogger sets the logger.
func WithLogger(l zerolog.Logger) Option {
	return func(a *App) { a.logger = l }
}

// WithRequestTimeout bounds each create or join request.
func WithRequestTimeout(d time.Duration) Option {
	return func(a *App) {
		if d > 0 {
			a.requestTimeout = d
		}
	}
}

// WithLocation sets the zone message times are shown in.
func WithLocation(loc *time.Location) Option {
	return func(a *App) {
		if loc != nil {
			a.loc = loc
		}
	}
}

// App is the terminal UI.
type App struct {
	app    *tview.Application
	root   *tview.Flex
	pages  *tview.Pages
	store  *state.Store
	dir    Directory
	room   *chat.Room
	logger zerolog.Logger
	loc    *time.Location

	form       *tview.Form
	header     *tview.TextView
	transcript *tview.TextView
	status     *tview.TextView
	input      *tview.InputField

	requestTimeout time.Duration
	noticeSeq      int
}

// New builds the UI. defaultName prefills the display name field.
func New(store *state.Store, dir Directory, room *chat.Room, defaultName string, opts ...Option) *App {
	a := &App{
		app:            tview.NewApplication(),
		pages:          tview.NewPages(),
		store:          store,
		dir:            dir,
		room:           room,
		logger:         log.L(),
		loc:            time.Local,
		requestTimeout: 10 * time.Second,
	}
	for _, opt := range opts {
		opt(a)
	}
	a.logger = a.logger.With().Str(log.FieldComponent, "ui").Logger()
	a.status = tview.NewTextView().SetDynamicColors(true)
	a.buildJoinPage(defaultName)
	a.buildChatPage()
	a.pages.SwitchToPage(pageJoin)
	a.root = tview.NewFlex().SetDirection(tview.FlexRow).
		AddItem(a.pages, 0, 1, true).
		AddItem(a.status, 1, 0, false)

	a.app.SetInputCapture(func(event *tcell.EventKey) *tcell.EventKey {
		if event.Key() == tcell.KeyCtrlC {
			a.app.Stop()
			return nil
		}
		return event
	})
	return a
}

// Run shows the UI until the user quits or ctx is done.
func (a *App) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	go a.watch(ctx)
	go func() {
		<-ctx.Done()
		a.app.Stop()
	}()

	return a.app.SetRoot(a.root, true).EnableMouse(true).Run()
}

func (a *App) buildJoinPage(defaultName string) {
	a.form = tview.NewForm().
		AddInputField("Room ID", "", 30, nil, nil).
		AddInputField("Your name", defaultName, 30, nil, nil).
		AddButton("Join", func() { a.submit(false) }).
		AddButton("Create", func() { a.submit(true) }).
		AddButton("Quit", func() { a.app.Stop() })
	a.form.SetBorder(true).SetTitle(" Join a room ").SetTitleAlign(tview.AlignLeft)

	layout := tview.NewFlex().SetDirection(tview.FlexRow).
		AddItem(nil, 0, 1, false).
		AddItem(tview.NewFlex().
			AddItem(nil, 0, 1, false).
			AddItem(a.form, 50, 0, true).
			AddItem(nil, 0, 1, false), 11, 0, true).
		AddItem(nil, 0, 1, false)

	a.pages.AddPage(pageJoin, layout, true, true)
}

func (a *App) buildChatPage() {
	a.header = tview.NewTextView().SetDynamicColors(true)
	a.transcript = tview.NewTextView().
		SetDynamicColors(true).
		SetWordWrap(true).
		SetScrollable(true)
	a.transcript.SetBorder(true)

	a.input = tview.NewInputField().
		SetFieldWidth(0).
		SetPlaceholder("Type your message here... (/room <id>, /leave, /quit)").
		SetAcceptanceFunc(tview.InputFieldMaxLength(1024))
	a.input.SetDoneFunc(func(key tcell.Key) {
		if key != tcell.KeyEnter {
			return
		}
		line := a.input.GetText()
		a.input.SetText("")
		a.handleInput(line)
	})

	layout := tview.NewFlex().SetDirection(tview.FlexRow).
		AddItem(a.header, 1, 0, false).
		AddItem(a.transcript, 0, 1, false).
		AddItem(a.input, 1, 0, true)

	a.pages.AddPage(pageChat, layout, true, false)
}

func (a *App) submit(create bool) {
	roomID := strings.TrimSpace(a.form.GetFormItemByLabel("Room ID").(*tview.InputField).GetText())
	name := strings.TrimSpace(a.form.GetFormItemByLabel("Your name").(*tview.InputField).GetText())
	if roomID == "" || name == "" {
		a.showNotice("Invalid input: room id and name are required", true)
		return
	}

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), a.requestTimeout)
		defer cancel()

		var (
			room rooms.Room
			err  error
		)
		if create {
			room, err = a.dir.CreateRoom(ctx, roomID)
		} else {
			room, err = a.dir.JoinRoom(ctx, roomID)
		}
		if err != nil {
			a.logger.Warn().Err(err).Str(log.FieldRoomID, roomID).Bool("create", create).Msg("room request failed")
			a.app.QueueUpdateDraw(func() { a.showNotice(roomErrorText(err, create), true) })
			return
		}
		a.store.Join(room.ID, name)
	}()
}

// handleInput runs on the UI goroutine.
func (a *App) handleInput(line string) {
	cmd, err := ParseCommand(line)
	if err != nil {
		a.showNotice(err.Error(), true)
		return
	}

	switch cmd.Kind {
	case CommandSend:
		if err := a.room.Send(cmd.Text); err != nil {
			a.showNotice(fmt.Sprintf("Failed to send: %v", err), true)
		}
	case CommandLeave:
		a.room.Leave()
	case CommandQuit:
		a.app.Stop()
	case CommandRoom:
		go a.switchRoom(cmd.RoomID)
	}
}

func (a *App) switchRoom(roomID string) {
	ctx, cancel := context.WithTimeout(context.Background(), a.requestTimeout)
	defer cancel()

	room, err := a.dir.JoinRoom(ctx, roomID)
	if err != nil {
		a.app.QueueUpdateDraw(func() { a.showNotice(roomErrorText(err, false), true) })
		return
	}
	a.store.SetRoomID(room.ID)
}

// watch applies room updates on the UI goroutine.
func (a *App) watch(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case u := <-a.room.Updates():
			a.app.QueueUpdateDraw(func() { a.apply(u) })
		}
	}
}

func (a *App) apply(u chat.Update) {
	switch u.Kind {
	case chat.UpdateRedirect:
		a.pages.SwitchToPage(pageJoin)
		a.app.SetFocus(a.form)
	case chat.UpdateTranscript:
		a.showChat()
	case chat.UpdateNotice:
		a.showNotice(u.Notice, u.Err != nil)
	}
}

func (a *App) showChat() {
	sess := a.store.Snapshot()
	if !sess.Connected {
		return
	}
	if name, _ := a.pages.GetFrontPage(); name != pageChat {
		a.pages.SwitchToPage(pageChat)
		a.app.SetFocus(a.input)
	}

	a.header.SetText(fmt.Sprintf("[yellow]Room:[white] %s  [yellow]User:[white] %s",
		tview.Escape(sess.RoomID), tview.Escape(sess.UserName)))

	var sb strings.Builder
	for _, m := range a.room.Transcript() {
		sb.WriteString(FormatMessage(m, sess.UserName, a.loc))
		sb.WriteByte('\n')
	}
	a.transcript.SetText(sb.String())
	a.transcript.ScrollToEnd()
}

// showNotice displays a transient status line. Callers are on the UI
// goroutine, or before Run.
func (a *App) showNotice(text string, isErr bool) {
	color := "green"
	if isErr {
		color = "red"
	}
	a.noticeSeq++
	seq := a.noticeSeq
	a.status.SetText(fmt.Sprintf("[%s]%s", color, tview.Escape(text)))

	time.AfterFunc(noticeDuration, func() {
		a.app.QueueUpdateDraw(func() {
			if a.noticeSeq == seq {
				a.status.SetText("")
			}
		})
	})
}

func roomErrorText(err error, create bool) string {
	switch {
	case errors.Is(err, rooms.ErrAlreadyExists):
		return "Room already exists"
	case errors.Is(err, rooms.ErrNotFound):
		return "Room not found"
	case errors.Is(err, rooms.ErrInvalidRoomID):
		return "Invalid input: room id is required"
	case create:
		return "Error in creating room"
	default:
		return "Error in joining room"
	}
}
