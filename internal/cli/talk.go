package cli

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/omochice/roomchat/internal/chat"
	"github.com/omochice/roomchat/internal/client"
	"github.com/omochice/roomchat/internal/log"
	"github.com/omochice/roomchat/internal/rooms"
	"github.com/omochice/roomchat/internal/state"
	"github.com/omochice/roomchat/internal/ui"
)

const defaultRequestTimeout = 10 * time.Second

func newTalkCmd(e *env) *cobra.Command {
	return &cobra.Command{
		Use:   "talk <room>",
		Short: "Chat in a room line by line",
		Long: `talk joins a room and reads messages from standard input, one per line.
Blank lines are ignored. "/room <id>" switches rooms and "/leave" or
"/quit" ends the session. A leading "//" sends a line starting with "/".`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			name, err := requireName(e)
			if err != nil {
				return err
			}

			reqCtx, cancel := requestContext(cmd, e)
			room, err := e.directory(reqCtx).JoinRoom(reqCtx, args[0])
			cancel()
			if err != nil {
				return roomError(err, args[0])
			}

			ctx := commandContext(cmd)
			store, dir, chatRoom := e.newRoom(ctx)
			t := &talker{
				store:   store,
				dir:     dir,
				room:    chatRoom,
				name:    name,
				out:     cmd.OutOrStdout(),
				errOut:  cmd.ErrOrStderr(),
				loc:     time.Local,
				timeout: e.cfg.Server.RequestTimeout,
			}
			if t.timeout <= 0 {
				t.timeout = defaultRequestTimeout
			}
			return t.run(ctx, cmd.InOrStdin(), room.ID)
		},
	}
}

// talker is the line-mode front end over a chat.Room.
type talker struct {
	store   *state.Store
	dir     *rooms.Client
	room    *chat.Room
	name    string
	out     io.Writer
	errOut  io.Writer
	loc     *time.Location
	timeout time.Duration

	// shown is the room whose transcript has been printed up to printed.
	shown   string
	printed int
	ready   bool
	entered bool
	pending []string
}

func (t *talker) run(ctx context.Context, in io.Reader, roomID string) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	// errOut is shared with loop, so the banner goes out before it starts.
	fmt.Fprintf(t.errOut, "Joining %s as %s (type /quit to exit)\n", roomID, t.name)

	lines := make(chan string)
	go scanLines(ctx, in, lines, t.errOut)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return t.room.Run(gctx)
	})
	g.Go(func() error {
		defer cancel()
		return t.loop(gctx, lines)
	})

	t.store.Join(roomID, t.name)
	return g.Wait()
}

// scanLines forwards stdin lines until EOF or ctx is done. The read itself
// cannot be interrupted, so the goroutine may outlive ctx while blocked.
func scanLines(ctx context.Context, in io.Reader, lines chan<- string, errOut io.Writer) {
	defer close(lines)
	scanner := bufio.NewScanner(in)
	for scanner.Scan() {
		select {
		case lines <- scanner.Text():
		case <-ctx.Done():
			return
		}
	}
	if err := scanner.Err(); err != nil {
		fmt.Fprintf(errOut, "Error reading input: %v\n", err)
	}
}

func (t *talker) loop(ctx context.Context, lines <-chan string) error {
	eof := false
	for {
		select {
		case <-ctx.Done():
			return nil

		case u := <-t.room.Updates():
			switch u.Kind {
			case chat.UpdateTranscript:
				t.entered = true
				t.printTranscript()
			case chat.UpdateRedirect:
				if t.entered {
					return nil
				}
			case chat.UpdateNotice:
				fmt.Fprintf(t.errOut, "*** %s ***\n", u.Notice)
				switch u.Event {
				case client.EventConnected:
					t.ready = true
					if t.flush(ctx) {
						return nil
					}
				case client.EventFailed, client.EventTransportClosed:
					return fmt.Errorf("%s: %w", u.Notice, u.Err)
				}
			}
			if eof && t.ready && len(t.pending) == 0 {
				return nil
			}

		case line, ok := <-lines:
			if !ok {
				eof, lines = true, nil
				if t.ready && len(t.pending) == 0 {
					return nil
				}
				continue
			}
			t.pending = append(t.pending, line)
			if t.ready && t.flush(ctx) {
				return nil
			}
		}
	}
}

// flush handles queued lines until one asks to quit or the session stops
// being ready. Lines typed before the subscription is live wait here.
func (t *talker) flush(ctx context.Context) bool {
	for t.ready && len(t.pending) > 0 {
		line := t.pending[0]
		t.pending = t.pending[1:]
		if t.handle(ctx, line) {
			return true
		}
	}
	return false
}

func (t *talker) handle(ctx context.Context, line string) (quit bool) {
	cmd, err := ui.ParseCommand(line)
	if err != nil {
		fmt.Fprintln(t.errOut, err)
		return false
	}

	switch cmd.Kind {
	case ui.CommandSend:
		if err := t.room.Send(cmd.Text); err != nil {
			logger := log.Ctx(ctx)
			logger.Warn().Err(err).Msg("send failed")
			fmt.Fprintf(t.errOut, "Failed to send message: %v\n", err)
		}
	case ui.CommandLeave, ui.CommandQuit:
		return true
	case ui.CommandRoom:
		reqCtx, cancel := context.WithTimeout(ctx, t.timeout)
		defer cancel()
		room, err := t.dir.JoinRoom(reqCtx, cmd.RoomID)
		if err != nil {
			fmt.Fprintln(t.errOut, roomError(err, cmd.RoomID))
			return false
		}
		if room.ID != t.store.RoomID() {
			t.ready = false
			t.store.SetRoomID(room.ID)
		}
	}
	return false
}

func (t *talker) printTranscript() {
	if id := t.room.RoomID(); id != t.shown {
		t.shown, t.printed = id, 0
	}
	msgs := t.room.Transcript()
	if len(msgs) < t.printed {
		t.printed = 0
	}
	for _, m := range msgs[t.printed:] {
		fmt.Fprintln(t.out, ui.FormatPlain(m, t.name, t.loc))
	}
	t.printed = len(msgs)
}
