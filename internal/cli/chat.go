package cli

import (
	"context"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/omochice/roomchat/internal/log"
	"github.com/omochice/roomchat/internal/ui"
)

const chatCmdName = "chat"

func newChatCmd(e *env) *cobra.Command {
	var roomID string

	cmd := &cobra.Command{
		Use:   chatCmdName,
		Short: "Open the full-screen chat client",
		Long: `chat opens the terminal UI. Without --room it starts on the join page;
with --room and a display name it enters the room directly.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := commandContext(cmd)
			store, dir, room := e.newRoom(ctx)

			if roomID != "" {
				name, err := requireName(e)
				if err != nil {
					return err
				}
				reqCtx, cancel := requestContext(cmd, e)
				joined, err := dir.JoinRoom(reqCtx, roomID)
				cancel()
				if err != nil {
					return roomError(err, roomID)
				}
				store.Join(joined.ID, name)
			}

			app := ui.New(store, dir, room, e.cfg.User.Name,
				ui.WithLogger(log.Ctx(ctx)),
				ui.WithRequestTimeout(e.cfg.Server.RequestTimeout),
			)

			ctx, stop := context.WithCancel(ctx)
			defer stop()

			g, gctx := errgroup.WithContext(ctx)
			g.Go(func() error {
				return room.Run(gctx)
			})
			g.Go(func() error {
				defer stop()
				return app.Run(gctx)
			})
			return g.Wait()
		},
	}
	cmd.Flags().StringVarP(&roomID, "room", "r", "", "room to enter on start")
	return cmd
}
