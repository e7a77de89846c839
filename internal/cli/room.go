package cli

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/omochice/roomchat/internal/rooms"
	"github.com/omochice/roomchat/internal/ui"
)

func newCreateCmd(e *env) *cobra.Command {
	return &cobra.Command{
		Use:   "create <room>",
		Short: "Create a room",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := requestContext(cmd, e)
			defer cancel()

			room, err := e.directory(ctx).CreateRoom(ctx, args[0])
			if err != nil {
				return roomError(err, args[0])
			}
			fmt.Fprintln(cmd.OutOrStdout(), room.ID)
			return nil
		},
	}
}

func newJoinCmd(e *env) *cobra.Command {
	return &cobra.Command{
		Use:   "join <room>",
		Short: "Check that a room exists",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := requestContext(cmd, e)
			defer cancel()

			room, err := e.directory(ctx).JoinRoom(ctx, args[0])
			if err != nil {
				return roomError(err, args[0])
			}
			fmt.Fprintln(cmd.OutOrStdout(), room.ID)
			return nil
		},
	}
}

func newHistoryCmd(e *env) *cobra.Command {
	var utc bool

	cmd := &cobra.Command{
		Use:   "history <room>",
		Short: "Print the message history of a room",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := requestContext(cmd, e)
			defer cancel()

			msgs, err := e.directory(ctx).FetchHistory(ctx, args[0])
			if err != nil {
				return roomError(err, args[0])
			}

			loc := time.Local
			if utc {
				loc = time.UTC
			}
			out := cmd.OutOrStdout()
			if len(msgs) == 0 {
				fmt.Fprintln(out, "(no messages)")
				return nil
			}
			for _, m := range msgs {
				fmt.Fprintln(out, ui.FormatPlain(m, e.cfg.User.Name, loc))
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&utc, "utc", false, "print times in UTC")
	return cmd
}

func roomError(err error, roomID string) error {
	var se *rooms.ServerError
	switch {
	case errors.Is(err, rooms.ErrAlreadyExists):
		return fmt.Errorf("room %q already exists", roomID)
	case errors.Is(err, rooms.ErrNotFound):
		return fmt.Errorf("room %q not found", roomID)
	case errors.Is(err, rooms.ErrInvalidRoomID):
		return err
	case errors.As(err, &se):
		return fmt.Errorf("room service error: %w", err)
	default:
		return fmt.Errorf("room service unreachable: %w", err)
	}
}
