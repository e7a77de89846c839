// Package cli holds the chatroom command tree.
package cli

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/omochice/roomchat/internal/chat"
	"github.com/omochice/roomchat/internal/client"
	"github.com/omochice/roomchat/internal/config"
	"github.com/omochice/roomchat/internal/log"
	"github.com/omochice/roomchat/internal/rooms"
	"github.com/omochice/roomchat/internal/state"
)

var errNoName = errors.New("a display name is required: pass --name or set user.name")

// env is shared by the subcommands once the configuration is loaded.
type env struct {
	cfgFile string
	cfg     *config.Config
}

// NewRootCmd builds the command tree.
func NewRootCmd() *cobra.Command {
	e := &env{}

	root := &cobra.Command{
		Use:   "chatroom",
		Short: "Terminal client for room-based chat",
		Long: `chatroom joins rooms on a chat server, shows their history and
exchanges live messages with the other participants.

Run "chatroom chat" for the full-screen client or "chatroom talk <room>"
for a line-oriented session.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(e.cfgFile, cmd.Flags())
			if err != nil {
				return err
			}
			// The full-screen UI owns the terminal, so stderr logging is
			// only kept when it goes to a file.
			if cmd.Name() == chatCmdName && cfg.Log.Output == "" {
				cfg.Log.Level = "disabled"
			}
			if err := log.Init(cfg.Log); err != nil {
				return err
			}
			e.cfg = cfg

			ctx := cmd.Context()
			if ctx == nil {
				ctx = context.Background()
			}
			logger := log.L().With().Str("command", cmd.Name()).Logger()
			cmd.SetContext(log.WithLogger(ctx, logger))
			return nil
		},
	}

	pf := root.PersistentFlags()
	pf.StringVar(&e.cfgFile, "config", "", "config file (default is chatroom.yaml in ., ./config or $HOME)")
	pf.String("server", "", "base URL of the room service")
	pf.String("endpoint", "", "messaging endpoint (ws://, wss:// or tcp://)")
	pf.String("name", "", "display name")
	pf.String("log-level", "", "log level (trace, debug, info, warn, error, disabled)")
	pf.String("log-file", "", "append logs to this file instead of stderr")

	root.AddCommand(
		newCreateCmd(e),
		newJoinCmd(e),
		newHistoryCmd(e),
		newTalkCmd(e),
		newChatCmd(e),
	)
	return root
}

// Execute runs the command tree and exits non-zero on failure.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := NewRootCmd().ExecuteContext(ctx)
	stop()
	if err != nil {
		os.Exit(1)
	}
}

func (e *env) directory(ctx context.Context) *rooms.Client {
	return rooms.New(e.cfg.Server.BaseURL,
		rooms.WithTimeout(e.cfg.Server.RequestTimeout),
		rooms.WithHistoryPath(e.cfg.Server.HistoryPath),
		rooms.WithLogger(log.Ctx(ctx)),
	)
}

func (e *env) session(ctx context.Context) *client.Session {
	m := e.cfg.Messaging
	return client.NewSession(client.Config{
		Endpoint:          m.Endpoint,
		HandshakeTimeout:  m.HandshakeTimeout,
		DisconnectTimeout: m.DisconnectTimeout,
		HeartBeat:         m.HeartBeat,
		Buffer:            m.Buffer,
	}, client.WithLogger(log.Ctx(ctx)))
}

// newRoom wires a chat.Room over a fresh store, directory and session.
func (e *env) newRoom(ctx context.Context) (*state.Store, *rooms.Client, *chat.Room) {
	store := state.NewStore()
	dir := e.directory(ctx)
	return store, dir, chat.NewRoom(store, dir, e.session(ctx), chat.WithLogger(log.Ctx(ctx)))
}

// commandContext returns the command's context, which carries its logger.
func commandContext(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}

func requestContext(cmd *cobra.Command, e *env) (context.Context, context.CancelFunc) {
	ctx := commandContext(cmd)
	if d := e.cfg.Server.RequestTimeout; d > 0 {
		return context.WithTimeout(ctx, d)
	}
	return context.WithCancel(ctx)
}

func requireName(e *env) (string, error) {
	if e.cfg.User.Name == "" {
		return "", errNoName
	}
	return e.cfg.User.Name, nil
}
