package ui

import (
	"errors"
	"fmt"
	"strings"

	"github.com/mattn/go-shellwords"
)

// CommandKind is what an input line asks for.
type CommandKind int

const (
	CommandNone CommandKind = iota
	CommandSend
	CommandLeave
	CommandRoom
	CommandQuit
)

var ErrUnknownCommand = errors.New("unknown command")

// Command is a parsed input line.
type Command struct {
	Kind CommandKind
	// Text is the message for CommandSend.
	Text string
	// RoomID is the target of CommandRoom.
	RoomID string
}

// ParseCommand interprets an input line. Lines starting with "/" are
// commands split with shell quoting rules; anything else is a message.
// Blank lines give CommandNone.
func ParseCommand(line string) (Command, error) {
	trimmed := strings.TrimSpace(line)
	if trimmed == "" {
		return Command{Kind: CommandNone}, nil
	}
	if !strings.HasPrefix(trimmed, "/") || strings.HasPrefix(trimmed, "//") {
		text := line
		if strings.HasPrefix(trimmed, "//") {
			text = strings.TrimPrefix(trimmed, "/")
		}
		return Command{Kind: CommandSend, Text: text}, nil
	}

	args, err := shellwords.Parse(trimmed)
	if err != nil {
		return Command{}, fmt.Errorf("failed to parse command: %w", err)
	}

	switch args[0] {
	case "/leave":
		return Command{Kind: CommandLeave}, nil
	case "/quit", "/exit":
		return Command{Kind: CommandQuit}, nil
	case "/room", "/join":
		if len(args) != 2 || strings.TrimSpace(args[1]) == "" {
			return Command{}, fmt.Errorf("usage: %s <room id>", args[0])
		}
		return Command{Kind: CommandRoom, RoomID: strings.TrimSpace(args[1])}, nil
	default:
		return Command{}, fmt.Errorf("%w: %s", ErrUnknownCommand, args[0])
	}
}
