package ui_test

import (
	"errors"
	"testing"

	"github.com/omochice/roomchat/internal/ui"
)

func TestParseCommand(t *testing.T) {
	tests := []struct {
		name string
		line string
		want ui.Command
	}{
		{"blank", "   ", ui.Command{Kind: ui.CommandNone}},
		{"message", "hello world", ui.Command{Kind: ui.CommandSend, Text: "hello world"}},
		{"message keeps spacing", "  hi  ", ui.Command{Kind: ui.CommandSend, Text: "  hi  "}},
		{"escaped slash", "//shrug", ui.Command{Kind: ui.CommandSend, Text: "/shrug"}},
		{"leave", "/leave", ui.Command{Kind: ui.CommandLeave}},
		{"quit", "/quit", ui.Command{Kind: ui.CommandQuit}},
		{"room", "/room demo", ui.Command{Kind: ui.CommandRoom, RoomID: "demo"}},
		{"quoted room", `/room "team room"`, ui.Command{Kind: ui.CommandRoom, RoomID: "team room"}},
		{"join alias", "/join r1", ui.Command{Kind: ui.CommandRoom, RoomID: "r1"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ui.ParseCommand(tt.line)
			if err != nil {
				t.Fatalf("ParseCommand(%q) error = %v", tt.line, err)
			}
			if got != tt.want {
				t.Errorf("ParseCommand(%q) = %+v, want %+v", tt.line, got, tt.want)
			}
		})
	}
}

func TestParseCommand_Errors(t *testing.T) {
	if _, err := ui.ParseCommand("/dance"); !errors.Is(err, ui.ErrUnknownCommand) {
		t.Errorf("ParseCommand(/dance) error = %v, want ErrUnknownCommand", err)
	}
	for _, line := range []string{"/room", "/room a b", `/room "unterminated`} {
		if _, err := ui.ParseCommand(line); err == nil {
			t.Errorf("ParseCommand(%q) should fail", line)
		}
	}
}
