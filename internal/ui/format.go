package ui

import (
	"fmt"
	"time"

	"github.com/rivo/tview"

	"github.com/omochice/roomchat/pkg/protocol"
)

// SelfLabel replaces the sender name on the user's own messages.
const SelfLabel = "You"

// FormatMessage renders m as one tview-tagged transcript line. Times are
// shown in loc as HH:MM.
func FormatMessage(m protocol.Message, self string, loc *time.Location) string {
	sender, color := m.Sender, "blue"
	if self != "" && m.Sender == self {
		sender, color = SelfLabel, "green"
	}

	stamp := ""
	if t, ok := m.Time(); ok {
		stamp = t.In(loc).Format("15:04")
	}

	return fmt.Sprintf("[gray]%s[white] [%s]%s[white]: %s",
		stamp, color, tview.Escape(sender), tview.Escape(m.Content))
}

// FormatPlain renders m without color tags, for line mode.
func FormatPlain(m protocol.Message, self string, loc *time.Location) string {
	sender := m.Sender
	if self != "" && m.Sender == self {
		sender = SelfLabel
	}
	stamp := "--:--"
	if t, ok := m.Time(); ok {
		stamp = t.In(loc).Format("15:04")
	}
	return fmt.Sprintf("[%s] %s: %s", stamp, sender, m.Content)
}
