// Package transcript keeps the ordered message list of one room and
// reconciles the history fetch with live frames.
package transcript

import (
	"sync"

	"github.com/omochice/roomchat/pkg/protocol"
)

// Transcript is safe for concurrent use.
type Transcript struct {
	mu          sync.RWMutex
	roomID      string
	messages    []protocol.Message
	history     map[protocol.Key]struct{}
	early       []protocol.Message
	initialized bool
}

// New creates an empty transcript for roomID.
func New(roomID string) *Transcript {
	return &Transcript{roomID: roomID}
}

// RoomID returns the room the transcript belongs to.
func (t *Transcript) RoomID() string {
	return t.roomID
}

// Init installs history in server order. Live messages appended before Init
// follow it, except those whose key already appears in history. Later calls
// are ignored.
func (t *Transcript) Init(history []protocol.Message) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.initialized {
		return
	}
	t.initialized = true

	t.history = make(map[protocol.Key]struct{}, len(history))
	t.messages = make([]protocol.Message, 0, len(history)+len(t.early))
	for _, m := range history {
		t.history[m.Key()] = struct{}{}
		t.messages = append(t.messages, m)
	}
	for _, m := range t.early {
		t.appendLive(m)
	}
	t.early = nil
}

// Append adds a live message and reports whether the visible transcript
// changed.
func (t *Transcript) Append(m protocol.Message) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	if !t.initialized {
		t.early = append(t.early, m)
		return false
	}
	return t.appendLive(m)
}

func (t *Transcript) appendLive(m protocol.Message) bool {
	if _, dup := t.history[m.Key()]; dup {
		return false
	}
	t.messages = append(t.messages, m)
	return true
}

// Initialized reports whether history has been installed.
func (t *Transcript) Initialized() bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.initialized
}

// Messages returns a copy of the visible transcript.
func (t *Transcript) Messages() []protocol.Message {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]protocol.Message, len(t.messages))
	copy(out, t.messages)
	return out
}

// Len returns the number of visible messages.
func (t *Transcript) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.messages)
}
