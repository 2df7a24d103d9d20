package chat

import "time"

// Close reasons carried by SessionEvent.Reason for chat.left events.
const (
	ReasonQuit     = "quit"
	ReasonEOF      = "eof"
	ReasonError    = "error"
	ReasonEvicted  = "evicted"
	ReasonShutdown = "shutdown"
)

// SessionEvent is the payload of chat.joined, chat.left and chat.evicted
// events on the event bus. It never carries message text.
type SessionEvent struct {
	ID        string        `json:"id"`
	Name      string        `json:"name"`
	Remote    string        `json:"remote,omitempty"`
	Transport string        `json:"transport,omitempty"`
	Reason    string        `json:"reason,omitempty"`
	Duration  time.Duration `json:"duration,omitempty"`
}
