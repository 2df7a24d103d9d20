package chat

import (
	"net"
	"strings"
	"time"
)

const (
	joinPrefix  = "/join "
	quitCommand = "/quit"

	chatTimeLayout = "15:04"
)

// Kind tags a parsed line.
type Kind int

const (
	KindChat Kind = iota
	KindJoin
	KindQuit
)

func (k Kind) String() string {
	switch k {
	case KindJoin:
		return "join"
	case KindQuit:
		return "quit"
	default:
		return "chat"
	}
}

// Command is a parsed inbound line.
//
// Text is always the trimmed line, so a join line received after the
// handshake can still be broadcast verbatim as chat. Name is only set
// for KindJoin.
type Command struct {
	Kind Kind
	Name string
	Text string
}

// Parse classifies one decoded line. It never fails: anything that is not
// a well-formed join or quit is chat.
func Parse(line string) Command {
	t := strings.TrimSpace(line)
	if t == quitCommand {
		return Command{Kind: KindQuit, Text: t}
	}
	if strings.HasPrefix(t, joinPrefix) {
		if name := strings.TrimSpace(t[len(joinPrefix):]); name != "" {
			return Command{Kind: KindJoin, Name: name, Text: t}
		}
	}
	return Command{Kind: KindChat, Text: t}
}

// FormatChat renders a chat line with minute granularity local time.
func FormatChat(at time.Time, name, text string) string {
	return "[" + at.Local().Format(chatTimeLayout) + "] " + name + ": " + text
}

func JoinNotice(name string) string  { return "*** " + name + " joined the chat ***" }
func LeaveNotice(name string) string { return "*** " + name + " left the chat ***" }

// DecodeLine strips the line terminator and replaces invalid UTF-8
// sequences with U+FFFD. Malformed input is never an error.
func DecodeLine(b []byte) string {
	n := len(b)
	if n > 0 && b[n-1] == '\n' {
		n--
		if n > 0 && b[n-1] == '\r' {
			n--
		}
	}
	return strings.ToValidUTF8(string(b[:n]), "�")
}

// DefaultName is the name given to a connection whose first line is not a
// join command: the peer address as <ip>:<port>.
func DefaultName(remote string) string {
	host, port, err := net.SplitHostPort(remote)
	if err != nil {
		return remote
	}
	return host + ":" + port
}
