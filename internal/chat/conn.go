package chat

import (
	"bufio"
	"errors"
	"io"
	"net"
	"sync"
	"time"
)

// ErrLineTooLong is returned by ReadLine when a line exceeds the configured limit.
var ErrLineTooLong = errors.New("chat: line too long")

// LineConn is a bidirectional line transport. ReadLine is called from a
// single goroutine; WriteLine and Close are safe for concurrent use.
type LineConn interface {
	ReadLine() (string, error)
	WriteLine(line string) error
	Close() error
	RemoteAddr() string
	Transport() string
}

// limits are read on every call so hot-reloaded options apply to live connections.
type limits interface {
	writeTimeout() time.Duration
	maxLineBytes() int
}

type tcpConn struct {
	c   net.Conn
	r   *bufio.Reader
	lim limits

	wmu  sync.Mutex
	once sync.Once
	cerr error
}

// newTCPConn wraps a stream connection. A max line <= 0 disables the line
// limit and a write timeout <= 0 disables write deadlines.
func newTCPConn(c net.Conn, lim limits) *tcpConn {
	return &tcpConn{c: c, r: bufio.NewReaderSize(c, 4096), lim: lim}
}

func (t *tcpConn) ReadLine() (string, error) {
	max := t.lim.maxLineBytes()
	var buf []byte
	for {
		frag, err := t.r.ReadSlice('\n')
		buf = append(buf, frag...)
		if max > 0 && len(buf) > max {
			return "", ErrLineTooLong
		}
		switch {
		case err == nil:
			return DecodeLine(buf), nil
		case errors.Is(err, bufio.ErrBufferFull):
			continue
		case errors.Is(err, io.EOF) && len(buf) > 0:
			// Unterminated final line; the next call reports EOF.
			return DecodeLine(buf), nil
		default:
			return "", err
		}
	}
}

func (t *tcpConn) WriteLine(line string) error {
	t.wmu.Lock()
	defer t.wmu.Unlock()
	if d := t.lim.writeTimeout(); d > 0 {
		_ = t.c.SetWriteDeadline(time.Now().Add(d))
	}
	_, err := io.WriteString(t.c, line+"\n")
	return err
}

func (t *tcpConn) Close() error {
	t.once.Do(func() { t.cerr = t.c.Close() })
	return t.cerr
}

func (t *tcpConn) RemoteAddr() string {
	if a := t.c.RemoteAddr(); a != nil {
		return a.String()
	}
	return ""
}

func (t *tcpConn) Transport() string { return "tcp" }
