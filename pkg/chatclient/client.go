// Package chatclient is a small client for the line chat server: connect,
// send lines, disconnect, and receive formatted lines as a channel.
package chatclient

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// ClosedNotice is the last line delivered on Lines after the connection ends.
const ClosedNotice = "[System] Connection closed."

const (
	defaultDialTimeout = 5 * time.Second
	defaultName        = "Guest"
	linesBuffer        = 64
)

var ErrClosed = errors.New("chatclient: connection closed")

type options struct {
	dialTimeout time.Duration
	maxRetries  uint64
	dialer      func(ctx context.Context, network, addr string) (net.Conn, error)
}

type Option func(*options)

func WithDialTimeout(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.dialTimeout = d
		}
	}
}

// WithMaxRetries retries a failed dial up to n more times with exponential backoff.
func WithMaxRetries(n uint64) Option { return func(o *options) { o.maxRetries = n } }

// WithDialer replaces the network dialer.
func WithDialer(fn func(ctx context.Context, network, addr string) (net.Conn, error)) Option {
	return func(o *options) {
		if fn != nil {
			o.dialer = fn
		}
	}
}

type Client struct {
	conn  net.Conn
	name  string
	lines chan string

	wmu    sync.Mutex
	once   sync.Once
	closed chan struct{}
}

// Dial connects to addr and sends the join line for name. A blank name joins as Guest.
func Dial(ctx context.Context, addr, name string, opts ...Option) (*Client, error) {
	o := options{dialTimeout: defaultDialTimeout}
	for _, fn := range opts {
		fn(&o)
	}
	if o.dialer == nil {
		d := &net.Dialer{Timeout: o.dialTimeout}
		o.dialer = d.DialContext
	}

	var conn net.Conn
	op := func() error {
		dctx, cancel := context.WithTimeout(ctx, o.dialTimeout)
		defer cancel()
		c, err := o.dialer(dctx, "tcp", addr)
		if err != nil {
			if ctx.Err() != nil {
				return backoff.Permanent(ctx.Err())
			}
			return err
		}
		conn = c
		return nil
	}
	bo := backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(), o.maxRetries), ctx)
	if err := backoff.Retry(op, bo); err != nil {
		return nil, fmt.Errorf("dial %s: %w", addr, err)
	}
	if tc, ok := conn.(*net.TCPConn); ok {
		_ = tc.SetNoDelay(true)
	}

	name = strings.TrimSpace(name)
	if name == "" {
		name = defaultName
	}
	c := &Client{
		conn:   conn,
		name:   name,
		lines:  make(chan string, linesBuffer),
		closed: make(chan struct{}),
	}
	if err := c.writeLine("/join " + name); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("join: %w", err)
	}
	go c.readLoop()
	return c, nil
}

func (c *Client) Name() string { return c.name }

// Lines yields every line received from the server. After the connection
// ends it yields ClosedNotice and is closed.
func (c *Client) Lines() <-chan string { return c.lines }

// Send trims text and writes it as one chat line. Empty text is ignored.
func (c *Client) Send(text string) error {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}
	return c.writeLine(text)
}

// Quit asks the server to end the session and closes the connection.
func (c *Client) Quit() error {
	err := c.writeLine("/quit")
	if cerr := c.Close(); err == nil {
		err = cerr
	}
	return err
}

func (c *Client) Close() error {
	var err error
	c.once.Do(func() {
		close(c.closed)
		err = c.conn.Close()
	})
	return err
}

func (c *Client) writeLine(line string) error {
	select {
	case <-c.closed:
		return ErrClosed
	default:
	}
	c.wmu.Lock()
	defer c.wmu.Unlock()
	if _, err := io.WriteString(c.conn, line+"\n"); err != nil {
		return fmt.Errorf("write: %w", err)
	}
	return nil
}

func (c *Client) readLoop() {
	defer close(c.lines)
	r := bufio.NewReader(c.conn)
	for {
		line, err := r.ReadString('\n')
		if line = strings.TrimRight(line, "\r\n"); line != "" {
			select {
			case c.lines <- line:
			case <-c.closed:
				err = ErrClosed
			}
		}
		if err != nil {
			break
		}
	}
	_ = c.Close()
	c.pushClosed()
}

// pushClosed delivers ClosedNotice without blocking, dropping the oldest
// buffered line when the consumer is not draining Lines.
func (c *Client) pushClosed() {
	for {
		select {
		case c.lines <- ClosedNotice:
			return
		default:
		}
		select {
		case <-c.lines:
		default:
		}
	}
}
