package chat

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"linechat/pkg/logx"
)

func startServer(t *testing.T, opts ...ServerOption) *Server {
	t.Helper()
	opts = append([]ServerOption{WithClock(func() time.Time { return fixedNow })}, opts...)
	srv := NewServer(Config{Host: "127.0.0.1", Port: 0}, logx.Nop(), opts...)
	require.NoError(t, srv.Start(context.Background()))
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Stop(ctx)
	})
	return srv
}

type testClient struct {
	t *testing.T
	c net.Conn
	r *bufio.Reader
}

func dialClient(t *testing.T, srv *Server) *testClient {
	t.Helper()
	c, err := net.DialTimeout("tcp", srv.Addr().String(), time.Second)
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return &testClient{t: t, c: c, r: bufio.NewReader(c)}
}

// join connects and waits until the server has registered the member.
func join(t *testing.T, srv *Server, name string) *testClient {
	t.Helper()
	before := srv.Registry().Len()
	cl := dialClient(t, srv)
	cl.send("/join " + name)
	require.Eventually(t, func() bool { return srv.Registry().Len() == before+1 }, 2*time.Second, 5*time.Millisecond)
	return cl
}

func (c *testClient) send(line string) {
	c.t.Helper()
	_, err := io.WriteString(c.c, line+"\n")
	require.NoError(c.t, err)
}

func (c *testClient) read() string {
	c.t.Helper()
	_ = c.c.SetReadDeadline(time.Now().Add(2 * time.Second))
	line, err := c.r.ReadString('\n')
	require.NoError(c.t, err, "partial: %q", line)
	return strings.TrimSuffix(line, "\n")
}

func (c *testClient) expectEOF() {
	c.t.Helper()
	_ = c.c.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, err := c.r.ReadString('\n')
	require.Error(c.t, err)
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		c.t.Fatal("expected connection close, got timeout")
	}
}

func TestJoinVisibility(t *testing.T) {
	srv := startServer(t)
	a := join(t, srv, "alice")
	b := join(t, srv, "bob")

	assert.Equal(t, "*** bob joined the chat ***", a.read())

	// bob's first line must be alice's chat, not his own join notice.
	a.send("welcome")
	assert.Equal(t, "[13:07] alice: welcome", b.read())
}

func TestFanOutExcludesSender(t *testing.T) {
	srv := startServer(t)
	a := join(t, srv, "alice")
	b := join(t, srv, "bob")
	c := join(t, srv, "carol")
	assert.Equal(t, "*** bob joined the chat ***", a.read())
	assert.Equal(t, "*** carol joined the chat ***", a.read())
	assert.Equal(t, "*** carol joined the chat ***", b.read())

	a.send("hi")
	assert.Equal(t, "[13:07] alice: hi", b.read())
	assert.Equal(t, "[13:07] alice: hi", c.read())

	b.send("yo")
	assert.Equal(t, "[13:07] bob: yo", a.read(), "alice never sees her own message")
	assert.Equal(t, "[13:07] bob: yo", c.read())
}

func TestPerSenderOrdering(t *testing.T) {
	srv := startServer(t)
	a := join(t, srv, "alice")
	b := join(t, srv, "bob")
	assert.Equal(t, "*** bob joined the chat ***", a.read())

	const n = 200
	go func() {
		for i := 0; i < n; i++ {
			_, _ = fmt.Fprintf(a.c, "m%d\n", i)
		}
	}()
	for i := 0; i < n; i++ {
		require.Equal(t, fmt.Sprintf("[13:07] alice: m%d", i), b.read())
	}
}

func TestGracefulQuit(t *testing.T) {
	srv := startServer(t)
	a := join(t, srv, "alice")
	b := join(t, srv, "bob")
	assert.Equal(t, "*** bob joined the chat ***", a.read())

	a.send("/quit")
	a.expectEOF()
	assert.Equal(t, "*** alice left the chat ***", b.read())
	require.Eventually(t, func() bool { return srv.Registry().Len() == 1 }, 2*time.Second, 5*time.Millisecond)

	// Exactly one notice: the next line bob sees comes from a new member.
	join(t, srv, "carol")
	assert.Equal(t, "*** carol joined the chat ***", b.read())
}

func TestDefaultNaming(t *testing.T) {
	srv := startServer(t)
	b := join(t, srv, "bob")

	a := dialClient(t, srv)
	a.send("hello")
	want := DefaultName(a.c.LocalAddr().String())
	assert.Equal(t, "*** "+want+" joined the chat ***", b.read())

	a.send("second")
	assert.Equal(t, "[13:07] "+want+": second", b.read(), "hello is not broadcast as chat")
}

type brokenConn struct{ *fakeConn }

func (brokenConn) WriteLine(string) error { return errBrokenPipe }

func TestDeadPeerEviction(t *testing.T) {
	srv := startServer(t)
	a := join(t, srv, "alice")
	b := join(t, srv, "bob")
	assert.Equal(t, "*** bob joined the chat ***", a.read())

	dead := brokenConn{newFakeConn()}
	require.NoError(t, srv.ServeConn(dead))
	dead.in <- "/join zombie"
	assert.Equal(t, "*** zombie joined the chat ***", a.read())
	assert.Equal(t, "*** zombie joined the chat ***", b.read())

	a.send("ping")
	assert.Equal(t, "[13:07] alice: ping", b.read())
	assert.Equal(t, "*** zombie left the chat ***", b.read())
	assert.Equal(t, "*** zombie left the chat ***", a.read())
	require.Eventually(t, func() bool { return srv.Registry().Len() == 2 }, 2*time.Second, 5*time.Millisecond)

	b.send("still here")
	assert.Equal(t, "[13:07] bob: still here", a.read())
}

func TestInvalidUTF8IsReplaced(t *testing.T) {
	srv := startServer(t)
	a := join(t, srv, "alice")
	b := join(t, srv, "bob")
	assert.Equal(t, "*** bob joined the chat ***", a.read())

	_, err := a.c.Write([]byte{'a', 0xff, 0xfe, 'b', '\n'})
	require.NoError(t, err)
	assert.Equal(t, "[13:07] alice: a�b", b.read())
}

func TestOverlongLineClosesOnlySender(t *testing.T) {
	srv := startServer(t, WithOptions(Options{MaxLineBytes: 64, WriteTimeout: time.Second}))
	a := join(t, srv, "alice")
	b := join(t, srv, "bob")
	assert.Equal(t, "*** bob joined the chat ***", a.read())

	a.send(strings.Repeat("x", 500))
	a.expectEOF()
	assert.Equal(t, "*** alice left the chat ***", b.read())
}

func TestUnterminatedFinalLine(t *testing.T) {
	srv := startServer(t)
	a := join(t, srv, "alice")
	b := join(t, srv, "bob")
	assert.Equal(t, "*** bob joined the chat ***", a.read())

	_, err := io.WriteString(a.c, "last words")
	require.NoError(t, err)
	require.NoError(t, a.c.(*net.TCPConn).CloseWrite())

	assert.Equal(t, "[13:07] alice: last words", b.read())
	assert.Equal(t, "*** alice left the chat ***", b.read())
}

func TestListenBindFailure(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()
	port := ln.Addr().(*net.TCPAddr).Port

	srv := NewServer(Config{Host: "127.0.0.1", Port: port}, logx.Nop())
	err = srv.Listen()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "listen")
	assert.Error(t, srv.Start(context.Background()))
}

func TestServeConnBeforeStart(t *testing.T) {
	srv := NewServer(Config{Host: "127.0.0.1"}, logx.Nop())
	assert.ErrorIs(t, srv.ServeConn(newFakeConn()), ErrServerClosed)
}

func TestStopClosesConnections(t *testing.T) {
	srv := NewServer(Config{Host: "127.0.0.1"}, logx.Nop())
	require.NoError(t, srv.Start(context.Background()))
	a := join(t, srv, "alice")

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, srv.Stop(ctx))

	a.expectEOF()
	assert.Equal(t, 0, srv.Registry().Len())
	assert.Equal(t, int64(0), srv.Sessions().Active)
	assert.Equal(t, uint64(1), srv.Sessions().Started)
	assert.ErrorIs(t, srv.ServeConn(newFakeConn()), ErrServerClosed)
}

func TestApplyOptions(t *testing.T) {
	srv := NewServer(Config{}, logx.Nop())
	assert.Equal(t, DefaultOptions(), srv.Options())

	srv.Apply(Options{JoinNoticeToSelf: true, WriteTimeout: time.Second, MaxLineBytes: -1})
	got := srv.Options()
	assert.True(t, got.JoinNoticeToSelf)
	assert.Equal(t, 0, got.MaxLineBytes)
}
