package chat

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"linechat/pkg/logx"
)

func dialWS(t *testing.T, url string) *websocket.Conn {
	t.Helper()
	ws, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = ws.Close() })
	return ws
}

func readWS(t *testing.T, ws *websocket.Conn) string {
	t.Helper()
	_ = ws.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := ws.ReadMessage()
	require.NoError(t, err)
	return string(data)
}

func TestWebSocketSharesRegistryWithTCP(t *testing.T) {
	srv := startServer(t)
	gw := NewGateway(srv, WebSocketConfig{}, logx.Nop())
	hs := httptest.NewServer(gw.Handler())
	defer hs.Close()
	url := "ws" + strings.TrimPrefix(hs.URL, "http") + DefaultWebSocketPath

	tcp := join(t, srv, "alice")

	ws := dialWS(t, url)
	require.NoError(t, ws.WriteMessage(websocket.TextMessage, []byte("/join webby")))
	assert.Equal(t, "*** webby joined the chat ***", tcp.read())

	tcp.send("hello web")
	assert.Equal(t, "[13:07] alice: hello web", readWS(t, ws))

	// One frame carrying two lines is two chat messages.
	require.NoError(t, ws.WriteMessage(websocket.TextMessage, []byte("one\ntwo\n")))
	assert.Equal(t, "[13:07] webby: one", tcp.read())
	assert.Equal(t, "[13:07] webby: two", tcp.read())

	require.NoError(t, ws.WriteMessage(websocket.TextMessage, []byte("/quit")))
	assert.Equal(t, "*** webby left the chat ***", tcp.read())
}

func TestWebSocketPeerCloseIsLeave(t *testing.T) {
	srv := startServer(t)
	gw := NewGateway(srv, WebSocketConfig{}, logx.Nop())
	hs := httptest.NewServer(gw.Handler())
	defer hs.Close()
	url := "ws" + strings.TrimPrefix(hs.URL, "http") + DefaultWebSocketPath

	tcp := join(t, srv, "alice")
	ws := dialWS(t, url)
	require.NoError(t, ws.WriteMessage(websocket.TextMessage, []byte("/join webby")))
	assert.Equal(t, "*** webby joined the chat ***", tcp.read())

	_ = ws.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	_ = ws.Close()
	assert.Equal(t, "*** webby left the chat ***", tcp.read())
}

func TestWebSocketOriginCheck(t *testing.T) {
	srv := startServer(t)
	gw := NewGateway(srv, WebSocketConfig{AllowedOrigins: []string{"https://chat.example"}}, logx.Nop())
	hs := httptest.NewServer(gw.Handler())
	defer hs.Close()
	url := "ws" + strings.TrimPrefix(hs.URL, "http") + DefaultWebSocketPath

	h := http.Header{}
	h.Set("Origin", "https://evil.example")
	_, resp, err := websocket.DefaultDialer.Dial(url, h)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	h.Set("Origin", "https://chat.example")
	ws, _, err := websocket.DefaultDialer.Dial(url, h)
	require.NoError(t, err)
	_ = ws.Close()
}

func TestGatewayServeAndClose(t *testing.T) {
	srv := startServer(t)
	gw := NewGateway(srv, WebSocketConfig{Addr: "127.0.0.1:0"}, logx.Nop())
	require.NoError(t, gw.Listen())

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	errc := make(chan error, 1)
	go func() { errc <- gw.Serve(ctx) }()

	ws := dialWS(t, "ws://"+gw.Addr().String()+DefaultWebSocketPath)
	require.NoError(t, ws.WriteMessage(websocket.TextMessage, []byte("/join webby")))
	require.Eventually(t, func() bool { return srv.Registry().Len() == 1 }, 2*time.Second, 5*time.Millisecond)

	require.NoError(t, gw.Close(ctx))
	select {
	case err := <-errc:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Serve did not return")
	}
}

func TestWebSocketReadLimitFollowsApply(t *testing.T) {
	srv := startServer(t)
	gw := NewGateway(srv, WebSocketConfig{}, logx.Nop())
	hs := httptest.NewServer(gw.Handler())
	defer hs.Close()
	url := "ws" + strings.TrimPrefix(hs.URL, "http") + DefaultWebSocketPath

	tcp := join(t, srv, "alice")
	ws := dialWS(t, url)
	require.NoError(t, ws.WriteMessage(websocket.TextMessage, []byte("/join webby")))
	assert.Equal(t, "*** webby joined the chat ***", tcp.read())

	require.NoError(t, ws.WriteMessage(websocket.TextMessage, []byte(strings.Repeat("a", 100))))
	assert.Equal(t, "[13:07] webby: "+strings.Repeat("a", 100), tcp.read())

	o := srv.Options()
	o.MaxLineBytes = 32
	srv.Apply(o)

	// Frames within the new limit still pass.
	require.NoError(t, ws.WriteMessage(websocket.TextMessage, []byte("short")))
	assert.Equal(t, "[13:07] webby: short", tcp.read())

	require.NoError(t, ws.WriteMessage(websocket.TextMessage, []byte(strings.Repeat("b", 100))))
	assert.Equal(t, "*** webby left the chat ***", tcp.read())
}
