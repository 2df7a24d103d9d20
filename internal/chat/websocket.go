package chat

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"linechat/pkg/logx"
)

const (
	DefaultWebSocketAddr = "127.0.0.1:12346"
	DefaultWebSocketPath = "/ws"
)

// WebSocketConfig controls the optional WebSocket gateway.
// Empty AllowedOrigins accepts any Origin.
type WebSocketConfig struct {
	Addr           string
	Path           string
	AllowedOrigins []string
}

// Gateway accepts WebSocket clients and hands them to a Server. Each text
// frame is one line in either direction.
type Gateway struct {
	srv *Server
	cfg WebSocketConfig
	log logx.Logger

	upgrader websocket.Upgrader

	mu   sync.Mutex
	ln   net.Listener
	http *http.Server
}

func NewGateway(srv *Server, cfg WebSocketConfig, log logx.Logger) *Gateway {
	if log.IsZero() {
		log = logx.Nop()
	}
	if strings.TrimSpace(cfg.Addr) == "" {
		cfg.Addr = DefaultWebSocketAddr
	}
	if strings.TrimSpace(cfg.Path) == "" {
		cfg.Path = DefaultWebSocketPath
	}
	g := &Gateway{srv: srv, cfg: cfg, log: log.With(logx.String("comp", "ws"))}
	g.upgrader = websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin:     g.checkOrigin,
	}
	return g
}

func (g *Gateway) checkOrigin(r *http.Request) bool {
	if len(g.cfg.AllowedOrigins) == 0 {
		return true
	}
	origin := r.Header.Get("Origin")
	for _, o := range g.cfg.AllowedOrigins {
		if strings.EqualFold(o, origin) {
			return true
		}
	}
	return false
}

// Handler serves the upgrade endpoint at the configured path.
func (g *Gateway) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc(g.cfg.Path, g.handleUpgrade)
	return mux
}

func (g *Gateway) handleUpgrade(w http.ResponseWriter, r *http.Request) {
	ws, err := g.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already wrote the HTTP error.
		g.log.Warn("websocket upgrade failed", logx.String("remote", r.RemoteAddr), logx.Err(err))
		return
	}
	conn := newWSConn(ws, &g.srv.hub)
	if err := g.srv.ServeConn(conn); err != nil {
		_ = ws.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "server closed"),
			time.Now().Add(time.Second))
		_ = conn.Close()
	}
}

// Listen binds the gateway address.
func (g *Gateway) Listen() error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.ln != nil {
		return nil
	}
	ln, err := net.Listen("tcp", g.cfg.Addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", g.cfg.Addr, err)
	}
	g.ln = ln
	g.http = &http.Server{Handler: g.Handler(), ReadHeaderTimeout: 10 * time.Second}
	g.log.Info("websocket gateway listening", logx.String("addr", ln.Addr().String()), logx.String("path", g.cfg.Path))
	return nil
}

// Serve blocks serving upgrades until Close or ctx cancellation.
func (g *Gateway) Serve(ctx context.Context) error {
	if err := g.Listen(); err != nil {
		return err
	}
	g.mu.Lock()
	ln, srv := g.ln, g.http
	g.mu.Unlock()

	stop := context.AfterFunc(ctx, func() { _ = srv.Close() })
	defer stop()

	err := srv.Serve(ln)
	if errors.Is(err, http.ErrServerClosed) || ctx.Err() != nil {
		return nil
	}
	return err
}

func (g *Gateway) Addr() net.Addr {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.ln == nil {
		return nil
	}
	return g.ln.Addr()
}

// Close stops accepting upgrades. Established sessions belong to the Server.
func (g *Gateway) Close(ctx context.Context) error {
	g.mu.Lock()
	srv := g.http
	g.mu.Unlock()
	if srv == nil {
		return nil
	}
	return srv.Shutdown(ctx)
}

type wsConn struct {
	ws     *websocket.Conn
	lim    limits
	remote string

	pending []string

	wmu  sync.Mutex
	once sync.Once
	cerr error
}

func newWSConn(ws *websocket.Conn, lim limits) *wsConn {
	c := &wsConn{ws: ws, lim: lim}
	if a := ws.RemoteAddr(); a != nil {
		c.remote = a.String()
	}
	return c
}

func (c *wsConn) ReadLine() (string, error) {
	for len(c.pending) == 0 {
		c.ws.SetReadLimit(int64(max(c.lim.maxLineBytes(), 0)))
		typ, data, err := c.ws.ReadMessage()
		if err != nil {
			if errors.Is(err, websocket.ErrReadLimit) {
				return "", ErrLineTooLong
			}
			var ce *websocket.CloseError
			if errors.As(err, &ce) {
				return "", io.EOF
			}
			return "", err
		}
		if typ != websocket.TextMessage && typ != websocket.BinaryMessage {
			continue
		}
		s := strings.TrimSuffix(string(data), "\n")
		for _, part := range strings.Split(s, "\n") {
			c.pending = append(c.pending, DecodeLine([]byte(strings.TrimSuffix(part, "\r"))))
		}
	}
	line := c.pending[0]
	c.pending = c.pending[1:]
	return line, nil
}

func (c *wsConn) WriteLine(line string) error {
	c.wmu.Lock()
	defer c.wmu.Unlock()
	if d := c.lim.writeTimeout(); d > 0 {
		_ = c.ws.SetWriteDeadline(time.Now().Add(d))
	}
	return c.ws.WriteMessage(websocket.TextMessage, []byte(line))
}

func (c *wsConn) Close() error {
	c.once.Do(func() { c.cerr = c.ws.Close() })
	return c.cerr
}

func (c *wsConn) RemoteAddr() string { return c.remote }
func (c *wsConn) Transport() string  { return "websocket" }
