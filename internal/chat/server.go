package chat

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"linechat/internal/eventbus"
	"linechat/internal/runtime/supervisor"
	"linechat/pkg/logx"
)

const (
	DefaultPort              = 12345
	DefaultAcceptRetryPerSec = 20
	DefaultWriteTimeout      = 10 * time.Second
	DefaultMaxLineBytes      = 64 * 1024
)

// ErrServerClosed is returned when a connection is handed to a server that
// is not running.
var ErrServerClosed = errors.New("chat: server closed")

// Config controls the TCP listener. It is fixed for the lifetime of a Server.
type Config struct {
	Host              string
	Port              int
	AcceptRetryPerSec float64
}

// Port 0 picks an ephemeral port.
func (c Config) addr() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

// Options are the per-connection settings that can change while running.
type Options struct {
	JoinNoticeToSelf bool
	WriteTimeout     time.Duration
	MaxLineBytes     int
}

func DefaultOptions() Options {
	return Options{WriteTimeout: DefaultWriteTimeout, MaxLineBytes: DefaultMaxLineBytes}
}

type ServerOption func(*Server)

func WithOptions(o Options) ServerOption {
	return func(s *Server) { s.opts.Store(&o) }
}

func WithEventBus(bus eventbus.Bus) ServerOption {
	return func(s *Server) {
		if bus != nil {
			s.bus = bus
		}
	}
}

// WithClock replaces the clock used for chat timestamps.
func WithClock(now func() time.Time) ServerOption {
	return func(s *Server) {
		if now != nil {
			s.now = now
		}
	}
}

// Server accepts TCP connections and runs a Session for each of them.
type Server struct {
	hub
	cfg Config

	mu      sync.Mutex
	ln      net.Listener
	sup     *supervisor.Supervisor
	running bool
	stopped bool
}

func NewServer(cfg Config, log logx.Logger, opts ...ServerOption) *Server {
	if log.IsZero() {
		log = logx.Nop()
	}
	if cfg.AcceptRetryPerSec <= 0 {
		cfg.AcceptRetryPerSec = DefaultAcceptRetryPerSec
	}
	s := &Server{cfg: cfg}
	s.log = log.With(logx.String("comp", "chat"))
	s.bus = eventbus.Nop()
	s.now = time.Now
	s.reg = NewRegistry()
	for _, o := range opts {
		o(s)
	}
	if s.opts.Load() == nil {
		d := DefaultOptions()
		s.opts.Store(&d)
	}
	s.bc = NewBroadcaster(s.reg, s.bus, s.log)
	return s
}

// Listen binds the TCP listener. A bind failure is fatal for the caller.
func (s *Server) Listen() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ln != nil {
		return nil
	}
	addr := s.cfg.addr()
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", addr, err)
	}
	s.ln = ln
	s.log.Info("listening", logx.String("addr", ln.Addr().String()))
	return nil
}

// Start binds (if Listen was not called) and starts the accept loop.
func (s *Server) Start(ctx context.Context) error {
	if err := s.Listen(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return ErrServerClosed
	}
	if s.running {
		return nil
	}
	s.sup = supervisor.New(ctx, supervisor.WithLogger(s.log), supervisor.WithCancelOnError(false))
	s.running = true
	ln := s.ln
	s.sup.Go("accept.tcp", func(ctx context.Context) error { return s.serve(ctx, ln) })
	return nil
}

func (s *Server) serve(ctx context.Context, ln net.Listener) error {
	stop := context.AfterFunc(ctx, func() { _ = ln.Close() })
	defer stop()

	lim := rate.NewLimiter(rate.Limit(s.cfg.AcceptRetryPerSec), 1)
	for {
		c, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return nil
			}
			s.log.Warn("accept failed", logx.Err(err))
			if werr := lim.Wait(ctx); werr != nil {
				return nil
			}
			continue
		}
		if tc, ok := c.(*net.TCPConn); ok {
			_ = tc.SetNoDelay(true)
		}
		if err := s.ServeConn(newTCPConn(c, &s.hub)); err != nil {
			_ = c.Close()
		}
	}
}

// ServeConn runs a session for an already established line transport.
// It returns immediately; the session runs under the server's supervisor.
func (s *Server) ServeConn(conn LineConn) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.running || s.stopped {
		return ErrServerClosed
	}
	sess := s.newSession(conn)
	s.sup.Go0("session", sess.Run)
	return nil
}

// Stop closes the listener and every live connection without draining,
// then waits for the session goroutines to exit or ctx to expire.
func (s *Server) Stop(ctx context.Context) error {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return nil
	}
	s.stopped = true
	sup, ln := s.sup, s.ln
	s.mu.Unlock()

	if ln != nil {
		_ = ln.Close()
	}
	if sup == nil {
		return nil
	}
	if err := sup.Stop(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

// Addr returns the bound address, or nil before Listen.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ln == nil {
		return nil
	}
	return s.ln.Addr()
}

// Apply swaps the live per-connection options.
func (s *Server) Apply(o Options) {
	if o.MaxLineBytes < 0 {
		o.MaxLineBytes = 0
	}
	s.opts.Store(&o)
	s.log.Info("chat options applied",
		logx.Bool("join_notice_to_self", o.JoinNoticeToSelf),
		logx.Duration("write_timeout", o.WriteTimeout),
		logx.Int("max_line_bytes", o.MaxLineBytes),
	)
}

func (s *Server) Options() Options { return s.options() }

func (s *Server) Registry() *Registry { return s.reg }

// SessionCounters reports live and total sessions, joined or not.
type SessionCounters struct {
	Active  int64  `json:"active"`
	Started uint64 `json:"started"`
}

func (s *Server) Sessions() SessionCounters {
	return SessionCounters{Active: s.active.Load(), Started: s.started.Load()}
}

// Supervisor exposes goroutine stats; nil before Start.
func (s *Server) Supervisor() *supervisor.Supervisor {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sup
}
