package chat

import (
	"context"
	"errors"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"linechat/internal/eventbus"
	"linechat/pkg/logx"
)

// State is the lifecycle position of a Session.
type State int32

const (
	StateConnecting State = iota
	StateJoining
	StateJoined
	StateClosing
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateJoining:
		return "joining"
	case StateJoined:
		return "joined"
	case StateClosing:
		return "closing"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// hub is the state shared by every session of one server.
type hub struct {
	reg  *Registry
	bc   *Broadcaster
	bus  eventbus.Bus
	log  logx.Logger
	now  func() time.Time
	opts atomic.Pointer[Options]

	active  atomic.Int64
	started atomic.Uint64
}

func (h *hub) options() Options {
	if o := h.opts.Load(); o != nil {
		return *o
	}
	return DefaultOptions()
}

func (h *hub) writeTimeout() time.Duration { return h.options().WriteTimeout }
func (h *hub) maxLineBytes() int           { return h.options().MaxLineBytes }

func (h *hub) newSession(conn LineConn) *Session {
	s := &Session{
		h:      h,
		conn:   conn,
		id:     uuid.NewString(),
		remote: conn.RemoteAddr(),
	}
	s.log = h.log.With(
		logx.String("conn", s.id),
		logx.String("remote", s.remote),
		logx.String("transport", conn.Transport()),
	)
	return s
}

func (h *hub) publish(typ string, ev SessionEvent) {
	h.bus.Publish(eventbus.Event{Type: typ, Time: h.now(), Data: ev})
}

// Session drives one connection through the join/chat/quit protocol.
// It implements Member once joined.
type Session struct {
	h      *hub
	conn   LineConn
	id     string
	remote string
	log    logx.Logger

	state atomic.Int32

	mu       sync.RWMutex
	name     string
	joinedAt time.Time

	finishOnce sync.Once
}

func (s *Session) ID() string { return s.id }

func (s *Session) Name() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.name
}

func (s *Session) State() State { return State(s.state.Load()) }

func (s *Session) setState(st State) { s.state.Store(int32(st)) }

func (s *Session) WriteLine(line string) error { return s.conn.WriteLine(line) }

// Close shuts the transport down, which unblocks the session's pending read.
func (s *Session) Close() error { return s.conn.Close() }

// Run blocks until the connection is closed. Cancelling ctx closes the
// transport without broadcasting a leave notice.
func (s *Session) Run(ctx context.Context) {
	s.h.active.Add(1)
	s.h.started.Add(1)
	defer s.h.active.Add(-1)

	stop := context.AfterFunc(ctx, func() { _ = s.conn.Close() })
	defer stop()

	s.setState(StateJoining)
	line, err := s.conn.ReadLine()
	if err != nil {
		s.log.Debug("connection closed before join", logx.String("reason", s.readReason(ctx, err)))
		s.setState(StateClosing)
		_ = s.conn.Close()
		s.setState(StateClosed)
		return
	}

	name := DefaultName(s.remote)
	if cmd := Parse(line); cmd.Kind == KindJoin {
		name = cmd.Name
	}
	if !s.join(name) {
		s.setState(StateClosing)
		_ = s.conn.Close()
		s.setState(StateClosed)
		return
	}

	s.finish(ctx, s.loop(ctx))
}

func (s *Session) join(name string) bool {
	s.mu.Lock()
	s.name = name
	s.joinedAt = s.h.now()
	s.mu.Unlock()
	s.log = s.log.With(logx.String("name", name))

	if !s.h.reg.Insert(s) {
		s.log.Error("duplicate connection id")
		return false
	}
	s.setState(StateJoined)
	s.log.Info("member joined")
	s.h.publish(eventbus.TypeJoined, s.event(""))

	exclude := s.id
	if s.h.options().JoinNoticeToSelf {
		exclude = ""
	}
	s.h.bc.Broadcast(JoinNotice(name), exclude)
	return true
}

func (s *Session) loop(ctx context.Context) string {
	name := s.Name()
	for {
		line, err := s.conn.ReadLine()
		if err != nil {
			return s.readReason(ctx, err)
		}
		cmd := Parse(line)
		if cmd.Kind == KindQuit {
			return ReasonQuit
		}
		res := s.h.bc.Broadcast(FormatChat(s.h.now(), name, cmd.Text), s.id)
		s.log.Trace("chat line broadcast", logx.Int("delivered", res.Delivered), logx.Int("evicted", len(res.Evicted)))
	}
}

func (s *Session) readReason(ctx context.Context, err error) string {
	switch {
	case ctx.Err() != nil:
		return ReasonShutdown
	case errors.Is(err, io.EOF):
		return ReasonEOF
	case errors.Is(err, ErrLineTooLong):
		s.log.Warn("line exceeds limit", logx.Int("max_line_bytes", s.h.options().MaxLineBytes))
		return ReasonError
	default:
		return ReasonError
	}
}

// finish runs the Closing -> Closed transition at most once. A member that
// was already removed by the Broadcaster still gets its leave notice here,
// so every joined connection produces exactly one.
func (s *Session) finish(ctx context.Context, reason string) {
	s.finishOnce.Do(func() {
		s.setState(StateClosing)

		_, removed := s.h.reg.Remove(s.id)
		switch {
		case ctx.Err() != nil:
			reason = ReasonShutdown
		case !removed:
			reason = ReasonEvicted
		}
		if reason != ReasonShutdown {
			s.h.bc.Broadcast(LeaveNotice(s.Name()), s.id)
		}
		_ = s.conn.Close()
		s.setState(StateClosed)

		ev := s.event(reason)
		s.log.Info("member left", logx.String("reason", reason), logx.Duration("duration", ev.Duration))
		s.h.publish(eventbus.TypeLeft, ev)
	})
}

func (s *Session) event(reason string) SessionEvent {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ev := SessionEvent{
		ID:        s.id,
		Name:      s.name,
		Remote:    s.remote,
		Transport: s.conn.Transport(),
		Reason:    reason,
	}
	if reason != "" && !s.joinedAt.IsZero() {
		ev.Duration = s.h.now().Sub(s.joinedAt)
	}
	return ev
}
