// Package pprof runs the optional operations HTTP server: liveness, chat
// stats as JSON, and net/http/pprof under a configurable prefix.
package pprof

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	hpprof "net/http/pprof"
	"runtime"
	"strings"
	"sync"
	"time"

	"linechat/internal/runtime/supervisor"
	"linechat/pkg/logx"
)

const (
	DefaultAddr   = "127.0.0.1:6060"
	DefaultPrefix = "/debug/pprof/"
)

// Config controls the ops server.
//
// A non-loopback Addr requires Token or AllowInsecure.
type Config struct {
	Enabled       bool
	Addr          string
	Prefix        string
	Token         string
	AllowInsecure bool

	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration

	MutexProfileFraction int
	BlockProfileRate     int
	MemProfileRate       int
}

// StatsFunc produces the /stats document. It must be safe for concurrent use.
type StatsFunc func() any

type Service struct {
	log   logx.Logger
	stats StatsFunc

	mu       sync.Mutex
	cfg      Config
	ln       net.Listener
	srv      *http.Server
	sup      *supervisor.Supervisor
	stopDone chan struct{}
	bound    chan struct{}
}

func New(cfg Config, log logx.Logger, stats StatsFunc) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Service{cfg: cfg, log: log.With(logx.String("comp", "ops")), stats: stats}
}

func (s *Service) Enabled() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cfg.Enabled
}

// Addr returns the bound address, or "" when not serving.
func (s *Service) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ln == nil {
		return ""
	}
	return s.ln.Addr().String()
}

// Reconfigure applies cfg, starting, stopping or restarting the server as
// needed. Safe to call from the hot-reload path.
func (s *Service) Reconfigure(ctx context.Context, cfg Config) {
	applyRuntimeRates(cfg)

	s.mu.Lock()
	prev := s.cfg
	running := s.sup != nil
	s.cfg = cfg
	s.mu.Unlock()

	switch {
	case !cfg.Enabled:
		if running {
			s.Stop(ctx)
		}
	case !running:
		s.Start(ctx)
	case needsRestart(prev, cfg):
		s.Stop(ctx)
		s.Start(ctx)
	}
}

func needsRestart(a, b Config) bool {
	return a.Addr != b.Addr ||
		normalizePrefix(a.Prefix) != normalizePrefix(b.Prefix) ||
		a.Token != b.Token ||
		a.AllowInsecure != b.AllowInsecure ||
		a.ReadTimeout != b.ReadTimeout ||
		a.WriteTimeout != b.WriteTimeout ||
		a.IdleTimeout != b.IdleTimeout
}

func applyRuntimeRates(cfg Config) {
	if cfg.MutexProfileFraction >= 0 {
		runtime.SetMutexProfileFraction(cfg.MutexProfileFraction)
	}
	if cfg.BlockProfileRate >= 0 {
		runtime.SetBlockProfileRate(cfg.BlockProfileRate)
	}
	if cfg.MemProfileRate > 0 {
		runtime.MemProfileRate = cfg.MemProfileRate
	}
}

// Start is idempotent. It returns once the listener is bound or the first
// attempt failed.
func (s *Service) Start(ctx context.Context) {
	if ctx == nil {
		ctx = context.Background()
	}
	for {
		s.mu.Lock()
		if done := s.stopDone; done != nil {
			s.mu.Unlock()
			select {
			case <-done:
				continue
			case <-ctx.Done():
				return
			}
		}
		if s.sup != nil || !s.cfg.Enabled {
			s.mu.Unlock()
			return
		}
		s.sup = supervisor.New(context.WithoutCancel(ctx),
			supervisor.WithLogger(s.log),
			// The ops server is optional; it never takes the process down.
			supervisor.WithCancelOnError(false),
		)
		sup := s.sup
		bound := make(chan struct{})
		s.bound = bound
		s.mu.Unlock()

		sup.GoRestart("http.serve", s.serveOnce,
			supervisor.WithPublishFirstError(true),
			supervisor.WithRestartBackoff(500*time.Millisecond, 10*time.Second),
		)
		select {
		case <-bound:
		case <-time.After(time.Second):
		case <-ctx.Done():
		}
		return
	}
}

func (s *Service) Stop(ctx context.Context) {
	if ctx == nil {
		ctx = context.Background()
	}

	s.mu.Lock()
	if s.sup == nil {
		s.mu.Unlock()
		return
	}
	if done := s.stopDone; done != nil {
		s.mu.Unlock()
		select {
		case <-done:
		case <-ctx.Done():
		}
		return
	}
	done := make(chan struct{})
	s.stopDone = done
	srv, ln, sup := s.srv, s.ln, s.sup
	s.mu.Unlock()

	go func() {
		defer close(done)
		if srv != nil {
			_ = srv.Shutdown(ctx)
			_ = srv.Close()
		}
		if ln != nil {
			_ = ln.Close()
		}
		sup.Cancel()
		_ = sup.Wait(context.Background())

		s.mu.Lock()
		s.ln, s.srv, s.sup, s.stopDone = nil, nil, nil, nil
		s.mu.Unlock()
		s.log.Info("ops server stopped")
	}()

	select {
	case <-done:
	case <-ctx.Done():
		sup.Cancel()
	}
}

func (s *Service) serveOnce(ctx context.Context) error {
	s.mu.Lock()
	cur := s.cfg
	bound := s.bound
	s.mu.Unlock()

	if !cur.Enabled {
		return nil
	}

	addr := strings.TrimSpace(cur.Addr)
	if addr == "" {
		addr = DefaultAddr
	}
	if cur.Token == "" && !isLoopbackAddr(addr) {
		if !cur.AllowInsecure {
			s.log.Error("ops server refused to start: non-loopback addr requires token or allow_insecure", logx.String("addr", addr))
			return errors.New("ops server refused to start: insecure bind")
		}
		s.log.Warn("ops server running without token on non-loopback addr", logx.String("addr", addr))
	}

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		s.log.Error("ops server listen failed", logx.String("addr", addr), logx.Err(err))
		if ctx.Err() != nil {
			return nil
		}
		return err
	}
	defer func() { _ = ln.Close() }()

	srv := &http.Server{
		Handler:           s.routes(cur),
		ReadTimeout:       cur.ReadTimeout,
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      cur.WriteTimeout,
		IdleTimeout:       cur.IdleTimeout,
	}
	defer func() { _ = srv.Close() }()

	s.mu.Lock()
	s.ln, s.srv = ln, srv
	s.mu.Unlock()
	if bound != nil {
		select {
		case <-bound:
		default:
			close(bound)
		}
	}

	stop := context.AfterFunc(ctx, func() {
		cctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(cctx)
	})
	defer stop()

	s.log.Info("ops server started",
		logx.String("addr", ln.Addr().String()),
		logx.String("prefix", normalizePrefix(cur.Prefix)),
		logx.Bool("token_set", cur.Token != ""),
	)
	err = srv.Serve(ln)

	s.mu.Lock()
	if s.srv == srv {
		s.srv, s.ln = nil, nil
	}
	stopping := s.stopDone != nil
	s.mu.Unlock()

	if stopping || ctx.Err() != nil {
		return nil
	}
	if err == nil || errors.Is(err, http.ErrServerClosed) {
		return errors.New("ops server exited unexpectedly")
	}
	return err
}

func (s *Service) routes(cur Config) http.Handler {
	prefix := normalizePrefix(cur.Prefix)
	base := strings.TrimSuffix(prefix, "/")
	wrap := func(h http.HandlerFunc) http.HandlerFunc { return withAuth(cur.Token, h) }

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", wrap(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("ok"))
	}))
	mux.HandleFunc("/stats", wrap(s.handleStats))

	mux.HandleFunc(prefix, wrap(pprofIndexAt(prefix)))
	mux.HandleFunc(base+"/cmdline", wrap(hpprof.Cmdline))
	mux.HandleFunc(base+"/profile", wrap(hpprof.Profile))
	mux.HandleFunc(base+"/symbol", wrap(hpprof.Symbol))
	mux.HandleFunc(base+"/trace", wrap(hpprof.Trace))
	mux.HandleFunc(base, func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, prefix, http.StatusPermanentRedirect)
	})
	return mux
}

func (s *Service) handleStats(w http.ResponseWriter, r *http.Request) {
	var doc any = struct{}{}
	if s.stats != nil {
		doc = s.stats()
	}
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(doc); err != nil {
		s.log.Debug("stats encode failed", logx.Err(err))
	}
}

// withAuth accepts "Authorization: Bearer <token>" or "?token=<token>".
func withAuth(token string, h http.HandlerFunc) http.HandlerFunc {
	tok := strings.TrimSpace(token)
	if tok == "" {
		return h
	}
	return func(w http.ResponseWriter, r *http.Request) {
		got := r.URL.Query().Get("token")
		if got == "" {
			if ah := r.Header.Get("Authorization"); strings.HasPrefix(ah, "Bearer ") {
				got = strings.TrimSpace(strings.TrimPrefix(ah, "Bearer "))
			}
		}
		if got != tok {
			w.Header().Set("WWW-Authenticate", "Bearer")
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		h(w, r)
	}
}

func normalizePrefix(prefix string) string {
	p := strings.TrimSpace(prefix)
	if p == "" {
		p = DefaultPrefix
	}
	if !strings.HasPrefix(p, "/") {
		p = "/" + p
	}
	if !strings.HasSuffix(p, "/") {
		p += "/"
	}
	return p
}

// pprof.Index assumes it is mounted at /debug/pprof/, so rewrite the path.
func pprofIndexAt(prefix string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r2 := r.Clone(r.Context())
		r2.URL.Path = DefaultPrefix + strings.TrimPrefix(r.URL.Path, prefix)
		hpprof.Index(w, r2)
	}
}

func isLoopbackAddr(addr string) bool {
	h, _, err := net.SplitHostPort(addr)
	if err != nil {
		return false
	}
	h = strings.TrimSpace(h)
	if h == "" {
		return false
	}
	if strings.EqualFold(h, "localhost") {
		return true
	}
	ip := net.ParseIP(h)
	return ip != nil && ip.IsLoopback()
}
