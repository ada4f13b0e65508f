package metrics

import (
	"context"
	"errors"
	"net"
	"net/http"
	"sync"
	"time"

	"jobloop/pkg/logx"
)

type ServerConfig struct {
	Enabled bool
	Addr    string
}

func (c ServerConfig) withDefaults() ServerConfig {
	if c.Addr == "" {
		c.Addr = "127.0.0.1:9090"
	}
	return c
}

// Server runs the /metrics listener and can be re-applied on config change.
type Server struct {
	mu   sync.Mutex
	m    *Metrics
	log  logx.Logger
	srv  *http.Server
	ln   net.Listener
	addr string
	want string
}

func NewServer(m *Metrics, log logx.Logger) *Server {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Server{m: m, log: log.With(logx.String("comp", "metrics"))}
}

// Apply starts, moves or stops the listener to match cfg.
func (s *Server) Apply(ctx context.Context, cfg ServerConfig) error {
	cfg = cfg.withDefaults()

	s.mu.Lock()
	defer s.mu.Unlock()

	if !cfg.Enabled {
		s.stopLocked(ctx)
		return nil
	}
	if s.srv != nil && s.want == cfg.Addr {
		return nil
	}
	s.stopLocked(ctx)
	return s.startLocked(cfg)
}

func (s *Server) startLocked(cfg ServerConfig) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", s.m.Handler())

	ln, err := net.Listen("tcp", cfg.Addr)
	if err != nil {
		s.log.Warn("metrics listen failed", logx.String("addr", cfg.Addr), logx.Err(err))
		return err
	}
	srv := &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	s.srv = srv
	s.ln = ln
	s.want = cfg.Addr
	s.addr = ln.Addr().String()

	addr := s.addr
	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log.Warn("metrics server error", logx.String("addr", addr), logx.Err(err))
		}
	}()
	s.log.Info("metrics enabled", logx.String("addr", addr))
	return nil
}

func (s *Server) Stop(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopLocked(ctx)
}

func (s *Server) stopLocked(ctx context.Context) {
	if s.srv == nil {
		return
	}
	srv, ln, addr := s.srv, s.ln, s.addr
	s.srv, s.ln, s.addr, s.want = nil, nil, "", ""

	if ctx == nil || ctx.Err() != nil {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
	}
	if err := srv.Shutdown(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		s.log.Warn("metrics shutdown error", logx.String("addr", addr), logx.Err(err))
	}
	_ = ln.Close()
	s.log.Info("metrics disabled", logx.String("addr", addr))
}

// Addr reports the bound address while running.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.addr
}
