package chatserver

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"
	"time"
)

// Config holds the client server configuration.
type Config struct {
	// Address is the listen address, e.g. ":5050".
	Address string
	// MaxConnections is the ceiling on registered local sessions.
	MaxConnections int
	// PoolSize caps the handlers in use (default: MaxConnections).
	PoolSize int
	// IdleTimeout closes connections that send nothing for this long.
	IdleTimeout time.Duration
	// WriteTimeout bounds each frame write.
	WriteTimeout time.Duration
	// MaxLineBytes caps one client line.
	MaxLineBytes int
	// CommandRate and CommandBurst shape the per-connection command limiter.
	CommandRate  float64
	CommandBurst int
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Address:        ":5050",
		MaxConnections: 5,
		IdleTimeout:    5 * time.Minute,
		WriteTimeout:   10 * time.Second,
		MaxLineBytes:   8 << 20,
		CommandRate:    50,
		CommandBurst:   100,
	}
}

func (c *Config) withDefaults() *Config {
	d := DefaultConfig()
	out := *c
	if out.MaxConnections <= 0 {
		out.MaxConnections = d.MaxConnections
	}
	if out.PoolSize <= 0 {
		out.PoolSize = out.MaxConnections
	}
	if out.MaxLineBytes <= 0 {
		out.MaxLineBytes = d.MaxLineBytes
	}
	if out.CommandRate <= 0 {
		out.CommandRate = d.CommandRate
	}
	if out.CommandBurst <= 0 {
		out.CommandBurst = d.CommandBurst
	}
	return &out
}

// Server accepts client sockets and hands them to pooled handlers.
type Server struct {
	cfg      *Config
	deps     *Deps
	pool     *HandlerPool
	sessions Sessions
	metrics  Metrics
	logger   *slog.Logger

	ln      net.Listener
	running atomic.Bool
	acceptW sync.WaitGroup
	connW   sync.WaitGroup
	active  sync.Map // *Conn -> struct{}
}

// New creates a server. deps.Sessions is also used for admission control.
func New(cfg *Config, deps *Deps) *Server {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	cfg = cfg.withDefaults()
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.Metrics == nil {
		deps.Metrics = noopMetrics{}
	}
	deps.cfg = cfg

	return &Server{
		cfg:      cfg,
		deps:     deps,
		pool:     NewHandlerPool(deps, cfg.PoolSize),
		sessions: deps.Sessions,
		metrics:  deps.Metrics,
		logger:   deps.Logger.With("component", "chat-server"),
	}
}

// Start binds the listen address and runs the accept loop in the
// background. A bind failure is returned to the caller.
func (s *Server) Start(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.cfg.Address)
	if err != nil {
		return fmt.Errorf("listen %s: %w", s.cfg.Address, err)
	}
	s.ln = ln
	s.running.Store(true)
	s.logger.Info("chat server listening", "address", ln.Addr().String(),
		"max_connections", s.cfg.MaxConnections, "pool_size", s.cfg.PoolSize)

	s.acceptW.Add(1)
	go func() {
		defer s.acceptW.Done()
		if err := s.acceptLoop(ctx, ln); err != nil {
			s.logger.Error("accept loop stopped", "error", err)
		}
	}()
	return nil
}

// Addr returns the bound address, or nil before Start.
func (s *Server) Addr() net.Addr {
	if s.ln == nil {
		return nil
	}
	return s.ln.Addr()
}

// Pool returns the handler pool.
func (s *Server) Pool() *HandlerPool { return s.pool }

// Shutdown stops accepting, closes connections still open and waits for
// their handlers to exit or ctx to expire.
func (s *Server) Shutdown(ctx context.Context) error {
	if !s.running.CompareAndSwap(true, false) {
		return nil
	}
	var firstErr error
	if err := s.ln.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
		firstErr = err
	}
	s.acceptW.Wait()

	s.active.Range(func(k, _ any) bool {
		_ = k.(*Conn).Close()
		return true
	})

	done := make(chan struct{})
	go func() {
		s.connW.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		return ctx.Err()
	}
	s.logger.Info("chat server stopped")
	return firstErr
}

func (s *Server) acceptLoop(ctx context.Context, ln net.Listener) error {
	var backoff time.Duration
	for {
		c, err := ln.Accept()
		if err != nil {
			if !s.running.Load() || errors.Is(err, net.ErrClosed) {
				return nil
			}
			select {
			case <-ctx.Done():
				return nil
			default:
			}
			var ne net.Error
			if errors.As(err, &ne) && ne.Timeout() {
				backoff = min(max(2*backoff, 5*time.Millisecond), time.Second)
				s.logger.Warn("accept error, retrying", "error", err, "delay", backoff)
				time.Sleep(backoff)
				continue
			}
			return err
		}
		backoff = 0
		s.admit(ctx, c)
	}
}

// admit registers and serves c, or rejects it when the registry is at the
// connection ceiling or the pool is exhausted. It runs on the accept
// goroutine so the ceiling check and the registration cannot interleave.
func (s *Server) admit(ctx context.Context, c net.Conn) {
	conn := newConn(c, s.cfg.WriteTimeout)
	if n := s.sessions.TotalConnections(); n >= s.cfg.MaxConnections {
		s.reject(conn, "rejected_capacity", n)
		return
	}
	h := s.pool.Acquire(conn)
	if h == nil {
		s.reject(conn, "rejected_pool", s.sessions.TotalConnections())
		return
	}
	s.metrics.IncAdmission("accepted")
	s.logger.Debug("connection accepted", "remote", c.RemoteAddr().String(), "session_id", h.SessionID())

	s.active.Store(conn, struct{}{})
	s.connW.Add(1)
	go func() {
		defer s.connW.Done()
		defer s.active.Delete(conn)
		defer s.pool.Release(h)
		h.Serve(ctx)
	}()
}

func (s *Server) reject(conn *Conn, reason string, sessions int) {
	s.metrics.IncAdmission(reason)
	s.logger.Info("connection rejected", "remote", conn.netConn.RemoteAddr().String(),
		"reason", reason, "sessions", sessions, "max_connections", s.cfg.MaxConnections)
	_ = conn.Send(errorFrame(msgServerFull))
	_ = conn.Close()
}
