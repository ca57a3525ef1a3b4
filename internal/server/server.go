// Package server hosts the receiver side's TCP accept loop. Grounded on
// the teacher's internal/server.Server: functional options, Ready()/Errors()
// channels, atomic counters, and graceful Shutdown are all kept; the
// multi-client hub/handshake/batching machinery is dropped because
// spec.md's single-peer design (§4.7, §9) means a receiver hosts exactly
// one active session at a time, enforced here as maxSessions defaulting
// to 1 rather than a configurable fan-out cap.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/kstaniek/linkarq/internal/logging"
	"github.com/kstaniek/linkarq/internal/metrics"
)

// SessionFunc runs one receiver session to completion over conn. It
// should return when the session ends (peer closed the connection,
// protocol violation, or ctx cancellation) and must not retain conn
// afterward.
type SessionFunc func(ctx context.Context, conn net.Conn) error

// Server owns the TCP listener and runs sessions one at a time.
type Server struct {
	mu          sync.RWMutex
	addr        string
	Session     SessionFunc
	maxSessions int

	readyOnce sync.Once
	readyCh   chan struct{}
	lastErrMu sync.Mutex
	lastErr   error
	errCh     chan error
	listener  net.Listener
	activeMu  sync.Mutex
	active    int
	wg        sync.WaitGroup
	logger    *slog.Logger

	nextConnID     uint64
	totalAccepted  atomic.Uint64
	totalRejected  atomic.Uint64
	totalSessions  atomic.Uint64
	totalSessErr   atomic.Uint64
}

type ServerOption func(*Server)

func NewServer(opts ...ServerOption) *Server {
	s := &Server{
		maxSessions: 1,
		readyCh:     make(chan struct{}),
		errCh:       make(chan error, 1),
		logger:      logging.L(),
	}
	for _, o := range opts {
		o(s)
	}
	if s.addr == "" {
		s.addr = ":0"
	}
	return s
}

func WithListenAddr(a string) ServerOption      { return func(s *Server) { s.addr = a } }
func WithSession(fn SessionFunc) ServerOption   { return func(s *Server) { s.Session = fn } }
func WithLogger(l *slog.Logger) ServerOption    { return func(s *Server) { if l != nil { s.logger = l } } }
func WithMaxSessions(n int) ServerOption {
	return func(s *Server) {
		if n > 0 {
			s.maxSessions = n
		}
	}
}

func (s *Server) Addr() string           { s.mu.RLock(); defer s.mu.RUnlock(); return s.addr }
func (s *Server) setAddr(a string)       { s.mu.Lock(); s.addr = a; s.mu.Unlock() }
func (s *Server) Ready() <-chan struct{} { return s.readyCh }
func (s *Server) Errors() <-chan error   { return s.errCh }

func (s *Server) setError(err error) {
	if err == nil {
		return
	}
	s.lastErrMu.Lock()
	s.lastErr = err
	s.lastErrMu.Unlock()
	select {
	case s.errCh <- err:
	default:
	}
}
func (s *Server) LastError() error { s.lastErrMu.Lock(); defer s.lastErrMu.Unlock(); return s.lastErr }

// Serve accepts TCP connections and runs one session per connection,
// rejecting new connections while maxSessions are already active.
func (s *Server) Serve(ctx context.Context) error {
	s.mu.Lock()
	addr := s.addr
	if addr == "" {
		addr = ":0"
	}
	s.mu.Unlock()
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		wrap := fmt.Errorf("%w: %v", ErrListen, err)
		metrics.IncError(mapErrToMetric(wrap))
		s.setError(wrap)
		return wrap
	}
	s.setAddr(ln.Addr().String())
	s.mu.Lock()
	s.listener = ln
	s.mu.Unlock()
	s.readyOnce.Do(func() { close(s.readyCh) })
	s.logger.Info("tcp_listen", "addr", s.Addr())
	go func() { <-ctx.Done(); _ = ln.Close() }()
	for {
		if err := s.acceptOnce(ctx, ln); err != nil {
			if errors.Is(err, context.Canceled) || ctx.Err() != nil {
				return nil
			}
			return err
		}
	}
}

func (s *Server) acceptOnce(ctx context.Context, ln net.Listener) error {
	conn, err := ln.Accept()
	if err != nil {
		select {
		case <-ctx.Done():
			return context.Canceled
		default:
		}
		if ne, ok := err.(net.Error); ok && ne.Timeout() {
			time.Sleep(200 * time.Millisecond)
			return nil
		}
		wrap := fmt.Errorf("%w: %v", ErrAccept, err)
		metrics.IncError(mapErrToMetric(wrap))
		s.setError(wrap)
		return wrap
	}
	s.totalAccepted.Add(1)
	connID := atomic.AddUint64(&s.nextConnID, 1)
	connLogger := s.logger.With("conn_id", connID, "remote", conn.RemoteAddr().String())

	s.activeMu.Lock()
	if s.active >= s.maxSessions {
		s.activeMu.Unlock()
		s.totalRejected.Add(1)
		metrics.IncError(metrics.ErrSessionLimit)
		connLogger.Warn("session_reject_max", "max_sessions", s.maxSessions)
		_ = conn.Close()
		return nil
	}
	s.active++
	s.activeMu.Unlock()

	s.totalSessions.Add(1)
	connLogger.Info("session_accepted")
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer func() {
			_ = conn.Close()
			s.activeMu.Lock()
			s.active--
			s.activeMu.Unlock()
			connLogger.Info("session_ended")
		}()
		if s.Session == nil {
			return
		}
		if err := s.Session(ctx, conn); err != nil {
			s.totalSessErr.Add(1)
			wrap := fmt.Errorf("%w: %v", ErrSession, err)
			metrics.IncError(mapErrToMetric(wrap))
			s.setError(wrap)
			connLogger.Error("session_error", "error", err)
		}
	}()
	return nil
}

// Shutdown gracefully closes the listener and waits for in-flight sessions.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	ln := s.listener
	s.listener = nil
	s.mu.Unlock()
	if ln != nil {
		_ = ln.Close()
	}
	done := make(chan struct{})
	go func() { s.wg.Wait(); close(done) }()
	select {
	case <-ctx.Done():
		return fmt.Errorf("%w: shutdown timeout: %v", ErrContext, ctx.Err())
	case <-done:
		s.logger.Info("shutdown_summary",
			"accepted", s.totalAccepted.Load(),
			"rejected", s.totalRejected.Load(),
			"sessions", s.totalSessions.Load(),
			"session_errors", s.totalSessErr.Load())
		return nil
	}
}
