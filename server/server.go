// Package server implements the minicache TCP server.
//
// The server accepts persistent client connections, splits each byte stream
// into request frames with a Framer, runs every frame against a shared
// store.Store with Dispatch and writes the responses back in request order.
//
// Each connection is served by its own goroutine. Connection slots are
// bounded: an accepted connection takes a session (read buffer, framer and
// response buffer) from a fixed-size pool, and is refused with an ERROR line
// when none is left.
//
// Example usage:
//
//	st := store.New()
//	defer st.Close()
//
//	srv, err := server.New(st, server.WithLogger(logger))
//	if err != nil {
//		return err
//	}
//	go srv.ListenAndServe(ctx, ":11211")
//
//	// Later
//	srv.Shutdown(shutdownCtx)
package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/puddle/v2"
	"go.uber.org/zap"

	"github.com/pior/minicache/internal/coarsetime"
	"github.com/pior/minicache/protocol"
	"github.com/pior/minicache/store"
)

// Server defaults
const (
	DefaultPort            = 11211
	DefaultMaxConns        = 1024
	DefaultWriteTimeout    = 10 * time.Second
	DefaultReadBufferSize  = 16 * 1024
	defaultShutdownTimeout = 5 * time.Second
	rejectWriteTimeout     = time.Second
	acceptRetryDelay       = 5 * time.Millisecond
	maxAcceptRetryDelay    = time.Second
)

// ErrServerClosed is returned by Serve and ListenAndServe after Shutdown.
var ErrServerClosed = errors.New("minicache: server closed")

// Option configures a Server.
type Option func(*Server)

// WithLogger sets the logger. The default logger discards everything.
func WithLogger(logger *zap.Logger) Option {
	return func(s *Server) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithMaxConns bounds the number of concurrently served connections.
func WithMaxConns(n int) Option {
	return func(s *Server) {
		if n > 0 {
			s.maxConns = n
		}
	}
}

// WithIdleTimeout closes connections that send nothing for d. Zero disables it.
func WithIdleTimeout(d time.Duration) Option {
	return func(s *Server) {
		if d >= 0 {
			s.idleTimeout = d
		}
	}
}

// WithWriteTimeout bounds the time spent writing a response. Zero disables it.
func WithWriteTimeout(d time.Duration) Option {
	return func(s *Server) {
		if d >= 0 {
			s.writeTimeout = d
		}
	}
}

// WithMaxValueLength sets the largest accepted data block, up to
// protocol.MaxDataLength.
func WithMaxValueLength(n int) Option {
	return func(s *Server) {
		if n > 0 {
			s.maxValue = min(n, protocol.MaxDataLength)
		}
	}
}

// WithMetrics records command and connection metrics in m.
func WithMetrics(m *Metrics) Option {
	return func(s *Server) {
		s.metrics = m
	}
}

// ConnStats is a snapshot of the connection counters of a Server.
type ConnStats struct {
	Current  int64  // Connections being served
	Total    uint64 // Connections accepted and served
	Rejected uint64 // Connections refused because every slot was busy
}

// session is the per-connection state, reused across connections.
type session struct {
	framer  *Framer
	readBuf []byte
	out     []byte
}

func (sess *session) reset() {
	sess.framer.Reset()
	if cap(sess.out) > DefaultReadBufferSize*4 {
		sess.out = nil
	}
	sess.out = sess.out[:0]
}

// Server serves the text protocol on top of a store.Store.
type Server struct {
	store        *store.Store
	logger       *zap.Logger
	metrics      *Metrics
	maxConns     int
	idleTimeout  time.Duration
	writeTimeout time.Duration
	maxValue     int

	sessions     *puddle.Pool[*session]
	acquireMu    sync.Mutex
	sessionsOnce sync.Once

	mu        sync.Mutex
	closed    bool
	listeners map[net.Listener]struct{}
	conns     map[net.Conn]struct{}
	wg        sync.WaitGroup

	connsCurrent  atomic.Int64
	connsTotal    atomic.Uint64
	connsRejected atomic.Uint64
}

// New creates a Server backed by st. The caller keeps ownership of st.
func New(st *store.Store, opts ...Option) (*Server, error) {
	s := &Server{
		store:        st,
		logger:       zap.NewNop(),
		maxConns:     DefaultMaxConns,
		writeTimeout: DefaultWriteTimeout,
		maxValue:     protocol.MaxValueLength,
		listeners:    make(map[net.Listener]struct{}),
		conns:        make(map[net.Conn]struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}

	sessions, err := puddle.NewPool(&puddle.Config[*session]{
		Constructor: func(ctx context.Context) (*session, error) {
			return &session{
				framer:  NewFramer(s.maxValue),
				readBuf: make([]byte, DefaultReadBufferSize),
			}, nil
		},
		Destructor: func(*session) {},
		MaxSize:    int32(s.maxConns),
	})
	if err != nil {
		return nil, fmt.Errorf("minicache: create session pool: %w", err)
	}
	s.sessions = sessions

	return s, nil
}

// Start serves a fresh store on port until ctx is done, then shuts down.
func Start(ctx context.Context, port int, opts ...Option) error {
	st := store.New()
	defer st.Close()

	srv, err := New(st, opts...)
	if err != nil {
		return err
	}

	err = srv.ListenAndServe(ctx, net.JoinHostPort("", strconv.Itoa(port)))

	shutdownCtx, cancel := context.WithTimeout(context.Background(), defaultShutdownTimeout)
	defer cancel()
	if serr := srv.Shutdown(shutdownCtx); serr != nil && err == nil {
		err = serr
	}
	return err
}

// ListenAndServe listens on the TCP address addr and calls Serve.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	var lc net.ListenConfig
	ln, err := lc.Listen(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("minicache: listen on %s: %w", addr, err)
	}
	return s.Serve(ctx, ln)
}

// Serve accepts connections on ln until ctx is done or Shutdown is called.
// ln is closed on return. Serve returns nil when ctx ends, ErrServerClosed
// after Shutdown and the accept error otherwise.
//
// Connections already being served are not interrupted by ctx; use Shutdown.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	if !s.trackListener(ln, true) {
		_ = ln.Close()
		return ErrServerClosed
	}
	defer s.trackListener(ln, false)
	defer ln.Close()

	stop := context.AfterFunc(ctx, func() { _ = ln.Close() })
	defer stop()

	s.logger.Info("listening", zap.String("addr", ln.Addr().String()))

	var delay time.Duration
	for {
		conn, err := ln.Accept()
		if err != nil {
			if s.isClosed() {
				return ErrServerClosed
			}
			if ctx.Err() != nil {
				return nil
			}

			var ne net.Error
			if errors.As(err, &ne) && ne.Timeout() {
				delay = min(max(delay*2, acceptRetryDelay), maxAcceptRetryDelay)
				s.logger.Warn("accept failed, retrying", zap.Error(err), zap.Duration("delay", delay))
				time.Sleep(delay)
				continue
			}
			return fmt.Errorf("minicache: accept: %w", err)
		}
		delay = 0

		s.accept(ctx, conn)
	}
}

// Shutdown stops every listener, closes every connection and waits for
// their handlers to return, or for ctx to be done.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	s.closed = true
	for ln := range s.listeners {
		_ = ln.Close()
	}
	for conn := range s.conns {
		_ = conn.Close()
	}
	s.mu.Unlock()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		s.sessionsOnce.Do(s.sessions.Close)
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Stats returns the connection counters.
func (s *Server) Stats() ConnStats {
	return ConnStats{
		Current:  s.connsCurrent.Load(),
		Total:    s.connsTotal.Load(),
		Rejected: s.connsRejected.Load(),
	}
}

// Store returns the store served by s.
func (s *Server) Store() *store.Store {
	return s.store
}

func (s *Server) accept(ctx context.Context, conn net.Conn) {
	res, err := s.acquireSession(ctx)
	if err != nil {
		s.reject(conn, err)
		return
	}

	if !s.trackConn(conn) {
		res.Release()
		_ = conn.Close()
		return
	}

	s.connsCurrent.Add(1)
	s.connsTotal.Add(1)
	s.metrics.connOpened()

	go func() {
		defer s.wg.Done()
		defer s.untrackConn(conn)
		defer func() {
			s.connsCurrent.Add(-1)
			s.metrics.connClosed()
		}()
		defer res.Release()

		s.handleConn(conn, res.Value())
	}()
}

var errNoSlot = errors.New("too many connections")

// acquireSession takes a free session without waiting for one to be released.
func (s *Server) acquireSession(ctx context.Context) (*puddle.Resource[*session], error) {
	s.acquireMu.Lock()
	defer s.acquireMu.Unlock()

	if s.sessions.Stat().AcquiredResources() >= int32(s.maxConns) {
		return nil, errNoSlot
	}
	return s.sessions.Acquire(ctx)
}

func (s *Server) reject(conn net.Conn, reason error) {
	s.connsRejected.Add(1)
	s.metrics.connRejected()

	s.logger.Warn("rejecting connection",
		zap.String("remote", conn.RemoteAddr().String()),
		zap.Error(reason),
	)

	_ = conn.SetWriteDeadline(time.Now().Add(rejectWriteTimeout))
	_, _ = conn.Write(protocol.AppendError(nil, errNoSlot.Error(), protocol.CRLF))
	_ = conn.Close()
}

func (s *Server) handleConn(conn net.Conn, sess *session) {
	defer conn.Close()

	clientID := uuid.NewString()
	log := s.logger.With(
		zap.String("remote", conn.RemoteAddr().String()),
		zap.String("client_id", clientID),
	)
	log.Debug("connection opened")
	defer log.Debug("connection closed")

	sess.reset()

	for {
		if s.idleTimeout > 0 {
			_ = conn.SetReadDeadline(coarsetime.Now().Add(s.idleTimeout))
		}

		n, err := conn.Read(sess.readBuf)
		if n > 0 {
			sess.framer.Feed(sess.readBuf[:n])

			sess.out = sess.out[:0]
			for {
				frame, ok := sess.framer.Next()
				if !ok {
					break
				}
				var status protocol.Status
				sess.out, status = Dispatch(s.store, frame, clientID, sess.out)
				s.metrics.recordCommand(frame.Verb, status)
			}

			if len(sess.out) > 0 {
				if s.writeTimeout > 0 {
					_ = conn.SetWriteDeadline(coarsetime.Now().Add(s.writeTimeout))
				}
				if _, werr := conn.Write(sess.out); werr != nil {
					if !s.isClosed() {
						log.Warn("write failed", zap.Error(werr))
					}
					return
				}
			}
		}

		if err != nil {
			if !errors.Is(err, io.EOF) && !s.isClosed() {
				log.Debug("read failed", zap.Error(err))
			}
			return
		}
	}
}

func (s *Server) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

func (s *Server) trackListener(ln net.Listener, add bool) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if add {
		if s.closed {
			return false
		}
		s.listeners[ln] = struct{}{}
	} else {
		delete(s.listeners, ln)
	}
	return true
}

// trackConn registers conn and its handler goroutine, unless the server
// is shutting down.
func (s *Server) trackConn(conn net.Conn) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return false
	}
	s.conns[conn] = struct{}{}
	s.wg.Add(1)
	return true
}

func (s *Server) untrackConn(conn net.Conn) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.conns, conn)
}
